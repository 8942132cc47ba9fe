// Package db is the SQLite storage of the local backend.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// TimeLayout is fixed width so created_at strings sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var (
	ErrNoTable        = errors.New("relation does not exist")
	ErrNoColumn       = errors.New("unknown column")
	ErrDuplicate      = errors.New("duplicate key")
	ErrConstraint     = errors.New("constraint violation")
	ErrInvalidValue   = errors.New("invalid value")
	ErrConflictTarget = errors.New("no unique constraint matching the conflict target")
)

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens (and creates) the database at path. ":memory:" yields a private
// in-memory database.
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file:sondeo-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps shared-cache sqlite away from SQLITE_LOCKED
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{
		db:  db,
		log: logger,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		s.log.Error("sqlite store: "+prefix, zap.Error(err))
	}
}

func (s *SQLiteStore) stamp() string { return s.now().UTC().Format(TimeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

// mapError translates driver errors into the package's sentinel errors.
func mapError(table string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", ErrDuplicate, se.Error())
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", ErrConstraint, se.Error())
		}
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return err
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Row is one record keyed by column name. Text columns hold strings, JSON
// columns hold json.RawMessage, NULL is nil.
type Row map[string]any

type Filter struct {
	Column string
	Value  string
}

type Query struct {
	Filters []Filter
	Order   string
	Desc    bool
	Limit   int
}

type ConflictMode int

const (
	ConflictError ConflictMode = iota
	ConflictIgnore
	ConflictMerge
)

// Conflict describes upsert behaviour keyed on Column.
type Conflict struct {
	Column string
	Mode   ConflictMode
}

// ColumnError names a column the table does not have. It matches ErrNoColumn.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("%s: %s.%s", ErrNoColumn, e.Table, e.Column)
}

func (e *ColumnError) Is(target error) bool { return target == ErrNoColumn }

type tableSpec struct {
	name      string
	columns   []string
	jsonCols  []string
	unique    []string
	generated bool // id and created_at are filled in when absent
}

var tableSpecs = map[string]tableSpec{
	"profiles": {
		name:    "profiles",
		columns: []string{"id", "email", "role"},
		unique:  []string{"id"},
	},
	"questions": {
		name:      "questions",
		columns:   []string{"id", "text", "type", "options", "created_at"},
		jsonCols:  []string{"options"},
		unique:    []string{"id"},
		generated: true,
	},
	"answers": {
		name:      "answers",
		columns:   []string{"id", "question_id", "user_id", "answer_text", "created_at"},
		unique:    []string{"id"},
		generated: true,
	},
}

func specFor(table string) (tableSpec, error) {
	spec, ok := tableSpecs[table]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return spec, nil
}

func (t tableSpec) has(col string) bool    { return slices.Contains(t.columns, col) }
func (t tableSpec) isJSON(col string) bool { return slices.Contains(t.jsonCols, col) }

func (t tableSpec) where(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if !t.has(f.Column) {
			return "", nil, &ColumnError{Table: t.name, Column: f.Column}
		}
		parts = append(parts, f.Column+" = ?")
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// value converts a decoded JSON value into what the column stores.
func (t tableSpec) value(col string, v any) (any, error) {
	if !t.has(col) {
		return nil, &ColumnError{Table: t.name, Column: col}
	}
	if t.isJSON(col) {
		if v == nil {
			return nil, nil
		}
		if raw, ok := v.(json.RawMessage); ok {
			if string(raw) == "null" {
				return nil, nil
			}
			return string(raw), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, col, err)
		}
		return string(b), nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidValue, col)
	}
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasTable reports whether table is served by the store.
func HasTable(table string) bool {
	_, ok := tableSpecs[table]
	return ok
}

// Columns lists the columns of table in select order, nil for unknown tables.
func Columns(table string) []string {
	return slices.Clone(tableSpecs[table].columns)
}

// Select returns matching rows; ties on the order column keep insertion order.
func (s *SQLiteStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	spec, err := specFor(table)
	if err != nil {
		return nil, err
	}
	where, args, err := spec.where(q.Filters)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT " + strings.Join(spec.columns, ", ") + " FROM " + table + where
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.Order != "" {
		if !spec.has(q.Order) {
			return nil, &ColumnError{Table: table, Column: q.Order}
		}
		stmt += " ORDER BY " + q.Order + " " + dir + ", rowid " + dir
	} else {
		stmt += " ORDER BY rowid"
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapError(table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		vals := make([]sql.NullString, len(spec.columns))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.logErr("scan "+table, err)
			return nil, err
		}
		r := make(Row, len(spec.columns))
		for i, col := range spec.columns {
			switch {
			case !vals[i].Valid:
				r[col] = nil
			case spec.isJSON(col):
				r[col] = json.RawMessage(vals[i].String)
			default:
				r[col] = vals[i].String
			}
		}
		out = append(out, r)
	}
	return out, mapError(table, rows.Err())
}

// Insert stores rows in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rows []Row, c Conflict) (err error) {
	spec, err := specFor(table)
	if err != nil {
		return err
	}
	if c.Column != "" && !slices.Contains(spec.unique, c.Column) {
		return fmt.Errorf("%w: %s", ErrConflictTarget, c.Column)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(table, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, in := range rows {
		r := Row{}
		for k, v := range in {
			cv, err := spec.value(k, v)
			if err != nil {
				return err
			}
			r[k] = cv
		}
		if spec.generated {
			if id, _ := r["id"].(string); id == "" {
				r["id"] = uuid.NewString()
			}
			if ts, _ := r["created_at"].(string); ts == "" {
				r["created_at"] = s.stamp()
			}
		}
		cols := sortedKeys(r)
		args := make([]any, len(cols))
		for i, col := range cols {
			args[i] = r[col]
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table,
			strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		if c.Column != "" {
			stmt += onConflict(c, cols)
		}
		if _, err = tx.ExecContext(ctx, stmt, args...); err != nil {
			return mapError(table, err)
		}
	}
	return mapError(table, tx.Commit())
}

func onConflict(c Conflict, cols []string) string {
	var sets []string
	if c.Mode == ConflictMerge {
		for _, col := range cols {
			if col != c.Column {
				sets = append(sets, col+" = excluded."+col)
			}
		}
	}
	if len(sets) == 0 {
		return " ON CONFLICT(" + c.Column + ") DO NOTHING"
	}
	return " ON CONFLICT(" + c.Column + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// Update sets values on the matching rows and returns how many changed.
func (s *SQLiteStore) Update(ctx context.Context, table string, values Row, filters []Filter) (int64, error) {
	spec, err := specFor(table)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: update requires a filter", ErrInvalidValue)
	}
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for i, col := range cols {
		v, err := spec.value(col, values[col])
		if err != nil {
			return 0, err
		}
		sets[i] = col + " = ?"
		args = append(args, v)
	}
	where, wargs, err := spec.where(filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE "+table+" SET "+strings.Join(sets, ", ")+where, append(args, wargs...)...)
	if err != nil {
		return 0, mapError(table, err)
	}
	return res.RowsAffected()
}

// Delete removes the matching rows and returns how many went.
func (s *SQLiteStore) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	spec, err := specFor(table)
	if err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: delete requires a filter", ErrInvalidValue)
	}
	where, args, err := spec.where(filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+where, args...)
	if err != nil {
		return 0, mapError(table, err)
	}
	return res.RowsAffected()
}

// ProvisionProfile creates the default profile of a new user unless one exists.
func (s *SQLiteStore) ProvisionProfile(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, role) VALUES (?, ?, 'user') ON CONFLICT(id) DO NOTHING`, id, email)
	return mapError("profiles", err)
}

// ProfileRole returns the role stored for id, "" when there is no profile.
func (s *SQLiteStore) ProfileRole(ctx context.Context, id string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = ?`, id).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, mapError("profiles", err)
}

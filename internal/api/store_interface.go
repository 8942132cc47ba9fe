package api

import (
	"context"

	"github.com/soaringjerry/Sondeo/internal/db"
)

// AuthStore keeps accounts, sessions and recovery tokens.
type AuthStore interface {
	CreateUser(ctx context.Context, u *db.AuthUser) error
	UserByEmail(ctx context.Context, email string) (*db.AuthUser, error)
	UserByID(ctx context.Context, id string) (*db.AuthUser, error)
	CreateSession(ctx context.Context, s db.AuthSession) error
	Session(ctx context.Context, id string) (*db.AuthSession, error)
	DeleteSession(ctx context.Context, id string) error
	PurgeExpiredSessions(ctx context.Context) (int64, error)
	CreateRecovery(ctx context.Context, token, userID, redirectTo string) error
}

// TableStore serves the application tables.
type TableStore interface {
	Select(ctx context.Context, table string, q db.Query) ([]db.Row, error)
	Insert(ctx context.Context, table string, rows []db.Row, c db.Conflict) error
	Update(ctx context.Context, table string, values db.Row, filters []db.Filter) (int64, error)
	Delete(ctx context.Context, table string, filters []db.Filter) (int64, error)
	ProvisionProfile(ctx context.Context, id, email string) error
	ProfileRole(ctx context.Context, id string) (string, error)
}

type Store interface {
	AuthStore
	TableStore
}

var _ Store = (*db.SQLiteStore)(nil)

// Package backend defines the contract consumed from the hosted backend: password
// authentication with email recovery, and row access to named collections.
package backend

import (
	"context"
	"time"
)

// User is the backend's own user record. Its ID keys the application profile.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Session is an authenticated session as issued by the auth service.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        User   `json:"user"`
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

type Auth interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp registers an account. Depending on the backend the caller may or may not
	// be signed in afterwards; only the created user is guaranteed.
	SignUp(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email, redirectTo string) error
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
}

type Tables interface {
	// Select decodes the matching rows into dest, which must point to a slice.
	Select(ctx context.Context, table string, q Query, dest any) error
	// Insert stores rows (a struct, map or slice of either) in one request.
	Insert(ctx context.Context, table string, rows any, opts ...InsertOption) error
	Update(ctx context.Context, table string, values map[string]any, filters ...Filter) error
	Delete(ctx context.Context, table string, filters ...Filter) error
}

// Client is everything the application needs from the backend.
// No two calls are atomic with respect to each other.
type Client interface {
	Auth
	Tables
}

// Filter matches rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

func Eq(column, value string) Filter { return Filter{Column: column, Value: value} }

type Order struct {
	Column    string
	Ascending bool
}

type Query struct {
	Filters []Filter
	Order   *Order
	Limit   int
}

// Where builds a query from equality filters.
func Where(filters ...Filter) Query { return Query{Filters: filters} }

func (q Query) OrderBy(column string, ascending bool) Query {
	q.Order = &Order{Column: column, Ascending: ascending}
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// InsertOptions controls conflict handling for Insert.
type InsertOptions struct {
	OnConflict       string
	IgnoreDuplicates bool
}

type InsertOption func(*InsertOptions)

// Upsert turns the insert into insert-or-merge keyed on column. With ignoreDuplicates
// an existing row is left untouched and the call still succeeds.
func Upsert(column string, ignoreDuplicates bool) InsertOption {
	return func(o *InsertOptions) {
		o.OnConflict = column
		o.IgnoreDuplicates = ignoreDuplicates
	}
}

func ApplyInsertOptions(opts []InsertOption) InsertOptions {
	var o InsertOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// SelectAll is a typed convenience around Tables.Select.
func SelectAll[T any](ctx context.Context, t Tables, table string, q Query) ([]T, error) {
	var out []T
	if err := t.Select(ctx, table, q, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// MaybeSingle returns the only matching row, nil when none matches, and an error
// when more than one does.
func MaybeSingle[T any](ctx context.Context, t Tables, table string, q Query) (*T, error) {
	q.Limit = 2
	rows, err := SelectAll[T](ctx, t, table, q)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, &Error{Kind: KindUnknown, Message: "multiple rows returned for single-row query on " + table}
	}
}

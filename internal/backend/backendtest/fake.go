// Package backendtest provides an in-memory backend.Client for tests.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Call records one operation issued against the fake.
type Call struct {
	Op    string
	Table string
	Rows  int
}

// Trigger simulates the backend creating a profile after sign-up.
// The profile becomes visible after AfterPolls selects on the profiles table.
type Trigger struct {
	AfterPolls int
	Role       models.Role
}

type fakeUser struct {
	id       string
	email    string
	password string
}

// Fake is a concurrency-safe, policy-free backend. Row-level security is not modelled;
// use Fail to inject denials.
type Fake struct {
	MinPasswordLength int
	Trigger           *Trigger

	mu       sync.Mutex
	users    map[string]*fakeUser
	session  *backend.Session
	tables   map[string][]map[string]any
	pending  map[string]int
	failures map[string][]error
	calls    []Call
	now      func() time.Time
	seq      int
}

func New() *Fake {
	return &Fake{
		MinPasswordLength: 6,
		users:             map[string]*fakeUser{},
		tables: map[string][]map[string]any{
			models.TableProfiles:  {},
			models.TableQuestions: {},
			models.TableAnswers:   {},
		},
		pending:  map[string]int{},
		failures: map[string][]error{},
		now:      func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

var _ backend.Client = (*Fake)(nil)

// AddUser registers credentials without creating a profile.
func (f *Fake) AddUser(email, password string) backend.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &fakeUser{id: uuid.NewString(), email: email, password: password}
	f.users[strings.ToLower(email)] = u
	return backend.User{ID: u.id, Email: u.email}
}

// SetSession installs a session as if restored from a previous run.
func (f *Fake) SetSession(s *backend.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

// DropTable makes subsequent calls on table fail as a missing relation.
func (f *Fake) DropTable(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, table)
}

// Fail queues err for the next call of op ("signIn", "select", ...) on table ("" for auth).
func (f *Fake) Fail(op, table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + ":" + table
	f.failures[key] = append(f.failures[key], err)
}

// Seed stores a row directly, bypassing call recording.
func (f *Fake) Seed(table string, row any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, err := toRows(row)
	if err != nil {
		panic(err)
	}
	for _, r := range rows {
		f.fillDefaults(table, r)
		f.tables[table] = append(f.tables[table], r)
	}
}

// Rows returns a copy of the stored rows of table.
func (f *Fake) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts recorded calls of op on table; an empty table matches any.
func (f *Fake) CallCount(op, table string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && (table == "" || c.Table == table) {
			n++
		}
	}
	return n
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(op, table string, rows int) error {
	f.calls = append(f.calls, Call{Op: op, Table: table, Rows: rows})
	key := op + ":" + table
	if q := f.failures[key]; len(q) > 0 {
		f.failures[key] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) SignIn(_ context.Context, email, password string) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("signIn", "", 0); err != nil {
		return nil, err
	}
	u, ok := f.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok || u.password != password {
		return nil, backend.NewError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	}
	f.session = f.newSession(u)
	s := *f.session
	return &s, nil
}

func (f *Fake) SignUp(_ context.Context, email, password string) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("signUp", "", 0); err != nil {
		return nil, err
	}
	key := strings.ToLower(strings.TrimSpace(email))
	if _, ok := f.users[key]; ok {
		return nil, backend.NewError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	}
	if len(password) < f.MinPasswordLength {
		return nil, backend.NewError(http.StatusUnprocessableEntity, "weak_password",
			fmt.Sprintf("Password should be at least %d characters.", f.MinPasswordLength))
	}
	u := &fakeUser{id: uuid.NewString(), email: strings.TrimSpace(email), password: password}
	f.users[key] = u
	f.session = f.newSession(u)
	if f.Trigger != nil {
		if f.Trigger.AfterPolls <= 0 {
			f.provision(u.id)
		} else {
			f.pending[u.id] = f.Trigger.AfterPolls
		}
	}
	return &backend.User{ID: u.id, Email: u.email}, nil
}

func (f *Fake) provision(userID string) {
	for _, r := range f.tables[models.TableProfiles] {
		if r["id"] == userID {
			return
		}
	}
	var email string
	for _, u := range f.users {
		if u.id == userID {
			email = u.email
		}
	}
	role := models.RoleUser
	if f.Trigger != nil && f.Trigger.Role != "" {
		role = f.Trigger.Role
	}
	if _, ok := f.tables[models.TableProfiles]; !ok {
		return
	}
	f.tables[models.TableProfiles] = append(f.tables[models.TableProfiles],
		map[string]any{"id": userID, "email": email, "role": string(role)})
}

func (f *Fake) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("signOut", "", 0); err != nil {
		return err
	}
	f.session = nil
	return nil
}

func (f *Fake) ResetPassword(_ context.Context, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("resetPassword", "", 0)
}

func (f *Fake) GetSession(context.Context) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("getSession", "", 0); err != nil {
		return nil, err
	}
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *Fake) newSession(u *fakeUser) *backend.Session {
	now := f.now()
	return &backend.Session{
		AccessToken: uuid.NewString(),
		TokenType:   "bearer",
		ExpiresIn:   3600,
		ExpiresAt:   now.Add(time.Hour).Unix(),
		User:        backend.User{ID: u.id, Email: u.email},
	}
}

func missingRelation(table string) error {
	return backend.NewError(http.StatusNotFound, "42P01", fmt.Sprintf("relation \"public.%s\" does not exist", table))
}

func (f *Fake) Select(_ context.Context, table string, q backend.Query, dest any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("select", table, 0); err != nil {
		return err
	}
	rows, ok := f.tables[table]
	if !ok {
		return missingRelation(table)
	}
	if table == models.TableProfiles {
		for id, left := range f.pending {
			left--
			if left <= 0 {
				delete(f.pending, id)
				f.provision(id)
			} else {
				f.pending[id] = left
			}
		}
		rows = f.tables[table]
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if matches(r, q.Filters) {
			out = append(out, copyRow(r))
		}
	}
	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][col]), fmt.Sprint(out[j][col])
			if asc {
				return a < b
			}
			return a > b
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func (f *Fake) Insert(_ context.Context, table string, rows any, opts ...backend.InsertOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, err := toRows(rows)
	if err != nil {
		return err
	}
	if err := f.record("insert", table, len(in)); err != nil {
		return err
	}
	if _, ok := f.tables[table]; !ok {
		return missingRelation(table)
	}
	o := backend.ApplyInsertOptions(opts)
	for _, r := range in {
		f.fillDefaults(table, r)
		conflictCol := o.OnConflict
		if conflictCol == "" {
			conflictCol = "id"
		}
		idx := -1
		for i, existing := range f.tables[table] {
			if existing[conflictCol] == r[conflictCol] {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			f.tables[table] = append(f.tables[table], r)
		case o.OnConflict == "":
			return backend.NewError(http.StatusConflict, "23505", "duplicate key value violates unique constraint")
		case o.IgnoreDuplicates:
		default:
			for k, v := range r {
				f.tables[table][idx][k] = v
			}
		}
	}
	return nil
}

func (f *Fake) Update(_ context.Context, table string, values map[string]any, filters ...backend.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update", table, 0); err != nil {
		return err
	}
	rows, ok := f.tables[table]
	if !ok {
		return missingRelation(table)
	}
	norm, err := toRows(values)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if matches(r, filters) {
			for k, v := range norm[0] {
				r[k] = v
			}
		}
	}
	return nil
}

func (f *Fake) Delete(_ context.Context, table string, filters ...backend.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete", table, 0); err != nil {
		return err
	}
	rows, ok := f.tables[table]
	if !ok {
		return missingRelation(table)
	}
	kept := rows[:0]
	for _, r := range rows {
		if !matches(r, filters) {
			kept = append(kept, r)
		}
	}
	f.tables[table] = kept
	return nil
}

func (f *Fake) fillDefaults(table string, r map[string]any) {
	if table == models.TableProfiles {
		return
	}
	if id, _ := r["id"].(string); id == "" {
		r["id"] = uuid.NewString()
	}
	if ts, _ := r["created_at"].(string); ts == "" {
		f.seq++
		r["created_at"] = f.now().Add(time.Duration(f.seq) * time.Microsecond).UTC().Format(timeLayout)
	}
}

func matches(r map[string]any, filters []backend.Filter) bool {
	for _, flt := range filters {
		v, ok := r[flt.Column]
		if !ok || v == nil || fmt.Sprint(v) != flt.Value {
			return false
		}
	}
	return true
}

func toRows(v any) ([]map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var out []map[string]any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var one map[string]any
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, err
	}
	return []map[string]any{one}, nil
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

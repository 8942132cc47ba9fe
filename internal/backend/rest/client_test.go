package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/models"
)

type seen struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

type recorder struct {
	mu   sync.Mutex
	reqs []seen
}

func (r *recorder) add(req *http.Request) {
	b, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, seen{Method: req.Method, Path: req.URL.Path, Query: req.URL.RawQuery, Header: req.Header.Clone(), Body: string(b)})
}

func (r *recorder) last() seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", AnonKey: "anon"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c, rec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{URL: "ftp://x", AnonKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://localhost:1"})
	assert.Error(t, err)
}

func TestSignInStoresSessionAndAuthorizesLaterCalls(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "jwt-1", "token_type": "bearer", "expires_in": 3600,
				"user": map[string]any{"id": "u1", "email": "ana@example.com"},
			})
		default:
			writeJSON(w, http.StatusOK, []any{})
		}
	})
	ctx := context.Background()

	s, err := c.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.User.ID)
	assert.Equal(t, int64(1_700_003_600), s.ExpiresAt)

	req := rec.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "grant_type=password", req.Query)
	assert.Equal(t, "anon", req.Header.Get("apikey"))
	assert.JSONEq(t, `{"email":"ana@example.com","password":"secret1"}`, req.Body)

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jwt-1", got.AccessToken)

	var rows []models.Question
	require.NoError(t, c.Select(ctx, models.TableQuestions, backend.Query{}, &rows))
	assert.Equal(t, "Bearer jwt-1", rec.last().Header.Get("Authorization"))
	assert.Equal(t, "anon", rec.last().Header.Get("apikey"))
}

func TestAuthErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   backend.ErrorKind
	}{
		{"invalid login", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, backend.KindInvalidCredentials},
		{"oauth style", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, backend.KindInvalidCredentials},
		{"duplicate", 422, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`, backend.KindDuplicateRegistration},
		{"weak", 422, `{"code":422,"error_code":"weak_password","msg":"Password should be at least 6 characters."}`, backend.KindWeakPassword},
		{"not json", 502, `bad gateway`, backend.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.SignIn(context.Background(), "a@b.c", "pw")
			require.Error(t, err)
			assert.Equal(t, tc.kind, backend.KindOf(err))
			s, _ := c.GetSession(context.Background())
			assert.Nil(t, s)
		})
	}
}

func TestTableErrorsAreClassified(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/questions" {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "42P01", "message": `relation "public.questions" does not exist`})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]any{"code": "42501", "message": `new row violates row-level security policy for table "answers"`})
	})

	err := c.Select(context.Background(), "questions", backend.Query{}, &[]models.Question{})
	assert.Equal(t, backend.KindMissingRelation, backend.KindOf(err))
	assert.Contains(t, backend.MessageOf(err), "does not exist")

	err = c.Insert(context.Background(), "answers", []map[string]string{{"answer_text": "x"}})
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
}

func TestSelectEncodesQuery(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "p1", "email": "a@b.c", "role": "admin"}})
	})

	p, err := backend.MaybeSingle[models.Profile](context.Background(), c, models.TableProfiles,
		backend.Where(backend.Eq("id", "p1")).OrderBy("created_at", false))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.RoleAdmin, p.Role)

	req := rec.last()
	assert.Equal(t, "/rest/v1/profiles", req.Path)
	assert.Equal(t, "id=eq.p1&limit=2&order=created_at.desc&select=%2A", req.Query)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestInsertUpdateDeleteHeaders(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "profiles", models.Profile{ID: "u1", Email: "a@b.c", Role: models.RoleUser}, backend.Upsert("id", true)))
	req := rec.last()
	assert.Equal(t, "on_conflict=id", req.Query)
	assert.Equal(t, "return=minimal,resolution=ignore-duplicates", req.Header.Get("Prefer"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	require.NoError(t, c.Insert(ctx, "profiles", models.Profile{ID: "u1"}, backend.Upsert("id", false)))
	assert.Equal(t, "return=minimal,resolution=merge-duplicates", rec.last().Header.Get("Prefer"))

	require.NoError(t, c.Insert(ctx, "answers", []map[string]string{{"answer_text": "x"}}))
	assert.Empty(t, rec.last().Query)
	assert.Equal(t, "return=minimal", rec.last().Header.Get("Prefer"))

	require.NoError(t, c.Update(ctx, "profiles", map[string]any{"role": "admin"}, backend.Eq("id", "u1")))
	req = rec.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "id=eq.u1", req.Query)
	assert.JSONEq(t, `{"role":"admin"}`, req.Body)

	require.NoError(t, c.Delete(ctx, "questions", backend.Eq("id", "q1")))
	req = rec.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "id=eq.q1", req.Query)
}

func TestSignUpWithoutSession(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "u9", "email": "new@example.com"})
	})

	u, err := c.SignUp(context.Background(), "new@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, &backend.User{ID: "u9", Email: "new@example.com"}, u)
	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignOutClearsSessionEvenWhenRevoked(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
	})
	require.NoError(t, c.sessions.Save(&backend.Session{AccessToken: "stale", User: backend.User{ID: "u1"}}))

	require.NoError(t, c.SignOut(context.Background()))
	assert.Equal(t, "Bearer stale", rec.last().Header.Get("Authorization"))
	s, _ := c.GetSession(context.Background())
	assert.Nil(t, s)
}

func TestGetSessionDropsExpired(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, c.sessions.Save(&backend.Session{AccessToken: "old", ExpiresAt: 1_600_000_000}))

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	stored, _ := c.sessions.Load()
	assert.Nil(t, stored)
}

func TestResetPasswordSendsRedirect(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	require.NoError(t, c.ResetPassword(context.Background(), "ana@example.com", "https://app.example.com/"))
	req := rec.last()
	assert.Equal(t, "/auth/v1/recover", req.Path)
	assert.Equal(t, "redirect_to=https%3A%2F%2Fapp.example.com%2F", req.Query)
	assert.JSONEq(t, `{"email":"ana@example.com"}`, req.Body)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{URL: url, AnonKey: "anon"})
	require.NoError(t, err)

	_, err = c.SignIn(context.Background(), "a@b.c", "pw")
	assert.Equal(t, backend.KindNetwork, backend.KindOf(err))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	fs := NewFileStore(path)

	s, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	want := &backend.Session{AccessToken: "tok", ExpiresAt: 42, User: backend.User{ID: "u1", Email: "a@b.c"}}
	require.NoError(t, fs.Save(want))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, fs.Clear())
	require.NoError(t, fs.Clear())
	got, err = fs.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

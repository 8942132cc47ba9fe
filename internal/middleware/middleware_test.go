package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner("test-secret")
	require.NoError(t, err)

	tok, exp, err := s.Sign("u1", "s1", "ana@example.com", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UID)
	assert.Equal(t, "s1", c.SID)
	assert.Equal(t, "ana@example.com", c.Email)

	other, _ := NewSigner("other-secret")
	_, err = other.Parse(tok)
	assert.Error(t, err)

	_, err = NewSigner(" ")
	assert.Error(t, err)
}

func TestSignerRejectsExpired(t *testing.T) {
	s, _ := NewSigner("test-secret")
	past := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return past }
	tok, _, err := s.Sign("u1", "s1", "", time.Hour)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(tok)
	assert.Error(t, err)
}

func TestWithAuthTreatsBadTokensAsAnonymous(t *testing.T) {
	s, _ := NewSigner("test-secret")
	tok, _, _ := s.Sign("u1", "s1", "", time.Hour)

	var got *Claims
	h := WithAuth(s, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
	}))

	for _, header := range []string{"", "Bearer anon-key", "Basic abc"} {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Nil(t, got, header)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UID)
}

func TestRequireAuthAndAPIKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":401,"error_code":"no_authorization","msg":"This endpoint requires a valid Bearer token"}`, rec.Body.String())

	h := RequireAPIKey("anon", ok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("apikey", "anon")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestChainOrderAndHeaders(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.NotFoundHandler(), SecureHeaders, NoStore, CORS, mark("a"), mark("b"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "apikey")

	order = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, order)
}

func TestLocaleMiddleware(t *testing.T) {
	var got string
	h := LocaleMiddleware("es", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "en", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr-FR,en-US;q=0.8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "en", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "es", got)
}

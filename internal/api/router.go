// Package api is the local backend: an auth service and a table service
// speaking the same HTTP contract as the hosted backend, stored in SQLite.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/db"
	"github.com/soaringjerry/Sondeo/internal/middleware"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/utils"
)

const maxBody = 1 << 20

type Config struct {
	// AnonKey must accompany every auth and table request as the apikey header.
	AnonKey    string
	SessionTTL time.Duration
	// ProvisionDelay postpones the default profile of a new account; negative disables it.
	ProvisionDelay    time.Duration
	OpenAdminSignup   bool
	MinPasswordLength int
	DefaultLocale     string
	Name              string
	Version           string
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:        time.Hour,
		ProvisionDelay:    time.Second,
		OpenAdminSignup:   true,
		MinPasswordLength: 6,
		DefaultLocale:     utils.DefaultLocale,
		Name:              "sondeo",
		Version:           "dev",
	}
}

type Router struct {
	store  Store
	auth   *AuthService
	signer *middleware.Signer
	prov   *provisioner
	policy policy
	cfg    Config
	log    *zap.Logger
}

func NewRouter(store Store, signer *middleware.Signer, cfg Config, mailer Mailer, logger *zap.Logger) (*Router, error) {
	if store == nil || signer == nil {
		return nil, errors.New("api: store and signer required")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("api: anon key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = def.MinPasswordLength
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = def.DefaultLocale
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	auth := NewAuthService(store, signer, mailer, logger)
	auth.tokenTTL = cfg.SessionTTL
	auth.minPassLen = cfg.MinPasswordLength
	prov := newProvisioner(store, cfg.ProvisionDelay, logger)
	auth.onSignUp = prov.schedule

	return &Router{
		store:  store,
		auth:   auth,
		signer: signer,
		prov:   prov,
		policy: policy{openAdminSignup: cfg.OpenAdminSignup},
		cfg:    cfg,
		log:    logger,
	}, nil
}

func (rt *Router) Register(mux *http.ServeMux) {
	key := func(h http.HandlerFunc) http.Handler { return middleware.RequireAPIKey(rt.cfg.AnonKey, h) }

	mux.Handle("POST /auth/v1/token", key(rt.handleToken))
	mux.Handle("POST /auth/v1/signup", key(rt.handleSignUp))
	mux.Handle("POST /auth/v1/logout", key(rt.handleLogout))
	mux.Handle("POST /auth/v1/recover", key(rt.handleRecover))
	mux.Handle("GET /auth/v1/user", key(rt.handleUser))

	mux.Handle("GET /rest/v1/{table}", key(rt.handleSelect))
	mux.Handle("POST /rest/v1/{table}", key(rt.handleInsert))
	mux.Handle("PATCH /rest/v1/{table}", key(rt.handleUpdate))
	mux.Handle("DELETE /rest/v1/{table}", key(rt.handleDelete))

	mux.Handle("GET /health", middleware.LocaleMiddleware(rt.cfg.DefaultLocale, http.HandlerFunc(rt.handleHealth)))
}

// Handler returns the routes behind the standard middleware chain.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return middleware.Chain(mux,
		middleware.SecureHeaders,
		middleware.NoStore,
		middleware.CORS,
		func(next http.Handler) http.Handler { return middleware.WithAuth(rt.signer, next) },
		rt.liveSession,
	)
}

// Close waits for pending profile provisioning.
func (rt *Router) Close() { rt.prov.close() }

// PurgeSessions deletes expired sessions every interval until ctx is done.
func (rt *Router) PurgeSessions(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := rt.store.PurgeExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				rt.log.Warn("purge sessions failed", zap.Error(err))
				continue
			}
			if n > 0 {
				rt.log.Info("expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}

// liveSession drops the claims of revoked or expired sessions.
func (rt *Router) liveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := middleware.ClaimsFromContext(r.Context()); ok && !rt.auth.Active(r.Context(), c) {
			r = r.WithContext(middleware.ContextWithClaims(r.Context(), nil))
		}
		next.ServeHTTP(w, r)
	})
}

func claims(r *http.Request) *middleware.Claims {
	c, _ := middleware.ClaimsFromContext(r.Context())
	return c
}

// GET /health
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"status":  utils.T(locale, "health.ok"),
		"name":    rt.cfg.Name,
		"version": rt.cfg.Version,
	})
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userBody struct {
	ID        string    `json:"id"`
	Aud       string    `json:"aud"`
	Role      string    `json:"role"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionBody struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	ExpiresAt   int64    `json:"expires_at"`
	User        userBody `json:"user"`
}

func toUserBody(u *db.AuthUser) userBody {
	return userBody{ID: u.ID, Aud: "authenticated", Role: "authenticated", Email: u.Email, CreatedAt: u.CreatedAt}
}

func toSessionBody(res *AuthResult) sessionBody {
	return sessionBody{
		AccessToken: res.Token,
		TokenType:   "bearer",
		ExpiresIn:   res.ExpiresIn,
		ExpiresAt:   res.ExpiresAt.Unix(),
		User:        toUserBody(res.User),
	}
}

func decodeCredentials(r *http.Request) (credentialsBody, error) {
	var body credentialsBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		return body, &AuthError{Status: http.StatusBadRequest, Code: "bad_json", Msg: "Could not parse request body as JSON"}
	}
	return body, nil
}

// POST /auth/v1/token?grant_type=password
func (rt *Router) handleToken(w http.ResponseWriter, r *http.Request) {
	if gt := r.URL.Query().Get("grant_type"); gt != "password" {
		rt.writeAuthError(w, &AuthError{Status: http.StatusBadRequest, Code: "unsupported_grant_type", Msg: "unsupported grant_type " + strconv.Quote(gt)})
		return
	}
	body, err := decodeCredentials(r)
	if err != nil {
		rt.writeAuthError(w, err)
		return
	}
	res, err := rt.auth.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		rt.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionBody(res))
}

// POST /auth/v1/signup
func (rt *Router) handleSignUp(w http.ResponseWriter, r *http.Request) {
	body, err := decodeCredentials(r)
	if err != nil {
		rt.writeAuthError(w, err)
		return
	}
	res, err := rt.auth.SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		rt.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionBody(res))
}

// POST /auth/v1/logout
func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := rt.auth.SignOut(r.Context(), claims(r)); err != nil {
		rt.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /auth/v1/recover?redirect_to=...
func (rt *Router) handleRecover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		rt.writeAuthError(w, &AuthError{Status: http.StatusBadRequest, Code: "bad_json", Msg: "Could not parse request body as JSON"})
		return
	}
	if err := rt.auth.Recover(r.Context(), body.Email, r.URL.Query().Get("redirect_to")); err != nil {
		rt.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// GET /auth/v1/user
func (rt *Router) handleUser(w http.ResponseWriter, r *http.Request) {
	u, err := rt.auth.User(r.Context(), claims(r))
	if err != nil {
		rt.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserBody(u))
}

// identity resolves the caller of a table request, nil when anonymous.
func (rt *Router) identity(r *http.Request) *identity {
	c := claims(r)
	if c == nil {
		return nil
	}
	role, err := rt.store.ProfileRole(r.Context(), c.UID)
	if err != nil {
		rt.log.Warn("role lookup failed", zap.String("user_id", c.UID), zap.Error(err))
	}
	return &identity{uid: c.UID, admin: role == string(models.RoleAdmin)}
}

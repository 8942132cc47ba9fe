// Package rest talks to a GoTrue/PostgREST style backend over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/backend"
)

const maxErrorBody = 64 << 10

type Config struct {
	// URL is the project root, e.g. https://xyz.supabase.co or http://127.0.0.1:8787.
	URL     string
	AnonKey string
	// HTTPClient defaults to http.DefaultClient; its Timeout is the only one applied.
	HTTPClient *http.Client
	// Sessions defaults to an in-memory store.
	Sessions SessionStore
	Logger   *zap.Logger
}

// Client implements backend.Client. It never retries.
type Client struct {
	base     string
	anonKey  string
	http     *http.Client
	sessions SessionStore
	log      *zap.Logger
	now      func() time.Time
}

var _ backend.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("rest: invalid backend url %q", cfg.URL)
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("rest: anon key required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		base:     strings.TrimRight(u.String(), "/"),
		anonKey:  cfg.AnonKey,
		http:     cfg.HTTPClient,
		sessions: cfg.Sessions,
		log:      cfg.Logger,
		now:      time.Now,
	}, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	prefer []string
	// token overrides the stored session's access token.
	token string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	target := c.base + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("rest: marshal %s body: %w", r.path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(r.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(r.prefer, ","))
	}
	token := r.token
	if token == "" {
		if s, _ := c.sessions.Load(); s != nil {
			token = s.AccessToken
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend request failed", zap.String("method", r.method), zap.String("path", r.path), zap.Error(err))
		return backend.NetworkError(err)
	}
	defer resp.Body.Close()
	c.log.Debug("backend request",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("rest: decode %s response: %w", r.path, err)
	}
	return nil
}

// errorBody covers both auth ({code:int, error_code, msg}) and table
// ({code:string, message, details, hint}) error shapes, plus OAuth style errors.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return backend.NewError(resp.StatusCode, "", strings.TrimSpace(string(raw)))
	}
	code := eb.ErrorCode
	if code == "" {
		var s string
		if json.Unmarshal(eb.Code, &s) == nil {
			code = s
		}
	}
	if code == "" && eb.Error != "" && eb.ErrorDescription != "" {
		code = eb.Error
	}
	msg := firstNonEmpty(eb.Msg, eb.Message, eb.ErrorDescription, eb.Error)
	return backend.NewError(resp.StatusCode, code, msg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
	ExpiresAt   int64        `json:"expires_at"`
	User        backend.User `json:"user"`
}

func (c *Client) sessionFrom(t tokenResponse) *backend.Session {
	s := &backend.Session{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresIn:   t.ExpiresIn,
		ExpiresAt:   t.ExpiresAt,
		User:        t.User,
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   credentials{Email: email, Password: password},
		token:  c.anonKey,
	}, &tr)
	if err != nil {
		return nil, err
	}
	s := c.sessionFrom(tr)
	if err := c.sessions.Save(s); err != nil {
		return nil, fmt.Errorf("rest: persist session: %w", err)
	}
	out := *s
	return &out, nil
}

// signupResponse is a session when the backend signs the user in right away,
// or the bare user when email confirmation is pending.
type signupResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*backend.User, error) {
	var sr signupResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   credentials{Email: email, Password: password},
		token:  c.anonKey,
	}, &sr)
	if err != nil {
		return nil, err
	}
	if sr.AccessToken != "" {
		if err := c.sessions.Save(c.sessionFrom(sr.tokenResponse)); err != nil {
			return nil, fmt.Errorf("rest: persist session: %w", err)
		}
		u := sr.User
		return &u, nil
	}
	return &backend.User{ID: sr.ID, Email: sr.Email}, nil
}

// SignOut forgets the local session even when the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	s, _ := c.sessions.Load()
	if err := c.sessions.Clear(); err != nil {
		return fmt.Errorf("rest: clear session: %w", err)
	}
	if s == nil {
		return nil
	}
	err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", token: s.AccessToken}, nil)
	if backend.KindOf(err) == backend.KindPermissionDenied {
		// token already revoked or expired
		return nil
	}
	return err
}

func (c *Client) ResetPassword(ctx context.Context, email, redirectTo string) error {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		query:  q,
		body:   map[string]string{"email": email},
		token:  c.anonKey,
	}, nil)
}

// GetSession returns the stored session. Expired sessions are discarded.
func (c *Client) GetSession(context.Context) (*backend.Session, error) {
	s, err := c.sessions.Load()
	if err != nil {
		return nil, fmt.Errorf("rest: load session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	if s.Expired(c.now()) {
		c.log.Info("stored session expired", zap.String("user_id", s.User.ID))
		if err := c.sessions.Clear(); err != nil {
			return nil, fmt.Errorf("rest: clear session: %w", err)
		}
		return nil, nil
	}
	return s, nil
}

// User fetches the user behind the current session from the auth service.
func (c *Client) User(ctx context.Context) (*backend.User, error) {
	var u backend.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func tablePath(table string) string { return "/rest/v1/" + url.PathEscape(table) }

func filterQuery(q url.Values, filters []backend.Filter) url.Values {
	if q == nil {
		q = url.Values{}
	}
	for _, f := range filters {
		q.Add(f.Column, "eq."+f.Value)
	}
	return q
}

func (c *Client) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	v := filterQuery(url.Values{"select": {"*"}}, q.Filters)
	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		v.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.do(ctx, request{method: http.MethodGet, path: tablePath(table), query: v}, dest)
}

func (c *Client) Insert(ctx context.Context, table string, rows any, opts ...backend.InsertOption) error {
	o := backend.ApplyInsertOptions(opts)
	r := request{method: http.MethodPost, path: tablePath(table), body: rows, prefer: []string{"return=minimal"}}
	if o.OnConflict != "" {
		r.query = url.Values{"on_conflict": {o.OnConflict}}
		if o.IgnoreDuplicates {
			r.prefer = append(r.prefer, "resolution=ignore-duplicates")
		} else {
			r.prefer = append(r.prefer, "resolution=merge-duplicates")
		}
	}
	return c.do(ctx, r, nil)
}

func (c *Client) Update(ctx context.Context, table string, values map[string]any, filters ...backend.Filter) error {
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   tablePath(table),
		query:  filterQuery(nil, filters),
		body:   values,
		prefer: []string{"return=minimal"},
	}, nil)
}

func (c *Client) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   tablePath(table),
		query:  filterQuery(nil, filters),
		prefer: []string{"return=minimal"},
	}, nil)
}

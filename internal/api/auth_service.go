package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Sondeo/internal/db"
	"github.com/soaringjerry/Sondeo/internal/middleware"
)

// AuthError is a failure reported in the auth service's wire shape.
type AuthError struct {
	Status int
	Code   string
	Msg    string
}

func (e *AuthError) Error() string { return e.Msg }

var (
	errInvalidCredentials = &AuthError{Status: http.StatusBadRequest, Code: "invalid_credentials", Msg: "Invalid login credentials"}
	errUserExists         = &AuthError{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Msg: "User already registered"}
	errMissingCredentials = &AuthError{Status: http.StatusBadRequest, Code: "validation_failed", Msg: "Missing email or password"}
	errInvalidEmail       = &AuthError{Status: http.StatusBadRequest, Code: "validation_failed", Msg: "Unable to validate email address: invalid format"}
	errNoSession          = &AuthError{Status: http.StatusUnauthorized, Code: "no_authorization", Msg: "This endpoint requires a valid session"}
)

func weakPasswordError(min int) *AuthError {
	return &AuthError{
		Status: http.StatusUnprocessableEntity,
		Code:   "weak_password",
		Msg:    fmt.Sprintf("Password should be at least %d characters.", min),
	}
}

// AuthResult is an issued session.
type AuthResult struct {
	Token     string
	ExpiresIn int
	ExpiresAt time.Time
	User      *db.AuthUser
}

// AuthService registers accounts, issues session tokens and handles recovery.
type AuthService struct {
	store      AuthStore
	signer     *middleware.Signer
	mailer     Mailer
	log        *zap.Logger
	now        func() time.Time
	idGen      func() string
	tokenTTL   time.Duration
	minPassLen int
	// onSignUp runs after an account is stored; the provisioning trigger hooks in here.
	onSignUp func(u *db.AuthUser)
}

func NewAuthService(store AuthStore, signer *middleware.Signer, mailer Mailer, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = LogMailer{Log: logger}
	}
	return &AuthService{
		store:      store,
		signer:     signer,
		mailer:     mailer,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		idGen:      uuid.NewString,
		tokenTTL:   time.Hour,
		minPassLen: 6,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errInvalidEmail
	}
	return email, nil
}

// SignUp stores a new account. The caller is signed in right away; there is no
// email confirmation step.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, errMissingCredentials
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < s.minPassLen {
		return nil, weakPasswordError(s.minPassLen)
	}
	existing, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &db.AuthUser{ID: s.idGen(), Email: email, PasswordHash: hash, CreatedAt: s.now()}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, errUserExists
		}
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID))
	if s.onSignUp != nil {
		s.onSignUp(u)
	}
	return s.issue(ctx, u)
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errMissingCredentials
	}
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return s.issue(ctx, u)
}

func (s *AuthService) issue(ctx context.Context, u *db.AuthUser) (*AuthResult, error) {
	sid := s.idGen()
	token, exp, err := s.signer.Sign(u.ID, sid, u.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, db.AuthSession{ID: sid, UserID: u.ID, CreatedAt: s.now(), ExpiresAt: exp}); err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresIn: int(s.tokenTTL / time.Second), ExpiresAt: exp, User: u}, nil
}

// Active reports whether the session behind c has not been revoked.
func (s *AuthService) Active(ctx context.Context, c *middleware.Claims) bool {
	if c == nil || c.SID == "" {
		return false
	}
	sess, err := s.store.Session(ctx, c.SID)
	if err != nil {
		s.log.Warn("session lookup failed", zap.String("session_id", c.SID), zap.Error(err))
		return false
	}
	return sess != nil && sess.UserID == c.UID
}

// SignOut revokes the session behind c.
func (s *AuthService) SignOut(ctx context.Context, c *middleware.Claims) error {
	if c == nil {
		return errNoSession
	}
	return s.store.DeleteSession(ctx, c.SID)
}

func (s *AuthService) User(ctx context.Context, c *middleware.Claims) (*db.AuthUser, error) {
	if c == nil {
		return nil, errNoSession
	}
	u, err := s.store.UserByID(ctx, c.UID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errNoSession
	}
	return u, nil
}

// Recover issues a recovery token for email and hands the link to the mailer.
// Unknown addresses succeed silently so accounts cannot be probed.
func (s *AuthService) Recover(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &AuthError{Status: http.StatusBadRequest, Code: "validation_failed", Msg: "Password recovery requires an email"}
	}
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		s.log.Info("recovery requested for unknown email")
		return nil
	}
	token := s.idGen()
	if err := s.store.CreateRecovery(ctx, token, u.ID, redirectTo); err != nil {
		return err
	}
	return s.mailer.SendRecovery(ctx, u.Email, recoveryLink(redirectTo, token))
}

func recoveryLink(redirectTo, token string) string {
	if redirectTo == "" {
		return "#type=recovery&token=" + token
	}
	return strings.TrimRight(redirectTo, "#") + "#type=recovery&token=" + token
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

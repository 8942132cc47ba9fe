package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/models"
)

// RetryPolicy paces the polls that wait for the backend's own profile provisioning
// after a sign-up. Attempts == 0 skips waiting entirely.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, Multiplier: 2}
}

// Delay returns the wait before poll number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type ProfileConfig struct {
	Retry             RetryPolicy
	MinPasswordLength int
}

// ProfileService guarantees that every authenticated identity maps to exactly one profile.
type ProfileService struct {
	client    backend.Client
	log       *zap.Logger
	retry     RetryPolicy
	minPassLn int
	sleep     func(ctx context.Context, d time.Duration) error
}

// PromotionResult describes the outcome of the create-administrator flow.
type PromotionResult struct {
	Profile *models.Profile
	// Created is true when the account did not exist and was registered by the flow.
	Created bool
}

func NewProfileService(client backend.Client, logger *zap.Logger, cfg ProfileConfig) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	return &ProfileService{
		client:    client,
		log:       logger,
		retry:     cfg.Retry,
		minPassLn: cfg.MinPasswordLength,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MinPasswordLength is the shortest password the flows accept before calling the backend.
func (s *ProfileService) MinPasswordLength() int { return s.minPassLn }

func (s *ProfileService) lookup(ctx context.Context, id string) (*models.Profile, error) {
	return backend.MaybeSingle[models.Profile](ctx, s.client, models.TableProfiles, backend.Where(backend.Eq("id", id)))
}

// Reconcile returns the profile of user, creating it with role when absent.
// The insert is keyed on id and ignores duplicates, so a profile created concurrently
// by the backend is kept as is.
func (s *ProfileService) Reconcile(ctx context.Context, user backend.User, role models.Role) (*models.Profile, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, NewReconciliationError(ReasonProfileMissing, "identity has no id", nil)
	}
	if !role.Valid() {
		role = models.RoleUser
	}
	p, err := s.lookup(ctx, user.ID)
	if err != nil {
		return nil, NewReconciliationError(ReasonProfileLookup, "fetch profile", err)
	}
	if p != nil {
		return p, nil
	}
	row := models.Profile{ID: user.ID, Email: user.Email, Role: role}
	if err := s.client.Insert(ctx, models.TableProfiles, row, backend.Upsert("id", true)); err != nil {
		s.log.Error("create profile failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, NewReconciliationError(ReasonProfileCreate, "create profile", err)
	}
	p, err = s.lookup(ctx, user.ID)
	if err != nil {
		return nil, NewReconciliationError(ReasonProfileLookup, "fetch created profile", err)
	}
	if p == nil {
		s.log.Error("profile absent after creation attempt", zap.String("user_id", user.ID))
		return nil, NewReconciliationError(ReasonProfileMissing, "profile still absent after creation attempt", nil)
	}
	s.log.Info("profile created", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
	return p, nil
}

// PromoteAdmin makes the account behind email/password an administrator, registering it
// first when the credentials are not recognised. The flow signs in as that account, so
// the client session belongs to it afterwards. Running it twice converges on one admin
// profile.
func (s *ProfileService) PromoteAdmin(ctx context.Context, email, password string) (*PromotionResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, NewValidationError("email and password required")
	}
	if len(password) < s.minPassLn {
		return nil, NewAuthError(ReasonWeakPassword, fmt.Sprintf("password shorter than %d characters", s.minPassLn), nil)
	}

	sess, err := s.client.SignIn(ctx, email, password)
	if err != nil {
		if backend.KindOf(err) != backend.KindInvalidCredentials {
			return nil, ClassifyAuthError("sign in", err)
		}
		return s.registerAdmin(ctx, email, password)
	}

	if err := s.client.Update(ctx, models.TableProfiles, map[string]any{"role": string(models.RoleAdmin)}, backend.Eq("id", sess.User.ID)); err != nil {
		s.log.Error("promote profile failed", zap.String("user_id", sess.User.ID), zap.Error(err))
		return nil, NewReconciliationError(ReasonProfileUpdate, "update profile role", err)
	}
	p, err := s.ensureAdmin(ctx, sess.User)
	if err != nil {
		return nil, err
	}
	s.log.Info("existing account promoted", zap.String("user_id", p.ID))
	return &PromotionResult{Profile: p}, nil
}

func (s *ProfileService) registerAdmin(ctx context.Context, email, password string) (*PromotionResult, error) {
	user, err := s.client.SignUp(ctx, email, password)
	if err != nil {
		if backend.KindOf(err) == backend.KindDuplicateRegistration {
			return nil, NewAuthError(ReasonRegisteredWrongPassword, "email registered with another password", err)
		}
		return nil, ClassifyAuthError("sign up", err)
	}
	if user == nil || user.ID == "" {
		return nil, NewAuthError(ReasonNone, "sign up returned no user", nil)
	}
	if user.Email == "" {
		user.Email = email
	}

	p, err := s.awaitProvisioned(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		row := models.Profile{ID: user.ID, Email: user.Email, Role: models.RoleAdmin}
		if err := s.client.Insert(ctx, models.TableProfiles, row, backend.Upsert("id", true)); err != nil {
			s.log.Error("create admin profile failed", zap.String("user_id", user.ID), zap.Error(err))
			return nil, NewReconciliationError(ReasonProfileCreate, "create profile", err)
		}
	}
	p, err = s.ensureAdmin(ctx, *user)
	if err != nil {
		return nil, err
	}
	s.log.Info("administrator registered", zap.String("user_id", p.ID))
	return &PromotionResult{Profile: p, Created: true}, nil
}

// awaitProvisioned polls for a profile created by the backend after sign-up.
// It returns nil without error when none shows up within the retry policy.
func (s *ProfileService) awaitProvisioned(ctx context.Context, userID string) (*models.Profile, error) {
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if err := s.sleep(ctx, s.retry.Delay(attempt)); err != nil {
			return nil, NewReconciliationError(ReasonProfileLookup, "wait for profile", err)
		}
		p, err := s.lookup(ctx, userID)
		if err != nil {
			return nil, NewReconciliationError(ReasonProfileLookup, "fetch profile", err)
		}
		if p != nil {
			return p, nil
		}
		s.log.Debug("profile not provisioned yet", zap.String("user_id", userID), zap.Int("attempt", attempt+1))
	}
	return nil, nil
}

// ensureAdmin re-reads the profile of user and raises it to admin when needed.
func (s *ProfileService) ensureAdmin(ctx context.Context, user backend.User) (*models.Profile, error) {
	p, err := s.Reconcile(ctx, user, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if p.Role == models.RoleAdmin {
		return p, nil
	}
	if err := s.client.Update(ctx, models.TableProfiles, map[string]any{"role": string(models.RoleAdmin)}, backend.Eq("id", user.ID)); err != nil {
		s.log.Error("promote profile failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, NewReconciliationError(ReasonProfileUpdate, "update profile role", err)
	}
	p, err = s.lookup(ctx, user.ID)
	if err != nil {
		return nil, NewReconciliationError(ReasonProfileLookup, "fetch profile", err)
	}
	if p == nil {
		return nil, NewReconciliationError(ReasonProfileMissing, "profile disappeared during promotion", nil)
	}
	if p.Role != models.RoleAdmin {
		return nil, NewReconciliationError(ReasonProfileUpdate, "role change was not applied", nil)
	}
	return p, nil
}

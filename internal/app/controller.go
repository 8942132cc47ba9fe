package app

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
	"github.com/soaringjerry/Sondeo/internal/utils"
)

var (
	// ErrBusy is returned when an action starts while another one is outstanding.
	ErrBusy       = errors.New("app: another action is in progress")
	ErrTransition = errors.New("app: view transition not allowed")
	ErrAdminOnly  = errors.New("app: administrator role required")
)

type Options struct {
	Locale string
	// ResetRedirect is handed to the backend as the password recovery landing URL.
	ResetRedirect string
	Logger        *zap.Logger
}

// Controller drives the views. Its mutex only protects State; it is never held
// across a backend call. Loading is the advisory guard against overlapping actions.
type Controller struct {
	auth          backend.Auth
	profiles      *services.ProfileService
	survey        *services.SurveyService
	log           *zap.Logger
	locale        string
	resetRedirect string

	mu    sync.Mutex
	state State
}

func New(auth backend.Auth, profiles *services.ProfileService, survey *services.SurveyService, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Locale == "" {
		opts.Locale = utils.DefaultLocale
	}
	return &Controller{
		auth:          auth,
		profiles:      profiles,
		survey:        survey,
		log:           opts.Logger,
		locale:        opts.Locale,
		resetRedirect: opts.ResetRedirect,
		state:         initialState(),
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) Locale() string { return c.locale }

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Loading {
		return ErrBusy
	}
	c.state.Loading = true
	c.state.Notice = nil
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.state.Loading = false
	c.mu.Unlock()
}

func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

func (c *Controller) succeed(key string) {
	c.update(func(s *State) { s.Notice = &Notice{Kind: NoticeSuccess, Text: utils.T(c.locale, key)} })
}

// fail records the notice for err and returns err unchanged.
func (c *Controller) fail(err error, fallbackKey string) error {
	text := c.describe(err, fallbackKey)
	c.update(func(s *State) { s.Notice = &Notice{Kind: NoticeError, Text: text} })
	return err
}

// describe maps err to one localized line. Conditions with a dedicated message
// use it; anything else gets the action's message plus the backend's own text.
func (c *Controller) describe(err error, fallbackKey string) string {
	var key string
	switch services.ReasonOf(err) {
	case services.ReasonInvalidCredentials:
		key = "login.invalid_credentials"
	case services.ReasonDuplicateRegistration:
		key = "register.duplicate"
	case services.ReasonWeakPassword:
		return utils.Tf(c.locale, "register.weak_password", c.profiles.MinPasswordLength())
	case services.ReasonRegisteredWrongPassword:
		key = "admin.registered_wrong_password"
	case services.ReasonPasswordMismatch:
		key = "register.password_mismatch"
	case services.ReasonMissingRelation:
		key = "questions.missing_tables"
	case services.ReasonPermissionDenied:
		key = "permission.denied"
	case services.ReasonProfileLookup, services.ReasonProfileMissing:
		key = "profile.load_failed"
	case services.ReasonProfileCreate:
		key = "profile.create_failed"
	case services.ReasonProfileUpdate:
		key = "admin.profile_update_failed"
	}
	if key != "" {
		return utils.T(c.locale, key)
	}
	switch services.CodeOf(err) {
	case services.ErrorValidation, services.ErrorNoOp:
		return utils.T(c.locale, fallbackKey)
	}
	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		return utils.T(c.locale, fallbackKey) + ": " + be.Message
	}
	return utils.T(c.locale, fallbackKey)
}

func (c *Controller) signedIn(s *State, p *models.Profile) {
	s.Profile = p
	s.View = ViewQuestions
	s.ResetSent = false
	s.Pending = services.PendingAnswers{}
	s.Submissions = nil
}

// Start restores a pre-existing session and loads the questions. Failures while
// checking the session are logged and leave the controller on the login view.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	sess, err := c.auth.GetSession(ctx)
	switch {
	case err != nil:
		c.log.Warn("session check failed", zap.Error(err))
	case sess != nil:
		p, err := c.profiles.Reconcile(ctx, sess.User, models.RoleUser)
		if err != nil {
			c.log.Warn("profile reconciliation at startup failed", zap.String("user_id", sess.User.ID), zap.Error(err))
			break
		}
		c.update(func(s *State) { c.signedIn(s, p) })
		c.log.Info("session restored", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
	}
	_ = c.loadQuestions(ctx)
	return nil
}

// loadQuestions refreshes the question list. A missing table is only reported to
// signed-in users; other failures are logged.
func (c *Controller) loadQuestions(ctx context.Context) error {
	qs, err := c.survey.ListQuestions(ctx)
	if err != nil {
		c.log.Warn("fetch questions failed", zap.Error(err))
		if services.ReasonOf(err) == services.ReasonMissingRelation && c.State().Authenticated() {
			_ = c.fail(err, "questions.load_failed")
		}
		return err
	}
	c.update(func(s *State) { s.Questions = qs })
	return nil
}

func (c *Controller) Login(ctx context.Context, email, password string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return c.fail(services.NewValidationError("email and password required"), "admin.missing_fields")
	}
	sess, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		err = services.ClassifyAuthError("sign in", err)
		c.log.Info("sign in rejected", zap.String("email", email), zap.Error(err))
		return c.fail(err, "login.failed")
	}
	p, err := c.profiles.Reconcile(ctx, sess.User, models.RoleUser)
	if err != nil {
		c.log.Error("profile reconciliation failed", zap.String("user_id", sess.User.ID), zap.Error(err))
		return c.fail(err, "profile.load_failed")
	}
	c.update(func(s *State) { c.signedIn(s, p) })
	c.succeed("login.welcome")
	c.log.Info("signed in", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
	_ = c.loadQuestions(ctx)
	return nil
}

// Register creates an account and returns to the login view. Creating the profile
// right away is best effort; Login reconciles it anyway.
func (c *Controller) Register(ctx context.Context, email, password, confirm string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return c.fail(services.NewValidationError("email and password required"), "admin.missing_fields")
	}
	if password != confirm {
		return c.fail(services.NewPasswordMismatchError(), "register.failed")
	}
	user, err := c.auth.SignUp(ctx, email, password)
	if err != nil {
		err = services.ClassifyAuthError("sign up", err)
		c.log.Info("sign up rejected", zap.String("email", email), zap.Error(err))
		return c.fail(err, "register.failed")
	}
	if user != nil && user.ID != "" {
		if user.Email == "" {
			user.Email = email
		}
		if _, err := c.profiles.Reconcile(ctx, *user, models.RoleUser); err != nil {
			c.log.Warn("profile creation during registration failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	c.update(func(s *State) { s.View = ViewLogin })
	c.succeed("register.success")
	return nil
}

// RequestPasswordReset asks the backend to mail a recovery link. What happens
// after that is outside the client.
func (c *Controller) RequestPasswordReset(ctx context.Context, email string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	email = strings.TrimSpace(email)
	if email == "" {
		return c.fail(services.NewValidationError("email required"), "reset.email_required")
	}
	if err := c.auth.ResetPassword(ctx, email, c.resetRedirect); err != nil {
		c.log.Warn("password reset request failed", zap.String("email", email), zap.Error(err))
		return c.fail(services.ClassifyAuthError("reset password", err), "reset.failed")
	}
	c.update(func(s *State) { s.ResetSent = true })
	c.succeed("reset.sent")
	return nil
}

// CreateAdmin runs the administrator promotion flow. The backend session ends up
// belonging to the promoted account, so a signed-in controller adopts its profile.
func (c *Controller) CreateAdmin(ctx context.Context, email, password string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if strings.TrimSpace(email) == "" || password == "" {
		return c.fail(services.NewValidationError("email and password required"), "admin.missing_fields")
	}
	res, err := c.profiles.PromoteAdmin(ctx, email, password)
	if err != nil {
		c.log.Warn("create administrator failed", zap.String("email", email), zap.Error(err))
		return c.fail(err, "admin.failed")
	}
	c.update(func(s *State) {
		if s.Profile != nil && s.Profile.ID != res.Profile.ID {
			c.signedIn(s, res.Profile)
			s.View = ViewAdmin
		} else if s.Profile != nil {
			s.Profile = res.Profile
		}
	})
	if res.Created {
		c.succeed("admin.created")
	} else {
		c.succeed("admin.promoted")
	}
	return nil
}

// Logout always lands on the login view; a failed sign-out is only logged.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := c.auth.SignOut(ctx); err != nil {
		c.log.Warn("sign out failed", zap.Error(err))
	}
	c.update(func(s *State) {
		loading := s.Loading
		*s = initialState()
		s.Loading = loading
	})
	c.succeed("logout.done")
	return nil
}

// SetAnswer records a draft answer; empty text drops it.
func (c *Controller) SetAnswer(questionID, text string) {
	c.update(func(s *State) {
		if text == "" {
			delete(s.Pending, questionID)
			return
		}
		s.Pending[questionID] = text
	})
}

func (c *Controller) SetQuestionDraft(f QuestionForm) {
	c.update(func(s *State) { s.Draft = f })
}

func (c *Controller) ClearNotice() {
	c.update(func(s *State) { s.Notice = nil })
}

func (c *Controller) CreateQuestion(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	draft := c.State().Draft
	if strings.TrimSpace(draft.Text) == "" {
		return c.fail(services.NewValidationError("question text required"), "question.text_required")
	}
	if draft.Type == models.QuestionSelect && len(services.ParseOptions(draft.Options)) == 0 {
		return c.fail(services.NewValidationError("options required"), "question.options_required")
	}
	if err := c.survey.CreateQuestion(ctx, draft.Text, draft.Type, draft.Options); err != nil {
		return c.fail(err, "question.create_failed")
	}
	c.update(func(s *State) { s.Draft = QuestionForm{Type: models.QuestionText} })
	c.succeed("question.created")
	_ = c.loadQuestions(ctx)
	return nil
}

func (c *Controller) DeleteQuestion(ctx context.Context, id string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := c.survey.DeleteQuestion(ctx, id); err != nil {
		return c.fail(err, "question.delete_failed")
	}
	c.succeed("question.deleted")
	_ = c.loadQuestions(ctx)
	return nil
}

// SubmitAnswers stores the pending answers of the signed-in user. Drafts edited
// while the request was in flight are kept.
func (c *Controller) SubmitAnswers(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	st := c.State()
	var userID string
	if st.Profile != nil {
		userID = st.Profile.ID
	}
	batch := st.Pending
	submitted := maps.Clone(batch)
	if err := c.survey.SubmitAnswers(ctx, userID, batch); err != nil {
		if services.CodeOf(err) == services.ErrorNoOp {
			return c.fail(err, "answers.empty")
		}
		return c.fail(err, "answers.save_failed")
	}
	c.update(func(s *State) {
		for qid, text := range submitted {
			if s.Pending[qid] == text {
				delete(s.Pending, qid)
			}
		}
	})
	c.succeed("answers.saved")
	return nil
}

// RefreshQuestions reloads the list and reports any failure.
func (c *Controller) RefreshQuestions(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	qs, err := c.survey.ListQuestions(ctx)
	if err != nil {
		c.log.Warn("fetch questions failed", zap.Error(err))
		return c.fail(err, "questions.load_failed")
	}
	c.update(func(s *State) { s.Questions = qs })
	return nil
}

// LoadSubmissions fetches every answer with its question and respondent. Admin only.
func (c *Controller) LoadSubmissions(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	if !c.State().Profile.IsAdmin() {
		return c.fail(ErrAdminOnly, "admin.required")
	}

	subs, err := c.survey.Submissions(ctx)
	if err != nil {
		return c.fail(err, "submissions.load_failed")
	}
	c.update(func(s *State) { s.Submissions = subs })
	return nil
}

var transitions = map[View][]View{
	ViewLogin:         {ViewRegister, ViewResetPassword},
	ViewRegister:      {ViewLogin},
	ViewResetPassword: {ViewLogin},
	ViewQuestions:     {ViewAdmin},
	ViewAdmin:         {ViewQuestions},
}

// GoTo switches views. The admin view requires the admin role; signing in and
// out happen through Login and Logout.
func (c *Controller) GoTo(v View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.View == v {
		return nil
	}
	allowed := false
	for _, to := range transitions[c.state.View] {
		if to == v {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrTransition
	}
	if v == ViewAdmin && !c.state.Profile.IsAdmin() {
		c.state.Notice = &Notice{Kind: NoticeError, Text: utils.T(c.locale, "admin.required")}
		return ErrAdminOnly
	}
	if v == ViewResetPassword {
		c.state.ResetSent = false
	}
	c.state.View = v
	return nil
}

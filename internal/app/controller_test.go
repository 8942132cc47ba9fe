package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/backend/backendtest"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestController(auth backend.Auth, fake *backendtest.Fake) *Controller {
	profiles := services.NewProfileService(fake, nil, services.ProfileConfig{})
	survey := services.NewSurveyService(fake, nil)
	return New(auth, profiles, survey, Options{Locale: "en", ResetRedirect: "sondeo://reset"})
}

func signedInController(t *testing.T, role models.Role) (*Controller, *backendtest.Fake, backend.User) {
	t.Helper()
	fake := backendtest.New()
	user := fake.AddUser("ana@example.com", "secret1")
	fake.Seed(models.TableProfiles, models.Profile{ID: user.ID, Email: user.Email, Role: role})
	c := newTestController(fake, fake)
	require.NoError(t, c.Login(context.Background(), "ana@example.com", "secret1"))
	fake.ResetCalls()
	return c, fake, user
}

func noticeText(s State) string {
	if s.Notice == nil {
		return ""
	}
	return s.Notice.Text
}

func TestStartWithoutSessionStaysOnLogin(t *testing.T) {
	fake := backendtest.New()
	fake.Seed(models.TableQuestions, map[string]any{"text": "Why?", "type": "text"})
	c := newTestController(fake, fake)

	require.NoError(t, c.Start(context.Background()))

	s := c.State()
	assert.Equal(t, ViewLogin, s.View)
	assert.False(t, s.Authenticated())
	assert.Len(t, s.Questions, 1)
	assert.False(t, s.Loading)
}

func TestStartRestoresSession(t *testing.T) {
	fake := backendtest.New()
	user := fake.AddUser("ana@example.com", "secret1")
	fake.SetSession(&backend.Session{AccessToken: "tok", User: user})
	c := newTestController(fake, fake)

	require.NoError(t, c.Start(context.Background()))

	s := c.State()
	assert.Equal(t, ViewQuestions, s.View)
	require.NotNil(t, s.Profile)
	assert.Equal(t, models.RoleUser, s.Profile.Role)
	assert.Len(t, fake.Rows(models.TableProfiles), 1)
}

func TestStartFailsSafeOnProfileLookupError(t *testing.T) {
	fake := backendtest.New()
	user := fake.AddUser("ana@example.com", "secret1")
	fake.SetSession(&backend.Session{AccessToken: "tok", User: user})
	fake.Fail("select", models.TableProfiles, backend.NewError(http.StatusInternalServerError, "", "boom"))
	c := newTestController(fake, fake)

	require.NoError(t, c.Start(context.Background()))

	s := c.State()
	assert.Equal(t, ViewLogin, s.View)
	assert.Nil(t, s.Notice)
}

func TestStartHidesMissingTablesUntilSignedIn(t *testing.T) {
	fake := backendtest.New()
	fake.DropTable(models.TableQuestions)
	c := newTestController(fake, fake)
	require.NoError(t, c.Start(context.Background()))
	assert.Nil(t, c.State().Notice)

	fake = backendtest.New()
	user := fake.AddUser("ana@example.com", "secret1")
	fake.SetSession(&backend.Session{AccessToken: "tok", User: user})
	fake.DropTable(models.TableQuestions)
	c = newTestController(fake, fake)
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "Error: the database tables do not exist. Please run the migrations.", noticeText(c.State()))
}

func TestLoginWrongCredentialsTouchesNoProfile(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("ana@example.com", "secret1")
	c := newTestController(fake, fake)

	err := c.Login(context.Background(), "ana@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, services.ReasonInvalidCredentials, services.ReasonOf(err))

	s := c.State()
	assert.Equal(t, ViewLogin, s.View)
	assert.Equal(t, "Incorrect email or password", noticeText(s))
	assert.Empty(t, fake.Rows(models.TableProfiles))
	assert.Zero(t, fake.CallCount("insert", ""))
	assert.Zero(t, fake.CallCount("update", ""))
}

func TestLoginReconcilesAndLoadsQuestions(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("ana@example.com", "secret1")
	fake.Seed(models.TableQuestions, map[string]any{"text": "Why?", "type": "text"})
	c := newTestController(fake, fake)

	require.NoError(t, c.Login(context.Background(), " ana@example.com ", "secret1"))

	s := c.State()
	assert.Equal(t, ViewQuestions, s.View)
	require.NotNil(t, s.Profile)
	assert.Equal(t, "ana@example.com", s.Profile.Email)
	assert.Equal(t, models.RoleUser, s.Profile.Role)
	assert.Len(t, s.Questions, 1)
	assert.Equal(t, &Notice{Kind: NoticeSuccess, Text: "Welcome!"}, s.Notice)
}

func TestLoginProfileFailureStaysOnLogin(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("ana@example.com", "secret1")
	fake.Fail("insert", models.TableProfiles, backend.NewError(http.StatusInternalServerError, "", "boom"))
	c := newTestController(fake, fake)

	err := c.Login(context.Background(), "ana@example.com", "secret1")
	assert.Equal(t, services.ErrorReconciliation, services.CodeOf(err))
	s := c.State()
	assert.Equal(t, ViewLogin, s.View)
	assert.Equal(t, "Could not create the profile", noticeText(s))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("password mismatch never calls the backend", func(t *testing.T) {
		fake := backendtest.New()
		c := newTestController(fake, fake)
		require.NoError(t, c.GoTo(ViewRegister))
		err := c.Register(ctx, "new@example.com", "secret1", "secret2")
		assert.Equal(t, services.ReasonPasswordMismatch, services.ReasonOf(err))
		assert.Equal(t, "Passwords do not match", noticeText(c.State()))
		assert.Empty(t, fake.Calls())
	})

	t.Run("duplicate", func(t *testing.T) {
		fake := backendtest.New()
		fake.AddUser("ana@example.com", "secret1")
		c := newTestController(fake, fake)
		err := c.Register(ctx, "ana@example.com", "secret1", "secret1")
		assert.Equal(t, services.ReasonDuplicateRegistration, services.ReasonOf(err))
		assert.Equal(t, "This email address is already registered", noticeText(c.State()))
	})

	t.Run("weak password", func(t *testing.T) {
		fake := backendtest.New()
		c := newTestController(fake, fake)
		err := c.Register(ctx, "new@example.com", "123", "123")
		assert.Equal(t, services.ReasonWeakPassword, services.ReasonOf(err))
		assert.Equal(t, "The password must be at least 6 characters long", noticeText(c.State()))
	})

	t.Run("success returns to login", func(t *testing.T) {
		fake := backendtest.New()
		c := newTestController(fake, fake)
		require.NoError(t, c.GoTo(ViewRegister))
		require.NoError(t, c.Register(ctx, "new@example.com", "secret1", "secret1"))
		s := c.State()
		assert.Equal(t, ViewLogin, s.View)
		assert.False(t, s.Authenticated())
		assert.Equal(t, NoticeSuccess, s.Notice.Kind)
		rows := fake.Rows(models.TableProfiles)
		require.Len(t, rows, 1)
		assert.Equal(t, "user", rows[0]["role"])
	})

	t.Run("profile failure is not fatal", func(t *testing.T) {
		fake := backendtest.New()
		fake.Fail("select", models.TableProfiles, backend.NewError(http.StatusForbidden, "42501", "permission denied for table profiles"))
		c := newTestController(fake, fake)
		require.NoError(t, c.Register(ctx, "new@example.com", "secret1", "secret1"))
		assert.Equal(t, NoticeSuccess, c.State().Notice.Kind)
	})
}

func TestRequestPasswordReset(t *testing.T) {
	fake := backendtest.New()
	c := newTestController(fake, fake)
	require.NoError(t, c.GoTo(ViewResetPassword))

	err := c.RequestPasswordReset(context.Background(), "  ")
	assert.Equal(t, services.ErrorValidation, services.CodeOf(err))
	assert.False(t, c.State().ResetSent)

	require.NoError(t, c.RequestPasswordReset(context.Background(), "ana@example.com"))
	s := c.State()
	assert.True(t, s.ResetSent)
	assert.Equal(t, ViewResetPassword, s.View)
	assert.Equal(t, 1, fake.CallCount("resetPassword", ""))

	require.NoError(t, c.GoTo(ViewLogin))
	require.NoError(t, c.GoTo(ViewResetPassword))
	assert.False(t, c.State().ResetSent)
}

func TestRequestPasswordResetFailure(t *testing.T) {
	fake := backendtest.New()
	fake.Fail("resetPassword", "", backend.NewError(http.StatusTooManyRequests, "over_email_send_rate_limit", "email rate limit exceeded"))
	c := newTestController(fake, fake)

	require.Error(t, c.RequestPasswordReset(context.Background(), "ana@example.com"))
	s := c.State()
	assert.False(t, s.ResetSent)
	assert.Equal(t, "Could not send the recovery email: email rate limit exceeded", noticeText(s))
}

func TestCreateAdminTwiceFromLoginScreen(t *testing.T) {
	fake := backendtest.New()
	c := newTestController(fake, fake)
	ctx := context.Background()

	require.NoError(t, c.CreateAdmin(ctx, "boss@example.com", "secret1"))
	assert.Equal(t, "Administrator created", noticeText(c.State()))
	require.NoError(t, c.CreateAdmin(ctx, "boss@example.com", "secret1"))
	assert.Equal(t, "User promoted to administrator", noticeText(c.State()))

	rows := fake.Rows(models.TableProfiles)
	require.Len(t, rows, 1)
	assert.Equal(t, "admin", rows[0]["role"])
	assert.Equal(t, ViewLogin, c.State().View)
}

func TestCreateAdminValidation(t *testing.T) {
	fake := backendtest.New()
	c := newTestController(fake, fake)

	require.Error(t, c.CreateAdmin(context.Background(), "", "secret1"))
	assert.Equal(t, "Email or password missing", noticeText(c.State()))

	require.Error(t, c.CreateAdmin(context.Background(), "boss@example.com", "short"))
	assert.Equal(t, "The password must be at least 6 characters long", noticeText(c.State()))
	assert.Empty(t, fake.Calls())
}

func TestCreateAdminFromPanelAdoptsPromotedSession(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleAdmin)
	require.NoError(t, c.GoTo(ViewAdmin))

	require.NoError(t, c.CreateAdmin(context.Background(), "second@example.com", "secret1"))

	s := c.State()
	require.NotNil(t, s.Profile)
	assert.Equal(t, "second@example.com", s.Profile.Email)
	assert.True(t, s.Profile.IsAdmin())
	assert.Equal(t, ViewAdmin, s.View)
	assert.Len(t, fake.Rows(models.TableProfiles), 2)
}

func TestLogoutResetsState(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleUser)
	c.SetAnswer("q1", "x")

	require.NoError(t, c.Logout(context.Background()))

	s := c.State()
	assert.Equal(t, ViewLogin, s.View)
	assert.Nil(t, s.Profile)
	assert.Empty(t, s.Pending)
	assert.Equal(t, "Signed out", noticeText(s))
	assert.Equal(t, 1, fake.CallCount("signOut", ""))
}

func TestLogoutIgnoresBackendFailure(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleUser)
	fake.Fail("signOut", "", backend.NetworkError(context.DeadlineExceeded))

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, ViewLogin, c.State().View)
}

func TestSetAnswerEmptyRemovesDraft(t *testing.T) {
	c, _, _ := signedInController(t, models.RoleUser)
	c.SetAnswer("q1", "x")
	c.SetAnswer("q2", "y")
	c.SetAnswer("q1", "")
	assert.Equal(t, services.PendingAnswers{"q2": "y"}, c.State().Pending)
}

func TestSubmitAnswers(t *testing.T) {
	c, fake, user := signedInController(t, models.RoleUser)
	ctx := context.Background()

	err := c.SubmitAnswers(ctx)
	assert.Equal(t, services.ErrorNoOp, services.CodeOf(err))
	assert.Equal(t, "There are no answers to save", noticeText(c.State()))
	assert.Empty(t, fake.Calls())

	c.SetAnswer("q1", "x")
	c.SetAnswer("q2", "y")
	require.NoError(t, c.SubmitAnswers(ctx))
	assert.Empty(t, c.State().Pending)
	assert.Equal(t, 1, fake.CallCount("insert", models.TableAnswers))
	for _, r := range fake.Rows(models.TableAnswers) {
		assert.Equal(t, user.ID, r["user_id"])
	}
}

func TestSubmitAnswersFailureKeepsDrafts(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleUser)
	fake.Fail("insert", models.TableAnswers, backend.NewError(http.StatusBadRequest, "22P02", "invalid input syntax for type uuid"))
	c.SetAnswer("q1", "x")

	require.Error(t, c.SubmitAnswers(context.Background()))
	s := c.State()
	assert.Equal(t, services.PendingAnswers{"q1": "x"}, s.Pending)
	assert.Equal(t, "Could not save the answers: invalid input syntax for type uuid", noticeText(s))
}

func TestCreateQuestionFlow(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleAdmin)
	ctx := context.Background()

	c.SetQuestionDraft(QuestionForm{Text: "", Type: models.QuestionText})
	require.Error(t, c.CreateQuestion(ctx))
	assert.Equal(t, "The question text is required", noticeText(c.State()))

	c.SetQuestionDraft(QuestionForm{Text: "Color?", Type: models.QuestionSelect, Options: " , "})
	require.Error(t, c.CreateQuestion(ctx))
	assert.Equal(t, "Select questions need at least one option", noticeText(c.State()))
	assert.Zero(t, fake.CallCount("insert", ""))

	c.SetQuestionDraft(QuestionForm{Text: "Color?", Type: models.QuestionSelect, Options: "A, B ,C"})
	require.NoError(t, c.CreateQuestion(ctx))
	s := c.State()
	assert.Equal(t, QuestionForm{Type: models.QuestionText}, s.Draft)
	require.Len(t, s.Questions, 1)
	assert.Equal(t, []string{"A", "B", "C"}, s.Questions[0].Options)

	require.NoError(t, c.DeleteQuestion(ctx, s.Questions[0].ID))
	assert.Empty(t, c.State().Questions)
	assert.Equal(t, "Question deleted", noticeText(c.State()))
}

func TestCreateQuestionDeniedIsRepositoryError(t *testing.T) {
	c, fake, _ := signedInController(t, models.RoleUser)
	fake.Fail("insert", models.TableQuestions, backend.NewError(http.StatusForbidden, "42501",
		`new row violates row-level security policy for table "questions"`))
	c.SetQuestionDraft(QuestionForm{Text: "Sneaky?", Type: models.QuestionText})

	err := c.CreateQuestion(context.Background())
	assert.Equal(t, services.ErrorRepository, services.CodeOf(err))
	assert.Equal(t, "You are not allowed to do this", noticeText(c.State()))
}

func TestAdminViewRequiresRole(t *testing.T) {
	c, _, _ := signedInController(t, models.RoleUser)
	assert.ErrorIs(t, c.GoTo(ViewAdmin), ErrAdminOnly)
	assert.Equal(t, ViewQuestions, c.State().View)
	assert.ErrorIs(t, c.LoadSubmissions(context.Background()), ErrAdminOnly)
	assert.ErrorIs(t, c.GoTo(ViewRegister), ErrTransition)

	admin, _, _ := signedInController(t, models.RoleAdmin)
	require.NoError(t, admin.GoTo(ViewAdmin))
	require.NoError(t, admin.LoadSubmissions(context.Background()))
	assert.NotNil(t, admin.State().Submissions)
	require.NoError(t, admin.GoTo(ViewQuestions))
}

// gatedAuth holds SignIn until released so overlapping actions can be observed.
type gatedAuth struct {
	*backendtest.Fake
	entered chan struct{}
	release chan struct{}
}

func (g gatedAuth) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	close(g.entered)
	<-g.release
	return g.Fake.SignIn(ctx, email, password)
}

func TestOverlappingActionsReturnBusy(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("ana@example.com", "secret1")
	auth := gatedAuth{Fake: fake, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(auth, fake)

	done := make(chan error, 1)
	go func() { done <- c.Login(context.Background(), "ana@example.com", "secret1") }()
	<-auth.entered

	assert.True(t, c.State().Loading)
	assert.ErrorIs(t, c.Register(context.Background(), "x@example.com", "secret1", "secret1"), ErrBusy)
	assert.ErrorIs(t, c.SubmitAnswers(context.Background()), ErrBusy)
	// the role check must not run while another action is outstanding
	assert.ErrorIs(t, c.LoadSubmissions(context.Background()), ErrBusy)
	assert.Nil(t, c.State().Notice)
	assert.Zero(t, fake.CallCount("signUp", ""))

	close(auth.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("login did not finish")
	}
	assert.False(t, c.State().Loading)
	assert.Equal(t, ViewQuestions, c.State().View)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/backend/rest"
	"github.com/soaringjerry/Sondeo/internal/db"
	"github.com/soaringjerry/Sondeo/internal/middleware"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *recordingMailer) SendRecovery(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = map[string]string{}
	}
	m.links[email] = link
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	store  *db.SQLiteStore
	router *Router
	mailer *recordingMailer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	_, err = db.RunMigrations(context.Background(), sqlDB, "", nil)
	require.NoError(t, err)
	store, err := db.NewSQLiteStore(sqlDB, nil)
	require.NoError(t, err)
	signer, err := middleware.NewSigner("test-secret")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AnonKey = "anon"
	cfg.ProvisionDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	mailer := &recordingMailer{}
	router, err := NewRouter(store, signer, cfg, mailer, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(func() {
		srv.Close()
		router.Close()
		_ = sqlDB.Close()
	})
	return &testEnv{srv: srv, store: store, router: router, mailer: mailer}
}

func (e *testEnv) client(t *testing.T) *rest.Client {
	t.Helper()
	c, err := rest.New(rest.Config{URL: e.srv.URL, AnonKey: "anon", HTTPClient: e.srv.Client()})
	require.NoError(t, err)
	return c
}

// signedUp registers email and returns a client signed in as it.
func (e *testEnv) signedUp(t *testing.T, email string, role models.Role) (*rest.Client, backend.User) {
	t.Helper()
	c := e.client(t)
	u, err := c.SignUp(context.Background(), email, "secret1")
	require.NoError(t, err)
	if role == models.RoleAdmin {
		_, err := e.store.Update(context.Background(), models.TableProfiles, db.Row{"role": "admin"}, []db.Filter{{Column: "id", Value: u.ID}})
		require.NoError(t, err)
	}
	return c, *u
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := env.srv.Client().Get(env.srv.URL + "/health?lang=en")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "sondeo", body["name"])
}

func TestRequestsNeedAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := env.srv.Client().Get(env.srv.URL + "/rest/v1/questions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c, err := rest.New(rest.Config{URL: env.srv.URL, AnonKey: "wrong", HTTPClient: env.srv.Client()})
	require.NoError(t, err)
	_, err = c.SignIn(context.Background(), "a@b.c", "secret1")
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
}

func TestSignUpSignInAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client(t)

	_, err := c.SignUp(ctx, "ana@example.com", "123")
	assert.Equal(t, backend.KindWeakPassword, backend.KindOf(err))
	assert.Equal(t, "Password should be at least 6 characters.", backend.MessageOf(err))

	u, err := c.SignUp(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = c.SignUp(ctx, "ANA@example.com", "secret2")
	assert.Equal(t, backend.KindDuplicateRegistration, backend.KindOf(err))

	_, err = c.SignIn(ctx, "ana@example.com", "wrong-password")
	assert.Equal(t, backend.KindInvalidCredentials, backend.KindOf(err))
	_, err = c.SignIn(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, backend.KindInvalidCredentials, backend.KindOf(err))

	s, err := c.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.User.ID)
	assert.Greater(t, s.ExpiresAt, time.Now().Unix())

	me, err := c.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", me.Email)

	// a second client holding the same token loses access once the session is revoked
	shared := rest.NewMemoryStore()
	require.NoError(t, shared.Save(s))
	stale, err := rest.New(rest.Config{URL: env.srv.URL, AnonKey: "anon", HTTPClient: env.srv.Client(), Sessions: shared})
	require.NoError(t, err)
	_, err = stale.User(ctx)
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx))
	_, err = stale.User(ctx)
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
	_, err = c.User(ctx)
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
}

func TestSignUpProvisionsProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c, u := env.signedUp(t, "ana@example.com", models.RoleUser)

	role, err := env.store.ProfileRole(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "user", role)

	p, err := services.NewProfileService(c, nil, services.ProfileConfig{}).Reconcile(ctx, u, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, &models.Profile{ID: u.ID, Email: "ana@example.com", Role: models.RoleUser}, p)
}

func TestCloseRunsPendingProvisioning(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ProvisionDelay = time.Hour })
	ctx := context.Background()
	_, u := env.signedUp(t, "ana@example.com", models.RoleUser)

	role, _ := env.store.ProfileRole(ctx, u.ID)
	assert.Empty(t, role)

	env.router.Close()
	role, _ = env.store.ProfileRole(ctx, u.ID)
	assert.Equal(t, "user", role)
}

func TestPromoteAdminWaitsForDelayedProvisioning(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ProvisionDelay = 30 * time.Millisecond })
	ctx := context.Background()
	c := env.client(t)
	profiles := services.NewProfileService(c, nil, services.ProfileConfig{
		Retry: services.RetryPolicy{Attempts: 5, InitialDelay: 20 * time.Millisecond, MaxDelay: 80 * time.Millisecond, Multiplier: 2},
	})

	res, err := profiles.PromoteAdmin(ctx, "boss@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.RoleAdmin, res.Profile.Role)

	again, err := profiles.PromoteAdmin(ctx, "boss@example.com", "secret1")
	require.NoError(t, err)
	assert.False(t, again.Created)

	env.router.Close()
	rows, err := env.store.Select(ctx, models.TableProfiles, db.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "admin", rows[0]["role"])

	_, err = profiles.PromoteAdmin(ctx, "boss@example.com", "another1")
	assert.Equal(t, services.ReasonRegisteredWrongPassword, services.ReasonOf(err))
}

func TestClosedAdminSignupRejectsSelfPromotion(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.OpenAdminSignup = false })
	ctx := context.Background()
	c, u := env.signedUp(t, "ana@example.com", models.RoleUser)

	err := c.Update(ctx, models.TableProfiles, map[string]any{"role": "admin"}, backend.Eq("id", u.ID))
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))

	err = c.Update(ctx, models.TableProfiles, map[string]any{"email": "ana@new.example.com"}, backend.Eq("id", u.ID))
	require.NoError(t, err)
}

func TestQuestionPolicies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	admin, _ := env.signedUp(t, "boss@example.com", models.RoleAdmin)
	user, anaUser := env.signedUp(t, "ana@example.com", models.RoleUser)

	adminSurvey := services.NewSurveyService(admin, nil)
	userSurvey := services.NewSurveyService(user, nil)

	err := userSurvey.CreateQuestion(ctx, "Color?", models.QuestionSelect, "red, blue")
	assert.Equal(t, services.ReasonPermissionDenied, services.ReasonOf(err))

	require.NoError(t, adminSurvey.CreateQuestion(ctx, "Color?", models.QuestionSelect, "red, blue"))
	require.NoError(t, adminSurvey.CreateQuestion(ctx, "Why?", models.QuestionText, ""))

	qs, err := userSurvey.ListQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "Why?", qs[0].Text)
	assert.Nil(t, qs[0].Options)
	assert.Equal(t, []string{"red", "blue"}, qs[1].Options)

	err = userSurvey.DeleteQuestion(ctx, qs[0].ID)
	assert.Equal(t, services.ReasonPermissionDenied, services.ReasonOf(err))
	require.NoError(t, adminSurvey.DeleteQuestion(ctx, qs[0].ID))

	// profiles outlive every request, even an admin's
	err = admin.Delete(ctx, models.TableProfiles, backend.Eq("id", anaUser.ID))
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
	role, err := env.store.ProfileRole(ctx, anaUser.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoleUser), role)

	anon := services.NewSurveyService(env.client(t), nil)
	visible, err := anon.ListQuestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestAnswerPolicies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	admin, _ := env.signedUp(t, "boss@example.com", models.RoleAdmin)
	ana, anaUser := env.signedUp(t, "ana@example.com", models.RoleUser)
	bob, bobUser := env.signedUp(t, "bob@example.com", models.RoleUser)

	require.NoError(t, services.NewSurveyService(admin, nil).CreateQuestion(ctx, "Color?", models.QuestionText, ""))
	qs, err := services.NewSurveyService(ana, nil).ListQuestions(ctx)
	require.NoError(t, err)
	qid := qs[0].ID

	require.NoError(t, services.NewSurveyService(ana, nil).SubmitAnswers(ctx, anaUser.ID, services.PendingAnswers{qid: "blue"}))
	require.NoError(t, services.NewSurveyService(bob, nil).SubmitAnswers(ctx, bobUser.ID, services.PendingAnswers{qid: "red"}))

	err = services.NewSurveyService(bob, nil).SubmitAnswers(ctx, anaUser.ID, services.PendingAnswers{qid: "forged"})
	assert.Equal(t, services.ReasonPermissionDenied, services.ReasonOf(err))

	own, err := services.NewSurveyService(ana, nil).ListAnswers(ctx, services.AnswerFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "blue", own[0].AnswerText)

	subs, err := services.NewSurveyService(admin, nil).Submissions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, s := range subs {
		assert.Equal(t, "Color?", s.QuestionText)
		assert.True(t, strings.HasSuffix(s.UserEmail, "@example.com"), s.UserEmail)
	}

	err = ana.Delete(ctx, models.TableAnswers, backend.Eq("id", own[0].ID))
	assert.Equal(t, backend.KindPermissionDenied, backend.KindOf(err))
}

func TestTableErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c, _ := env.signedUp(t, "boss@example.com", models.RoleAdmin)

	err := c.Insert(ctx, models.TableQuestions, map[string]any{"text": "x", "type": "text", "weight": "2"})
	require.Error(t, err)
	assert.Equal(t, backend.KindUnknown, backend.KindOf(err))
	assert.Contains(t, backend.MessageOf(err), "'weight' column")

	err = c.Select(ctx, "surveys", backend.Query{}, &[]map[string]any{})
	assert.Equal(t, backend.KindMissingRelation, backend.KindOf(err))

	err = c.Delete(ctx, models.TableQuestions)
	require.Error(t, err)
	assert.Contains(t, backend.MessageOf(err), "WHERE clause")

	_, err = env.store.DB().ExecContext(ctx, `DROP TABLE questions`)
	require.NoError(t, err)
	_, err = services.NewSurveyService(c, nil).ListQuestions(ctx)
	assert.Equal(t, services.ReasonMissingRelation, services.ReasonOf(err))
}

func TestRecoverSendsLinkOnlyForKnownEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c, _ := env.signedUp(t, "ana@example.com", models.RoleUser)

	require.NoError(t, c.ResetPassword(ctx, "nobody@example.com", "https://app.example.com/reset"))
	require.NoError(t, c.ResetPassword(ctx, "ana@example.com", "https://app.example.com/reset"))

	env.mailer.mu.Lock()
	defer env.mailer.mu.Unlock()
	assert.Len(t, env.mailer.links, 1)
	assert.True(t, strings.HasPrefix(env.mailer.links["ana@example.com"], "https://app.example.com/reset#type=recovery&token="))
}

func TestParseTableQuery(t *testing.T) {
	tq, err := parseTableQuery(map[string][]string{
		"select": {"id,text"},
		"order":  {"created_at.desc.nullslast"},
		"limit":  {"5"},
		"type":   {"eq.select"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "text"}, tq.columns)
	assert.Equal(t, db.Query{Filters: []db.Filter{{Column: "type", Value: "select"}}, Order: "created_at", Desc: true, Limit: 5}, tq.query)

	_, err = parseTableQuery(map[string][]string{"type": {"like.sel*"}})
	assert.Error(t, err)
	_, err = parseTableQuery(map[string][]string{"limit": {"-1"}})
	assert.Error(t, err)
}

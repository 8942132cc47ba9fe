//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/soaringjerry/Sondeo/internal/app"
	"github.com/soaringjerry/Sondeo/internal/backend/rest"
	"github.com/soaringjerry/Sondeo/internal/config"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
)

func baseURL() string {
	if v := os.Getenv("SONDEO_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8787"
}

func anonKey() string {
	if v := os.Getenv("SONDEO_TEST_ANON_KEY"); strings.TrimSpace(v) != "" {
		return v
	}
	return config.DevAnonKey
}

type session struct {
	client   *rest.Client
	profiles *services.ProfileService
	survey   *services.SurveyService
	ctrl     *app.Controller
}

func newSession(t *testing.T) *session {
	t.Helper()
	client, err := rest.New(rest.Config{
		URL:        baseURL(),
		AnonKey:    anonKey(),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	profiles := services.NewProfileService(client, nil, services.ProfileConfig{Retry: services.DefaultRetryPolicy()})
	survey := services.NewSurveyService(client, nil)
	return &session{
		client:   client,
		profiles: profiles,
		survey:   survey,
		ctrl:     app.New(client, profiles, survey, app.Options{Locale: "en"}),
	}
}

func TestHealth(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		OK   bool   `json:"ok"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !body.OK {
		t.Fatalf("unexpected health response: %+v", body)
	}
}

func TestSurveyJourneyIntegration(t *testing.T) {
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	adminEmail := fmt.Sprintf("admin_%d@example.com", stamp)
	userEmail := fmt.Sprintf("user_%d@example.com", stamp)
	password := "Secret123!"
	questionText := fmt.Sprintf("Integration question %d", stamp)

	admin := newSession(t)
	res, err := admin.profiles.PromoteAdmin(ctx, adminEmail, password)
	if err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	if !res.Created || !res.Profile.IsAdmin() {
		t.Fatalf("unexpected promotion result: %+v", res.Profile)
	}
	if err := admin.survey.CreateQuestion(ctx, questionText, models.QuestionSelect, "yes, no"); err != nil {
		t.Fatalf("create question: %v", err)
	}

	user := newSession(t)
	if err := user.ctrl.Register(ctx, userEmail, password, password); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := user.ctrl.Login(ctx, userEmail, password); err != nil {
		t.Fatalf("login: %v", err)
	}
	st := user.ctrl.State()
	if st.View != app.ViewQuestions || st.Profile.Role != models.RoleUser {
		t.Fatalf("unexpected state after login: view=%s profile=%+v", st.View, st.Profile)
	}
	var qid string
	for _, q := range st.Questions {
		if q.Text == questionText {
			qid = q.ID
		}
	}
	if qid == "" {
		t.Fatalf("created question not listed for the user")
	}
	user.ctrl.SetAnswer(qid, "yes")
	if err := user.ctrl.SubmitAnswers(ctx); err != nil {
		t.Fatalf("submit answers: %v", err)
	}
	if err := user.ctrl.GoTo(app.ViewAdmin); err == nil {
		t.Fatalf("regular user opened the admin view")
	}

	subs, err := admin.survey.Submissions(ctx)
	if err != nil {
		t.Fatalf("load submissions: %v", err)
	}
	csvData, err := services.ExportSubmissions(subs, services.ExportLong)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(csvData), userEmail) || !strings.Contains(string(csvData), questionText) {
		t.Fatalf("export did not contain the submission; csv=%s", csvData)
	}

	if err := admin.survey.DeleteQuestion(ctx, qid); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	if err := user.ctrl.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

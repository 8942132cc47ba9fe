package services

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/backend"
	"github.com/soaringjerry/Sondeo/internal/models"
)

// PendingAnswers maps question id to draft answer text for the current session.
type PendingAnswers map[string]string

// QuestionDraft is a question as authored, before the backend assigns id and timestamp.
type QuestionDraft struct {
	Text    string              `yaml:"text"`
	Type    models.QuestionType `yaml:"type"`
	Options []string            `yaml:"options,omitempty"`
}

type AnswerFilter struct {
	QuestionID string
	UserID     string
}

type newQuestionRow struct {
	Text    string              `json:"text"`
	Type    models.QuestionType `json:"type"`
	Options []string            `json:"options"`
}

type newAnswerRow struct {
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	AnswerText string `json:"answer_text"`
}

// SurveyService is the question/answer repository.
type SurveyService struct {
	client backend.Tables
	log    *zap.Logger
}

func NewSurveyService(client backend.Tables, logger *zap.Logger) *SurveyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SurveyService{client: client, log: logger}
}

// ParseOptions splits comma separated input into trimmed, non-empty options, keeping order.
func ParseOptions(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ListQuestions returns all questions, newest first.
func (s *SurveyService) ListQuestions(ctx context.Context) ([]models.Question, error) {
	qs, err := backend.SelectAll[models.Question](ctx, s.client, models.TableQuestions,
		backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, NewRepositoryError("list questions", err)
	}
	return qs, nil
}

// CreateQuestion stores a question. For select questions optionsCSV is parsed with
// ParseOptions; text questions store no options at all.
func (s *SurveyService) CreateQuestion(ctx context.Context, text string, qtype models.QuestionType, optionsCSV string) error {
	var opts []string
	if qtype == models.QuestionSelect {
		opts = ParseOptions(optionsCSV)
	}
	return s.createQuestion(ctx, QuestionDraft{Text: text, Type: qtype, Options: opts})
}

func (s *SurveyService) createQuestion(ctx context.Context, d QuestionDraft) error {
	row, err := normalizeDraft(d)
	if err != nil {
		return err
	}
	if err := s.client.Insert(ctx, models.TableQuestions, row); err != nil {
		s.log.Error("create question failed", zap.Error(err))
		return NewRepositoryError("create question", err)
	}
	s.log.Info("question created", zap.String("type", string(row.Type)), zap.Int("options", len(row.Options)))
	return nil
}

func normalizeDraft(d QuestionDraft) (newQuestionRow, error) {
	text := strings.TrimSpace(d.Text)
	if text == "" {
		return newQuestionRow{}, NewValidationError("question text required")
	}
	if d.Type == "" {
		d.Type = models.QuestionText
	}
	switch d.Type {
	case models.QuestionText:
		return newQuestionRow{Text: text, Type: d.Type}, nil
	case models.QuestionSelect:
		opts := make([]string, 0, len(d.Options))
		for _, o := range d.Options {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
		if len(opts) == 0 {
			return newQuestionRow{}, NewValidationError("select question needs at least one option")
		}
		return newQuestionRow{Text: text, Type: d.Type, Options: opts}, nil
	default:
		return newQuestionRow{}, NewValidationError("unknown question type " + string(d.Type))
	}
}

// ImportQuestions creates drafts in order and stops at the first failure,
// returning how many were created.
func (s *SurveyService) ImportQuestions(ctx context.Context, drafts []QuestionDraft) (int, error) {
	for i, d := range drafts {
		if err := s.createQuestion(ctx, d); err != nil {
			return i, err
		}
	}
	return len(drafts), nil
}

// DeleteQuestion removes the question only; its answers stay, pointing at a dangling id.
func (s *SurveyService) DeleteQuestion(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError("question id required")
	}
	if err := s.client.Delete(ctx, models.TableQuestions, backend.Eq("id", id)); err != nil {
		s.log.Error("delete question failed", zap.String("question_id", id), zap.Error(err))
		return NewRepositoryError("delete question", err)
	}
	s.log.Info("question deleted", zap.String("question_id", id))
	return nil
}

// SubmitAnswers inserts every pending answer in one batch stamped with userID and
// clears pending on success. An empty batch fails without contacting the backend.
// The batch is not transactional: a failure may leave some rows stored.
func (s *SurveyService) SubmitAnswers(ctx context.Context, userID string, pending PendingAnswers) error {
	if len(pending) == 0 {
		return NewNoOpError("no answers to submit")
	}
	if strings.TrimSpace(userID) == "" {
		return NewValidationError("no signed-in user")
	}
	qids := make([]string, 0, len(pending))
	for qid := range pending {
		qids = append(qids, qid)
	}
	sort.Strings(qids)
	rows := make([]newAnswerRow, 0, len(qids))
	for _, qid := range qids {
		rows = append(rows, newAnswerRow{QuestionID: qid, UserID: userID, AnswerText: pending[qid]})
	}
	if err := s.client.Insert(ctx, models.TableAnswers, rows); err != nil {
		s.log.Error("submit answers failed", zap.String("user_id", userID), zap.Int("answers", len(rows)), zap.Error(err))
		return NewRepositoryError("submit answers", err)
	}
	clear(pending)
	s.log.Info("answers submitted", zap.String("user_id", userID), zap.Int("answers", len(rows)))
	return nil
}

// ListAnswers returns answers matching f, newest first.
func (s *SurveyService) ListAnswers(ctx context.Context, f AnswerFilter) ([]models.Answer, error) {
	q := backend.Query{}
	if f.QuestionID != "" {
		q.Filters = append(q.Filters, backend.Eq("question_id", f.QuestionID))
	}
	if f.UserID != "" {
		q.Filters = append(q.Filters, backend.Eq("user_id", f.UserID))
	}
	as, err := backend.SelectAll[models.Answer](ctx, s.client, models.TableAnswers, q.OrderBy("created_at", false))
	if err != nil {
		return nil, NewRepositoryError("list answers", err)
	}
	return as, nil
}

// Submissions lists every visible answer with its question text and respondent email.
func (s *SurveyService) Submissions(ctx context.Context) ([]models.Submission, error) {
	answers, err := s.ListAnswers(ctx, AnswerFilter{})
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := backend.SelectAll[models.Profile](ctx, s.client, models.TableProfiles, backend.Query{})
	if err != nil {
		return nil, NewRepositoryError("list profiles", err)
	}
	texts := make(map[string]string, len(questions))
	for _, q := range questions {
		texts[q.ID] = q.Text
	}
	emails := make(map[string]string, len(profiles))
	for _, p := range profiles {
		emails[p.ID] = p.Email
	}
	out := make([]models.Submission, 0, len(answers))
	for _, a := range answers {
		out = append(out, models.Submission{Answer: a, QuestionText: texts[a.QuestionID], UserEmail: emails[a.UserID]})
	}
	return out, nil
}

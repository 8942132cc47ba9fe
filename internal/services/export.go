package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"time"

	"github.com/soaringjerry/Sondeo/internal/models"
)

// ExportFormat selects the CSV layout for submissions.
type ExportFormat string

const (
	ExportLong ExportFormat = "long"
	ExportWide ExportFormat = "wide"
)

// ExportSubmissions renders subs in the requested layout.
func ExportSubmissions(subs []models.Submission, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportLong, "":
		return ExportLongCSV(subs)
	case ExportWide:
		return ExportWideCSV(subs)
	default:
		return nil, NewValidationError("unsupported export format " + string(format))
	}
}

// ExportLongCSV renders one row per answer.
func ExportLongCSV(subs []models.Submission) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"answer_id", "question_id", "question_text", "user_id", "user_email", "answer_text", "created_at"})
	for _, s := range subs {
		rec := []string{
			s.ID,
			s.QuestionID,
			s.QuestionText,
			s.UserID,
			s.UserEmail,
			s.AnswerText,
			s.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportWideCSV renders one row per respondent and one column per question.
// When a respondent answered a question more than once the most recent answer wins.
func ExportWideCSV(subs []models.Submission) ([]byte, error) {
	cells := map[string]map[string]string{}
	stamp := map[string]map[string]time.Time{}
	for _, s := range subs {
		who := s.UserEmail
		if who == "" {
			who = s.UserID
		}
		col := s.QuestionText
		if col == "" {
			col = s.QuestionID
		}
		if cells[who] == nil {
			cells[who] = map[string]string{}
			stamp[who] = map[string]time.Time{}
		}
		if prev, ok := stamp[who][col]; ok && !s.CreatedAt.After(prev) {
			continue
		}
		cells[who][col] = s.AnswerText
		stamp[who][col] = s.CreatedAt
	}

	colSet := map[string]struct{}{}
	for _, m := range cells {
		for c := range m {
			colSet[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	respondents := make([]string, 0, len(cells))
	for who := range cells {
		respondents = append(respondents, who)
	}
	sort.Strings(respondents)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(append([]string{"respondent"}, cols...))
	for _, who := range respondents {
		row := make([]string, 0, 1+len(cols))
		row = append(row, who)
		for _, c := range cols {
			row = append(row, cells[who][c])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

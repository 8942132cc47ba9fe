package models

import "time"

// Role gates access to question-authoring views.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// QuestionType is either free text or a single choice out of Options.
type QuestionType string

const (
	QuestionText   QuestionType = "text"
	QuestionSelect QuestionType = "select"
)

func (t QuestionType) Valid() bool { return t == QuestionText || t == QuestionSelect }

// Profile binds an authenticated identity to an application role.
// ID is the backend's user id; the profile never owns it.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (p *Profile) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

// Question is created and deleted by admins, never edited in place.
// Options is nil for text questions.
type Question struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Options   []string     `json:"options"`
	CreatedAt time.Time    `json:"created_at"`
}

// Answer is one submitted response. There is no uniqueness per (user, question).
type Answer struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	UserID     string    `json:"user_id"`
	AnswerText string    `json:"answer_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Submission is an answer resolved against its question and respondent for admin views.
// QuestionText is empty when the question was deleted after the answer was stored.
type Submission struct {
	Answer
	QuestionText string `json:"question_text"`
	UserEmail    string `json:"user_email"`
}

// Collection names on the backend.
const (
	TableProfiles  = "profiles"
	TableQuestions = "questions"
	TableAnswers   = "answers"
)

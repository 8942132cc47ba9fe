// Package app holds the client's session and view controller.
package app

import (
	"maps"
	"slices"

	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
)

// View is a screen of the client.
type View string

const (
	ViewLogin         View = "login"
	ViewRegister      View = "register"
	ViewResetPassword View = "reset_password"
	ViewQuestions     View = "questions"
	ViewAdmin         View = "admin"
)

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the single user-facing message produced by the last action.
type Notice struct {
	Kind NoticeKind
	Text string
}

// QuestionForm is the admin's in-progress new question. Options is the raw
// comma separated input.
type QuestionForm struct {
	Text    string
	Type    models.QuestionType
	Options string
}

// State is everything the views render. It is owned by the Controller and only
// changed through its methods; State() hands out copies.
type State struct {
	View View
	// ResetSent is the "email sent" sub-state of the reset password view.
	ResetSent   bool
	Profile     *models.Profile
	Questions   []models.Question
	Pending     services.PendingAnswers
	Draft       QuestionForm
	Submissions []models.Submission
	Loading     bool
	Notice      *Notice
}

func initialState() State {
	return State{
		View:    ViewLogin,
		Pending: services.PendingAnswers{},
		Draft:   QuestionForm{Type: models.QuestionText},
	}
}

// Authenticated reports whether a reconciled profile is held.
func (s State) Authenticated() bool { return s.Profile != nil }

func (s State) clone() State {
	out := s
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	out.Questions = slices.Clone(s.Questions)
	out.Submissions = slices.Clone(s.Submissions)
	out.Pending = maps.Clone(s.Pending)
	if out.Pending == nil {
		out.Pending = services.PendingAnswers{}
	}
	return out
}

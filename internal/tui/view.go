package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/soaringjerry/Sondeo/internal/app"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/utils"
)

var viewTitles = map[app.View]string{
	app.ViewLogin:         "ui.login",
	app.ViewRegister:      "ui.register",
	app.ViewResetPassword: "ui.reset",
	app.ViewQuestions:     "ui.questions",
	app.ViewAdmin:         "ui.admin",
}

var viewHelp = map[app.View]string{
	app.ViewLogin:         "ui.help.login",
	app.ViewRegister:      "ui.help.register",
	app.ViewResetPassword: "ui.help.reset",
	app.ViewQuestions:     "ui.help.questions",
	app.ViewAdmin:         "ui.help.admin",
}

func (m Model) View() string {
	st := m.ctrl.State()

	var b strings.Builder
	b.WriteString(m.renderHeader(st))
	b.WriteString("\n\n")

	switch m.view {
	case app.ViewLogin, app.ViewRegister:
		b.WriteString(m.renderForm(0, len(m.inputs)))
	case app.ViewResetPassword:
		b.WriteString(m.renderForm(0, len(m.inputs)))
		if st.ResetSent {
			b.WriteString("\n")
			b.WriteString(m.styles.Subtitle.Render(m.t("ui.reset_sent_hint")))
		}
	case app.ViewQuestions:
		b.WriteString(m.renderQuestions(st))
	case app.ViewAdmin:
		b.WriteString(m.renderAdmin(st))
	}

	b.WriteString("\n")
	if status := m.renderStatus(st); status != "" {
		b.WriteString("\n")
		b.WriteString(status)
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(m.t(viewHelp[m.view])))
	return m.styles.App.Render(b.String())
}

func (m Model) renderHeader(st app.State) string {
	header := m.styles.Header.Render(m.t("ui.title")) + " " + m.styles.Title.Render(m.t(viewTitles[m.view]))
	if st.Profile != nil {
		who := utils.Tf(m.locale, "ui.signed_in_as", st.Profile.Email, st.Profile.Role)
		header = lipgloss.JoinHorizontal(lipgloss.Top, header, "  ", m.styles.Muted.Render(who))
	}
	return header
}

// renderStatus shows the spinner, the controller notice and the local flash.
func (m Model) renderStatus(st app.State) string {
	var lines []string
	if m.busy || st.Loading {
		lines = append(lines, m.spinner.View())
	}
	if st.Notice != nil {
		style := m.styles.Success
		if st.Notice.Kind == app.NoticeError {
			style = m.styles.Error
		}
		lines = append(lines, style.Render(st.Notice.Text))
	}
	if m.flash != "" {
		lines = append(lines, m.styles.Muted.Render(m.flash))
	}
	return strings.Join(lines, "\n")
}

// renderForm renders inputs[from:to] with their labels.
func (m Model) renderForm(from, to int) string {
	var b strings.Builder
	for i := from; i < to && i < len(m.inputs); i++ {
		label := m.styles.Label
		if i == m.focus {
			label = m.styles.FocusedLabel
		}
		b.WriteString(label.Render(m.labels[i]))
		b.WriteString("\n")
		b.WriteString(m.inputs[i].View())
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderQuestions(st app.State) string {
	if len(st.Questions) == 0 {
		return m.styles.Muted.Render(m.t("ui.no_questions")) + "\n"
	}
	var b strings.Builder
	for i, q := range st.Questions {
		marker := "  "
		text := q.Text
		if i == m.cursor {
			marker = "> "
			text = m.styles.Selected.Render(text)
		}
		b.WriteString(marker + text)
		if _, ok := st.Pending[q.ID]; ok {
			b.WriteString(" " + m.styles.Answered.Render("✓"))
		}
		b.WriteString("\n")
		if i != m.cursor {
			continue
		}
		switch q.Type {
		case models.QuestionSelect:
			b.WriteString("    " + m.renderOptions(q.Options, st.Pending[q.ID]) + "\n")
		default:
			b.WriteString("    " + m.answer.View() + "\n")
		}
	}
	if n := len(st.Pending); n > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Subtitle.Render(utils.Tf(m.locale, "ui.pending", n)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderOptions(options []string, chosen string) string {
	parts := make([]string, len(options))
	for i, o := range options {
		if o == chosen {
			parts[i] = m.styles.Chosen.Render(o)
		} else {
			parts[i] = m.styles.Option.Render(o)
		}
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderAdmin(st app.State) string {
	var q strings.Builder
	q.WriteString(m.styles.Title.Render(m.t("ui.new_question")))
	q.WriteString("\n")
	q.WriteString(m.renderForm(fieldQuestionText, fieldQuestionText+1))
	q.WriteString(m.styles.Label.Render(m.t("ui.type")) + ": " + m.renderOptions(
		[]string{string(models.QuestionText), string(models.QuestionSelect)}, string(st.Draft.Type)))
	q.WriteString("\n")
	q.WriteString(m.renderForm(fieldQuestionOptions, fieldQuestionOptions+1))

	var a strings.Builder
	a.WriteString(m.styles.Title.Render(m.t("ui.new_admin")))
	a.WriteString("\n")
	a.WriteString(m.renderForm(fieldAdminEmail, fieldAdminPassword+1))

	var s strings.Builder
	s.WriteString(m.styles.Title.Render(m.t("ui.submissions")))
	s.WriteString("\n")
	s.WriteString(m.subs.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Panel.Render(q.String()),
		m.styles.Panel.Render(a.String()),
		m.styles.Panel.Render(s.String()),
	)
}

// renderSubmissions is the viewport content of the admin view, newest first.
func (m Model) renderSubmissions(st app.State) string {
	if len(st.Submissions) == 0 {
		return m.styles.Muted.Render(m.t("ui.no_submissions"))
	}
	lines := make([]string, 0, len(st.Submissions))
	for _, sub := range st.Submissions {
		question := sub.QuestionText
		if question == "" {
			question = m.t("ui.deleted")
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s: %s",
			m.styles.Muted.Render(sub.CreatedAt.Local().Format("2006-01-02 15:04")),
			sub.UserEmail,
			m.styles.Selected.Render(question),
			sub.AnswerText,
		))
	}
	return strings.Join(lines, "\n")
}

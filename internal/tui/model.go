// Package tui is the terminal front end. It renders app.State and turns key
// presses into controller actions; all state lives in the controller.
package tui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/app"
	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/utils"
)

// admin form fields
const (
	fieldQuestionText = iota
	fieldQuestionOptions
	fieldAdminEmail
	fieldAdminPassword
)

type Options struct {
	// Context is passed to every controller action. Defaults to context.Background.
	Context context.Context
	Logger  *zap.Logger
	Styles  *Styles
}

// actionMsg reports a finished controller action.
type actionMsg struct {
	name string
	err  error
}

type Model struct {
	ctrl   *app.Controller
	ctx    context.Context
	log    *zap.Logger
	locale string
	styles Styles

	spinner spinner.Model
	inputs  []textinput.Model
	labels  []string
	focus   int
	answer  textinput.Model
	subs    viewport.Model

	view   app.View
	cursor int
	busy   bool
	// flash is a local hint that is not a controller notice.
	flash string

	width  int
	height int
}

func New(ctrl *app.Controller, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		ctrl:    ctrl,
		ctx:     opts.Context,
		log:     opts.Logger,
		locale:  ctrl.Locale(),
		styles:  styles,
		spinner: sp,
		answer:  newInput(styles, "", false),
		subs:    viewport.New(80, 10),
		width:   80,
		height:  24,
	}
	m.sync()
	return m
}

func newInput(styles Styles, placeholder string, secret bool) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "│ "
	ti.PromptStyle = styles.Prompt
	ti.CharLimit = 1024
	ti.Width = 60
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return ti
}

func (m Model) t(key string) string { return utils.T(m.locale, key) }

// resetForm builds the inputs of the current view and focuses the first one.
func (m *Model) resetForm() tea.Cmd {
	type spec struct {
		label  string
		secret bool
	}
	var fields []spec
	switch m.view {
	case app.ViewLogin:
		fields = []spec{{"ui.email", false}, {"ui.password", true}}
	case app.ViewRegister:
		fields = []spec{{"ui.email", false}, {"ui.password", true}, {"ui.confirm", true}}
	case app.ViewResetPassword:
		fields = []spec{{"ui.email", false}}
	case app.ViewAdmin:
		fields = []spec{{"ui.question_text", false}, {"ui.options", false}, {"ui.email", false}, {"ui.password", true}}
	}
	m.inputs = make([]textinput.Model, len(fields))
	m.labels = make([]string, len(fields))
	for i, f := range fields {
		m.labels[i] = m.t(f.label)
		m.inputs[i] = newInput(m.styles, m.labels[i], f.secret)
		m.inputs[i].Width = m.inputWidth()
	}
	m.focus = 0
	if m.view == app.ViewAdmin {
		d := m.ctrl.State().Draft
		m.inputs[fieldQuestionText].SetValue(d.Text)
		m.inputs[fieldQuestionOptions].SetValue(d.Options)
	}
	if m.view == app.ViewQuestions {
		m.loadAnswer()
		return m.answer.Focus()
	}
	m.answer.Blur()
	if len(m.inputs) > 0 {
		return m.inputs[0].Focus()
	}
	return nil
}

func (m Model) inputWidth() int {
	if w := m.width - 10; w > 20 {
		return w
	}
	return 20
}

func (m *Model) setFocus(i int) tea.Cmd {
	if len(m.inputs) == 0 {
		return nil
	}
	i = (i%len(m.inputs) + len(m.inputs)) % len(m.inputs)
	for j := range m.inputs {
		m.inputs[j].Blur()
	}
	m.focus = i
	return m.inputs[i].Focus()
}

func (m Model) value(i int) string {
	if i < len(m.inputs) {
		return m.inputs[i].Value()
	}
	return ""
}

// selected returns the question under the cursor.
func (m Model) selected(st app.State) (models.Question, bool) {
	if m.cursor < 0 || m.cursor >= len(st.Questions) {
		return models.Question{}, false
	}
	return st.Questions[m.cursor], true
}

// loadAnswer shows the pending answer of the selected question in the answer input.
func (m *Model) loadAnswer() {
	st := m.ctrl.State()
	q, ok := m.selected(st)
	if !ok {
		m.answer.SetValue("")
		return
	}
	m.answer.SetValue(st.Pending[q.ID])
	m.answer.CursorEnd()
}

// run starts a controller action in the background.
func (m *Model) run(name string, fn func(ctx context.Context) error) tea.Cmd {
	if m.busy {
		m.flash = m.t("busy")
		return nil
	}
	m.busy = true
	m.flash = ""
	ctx := m.ctx
	return tea.Batch(
		func() tea.Msg { return actionMsg{name: name, err: fn(ctx)} },
		m.spinner.Tick,
	)
}

// sync catches up with controller state after an action or view change.
func (m *Model) sync() tea.Cmd {
	st := m.ctrl.State()
	var cmd tea.Cmd
	if st.View != m.view {
		m.view = st.View
		m.cursor = 0
		cmd = m.resetForm()
	}
	if m.cursor >= len(st.Questions) {
		m.cursor = max(len(st.Questions)-1, 0)
	}
	switch m.view {
	case app.ViewQuestions:
		m.loadAnswer()
	case app.ViewAdmin:
		m.inputs[fieldQuestionText].SetValue(st.Draft.Text)
		m.inputs[fieldQuestionOptions].SetValue(st.Draft.Options)
		m.subs.SetContent(m.renderSubmissions(st))
	}
	return cmd
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		func() tea.Msg { return actionMsg{name: "start", err: m.ctrl.Start(m.ctx)} },
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		for i := range m.inputs {
			m.inputs[i].Width = m.inputWidth()
		}
		m.answer.Width = m.inputWidth()
		m.subs.Width = max(msg.Width-8, 20)
		m.subs.Height = max(msg.Height-26, 5)
		return m, nil

	case spinner.TickMsg:
		if m.busy || m.ctrl.State().Loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case actionMsg:
		if msg.name != "start" {
			m.busy = false
		}
		if errors.Is(msg.err, app.ErrBusy) {
			m.flash = m.t("busy")
		}
		if msg.err != nil {
			m.log.Debug("action failed", zap.String("action", msg.name), zap.Error(msg.err))
		}
		cmd := m.sync()
		if msg.err == nil {
			switch msg.name {
			case "login":
				m.clearSecrets()
			case "create_admin":
				if m.view == app.ViewAdmin {
					m.inputs[fieldAdminEmail].SetValue("")
				}
				m.clearSecrets()
			}
		}
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.flash = ""
		switch m.view {
		case app.ViewLogin:
			return m.updateLogin(msg)
		case app.ViewRegister:
			return m.updateRegister(msg)
		case app.ViewResetPassword:
			return m.updateReset(msg)
		case app.ViewQuestions:
			return m.updateQuestions(msg)
		case app.ViewAdmin:
			return m.updateAdmin(msg)
		}
	}
	return m, nil
}

// clearSecrets empties every password input.
func (m *Model) clearSecrets() {
	for i := range m.inputs {
		if m.inputs[i].EchoMode == textinput.EchoPassword {
			m.inputs[i].SetValue("")
		}
	}
}

// updateInput feeds a key to the focused form input.
func (m Model) updateInput(msg tea.KeyMsg) (Model, tea.Cmd) {
	if len(m.inputs) == 0 {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) goTo(v app.View) (Model, tea.Cmd) {
	if err := m.ctrl.GoTo(v); err != nil {
		m.log.Debug("view change refused", zap.String("to", string(v)), zap.Error(err))
		return m, nil
	}
	cmd := m.sync()
	return m, cmd
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "tab", "down":
		cmd := m.setFocus(m.focus + 1)
		return m, cmd
	case "shift+tab", "up":
		cmd := m.setFocus(m.focus - 1)
		return m, cmd
	case "ctrl+n":
		return m.goTo(app.ViewRegister)
	case "ctrl+r":
		return m.goTo(app.ViewResetPassword)
	case "ctrl+a":
		email, password := m.value(0), m.value(1)
		cmd := m.run("create_admin", func(ctx context.Context) error { return m.ctrl.CreateAdmin(ctx, email, password) })
		return m, cmd
	case "enter":
		if m.focus == 0 {
			cmd := m.setFocus(1)
			return m, cmd
		}
		email, password := m.value(0), m.value(1)
		cmd := m.run("login", func(ctx context.Context) error { return m.ctrl.Login(ctx, email, password) })
		return m, cmd
	}
	return m.updateInput(msg)
}

func (m Model) updateRegister(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.goTo(app.ViewLogin)
	case "tab", "down":
		cmd := m.setFocus(m.focus + 1)
		return m, cmd
	case "shift+tab", "up":
		cmd := m.setFocus(m.focus - 1)
		return m, cmd
	case "enter":
		if m.focus < len(m.inputs)-1 {
			cmd := m.setFocus(m.focus + 1)
			return m, cmd
		}
		email, password, confirm := m.value(0), m.value(1), m.value(2)
		cmd := m.run("register", func(ctx context.Context) error {
			return m.ctrl.Register(ctx, email, password, confirm)
		})
		return m, cmd
	}
	return m.updateInput(msg)
}

func (m Model) updateReset(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.goTo(app.ViewLogin)
	case "enter":
		email := m.value(0)
		cmd := m.run("reset", func(ctx context.Context) error { return m.ctrl.RequestPasswordReset(ctx, email) })
		return m, cmd
	}
	return m.updateInput(msg)
}

func (m Model) updateQuestions(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	st := m.ctrl.State()
	switch msg.String() {
	case "up", "shift+tab":
		if m.cursor > 0 {
			m.cursor--
			m.loadAnswer()
		}
		return m, nil
	case "down", "tab":
		if m.cursor < len(st.Questions)-1 {
			m.cursor++
			m.loadAnswer()
		}
		return m, nil
	case "left", "right":
		q, ok := m.selected(st)
		if !ok || q.Type != models.QuestionSelect || len(q.Options) == 0 {
			break
		}
		step := 1
		if msg.String() == "left" {
			step = -1
		}
		m.ctrl.SetAnswer(q.ID, cycleOption(q.Options, st.Pending[q.ID], step))
		return m, nil
	case "ctrl+s":
		cmd := m.run("submit", m.ctrl.SubmitAnswers)
		return m, cmd
	case "ctrl+r":
		cmd := m.run("refresh", m.ctrl.RefreshQuestions)
		return m, cmd
	case "ctrl+o":
		cmd := m.run("logout", m.ctrl.Logout)
		return m, cmd
	case "ctrl+a":
		next, cmd := m.goTo(app.ViewAdmin)
		if next.view != app.ViewAdmin {
			return next, cmd
		}
		load := next.run("submissions", next.ctrl.LoadSubmissions)
		return next, tea.Batch(cmd, load)
	case "ctrl+d":
		q, ok := m.selected(st)
		if !ok {
			return m, nil
		}
		if !st.Profile.IsAdmin() {
			m.flash = m.t("admin.required")
			return m, nil
		}
		cmd := m.run("delete_question", func(ctx context.Context) error { return m.ctrl.DeleteQuestion(ctx, q.ID) })
		return m, cmd
	}

	q, ok := m.selected(st)
	if !ok || q.Type != models.QuestionText {
		return m, nil
	}
	var cmd tea.Cmd
	m.answer, cmd = m.answer.Update(msg)
	m.ctrl.SetAnswer(q.ID, m.answer.Value())
	return m, cmd
}

// cycleOption moves step options away from current; no current answer starts
// at the first or last option.
func cycleOption(options []string, current string, step int) string {
	idx := -1
	for i, o := range options {
		if o == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		if step > 0 {
			return options[0]
		}
		return options[len(options)-1]
	}
	n := len(options)
	return options[((idx+step)%n+n)%n]
}

func (m Model) updateAdmin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.goTo(app.ViewQuestions)
	case "tab", "down":
		cmd := m.setFocus(m.focus + 1)
		return m, cmd
	case "shift+tab", "up":
		cmd := m.setFocus(m.focus - 1)
		return m, cmd
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.subs, cmd = m.subs.Update(msg)
		return m, cmd
	case "ctrl+t":
		d := m.ctrl.State().Draft
		if d.Type == models.QuestionSelect {
			d.Type = models.QuestionText
		} else {
			d.Type = models.QuestionSelect
		}
		m.ctrl.SetQuestionDraft(d)
		return m, nil
	case "ctrl+r":
		cmd := m.run("submissions", m.ctrl.LoadSubmissions)
		return m, cmd
	case "ctrl+o":
		cmd := m.run("logout", m.ctrl.Logout)
		return m, cmd
	case "enter":
		switch m.focus {
		case fieldQuestionText, fieldQuestionOptions:
			cmd := m.run("create_question", m.ctrl.CreateQuestion)
			return m, cmd
		case fieldAdminEmail:
			cmd := m.setFocus(fieldAdminPassword)
			return m, cmd
		default:
			email, password := m.value(fieldAdminEmail), m.value(fieldAdminPassword)
			cmd := m.run("create_admin", func(ctx context.Context) error { return m.ctrl.CreateAdmin(ctx, email, password) })
			return m, cmd
		}
	}

	next, cmd := m.updateInput(msg)
	if next.focus == fieldQuestionText || next.focus == fieldQuestionOptions {
		d := next.ctrl.State().Draft
		d.Text = next.value(fieldQuestionText)
		d.Options = next.value(fieldQuestionOptions)
		next.ctrl.SetQuestionDraft(d)
	}
	return next, cmd
}

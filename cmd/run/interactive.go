package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// historyWindow caps how many past entries the view repaints inline.
const historyWindow = 20

const replPrompt = "qjs > "

type replEntry struct {
	input  string
	output string
	isErr  bool
}

// replModel is the line-at-a-time session: evaluate, echo the rendered
// result, drain the job queue, repeat.
type replModel struct {
	ctx    context.Context
	realm  scriptruntime.Realm
	engine scriptruntime.Engine

	input   textinput.Model
	history []replEntry
	past    []string
	pastIdx int
	busy    bool
	err     error
}

type evalDoneMsg struct {
	input  string
	output string
	isErr  bool
	err    error
}

func newReplModel(ctx context.Context, realm scriptruntime.Realm, eng scriptruntime.Engine) *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render(replPrompt)
	ti.Focus()
	return &replModel{ctx: ctx, realm: realm, engine: eng, input: ti}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "up":
			if m.pastIdx > 0 {
				m.pastIdx--
				m.input.SetValue(m.past[m.pastIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.pastIdx < len(m.past)-1 {
				m.pastIdx++
				m.input.SetValue(m.past[m.pastIdx])
				m.input.CursorEnd()
			} else {
				m.pastIdx = len(m.past)
				m.input.SetValue("")
			}
			return m, nil

		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.past = append(m.past, line)
			m.pastIdx = len(m.past)
			switch line {
			case `\q`:
				return m, tea.Quit
			case `\h`:
				m.history = append(m.history, replEntry{
					input:  line,
					output: `\h  this help, \q  exit, ctrl+d  exit`,
				})
				return m, nil
			}
			m.busy = true
			return m, m.evalLine(line)
		}

	case evalDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.history = append(m.history, replEntry{input: msg.input, output: msg.output, isErr: msg.isErr})
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// evalLine runs one line as a global unit and renders its completion
// value. The job queue is drained after every line so timers and
// settled promises fire between prompts.
func (m *replModel) evalLine(line string) tea.Cmd {
	return func() tea.Msg {
		v, err := m.realm.Eval(m.ctx, []byte(line), "<repl>", scriptruntime.EvalGlobal)
		if err != nil {
			return evalDoneMsg{err: err}
		}
		out, serr := m.realm.ToString(m.ctx, v)
		isErr := scriptruntime.IsException(v)
		m.realm.Free(m.ctx, v)
		if serr != nil {
			return evalDoneMsg{err: serr}
		}
		if derr := runtime.DrainJobs(m.ctx, m.engine); derr != nil {
			return evalDoneMsg{err: derr}
		}
		return evalDoneMsg{input: line, output: out, isErr: isErr}
	}
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("QuickJS"))
	b.WriteString(helpStyle.Render(`  type \h for help`))
	b.WriteString("\n")

	start := 0
	if len(m.history) > historyWindow {
		start = len(m.history) - historyWindow
	}
	for _, e := range m.history[start:] {
		b.WriteString(promptStyle.Render(replPrompt))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.output != "" {
			if e.isErr {
				b.WriteString(errorStyle.Render(e.output))
			} else {
				b.WriteString(resultStyle.Render(e.output))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(`\q quit • ctrl+d quit`))
	return b.String()
}

// runREPL is the Config.Interact entry point. The std and os namespaces
// are bound as globals first so session lines can reach them without
// import statements.
func runREPL(ctx context.Context, realm scriptruntime.Realm, eng scriptruntime.Engine) error {
	if err := realm.InstallGlobals(ctx, "std", "os"); err != nil {
		return err
	}
	m := newReplModel(ctx, realm, eng)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return err
	}
	return m.err
}

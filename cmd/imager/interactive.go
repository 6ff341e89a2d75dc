package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/imager"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Optimize images from a terminal form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal; use imager opt instead")
		}
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

type modelState int

const (
	stateLoading modelState = iota
	stateInput
	stateRunning
	stateShowResult
)

const (
	fieldSource = iota
	fieldSize
	fieldOutput
)

type interactiveModel struct {
	ctx      context.Context
	img      *imager.Imager
	err      error
	engine   string
	result   string
	inputs   []textinput.Model
	focusIdx int
	state    modelState
}

type loadedMsg struct {
	err     error
	version string
}

type optResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(ctx context.Context, img *imager.Imager) *interactiveModel {
	m := &interactiveModel{ctx: ctx, img: img, state: stateLoading}

	prompts := []struct{ prompt, placeholder string }{
		{"source: ", "assets/test/1.jpeg"},
		{"size:   ", "900x900 or full"},
		{"output: ", "assets/output/test/1.jpeg"},
	}
	m.inputs = make([]textinput.Model, len(prompts))
	for i, p := range prompts {
		ti := textinput.New()
		ti.Prompt = p.prompt
		ti.Placeholder = p.placeholder
		ti.Width = 48
		if i == fieldSource {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadEngine)
}

// loadEngine forces the lazy engine load so failures show up before the form.
func (m *interactiveModel) loadEngine() tea.Msg {
	v, err := m.img.Version(m.ctx).Await(m.ctx)
	return loadedMsg{version: v, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInput {
				return m, tea.Quit
			}

		case "tab", "down":
			if m.state == stateInput {
				m.focus((m.focusIdx + 1) % len(m.inputs))
				return m, nil
			}

		case "shift+tab", "up":
			if m.state == stateInput {
				m.focus((m.focusIdx + len(m.inputs) - 1) % len(m.inputs))
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateInput:
				if m.focusIdx < fieldOutput {
					m.focus(m.focusIdx + 1)
					return m, nil
				}
				m.state = stateRunning
				return m, m.optimize

			case stateShowResult:
				m.state = stateInput
				m.result = ""
				m.err = nil
				m.focus(fieldSource)
				return m, nil
			}

		case "esc":
			if m.state == stateShowResult {
				m.state = stateInput
				m.result = ""
				m.err = nil
				return m, nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.engine = msg.version
		m.state = stateInput

	case optResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInput {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) focus(idx int) {
	m.inputs[m.focusIdx].Blur()
	m.focusIdx = idx
	m.inputs[m.focusIdx].Focus()
}

func (m *interactiveModel) optimize() tea.Msg {
	src := strings.TrimSpace(m.inputs[fieldSource].Value())
	size := strings.TrimSpace(m.inputs[fieldSize].Value())
	dst := strings.TrimSpace(m.inputs[fieldOutput].Value())
	if src == "" || dst == "" {
		return optResultMsg{err: fmt.Errorf("source and output are required")}
	}

	before, err := os.Stat(src)
	if err != nil {
		return optResultMsg{err: err}
	}

	start := time.Now()
	if _, err := m.img.Optimize(m.ctx, src, dst, imager.Size(size)).Await(m.ctx); err != nil {
		return optResultMsg{err: err}
	}
	after, err := os.Stat(dst)
	if err != nil {
		return optResultMsg{err: err}
	}

	return optResultMsg{result: fmt.Sprintf("%s\n%s -> %s in %s",
		dst, formatBytes(before.Size()), formatBytes(after.Size()),
		time.Since(start).Round(time.Millisecond))}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state == stateLoading {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.state == stateLoading {
		return "Loading engine..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("imager"))
	b.WriteString(" ")
	b.WriteString(labelStyle.Render("engine " + m.engine))
	b.WriteString("\n\n")

	switch m.state {
	case stateInput:
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter optimize • ctrl+c quit"))

	case stateRunning:
		b.WriteString("Optimizing...")

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(ctx context.Context) error {
	img, log, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer func() { _ = img.Close(ctx) }()

	p := tea.NewProgram(newInteractiveModel(ctx, img), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	txtTokenPlaceholder = "paste your access token"
	txtTokenPrompt      = "Access token for %s"
	txtVerifying        = "Verifying token..."
	txtHelp             = "Press 'Enter' to submit. 'Esc' or 'Ctrl+C' to quit."
)

var errLoginAborted = errors.New("login aborted")

var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	spinnerStyle     = cyan
	placeholderStyle = gray
	titleStyle       = cyan.Bold(true)
)

type loginTUIOpts struct {
	ServerURL     string
	SubmitHandler func(token string) error
}

type loginModel struct {
	opts *loginTUIOpts

	input   textinput.Model
	spinner spinner.Model

	isLoading    bool
	errorMessage string
	token        string
	done         bool
}

type tokenVerifiedMsg struct{ err error }

func newLoginModel(opts *loginTUIOpts) loginModel {
	input := textinput.New()
	input.Placeholder = txtTokenPlaceholder
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.Focus()
	input.CharLimit = 512
	input.Width = 64
	input.PromptStyle = focusedStyle
	input.TextStyle = focusedStyle
	input.PlaceholderStyle = placeholderStyle

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return loginModel{opts: opts, input: input, spinner: s}
}

func (m loginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			token := strings.TrimSpace(m.input.Value())
			if token == "" {
				m.errorMessage = errNoToken.Error()
				return m, nil
			}
			m.isLoading = true
			m.errorMessage = ""
			return m, m.verify(token)
		}
		if m.isLoading {
			return m, nil
		}
		m.errorMessage = ""
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tokenVerifiedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			m.input.SetValue("")
			return m, nil
		}
		m.token = strings.TrimSpace(m.input.Value())
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m loginModel) verify(token string) tea.Cmd {
	return func() tea.Msg {
		return tokenVerifiedMsg{err: m.opts.SubmitHandler(token)}
	}
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(txtTokenPrompt, m.opts.ServerURL)))
	b.WriteString("\n\n")
	if m.isLoading {
		b.WriteString(m.spinner.View() + " " + txtVerifying)
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n\n")
	if m.errorMessage != "" {
		b.WriteString(errorTextStyle.Render("✘ "+m.errorMessage) + "\n\n")
	}
	b.WriteString(helpStyle.Render(txtHelp) + "\n")
	return b.String()
}

// runLoginTUI prompts for a token until the submit handler accepts one.
func runLoginTUI(opts *loginTUIOpts) (string, error) {
	final, err := tea.NewProgram(newLoginModel(opts)).Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(loginModel)
	if !ok || !m.done {
		return "", errLoginAborted
	}
	return m.token, nil
}

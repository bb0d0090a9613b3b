// Package tui provides the Bubble Tea drill interface.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mtt87/math-facts/internal/drill"
	"github.com/mtt87/math-facts/internal/facts"
	"github.com/mtt87/math-facts/internal/model"
)

// StoreChangedMsg is sent into the program when the fact store notifies its
// observers.
type StoreChangedMsg struct{}

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	correctStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5AD760"))
	wrongStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
)

// Model implements the Bubble Tea drill UI.
type Model struct {
	store    *facts.Store
	config   model.DrillConfig
	problems []drill.Problem

	index     int
	input     textinput.Model
	results   []model.AttemptInput
	correct   int
	startedAt time.Time

	lastWasCorrect bool
	answered       int
	inputError     string

	points   int
	finished bool
	saved    bool
	saveErr  error

	width  int
	height int
}

// NewModel constructs a drill model over the given problems.
func NewModel(store *facts.Store, cfg model.DrillConfig, problems []drill.Problem) *Model {
	input := textinput.New()
	input.Placeholder = "answer"
	input.CharLimit = 7
	input.Width = 9
	input.Focus()
	return &Model{
		store:     store,
		config:    cfg,
		problems:  problems,
		input:     input,
		points:    store.Points(),
		startedAt: time.Now(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case StoreChangedMsg:
		m.points = m.store.Points()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.persist()
			return m, tea.Quit
		case tea.KeyEnter:
			if m.finished {
				return m, tea.Quit
			}
			m.submitAnswer()
			return m, nil
		default:
			if m.finished {
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var content string
	if m.finished {
		content = m.renderSummary()
	} else {
		content = m.renderProblem()
	}
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) submitAnswer() {
	raw := strings.TrimSpace(m.input.Value())
	answer, err := strconv.Atoi(raw)
	if err != nil {
		m.inputError = "enter a number"
		return
	}
	m.inputError = ""

	problem := m.problems[m.index]
	now := time.Now()
	data := model.Attempt{
		Answer:    answer,
		Correct:   answer == problem.Answer,
		ElapsedMs: now.Sub(m.startedAt).Milliseconds(),
		At:        now,
	}
	m.results = append(m.results, model.AttemptInput{
		Inputs: append([]int(nil), problem.Operands...),
		Data:   data,
	})
	m.answered++
	m.lastWasCorrect = data.Correct
	if data.Correct {
		m.correct++
	}

	m.index++
	m.input.SetValue("")
	m.startedAt = now
	if m.index >= len(m.problems) {
		m.persist()
		m.finished = true
	}
}

// persist records the answered attempts and the earned points. Safe to call
// twice: quitting after a finished drill must not double-record.
func (m *Model) persist() {
	if m.saved || len(m.results) == 0 {
		return
	}
	m.saved = true
	ctx := context.Background()
	if err := m.store.RecordAttempts(ctx, m.config.Operation, m.results); err != nil {
		m.saveErr = err
	}
	if m.correct > 0 {
		if err := m.store.AddPoints(ctx, m.correct); err != nil && m.saveErr == nil {
			m.saveErr = err
		}
	}
	m.points = m.store.Points()
}

func (m *Model) renderProblem() string {
	problem := m.problems[m.index]
	var b strings.Builder
	b.WriteString(promptStyle.Render(prompt(problem)))
	b.WriteString(" ")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.inputError != "" {
		b.WriteString(wrongStyle.Render(m.inputError))
		b.WriteString("\n")
	} else if m.answered > 0 {
		if m.lastWasCorrect {
			b.WriteString(correctStyle.Render("correct"))
		} else {
			b.WriteString(wrongStyle.Render("wrong"))
		}
		b.WriteString("\n")
	}
	footer := fmt.Sprintf("Problem %d/%d  Correct %d  Points %d",
		m.index+1, len(m.problems), m.correct, m.points)
	b.WriteString(footerStyle.Render(footer))
	return b.String()
}

func (m *Model) renderSummary() string {
	var b strings.Builder
	b.WriteString(summaryStyle.Render("Drill complete"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Answered: %d\n", m.answered)
	fmt.Fprintf(&b, "Correct: %d\n", m.correct)
	fmt.Fprintf(&b, "Points earned: %d\n", m.correct)
	fmt.Fprintf(&b, "Total points: %d\n", m.points)
	if m.saveErr != nil {
		b.WriteString(wrongStyle.Render(fmt.Sprintf("save failed: %v", m.saveErr)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("Press enter to exit"))
	return b.String()
}

// prompt renders the question line for a problem.
func prompt(p drill.Problem) string {
	if len(p.Operands) == 1 {
		return fmt.Sprintf("type %d =", p.Operands[0])
	}
	symbol := "×"
	if p.Operation == model.OpAddition {
		symbol = "+"
	}
	return fmt.Sprintf("%d %s %d =", p.Operands[0], symbol, p.Operands[1])
}

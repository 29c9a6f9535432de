package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// JobRow is one line of the live job table.
type JobRow struct {
	ID       string
	Name     string
	Queue    string
	Status   string
	Priority string
}

// ConsumerRow is one line of the consumer status panel.
type ConsumerRow struct {
	Queue   string
	Running bool
	PID     int
}

// Model is the bubbletea model backing `jobqueue watch`.
type Model struct {
	EnvName   string
	Styles    Styles
	Jobs      []JobRow
	Consumers []ConsumerRow
	Connected bool
	StartTime time.Time
	Width     int
	Height    int
	Quitting  bool
}

// NewModel creates a fresh dashboard model for the given environment.
func NewModel(envName string) *Model {
	return &Model{
		EnvName:   envName,
		Styles:    DefaultStyles(),
		StartTime: time.Now(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// JobsMsg carries a fresh job snapshot from the websocket bridge.
type JobsMsg struct {
	Jobs []JobRow
}

// ConsumerStatusMsg carries a single consumer's running/pid state.
type ConsumerStatusMsg struct {
	Queue   string
	Running bool
	PID     int
}

// ConnectedMsg reports the websocket connection's up/down state.
type ConnectedMsg struct {
	Connected bool
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case JobsMsg:
		m.Jobs = msg.Jobs

	case ConsumerStatusMsg:
		updated := false
		for i, c := range m.Consumers {
			if c.Queue == msg.Queue {
				m.Consumers[i] = ConsumerRow{Queue: msg.Queue, Running: msg.Running, PID: msg.PID}
				updated = true
				break
			}
		}
		if !updated {
			m.Consumers = append(m.Consumers, ConsumerRow{Queue: msg.Queue, Running: msg.Running, PID: msg.PID})
		}

	case ConnectedMsg:
		m.Connected = msg.Connected
	}

	return m, nil
}

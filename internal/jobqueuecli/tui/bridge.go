package tui

import (
	"encoding/json"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// broadcastMessage mirrors broadcast.Message's wire shape without
// importing the broadcast package, so the tui package decodes the wire
// format on its own and does not depend on the Hub's types.
type broadcastMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type jobsSnapshot struct {
	EnvName string `json:"env_name"`
	Jobs    []struct {
		ID       string `json:"ID"`
		Name     string `json:"Name"`
		QueueName string `json:"QueueName"`
		Status   string `json:"Status"`
		Priority int    `json:"Priority"`
	} `json:"jobs"`
}

type consumerStatus struct {
	Queue   string `json:"queue"`
	Running bool   `json:"running"`
	PID     int    `json:"pid"`
}

// Bridge connects a websocket job-queue stream to a running bubbletea
// Program, the way the teacher's Bridge connects its internal event bus
// to the unit/task TUI.
type Bridge struct {
	program *tea.Program
}

// NewBridge creates a Bridge targeting program.
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Run dials wsURL and forwards every message to the bubbletea program
// until the connection closes or done is closed.
func (b *Bridge) Run(wsURL string, done <-chan struct{}) error {
	if _, err := url.Parse(wsURL); err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		b.program.Send(ConnectedMsg{Connected: false})
		return err
	}
	defer conn.Close()
	b.program.Send(ConnectedMsg{Connected: true})

	go func() {
		<-done
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.program.Send(ConnectedMsg{Connected: false})
			return err
		}
		if msg := b.decode(data); msg != nil {
			b.program.Send(msg)
		}
	}
}

func (b *Bridge) decode(data []byte) tea.Msg {
	var envelope broadcastMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}

	switch envelope.Type {
	case "jobs":
		var snap jobsSnapshot
		if err := json.Unmarshal(envelope.Data, &snap); err != nil {
			return nil
		}
		rows := make([]JobRow, 0, len(snap.Jobs))
		for _, j := range snap.Jobs {
			rows = append(rows, JobRow{
				ID:       j.ID,
				Name:     j.Name,
				Queue:    j.QueueName,
				Status:   j.Status,
				Priority: priorityLabel(j.Priority),
			})
		}
		return JobsMsg{Jobs: rows}

	case "consumer_status":
		var cs consumerStatus
		if err := json.Unmarshal(envelope.Data, &cs); err != nil {
			return nil
		}
		return ConsumerStatusMsg{Queue: cs.Queue, Running: cs.Running, PID: cs.PID}
	}
	return nil
}

func priorityLabel(p int) string {
	names := []string{"lowest", "low", "normal", "high", "highest"}
	if p < 0 || p >= len(names) {
		return "unknown"
	}
	return names[p]
}

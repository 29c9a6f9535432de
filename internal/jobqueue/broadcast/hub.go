// Package broadcast is the Broadcast Hub: it pushes job-queue snapshots
// and consumer status to every connected WebSocket client whenever the
// Job Store changes, using the same register/unregister/broadcast
// channel shape the teacher's SSE hub uses, but fanning out over
// WebSocket connections via gorilla/websocket instead of Server-Sent
// Events.
package broadcast

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
)

// clientBuffer bounds how many pending messages a slow subscriber can
// accumulate before new broadcasts are dropped for it, matching the
// non-blocking bounded-buffer delivery pattern used throughout the
// corpus's pub-sub implementations.
const clientBuffer = 32

// Message is the envelope pushed to every connected client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JobsSnapshot is the payload for a "jobs" message: every non-archived
// job for an environment, the shape websocket clients render as a live
// table.
type JobsSnapshot struct {
	EnvName string        `json:"env_name"`
	Jobs    []*domain.Job `json:"jobs"`
}

// ConsumerStatus is the payload for a "consumer_status" message.
type ConsumerStatus struct {
	Queue   string `json:"queue"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// Client is a single connected WebSocket subscriber.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcasts out to every registered client. Unlike the
// in-memory PubSub generic seen elsewhere in the reference pack, this
// hub is narrowly typed to the job-queue's two message kinds, matching
// how the teacher's own web.Hub is narrowly typed to its own *Event.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	clients    map[*Client]struct{}
	done       chan struct{}
}

// NewHub creates a Hub. Call Run in a goroutine to start fan-out.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until Stop is
// called. Intended to run in its own goroutine for the daemon's
// lifetime.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow subscriber: drop instead of blocking the hub.
					log.Printf("[broadcast] dropping message for slow client %s", c.id)
				}
			}
		case <-h.done:
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

// Stop ends Run and closes all client channels.
func (h *Hub) Stop() {
	close(h.done)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	return len(h.clients)
}

// Connect registers a new WebSocket connection and starts its write
// pump. The caller (the HTTP upgrade handler) owns reading from conn
// and should call Disconnect when the connection closes.
func (h *Hub) Connect(conn *websocket.Conn) *Client {
	c := &Client{
		id:   ulid.Make().String(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	h.register <- c
	go c.writePump()
	return c
}

// Disconnect unregisters a client and closes its connection.
func (h *Hub) Disconnect(c *Client) {
	h.unregister <- c
	c.conn.Close()
}

func (c *Client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) publish(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		log.Printf("[broadcast] failed to marshal %s message: %v", msgType, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Printf("[broadcast] dropping %s broadcast: hub channel full", msgType)
	}
}

// BroadcastSnapshot pushes the current non-archived job list for an
// environment to every connected client. Archived jobs are always
// excluded, mirroring broadcast_jobs_after_sync's include_archived=False.
func (h *Hub) BroadcastSnapshot(env string, jobs []*domain.Job) {
	nonArchived := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		if !j.Archived {
			nonArchived = append(nonArchived, j)
		}
	}
	h.publish("jobs", JobsSnapshot{EnvName: env, Jobs: nonArchived})
}

// BroadcastConsumerStatus pushes a consumer's running/pid state to
// every connected client, used by the supervisor on start/stop.
func (h *Hub) BroadcastConsumerStatus(queue string, running bool, pid int) {
	h.publish("consumer_status", ConsumerStatus{Queue: queue, Running: running, PID: pid})
}

// tailPollInterval is how often the REST log-tail endpoint re-reads a
// running job's log file, matching the spec's 500ms polling cadence.
const tailPollInterval = 500 * time.Millisecond

// TailPollInterval exposes the polling cadence for the httpapi package.
func TailPollInterval() time.Duration { return tailPollInterval }

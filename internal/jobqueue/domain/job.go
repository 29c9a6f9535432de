// Package domain defines the job and scheduler data model shared by the
// store, dispatcher, worker runtime, and broadcast hub.
package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// JobType selects which executor handles a job.
type JobType string

const (
	JobTypeCommand JobType = "command"
	JobTypeAPIPost JobType = "api_post"
	JobTypeScript  JobType = "script"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeCommand, JobTypeAPIPost, JobTypeScript:
		return true
	}
	return false
}

// Priority orders pending jobs within a queue. Higher numeric value
// runs first; ties break on CreatedAt ascending.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
)

var priorityNames = map[Priority]string{
	PriorityLowest:  "lowest",
	PriorityLow:     "low",
	PriorityNormal:  "normal",
	PriorityHigh:    "high",
	PriorityHighest: "highest",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePriority parses the spec's lowercase priority names. The zero
// value ("") is not normal by default; callers must supply one.
func ParsePriority(s string) (Priority, bool) {
	for p, name := range priorityNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// Status is the job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Recurrence marks jobs that are re-spawned by the maintenance loops.
type Recurrence string

const (
	RecurrenceNone   Recurrence = ""
	RecurrenceHourly Recurrence = "hourly"
	RecurrenceDaily  Recurrence = "daily"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceHourly, RecurrenceDaily:
		return true
	}
	return false
}

// validTransitions encodes the lifecycle ownership rules from the data
// model: which component is allowed to move a job from one status to
// another. Transitions not listed here are illegal.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusQueued},
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusDone, StatusFailed, StatusError, StatusPending},
	StatusDone:      {},
	StatusFailed:    {StatusPending},
	StatusError:     {StatusPending},
	StatusCancelled: {},
}

// CanTransition reports whether moving a job from `from` to `to` is a
// legal lifecycle transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job is the full row persisted by the Job Store.
type Job struct {
	ID          string
	EnvName     string
	QueueName   string
	Name        string
	Type        JobType
	Command     string // shell command, URL, or script class name
	Meta        map[string]any
	PID         *int
	Priority    Priority
	Status      Status
	RetryCount  int
	CreatedAt   time.Time
	Recurrence  Recurrence
	Archived    bool
}

// JobCreate is the payload accepted by Store.Create. Empty EnvName,
// QueueName and Meta are defaulted the way the original model's field
// defaults worked (env_name="dev", queue_name="default", meta={}), and
// Store.Create always starts the job in status pending. Priority is
// not defaulted: an unset Priority is its zero value, PriorityLowest.
type JobCreate struct {
	EnvName    string
	QueueName  string
	Name       string
	Type       JobType
	Command    string
	Meta       map[string]any
	Priority   Priority
	Recurrence Recurrence
}

// JobPatch is a sparse PATCH payload: every field is a pointer, and only
// non-nil fields are applied. Mirrors the original's JobUpdate model,
// which used exclude_unset semantics for partial updates.
type JobPatch struct {
	Name       *string
	Status     *Status
	PID        *int
	ClearPID   bool // true clears pid to NULL; mutually exclusive with PID
	RetryCount *int
	Archived   *bool
	Meta       map[string]any // nil means "leave unchanged"
}

// NewJobID returns a new lexically-sortable job identifier.
func NewJobID() string {
	return ulid.Make().String()
}

// Normalize fills in the JobCreate defaults the store applies before
// insertion.
func (c *JobCreate) Normalize() {
	if c.EnvName == "" {
		c.EnvName = "dev"
	}
	if c.QueueName == "" {
		c.QueueName = "default"
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
}

// Validate checks a JobCreate payload against the field-level rules
// shared by the REST layer and the store.
func (c *JobCreate) Validate() error {
	if c.Name == "" {
		return fieldError("name", "must not be empty")
	}
	if !c.Type.Valid() {
		return fieldError("type", "must be one of command, api_post, script")
	}
	if c.Command == "" {
		return fieldError("command", "must not be empty")
	}
	if c.Recurrence != RecurrenceNone && !c.Recurrence.Valid() {
		return fieldError("recurrence", "must be null, hourly, or daily")
	}
	return nil
}

type fieldValidationError struct {
	field  string
	reason string
}

func (e *fieldValidationError) Error() string {
	return e.field + ": " + e.reason
}

func fieldError(field, reason string) error {
	return &fieldValidationError{field: field, reason: reason}
}

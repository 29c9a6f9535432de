package domain

import "time"

// SchedulerTriggerType selects when a JobScheduler fires.
type SchedulerTriggerType string

const (
	TriggerOnStart SchedulerTriggerType = "on_start"
	TriggerRepeat  SchedulerTriggerType = "repeat"
)

func (t SchedulerTriggerType) Valid() bool {
	switch t {
	case TriggerOnStart, TriggerRepeat:
		return true
	}
	return false
}

// JobScheduler spawns a Job from JobTemplate whenever its trigger
// condition is satisfied.
type JobScheduler struct {
	ID                string
	EnvName           string
	Name              string
	Description       string
	TriggerType       SchedulerTriggerType
	RepeatEverySecs   *int
	JobTemplate       map[string]any
	Enabled           bool
	LastRun           *int64 // unix seconds, nil until first fire
}

// JobSchedulerCreate is the payload accepted by Store.CreateScheduler.
type JobSchedulerCreate struct {
	EnvName         string
	Name            string
	Description     string
	TriggerType     SchedulerTriggerType
	RepeatEverySecs *int
	JobTemplate     map[string]any
	Enabled         bool
}

// JobSchedulerPatch is a sparse PATCH payload for schedulers.
type JobSchedulerPatch struct {
	Name            *string
	Description     *string
	TriggerType     *SchedulerTriggerType
	RepeatEverySecs *int
	Enabled         *bool
	LastRun         *int64
	JobTemplate     map[string]any
}

func (c *JobSchedulerCreate) Normalize() {
	if c.EnvName == "" {
		c.EnvName = "dev"
	}
	if c.TriggerType == "" {
		c.TriggerType = TriggerOnStart
	}
	if c.JobTemplate == nil {
		c.JobTemplate = map[string]any{}
	}
}

func (c *JobSchedulerCreate) Validate() error {
	if c.Name == "" {
		return fieldError("name", "must not be empty")
	}
	if c.EnvName == "" {
		return fieldError("env_name", "must not be empty")
	}
	if !c.TriggerType.Valid() {
		return fieldError("trigger_type", "must be on_start or repeat")
	}
	if c.TriggerType == TriggerRepeat && (c.RepeatEverySecs == nil || *c.RepeatEverySecs <= 0) {
		return fieldError("repeat_every_seconds", "must be a positive number for repeat schedulers")
	}
	return nil
}

// Due reports whether a repeat scheduler should fire, given the current
// time. Matches the original's "now - last_run >= repeat_every_seconds
// or last_run is None" predicate.
func (s *JobScheduler) Due(now time.Time) bool {
	if s.TriggerType != TriggerRepeat || !s.Enabled {
		return false
	}
	if s.RepeatEverySecs == nil {
		return false
	}
	if s.LastRun == nil {
		return true
	}
	return now.Unix()-*s.LastRun >= int64(*s.RepeatEverySecs)
}

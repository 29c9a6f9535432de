// Package jqerrors declares the sentinel errors shared across the job
// queue engine, matched with errors.Is/errors.As the same way the
// daemon package checks sql.ErrNoRows.
package jqerrors

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrSchedulerNotFound is returned when a scheduler id does not exist.
	ErrSchedulerNotFound = errors.New("scheduler not found")

	// ErrStaleTransition is returned by Store.Claim when a job's status
	// was not queued at the moment of the attempted transition to running.
	ErrStaleTransition = errors.New("stale transition: job was not queued")

	// ErrIllegalTransition names a status change that would violate the
	// lifecycle rules encoded by domain.CanTransition. No store operation
	// returns it: Store.Update applies any status change without
	// consulting CanTransition.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrValidation is returned when a job or scheduler payload fails
	// field-level validation before it reaches the store.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownScript is returned by the Script Registry when a script
	// job names a class that was never registered.
	ErrUnknownScript = errors.New("unknown script")

	// ErrConsumerNotRunning is returned when an operation requires a
	// live consumer process that the supervisor has no record of.
	ErrConsumerNotRunning = errors.New("consumer not running")

	// ErrConsumerAlreadyRunning is returned by Supervisor.Start when a
	// live process already holds the queue's pid file.
	ErrConsumerAlreadyRunning = errors.New("consumer already running")

	// ErrScriptValidation is returned when a script's Validate hook
	// rejects its meta map before Run is ever called.
	ErrScriptValidation = errors.New("script input validation failed")

	// ErrConsumerForQueueRunsInProcess is returned by Supervisor.Start
	// when the engine already runs the named queue's jobs in-process,
	// so spawning an out-of-process consumer for it would let two
	// dispatchers race to claim the same queue's jobs.
	ErrConsumerForQueueRunsInProcess = errors.New("queue already has an in-process runtime")
)

// Kind classifies an error the way spec's error-handling design groups
// failures into one of a fixed set of kinds for logging and REST status
// mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindStaleTransition
	KindExecutionFailure
	KindExecutionError
	KindUserKill
	KindSupervisorFailure
	KindBroadcastFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStaleTransition:
		return "stale_transition"
	case KindExecutionFailure:
		return "execution_failure"
	case KindExecutionError:
		return "execution_error"
	case KindUserKill:
		return "user_kill"
	case KindSupervisorFailure:
		return "supervisor_failure"
	case KindBroadcastFailure:
		return "broadcast_failure"
	default:
		return "unknown"
	}
}

// Classified wraps an error with the kind the engine decided it belongs
// to, so transport layers (REST, logs) can map it without re-deriving
// the classification from the error text.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	return c.Err.Error()
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// Classify wraps err with kind unless err is already a *Classified, in
// which case it is returned unchanged.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var c *Classified
	if errors.As(err, &c) {
		return err
	}
	return &Classified{Kind: kind, Err: err}
}

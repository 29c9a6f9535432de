// Package dispatch implements the priority-ordered Dispatcher: picking
// the next queued job for a queue and handing it to the Worker Runtime,
// plus the periodic safety-net check that catches a dropped trigger.
package dispatch

import (
	"fmt"
	"log"
	"syscall"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

// Reason explains why Dispatcher.TriggerNext did not hand off a job.
type Reason string

const (
	ReasonDispatched   Reason = "dispatched"
	ReasonBusy         Reason = "queue_busy"
	ReasonEmpty        Reason = "queue_empty"
	ReasonStaleClaim   Reason = "stale_claim"
)

// Result reports the outcome of a single TriggerNext call.
type Result struct {
	Queue      string
	Job        *domain.Job
	Dispatched bool
	Reason     Reason
}

// Runner executes a claimed job out-of-process and reports completion.
// The Worker Runtime satisfies this interface; kept as an interface here
// so the dispatcher package has no import-cycle back to worker.
type Runner interface {
	// Run starts job asynchronously and calls done when it terminates,
	// regardless of outcome, so the dispatcher can trigger the next job.
	Run(job *domain.Job, done func())
}

// Dispatcher hands queued jobs to the Worker Runtime, one at a time per
// queue, honoring the queue's single-worker concurrency contract.
type Dispatcher struct {
	store  *store.Store
	runner Runner
	busy   map[string]bool
}

// New creates a Dispatcher backed by store and runner.
func New(s *store.Store, runner Runner) *Dispatcher {
	return &Dispatcher{
		store:  s,
		runner: runner,
		busy:   make(map[string]bool),
	}
}

// TriggerNext hands the highest-priority, oldest queued job in
// queueName to the Runner, if the queue's single worker slot is free;
// the Runner performs the queued->running claim itself. This is the
// direct analog of _trigger_next_queued_job.
func (d *Dispatcher) TriggerNext(queueName string) (Result, error) {
	if d.busy[queueName] {
		return Result{Queue: queueName, Reason: ReasonBusy}, nil
	}

	queued, err := d.store.ListQueuedForQueue(queueName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	if len(queued) == 0 {
		return Result{Queue: queueName, Reason: ReasonEmpty}, nil
	}

	next := queued[0]
	d.busy[queueName] = true

	d.runner.Run(next, func() {
		d.busy[queueName] = false
		if _, _, err := d.CheckAndProcess(queueName); err != nil {
			log.Printf("[dispatcher %s] check_and_process after completion failed: %v", queueName, err)
		}
	})

	return Result{Queue: queueName, Job: next, Dispatched: true, Reason: ReasonDispatched}, nil
}

// CheckAndProcess is the periodic safety net: if a queue has no running
// job but has queued jobs, it triggers the next one. Mirrors
// _check_and_process_queued_jobs, which exists because a trigger call
// can be dropped (process restart, panic recovery) without the chained
// callback ever firing.
func (d *Dispatcher) CheckAndProcess(queueName string) (triggered bool, result Result, err error) {
	running, err := d.store.ListRunningForQueue(queueName)
	if err != nil {
		return false, Result{}, fmt.Errorf("failed to list running jobs: %w", err)
	}
	if len(running) > 0 {
		return false, Result{Queue: queueName, Reason: ReasonBusy}, nil
	}

	res, err := d.TriggerNext(queueName)
	if err != nil {
		return false, Result{}, err
	}
	return res.Dispatched, res, nil
}

// KillResult reports the outcome of a Kill call, mirroring the
// original kill_job_process's {success, message} return value.
type KillResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Kill sends SIGKILL to the job's recorded pid and returns it to
// pending, the operator-initiated counterpart to the reaper's
// fail-on-death path. A job with no recorded pid is simply returned to
// pending -- there is nothing to signal. A pid that no longer exists
// (ESRCH) still counts as success, since the job is not running either
// way; any other signal error leaves status untouched and reports
// failure, the same three-way split as kill_job_process.
func (d *Dispatcher) Kill(id string) (KillResult, error) {
	job, err := d.store.Get(id)
	if err != nil {
		return KillResult{}, err
	}

	if job.PID == nil || *job.PID <= 0 {
		if _, err := d.toPending(id); err != nil {
			return KillResult{}, err
		}
		return KillResult{Success: false, Message: fmt.Sprintf("No PID found for job %s.", id)}, nil
	}
	pid := *job.PID

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return KillResult{Success: false, Message: fmt.Sprintf("Failed to kill job %s: %v", id, err)}, nil
	} else if err == syscall.ESRCH {
		if _, err := d.toPending(id); err != nil {
			return KillResult{}, err
		}
		return KillResult{Success: true, Message: fmt.Sprintf("Job %s (PID %d) not found.", id, pid)}, nil
	}

	if _, err := d.toPending(id); err != nil {
		return KillResult{}, err
	}
	return KillResult{Success: true, Message: fmt.Sprintf("Job %s (PID %d) killed.", id, pid)}, nil
}

func (d *Dispatcher) toPending(id string) (*domain.Job, error) {
	pending := domain.StatusPending
	return d.store.Update(id, domain.JobPatch{Status: &pending, ClearPID: true})
}

// Busy reports whether queueName currently has a job occupying its
// single worker slot, from the dispatcher's own bookkeeping (used by
// tests and the status endpoint; the store is the source of truth for
// the job's actual status).
func (d *Dispatcher) Busy(queueName string) bool {
	return d.busy[queueName]
}

// Package maintenance implements the periodic maintenance operations:
// the check-and-process safety net, the stuck-job reaper, the
// recurring-job spawner, and the job-scheduler tick. Each is a plain
// method so it can be invoked directly from a test or from a ticker,
// matching the way the original's huey periodic tasks were thin
// wrappers around ordinary functions.
package maintenance

import (
	"encoding/json"
	"log"
	"syscall"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

// Maintenance runs the periodic loops against a Job Store.
type Maintenance struct {
	store  *store.Store
	queues []string
}

// New creates a Maintenance runner over the given queues.
func New(s *store.Store, queues []string) *Maintenance {
	return &Maintenance{store: s, queues: queues}
}

// CheckAndProcessAll runs the per-queue safety-net trigger for every
// configured queue, catching a dropped dispatch chain the way
// _check_and_process_queued_jobs does every minute in the original.
func (m *Maintenance) CheckAndProcessAll(trigger func(queue string) error) {
	for _, q := range m.queues {
		if err := trigger(q); err != nil {
			log.Printf("[maintenance] check_and_process failed for queue %s: %v", q, err)
		}
	}
}

// CleanupStuckJobs is the reaper: any job recorded as running whose pid
// is no longer alive (or was never recorded) is marked failed. This is
// deliberately distinct from the kill operation's transition to
// pending -- a dead process found by the reaper was not an operator
// decision, so it counts as a failure.
func (m *Maintenance) CleanupStuckJobs() error {
	running, err := m.store.ListAllRunning()
	if err != nil {
		return err
	}
	for _, job := range running {
		alive := job.PID != nil && isProcessRunning(*job.PID)
		if alive {
			continue
		}
		failed := domain.StatusFailed
		if _, err := m.store.Update(job.ID, domain.JobPatch{Status: &failed}); err != nil {
			log.Printf("[maintenance] failed to mark stuck job %s as failed: %v", job.ID, err)
		}
	}
	return nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// SpawnRecurring checks both hourly and daily recurrence templates in
// one pass: hourly templates fire every time this runs at minute 0;
// daily templates additionally require hour 0. Any non-archived job
// carrying the recurrence tag is a template, whatever its status; the
// template itself is left unchanged as the seed for the next cycle,
// and each firing creates a brand-new job with recurrence cleared, a
// fresh id, and retry_count reset to 0.
func (m *Maintenance) SpawnRecurring(now time.Time) error {
	if now.Minute() != 0 {
		return nil
	}

	if err := m.spawnFromTemplates(domain.RecurrenceHourly); err != nil {
		return err
	}
	if now.Hour() == 0 {
		if err := m.spawnFromTemplates(domain.RecurrenceDaily); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance) spawnFromTemplates(recurrence domain.Recurrence) error {
	templates, err := m.store.ListPendingWithRecurrence(recurrence)
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		create := domain.JobCreate{
			EnvName:   tpl.EnvName,
			QueueName: tpl.QueueName,
			Name:      tpl.Name,
			Type:      tpl.Type,
			Command:   tpl.Command,
			Meta:      tpl.Meta,
			Priority:  tpl.Priority,
		}
		spawned, err := m.store.Create(create)
		if err != nil {
			log.Printf("[maintenance] failed to spawn %s job from template %s: %v", recurrence, tpl.ID, err)
			continue
		}
		queued := domain.StatusQueued
		if _, err := m.store.Update(spawned.ID, domain.JobPatch{Status: &queued}); err != nil {
			log.Printf("[maintenance] failed to queue spawned job %s: %v", spawned.ID, err)
		}
	}
	return nil
}

// RunOnStartSchedulers fires every enabled on_start scheduler once,
// called during engine boot.
func (m *Maintenance) RunOnStartSchedulers() error {
	scheds, err := m.store.ListOnStartSchedulers()
	if err != nil {
		return err
	}
	for _, s := range scheds {
		m.fireScheduler(s)
	}
	return nil
}

// CheckJobSchedulers fires every enabled repeat scheduler that is due.
// A scheduler whose job_template fails to decode is logged and left
// un-fired (last_run is not advanced), so it is retried next tick
// instead of silently losing a cycle.
func (m *Maintenance) CheckJobSchedulers(now time.Time) error {
	scheds, err := m.store.ListRepeatSchedulers()
	if err != nil {
		return err
	}
	for _, s := range scheds {
		if !s.Due(now) {
			continue
		}
		m.fireScheduler(s)
	}
	return nil
}

func (m *Maintenance) fireScheduler(s *domain.JobScheduler) {
	templateJSON, err := json.Marshal(s.JobTemplate)
	if err != nil {
		log.Printf("[maintenance] scheduler %s: failed to encode job_template: %v", s.ID, err)
		return
	}

	var create domain.JobCreate
	if err := json.Unmarshal(templateJSON, &create); err != nil {
		log.Printf("[maintenance] scheduler %s: job_template does not decode to a job: %v", s.ID, err)
		return
	}
	create.EnvName = s.EnvName
	if err := create.Validate(); err != nil {
		log.Printf("[maintenance] scheduler %s: job_template failed validation: %v", s.ID, err)
		return
	}

	// last_run advances before the job is enqueued, so a slow spawn
	// below never causes the next tick to observe this scheduler as
	// still due and fire it a second time for the same instant.
	if err := m.store.MarkFired(s.ID, time.Now().Unix()); err != nil {
		log.Printf("[maintenance] scheduler %s: failed to record last_run: %v", s.ID, err)
		return
	}

	job, err := m.store.Create(create)
	if err != nil {
		log.Printf("[maintenance] scheduler %s: failed to create job after marking fired: %v", s.ID, err)
		return
	}
	queued := domain.StatusQueued
	if _, err := m.store.Update(job.ID, domain.JobPatch{Status: &queued}); err != nil {
		log.Printf("[maintenance] scheduler %s: failed to queue spawned job %s: %v", s.ID, job.ID, err)
	}
}

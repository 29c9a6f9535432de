// Package worker is the Worker Runtime: the execute_job contract that
// claims a queued job, runs its body (command, api_post, or script),
// and records the outcome, broadcasting a snapshot before and after.
package worker

import (
	"context"
	"log"
	"net/http"

	"github.com/martokk/jobqueued/internal/jobqueue/broadcast"
	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
	"github.com/martokk/jobqueued/internal/jobqueue/scripts"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

// Runtime executes jobs for a single queue, one at a time, the way a
// real deployment runs one out-of-process consumer per queue. It
// imposes no wall-clock timeout on a job's body -- the command, script,
// or endpoint being called is responsible for its own bound.
type Runtime struct {
	queue      string
	store      *store.Store
	hub        *broadcast.Hub
	scripts    *scripts.Registry
	logDir     string
	httpClient *http.Client
}

// New creates a Runtime for a queue.
func New(queue string, s *store.Store, hub *broadcast.Hub, reg *scripts.Registry, logDir string) *Runtime {
	return &Runtime{
		queue:      queue,
		store:      s,
		hub:        hub,
		scripts:    reg,
		logDir:     logDir,
		httpClient: &http.Client{},
	}
}

// Run implements dispatch.Runner: it executes job asynchronously and
// calls done exactly once, after the job reaches a terminal status for
// this attempt, so the Dispatcher can trigger the next queued job.
func (r *Runtime) Run(job *domain.Job, done func()) {
	go func() {
		defer done()
		r.execute(job)
	}()
}

// execute implements the seven-step execute_job contract: claim,
// broadcast, dispatch by type, apply the outcome, broadcast again, and
// trigger the next job (left to the Dispatcher's done callback).
func (r *Runtime) execute(job *domain.Job) {
	claimed, err := r.store.Claim(job.ID, 0)
	if err != nil {
		log.Printf("[worker %s] job %s not claimable: %v", r.queue, job.ID, jqerrors.Classify(jqerrors.KindStaleTransition, err))
		return
	}
	job = claimed
	r.broadcastSnapshot(job.EnvName)

	logFile, err := openJobLog(r.logDir, job)
	if err != nil {
		log.Printf("[worker %s] job %s: %v", r.queue, job.ID, err)
		r.finish(job, outcome{status: domain.StatusFailed, message: err.Error()})
		return
	}
	defer logFile.Close()

	writePreamble(logFile, job)

	ctx := context.Background()

	var result outcome
	switch job.Type {
	case domain.JobTypeCommand:
		result = r.runCommand(ctx, job, logFile)
	case domain.JobTypeAPIPost:
		result = r.runAPIPost(ctx, job, logFile)
	case domain.JobTypeScript:
		result = r.runScript(ctx, job, logFile)
	default:
		result = outcome{status: domain.StatusFailed, message: "unknown job type"}
	}

	writeFooter(logFile, result.status == domain.StatusDone, result.message, result.data)
	r.finish(job, result)
}

func (r *Runtime) finish(job *domain.Job, result outcome) {
	status := result.status
	if _, err := r.store.Update(job.ID, domain.JobPatch{Status: &status}); err != nil {
		log.Printf("[worker %s] job %s: failed to record final status %s: %v", r.queue, job.ID, status, err)
	}
	r.broadcastSnapshot(job.EnvName)
}

func (r *Runtime) broadcastSnapshot(env string) {
	if r.hub == nil {
		return
	}
	jobs, err := r.store.ListForEnv(env, nil, false)
	if err != nil {
		log.Printf("[worker %s] failed to list jobs for broadcast: %v", r.queue, err)
		return
	}
	r.hub.BroadcastSnapshot(env, jobs)
}

package dispatch

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

// fakeRunner records each job it is handed. When store is set it moves
// the job out of queued (to done) before calling done, the way the
// Worker Runtime finishes a job, so the dispatcher's chained check does
// not hand it the same job again.
type fakeRunner struct {
	mu    sync.Mutex
	runs  []*domain.Job
	store *store.Store
}

func (f *fakeRunner) Run(job *domain.Job, done func()) {
	f.mu.Lock()
	f.runs = append(f.runs, job)
	f.mu.Unlock()
	if f.store != nil {
		status := domain.StatusDone
		f.store.Update(job.ID, domain.JobPatch{Status: &status})
	}
	done()
}

func newQueuedJob(t *testing.T, s *store.Store, priority domain.Priority) *domain.Job {
	t.Helper()
	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true", Priority: priority})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	status := domain.StatusQueued
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &status}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return job
}

func TestTriggerNextDispatchesHighestPriorityFirst(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	newQueuedJob(t, s, domain.PriorityLow)
	high := newQueuedJob(t, s, domain.PriorityHighest)

	runner := &fakeRunner{store: s}
	d := New(s, runner)

	result, err := d.TriggerNext("default")
	if err != nil {
		t.Fatalf("TriggerNext failed: %v", err)
	}
	if !result.Dispatched {
		t.Fatalf("expected Dispatched=true, got Reason=%s", result.Reason)
	}
	if result.Job.ID != high.ID {
		t.Errorf("expected highest-priority job dispatched first, got %s", result.Job.Name)
	}
}

func TestTriggerNextEmptyQueue(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	d := New(s, &fakeRunner{})
	result, err := d.TriggerNext("default")
	if err != nil {
		t.Fatalf("TriggerNext failed: %v", err)
	}
	if result.Dispatched || result.Reason != ReasonEmpty {
		t.Errorf("expected ReasonEmpty, got %+v", result)
	}
}

func TestCheckAndProcessSkipsWhenJobRunning(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job := newQueuedJob(t, s, domain.PriorityNormal)
	running := domain.StatusRunning
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &running}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	d := New(s, &fakeRunner{})
	triggered, _, err := d.CheckAndProcess("default")
	if err != nil {
		t.Fatalf("CheckAndProcess failed: %v", err)
	}
	if triggered {
		t.Errorf("expected no trigger while a job is running")
	}
}

func TestKillWithNoPIDReturnsToPendingAndReportsFailure(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	d := New(s, &fakeRunner{})
	result, err := d.Kill(job.ID)
	if err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if result.Success {
		t.Error("expected success=false for a job with no recorded pid")
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected job to be pending, got %s", got.Status)
	}
}

func TestKillSignalsTheRecordedPID(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	running := domain.StatusRunning
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &running}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start test process: %v", err)
	}
	defer cmd.Process.Kill()
	if err := s.SetPID(job.ID, cmd.Process.Pid); err != nil {
		t.Fatalf("SetPID failed: %v", err)
	}

	d := New(s, &fakeRunner{})
	result, err := d.Kill(job.ID)
	if err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success=true, got message %q", result.Message)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected job to be pending after kill, got %s", got.Status)
	}
	if got.PID != nil {
		t.Errorf("expected pid to be cleared, got %v", *got.PID)
	}

	if err := cmd.Wait(); err == nil {
		t.Error("expected the killed process to exit with an error")
	}
}

func TestTriggerNextChainsViaDoneCallback(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	newQueuedJob(t, s, domain.PriorityNormal)
	newQueuedJob(t, s, domain.PriorityNormal)

	runner := &fakeRunner{store: s}
	d := New(s, runner)

	if _, err := d.TriggerNext("default"); err != nil {
		t.Fatalf("TriggerNext failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		n := len(runner.runs)
		runner.mu.Unlock()
		if n == 2 {
			return
		}
	}
	t.Errorf("expected second job to be chained after first completed")
}

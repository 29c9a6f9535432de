package worker

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/scripts"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

func newQueuedCommandJob(t *testing.T, s *store.Store, command string) *domain.Job {
	t.Helper()
	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: command})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	queued := domain.StatusQueued
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &queued}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return job
}

func waitForStatus(t *testing.T, s *store.Store, id string, want domain.Status) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var job *domain.Job
	var err error
	for time.Now().Before(deadline) {
		job, err = s.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s, last status %s", id, want, job.Status)
	return nil
}

func TestExecuteCommandJobSucceeds(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job := newQueuedCommandJob(t, s, "exit 0")
	rt := New("default", s, nil, scripts.NewRegistry(), t.TempDir())

	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	waitForStatus(t, s, job.ID, domain.StatusDone)
}

func TestExecuteCommandJobFails(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job := newQueuedCommandJob(t, s, "exit 1")
	rt := New("default", s, nil, scripts.NewRegistry(), t.TempDir())

	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	waitForStatus(t, s, job.ID, domain.StatusFailed)
}

func TestExecuteCommandJobKilledGoesToPending(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	logDir := t.TempDir()
	job := newQueuedCommandJob(t, s, "sleep 30")
	rt := New("default", s, nil, scripts.NewRegistry(), logDir)

	done := make(chan struct{})
	rt.Run(job, func() { close(done) })

	var pid int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.Get(job.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.PID != nil {
			pid = *got.PID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pid == 0 {
		t.Fatal("pid was never recorded")
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("failed to kill process: %v", err)
	}

	<-done
	waitForStatus(t, s, job.ID, domain.StatusPending)
}

func TestExecuteAPIPostJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job, err := s.Create(domain.JobCreate{Name: "hook", Type: domain.JobTypeAPIPost, Command: srv.URL})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	queued := domain.StatusQueued
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &queued}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rt := New("default", s, nil, scripts.NewRegistry(), t.TempDir())
	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	waitForStatus(t, s, job.ID, domain.StatusDone)
}

func TestExecuteScriptJobInjectsJobID(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	reg := scripts.NewRegistry()
	var gotJobID string
	reg.Register("greet", scripts.Script{
		Run: func(meta map[string]any) (scripts.Result, error) {
			gotJobID, _ = meta["job_id"].(string)
			return scripts.Result{Success: true, Message: "done"}, nil
		},
	})

	job, err := s.Create(domain.JobCreate{Name: "greet job", Type: domain.JobTypeScript, Command: "greet"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	queued := domain.StatusQueued
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &queued}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rt := New("default", s, nil, reg, t.TempDir())
	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	waitForStatus(t, s, job.ID, domain.StatusDone)
	if gotJobID != job.ID {
		t.Errorf("expected script to receive job_id=%s, got %s", job.ID, gotJobID)
	}
}

func TestExecuteScriptJobFailsWhenValidateRejects(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	reg := scripts.NewRegistry()
	ran := false
	reg.Register("strict", scripts.Script{
		Validate: func(meta map[string]any) bool {
			_, ok := meta["required_field"]
			return ok
		},
		Run: func(meta map[string]any) (scripts.Result, error) {
			ran = true
			return scripts.Result{Success: true, Message: "done"}, nil
		},
	})

	job, err := s.Create(domain.JobCreate{Name: "strict job", Type: domain.JobTypeScript, Command: "strict"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	queued := domain.StatusQueued
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &queued}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rt := New("default", s, nil, reg, t.TempDir())
	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	waitForStatus(t, s, job.ID, domain.StatusFailed)
	if ran {
		t.Error("expected Run to never be called when Validate rejects the input")
	}
}

func TestLogPathIncludesRetryCount(t *testing.T) {
	job := &domain.Job{ID: "abc", RetryCount: 2}
	got := logPath("/tmp", job)
	want := filepath.Join("/tmp", "job_abc_retry_2.txt")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestStaleClaimIsNotExecuted(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// job is left in "pending", not "queued" -- claim must fail.

	rt := New("default", s, nil, scripts.NewRegistry(), t.TempDir())
	var wg sync.WaitGroup
	wg.Add(1)
	rt.Run(job, wg.Done)
	wg.Wait()

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected job to remain pending after a stale claim attempt, got %s", got.Status)
	}
}

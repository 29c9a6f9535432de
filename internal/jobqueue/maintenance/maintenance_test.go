package maintenance

import (
	"os/exec"
	"testing"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCleanupStuckJobsFailsDeadPID(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	running := domain.StatusRunning
	deadPID := 999999
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &running, PID: &deadPID}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	m := New(s, []string{"default"})
	if err := m.CleanupStuckJobs(); err != nil {
		t.Fatalf("CleanupStuckJobs failed: %v", err)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestCleanupStuckJobsLeavesAliveProcessAlone(t *testing.T) {
	s := newTestStore(t)
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}
	defer cmd.Process.Kill()

	job, err := s.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	running := domain.StatusRunning
	pid := cmd.Process.Pid
	if _, err := s.Update(job.ID, domain.JobPatch{Status: &running, PID: &pid}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	m := New(s, []string{"default"})
	if err := m.CleanupStuckJobs(); err != nil {
		t.Fatalf("CleanupStuckJobs failed: %v", err)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusRunning {
		t.Errorf("expected running job with a live pid to be left alone, got %s", got.Status)
	}
}

func TestSpawnRecurringHourlyOnlyAtMinuteZero(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(domain.JobCreate{
		Name: "hourly sweep", Type: domain.JobTypeCommand, Command: "true",
		Recurrence: domain.RecurrenceHourly,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = job

	m := New(s, []string{"default"})

	notZero := time.Date(2026, 7, 31, 10, 15, 0, 0, time.UTC)
	if err := m.SpawnRecurring(notZero); err != nil {
		t.Fatalf("SpawnRecurring failed: %v", err)
	}
	jobs, err := s.ListForEnv("dev", nil, true)
	if err != nil {
		t.Fatalf("ListForEnv failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected no spawn off the minute, got %d jobs", len(jobs))
	}

	atZero := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	if err := m.SpawnRecurring(atZero); err != nil {
		t.Fatalf("SpawnRecurring failed: %v", err)
	}
	jobs, err = s.ListForEnv("dev", nil, true)
	if err != nil {
		t.Fatalf("ListForEnv failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected one spawned job at minute 0, got %d jobs", len(jobs))
	}

	var spawned *domain.Job
	for _, j := range jobs {
		if j.ID != job.ID {
			spawned = j
		}
	}
	if spawned == nil {
		t.Fatal("spawned job not found")
	}
	if spawned.Recurrence != domain.RecurrenceNone {
		t.Errorf("expected spawned job to have recurrence cleared, got %s", spawned.Recurrence)
	}
	if spawned.Status != domain.StatusQueued {
		t.Errorf("expected spawned job to be queued, got %s", spawned.Status)
	}
}

func TestCheckJobSchedulersSkipsInvalidTemplateWithoutMarkingFired(t *testing.T) {
	s := newTestStore(t)
	interval := 60
	sched, err := s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName: "dev", Name: "bad template", TriggerType: domain.TriggerRepeat,
		RepeatEverySecs: &interval, Enabled: true,
		JobTemplate: map[string]any{"type": "not-a-real-type"},
	})
	if err != nil {
		t.Fatalf("CreateScheduler failed: %v", err)
	}

	m := New(s, []string{"default"})
	if err := m.CheckJobSchedulers(time.Now()); err != nil {
		t.Fatalf("CheckJobSchedulers failed: %v", err)
	}

	refreshed, err := s.GetScheduler(sched.ID)
	if err != nil {
		t.Fatalf("GetScheduler failed: %v", err)
	}
	if refreshed.LastRun != nil {
		t.Errorf("expected last_run to remain unset after a failed spawn, got %v", *refreshed.LastRun)
	}
}

func TestCheckJobSchedulersFiresValidTemplate(t *testing.T) {
	s := newTestStore(t)
	interval := 60
	_, err := s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName: "dev", Name: "good template", TriggerType: domain.TriggerRepeat,
		RepeatEverySecs: &interval, Enabled: true,
		JobTemplate: map[string]any{
			"Name": "spawned", "Type": "command", "Command": "true",
		},
	})
	if err != nil {
		t.Fatalf("CreateScheduler failed: %v", err)
	}

	m := New(s, []string{"default"})
	if err := m.CheckJobSchedulers(time.Now()); err != nil {
		t.Fatalf("CheckJobSchedulers failed: %v", err)
	}

	jobs, err := s.ListForEnv("dev", nil, true)
	if err != nil {
		t.Fatalf("ListForEnv failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected scheduler to spawn one job, got %d", len(jobs))
	}
	if jobs[0].Status != domain.StatusQueued {
		t.Errorf("expected spawned job to be queued, got %s", jobs[0].Status)
	}
}

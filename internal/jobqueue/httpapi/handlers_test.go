package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/martokk/jobqueued/internal/jobqueue/broadcast"
	"github.com/martokk/jobqueued/internal/jobqueue/dispatch"
	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
	"github.com/martokk/jobqueued/internal/jobqueue/supervisor"
)

// noopRunner executes nothing: it marks the job done, the way the Worker
// Runtime finishes a job, so the dispatcher's chained check does not
// hand it the same queued job again, and then calls done.
type noopRunner struct{ st *store.Store }

func (r noopRunner) Run(job *domain.Job, done func()) {
	status := domain.StatusDone
	r.st.Update(job.ID, domain.JobPatch{Status: &status})
	done()
}

type testEngine struct {
	st     *store.Store
	hub    *broadcast.Hub
	disp   *dispatch.Dispatcher
	sup    *supervisor.Supervisor
	queues []string
	logDir string
}

func (e *testEngine) Store() *store.Store               { return e.st }
func (e *testEngine) Hub() *broadcast.Hub                { return e.hub }
func (e *testEngine) Dispatcher() *dispatch.Dispatcher    { return e.disp }
func (e *testEngine) Supervisor() *supervisor.Supervisor { return e.sup }
func (e *testEngine) Queues() []string                   { return e.queues }
func (e *testEngine) LogDir() string                     { return e.logDir }

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := broadcast.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	return &testEngine{
		st:     st,
		hub:    hub,
		disp:   dispatch.New(st, noopRunner{st: st}),
		sup:    supervisor.New("/bin/true", ":memory:", t.TempDir()),
		queues: []string{"default"},
		logDir: t.TempDir(),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	body, _ := json.Marshal(domain.JobCreate{Name: "build", Type: domain.JobTypeCommand, Command: "true"})
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode created job: %v", err)
	}

	getResp, err := http.Get(srv.URL + "/api/v1/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestGetUnknownJobReturns404(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateJobWithBadTypeReturns400(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	body, _ := json.Marshal(domain.JobCreate{Name: "build", Type: "bogus", Command: "true"})
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPatchJobToQueuedTriggersDispatch(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	job, err := e.st.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	status := domain.StatusQueued
	patch, _ := json.Marshal(domain.JobPatch{Status: &status})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/jobs/"+job.ID, bytes.NewReader(patch))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListJobsFiltersByEnv(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	if _, err := e.st.Create(domain.JobCreate{EnvName: "prod", Name: "deploy", Type: domain.JobTypeCommand, Command: "true"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs?env_name=prod")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var jobs []domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("failed to decode jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
}

func TestConsumerStatusEndpoint(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/consumers")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var statuses map[string]supervisor.ConsumerStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("failed to decode statuses: %v", err)
	}
	if _, ok := statuses["default"]; !ok {
		t.Error("expected a status entry for the default queue")
	}
}

func TestKillJobWithNoPIDReturnsPendingAndFailure(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	job, err := e.st.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/v1/jobs/"+job.ID+"/kill", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a job with no pid, got %d", resp.StatusCode)
	}

	got, err := e.st.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected job to be pending after kill, got %s", got.Status)
	}
}

func TestPutJobStatusBroadcastsAndUpdates(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	job, err := e.st.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"status": "cancelled"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/jobs/"+job.ID+"/status", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got, err := e.st.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Errorf("expected job to be cancelled, got %s", got.Status)
	}
}

func TestStartConsumerHandlerStartsAllConfiguredQueues(t *testing.T) {
	e := newTestEngine(t)
	e.queues = []string{"default", "reserved"}
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/jobs/start-consumer", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Results []consumerActionResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(body.Results))
	}
}

func TestReorderAndStatusPlaceholdersReturn501(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	for _, path := range []string{"/api/v1/jobs/reorder", "/api/v1/jobs/status"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotImplemented {
			t.Errorf("%s: expected 501, got %d", path, resp.StatusCode)
		}
	}
}

func TestSchedulerToggleFlipsEnabled(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	sched, err := e.st.CreateScheduler(domain.JobSchedulerCreate{Name: "s", TriggerType: domain.TriggerOnStart, Enabled: true})
	if err != nil {
		t.Fatalf("CreateScheduler failed: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/v1/job-schedulers/"+sched.ID+"/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got, err := e.st.GetScheduler(sched.ID)
	if err != nil {
		t.Fatalf("GetScheduler failed: %v", err)
	}
	if got.Enabled {
		t.Error("expected scheduler to be disabled after toggle")
	}
}

func TestWebSocketDeliversInitialSnapshot(t *testing.T) {
	e := newTestEngine(t)
	srv := httptest.NewServer(Mux(e))
	defer srv.Close()

	if _, err := e.st.Create(domain.JobCreate{Name: "n", Type: domain.JobTypeCommand, Command: "true"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/job-queue?env_name=dev"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var msg broadcast.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Type != "jobs" {
		t.Errorf("expected initial message type 'jobs', got %s", msg.Type)
	}
}

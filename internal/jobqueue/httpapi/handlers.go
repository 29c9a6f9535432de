// Package httpapi is the REST and WebSocket surface over the job queue
// engine. Handlers are thin wrappers -- they decode a request, call the
// store or dispatcher, and encode the result -- the way
// internal/web/handlers.go's StateHandler/GraphHandler/EventsHandler
// hold no orchestration logic of their own.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/martokk/jobqueued/internal/jobqueue/broadcast"
	"github.com/martokk/jobqueued/internal/jobqueue/dispatch"
	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
	"github.com/martokk/jobqueued/internal/jobqueue/supervisor"
	"github.com/martokk/jobqueued/internal/jobqueue/worker"
)

// Engine is the subset of the running engine the REST/WS layer needs.
type Engine interface {
	Store() *store.Store
	Hub() *broadcast.Hub
	Dispatcher() *dispatch.Dispatcher
	Supervisor() *supervisor.Supervisor
	Queues() []string
	LogDir() string
}

// Mux builds the HTTP handler tree: /api/v1/jobs, /api/v1/job-schedulers,
// /api/v1/consumers, and the /ws/job-queue upgrade endpoint.
func Mux(e Engine) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", jobsCollectionHandler(e))
	mux.HandleFunc("/api/v1/jobs/push-jobs-to-websocket", pushJobsToWebsocketHandler(e))
	mux.HandleFunc("/api/v1/jobs/start-consumer", startConsumerHandler(e))
	mux.HandleFunc("/api/v1/jobs/stop-consumer", stopConsumerHandler(e))
	mux.HandleFunc("/api/v1/jobs/reorder", notImplementedHandler)
	mux.HandleFunc("/api/v1/jobs/status", notImplementedHandler)
	mux.HandleFunc("/api/v1/jobs/", jobItemHandler(e))
	mux.HandleFunc("/api/v1/job-schedulers", schedulersCollectionHandler(e))
	mux.HandleFunc("/api/v1/job-schedulers/", schedulerItemHandler(e))
	mux.HandleFunc("/api/v1/consumers", consumersHandler(e))
	mux.HandleFunc("/api/v1/consumers/", consumerItemHandler(e))
	mux.HandleFunc("/ws/job-queue", websocketHandler(e))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("[httpapi] failed to encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var c *jqerrors.Classified
	if errors.As(err, &c) {
		switch c.Kind {
		case jqerrors.KindNotFound:
			status = http.StatusNotFound
		case jqerrors.KindValidation:
			status = http.StatusBadRequest
		case jqerrors.KindStaleTransition, jqerrors.KindSupervisorFailure:
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// jobsCollectionHandler implements GET (list) and POST (create) on
// /api/v1/jobs.
func jobsCollectionHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			env := r.URL.Query().Get("env_name")
			if env == "" {
				env = "dev"
			}
			var queue *string
			if q := r.URL.Query().Get("queue_name"); q != "" {
				queue = &q
			}
			includeArchived := r.URL.Query().Get("include_archived") == "true"

			jobs, err := e.Store().ListForEnv(env, queue, includeArchived)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, jobs)

		case http.MethodPost:
			var create domain.JobCreate
			if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			job, err := e.Store().Create(create)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, job)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// jobItemHandler implements GET, PATCH (and PUT, its REST-table alias),
// and DELETE on /api/v1/jobs/{id}, plus GET /api/v1/jobs/{id}/log for
// tailing a running job's log file, PUT /api/v1/jobs/{id}/status for a
// status-only update that always broadcasts, and POST
// /api/v1/jobs/{id}/kill for the kill operation.
func jobItemHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]

		if len(parts) == 2 {
			switch parts[1] {
			case "log":
				tailLogHandler(e, id)(w, r)
				return
			case "status":
				jobStatusHandler(e, id)(w, r)
				return
			case "kill":
				jobKillHandler(e, id)(w, r)
				return
			}
		}

		switch r.Method {
		case http.MethodGet:
			job, err := e.Store().Get(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, job)

		case http.MethodPatch, http.MethodPut:
			var patch domain.JobPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			job, err := e.Store().Update(id, patch)
			if err != nil {
				writeError(w, err)
				return
			}
			if patch.Status != nil && *patch.Status == domain.StatusQueued {
				if _, _, err := e.Dispatcher().CheckAndProcess(job.QueueName); err != nil {
					log.Printf("[httpapi] check_and_process after patch failed for queue %s: %v", job.QueueName, err)
				}
			}
			writeJSON(w, http.StatusOK, job)

		case http.MethodDelete:
			if err := e.Store().Remove(id); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// jobStatusHandler implements PUT /api/v1/jobs/{id}/status: body
// {"status": "..."}, updates only the status field and always
// broadcasts a fresh snapshot, regardless of which status was set.
func jobStatusHandler(e Engine, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body struct {
			Status domain.Status `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing 'status' in request body"})
			return
		}

		job, err := e.Store().Update(id, domain.JobPatch{Status: &body.Status})
		if err != nil {
			writeError(w, err)
			return
		}

		jobs, err := e.Store().ListForEnv(job.EnvName, nil, false)
		if err == nil {
			e.Hub().BroadcastSnapshot(job.EnvName, jobs)
		}
		if body.Status == domain.StatusQueued {
			if _, _, err := e.Dispatcher().CheckAndProcess(job.QueueName); err != nil {
				log.Printf("[httpapi] check_and_process after status update failed for queue %s: %v", job.QueueName, err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Job %s status updated to %s", id, body.Status),
		})
	}
}

// jobKillHandler implements POST /api/v1/jobs/{id}/kill, returning 400
// with the dispatcher's message on an unsuccessful kill the way the
// original's route turns a {"success": false} result into an
// HTTPException.
func jobKillHandler(e Engine, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		result, err := e.Dispatcher().Kill(id)
		if err != nil {
			writeError(w, err)
			return
		}

		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result)
	}
}

// tailLogHandler streams a job's log file to the client, polling for
// new content every broadcast.TailPollInterval, the way a `tail -f`
// would, until the job reaches a terminal status or the client
// disconnects.
func tailLogHandler(e Engine, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := e.Store().Get(id)
		if err != nil {
			writeError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		path := worker.LogPath(e.LogDir(), job)
		var offset int64
		ticker := time.NewTicker(broadcast.TailPollInterval())
		defer ticker.Stop()

		ctx := r.Context()
		for {
			data, newOffset, err := readFrom(path, offset)
			if err == nil {
				if len(data) > 0 {
					w.Write(data)
					flusher.Flush()
				}
				offset = newOffset
			}

			current, err := e.Store().Get(id)
			if err == nil && isTerminal(current.Status) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func isTerminal(s domain.Status) bool {
	switch s {
	case domain.StatusDone, domain.StatusFailed, domain.StatusError, domain.StatusCancelled:
		return true
	}
	return false
}

func readFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() <= offset {
		return nil, offset, nil
	}

	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, offset, err
	}
	return buf, info.Size(), nil
}

func schedulersCollectionHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			env := r.URL.Query().Get("env_name")
			if env == "" {
				env = "dev"
			}
			scheds, err := e.Store().ListSchedulersForEnv(env)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, scheds)

		case http.MethodPost:
			var create domain.JobSchedulerCreate
			if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			sched, err := e.Store().CreateScheduler(create)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, sched)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func schedulerItemHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/job-schedulers/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]

		if len(parts) == 2 && parts[1] == "toggle" {
			schedulerToggleHandler(e, id)(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			sched, err := e.Store().GetScheduler(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sched)

		case http.MethodPatch:
			var patch domain.JobSchedulerPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			sched, err := e.Store().UpdateScheduler(id, patch)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sched)

		case http.MethodDelete:
			if err := e.Store().RemoveScheduler(id); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// schedulerToggleHandler implements POST /api/v1/job-schedulers/{id}/toggle,
// flipping enabled to its opposite value.
func schedulerToggleHandler(e Engine, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		sched, err := e.Store().GetScheduler(id)
		if err != nil {
			writeError(w, err)
			return
		}

		enabled := !sched.Enabled
		updated, err := e.Store().UpdateScheduler(id, domain.JobSchedulerPatch{Enabled: &enabled})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// consumersHandler implements GET /api/v1/consumers (status map).
func consumersHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, e.Supervisor().StatusMap(e.Queues()))
	}
}

// consumerItemHandler implements POST /api/v1/consumers/{queue}/start
// and /stop.
func consumerItemHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/consumers/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		queue, action := parts[0], parts[1]

		var err error
		switch action {
		case "start":
			err = e.Supervisor().Start(queue)
		case "stop":
			err = e.Supervisor().Stop(queue)
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"queue": queue, "action": action})
	}
}

// pushJobsToWebsocketHandler implements POST
// /api/v1/jobs/push-jobs-to-websocket: re-broadcast the current
// snapshot for env_name (default "dev") to every connected subscriber.
func pushJobsToWebsocketHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		env := r.URL.Query().Get("env_name")
		if env == "" {
			env = "dev"
		}
		jobs, err := e.Store().ListForEnv(env, nil, false)
		if err != nil {
			writeError(w, err)
			return
		}
		e.Hub().BroadcastSnapshot(env, jobs)
		w.WriteHeader(http.StatusOK)
	}
}

// consumerActionResult is one queue's outcome within a start/stop-all
// response, mirroring start_consumer_process's per-queue result list.
type consumerActionResult struct {
	QueueName string `json:"queue_name"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

func startConsumerHandler(e Engine) http.HandlerFunc {
	return consumerBulkActionHandler(e, func(queue string) error {
		return e.Supervisor().Start(queue)
	}, "started")
}

func stopConsumerHandler(e Engine) http.HandlerFunc {
	return consumerBulkActionHandler(e, func(queue string) error {
		return e.Supervisor().Stop(queue)
	}, "stopped")
}

// consumerBulkActionHandler runs action against the queue named in the
// request body's optional queue_name, or every configured queue if it
// is omitted, and reports 200 only if every targeted queue succeeded.
func consumerBulkActionHandler(e Engine, action func(queue string) error, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body struct {
			QueueName *string `json:"queue_name"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}

		queues := e.Queues()
		if body.QueueName != nil {
			queues = []string{*body.QueueName}
		}

		results := make([]consumerActionResult, 0, len(queues))
		allOK := true
		for _, q := range queues {
			if err := action(q); err != nil {
				allOK = false
				results = append(results, consumerActionResult{QueueName: q, Success: false, Message: err.Error()})
				continue
			}
			results = append(results, consumerActionResult{QueueName: q, Success: true, Message: fmt.Sprintf("consumer for queue %s %s", q, verb)})
		}

		status := http.StatusOK
		if !allOK {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"results": results})
	}
}

func notImplementedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "Not Implemented"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// websocketHandler upgrades the connection and registers it with the
// hub, then pushes an initial snapshot the way push-jobs-to-websocket
// does on the original's client connect.
func websocketHandler(e Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[httpapi] websocket upgrade failed: %v", err)
			return
		}

		env := r.URL.Query().Get("env_name")
		if env == "" {
			env = "dev"
		}

		client := e.Hub().Connect(conn)
		defer e.Hub().Disconnect(client)

		if jobs, err := e.Store().ListForEnv(env, nil, false); err == nil {
			e.Hub().BroadcastSnapshot(env, jobs)
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

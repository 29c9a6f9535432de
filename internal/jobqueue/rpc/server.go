package rpc

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/martokk/jobqueued/internal/jobqueue/dispatch"
	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
	"github.com/martokk/jobqueued/internal/jobqueue/supervisor"
)

// Engine is the subset of the running engine the Server dispatches
// requests against.
type Engine interface {
	Store() *store.Store
	Dispatcher() *dispatch.Dispatcher
	Supervisor() *supervisor.Supervisor
	Queues() []string
	TriggerQueue(queue string) error
}

// Server accepts CLI connections on a Unix socket, serving each on its
// own goroutine, the
// way internal/web.SocketServer accepts orchestrator connections --
// here the roles are reversed: the CLI is the client, the engine is
// the server.
type Server struct {
	path     string
	engine   Engine
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a control-plane Server. Call Start to begin
// listening.
func NewServer(path string, engine Engine) *Server {
	return &Server{path: path, engine: engine, done: make(chan struct{})}
}

// Start removes any stale socket file and begins accepting connections
// in the background.
func (s *Server) Start() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = listener
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.path)
	return nil
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("[rpc] accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			writeResponse(conn, Response{Error: "invalid request JSON: " + err.Error()})
			continue
		}
		resp := s.dispatch(req)
		writeResponse(conn, resp)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[rpc] connection read error: %v", err)
	}
}

func writeResponse(conn net.Conn, resp Response) {
	line, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[rpc] failed to encode response: %v", err)
		return
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		log.Printf("[rpc] failed to write response: %v", err)
	}
}

func (s *Server) dispatch(req Request) Response {
	st := s.engine.Store()
	switch req.Method {
	case MethodJobCreate:
		var params domain.JobCreate
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		job, err := st.Create(params)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(job)

	case MethodJobGet:
		var params struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		job, err := st.Get(params.ID)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(job)

	case MethodJobList:
		var params JobListParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		jobs, err := st.ListForEnv(params.EnvName, params.QueueName, params.IncludeArchived)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(jobs)

	case MethodJobPatch:
		var params JobPatchParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		job, err := st.Update(params.ID, params.Patch)
		if err != nil {
			return errResponse(err)
		}
		if params.Patch.Status != nil && *params.Patch.Status == domain.StatusQueued {
			if err := s.engine.TriggerQueue(job.QueueName); err != nil {
				log.Printf("[rpc] failed to trigger queue %s after patch: %v", job.QueueName, err)
			}
		}
		return okResponse(job)

	case MethodJobRemove:
		var params struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		if err := st.Remove(params.ID); err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]bool{"removed": true})

	case MethodJobKill:
		var params JobKillParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		result, err := s.engine.Dispatcher().Kill(params.ID)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case MethodSchedulerCreate:
		var params domain.JobSchedulerCreate
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		sched, err := st.CreateScheduler(params)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(sched)

	case MethodSchedulerList:
		var params struct {
			EnvName string `json:"env_name"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		scheds, err := st.ListSchedulersForEnv(params.EnvName)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(scheds)

	case MethodSchedulerPatch:
		var params SchedulerPatchParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		sched, err := st.UpdateScheduler(params.ID, params.Patch)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(sched)

	case MethodSchedulerRemove:
		var params struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		if err := st.RemoveScheduler(params.ID); err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]bool{"removed": true})

	case MethodConsumerStart:
		var params ConsumerParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		if err := s.engine.Supervisor().Start(params.Queue); err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]bool{"started": true})

	case MethodConsumerStop:
		var params ConsumerParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(err)
		}
		if err := s.engine.Supervisor().Stop(params.Queue); err != nil {
			return errResponse(err)
		}
		return okResponse(map[string]bool{"stopped": true})

	case MethodConsumerStatus:
		return okResponse(s.engine.Supervisor().StatusMap(s.engine.Queues()))

	default:
		return Response{Error: "unknown method: " + req.Method}
	}
}

func okResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Error: "failed to encode result: " + err.Error()}
	}
	return Response{Result: data}
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}

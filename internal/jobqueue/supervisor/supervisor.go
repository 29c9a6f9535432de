// Package supervisor is the Consumer Supervisor: it starts and stops
// one out-of-process consumer per queue, tracks liveness via a pid
// file the way the daemon tracks its own single-instance pid, and
// reports a status map for the REST/WebSocket layers.
package supervisor

import (
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
)

// ConsumerStatus describes one queue's consumer process.
type ConsumerStatus struct {
	Queue   string
	Running bool
	PID     int
}

// consumer tracks one running queue consumer.
type consumer struct {
	queue string
	pid   *pidFile
	cmd   *exec.Cmd
}

// Supervisor manages one consumer process per configured queue.
type Supervisor struct {
	mu             sync.Mutex
	binaryPath     string
	dbPath         string
	runDir         string
	consumers      map[string]*consumer
	onStatus       func(queue string, running bool, pid int)
	inProcessQueue map[string]bool
}

// New creates a Supervisor. binaryPath is the consumer executable
// (cmd/jobqueue-consumer); dbPath is the shared Job Store database;
// runDir holds per-queue pid files.
func New(binaryPath, dbPath, runDir string) *Supervisor {
	return &Supervisor{
		binaryPath: binaryPath,
		dbPath:     dbPath,
		runDir:     runDir,
		consumers:  make(map[string]*consumer),
	}
}

// OnStatusChange registers a callback invoked whenever a consumer's
// running state changes, so the Broadcast Hub can push it to clients.
func (s *Supervisor) OnStatusChange(fn func(queue string, running bool, pid int)) {
	s.onStatus = fn
}

// SetInProcessQueues records which queues the embedding engine already
// runs a Worker Runtime for in-process. Start refuses to spawn an
// out-of-process consumer for any of these, since two dispatchers
// racing to claim jobs off the same queue_name would violate the
// single-running-job-per-queue guarantee.
func (s *Supervisor) SetInProcessQueues(queues []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProcessQueue = make(map[string]bool, len(queues))
	for _, q := range queues {
		s.inProcessQueue[q] = true
	}
}

func (s *Supervisor) pidFilePath(queue string) string {
	return filepath.Join(s.runDir, fmt.Sprintf("consumer-%s.pid", queue))
}

// Start launches a consumer process for queue unless one is already
// running. The child is placed in its own process group so Stop can
// signal the whole group, not just the immediate child.
func (s *Supervisor) Start(queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inProcessQueue[queue] {
		return jqerrors.Classify(jqerrors.KindSupervisorFailure, fmt.Errorf("%w: %s", jqerrors.ErrConsumerForQueueRunsInProcess, queue))
	}

	path := s.pidFilePath(queue)
	if existingPID, err := readPID(path); err == nil && isProcessRunning(existingPID) {
		return jqerrors.Classify(jqerrors.KindSupervisorFailure, jqerrors.ErrConsumerAlreadyRunning)
	}

	cmd := exec.Command(s.binaryPath, "--queue", queue, "--db", s.dbPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start consumer for queue %s: %w", queue, err)
	}

	pf := newPIDFile(path)
	if err := pf.write(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	c := &consumer{queue: queue, pid: pf, cmd: cmd}
	s.consumers[queue] = c

	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		delete(s.consumers, queue)
		s.mu.Unlock()
		_ = pf.release()
		s.notify(queue, false, 0)
	}()

	s.notify(queue, true, cmd.Process.Pid)
	log.Printf("[supervisor] started consumer for queue %s (pid %d)", queue, cmd.Process.Pid)
	return nil
}

// Stop sends SIGTERM to a queue's consumer process group and returns
// without waiting for it to exit; nothing is force-killed. The
// goroutine started by Start releases the pid file and reports the
// consumer stopped once the process has exited.
func (s *Supervisor) Stop(queue string) error {
	s.mu.Lock()
	c, ok := s.consumers[queue]
	s.mu.Unlock()
	if !ok {
		return jqerrors.Classify(jqerrors.KindSupervisorFailure, jqerrors.ErrConsumerNotRunning)
	}

	pgid, err := syscall.Getpgid(c.cmd.Process.Pid)
	if err != nil {
		return fmt.Errorf("failed to resolve process group for queue %s: %w", queue, err)
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal consumer for queue %s: %w", queue, err)
	}
	return nil
}

// StartOnBoot starts a consumer for every queue in queues, logging
// (not failing) on a per-queue start error so one bad queue config
// does not prevent the others from starting.
func (s *Supervisor) StartOnBoot(queues []string) {
	for _, q := range queues {
		if err := s.Start(q); err != nil {
			log.Printf("[supervisor] failed to start consumer for queue %s on boot: %v", q, err)
		}
	}
}

// StatusMap returns the running/pid state of every queue this
// supervisor currently tracks, plus stale entries recorded on disk
// from a previous process (reported as not running).
func (s *Supervisor) StatusMap(queues []string) map[string]ConsumerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ConsumerStatus, len(queues))
	for _, q := range queues {
		if c, ok := s.consumers[q]; ok {
			out[q] = ConsumerStatus{Queue: q, Running: true, PID: c.cmd.Process.Pid}
			continue
		}
		if pid, err := readPID(s.pidFilePath(q)); err == nil && isProcessRunning(pid) {
			out[q] = ConsumerStatus{Queue: q, Running: true, PID: pid}
			continue
		}
		out[q] = ConsumerStatus{Queue: q, Running: false}
	}
	return out
}

func (s *Supervisor) notify(queue string, running bool, pid int) {
	if s.onStatus != nil {
		s.onStatus(queue, running, pid)
	}
}

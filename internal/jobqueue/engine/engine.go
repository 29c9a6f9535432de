// Package engine wires the Job Store, Dispatcher, Worker Runtime,
// Broadcast Hub, Consumer Supervisor, and Maintenance loops into the
// single running process that the RPC and HTTP API layers sit in
// front of, the way internal/web.Server wires its Store, Hub, and
// socket/http servers together.
package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/broadcast"
	"github.com/martokk/jobqueued/internal/jobqueue/config"
	"github.com/martokk/jobqueued/internal/jobqueue/dispatch"
	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/httpapi"
	"github.com/martokk/jobqueued/internal/jobqueue/maintenance"
	"github.com/martokk/jobqueued/internal/jobqueue/rpc"
	"github.com/martokk/jobqueued/internal/jobqueue/scripts"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
	"github.com/martokk/jobqueued/internal/jobqueue/supervisor"
	"github.com/martokk/jobqueued/internal/jobqueue/worker"
)

// Engine is the running process: store, dispatcher, one Worker Runtime
// per queue, broadcast hub, consumer supervisor, maintenance loops,
// and the RPC/HTTP front doors.
//
// Jobs run in-process, one Worker Runtime per configured queue, each
// honoring its queue's single-worker slot via the shared Dispatcher.
// The Consumer Supervisor additionally lets an operator run a queue's
// consumer as its own out-of-process binary (cmd/jobqueue-consumer)
// for isolation, the way the original ran one process per queue. Since
// every configured queue always gets an in-process Worker Runtime, the
// Supervisor is told about all of them via SetInProcessQueues and
// refuses to start an out-of-process consumer for any queue this
// Engine already runs, so the two controls can never race to claim the
// same queue_name's jobs.
type Engine struct {
	cfg *config.Config

	store       *store.Store
	hub         *broadcast.Hub
	dispatcher  *dispatch.Dispatcher
	runtimes    map[string]*worker.Runtime
	supervisor  *supervisor.Supervisor
	maintenance *maintenance.Maintenance
	scripts     *scripts.Registry

	rpcServer  *rpc.Server
	httpServer *http.Server

	stopTickers chan struct{}
}

// New opens the store and wires every component from cfg. It does not
// start any servers or background loops -- call Start for that.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to prepare engine directories: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	hub := broadcast.NewHub()
	reg := scripts.NewRegistry()

	binaryPath := ""
	if len(cfg.Queues) > 0 {
		binaryPath = cfg.Queues[0].ConsumerBinary
	}
	if binaryPath == "" {
		binaryPath = defaultConsumerBinaryPath()
	}

	e := &Engine{
		cfg:         cfg,
		store:       st,
		hub:         hub,
		runtimes:    make(map[string]*worker.Runtime, len(cfg.Queues)),
		supervisor:  supervisor.New(binaryPath, cfg.DBPath, cfg.LogDir),
		scripts:     reg,
		stopTickers: make(chan struct{}),
	}

	for _, q := range cfg.Queues {
		e.runtimes[q.Name] = worker.New(q.Name, st, hub, reg, cfg.LogDir)
	}

	e.dispatcher = dispatch.New(st, e)
	e.maintenance = maintenance.New(st, e.Queues())
	e.supervisor.OnStatusChange(func(queue string, running bool, pid int) {
		hub.BroadcastConsumerStatus(queue, running, pid)
	})
	e.supervisor.SetInProcessQueues(e.Queues())

	e.rpcServer = rpc.NewServer(cfg.SocketPath, e)
	e.httpServer = &http.Server{Addr: cfg.WebAddr, Handler: httpapi.Mux(e)}

	return e, nil
}

// Run implements dispatch.Runner, routing a dispatched job to the Worker
// Runtime for its queue, which claims it. Every job in a TriggerNext call for queue Q
// was listed from queue Q, so the runtime lookup never misses for a
// queue the Engine was configured with.
func (e *Engine) Run(job *domain.Job, done func()) {
	rt, ok := e.runtimes[job.QueueName]
	if !ok {
		log.Printf("[engine] no worker runtime configured for queue %q, dropping job %s", job.QueueName, job.ID)
		done()
		return
	}
	rt.Run(job, done)
}

// Store returns the Job/Scheduler Store, satisfying rpc.Engine and
// httpapi.Engine.
func (e *Engine) Store() *store.Store { return e.store }

// Hub returns the Broadcast Hub, satisfying httpapi.Engine.
func (e *Engine) Hub() *broadcast.Hub { return e.hub }

// Dispatcher returns the Dispatcher, satisfying httpapi.Engine.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Supervisor returns the Consumer Supervisor, satisfying rpc.Engine and
// httpapi.Engine.
func (e *Engine) Supervisor() *supervisor.Supervisor { return e.supervisor }

// Queues returns the configured queue names.
func (e *Engine) Queues() []string {
	names := make([]string, len(e.cfg.Queues))
	for i, q := range e.cfg.Queues {
		names[i] = q.Name
	}
	return names
}

// LogDir returns the per-job log directory, satisfying httpapi.Engine.
func (e *Engine) LogDir() string { return e.cfg.LogDir }

// TriggerQueue asks the Dispatcher to check a queue for a runnable job,
// satisfying rpc.Engine.
func (e *Engine) TriggerQueue(queue string) error {
	_, _, err := e.dispatcher.CheckAndProcess(queue)
	return err
}

// Start begins accepting RPC and HTTP connections, runs the Broadcast
// Hub's event loop, and starts the maintenance tickers. Non-blocking.
func (e *Engine) Start() error {
	go e.hub.Run()

	if err := e.rpcServer.Start(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	go func() {
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[engine] http server stopped: %v", err)
		}
	}()

	if e.cfg.StartOnBoot {
		e.supervisor.StartOnBoot(e.Queues())
	}

	if err := e.maintenance.RunOnStartSchedulers(); err != nil {
		log.Printf("[engine] run-on-start schedulers failed: %v", err)
	}

	go e.runMaintenanceTickers()
	return nil
}

// Stop shuts down the HTTP server, control socket, and the Broadcast
// Hub, in the mirror order Start brought them up.
func (e *Engine) Stop(ctx context.Context) error {
	close(e.stopTickers)

	httpErr := e.httpServer.Shutdown(ctx)

	if err := e.rpcServer.Stop(); err != nil {
		log.Printf("[engine] control socket stop error: %v", err)
	}

	e.hub.Stop()

	if httpErr != nil {
		return fmt.Errorf("failed to shut down http server: %w", httpErr)
	}

	return e.store.Close()
}

// runMaintenanceTickers drives the reaper, the per-queue safety-net
// check, recurring-job spawn, and scheduler-fire loops on their
// configured intervals, the way the original's background thread
// looped over the same four checks once per tick.
func (e *Engine) runMaintenanceTickers() {
	reaper := time.NewTicker(e.cfg.ReaperEvery)
	check := time.NewTicker(e.cfg.CheckEvery)
	schedulerTick := time.NewTicker(e.cfg.SchedulerTick)
	defer reaper.Stop()
	defer check.Stop()
	defer schedulerTick.Stop()

	for {
		select {
		case <-e.stopTickers:
			return

		case <-reaper.C:
			if err := e.maintenance.CleanupStuckJobs(); err != nil {
				log.Printf("[engine] reaper failed: %v", err)
			}

		case <-check.C:
			e.maintenance.CheckAndProcessAll(e.TriggerQueue)
			if err := e.maintenance.SpawnRecurring(time.Now()); err != nil {
				log.Printf("[engine] spawn recurring failed: %v", err)
			}

		case <-schedulerTick.C:
			if err := e.maintenance.CheckJobSchedulers(time.Now()); err != nil {
				log.Printf("[engine] check job schedulers failed: %v", err)
			}
		}
	}
}

// defaultConsumerBinaryPath assumes cmd/jobqueue-consumer is installed
// alongside the running jobqueue binary, the layout `go install` and a
// packaged release both produce.
func defaultConsumerBinaryPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "jobqueue-consumer"
	}
	return filepath.Join(filepath.Dir(exe), "jobqueue-consumer")
}

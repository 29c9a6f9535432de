// Command jobqueue-consumer runs the Worker Runtime for a single
// queue as a standalone process, the way the original ran one
// out-of-process consumer per queue. The Consumer Supervisor spawns
// this binary with --queue and --db; it can also be run by hand for a
// queue an operator wants isolated from the main jobqueue daemon.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/broadcast"
	"github.com/martokk/jobqueued/internal/jobqueue/dispatch"
	"github.com/martokk/jobqueued/internal/jobqueue/maintenance"
	"github.com/martokk/jobqueued/internal/jobqueue/scripts"
	"github.com/martokk/jobqueued/internal/jobqueue/store"
	"github.com/martokk/jobqueued/internal/jobqueue/worker"
)

const pollInterval = 2 * time.Second

func main() {
	queue := flag.String("queue", "", "Queue name to consume (required)")
	dbPath := flag.String("db", "", "Path to the shared job store database (required)")
	logDir := flag.String("log-dir", "", "Directory for per-job log files (defaults alongside the database)")
	flag.Parse()

	if *queue == "" || *dbPath == "" {
		log.Fatal("jobqueue-consumer: --queue and --db are required")
	}

	dir := *logDir
	if dir == "" {
		dir = filepath.Dir(*dbPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("jobqueue-consumer: failed to prepare log dir: %v", err)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("jobqueue-consumer: failed to open store: %v", err)
	}
	defer st.Close()

	hub := broadcast.NewHub()
	go hub.Run()
	defer hub.Stop()

	reg := scripts.NewRegistry()
	runtime := worker.New(*queue, st, hub, reg, dir)
	dispatcher := dispatch.New(st, runtime)
	mnt := maintenance.New(st, []string{*queue})

	trigger := make(chan struct{}, 1)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)

	log.Printf("[consumer %s] started, db=%s", *queue, *dbPath)

	if _, _, err := dispatcher.CheckAndProcess(*queue); err != nil {
		log.Printf("[consumer %s] initial check failed: %v", *queue, err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				select {
				case trigger <- struct{}{}:
				default:
				}
			default:
				log.Printf("[consumer %s] received %s, shutting down", *queue, s)
				return
			}

		case <-trigger:
			if _, _, err := dispatcher.CheckAndProcess(*queue); err != nil {
				log.Printf("[consumer %s] triggered check failed: %v", *queue, err)
			}

		case <-ticker.C:
			if _, _, err := dispatcher.CheckAndProcess(*queue); err != nil {
				log.Printf("[consumer %s] poll check failed: %v", *queue, err)
			}
			if err := mnt.CleanupStuckJobs(); err != nil {
				log.Printf("[consumer %s] reaper failed: %v", *queue, err)
			}
		}
	}
}

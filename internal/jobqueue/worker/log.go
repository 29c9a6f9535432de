package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
)

// logPath returns the stable log file path for a job, named the way
// the original named its per-job log files so a job's (non-auto-retried)
// life always writes to the same file.
func logPath(dir string, job *domain.Job) string {
	return filepath.Join(dir, fmt.Sprintf("job_%s_retry_%d.txt", job.ID, job.RetryCount))
}

// LogPath exposes logPath for the REST log-tail endpoint, which needs
// to locate a job's log file without importing worker internals.
func LogPath(dir string, job *domain.Job) string {
	return logPath(dir, job)
}

func openJobLog(dir string, job *domain.Job) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath(dir, job), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log: %w", err)
	}
	return f, nil
}

// writePreamble writes a header block before the job body runs,
// mirroring the original's job_id/script_class_name/meta preamble.
func writePreamble(f *os.File, job *domain.Job) {
	metaJSON, _ := json.MarshalIndent(job.Meta, "", "  ")
	fmt.Fprintf(f, "job_id: %s\n", job.ID)
	fmt.Fprintf(f, "type: %s\n", job.Type)
	fmt.Fprintf(f, "command: %s\n", job.Command)
	fmt.Fprintf(f, "meta: %s\n", metaJSON)
	fmt.Fprintf(f, "started_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintln(f, "----------------------------------------")
}

// writeFooter writes a structured success/message/data footer after
// the job body finishes.
func writeFooter(f *os.File, success bool, message string, data map[string]any) {
	dataJSON, _ := json.MarshalIndent(data, "", "  ")
	fmt.Fprintln(f, "----------------------------------------")
	fmt.Fprintf(f, "success: %t\n", success)
	fmt.Fprintf(f, "message: %s\n", message)
	fmt.Fprintf(f, "data: %s\n", dataJSON)
	fmt.Fprintf(f, "completed_at: %s\n", time.Now().UTC().Format(time.RFC3339))
}

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"syscall"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
	"github.com/martokk/jobqueued/internal/jobqueue/scripts"
)

// outcome is the result of running a job's body, before the finally
// clause applies it to the store and broadcasts it.
type outcome struct {
	status  domain.Status
	message string
	data    map[string]any
}

// runCommand executes job.Command as a shell command, merging
// stdout/stderr into the log file and recording the subprocess's pid
// once started. A SIGKILL is treated specially: it means an operator
// explicitly killed the job, so the job returns to pending rather than
// failed, distinguishing a user kill from a genuine failure.
func (r *Runtime) runCommand(ctx context.Context, job *domain.Job, logFile *os.File) outcome {
	cmd := exec.CommandContext(ctx, "sh", "-c", job.Command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return outcome{status: domain.StatusFailed, message: fmt.Sprintf("failed to start command: %v", err)}
	}

	if err := r.store.SetPID(job.ID, cmd.Process.Pid); err != nil {
		// Non-fatal: the reaper only degrades to failing the job later if
		// the recorded pid is missing, so continue running the command.
		fmt.Fprintf(logFile, "warning: failed to record pid: %v\n", err)
	}

	err := cmd.Wait()
	if err == nil {
		return outcome{status: domain.StatusDone, message: "command completed successfully"}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return outcome{status: domain.StatusError, message: "command timed out"}
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGKILL {
			log.Printf("[worker %s] job %s: %v", r.queue, job.ID, jqerrors.Classify(jqerrors.KindUserKill, fmt.Errorf("signal-9 observed on pid %d", exitErr.Pid())))
			return outcome{status: domain.StatusPending, message: "command was killed"}
		}
	}

	return outcome{status: domain.StatusFailed, message: fmt.Sprintf("command failed: %v", err)}
}

// runAPIPost POSTs job.Meta as a JSON body to job.Command (a URL),
// following the original's requests.post + raise_for_status behavior:
// any non-2xx response is a failure.
func (r *Runtime) runAPIPost(ctx context.Context, job *domain.Job, logFile *os.File) outcome {
	body, err := json.Marshal(job.Meta)
	if err != nil {
		return outcome{status: domain.StatusFailed, message: fmt.Sprintf("failed to encode request body: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Command, bytes.NewReader(body))
	if err != nil {
		return outcome{status: domain.StatusFailed, message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return outcome{status: domain.StatusError, message: "request timed out"}
		}
		return outcome{status: domain.StatusFailed, message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(logFile, "response status: %d\nresponse body: %s\n", resp.StatusCode, respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome{status: domain.StatusFailed, message: fmt.Sprintf("request returned status %d", resp.StatusCode)}
	}
	return outcome{status: domain.StatusDone, message: "request completed successfully"}
}

// runScript looks up job.Command in the script registry and runs it
// with job.Meta plus an injected job_id, mirroring the original's
// hook_get_script_class_from_class_name + script_class().run(**meta).
func (r *Runtime) runScript(ctx context.Context, job *domain.Job, logFile *os.File) outcome {
	script, err := r.scripts.Get(job.Command)
	if err != nil {
		return outcome{status: domain.StatusError, message: err.Error()}
	}

	meta := make(map[string]any, len(job.Meta)+1)
	for k, v := range job.Meta {
		meta[k] = v
	}
	meta["job_id"] = job.ID

	if script.Validate != nil && !script.Validate(meta) {
		return outcome{status: domain.StatusFailed, message: jqerrors.ErrScriptValidation.Error()}
	}

	type runResult struct {
		res scripts.Result
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := script.Run(meta)
		done <- runResult{res, err}
	}()

	select {
	case <-ctx.Done():
		return outcome{status: domain.StatusError, message: "script timed out"}
	case r := <-done:
		if r.err != nil {
			return outcome{status: domain.StatusFailed, message: r.err.Error()}
		}
		status := domain.StatusDone
		if !r.res.Success {
			status = domain.StatusFailed
		}
		fmt.Fprintf(logFile, "script result: success=%t message=%s\n", r.res.Success, r.res.Message)
		return outcome{status: status, message: r.res.Message, data: r.res.Data}
	}
}

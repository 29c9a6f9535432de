package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
)

// Create inserts a new job and returns the persisted row.
func (s *Store) Create(c domain.JobCreate) (*domain.Job, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, jqerrors.Classify(jqerrors.KindValidation, err)
	}

	metaJSON, err := json.Marshal(c.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize meta: %w", err)
	}

	job := &domain.Job{
		ID:         domain.NewJobID(),
		EnvName:    c.EnvName,
		QueueName:  c.QueueName,
		Name:       c.Name,
		Type:       c.Type,
		Command:    c.Command,
		Meta:       c.Meta,
		Priority:   c.Priority,
		Status:     domain.StatusPending,
		RetryCount: 0,
		CreatedAt:  time.Now().UTC(),
		Recurrence: c.Recurrence,
		Archived:   false,
	}

	query := `
		INSERT INTO jobs (
			id, env_name, queue_name, name, type, command, meta_json,
			pid, priority, status, retry_count, created_at, recurrence, archived
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.Exec(query,
		job.ID, job.EnvName, job.QueueName, job.Name, string(job.Type), job.Command,
		string(metaJSON), job.PID, int(job.Priority), string(job.Status), job.RetryCount,
		job.CreatedAt, string(job.Recurrence), job.Archived,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by id. Returns jqerrors.ErrJobNotFound if absent.
func (s *Store) Get(id string) (*domain.Job, error) {
	row := s.conn.QueryRow(jobSelectQuery+" WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListForEnv returns jobs for an environment, optionally filtered by
// queue, honoring include_archived the way get_all_jobs_for_env_name
// did in the original.
func (s *Store) ListForEnv(env string, queue *string, includeArchived bool) ([]*domain.Job, error) {
	query := jobSelectQuery + " WHERE env_name = ?"
	args := []interface{}{env}

	if queue != nil {
		query += " AND queue_name = ?"
		args = append(args, *queue)
	}
	if !includeArchived {
		query += " AND archived = 0"
	}
	query += " ORDER BY created_at"

	return s.queryJobs(query, args...)
}

// ListQueuedForQueue returns jobs in status=queued for a queue, ordered
// by priority (highest first) then created_at (oldest first) — the
// order the Dispatcher must pick the next job in.
func (s *Store) ListQueuedForQueue(queue string) ([]*domain.Job, error) {
	query := jobSelectQuery + ` WHERE queue_name = ? AND status = ?
		ORDER BY priority DESC, created_at ASC`
	return s.queryJobs(query, queue, string(domain.StatusQueued))
}

// ListRunningForQueue returns jobs currently running in a queue.
func (s *Store) ListRunningForQueue(queue string) ([]*domain.Job, error) {
	query := jobSelectQuery + " WHERE queue_name = ? AND status = ?"
	return s.queryJobs(query, queue, string(domain.StatusRunning))
}

// ListAllRunning returns every running job across all queues, used by
// the reaper.
func (s *Store) ListAllRunning() ([]*domain.Job, error) {
	query := jobSelectQuery + " WHERE status = ?"
	return s.queryJobs(query, string(domain.StatusRunning))
}

// ListPendingWithRecurrence returns every non-archived job with the
// given recurrence tag, whatever its status, used by the hourly/daily
// spawn loop to find templates.
func (s *Store) ListPendingWithRecurrence(recurrence domain.Recurrence) ([]*domain.Job, error) {
	query := jobSelectQuery + " WHERE recurrence = ? AND archived = 0"
	return s.queryJobs(query, string(recurrence))
}

// Update applies a sparse patch to a job.
func (s *Store) Update(id string, patch domain.JobPatch) (*domain.Job, error) {
	sets := []string{}
	args := []interface{}{}

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.PID != nil {
		sets = append(sets, "pid = ?")
		args = append(args, *patch.PID)
	} else if patch.ClearPID {
		sets = append(sets, "pid = NULL")
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.Archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, *patch.Archived)
	}
	if patch.Meta != nil {
		metaJSON, err := json.Marshal(patch.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize meta: %w", err)
		}
		sets = append(sets, "meta_json = ?")
		args = append(args, string(metaJSON))
	}

	if len(sets) == 0 {
		return s.Get(id)
	}

	query := "UPDATE jobs SET " + joinSets(sets) + " WHERE id = ?"
	args = append(args, id)

	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrJobNotFound)
	}
	return s.Get(id)
}

// Claim atomically transitions a job from queued to running. Returns
// jqerrors.ErrStaleTransition if the job's status was not queued at the
// moment of the attempt — the UPDATE ... WHERE status='queued' guard
// makes this atomic without a separate SELECT FOR UPDATE.
func (s *Store) Claim(id string, pid int) (*domain.Job, error) {
	result, err := s.conn.Exec(
		`UPDATE jobs SET status = ?, pid = ? WHERE id = ? AND status = ?`,
		string(domain.StatusRunning), pid, id, string(domain.StatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(id); getErr != nil {
			return nil, getErr
		}
		return nil, jqerrors.Classify(jqerrors.KindStaleTransition, jqerrors.ErrStaleTransition)
	}
	return s.Get(id)
}

// SetPID records the OS pid of a running job's subprocess, once it has
// actually been started. Command jobs call this after os/exec.Start;
// api_post and script jobs never have a real pid.
func (s *Store) SetPID(id string, pid int) error {
	_, err := s.conn.Exec(`UPDATE jobs SET pid = ? WHERE id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("failed to set pid: %w", err)
	}
	return nil
}

// Remove deletes a job permanently.
func (s *Store) Remove(id string) error {
	result, err := s.conn.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrJobNotFound)
	}
	return nil
}

const jobSelectQuery = `
	SELECT id, env_name, queue_name, name, type, command, meta_json,
	       pid, priority, status, retry_count, created_at, recurrence, archived
	FROM jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job        domain.Job
		typ        string
		status     string
		recurrence string
		priority   int
		metaJSON   string
		pid        sql.NullInt64
	)
	if err := row.Scan(
		&job.ID, &job.EnvName, &job.QueueName, &job.Name, &typ, &job.Command,
		&metaJSON, &pid, &priority, &status, &job.RetryCount, &job.CreatedAt,
		&recurrence, &job.Archived,
	); err != nil {
		return nil, err
	}

	job.Type = domain.JobType(typ)
	job.Status = domain.Status(status)
	job.Recurrence = domain.Recurrence(recurrence)
	job.Priority = domain.Priority(priority)
	if pid.Valid {
		p := int(pid.Int64)
		job.PID = &p
	}
	meta := map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta: %w", err)
		}
	}
	job.Meta = meta
	return &job, nil
}

func (s *Store) queryJobs(query string, args ...interface{}) ([]*domain.Job, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
)

const schedulerSelectQuery = `
	SELECT id, env_name, name, description, trigger_type,
	       repeat_every_seconds, job_template_json, enabled, last_run
	FROM job_schedulers`

// CreateScheduler inserts a new job scheduler.
func (s *Store) CreateScheduler(c domain.JobSchedulerCreate) (*domain.JobScheduler, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, jqerrors.Classify(jqerrors.KindValidation, err)
	}

	templateJSON, err := json.Marshal(c.JobTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job_template: %w", err)
	}

	sched := &domain.JobScheduler{
		ID:              domain.NewJobID(),
		EnvName:         c.EnvName,
		Name:            c.Name,
		Description:     c.Description,
		TriggerType:     c.TriggerType,
		RepeatEverySecs: c.RepeatEverySecs,
		JobTemplate:     c.JobTemplate,
		Enabled:         c.Enabled,
	}

	_, err = s.conn.Exec(
		`INSERT INTO job_schedulers (
			id, env_name, name, description, trigger_type,
			repeat_every_seconds, job_template_json, enabled, last_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.EnvName, sched.Name, sched.Description, string(sched.TriggerType),
		sched.RepeatEverySecs, string(templateJSON), sched.Enabled, sched.LastRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return sched, nil
}

// GetScheduler retrieves a scheduler by id.
func (s *Store) GetScheduler(id string) (*domain.JobScheduler, error) {
	row := s.conn.QueryRow(schedulerSelectQuery+" WHERE id = ?", id)
	sched, err := scanScheduler(row)
	if err == sql.ErrNoRows {
		return nil, jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrSchedulerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduler: %w", err)
	}
	return sched, nil
}

// ListSchedulersForEnv returns all schedulers for an environment.
func (s *Store) ListSchedulersForEnv(env string) ([]*domain.JobScheduler, error) {
	return s.querySchedulers(schedulerSelectQuery+" WHERE env_name = ? ORDER BY name", env)
}

// ListOnStartSchedulers returns enabled on_start schedulers, fired once
// when the engine boots.
func (s *Store) ListOnStartSchedulers() ([]*domain.JobScheduler, error) {
	return s.querySchedulers(
		schedulerSelectQuery+" WHERE enabled = 1 AND trigger_type = ?",
		string(domain.TriggerOnStart),
	)
}

// ListRepeatSchedulers returns enabled repeat schedulers. Due-ness is
// computed in memory via JobScheduler.Due rather than in SQL, matching
// the original's approach of loading candidates then filtering in
// Python.
func (s *Store) ListRepeatSchedulers() ([]*domain.JobScheduler, error) {
	return s.querySchedulers(
		schedulerSelectQuery+" WHERE enabled = 1 AND trigger_type = ?",
		string(domain.TriggerRepeat),
	)
}

// UpdateScheduler applies a sparse patch.
func (s *Store) UpdateScheduler(id string, patch domain.JobSchedulerPatch) (*domain.JobScheduler, error) {
	sets := []string{}
	args := []interface{}{}

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.TriggerType != nil {
		sets = append(sets, "trigger_type = ?")
		args = append(args, string(*patch.TriggerType))
	}
	if patch.RepeatEverySecs != nil {
		sets = append(sets, "repeat_every_seconds = ?")
		args = append(args, *patch.RepeatEverySecs)
	}
	if patch.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *patch.Enabled)
	}
	if patch.LastRun != nil {
		sets = append(sets, "last_run = ?")
		args = append(args, *patch.LastRun)
	}
	if patch.JobTemplate != nil {
		templateJSON, err := json.Marshal(patch.JobTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize job_template: %w", err)
		}
		sets = append(sets, "job_template_json = ?")
		args = append(args, string(templateJSON))
	}

	if len(sets) == 0 {
		return s.GetScheduler(id)
	}

	query := "UPDATE job_schedulers SET " + joinSets(sets) + " WHERE id = ?"
	args = append(args, id)

	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update scheduler: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrSchedulerNotFound)
	}
	return s.GetScheduler(id)
}

// MarkFired sets last_run to now, recorded as unix seconds. Callers
// that fail to decode a job_template must NOT call this, so the
// scheduler retries next tick instead of silently skipping a cycle.
func (s *Store) MarkFired(id string, unixNow int64) error {
	_, err := s.conn.Exec(`UPDATE job_schedulers SET last_run = ? WHERE id = ?`, unixNow, id)
	if err != nil {
		return fmt.Errorf("failed to mark scheduler fired: %w", err)
	}
	return nil
}

// RemoveScheduler deletes a scheduler.
func (s *Store) RemoveScheduler(id string) error {
	result, err := s.conn.Exec(`DELETE FROM job_schedulers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove scheduler: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return jqerrors.Classify(jqerrors.KindNotFound, jqerrors.ErrSchedulerNotFound)
	}
	return nil
}

func scanScheduler(row rowScanner) (*domain.JobScheduler, error) {
	var (
		sched           domain.JobScheduler
		triggerType     string
		templateJSON    string
		repeatEverySecs sql.NullInt64
		lastRun         sql.NullInt64
	)
	if err := row.Scan(
		&sched.ID, &sched.EnvName, &sched.Name, &sched.Description, &triggerType,
		&repeatEverySecs, &templateJSON, &sched.Enabled, &lastRun,
	); err != nil {
		return nil, err
	}

	sched.TriggerType = domain.SchedulerTriggerType(triggerType)
	if repeatEverySecs.Valid {
		v := int(repeatEverySecs.Int64)
		sched.RepeatEverySecs = &v
	}
	if lastRun.Valid {
		v := lastRun.Int64
		sched.LastRun = &v
	}
	template := map[string]any{}
	if templateJSON != "" {
		if err := json.Unmarshal([]byte(templateJSON), &template); err != nil {
			return nil, fmt.Errorf("failed to decode job_template: %w", err)
		}
	}
	sched.JobTemplate = template
	return &sched, nil
}

func (s *Store) querySchedulers(query string, args ...interface{}) ([]*domain.JobScheduler, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedulers: %w", err)
	}
	defer rows.Close()

	var scheds []*domain.JobScheduler
	for rows.Next() {
		sched, err := scanScheduler(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduler: %w", err)
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedulers: %w", err)
	}
	return scheds, nil
}

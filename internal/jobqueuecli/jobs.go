package jobqueuecli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/rpc"
)

// NewJobsCmd creates the 'jobs' command group: list, create, get, queue,
// cancel, kill, rm.
func NewJobsCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage jobs",
	}

	cmd.AddCommand(newJobsListCmd(a))
	cmd.AddCommand(newJobsCreateCmd(a))
	cmd.AddCommand(newJobsGetCmd(a))
	cmd.AddCommand(newJobsQueueCmd(a))
	cmd.AddCommand(newJobsCancelCmd(a))
	cmd.AddCommand(newJobsKillCmd(a))
	cmd.AddCommand(newJobsRemoveCmd(a))
	return cmd
}

// newJobsListCmd creates the 'jobs list' command.
// Flags: --queue (string, filter), --archived (bool, default: false)
func newJobsListCmd(a *App) *cobra.Command {
	var queue string
	var archived bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs for the current environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			params := rpc.JobListParams{EnvName: a.envName, IncludeArchived: archived}
			if queue != "" {
				params.QueueName = &queue
			}

			var jobs []domain.Job
			if err := rpc.Call(conn, rpc.MethodJobList, params, &jobs); err != nil {
				return err
			}
			printJobTable(jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Filter by queue name")
	cmd.Flags().BoolVar(&archived, "archived", false, "Include archived jobs")
	return cmd
}

// newJobsCreateCmd creates the 'jobs create' command.
// Flags: --name, --type (command|api_post|script), --command, --priority, --recurrence
func newJobsCreateCmd(a *App) *cobra.Command {
	var (
		name       string
		jobType    string
		command    string
		priority   string
		recurrence string
		queue      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new job",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			p, ok := domain.ParsePriority(priority)
			if priority != "" && !ok {
				return fmt.Errorf("invalid priority %q: must be one of lowest, low, normal, high, highest", priority)
			}
			if priority == "" {
				p = domain.PriorityNormal
			}

			create := domain.JobCreate{
				EnvName:    a.envName,
				QueueName:  queue,
				Name:       name,
				Type:       domain.JobType(jobType),
				Command:    command,
				Priority:   p,
				Recurrence: domain.Recurrence(recurrence),
			}

			var job domain.Job
			if err := rpc.Call(conn, rpc.MethodJobCreate, create, &job); err != nil {
				return err
			}
			fmt.Printf("Created job %s (%s)\n", job.ID, job.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name (required)")
	cmd.Flags().StringVar(&jobType, "type", string(domain.JobTypeCommand), "Job type: command, api_post, or script")
	cmd.Flags().StringVar(&command, "command", "", "Shell command, URL, or script name (required)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "Priority: lowest, low, normal, high, highest")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "Recurrence: hourly or daily, empty for none")
	cmd.Flags().StringVar(&queue, "queue", "", "Queue name (defaults to \"default\")")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("command")
	return cmd
}

// newJobsGetCmd creates the 'jobs get <id>' command.
func newJobsGetCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var job domain.Job
			if err := rpc.Call(conn, rpc.MethodJobGet, map[string]string{"id": args[0]}, &job); err != nil {
				return err
			}
			printJobDetail(job)
			return nil
		},
	}
}

// newJobsQueueCmd creates the 'jobs queue <id>' command, transitioning
// a pending (or failed/error) job back to queued.
func newJobsQueueCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <job-id>",
		Short: "Queue a pending, failed, or error job to run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			status := domain.StatusQueued
			var job domain.Job
			err = rpc.Call(conn, rpc.MethodJobPatch, rpc.JobPatchParams{
				ID:    args[0],
				Patch: domain.JobPatch{Status: &status},
			}, &job)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s queued on %s\n", job.ID, job.QueueName)
			return nil
		},
	}
}

// newJobsCancelCmd creates the 'jobs cancel <id>' command.
func newJobsCancelCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			status := domain.StatusCancelled
			var job domain.Job
			err = rpc.Call(conn, rpc.MethodJobPatch, rpc.JobPatchParams{
				ID:    args[0],
				Patch: domain.JobPatch{Status: &status},
			}, &job)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s cancelled\n", job.ID)
			return nil
		},
	}
}

// newJobsKillCmd creates the 'jobs kill <id>' command, sending SIGKILL
// to a running job's recorded pid and returning it to pending.
func newJobsKillCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Kill a running job's process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var result struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			if err := rpc.Call(conn, rpc.MethodJobKill, rpc.JobKillParams{ID: args[0]}, &result); err != nil {
				return err
			}
			fmt.Println(result.Message)
			if !result.Success {
				return fmt.Errorf("kill reported failure for job %s", args[0])
			}
			return nil
		},
	}
}

// newJobsRemoveCmd creates the 'jobs rm <id>' command.
func newJobsRemoveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <job-id>",
		Short: "Permanently remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := rpc.Call(conn, rpc.MethodJobRemove, map[string]string{"id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Job %s removed\n", args[0])
			return nil
		},
	}
}

func printJobTable(jobs []domain.Job) {
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return
	}
	fmt.Printf("%-28s %-20s %-10s %-9s %-8s\n", "ID", "NAME", "QUEUE", "STATUS", "PRIORITY")
	for _, j := range jobs {
		fmt.Printf("%-28s %-20s %-10s %-9s %-8s\n", j.ID, j.Name, j.QueueName, j.Status, j.Priority)
	}
}

func printJobDetail(j domain.Job) {
	fmt.Printf("ID:          %s\n", j.ID)
	fmt.Printf("Name:        %s\n", j.Name)
	fmt.Printf("Env:         %s\n", j.EnvName)
	fmt.Printf("Queue:       %s\n", j.QueueName)
	fmt.Printf("Type:        %s\n", j.Type)
	fmt.Printf("Command:     %s\n", j.Command)
	fmt.Printf("Status:      %s\n", j.Status)
	fmt.Printf("Priority:    %s\n", j.Priority)
	fmt.Printf("Retry count: %d\n", j.RetryCount)
	fmt.Printf("Recurrence:  %s\n", j.Recurrence)
	fmt.Printf("Created at:  %s\n", j.CreatedAt)
	if j.PID != nil {
		fmt.Printf("PID:         %d\n", *j.PID)
	}
}

package jobqueuecli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
	"github.com/martokk/jobqueued/internal/jobqueue/rpc"
)

// NewSchedulersCmd creates the 'schedulers' command group.
func NewSchedulersCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedulers",
		Aliases: []string{"sched"},
		Short:   "Manage job schedulers",
	}

	cmd.AddCommand(newSchedulersListCmd(a))
	cmd.AddCommand(newSchedulersEnableCmd(a))
	cmd.AddCommand(newSchedulersDisableCmd(a))
	cmd.AddCommand(newSchedulersRemoveCmd(a))
	return cmd
}

func newSchedulersListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List job schedulers for the current environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var scheds []domain.JobScheduler
			params := map[string]string{"env_name": a.envName}
			if err := rpc.Call(conn, rpc.MethodSchedulerList, params, &scheds); err != nil {
				return err
			}
			printSchedulerTable(scheds)
			return nil
		},
	}
}

func newSchedulersEnableCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <scheduler-id>",
		Short: "Enable a scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchSchedulerEnabled(a, args[0], true)
		},
	}
}

func newSchedulersDisableCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <scheduler-id>",
		Short: "Disable a scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchSchedulerEnabled(a, args[0], false)
		},
	}
}

func patchSchedulerEnabled(a *App, id string, enabled bool) error {
	conn, err := a.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	var sched domain.JobScheduler
	err = rpc.Call(conn, rpc.MethodSchedulerPatch, rpc.SchedulerPatchParams{
		ID:    id,
		Patch: domain.JobSchedulerPatch{Enabled: &enabled},
	}, &sched)
	if err != nil {
		return err
	}
	fmt.Printf("Scheduler %s enabled=%v\n", sched.ID, sched.Enabled)
	return nil
}

func newSchedulersRemoveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <scheduler-id>",
		Short: "Permanently remove a scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := rpc.Call(conn, rpc.MethodSchedulerRemove, map[string]string{"id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Scheduler %s removed\n", args[0])
			return nil
		},
	}
}

func printSchedulerTable(scheds []domain.JobScheduler) {
	if len(scheds) == 0 {
		fmt.Println("No schedulers found")
		return
	}
	fmt.Printf("%-28s %-20s %-10s %-8s %-8s\n", "ID", "NAME", "TRIGGER", "EVERY", "ENABLED")
	for _, s := range scheds {
		every := "-"
		if s.RepeatEverySecs != nil {
			every = fmt.Sprintf("%ds", *s.RepeatEverySecs)
		}
		fmt.Printf("%-28s %-20s %-10s %-8s %-8v\n", s.ID, s.Name, s.TriggerType, every, s.Enabled)
	}
}

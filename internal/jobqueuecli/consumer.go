package jobqueuecli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueue/rpc"
	"github.com/martokk/jobqueued/internal/jobqueue/supervisor"
)

// NewConsumerCmd creates the 'consumer' command group: start, stop,
// status, one per queue.
func NewConsumerCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consumer",
		Short: "Start, stop, or inspect queue consumers",
	}

	cmd.AddCommand(newConsumerStartCmd(a))
	cmd.AddCommand(newConsumerStopCmd(a))
	cmd.AddCommand(newConsumerStatusCmd(a))
	return cmd
}

func newConsumerStartCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start <queue>",
		Short: "Start the consumer process for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := rpc.Call(conn, rpc.MethodConsumerStart, rpc.ConsumerParams{Queue: args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Consumer for queue %q started\n", args[0])
			return nil
		},
	}
}

func newConsumerStopCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <queue>",
		Short: "Stop the consumer process for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := rpc.Call(conn, rpc.MethodConsumerStop, rpc.ConsumerParams{Queue: args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Consumer for queue %q stopped\n", args[0])
			return nil
		},
	}
}

func newConsumerStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running status of every queue's consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var statuses map[string]supervisor.ConsumerStatus
			if err := rpc.Call(conn, rpc.MethodConsumerStatus, struct{}{}, &statuses); err != nil {
				return err
			}

			fmt.Printf("%-12s %-8s %-8s\n", "QUEUE", "RUNNING", "PID")
			for queue, st := range statuses {
				pid := "-"
				if st.Running {
					pid = fmt.Sprintf("%d", st.PID)
				}
				fmt.Printf("%-12s %-8v %-8s\n", queue, st.Running, pid)
			}
			return nil
		},
	}
}

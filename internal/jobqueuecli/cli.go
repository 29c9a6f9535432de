// Package jobqueuecli wires the cobra command tree for the jobqueue
// CLI, the way internal/cli.App wires the teacher's root command and
// subcommands.
package jobqueuecli

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueue/rpc"
)

// App holds the wired cobra root command plus the flags shared across
// subcommands.
type App struct {
	rootCmd    *cobra.Command
	socketPath string
	envName    string

	version string
	commit  string
	date    string
}

// New creates the jobqueue CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion records build-time version info for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:           "jobqueue",
		Short:         "Persistent, multi-queue background job execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVar(&a.socketPath, "socket", rpc.DefaultSocketPath(), "Path to the engine's control socket")
	a.rootCmd.PersistentFlags().StringVar(&a.envName, "env", "dev", "Environment name to operate against")

	a.rootCmd.AddCommand(NewJobsCmd(a))
	a.rootCmd.AddCommand(NewSchedulersCmd(a))
	a.rootCmd.AddCommand(NewConsumerCmd(a))
	a.rootCmd.AddCommand(NewServeCmd(a))
	a.rootCmd.AddCommand(NewWatchCmd(a))
	a.rootCmd.AddCommand(NewVersionCmd(a))
}

func (a *App) dial() (net.Conn, error) {
	return rpc.Dial(a.socketPath)
}

package jobqueuecli

import (
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueuecli/tui"
)

// NewWatchCmd creates the 'watch' command: a live bubbletea dashboard
// fed by the engine's /ws/job-queue websocket stream.
func NewWatchCmd(a *App) *cobra.Command {
	var webAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch jobs and consumers live",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := url.URL{Scheme: "ws", Host: webAddr, Path: "/ws/job-queue"}
			q := wsURL.Query()
			q.Set("env_name", a.envName)
			wsURL.RawQuery = q.Encode()

			model := tui.NewModel(a.envName)
			program := tea.NewProgram(model, tea.WithAltScreen())
			bridge := tui.NewBridge(program)

			done := make(chan struct{})
			go func() {
				if err := bridge.Run(wsURL.String(), done); err != nil {
					// The model already reflects the disconnect; the
					// program keeps running so the user can read the
					// last known state before quitting.
				}
			}()

			_, err := program.Run()
			close(done)
			return err
		},
	}

	cmd.Flags().StringVar(&webAddr, "web", "localhost:8080", "Engine HTTP address (host:port)")
	return cmd
}

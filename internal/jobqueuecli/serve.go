package jobqueuecli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martokk/jobqueued/internal/jobqueue/config"
	"github.com/martokk/jobqueued/internal/jobqueue/engine"
)

// NewServeCmd creates the 'serve' command group: start, stop, status.
func NewServeCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the jobqueue engine",
	}

	cmd.AddCommand(newServeStartCmd(a))
	cmd.AddCommand(newServeStopCmd(a))
	cmd.AddCommand(newServeStatusCmd(a))
	return cmd
}

// newServeStartCmd creates the 'serve start' command. By default it
// spawns the engine in the background, detached from the terminal, the
// way the teacher's daemon start re-execs itself with --foreground.
// Use --foreground to block in this process instead.
func newServeStartCmd(a *App) *cobra.Command {
	var (
		foreground bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the jobqueue engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if isEnginePIDRunning(cfg.PIDFile) {
				fmt.Println("Engine is already running")
				return nil
			}

			if foreground {
				return runEngineForeground(cmd.Context(), cfg)
			}
			return startEngineBackground(configPath, cfg)
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground (blocking)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (defaults to built-in defaults)")
	return cmd
}

func runEngineForeground(ctx context.Context, cfg *config.Config) error {
	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	if err := writePID(cfg.PIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDFile)

	if err := e.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	fmt.Printf("Engine started (pid %d), socket=%s, web=%s\n", os.Getpid(), cfg.SocketPath, cfg.WebAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Stop(stopCtx)
}

func startEngineBackground(configPath string, cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return fmt.Errorf("failed to prepare log directory: %w", err)
	}
	logPath := filepath.Join(cfg.LogDir, "engine.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open engine log: %w", err)
	}
	defer logFile.Close()

	cmdArgs := []string{"serve", "start", "--foreground"}
	if configPath != "" {
		cmdArgs = append(cmdArgs, "--config", configPath)
	}
	bg := exec.Command(exe, cmdArgs...)
	bg.Stdout = logFile
	bg.Stderr = logFile
	bg.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}

	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	pid := bg.Process.Pid
	_ = bg.Process.Release()

	delay := 100 * time.Millisecond
	for i := 0; i < 5; i++ {
		time.Sleep(delay)
		if isEnginePIDRunning(cfg.PIDFile) {
			fmt.Printf("Engine started (pid %d)\nLogs: %s\n", pid, logPath)
			return nil
		}
		delay *= 2
	}
	return fmt.Errorf("engine failed to start, check %s for details", logPath)
}

func newServeStopCmd(a *App) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the jobqueue engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			pid, err := readPID(cfg.PIDFile)
			if err != nil || !isProcessRunning(pid) {
				fmt.Println("Engine is not running")
				return nil
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal engine: %w", err)
			}
			fmt.Println("Engine stopping")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	return cmd
}

func newServeStatusCmd(a *App) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the jobqueue engine is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if isEnginePIDRunning(cfg.PIDFile) {
				pid, _ := readPID(cfg.PIDFile)
				fmt.Printf("Engine is running (pid %d)\n", pid)
				return nil
			}
			fmt.Println("Engine is not running")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	return cmd
}

func isEnginePIDRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

func writePID(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		return 0, fmt.Errorf("pid file is empty")
	}
	return strconv.Atoi(pidStr)
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"samay/internal/config"
)

var daemonConfigPath string
var daemonPidFile string

func NewDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the server in the background (start/stop/restart/status)",
	}

	daemonCmd.PersistentFlags().StringVarP(&daemonConfigPath, "config", "c", "", "Path to config file")
	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "", "PID file (default ~/.samay.pid)")

	daemonCmd.AddCommand(&cobra.Command{Use: "start", Short: "Start samay serve in the background", RunE: runDaemonStart})
	daemonCmd.AddCommand(&cobra.Command{Use: "stop", Short: "Stop the background server", RunE: runDaemonStop})
	daemonCmd.AddCommand(&cobra.Command{Use: "restart", Short: "Restart the background server", RunE: runDaemonRestart})
	daemonCmd.AddCommand(&cobra.Command{Use: "status", Short: "Show background server status", RunE: runDaemonStatus})

	return daemonCmd
}

// daemonTarget is what the daemon commands need from config.
// A missing or broken config falls back to defaults so stop still works.
type daemonTarget struct {
	pidFile         string
	logFile         string
	healthURL       string
	shutdownTimeout time.Duration
}

func loadDaemonTarget() daemonTarget {
	t := daemonTarget{
		pidFile:         daemonPidFile,
		healthURL:       "http://127.0.0.1:8080/health",
		shutdownTimeout: 15 * time.Second,
	}
	if t.pidFile == "" {
		t.pidFile = defaultPidFile()
	}

	cfg, err := config.Parse(daemonConfigPath)
	if err == nil {
		t.logFile = cfg.Log.Path
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		t.healthURL = fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port)
		if cfg.Server.ShutdownTimeout > 0 {
			t.shutdownTimeout = cfg.Server.ShutdownTimeout
		}
	}
	if t.logFile == "" {
		if wd, err := os.Getwd(); err == nil {
			t.logFile = filepath.Join(wd, "samay.log")
		} else {
			t.logFile = "./samay.log"
		}
	}
	return t
}

func defaultPidFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./samay.pid"
	}
	return filepath.Join(homeDir, ".samay.pid")
}

func (t daemonTarget) readPid() (int, error) {
	data, err := os.ReadFile(t.pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (t daemonTarget) writePid(pid int) error {
	return os.WriteFile(t.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (t daemonTarget) removePid() {
	if err := os.Remove(t.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove PID file: %v\n", err)
	}
}

// runningPid returns the recorded pid if that process is alive, clearing a stale file
func (t daemonTarget) runningPid() (int, bool) {
	pid, err := t.readPid()
	if err != nil {
		return 0, false
	}
	if !isProcessRunning(pid) {
		t.removePid()
		return pid, false
	}
	return pid, true
}

// healthy probes GET /health of the local server
func (t daemonTarget) healthy(timeout time.Duration) error {
	resp, err := resty.New().SetTimeout(timeout).R().Get(t.healthURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("health check returned %s", resp.Status())
	}
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	t := loadDaemonTarget()
	if pid, ok := t.runningPid(); ok {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFileHandle, err := os.OpenFile(t.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFileHandle.Close()

	cmdArgs := []string{"serve"}
	if daemonConfigPath != "" {
		cmdArgs = append(cmdArgs, "--config", daemonConfigPath)
	}

	serveCmd := exec.Command(executable, cmdArgs...)
	serveCmd.Stdout = logFileHandle
	serveCmd.Stderr = logFileHandle
	serveCmd.Dir, _ = os.Getwd()

	if err := serveCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := serveCmd.Process.Pid

	if err := t.writePid(pid); err != nil {
		_ = serveCmd.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- serveCmd.Wait() }()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-exited:
			t.removePid()
			return fmt.Errorf("server exited during startup (%v), see %s", err, t.logFile)
		case <-time.After(500 * time.Millisecond):
		}
		if t.healthy(time.Second) == nil {
			fmt.Printf("Daemon started (PID: %d, Log: %s)\n", pid, t.logFile)
			return nil
		}
	}

	fmt.Printf("Daemon started (PID: %d, Log: %s) but %s is not answering yet\n", pid, t.logFile, t.healthURL)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	t := loadDaemonTarget()
	pid, err := t.readPid()
	if err != nil {
		return fmt.Errorf("daemon is not running (PID file not found)")
	}
	if _, ok := t.runningPid(); !ok {
		return fmt.Errorf("daemon is not running (process not found)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		t.removePid()
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	// serve drains HTTP for up to shutdown_timeout and then waits on running jobs
	deadline := time.Now().Add(t.shutdownTimeout + 5*time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if !isProcessRunning(pid) {
			t.removePid()
			fmt.Printf("Daemon stopped (PID: %d)\n", pid)
			return nil
		}
	}

	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)
	t.removePid()
	fmt.Printf("Daemon force stopped (PID: %d)\n", pid)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := runDaemonStop(cmd, args); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	time.Sleep(1 * time.Second)
	return runDaemonStart(cmd, args)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	t := loadDaemonTarget()
	pid, ok := t.runningPid()
	if !ok {
		if pid != 0 {
			fmt.Println("Status: Not running (stale PID file removed)")
		} else {
			fmt.Println("Status: Not running")
		}
		return nil
	}

	fmt.Printf("Status: Running (PID: %d)\n", pid)
	fmt.Printf("PID file: %s\n", t.pidFile)
	fmt.Printf("Log file: %s\n", t.logFile)
	if err := t.healthy(2 * time.Second); err != nil {
		fmt.Printf("Health: %s unreachable (%v)\n", t.healthURL, err)
	} else {
		fmt.Printf("Health: ok (%s)\n", t.healthURL)
	}
	return nil
}

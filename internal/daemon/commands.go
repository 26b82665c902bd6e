package daemon

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

	"pushtalk/internal/config"
	"pushtalk/internal/logging"
	"pushtalk/internal/run"

	"github.com/spf13/cobra"
)

// runtimeEnv maps per-run flags to the env overrides config.Load understands.
func runtimeEnv(cmd *cobra.Command) []string {
	var env []string
	if f := cmd.Flag("no-reconnect"); f != nil && f.Value.String() == "true" {
		env = append(env, "PUSHTALK_RECONNECT=0")
	}
	if f := cmd.Flag("broker"); f != nil && f.Value.String() != "" {
		env = append(env, "PUSHTALK_BROKER_URL="+f.Value.String())
	}
	if f := cmd.Flag("metrics-addr"); f != nil && f.Value.String() != "" {
		env = append(env, "PUSHTALK_METRICS_ADDR="+f.Value.String())
	}
	return env
}

func addRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-reconnect", false, "do not reconnect after the broker connection closes")
	cmd.Flags().String("broker", "", "broker URL for this run (e.g., wss://broker.emqx.io:8084/mqtt)")
	cmd.Flags().String("metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9318)")
}

// NewStartCmd starts the daemon (background).
func NewStartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start pushtalk daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Paths.PidPath), 0o755); err != nil {
				return err
			}
			self, err := os.Executable()
			if err != nil {
				return err
			}
			child := exec.Command(self, "serve", "--config", cfg.Paths.ConfigPath)
			child.Env = append(os.Environ(), runtimeEnv(cmd)...)
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Start(); err != nil {
				return err
			}
			// serve writes its pid file before dialing the broker.
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if pid, alive := daemonPID(cfg.Paths.PidPath); alive && pid == child.Process.Pid {
					fmt.Fprintf(cmd.OutOrStdout(), "pushtalk started (pid %d), open http://%s/\n", pid, cfg.UI.Bind)
					return child.Process.Release()
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushtalk launched (pid %d) but no pid file yet; check `pushtalk tail-log`\n", child.Process.Pid)
			return child.Process.Release()
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

// NewServeCmd runs the daemon in the foreground.
func NewServeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "serve",
		Short:  "Run pushtalk daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kv := range runtimeEnv(cmd) {
				k, v, _ := strings.Cut(kv, "=")
				if err := os.Setenv(k, v); err != nil {
					return fmt.Errorf("set %s: %w", k, err)
				}
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			return run.Serve(cfg, logger)
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

// NewStopCmd signals the daemon; it closes the broker connection on SIGTERM.
func NewStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop pushtalk daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			pid, alive := daemonPID(cfg.Paths.PidPath)
			if !alive {
				return fmt.Errorf("pushtalk is not running (pid file %s)", cfg.Paths.PidPath)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushtalk (pid %d) stopping\n", pid)
			return nil
		},
	}
}

// NewRestartCmd stops the daemon, waits for its pid file to clear and starts
// it again with this command's runtime flags.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart pushtalk daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			stopCmd := NewStopCmd(cfgPath)
			stopCmd.SetOut(cmd.OutOrStdout())
			if err := stopCmd.RunE(stopCmd, args); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
			}
			if err := waitForShutdown(cfg.Paths.PidPath, 5*time.Second); err != nil {
				return err
			}

			startCmd := NewStartCmd(cfgPath)
			startCmd.SetOut(cmd.OutOrStdout())
			for _, name := range []string{"no-reconnect", "broker", "metrics-addr"} {
				if f := cmd.Flag(name); f != nil && f.Changed {
					_ = startCmd.Flags().Set(name, f.Value.String())
				}
			}
			return startCmd.RunE(startCmd, args)
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

func ensureNotRunning(cfg *config.Config) error {
	if pid, alive := daemonPID(cfg.Paths.PidPath); alive {
		return fmt.Errorf("pushtalk already running (pid %d, page http://%s/); use restart", pid, cfg.UI.Bind)
	}
	return nil
}

// daemonPID reads the pid file and reports whether that process still exists.
// A missing or unreadable file yields pid 0.
func daemonPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	err = syscall.Kill(pid, 0)
	return pid, err == nil || errors.Is(err, syscall.EPERM)
}

// waitForShutdown polls until the daemon owning pidPath has exited. A pid file
// left by a daemon that died without cleaning up is removed.
func waitForShutdown(pidPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pid, alive := daemonPID(pidPath)
		if !alive {
			if pid != 0 {
				_ = os.Remove(pidPath)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pushtalk (pid %d) still running after %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

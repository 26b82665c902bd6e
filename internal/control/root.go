package control

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"pushtalk/internal/config"
	"pushtalk/internal/doctor"

	"github.com/spf13/cobra"
)

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and broker connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var status Status
			if err := Call(cfg.Paths.SocketPath, Request{Op: OpStatus}, &status); err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func printStatus(out io.Writer, s Status) {
	fmt.Fprintf(out, "running:   %v\nuptime:    %.1fs\n", s.Running, s.UptimeSec)
	fmt.Fprintf(out, "broker:    %s\nclient id: %s\n", s.BrokerURL, s.ClientID)
	fmt.Fprintf(out, "state:     %s\n%s\n", s.State, s.Status)
	fmt.Fprintf(out, "published: %d  rejected: %d  errors: %d  reconnects: %d\n",
		s.Stats.Published, s.Stats.Rejected, s.Stats.Errors, s.Stats.ReconnectsScheduled)
	for _, p := range s.Recent {
		fmt.Fprintf(out, "%s  %s %q\n", p.Timestamp.Format("15:04:05"), p.Message.Topic, p.Message.Payload)
	}
}

// NewHealthCmd pings the control socket.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Control-socket liveness ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, OpHealth)
		},
	}
}

// NewPressCmd sends a press-start through the running daemon.
func NewPressCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "press",
		Short: "Press the mic (publishes start if connected)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, OpPress)
		},
	}
}

// NewReleaseCmd sends a press-end through the running daemon.
func NewReleaseCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Release the mic (publishes stop if connected)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, OpRelease)
		},
	}
}

// NewReloadCmd asks the daemon to reload config.
func NewReloadCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload config in the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, OpReload)
		},
	}
}

func simpleOp(cmd *cobra.Command, cfgPath, op string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	var resp SimpleResponse
	if err := Call(cfg.Paths.SocketPath, Request{Op: op}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s failed: %s", op, resp.Message)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ok: %s\n", op, resp.Message)
	return nil
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			return tailFile(cmd.OutOrStdout(), cfg.Paths.LogPath, n)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	return cmd
}

func tailFile(out io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			fmt.Fprintln(out, l)
		}
	}
	return nil
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, broker and UI address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cmd.Context(), cfg)
			failed := false
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					failed = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-4s %s\n", r.Name, status, r.Detail)
			}
			if failed {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

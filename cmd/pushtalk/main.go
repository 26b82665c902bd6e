package main

import (
	"fmt"
	"os"

	"pushtalk/internal/control"
	"pushtalk/internal/daemon"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "pushtalk",
		Short: "pushtalk — push-to-talk MQTT recorder control",
		Long: `pushtalk serves a page with a microphone icon. Holding the icon publishes "start" to /record/start,
releasing anywhere on the page publishes "stop" to /record/stop. Messages go to an MQTT broker over WebSocket
(default ws://broker.hivemq.com:8000/mqtt) and are only sent while the broker connection is up.

Key commands:
  start|stop|restart        Daemon lifecycle
  status [--json]           Connection state + last published messages
  press|release             Publish start/stop through the daemon
  reload                    Re-read config (reconnects if the broker changed)
  doctor                    Check config, broker reachability, UI address
  service install|uninstall|status   launchd helper (macOS)
  health|tail-log           Liveness, log tail

Env overrides (also read from .env): PUSHTALK_BROKER_URL, PUSHTALK_RECONNECT,
  PUSHTALK_UI_BIND, PUSHTALK_METRICS_ADDR, PUSHTALK_LOG_LEVEL/FORMAT`,
		Example: `  pushtalk start --broker wss://broker.emqx.io:8084/mqtt
  pushtalk status
  pushtalk press && sleep 2 && pushtalk release
  pushtalk start --no-reconnect --metrics-addr 127.0.0.1:9318`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("pushtalk v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/pushtalk/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewPressCmd(cfgPath))
	root.AddCommand(control.NewReleaseCmd(cfgPath))
	root.AddCommand(control.NewReloadCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewServiceRootCmd(cfgPath))

	// Foreground daemon, used by start and by launchd.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldRed = "\033[1;31m"
		green   = "\033[32m"
		bold    = "\033[1m"
		dim     = "\033[2m"
		reset   = "\033[0m"
	)
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%spushtalk%s — push-to-talk MQTT recorder control %s(v%s)%s\n", boldRed, reset, dim, version, reset)
		write("%sHold the mic to publish start, release anywhere to publish stop.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  pushtalk [command] [flags]\n\n")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --broker <url>          broker for this run (ws:// or wss://)")
		writeln("  --no-reconnect          do not retry after the connection closes")
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus)")
		writeln("  -c, --config <path>     config file (default ~/.config/pushtalk/config.toml)")
		writeln("  Env: PUSHTALK_BROKER_URL, PUSHTALK_RECONNECT=0, PUSHTALK_UI_BIND,")
		writeln("       PUSHTALK_LOG_LEVEL=debug, PUSHTALK_LOG_FORMAT=json")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  pushtalk start --broker wss://broker.emqx.io:8084/mqtt")
		writeln("  pushtalk status --json")
		writeln("  pushtalk press && sleep 2 && pushtalk release")
		writeln("  pushtalk doctor")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}

package doctor

import (
	"context"
	"net"
	"os"
	"time"

	"pushtalk/internal/config"
	"pushtalk/internal/mqtt"
)

const dialTimeout = 3 * time.Second

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config) []Result {
	if ctx == nil {
		ctx = context.Background()
	}
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
	}
	broker, reach := checkBroker(ctx, cfg.MQTT.BrokerURL)
	results = append(results, broker)
	if reach != nil {
		results = append(results, *reach)
	}
	results = append(results, checkBind("ui.bind", cfg.UI.Bind))
	if cfg.Metrics.Enabled {
		results = append(results, checkBind("metrics", cfg.Metrics.Addr))
	}
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

// checkBroker validates the URL and, if it parses, dials the host.
func checkBroker(ctx context.Context, raw string) (Result, *Result) {
	u, err := mqtt.ValidateBrokerURL(raw)
	if err != nil {
		return Result{Name: "broker url", Pass: false, Detail: err.Error()}, nil
	}
	valid := Result{Name: "broker url", Pass: true, Detail: u.String()}

	addr := mqtt.DialAddress(u)
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return valid, &Result{Name: "broker", Pass: false, Detail: err.Error()}
	}
	_ = conn.Close()
	return valid, &Result{Name: "broker", Pass: true, Detail: addr + " reachable"}
}

func checkBind(label, addr string) Result {
	if addr == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error() + " (daemon already running?)"}
	}
	_ = ln.Close()
	return Result{Name: label, Pass: true, Detail: addr + " free"}
}

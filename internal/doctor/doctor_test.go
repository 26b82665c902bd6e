package doctor

import (
	"context"
	"net"
	"os"
	"testing"

	"pushtalk/internal/config"
)

func TestRunReportsReachableBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	if err := os.WriteFile(cfg.Paths.ConfigPath, []byte(""), 0o600); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	cfg.MQTT.BrokerURL = "ws://" + ln.Addr().String() + "/mqtt"
	cfg.UI.Bind = "127.0.0.1:0"

	results := Run(context.Background(), cfg)
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"config path", "broker url", "broker", "ui.bind"} {
		r, ok := byName[name]
		if !ok {
			t.Fatalf("missing check %q in %+v", name, results)
		}
		if !r.Pass {
			t.Fatalf("check %q failed: %s", name, r.Detail)
		}
	}
}

func TestRunFlagsBadBrokerURL(t *testing.T) {
	cfg, _ := config.Default()
	cfg.MQTT.BrokerURL = "http://not-mqtt"
	cfg.UI.Bind = "127.0.0.1:0"

	results := Run(context.Background(), cfg)
	for _, r := range results {
		if r.Name == "broker" {
			t.Fatalf("reachability should be skipped for invalid url")
		}
		if r.Name == "broker url" && r.Pass {
			t.Fatalf("expected broker url to fail")
		}
	}
}

func TestCheckBindDetectsBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if r := checkBind("ui.bind", ln.Addr().String()); r.Pass {
		t.Fatalf("expected busy address to fail")
	}
}

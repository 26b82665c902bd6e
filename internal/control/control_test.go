package control

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pushtalk/internal/ptt"
)

// fakeDaemon answers one request per connection with reply.
func fakeDaemon(t *testing.T, reply func(Request) any) string {
	t.Helper()
	// unix socket paths are length-limited; keep the dir short.
	dir, err := os.MkdirTemp("", "pt")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "c.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			var req Request
			if err := json.NewDecoder(conn).Decode(&req); err == nil {
				_ = json.NewEncoder(conn).Encode(reply(req))
			}
			_ = conn.Close()
		}
	}()
	return sock
}

func TestCallRoundTrip(t *testing.T) {
	sock := fakeDaemon(t, func(req Request) any {
		return SimpleResponse{OK: req.Op == OpPress, Message: "got " + req.Op}
	})
	var resp SimpleResponse
	if err := Call(sock, Request{Op: OpPress}, &resp); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !resp.OK || resp.Message != "got press" {
		t.Fatalf("unexpected reply %+v", resp)
	}
}

func TestCallWithoutDaemon(t *testing.T) {
	var resp SimpleResponse
	err := Call(filepath.Join(t.TempDir(), "missing.sock"), Request{Op: OpHealth}, &resp)
	if err == nil || !strings.Contains(err.Error(), "cannot connect to daemon") {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 11, 12, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, Status{
		Running:   true,
		UptimeSec: 3.5,
		State:     "connected",
		Status:    ptt.StatusConnected,
		BrokerURL: "ws://broker.hivemq.com:8000/mqtt",
		ClientID:  "WebRecorder_0a1b2c3d",
		Stats:     ptt.Stats{Published: 2, Rejected: 1},
		Recent:    []ptt.Published{{Message: ptt.StartMessage, Timestamp: ts}},
	})
	out := buf.String()
	for _, want := range []string{
		"client id: WebRecorder_0a1b2c3d",
		"state:     connected",
		ptt.StatusConnected,
		"published: 2  rejected: 1",
		`10:11:12  /record/start "start"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pushtalk.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	if err := tailFile(&buf, path, 3); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got := buf.String(); got != "three\nfour\n" {
		t.Fatalf("tail = %q", got)
	}
}

func TestParseEnvPairs(t *testing.T) {
	env, err := parseEnvPairs([]string{"PUSHTALK_RECONNECT=0", "PUSHTALK_BROKER_URL=ws://h:1/mqtt?a=b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env["PUSHTALK_RECONNECT"] != "0" || env["PUSHTALK_BROKER_URL"] != "ws://h:1/mqtt?a=b" {
		t.Fatalf("unexpected env %v", env)
	}
	if _, err := parseEnvPairs([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing =")
	}
}

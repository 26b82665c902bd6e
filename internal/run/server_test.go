package run

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pushtalk/internal/config"
	"pushtalk/internal/control"
	"pushtalk/internal/logging"
	"pushtalk/internal/ptt"
)

type stubTransport struct {
	opts      ptt.TransportOptions
	h         ptt.TransportHandlers
	mu        sync.Mutex
	published []string
}

func (t *stubTransport) Connect()    {}
func (t *stubTransport) Disconnect() {}
func (t *stubTransport) Publish(topic, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, topic+"="+payload)
	return nil
}

type stubFactory struct {
	mu    sync.Mutex
	built []*stubTransport
}

func (f *stubFactory) New(opts ptt.TransportOptions, h ptt.TransportHandlers) ptt.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &stubTransport{opts: opts, h: h}
	f.built = append(f.built, t)
	return t
}

func (f *stubFactory) last() *stubTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[len(f.built)-1]
}

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func testServer(t *testing.T) (*Server, *stubFactory) {
	t.Helper()
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	cfg.UI.StatusTail = 2
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	f := &stubFactory{}
	return newServer(cfg, logging.NewTestLogger(), f.New, nil), f
}

func TestPressBeforeConnectIsRejected(t *testing.T) {
	srv, f := testServer(t)
	srv.ctrl.Initialize(srv.config().MQTT.BrokerURL, srv.id)

	resp, ok := srv.handle(control.Request{Op: control.OpPress}).(control.SimpleResponse)
	if !ok || resp.OK {
		t.Fatalf("expected rejected press, got %+v", resp)
	}
	if len(f.last().published) != 0 {
		t.Fatalf("nothing should be published before connect")
	}
}

func TestPressReleaseAndStatus(t *testing.T) {
	srv, f := testServer(t)
	srv.ctrl.Initialize(srv.config().MQTT.BrokerURL, srv.id)
	f.last().h.OnConnect()

	for _, op := range []string{control.OpPress, control.OpRelease, control.OpPress} {
		resp := srv.handle(control.Request{Op: op}).(control.SimpleResponse)
		if !resp.OK {
			t.Fatalf("%s failed: %s", op, resp.Message)
		}
	}
	got := strings.Join(f.last().published, ",")
	if got != "/record/start=start,/record/stop=stop,/record/start=start" {
		t.Fatalf("unexpected publishes %q", got)
	}

	st := srv.handle(control.Request{Op: control.OpStatus}).(control.Status)
	if !st.Running || !st.Connected || st.State != "connected" {
		t.Fatalf("unexpected status %+v", st)
	}
	if !strings.HasPrefix(st.ClientID, "WebRecorder_") {
		t.Fatalf("client id %q", st.ClientID)
	}
	if st.Stats.Published != 3 {
		t.Fatalf("published = %d", st.Stats.Published)
	}
	if len(st.Recent) != 2 || st.Recent[1].Message.Topic != "/record/start" {
		t.Fatalf("recent tail should keep last 2, got %+v", st.Recent)
	}
}

func TestUnknownOp(t *testing.T) {
	srv, _ := testServer(t)
	resp := srv.handle(control.Request{Op: "bogus"}).(control.SimpleResponse)
	if resp.OK {
		t.Fatalf("expected unknown op to fail")
	}
}

func TestReloadReconnectsOnBrokerChange(t *testing.T) {
	srv, f := testServer(t)
	srv.ctrl.Initialize(srv.config().MQTT.BrokerURL, srv.id)

	resp := srv.handle(control.Request{Op: control.OpReload}).(control.SimpleResponse)
	if !resp.OK || f.count() != 1 {
		t.Fatalf("unchanged reload should not reconnect: %+v count=%d", resp, f.count())
	}

	cfg, _ := config.Load(srv.config().Paths.ConfigPath)
	cfg.MQTT.BrokerURL = "wss://broker.emqx.io:8084/mqtt"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	resp = srv.handle(control.Request{Op: control.OpReload}).(control.SimpleResponse)
	if !resp.OK {
		t.Fatalf("reload: %s", resp.Message)
	}
	if f.count() != 2 || f.last().opts.BrokerURL != "wss://broker.emqx.io:8084/mqtt" {
		t.Fatalf("expected reconnect to new broker")
	}
	if f.last().opts.ClientID != srv.id {
		t.Fatalf("client id must survive reconnect")
	}
}

func TestWatchConfigReloads(t *testing.T) {
	srv, f := testServer(t)
	srv.ctrl.Initialize(srv.config().MQTT.BrokerURL, srv.id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		srv.watchConfig(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	cfg, _ := config.Load(srv.config().Paths.ConfigPath)
	cfg.MQTT.BrokerURL = "ws://localhost:8000/mqtt"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if f.count() < 2 || f.last().opts.BrokerURL != "ws://localhost:8000/mqtt" {
		t.Fatalf("config change was not picked up")
	}
	cancel()
	<-done
}

func TestMetricsText(t *testing.T) {
	srv, f := testServer(t)
	srv.ctrl.Initialize(srv.config().MQTT.BrokerURL, srv.id)
	f.last().h.OnConnect()
	_ = srv.ctrl.OnPressStart()

	rec := httptest.NewRecorder()
	srv.writeMetrics(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"pushtalk_connected 1", "pushtalk_published_total 1", "pushtalk_connects_total 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

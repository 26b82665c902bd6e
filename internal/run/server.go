package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pushtalk/internal/config"
	"pushtalk/internal/control"
	"pushtalk/internal/mqtt"
	"pushtalk/internal/ptt"
	"pushtalk/internal/web"

	"github.com/sirupsen/logrus"
)

// Server wires the controller to the MQTT transport, the browser hub, the
// control socket and metrics.
type Server struct {
	logger    *logrus.Logger
	ctrl      *ptt.Controller
	hub       *web.Hub
	id        ptt.ClientIdentity
	startedAt time.Time

	cfgMu sync.Mutex
	cfg   *config.Config

	recentMu sync.Mutex
	recent   []ptt.Published

	wg sync.WaitGroup
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	settings := mqtt.DefaultSettings()
	settings.ConnectTimeout = cfg.ConnectTimeout()
	settings.KeepAlive = time.Duration(cfg.MQTT.KeepAliveSec) * time.Second
	srv := newServer(cfg, logger, mqtt.NewFactory(settings, logger), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.hub.Run(ctx)
	srv.goRun(func() { srv.uiServe(ctx) })
	srv.goRun(func() { srv.controlLoop(ctx) })
	if cfg.Metrics.Enabled {
		srv.goRun(func() { srv.metricsServe(ctx.Done(), cfg.Metrics.Addr, logger) })
	}
	if cfg.WatchConfig {
		srv.goRun(func() { srv.watchConfig(ctx) })
	}

	srv.ctrl.Initialize(cfg.MQTT.BrokerURL, srv.id)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-sigCh:
		logger.Infof("received signal %s, shutting down", s)
	case <-ctx.Done():
	}
	srv.ctrl.Dispose()
	cancel()
	srv.wg.Wait()
	return nil
}

func newServer(cfg *config.Config, logger *logrus.Logger, factory ptt.TransportFactory, clock ptt.Clock) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       web.NewHub(logger),
		id:        ptt.NewClientIdentity(cfg.MQTT.ClientIDPrefix),
		startedAt: time.Now(),
		recent:    make([]ptt.Published, 0, max(1, cfg.UI.StatusTail)),
	}
	start, stop := cfg.StartMessage(), cfg.StopMessage()
	s.ctrl = ptt.New(ptt.Options{
		Factory:         factory,
		Surface:         s.hub,
		Clock:           clock,
		Logger:          logger,
		Reconnect:       cfg.MQTT.Reconnect,
		ReconnectDelay:  cfg.ReconnectDelay(),
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		ProtocolVersion: cfg.MQTT.ProtocolVersion,
		CleanSession:    cfg.MQTT.CleanSession,
		Subscriptions:   cfg.MQTT.Subscribe,
		Start:           ptt.ControlMessage{Topic: start.Topic, Payload: start.Payload},
		Stop:            ptt.ControlMessage{Topic: stop.Topic, Payload: stop.Payload},
		OnPublished:     s.recordPublished,
	})
	s.hub.Bind(s.ctrl)
	return s
}

func (s *Server) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Server) config() *config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

func (s *Server) recordPublished(p ptt.Published) {
	tail := s.config().UI.StatusTail
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recent = append(s.recent, p)
	if tail > 0 && len(s.recent) > tail {
		s.recent = s.recent[len(s.recent)-tail:]
	}
}

func (s *Server) copyRecent() []ptt.Published {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	out := make([]ptt.Published, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Server) uiServe(ctx context.Context) {
	addr := s.config().UI.Bind
	server := &http.Server{
		Addr:              addr,
		Handler:           s.hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	s.logger.Infof("push-to-talk page on http://%s/", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Errorf("ui server: %v", err)
	}
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.config().Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		_ = json.NewEncoder(conn).Encode(control.SimpleResponse{OK: false, Message: "bad request"})
		return
	}
	_ = json.NewEncoder(conn).Encode(s.handle(req))
}

// handle answers one control request.
func (s *Server) handle(req control.Request) any {
	switch req.Op {
	case control.OpStatus:
		snap := s.ctrl.Snapshot()
		return control.Status{
			Running:   true,
			UptimeSec: time.Since(s.startedAt).Seconds(),
			State:     snap.StateName,
			Status:    snap.Status,
			Connected: snap.Connected,
			Icon:      snap.Icon,
			BrokerURL: snap.BrokerURL,
			ClientID:  string(snap.ClientID),
			Stats:     s.ctrl.Stats(),
			Recent:    s.copyRecent(),
		}
	case control.OpHealth:
		return control.SimpleResponse{OK: true, Message: "ok"}
	case control.OpPress:
		return pressResponse(s.ctrl.OnPressStart())
	case control.OpRelease:
		return pressResponse(s.ctrl.OnPressEnd())
	case control.OpReload:
		msg, err := s.reload()
		if err != nil {
			return control.SimpleResponse{OK: false, Message: err.Error()}
		}
		return control.SimpleResponse{OK: true, Message: msg}
	default:
		return control.SimpleResponse{OK: false, Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func pressResponse(err error) control.SimpleResponse {
	if err != nil {
		return control.SimpleResponse{OK: false, Message: err.Error()}
	}
	return control.SimpleResponse{OK: true, Message: "sent"}
}

// reload re-reads the config file. A changed broker URL triggers a fresh
// connection; other settings take effect on restart.
func (s *Server) reload() (string, error) {
	cur := s.config()
	next, err := config.Load(cur.Paths.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("reload config: %w", err)
	}
	s.cfgMu.Lock()
	prevBroker := s.cfg.MQTT.BrokerURL
	s.cfg = next
	s.cfgMu.Unlock()

	if next.MQTT.BrokerURL == prevBroker {
		s.logger.Info("config reloaded, broker unchanged")
		return "config reloaded", nil
	}
	s.logger.WithFields(logrus.Fields{"from": prevBroker, "to": next.MQTT.BrokerURL}).Info("broker changed, reconnecting")
	s.ctrl.Initialize(next.MQTT.BrokerURL, s.id)
	return "reconnecting to " + next.MQTT.BrokerURL, nil
}

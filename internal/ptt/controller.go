// Package ptt implements the push-to-talk controller: it bridges press
// gestures from a UI surface to two fixed MQTT control messages and reflects
// broker connection health back onto the surface.
package ptt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReconnectDelay is the fixed wait between a close and the next attempt.
const DefaultReconnectDelay = 5 * time.Second

// Options configures a Controller.
type Options struct {
	Factory TransportFactory
	Surface Surface
	Clock   Clock
	Logger  *logrus.Logger

	// Reconnect schedules one new Initialize ReconnectDelay after every close.
	Reconnect      bool
	ReconnectDelay time.Duration

	Username        string
	Password        string
	ProtocolVersion uint
	CleanSession    bool
	Subscriptions   []string

	Start ControlMessage
	Stop  ControlMessage

	// OnPublished is called after every successful publish, under the controller lock.
	OnPublished func(Published)
}

// Snapshot is the controller's view at one instant.
type Snapshot struct {
	State     ConnectionState `json:"-"`
	StateName string          `json:"state"`
	Status    string          `json:"status"`
	Connected bool            `json:"connected"`
	Icon      string          `json:"icon"`
	BrokerURL string          `json:"broker_url"`
	ClientID  ClientIdentity  `json:"client_id"`
}

// Stats are cumulative counters since construction.
type Stats struct {
	Connects            int64 `json:"connects"`
	Closes              int64 `json:"closes"`
	Errors              int64 `json:"errors"`
	ReconnectsScheduled int64 `json:"reconnects_scheduled"`
	Published           int64 `json:"published"`
	Rejected            int64 `json:"rejected"`
}

type counters struct {
	connects   atomic.Int64
	closes     atomic.Int64
	errors     atomic.Int64
	reconnects atomic.Int64
	published  atomic.Int64
	rejected   atomic.Int64
}

// Controller owns one outbound transport and drives one UI surface. All
// handlers are serialized and run to completion.
type Controller struct {
	opts    Options
	logger  *logrus.Logger
	surface Surface
	clock   Clock

	mu        sync.Mutex
	state     ConnectionState
	gen       uint64
	transport Transport
	brokerURL string
	clientID  ClientIdentity
	status    string
	connected bool
	icon      string
	disposed  bool

	counters counters
}

// New constructs a controller. Factory is required.
func New(opts Options) *Controller {
	if opts.Surface == nil {
		opts.Surface = nopSurface{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = 4
	}
	if opts.Start == (ControlMessage{}) {
		opts.Start = StartMessage
	}
	if opts.Stop == (ControlMessage{}) {
		opts.Stop = StopMessage
	}
	return &Controller{
		opts:    opts,
		logger:  opts.Logger,
		surface: opts.Surface,
		clock:   opts.Clock,
		state:   StateDisconnected,
		icon:    IconIdle,
	}
}

// Initialize starts a new connection attempt. Any previous transport is torn
// down and its late callbacks are ignored, so calling it again after a
// disconnect is safe.
func (c *Controller) Initialize(brokerURL string, id ClientIdentity) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.logger.Debug("initialize after dispose ignored")
		return
	}
	c.gen++
	gen := c.gen
	prev := c.transport
	c.brokerURL = brokerURL
	c.clientID = id
	c.setStateLocked(StateConnecting)
	c.setStatusLocked(StatusConnecting, false)
	t := c.opts.Factory(TransportOptions{
		BrokerURL:       brokerURL,
		ClientID:        id,
		Username:        c.opts.Username,
		Password:        c.opts.Password,
		ProtocolVersion: c.opts.ProtocolVersion,
		CleanSession:    c.opts.CleanSession,
		Subscriptions:   c.opts.Subscriptions,
	}, c.handlersFor(gen))
	c.transport = t
	c.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
	}
	c.logger.WithFields(logrus.Fields{
		"broker":    brokerURL,
		"client_id": string(id),
		"attempt":   gen,
	}).Info("connecting to broker")
	t.Connect()
}

func (c *Controller) handlersFor(gen uint64) TransportHandlers {
	return TransportHandlers{
		OnConnect: func() { c.withGen(gen, "connect", c.connectedLocked) },
		OnError: func(err error) {
			c.withGen(gen, "error", func() { c.errorLocked(err) })
		},
		OnClose: func() { c.withGen(gen, "close", c.closedLocked) },
		OnMessage: func(topic string, payload []byte) {
			c.withGen(gen, "message", func() { c.messageLocked(topic, payload) })
		},
	}
}

func (c *Controller) withGen(gen uint64, event string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.gen {
		c.logger.WithFields(logrus.Fields{"event": event, "attempt": gen}).Debug("stale transport event ignored")
		return
	}
	fn()
}

// OnTransportConnected marks the connection ready.
func (c *Controller) OnTransportConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectedLocked()
}

// OnTransportError logs and shows a transport failure. The close event that
// follows is what moves the state to Disconnected.
func (c *Controller) OnTransportError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorLocked(err)
}

// OnTransportClosed marks the connection gone and, if enabled, schedules
// exactly one reconnect after the fixed delay.
func (c *Controller) OnTransportClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedLocked()
}

// OnMessage logs an inbound message from a subscribed topic.
func (c *Controller) OnMessage(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageLocked(topic, payload)
}

// OnPressStart publishes the start message if connected. The returned error
// has already been logged and shown; callers may ignore it.
func (c *Controller) OnPressStart() error {
	return c.press("press_start", c.opts.Start, IconPressed)
}

// OnPressEnd publishes the stop message if connected.
func (c *Controller) OnPressEnd() error {
	return c.press("press_end", c.opts.Stop, IconIdle)
}

// Dispose tears the connection down for good. Pending reconnect timers
// become no-ops.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.gen++
	t := c.transport
	c.transport = nil
	c.setStateLocked(StateDisconnected)
	c.setStatusLocked(StatusDisposed, false)
	c.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
	c.logger.Info("controller disposed")
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns state, status line and icon colour.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		StateName: c.state.String(),
		Status:    c.status,
		Connected: c.connected,
		Icon:      c.icon,
		BrokerURL: c.brokerURL,
		ClientID:  c.clientID,
	}
}

// Stats returns cumulative counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Connects:            c.counters.connects.Load(),
		Closes:              c.counters.closes.Load(),
		Errors:              c.counters.errors.Load(),
		ReconnectsScheduled: c.counters.reconnects.Load(),
		Published:           c.counters.published.Load(),
		Rejected:            c.counters.rejected.Load(),
	}
}

func (c *Controller) connectedLocked() {
	c.counters.connects.Add(1)
	c.setStateLocked(StateConnected)
	c.setStatusLocked(StatusConnected, true)
	c.logger.WithField("broker", c.brokerURL).Info("mqtt connected")
}

func (c *Controller) errorLocked(err error) {
	c.counters.errors.Add(1)
	terr := transportErr("transport", err)
	c.logger.WithError(terr).Error("mqtt error")
	if c.state == StateConnecting {
		c.setStateLocked(StateErrored)
	}
	c.setStatusLocked(StatusError, c.connected)
}

func (c *Controller) closedLocked() {
	c.counters.closes.Add(1)
	c.setStateLocked(StateDisconnected)
	c.setStatusLocked(StatusClosed, false)
	if !c.opts.Reconnect || c.disposed {
		c.logger.Info("mqtt connection closed")
		return
	}
	c.counters.reconnects.Add(1)
	c.logger.WithField("delay", c.opts.ReconnectDelay).Info("mqtt connection closed, reconnect scheduled")
	c.clock.AfterFunc(c.opts.ReconnectDelay, c.reconnect)
}

func (c *Controller) reconnect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	broker, id := c.brokerURL, c.clientID
	c.mu.Unlock()
	c.Initialize(broker, id)
}

func (c *Controller) messageLocked(topic string, payload []byte) {
	c.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("mqtt message")
}

func (c *Controller) press(op string, msg ControlMessage, icon string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.transport == nil {
		err := notConnected(op)
		c.counters.rejected.Add(1)
		c.logger.WithError(err).Warn("mqtt not connected, press ignored")
		c.setStatusLocked(StatusNotConnected, false)
		return err
	}
	c.setIconLocked(icon)
	if err := c.transport.Publish(msg.Topic, msg.Payload); err != nil {
		terr := transportErr(op, err)
		c.counters.errors.Add(1)
		c.logger.WithError(terr).WithField("topic", msg.Topic).Error("publish failed")
		c.setStatusLocked(StatusError, c.connected)
		return terr
	}
	c.counters.published.Add(1)
	c.logger.WithFields(logrus.Fields{"topic": msg.Topic, "payload": msg.Payload}).Info("published")
	if c.opts.OnPublished != nil {
		c.opts.OnPublished(Published{Message: msg, Timestamp: time.Now()})
	}
	return nil
}

func (c *Controller) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.logger.WithFields(logrus.Fields{"from": c.state.String(), "to": s.String()}).Debug("state change")
	c.state = s
}

func (c *Controller) setStatusLocked(text string, connected bool) {
	c.status = text
	c.connected = connected
	c.surface.SetStatus(text, connected)
}

func (c *Controller) setIconLocked(color string) {
	c.icon = color
	c.surface.SetIconColor(color)
}

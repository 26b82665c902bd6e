// Package mqtt provides the broker transport for the push-to-talk controller:
// MQTT 3.1.1 over WebSocket (or plain TCP/TLS) using Eclipse Paho.
//
// Paho's own reconnect machinery is switched off. A failed connect or a lost
// connection is reported as an error followed by a close, and the controller
// decides whether to try again.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"pushtalk/internal/ptt"
)

const (
	publishQoS    = 0
	subscribeQoS  = 0
	quiesceMillis = 250
)

// Settings are transport-level knobs that do not change between attempts.
type Settings struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      60 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Transport is a ptt.Transport backed by a paho client.
type Transport struct {
	client   paho.Client
	opts     ptt.TransportOptions
	handlers ptt.TransportHandlers
	settings Settings
	logger   *logrus.Logger
}

// NewFactory returns a ptt.TransportFactory building paho transports.
func NewFactory(settings Settings, logger *logrus.Logger) ptt.TransportFactory {
	return func(opts ptt.TransportOptions, h ptt.TransportHandlers) ptt.Transport {
		return New(opts, h, settings, logger)
	}
}

// New builds a transport; nothing is dialed until Connect.
func New(opts ptt.TransportOptions, h ptt.TransportHandlers, settings Settings, logger *logrus.Logger) *Transport {
	t := &Transport{
		opts:     opts,
		handlers: h,
		settings: settings,
		logger:   logger,
	}
	t.client = paho.NewClient(t.clientOptions())
	return t
}

func (t *Transport) clientOptions() *paho.ClientOptions {
	o := paho.NewClientOptions()
	o.AddBroker(t.opts.BrokerURL)
	o.SetClientID(string(t.opts.ClientID))
	o.SetUsername(t.opts.Username)
	o.SetPassword(t.opts.Password)
	o.SetProtocolVersion(t.opts.ProtocolVersion)
	o.SetCleanSession(t.opts.CleanSession)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	if t.settings.ConnectTimeout > 0 {
		o.SetConnectTimeout(t.settings.ConnectTimeout)
	}
	if t.settings.KeepAlive > 0 {
		o.SetKeepAlive(t.settings.KeepAlive)
	}
	if isSecure(t.opts.BrokerURL) {
		o.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	o.SetOnConnectHandler(func(paho.Client) {
		t.subscribe()
		t.fire(t.handlers.OnConnect)
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.fail(fmt.Errorf("connection lost: %w", err))
	})
	o.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(m.Topic(), m.Payload())
		}
	})
	return o
}

// Connect dials asynchronously. A failed attempt reports OnError then OnClose.
func (t *Transport) Connect() {
	token := t.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			t.fail(fmt.Errorf("connect %s: %w", t.opts.BrokerURL, err))
		}
	}()
}

// Publish sends payload to topic at QoS 0, not retained.
func (t *Transport) Publish(topic, payload string) error {
	if !t.client.IsConnectionOpen() {
		return errors.New("mqtt client not connected")
	}
	token := t.client.Publish(topic, publishQoS, false, payload)
	go func() {
		if t.settings.PublishTimeout > 0 && !token.WaitTimeout(t.settings.PublishTimeout) {
			t.logger.WithField("topic", topic).Warn("publish not acknowledged by client in time")
			return
		}
		if err := token.Error(); err != nil {
			t.logger.WithError(err).WithField("topic", topic).Error("publish")
		}
	}()
	return nil
}

// Disconnect closes the connection without firing handlers. It also abandons
// a connect that is still waiting for CONNACK, so a replaced transport never
// ends up holding a broker session under the shared client id.
func (t *Transport) Disconnect() {
	t.client.Disconnect(quiesceMillis)
}

func (t *Transport) subscribe() {
	for _, topic := range t.opts.Subscriptions {
		topic := topic
		token := t.client.Subscribe(topic, subscribeQoS, nil)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				t.logger.WithError(err).WithField("topic", topic).Warn("subscribe failed")
				return
			}
			t.logger.WithField("topic", topic).Debug("subscribed")
		}()
	}
}

func (t *Transport) fail(err error) {
	if t.handlers.OnError != nil {
		t.handlers.OnError(err)
	}
	t.fire(t.handlers.OnClose)
}

func (t *Transport) fire(fn func()) {
	if fn != nil {
		fn()
	}
}

// ValidateBrokerURL checks that raw is a URL paho can dial.
func ValidateBrokerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "tcp", "ssl", "tls", "mqtt", "mqtts":
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q (want ws, wss, tcp, ssl, mqtt or mqtts)", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("broker url %q has no host", raw)
	}
	return u, nil
}

// DialAddress returns host:port for a broker URL, filling scheme defaults.
func DialAddress(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "1883"
	switch strings.ToLower(u.Scheme) {
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	case "ssl", "tls", "mqtts":
		port = "8883"
	}
	return u.Hostname() + ":" + port
}

func isSecure(raw string) bool {
	lower := strings.ToLower(raw)
	for _, p := range []string{"wss://", "ssl://", "tls://", "mqtts://"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

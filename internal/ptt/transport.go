package ptt

import "time"

// Transport is one outbound broker connection. Connect must not block; the
// outcome is reported through TransportHandlers.
type Transport interface {
	Connect()
	Publish(topic, payload string) error
	Disconnect()
}

// TransportOptions carries the connection parameters for a single attempt.
type TransportOptions struct {
	BrokerURL       string
	ClientID        ClientIdentity
	Username        string
	Password        string
	ProtocolVersion uint
	CleanSession    bool
	Subscriptions   []string
}

// TransportHandlers receives lifecycle events from a Transport. A transport
// reporting a failure calls OnError and then OnClose.
type TransportHandlers struct {
	OnConnect func()
	OnError   func(error)
	OnClose   func()
	OnMessage func(topic string, payload []byte)
}

// TransportFactory builds a transport for one Initialize call.
type TransportFactory func(TransportOptions, TransportHandlers) Transport

// Surface is the UI collaborator: a status line and the mic icon.
type Surface interface {
	SetStatus(text string, connected bool)
	SetIconColor(color string)
}

// Clock schedules the reconnect timer.
type Clock interface {
	AfterFunc(d time.Duration, f func())
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

type nopSurface struct{}

func (nopSurface) SetStatus(string, bool) {}
func (nopSurface) SetIconColor(string)    {}

// MultiSurface fans updates out to several surfaces.
type MultiSurface []Surface

func (m MultiSurface) SetStatus(text string, connected bool) {
	for _, s := range m {
		s.SetStatus(text, connected)
	}
}

func (m MultiSurface) SetIconColor(color string) {
	for _, s := range m {
		s.SetIconColor(color)
	}
}

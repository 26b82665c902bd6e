package mqtt

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/logging"
	"pushtalk/internal/ptt"
)

func TestClientOptionsMatchBrowserClient(t *testing.T) {
	tr := New(ptt.TransportOptions{
		BrokerURL:       "ws://broker.hivemq.com:8000/mqtt",
		ClientID:        "WebRecorder_1234abcd",
		ProtocolVersion: 4,
		CleanSession:    true,
	}, ptt.TransportHandlers{}, DefaultSettings(), logging.NewTestLogger())

	o := tr.clientOptions()
	require.Len(t, o.Servers, 1)
	assert.Equal(t, "ws", o.Servers[0].Scheme)
	assert.Equal(t, "broker.hivemq.com:8000", o.Servers[0].Host)
	assert.Equal(t, "WebRecorder_1234abcd", o.ClientID)
	assert.Equal(t, uint(4), o.ProtocolVersion)
	assert.True(t, o.CleanSession)
	assert.Empty(t, o.Username)
	assert.Empty(t, o.Password)
	assert.False(t, o.AutoReconnect)
	assert.False(t, o.ConnectRetry)
	assert.Nil(t, o.TLSConfig)
}

func TestSecureBrokerGetsTLS(t *testing.T) {
	tr := New(ptt.TransportOptions{
		BrokerURL:       "wss://broker.emqx.io:8084/mqtt",
		ClientID:        "id",
		ProtocolVersion: 4,
	}, ptt.TransportHandlers{}, DefaultSettings(), logging.NewTestLogger())
	assert.NotNil(t, tr.clientOptions().TLSConfig)
}

func TestFailedConnectReportsErrorThenClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var (
		mu     sync.Mutex
		events []string
		done   = make(chan struct{})
	)
	h := ptt.TransportHandlers{
		OnConnect: func() {
			mu.Lock()
			events = append(events, "connect")
			mu.Unlock()
		},
		OnError: func(error) {
			mu.Lock()
			events = append(events, "error")
			mu.Unlock()
		},
		OnClose: func() {
			mu.Lock()
			events = append(events, "close")
			mu.Unlock()
			close(done)
		},
	}
	settings := DefaultSettings()
	settings.ConnectTimeout = 2 * time.Second
	tr := New(ptt.TransportOptions{
		BrokerURL:       "ws://" + addr + "/mqtt",
		ClientID:        "test",
		ProtocolVersion: 4,
		CleanSession:    true,
	}, h, settings, logging.NewTestLogger())
	tr.Connect()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no close after failed connect")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"error", "close"}, events)
	assert.Error(t, tr.Publish("/record/start", "start"))
}

// readPacket reads one MQTT control packet and returns its type nibble.
func readPacket(r *bufio.Reader) (byte, error) {
	header, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length, shift := 0, 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
		return 0, err
	}
	return header >> 4, nil
}

func TestDisconnectAbandonsPendingConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	gotConnect := make(chan net.Conn, 1)
	brokerSideClosed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		if kind, err := readPacket(r); err != nil || kind != 1 {
			_ = conn.Close()
			return
		}
		gotConnect <- conn
		for {
			if _, err := readPacket(r); err != nil {
				close(brokerSideClosed)
				return
			}
		}
	}()

	settings := DefaultSettings()
	settings.ConnectTimeout = 2 * time.Second
	tr := New(ptt.TransportOptions{
		BrokerURL:       "tcp://" + ln.Addr().String(),
		ClientID:        "WebRecorder_0000abcd",
		ProtocolVersion: 4,
		CleanSession:    true,
	}, ptt.TransportHandlers{}, settings, logging.NewTestLogger())
	tr.Connect()

	var conn net.Conn
	select {
	case conn = <-gotConnect:
	case <-time.After(3 * time.Second):
		t.Fatal("broker never saw CONNECT")
	}
	defer conn.Close()

	// Replaced while the handshake is in flight; CONNACK arrives afterwards.
	disconnected := make(chan struct{})
	go func() {
		tr.Disconnect()
		close(disconnected)
	}()
	_, _ = conn.Write([]byte{0x20, 0x02, 0x00, 0x00})

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect did not return")
	}
	assert.Eventually(t, func() bool { return !tr.client.IsConnectionOpen() }, 2*time.Second, 10*time.Millisecond,
		"replaced transport still holds an open broker connection")
	select {
	case <-brokerSideClosed:
	case <-time.After(3 * time.Second):
		t.Fatal("broker-side connection was never closed")
	}
	assert.Error(t, tr.Publish("/record/start", "start"))
}

func TestValidateBrokerURL(t *testing.T) {
	for _, ok := range []string{
		"ws://broker.hivemq.com:8000/mqtt",
		"wss://broker.emqx.io:8084/mqtt",
		"tcp://localhost:1883",
		"mqtts://broker:8883",
	} {
		_, err := ValidateBrokerURL(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"http://broker", "broker:1883", "ws://", "::"} {
		_, err := ValidateBrokerURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestDialAddress(t *testing.T) {
	cases := map[string]string{
		"ws://broker.hivemq.com:8000/mqtt": "broker.hivemq.com:8000",
		"wss://broker.emqx.io/mqtt":        "broker.emqx.io:443",
		"ws://example.com/mqtt":            "example.com:80",
		"tcp://localhost":                  "localhost:1883",
		"mqtts://secure":                   "secure:8883",
	}
	for raw, want := range cases {
		u, err := ValidateBrokerURL(raw)
		require.NoError(t, err)
		assert.Equal(t, want, DialAddress(u), raw)
	}
}

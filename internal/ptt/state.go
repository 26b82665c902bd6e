package ptt

// ConnectionState is the lifecycle of the outbound broker connection.
type ConnectionState int

const (
	// StateDisconnected means no connection exists (initial state and after close).
	StateDisconnected ConnectionState = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateConnected means the broker accepted the connection; publishes are allowed.
	StateConnected

	// StateErrored means the last connect attempt failed before a close was seen.
	StateErrored
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Status phrases shown on the status line.
const (
	StatusConnecting   = "Status: Menghubungkan..."
	StatusConnected    = "Status: Terhubung ke MQTT"
	StatusError        = "Status: Error koneksi"
	StatusClosed       = "Status: Koneksi tertutup"
	StatusNotConnected = "Status: MQTT belum terhubung"
	StatusDisposed     = "Status: Berhenti"
)

// Icon colours: default and while pressed.
const (
	IconIdle    = "red"
	IconPressed = "darkred"
)

package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"pushtalk/internal/ptt"
)

// Ops understood by the daemon's control socket.
const (
	OpStatus  = "status"
	OpHealth  = "health"
	OpPress   = "press"
	OpRelease = "release"
	OpReload  = "reload"
)

type Request struct {
	Op string `json:"op"`
}

type Status struct {
	Running   bool            `json:"running"`
	UptimeSec float64         `json:"uptime_sec"`
	State     string          `json:"state"`
	Status    string          `json:"status"`
	Connected bool            `json:"connected"`
	Icon      string          `json:"icon"`
	BrokerURL string          `json:"broker_url"`
	ClientID  string          `json:"client_id"`
	Stats     ptt.Stats       `json:"stats"`
	Recent    []ptt.Published `json:"recent"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Call sends one request over the unix socket and decodes the reply into out.
func Call(socketPath string, req Request, out any) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	if err := json.NewDecoder(conn).Decode(out); err != nil {
		return fmt.Errorf("decode %s reply: %w", req.Op, err)
	}
	return nil
}

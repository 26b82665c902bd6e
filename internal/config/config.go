package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultBrokerURL      = "ws://broker.hivemq.com:8000/mqtt"
	DefaultClientIDPrefix = "WebRecorder_"
	DefaultStartTopic     = "/record/start"
	DefaultStopTopic      = "/record/stop"
	defaultReconnectMS    = 5000
	defaultStatusTail     = 10
	defaultStateDirLinux  = ".local/state/pushtalk"
	defaultConfigDir      = ".config/pushtalk"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	MQTT struct {
		BrokerURL         string   `toml:"broker_url"`
		ClientIDPrefix    string   `toml:"client_id_prefix"`
		Username          string   `toml:"username"`
		Password          string   `toml:"password"`
		ProtocolVersion   uint     `toml:"protocol_version"` // 4 = MQTT 3.1.1
		CleanSession      bool     `toml:"clean_session"`
		ConnectTimeoutSec float64  `toml:"connect_timeout_sec"`
		KeepAliveSec      int      `toml:"keepalive_sec"`
		Reconnect         bool     `toml:"reconnect"`
		ReconnectDelayMS  int      `toml:"reconnect_delay_ms"`
		Subscribe         []string `toml:"subscribe"`
	} `toml:"mqtt"`

	Topics struct {
		Start        string `toml:"start"`
		Stop         string `toml:"stop"`
		StartPayload string `toml:"start_payload"`
		StopPayload  string `toml:"stop_payload"`
	} `toml:"topics"`

	UI struct {
		Bind       string `toml:"bind"`
		StatusTail int    `toml:"status_tail"`
	} `toml:"ui"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		LogPath    string `toml:"log_path"`
		SocketPath string `toml:"socket_path"`
		PidPath    string `toml:"pid_path"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	WatchConfig bool `toml:"watch_config"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "pushtalk")
	}

	cfg := &Config{}

	cfg.MQTT.BrokerURL = DefaultBrokerURL
	cfg.MQTT.ClientIDPrefix = DefaultClientIDPrefix
	cfg.MQTT.ProtocolVersion = 4
	cfg.MQTT.CleanSession = true
	cfg.MQTT.ConnectTimeoutSec = 10
	cfg.MQTT.KeepAliveSec = 60
	cfg.MQTT.Reconnect = true
	cfg.MQTT.ReconnectDelayMS = defaultReconnectMS
	cfg.MQTT.Subscribe = []string{}

	cfg.Topics.Start = DefaultStartTopic
	cfg.Topics.Stop = DefaultStopTopic
	cfg.Topics.StartPayload = "start"
	cfg.Topics.StopPayload = "stop"

	cfg.UI.Bind = "127.0.0.1:8700"
	cfg.UI.StatusTail = defaultStatusTail

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "pushtalk.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "pushtalk.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "pushtalk.pid")

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	return cfg, nil
}

// DefaultPath returns ~/.config/pushtalk/config.toml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultConfigDir, "config.toml")
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultPath()
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Validate rejects configs the daemon cannot run with.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
		return errors.New("mqtt.broker_url is required")
	}
	if cfg.MQTT.ReconnectDelayMS < 0 {
		return fmt.Errorf("mqtt.reconnect_delay_ms must be >= 0, got %d", cfg.MQTT.ReconnectDelayMS)
	}
	switch cfg.MQTT.ProtocolVersion {
	case 3, 4:
	default:
		return fmt.Errorf("mqtt.protocol_version must be 3 or 4, got %d", cfg.MQTT.ProtocolVersion)
	}
	if cfg.Topics.Start == "" || cfg.Topics.Stop == "" {
		return errors.New("topics.start and topics.stop are required")
	}
	return nil
}

// ReconnectDelay returns the fixed delay between a close and the next connect attempt.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelayMS) * time.Millisecond
}

// ConnectTimeout returns the MQTT connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(float64(time.Second) * c.MQTT.ConnectTimeoutSec)
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.SocketPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUSHTALK_BROKER_URL"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if v := os.Getenv("PUSHTALK_RECONNECT"); v != "" {
		cfg.MQTT.Reconnect = envBool(v)
	}
	if v := os.Getenv("PUSHTALK_UI_BIND"); v != "" {
		cfg.UI.Bind = v
	}
	if v := os.Getenv("PUSHTALK_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("PUSHTALK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PUSHTALK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}

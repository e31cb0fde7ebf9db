// Package config loads the hotdesk-lock daemon configuration.
//
// The configuration is a YAML file overlaid on [Default]. Host credentials can be supplied through
// the environment instead of the file:
//   - HOTDESK_LOCK_HOST_URL
//   - HOTDESK_LOCK_HOST_USERNAME
//   - HOTDESK_LOCK_HOST_PASSWORD
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"gopkg.in/yaml.v3"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/lock"
)

const (
	HostWebSocket = "websocket"
	HostDbus      = "dbus"

	StandbyHost    = "host"
	StandbyWayland = "wayland"
	StandbyLogind  = "logind"
)

// Config is the complete daemon configuration.
type Config struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	MinPINLength int    `yaml:"min_pin_length"`
	PanelID      string `yaml:"panel_id"`
	Button       Button `yaml:"button"`

	Host    Host    `yaml:"host"`
	Standby Standby `yaml:"standby"`
	Session Session `yaml:"session"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

type Button struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
	// Icon is a built-in icon name or an http(s) URL.
	Icon         string `yaml:"icon"`
	FallbackIcon string `yaml:"fallback_icon"`
}

// Host selects and configures the connection to the device.
type Host struct {
	// Type is "websocket" or "dbus".
	Type               string        `yaml:"type"`
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	Dbus               Dbus          `yaml:"dbus"`
}

type Dbus struct {
	SystemBus bool   `yaml:"system_bus"`
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Interface string `yaml:"interface"`
}

// Standby selects where standby state changes come from.
type Standby struct {
	// Source is "host", "wayland", or "logind".
	Source string `yaml:"source"`
	// IdleAfter is the idle time after which the wayland source reports halfwake.
	IdleAfter time.Duration `yaml:"idle_after"`
}

// Session configures integrations with the local desktop session.
type Session struct {
	// LogindSessionID mirrors the lock into the LockedHint of this logind session when set.
	LogindSessionID string `yaml:"logind_session_id"`
	// SecretCollections are locked whenever the device locks, e.g. "collection/login".
	SecretCollections []string `yaml:"secret_collections"`
}

type Metrics struct {
	// Listen is the address the metrics endpoint listens on. Empty disables it.
	// The default only listens on loopback.
	Listen string `yaml:"listen"`
}

type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for anything not set in the file.
func Default() Config {
	lc := lock.DefaultConfig()
	return Config{
		MaxAttempts:  lc.MaxAttempts,
		MinPINLength: lc.MinPINLength,
		PanelID:      lc.PanelID,
		Button: Button{
			Name:         lc.Button.Name,
			Color:        lc.Button.Color,
			Icon:         lc.Button.Icon,
			FallbackIcon: lc.Button.FallbackIcon,
		},
		Host: Host{
			Type:    HostWebSocket,
			Timeout: lc.CallTimeout,
		},
		Standby: Standby{
			Source:    StandbyHost,
			IdleAfter: 5 * time.Minute,
		},
		Metrics: Metrics{
			Listen: "127.0.0.1:9120",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults, applies the environment overrides and validates
// the result. An empty path only applies defaults and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("HOTDESK_LOCK_HOST_URL"); ok {
		c.Host.URL = v
	}
	if v, ok := os.LookupEnv("HOTDESK_LOCK_HOST_USERNAME"); ok {
		c.Host.Username = v
	}
	if v, ok := os.LookupEnv("HOTDESK_LOCK_HOST_PASSWORD"); ok {
		c.Host.Password = v
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var err error
	if c.MaxAttempts < 1 {
		err = errors.Join(err, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.MinPINLength < 1 {
		err = errors.Join(err, fmt.Errorf("min_pin_length must be at least 1, got %d", c.MinPINLength))
	}
	if c.PanelID == "" {
		err = errors.Join(err, errors.New("panel_id is empty"))
	}

	switch c.Host.Type {
	case HostWebSocket:
		if c.Host.URL == "" {
			err = errors.Join(err, errors.New("host.url is required for the websocket host"))
		}
	case HostDbus:
		if c.Host.Dbus.Path != "" && !dbus.ObjectPath(c.Host.Dbus.Path).IsValid() {
			err = errors.Join(err, fmt.Errorf("host.dbus.path %q is not a valid object path", c.Host.Dbus.Path))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown host.type %q", c.Host.Type))
	}
	if c.Host.Timeout < 0 {
		err = errors.Join(err, errors.New("host.timeout cannot be negative"))
	}

	switch c.Standby.Source {
	case StandbyHost, StandbyLogind:
	case StandbyWayland:
		if c.Standby.IdleAfter <= 0 {
			err = errors.Join(err, errors.New("standby.idle_after must be positive for the wayland source"))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown standby.source %q", c.Standby.Source))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = errors.Join(err, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		err = errors.Join(err, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Lock returns the lock controller configuration.
func (c Config) Lock() lock.Config {
	lc := lock.DefaultConfig()
	lc.PanelID = c.PanelID
	lc.MaxAttempts = c.MaxAttempts
	lc.MinPINLength = c.MinPINLength
	lc.Button = lock.Button{
		Name:         c.Button.Name,
		Color:        c.Button.Color,
		Icon:         c.Button.Icon,
		FallbackIcon: c.Button.FallbackIcon,
	}
	lc.CallTimeout = c.Host.Timeout
	return lc
}

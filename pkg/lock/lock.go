package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// Feedback ids tagging the prompts issued by the Controller.
const (
	FeedbackSetup  = "pin-code-setup"
	FeedbackVerify = "pin-code-response"
)

// PromptKind is the kind of PIN prompt outstanding on the device.
type PromptKind int

const (
	PromptNone PromptKind = iota
	PromptSetup
	PromptVerify
)

func (k PromptKind) String() string {
	switch k {
	case PromptNone:
		return "none"
	case PromptSetup:
		return "setup"
	case PromptVerify:
		return "verify"
	default:
		return strconv.Itoa(int(k))
	}
}

func promptKindOf(feedbackID string) PromptKind {
	switch feedbackID {
	case FeedbackSetup:
		return PromptSetup
	case FeedbackVerify:
		return PromptVerify
	default:
		return PromptNone
	}
}

// Button describes the lock button placed on the home screen.
type Button struct {
	Name  string
	Color string

	// Icon is either a built-in icon name or an http(s) URL of an image the device downloads.
	Icon string

	// FallbackIcon is the built-in icon used when Icon is a URL that could not be downloaded.
	FallbackIcon string
}

// Config configures a Controller.
type Config struct {
	PanelID      string
	Button       Button
	MaxAttempts  int
	MinPINLength int

	// AlertDuration is how long, in seconds, the "PIN too short" alert is shown.
	AlertDuration int

	// CallTimeout bounds each request made to the host. Zero means no timeout.
	CallTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PanelID: "lockButton",
		Button: Button{
			Name:         "Lock Device",
			Color:        "#eb4034",
			Icon:         "Power",
			FallbackIcon: "Power",
		},
		MaxAttempts:   3,
		MinPINLength:  4,
		AlertDuration: 8,
		CallTimeout:   10 * time.Second,
	}
}

func (c Config) validate() error {
	var err error
	if c.PanelID == "" {
		err = errors.Join(err, errors.New("panel id is empty"))
	}
	if c.MaxAttempts < 1 {
		err = errors.Join(err, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.MinPINLength < 1 {
		err = errors.Join(err, fmt.Errorf("minimum PIN length must be at least 1, got %d", c.MinPINLength))
	}
	if c.AlertDuration < 0 {
		err = errors.Join(err, fmt.Errorf("alert duration cannot be negative, got %d", c.AlertDuration))
	}
	return err
}

// Controller is the PIN lock of a single device.
//
// The PIN is only kept in memory and is forgotten whenever the hotdesk session status changes.
// It is safe to call Controller's methods concurrently; event handlers run one at a time.
type Controller struct {
	host   xapi.Host
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	pin      string
	attempts int
	pending  PromptKind

	muSignals     sync.Mutex
	lockedSignals map[chan<- bool]struct{}
}

// New creates a Controller for host. A nil logger uses slog.Default().
func New(host xapi.Host, cfg Config, logger *slog.Logger) (*Controller, error) {
	if host == nil {
		return nil, errors.New("host cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid lock config: %w", err)
	}
	if cfg.Button.FallbackIcon == "" {
		cfg.Button.FallbackIcon = DefaultConfig().Button.FallbackIcon
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		host:          host,
		cfg:           cfg,
		logger:        logger.With("component", "lock", "panel", cfg.PanelID),
		lockedSignals: make(map[chan<- bool]struct{}),
	}, nil
}

// Locked reports whether a PIN is set for the current session.
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pin != ""
}

// Attempts returns the number of wrong PINs entered since the last correct one.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Pending returns the kind of prompt the Controller is waiting on.
func (c *Controller) Pending() PromptKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// AddLockedSignal registers a channel that will be notified when a PIN is set (true) or
// forgotten (false).
// Writing to this channel does not block.
// Use a buffered channel if you don't want to miss anything.
func (c *Controller) AddLockedSignal(ch chan<- bool) error {
	if ch == nil {
		return errors.New("AddLockedSignal: channel cannot be nil")
	}

	c.muSignals.Lock()
	defer c.muSignals.Unlock()
	c.lockedSignals[ch] = struct{}{}

	return nil
}

// RemoveLockedSignal unregisters a channel previously registered with AddLockedSignal.
// RemoveLockedSignal can be safely called with an unregistered channel.
func (c *Controller) RemoveLockedSignal(ch chan<- bool) error {
	if ch == nil {
		return errors.New("RemoveLockedSignal: channel cannot be nil")
	}

	c.muSignals.Lock()
	defer c.muSignals.Unlock()
	delete(c.lockedSignals, ch)

	return nil
}

// setPIN stores pin and notifies the locked signals if the locked state changed.
// Holding the mu mutex is required.
func (c *Controller) setPIN(pin string) {
	wasLocked := c.pin != ""
	c.pin = pin
	locked := pin != ""
	if wasLocked == locked {
		return
	}

	if locked {
		lockedGauge.Set(1)
	} else {
		lockedGauge.Set(0)
	}

	c.muSignals.Lock()
	defer c.muSignals.Unlock()
	for ch := range c.lockedSignals {
		select {
		case ch <- locked:
		default:
		}
	}
}

package xapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	DefaultDbusName      = "org.hotdesk.Device"
	DefaultDbusPath      = dbus.ObjectPath("/org/hotdesk/Device")
	DefaultDbusInterface = "org.hotdesk.Device1"

	dbusPropertiesInterface = "org.freedesktop.DBus.Properties"
)

// DbusConfig configures NewDbusHost. Zero values select the defaults.
type DbusConfig struct {
	// SystemBus selects the system bus instead of the session bus.
	SystemBus bool
	Name      string
	Path      dbus.ObjectPath
	Interface string

	Logger *slog.Logger
}

// DbusHost is a Host backed by a device bridge service on D-Bus.
//
// The bridge exposes the commands as methods, SessionStatus and StandbyState as properties, and
// emits PanelClicked(s), TextInputResponse(ss), and TextInputClear(s) signals.
type DbusHost struct {
	conn               *dbus.Conn
	obj                dbus.BusObject
	logger             *slog.Logger
	name               string
	path               dbus.ObjectPath
	iface              string
	muSignals          sync.Mutex
	closeSignalHandler chan struct{}
	closeOnce          sync.Once

	eventSignals  map[chan<- Event]struct{}
	signalsActive bool
}

// NewDbusHost connects to the bus and starts listening for the bridge's signals.
func NewDbusHost(cfg DbusConfig) (*DbusHost, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultDbusName
	}
	if cfg.Path == "" {
		cfg.Path = DefaultDbusPath
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultDbusInterface
	}
	if !cfg.Path.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", cfg.Path)
	}

	var conn *dbus.Conn
	var err error
	if cfg.SystemBus {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to bus: %v", ErrNotConnected, err)
	}

	h := newDbusHost(conn, cfg)

	c := make(chan *dbus.Signal, 16)
	conn.Signal(c)
	go func() {
		for {
			select {
			case <-h.closeSignalHandler:
				conn.RemoveSignal(c)
				return
			case v := <-c:
				h.handleIncomingSignal(v)
			}
		}
	}()

	return h, nil
}

func newDbusHost(conn *dbus.Conn, cfg DbusConfig) *DbusHost {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &DbusHost{
		conn:               conn,
		logger:             logger.With("component", "xapi-dbus"),
		name:               cfg.Name,
		path:               cfg.Path,
		iface:              cfg.Interface,
		closeSignalHandler: make(chan struct{}),
		eventSignals:       make(map[chan<- Event]struct{}),
	}
	if conn != nil {
		h.obj = conn.Object(cfg.Name, cfg.Path)
	}
	return h
}

func (h *DbusHost) method(ctx context.Context, member string, args ...any) *dbus.Call {
	return h.obj.CallWithContext(ctx, h.iface+"."+member, 0, args...)
}

func (h *DbusHost) SavePanel(ctx context.Context, panel Panel) error {
	body, err := panel.Body()
	if err != nil {
		return err
	}
	if err := h.method(ctx, "PanelSave", panel.ID, body).Err; err != nil {
		return fmt.Errorf("could not save panel %s: %w", panel.ID, err)
	}
	return nil
}

func (h *DbusHost) SetPanelVisibility(ctx context.Context, panelID string, visibility Visibility) error {
	if err := h.method(ctx, "PanelUpdate", panelID, string(visibility)).Err; err != nil {
		return fmt.Errorf("could not update panel %s: %w", panelID, err)
	}
	return nil
}

func (h *DbusHost) DownloadIcon(ctx context.Context, url string) (string, error) {
	var iconID string
	if err := h.method(ctx, "IconDownload", url).Store(&iconID); err != nil {
		return "", fmt.Errorf("could not download icon: %w", err)
	}
	return iconID, nil
}

func (h *DbusHost) DisplayTextInput(ctx context.Context, input TextInput) error {
	err := h.method(ctx, "TextInputDisplay",
		input.FeedbackID,
		string(input.InputType),
		input.Placeholder,
		input.SubmitText,
		input.Text,
		input.Title,
	).Err
	if err != nil {
		return fmt.Errorf("could not display text input: %w", err)
	}
	return nil
}

func (h *DbusHost) DisplayAlert(ctx context.Context, alert Alert) error {
	if err := h.method(ctx, "AlertDisplay", int32(alert.Duration), alert.Text, alert.Title).Err; err != nil {
		return fmt.Errorf("could not display alert: %w", err)
	}
	return nil
}

func (h *DbusHost) Halfwake(ctx context.Context) error {
	if err := h.method(ctx, "Halfwake").Err; err != nil {
		return fmt.Errorf("could not halfwake: %w", err)
	}
	return nil
}

func (h *DbusHost) Logout(ctx context.Context) error {
	if err := h.method(ctx, "Logout").Err; err != nil {
		return fmt.Errorf("could not log out: %w", err)
	}
	return nil
}

func (h *DbusHost) stringProperty(ctx context.Context, name string) (string, error) {
	var variant dbus.Variant
	err := h.obj.CallWithContext(ctx, dbusPropertiesInterface+".Get", 0, h.iface, name).Store(&variant)
	if err != nil {
		return "", fmt.Errorf("could not get %s: %w", name, err)
	}

	value, ok := variant.Value().(string)
	if !ok {
		return "", fmt.Errorf("%s property is not a string", name)
	}
	return value, nil
}

func (h *DbusHost) SessionStatus(ctx context.Context) (SessionStatus, error) {
	s, err := h.stringProperty(ctx, "SessionStatus")
	return SessionStatus(s), err
}

func (h *DbusHost) StandbyState(ctx context.Context) (StandbyState, error) {
	s, err := h.stringProperty(ctx, "StandbyState")
	return StandbyState(s), err
}

func (h *DbusHost) matchOptions() [][]dbus.MatchOption {
	var matches [][]dbus.MatchOption
	for _, member := range []string{"PanelClicked", "TextInputResponse", "TextInputClear"} {
		matches = append(matches, []dbus.MatchOption{
			dbus.WithMatchObjectPath(h.path),
			dbus.WithMatchInterface(h.iface),
			dbus.WithMatchSender(h.name),
			dbus.WithMatchMember(member),
		})
	}
	return append(matches, []dbus.MatchOption{
		dbus.WithMatchObjectPath(h.path),
		dbus.WithMatchInterface(dbusPropertiesInterface),
		dbus.WithMatchSender(h.name),
		dbus.WithMatchMember("PropertiesChanged"),
	})
}

func (h *DbusHost) AddEventSignal(c chan<- Event) error {
	if c == nil {
		return errors.New("AddEventSignal: channel cannot be nil")
	}

	h.muSignals.Lock()
	defer h.muSignals.Unlock()

	if !h.signalsActive {
		for _, match := range h.matchOptions() {
			if err := h.conn.AddMatchSignal(match...); err != nil {
				return fmt.Errorf("failed to register Dbus signal: %w", err)
			}
		}
		h.signalsActive = true
	}

	h.eventSignals[c] = struct{}{}

	return nil
}

func (h *DbusHost) RemoveEventSignal(c chan<- Event) error {
	if c == nil {
		return errors.New("RemoveEventSignal: channel cannot be nil")
	}

	h.muSignals.Lock()
	defer h.muSignals.Unlock()

	delete(h.eventSignals, c)

	if len(h.eventSignals) == 0 {
		return h.removeSignals()
	}

	return nil
}

// removeSignals removes the match rules if they were registered.
// Holding the muSignals mutex is required.
func (h *DbusHost) removeSignals() error {
	if !h.signalsActive {
		return nil
	}

	var err error
	for _, match := range h.matchOptions() {
		if removeErr := h.conn.RemoveMatchSignal(match...); removeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove Dbus signal: %w", removeErr))
		}
	}
	h.signalsActive = false

	return err
}

func (h *DbusHost) Close() error {
	h.muSignals.Lock()
	defer h.muSignals.Unlock()

	clear(h.eventSignals)
	err := h.removeSignals()

	h.closeOnce.Do(func() {
		close(h.closeSignalHandler)
		if closeErr := h.conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close bus connection: %w", closeErr))
		}
	})
	return err
}

func (h *DbusHost) handleIncomingSignal(s *dbus.Signal) {
	if s == nil {
		// Seems to happen on close
		return
	}

	if s.Path != h.path {
		return
	}

	events, ok := h.decodeSignal(s)
	if !ok {
		return
	}

	h.muSignals.Lock()
	defer h.muSignals.Unlock()
	for _, e := range events {
		if dropped := fanOut(h.eventSignals, e); dropped > 0 {
			h.logger.Warn("Event dropped, subscriber channel full", "kind", e.Kind, "subscribers", dropped)
		}
	}
}

func (h *DbusHost) decodeSignal(s *dbus.Signal) ([]Event, bool) {
	switch s.Name {
	case h.iface + ".PanelClicked":
		panelID, ok := bodyString(s, 0)
		if !ok {
			return nil, false
		}
		return []Event{{Kind: EventPanelClicked, PanelID: panelID}}, true
	case h.iface + ".TextInputResponse":
		feedbackID, ok := bodyString(s, 0)
		if !ok {
			return nil, false
		}
		text, ok := bodyString(s, 1)
		if !ok {
			return nil, false
		}
		return []Event{{Kind: EventTextInputResponse, FeedbackID: feedbackID, Text: text}}, true
	case h.iface + ".TextInputClear":
		feedbackID, ok := bodyString(s, 0)
		if !ok {
			return nil, false
		}
		return []Event{{Kind: EventTextInputClear, FeedbackID: feedbackID}}, true
	case dbusPropertiesInterface + ".PropertiesChanged":
		iface, ok := bodyString(s, 0)
		if !ok || iface != h.iface || len(s.Body) < 2 {
			return nil, false
		}
		changed, ok := s.Body[1].(map[string]dbus.Variant)
		if !ok {
			return nil, false
		}

		var events []Event
		if v, has := changed["SessionStatus"]; has {
			if status, ok := v.Value().(string); ok {
				events = append(events, Event{Kind: EventSessionStatus, SessionStatus: SessionStatus(status)})
			}
		}
		if v, has := changed["StandbyState"]; has {
			if state, ok := v.Value().(string); ok {
				events = append(events, Event{Kind: EventStandbyState, StandbyState: StandbyState(state)})
			}
		}
		return events, len(events) > 0
	}

	return nil, false
}

func bodyString(s *dbus.Signal, i int) (string, bool) {
	if len(s.Body) <= i {
		return "", false
	}
	v, ok := s.Body[i].(string)
	return v, ok
}

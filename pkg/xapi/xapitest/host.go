// Package xapitest provides an in-memory xapi.Host that records every command it receives.
package xapitest

import (
	"context"
	"errors"
	"sync"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// PanelVisibility is a recorded SetPanelVisibility call.
type PanelVisibility struct {
	PanelID    string
	Visibility xapi.Visibility
}

// Host is a fake xapi.Host. The zero value is not usable, use New.
type Host struct {
	mu sync.Mutex

	calls       []string
	panels      []xapi.Panel
	visibility  []PanelVisibility
	textInputs  []xapi.TextInput
	alerts      []xapi.Alert
	iconURLs    []string
	halfwakes   int
	logouts     int
	closed      bool
	subscribers map[chan<- xapi.Event]struct{}

	session    xapi.SessionStatus
	sessionErr error
	standby    xapi.StandbyState
	standbyErr error
	iconID     string
	iconErr    error
	commandErr error
}

var _ xapi.Host = (*Host)(nil)

// New returns a Host reporting an Available session and an On standby state.
func New() *Host {
	return &Host{
		session:     xapi.SessionAvailable,
		standby:     xapi.StandbyOn,
		iconID:      "icon-1",
		subscribers: make(map[chan<- xapi.Event]struct{}),
	}
}

// SetSessionStatus sets what SessionStatus returns.
func (h *Host) SetSessionStatus(status xapi.SessionStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session, h.sessionErr = status, err
}

// SetStandbyState sets what StandbyState returns.
func (h *Host) SetStandbyState(state xapi.StandbyState, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.standby, h.standbyErr = state, err
}

// SetIconDownload sets what DownloadIcon returns.
func (h *Host) SetIconDownload(iconID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.iconID, h.iconErr = iconID, err
}

// SetCommandError makes every command return err. The command is still recorded.
func (h *Host) SetCommandError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commandErr = err
}

// Emit delivers e to every registered channel without blocking.
func (h *Host) Emit(e xapi.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subscribers {
		select {
		case c <- e:
		default:
		}
	}
}

// Calls returns the names of all Host methods called so far, in order.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *Host) Panels() []xapi.Panel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]xapi.Panel(nil), h.panels...)
}

func (h *Host) Visibility() []PanelVisibility {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PanelVisibility(nil), h.visibility...)
}

func (h *Host) TextInputs() []xapi.TextInput {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]xapi.TextInput(nil), h.textInputs...)
}

func (h *Host) Alerts() []xapi.Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]xapi.Alert(nil), h.alerts...)
}

func (h *Host) IconURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.iconURLs...)
}

func (h *Host) Halfwakes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halfwakes
}

func (h *Host) Logouts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logouts
}

// Reset forgets all recorded calls. Configured results are kept.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
	h.panels = nil
	h.visibility = nil
	h.textInputs = nil
	h.alerts = nil
	h.iconURLs = nil
	h.halfwakes = 0
	h.logouts = 0
}

// record must be called with mu held.
func (h *Host) record(name string) error {
	h.calls = append(h.calls, name)
	if h.closed {
		return xapi.ErrClosed
	}
	return nil
}

func (h *Host) SavePanel(_ context.Context, panel xapi.Panel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("SavePanel"); err != nil {
		return err
	}
	h.panels = append(h.panels, panel)
	return h.commandErr
}

func (h *Host) SetPanelVisibility(_ context.Context, panelID string, visibility xapi.Visibility) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("SetPanelVisibility"); err != nil {
		return err
	}
	h.visibility = append(h.visibility, PanelVisibility{PanelID: panelID, Visibility: visibility})
	return h.commandErr
}

func (h *Host) DownloadIcon(_ context.Context, url string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("DownloadIcon"); err != nil {
		return "", err
	}
	h.iconURLs = append(h.iconURLs, url)
	if h.iconErr != nil {
		return "", h.iconErr
	}
	return h.iconID, nil
}

func (h *Host) DisplayTextInput(_ context.Context, input xapi.TextInput) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("DisplayTextInput"); err != nil {
		return err
	}
	h.textInputs = append(h.textInputs, input)
	return h.commandErr
}

func (h *Host) DisplayAlert(_ context.Context, alert xapi.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("DisplayAlert"); err != nil {
		return err
	}
	h.alerts = append(h.alerts, alert)
	return h.commandErr
}

func (h *Host) Halfwake(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("Halfwake"); err != nil {
		return err
	}
	h.halfwakes++
	return h.commandErr
}

func (h *Host) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("Logout"); err != nil {
		return err
	}
	h.logouts++
	return h.commandErr
}

func (h *Host) SessionStatus(context.Context) (xapi.SessionStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("SessionStatus"); err != nil {
		return "", err
	}
	return h.session, h.sessionErr
}

func (h *Host) StandbyState(context.Context) (xapi.StandbyState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("StandbyState"); err != nil {
		return "", err
	}
	return h.standby, h.standbyErr
}

func (h *Host) AddEventSignal(c chan<- xapi.Event) error {
	if c == nil {
		return errors.New("AddEventSignal: channel cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[c] = struct{}{}
	return nil
}

func (h *Host) RemoveEventSignal(c chan<- xapi.Event) error {
	if c == nil {
		return errors.New("RemoveEventSignal: channel cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, c)
	return nil
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	clear(h.subscribers)
	return nil
}

package xapi

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrClosed is returned when a Host is used after Close.
	ErrClosed = errors.New("host connection closed")

	// ErrNotConnected is returned when the host could not be reached at all.
	ErrNotConnected = errors.New("host not connected")
)

// SessionStatus is the state of the hotdesk reservation of the device.
// Values other than the declared constants are passed through unchanged.
type SessionStatus string

const (
	SessionAvailable SessionStatus = "Available"
	SessionReserved  SessionStatus = "Reserved"
)

// StandbyState is the display power state of the device.
type StandbyState string

const (
	StandbyOn       StandbyState = "On"
	StandbyOff      StandbyState = "Off"
	StandbyHalfwake StandbyState = "Halfwake"
)

// Visibility of a panel on the device home screen.
type Visibility string

const (
	VisibilityAuto   Visibility = "Auto"
	VisibilityHidden Visibility = "Hidden"
)

// InputType controls how a text input prompt renders and masks what is typed.
type InputType string

const (
	InputSingleLine InputType = "SingleLine"
	InputNumeric    InputType = "Numeric"
	InputPassword   InputType = "Password"
	InputPIN        InputType = "PIN"
)

// TextInput is a modal prompt asking the user for text.
// The response arrives later as an EventTextInputResponse carrying FeedbackID.
type TextInput struct {
	FeedbackID  string
	InputType   InputType
	Placeholder string
	SubmitText  string
	Text        string
	Title       string
}

// Alert is a transient message shown on the device for Duration seconds.
type Alert struct {
	Duration int
	Text     string
	Title    string
}

// Host is the device platform as seen by the lock.
//
// Command methods are fire-and-forget from the device's point of view: a nil error only means
// the device accepted the request.
//
// It is safe to call Host's methods concurrently.
type Host interface {
	// SavePanel registers or replaces a home screen panel.
	SavePanel(ctx context.Context, panel Panel) error

	// SetPanelVisibility shows or hides a previously saved panel.
	SetPanelVisibility(ctx context.Context, panelID string, visibility Visibility) error

	// DownloadIcon makes the device fetch an image and returns the id it can be referenced by.
	DownloadIcon(ctx context.Context, url string) (string, error)

	// DisplayTextInput shows a text input prompt.
	DisplayTextInput(ctx context.Context, input TextInput) error

	// DisplayAlert shows a transient alert.
	DisplayAlert(ctx context.Context, alert Alert) error

	// Halfwake dims the display and masks on-screen content.
	Halfwake(ctx context.Context) error

	// Logout ends the active hotdesk session.
	Logout(ctx context.Context) error

	// SessionStatus gets the current hotdesk session status.
	SessionStatus(ctx context.Context) (SessionStatus, error)

	// StandbyState gets the current standby state.
	StandbyState(ctx context.Context) (StandbyState, error)

	// AddEventSignal registers a channel that will receive every panel click, text input
	// response, text input clear, session status change, and standby state change.
	//
	// Writing to this channel does not block.
	// Use a buffered channel if you don't want to miss anything.
	AddEventSignal(c chan<- Event) error

	// RemoveEventSignal unregisters a channel previously registered with AddEventSignal.
	// RemoveEventSignal can be safely called with an unregistered channel.
	RemoveEventSignal(c chan<- Event) error

	io.Closer
}

package xapi

import (
	"strconv"
)

// EventKind identifies the stream an Event came from.
type EventKind int

const (
	EventPanelClicked EventKind = iota + 1
	EventTextInputResponse
	EventTextInputClear
	EventSessionStatus
	EventStandbyState
)

func (k EventKind) String() string {
	switch k {
	case EventPanelClicked:
		return "PanelClicked"
	case EventTextInputResponse:
		return "TextInputResponse"
	case EventTextInputClear:
		return "TextInputClear"
	case EventSessionStatus:
		return "SessionStatus"
	case EventStandbyState:
		return "StandbyState"
	default:
		return strconv.Itoa(int(k))
	}
}

// Event is a single notification from the host. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// PanelID is set for EventPanelClicked.
	PanelID string

	// FeedbackID is set for EventTextInputResponse and EventTextInputClear.
	FeedbackID string

	// Text is set for EventTextInputResponse.
	Text string

	SessionStatus SessionStatus
	StandbyState  StandbyState
}

// fanOut delivers e to every channel without blocking. It returns the number of channels that
// were full and missed e.
func fanOut(subs map[chan<- Event]struct{}, e Event) int {
	dropped := 0
	for c := range subs {
		select {
		case c <- e:
		default:
			dropped++
		}
	}
	return dropped
}

package standby

import (
	"errors"
	"io"
	"sync"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// Source reports standby state changes.
type Source interface {
	// AddStateSignal registers a channel that will be notified of every standby state change.
	//
	// Writing to this channel does not block.
	// Use a buffered channel if you don't want to miss anything.
	AddStateSignal(c chan<- xapi.StandbyState) error

	// RemoveStateSignal unregisters a channel previously registered with AddStateSignal.
	// RemoveStateSignal can be safely called with an unregistered channel.
	RemoveStateSignal(c chan<- xapi.StandbyState) error

	io.Closer
}

// signals is the set of channels registered with a Source.
type signals struct {
	mu   sync.Mutex
	subs map[chan<- xapi.StandbyState]struct{}
}

func (s *signals) add(c chan<- xapi.StandbyState) error {
	if c == nil {
		return errors.New("AddStateSignal: channel cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[chan<- xapi.StandbyState]struct{})
	}
	s.subs[c] = struct{}{}

	return nil
}

func (s *signals) remove(c chan<- xapi.StandbyState) error {
	if c == nil {
		return errors.New("RemoveStateSignal: channel cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, c)

	return nil
}

func (s *signals) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.subs)
}

func (s *signals) send(state xapi.StandbyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		select {
		case c <- state:
		default:
		}
	}
}

// Forward sends every state received on states to events as an xapi.EventStandbyState, until
// states is closed or done is closed.
func Forward(states <-chan xapi.StandbyState, events chan<- xapi.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			select {
			case events <- xapi.Event{Kind: xapi.EventStandbyState, StandbyState: state}:
			case <-done:
				return
			}
		}
	}
}

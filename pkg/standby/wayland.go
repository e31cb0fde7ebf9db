package standby

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MatthiasKunnen/go-wayland/wayland/client"
	idleNotify "github.com/MatthiasKunnen/go-wayland/wayland/staging/ext-idle-notify-v1"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// Wayland reports the session as halfwake after it has been idle for a while and as awake
// (StandbyOff) when it resumes.
type Wayland struct {
	signals

	close chan struct{}
	// The dispatch channel exists to synchronize the wayland communication which is not safe to be
	// done over multiple goroutines.
	dispatchChan chan func() error
	display      *client.Display
	notifier     *idleNotify.IdleNotifier
	notification *idleNotify.IdleNotification
	registry     *client.Registry
	seat         *client.Seat
}

var _ Source = (*Wayland)(nil)

// NewWayland sets up a new Wayland connection and an idle notification firing after idleAfter.
// It returns:
//   - The source
//   - The dispatch channel, execute the functions received on this channel on a single goroutine.
//     States are only reported while this is done.
//   - Error that occurred when creating the source.
func NewWayland(idleAfter time.Duration) (*Wayland, <-chan func() error, error) {
	durationMs := idleAfter.Milliseconds()
	switch {
	case durationMs > math.MaxUint32:
		return nil, nil, fmt.Errorf("idle duration too large, %d > %d", durationMs, math.MaxUint32)
	case durationMs < 0:
		durationMs = 0
	}

	w := &Wayland{
		close:        make(chan struct{}, 1),
		dispatchChan: make(chan func() error),
	}
	var err error
	w.display, err = client.Connect("")
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to Wayland server: %w", err)
	}

	w.registry, err = w.display.GetRegistry()
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("error getting Wayland registry: %w", err), w.Close())
	}

	var globalHandlerError error
	w.registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		switch e.Interface {
		case idleNotify.IdleNotifierInterfaceName:
			w.notifier = idleNotify.NewIdleNotifier(w.context())
			err := w.registry.Bind(e.Name, idleNotify.IdleNotifierInterfaceName, e.Version, w.notifier)
			if err != nil {
				globalHandlerError = errors.Join(
					globalHandlerError,
					fmt.Errorf("unable to bind %s interface: %v", idleNotify.IdleNotifierInterfaceName, err),
				)
			}
		case client.SeatInterfaceName:
			seat := client.NewSeat(w.context())
			err := w.registry.Bind(e.Name, e.Interface, e.Version, seat)
			if err != nil {
				globalHandlerError = errors.Join(
					globalHandlerError,
					fmt.Errorf("unable to bind %s interface: %v", client.SeatInterfaceName, err),
				)
			}
			w.seat = seat
		}
	})

	for i := 1; i <= 2; i++ {
		if err := w.display.Roundtrip(); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("failed roundtrip %d: %w", i, err), w.Close())
		}
		if globalHandlerError != nil {
			return nil, nil, errors.Join(
				fmt.Errorf("error in registry GlobalHandler after roundtrip %d: %w", i, globalHandlerError),
				w.Close(),
			)
		}
	}

	if w.notifier == nil {
		return nil, nil, errors.Join(
			errors.New("no notifier was set, ext-idle-notify might not be supported"),
			w.Close(),
		)
	}

	w.notification, err = w.notifier.GetIdleNotification(uint32(durationMs), w.seat)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("unable to get idle notification: %w", err), w.Close())
	}
	// Handlers run on the dispatch goroutine; send does not block.
	w.notification.SetIdledHandler(func(idleNotify.IdleNotificationIdledEvent) {
		w.send(xapi.StandbyHalfwake)
	})
	w.notification.SetResumedHandler(func(idleNotify.IdleNotificationResumedEvent) {
		w.send(xapi.StandbyOff)
	})

	go func() {
		for {
			select {
			case w.dispatchChan <- w.display.Context().GetDispatch():
			case <-w.close:
				return
			}
		}
	}()

	return w, w.dispatchChan, nil
}

func (w *Wayland) context() *client.Context {
	return w.display.Context()
}

func (w *Wayland) AddStateSignal(c chan<- xapi.StandbyState) error {
	return w.add(c)
}

func (w *Wayland) RemoveStateSignal(c chan<- xapi.StandbyState) error {
	return w.remove(c)
}

// Close releases the Wayland objects and closes the connection. Do not use the source after this.
func (w *Wayland) Close() error {
	w.clear()

	var totalError error
	if w.notification != nil {
		if err := w.notification.Destroy(); err != nil {
			totalError = errors.Join(totalError, fmt.Errorf("failed to destroy idle notification: %w", err))
		}
	}
	if w.seat != nil {
		if err := w.seat.Release(); err != nil {
			totalError = errors.Join(totalError, fmt.Errorf("error releasing seat: %w", err))
		}
	}
	if w.notifier != nil {
		if err := w.notifier.Destroy(); err != nil {
			totalError = errors.Join(totalError, fmt.Errorf(
				"unable to destroy %s: %w",
				idleNotify.IdleNotifierInterfaceName,
				err,
			))
		}
	}
	if w.display != nil {
		if err := w.display.Destroy(); err != nil {
			totalError = errors.Join(totalError, fmt.Errorf("error destroying display: %w", err))
		}
	}

	close(w.close)

	if w.display != nil {
		if err := w.context().Close(); err != nil {
			totalError = errors.Join(totalError, fmt.Errorf("error closing wayland connection: %w", err))
		}
	}

	return totalError
}

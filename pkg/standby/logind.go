package standby

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

const (
	dbusDest             = "org.freedesktop.login1"
	dbusManagerInterface = "org.freedesktop.login1.Manager"
	dbusPath             = "/org/freedesktop/login1"
)

// Logind reports system suspend as StandbyOn and resume as StandbyOff.
//
// While awake, Logind holds a delay inhibitor on sleep so StandbyOn is reported before the system
// suspends. The inhibitor is released after reporting and taken again on resume.
type Logind struct {
	signals

	conn               *dbus.Conn
	login1Path         dbus.ObjectPath
	closeSignalHandler chan struct{}
	closeOnce          sync.Once

	// inhibit takes a new delay lock on sleep.
	inhibit     func() (io.Closer, error)
	muInhibit   sync.Mutex
	inhibitLock io.Closer
	// onError receives inhibitor failures that happen while handling signals.
	onError func(error)
}

var _ Source = (*Logind)(nil)

// NewLogind connects to the system bus, takes a delay inhibitor on sleep and subscribes to
// PrepareForSleep. onError receives errors taking or releasing the inhibitor after creation and
// may be nil.
func NewLogind(onError func(error)) (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	login1 := conn.Object(dbusDest, dbusPath)
	l := &Logind{
		conn:               conn,
		login1Path:         dbusPath,
		closeSignalHandler: make(chan struct{}),
		inhibit: func() (io.Closer, error) {
			return inhibitSleep(login1, "hotdesk-lock", "Report standby before sleeping")
		},
		onError: onError,
	}

	if err := l.acquire(); err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	if err := conn.AddMatchSignal(l.matchOptions()...); err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to register Dbus PrepareForSleep signal: %w", err),
			l.release(),
			conn.Close(),
		)
	}

	c := make(chan *dbus.Signal, 4)
	conn.Signal(c)
	go func() {
		for {
			select {
			case <-l.closeSignalHandler:
				conn.RemoveSignal(c)
				return
			case v := <-c:
				l.handleIncomingSignal(v)
			}
		}
	}()

	return l, nil
}

// inhibitSleep creates a delay inhibition lock on sleep.
// The lock is released the moment the returned object is closed.
func inhibitSleep(login1 dbus.BusObject, who string, why string) (io.Closer, error) {
	var fd dbus.UnixFD

	err := login1.
		Call(dbusManagerInterface+".Inhibit", 0, "sleep", who, why, "delay").
		Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("failed to create inhibit lock: %w", err)
	}

	return os.NewFile(uintptr(fd), "inhibit"), nil
}

func (l *Logind) acquire() error {
	l.muInhibit.Lock()
	defer l.muInhibit.Unlock()

	if l.inhibitLock != nil {
		return nil
	}
	lock, err := l.inhibit()
	if err != nil {
		return err
	}
	l.inhibitLock = lock
	return nil
}

func (l *Logind) release() error {
	l.muInhibit.Lock()
	defer l.muInhibit.Unlock()

	if l.inhibitLock == nil {
		return nil
	}
	err := l.inhibitLock.Close()
	l.inhibitLock = nil
	if err != nil {
		return fmt.Errorf("failed to release inhibit lock: %w", err)
	}
	return nil
}

func (l *Logind) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(l.login1Path),
		dbus.WithMatchInterface(dbusManagerInterface),
		dbus.WithMatchSender(dbusDest),
		dbus.WithMatchMember("PrepareForSleep"),
	}
}

func (l *Logind) handleIncomingSignal(s *dbus.Signal) {
	if s == nil {
		// Seems to happen on close
		return
	}

	state, ok := l.stateOf(s)
	if !ok {
		return
	}
	l.send(state)

	var err error
	if state == xapi.StandbyOn {
		err = l.release()
	} else {
		err = l.acquire()
	}
	if err != nil && l.onError != nil {
		l.onError(err)
	}
}

func (l *Logind) stateOf(s *dbus.Signal) (xapi.StandbyState, bool) {
	if s.Path != l.login1Path || s.Name != dbusManagerInterface+".PrepareForSleep" {
		return "", false
	}
	if len(s.Body) == 0 {
		return "", false
	}

	goingToSleep, ok := s.Body[0].(bool)
	if !ok {
		return "", false
	}
	if goingToSleep {
		return xapi.StandbyOn, true
	}
	return xapi.StandbyOff, true
}

func (l *Logind) AddStateSignal(c chan<- xapi.StandbyState) error {
	return l.add(c)
}

func (l *Logind) RemoveStateSignal(c chan<- xapi.StandbyState) error {
	return l.remove(c)
}

// Close permanently stops processing signals and releases the inhibitor. Discard the source
// afterward.
func (l *Logind) Close() error {
	l.clear()

	var err error
	l.closeOnce.Do(func() {
		if removeErr := l.conn.RemoveMatchSignal(l.matchOptions()...); removeErr != nil {
			err = fmt.Errorf("failed to remove Dbus PrepareForSleep signal: %w", removeErr)
		}
		close(l.closeSignalHandler)
		err = errors.Join(err, l.release())
		if closeErr := l.conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
		}
	})
	return err
}

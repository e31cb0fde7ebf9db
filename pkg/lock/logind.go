package lock

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest = "org.freedesktop.login1"
	logindPath = "/org/freedesktop/login1"
)

// LogindHint mirrors the PIN lock into the LockedHint of a [org.freedesktop.login1] session, so
// that other programs of the session see the device as locked.
//
// [org.freedesktop.login1]: https://www.freedesktop.org/software/systemd/man/latest/org.freedesktop.login1.html
type LogindHint struct {
	conn          *dbus.Conn
	sessionObject dbus.BusObject
}

// NewLogindHint connects to the system bus and looks up the session with the given ID.
//
// sessionId is the ID of the session. Usually set to the XDG_SESSION_ID env var.
func NewLogindHint(sessionId string) (*LogindHint, error) {
	if sessionId == "" {
		return nil, errors.New("sessionId is empty")
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	sessionPath, err := findSession(conn.Object(logindDest, logindPath), sessionId)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	return &LogindHint{
		conn:          conn,
		sessionObject: conn.Object(logindDest, sessionPath),
	}, nil
}

func findSession(manager dbus.BusObject, sessionId string) (dbus.ObjectPath, error) {
	var sessions []interface{}
	err := manager.Call("org.freedesktop.login1.Manager.ListSessions", 0).Store(&sessions)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessionPathOf(sessions, sessionId)
}

// sessionPathOf finds the object path of sessionId in the result of ListSessions.
func sessionPathOf(sessions []interface{}, sessionId string) (dbus.ObjectPath, error) {
	for i, sessionInt := range sessions {
		session, ok := sessionInt.([]interface{})
		if !ok || len(session) < 5 {
			return "", fmt.Errorf("session %d is not a session tuple: %+v", i, sessionInt)
		}

		currentSessionId, ok := session[0].(string)
		if !ok {
			return "", fmt.Errorf("session %d[0] is not a string: %+v", i, session[0])
		}
		if currentSessionId != sessionId {
			continue
		}

		sessionPath, ok := session[4].(dbus.ObjectPath)
		if !ok {
			return "", fmt.Errorf("session %d[4] is not an ObjectPath: %+v", i, session[4])
		}
		return sessionPath, nil
	}

	return "", fmt.Errorf("failed to find session %s", sessionId)
}

// SetLocked sets the LockedHint of the session; true=Locked, false=unlocked.
func (l *LogindHint) SetLocked(locked bool) error {
	err := l.sessionObject.Call("org.freedesktop.login1.Session.SetLockedHint", 0, locked).Err
	if err != nil {
		return fmt.Errorf("could not set locked hint: %w", err)
	}

	return nil
}

// Follow sets the LockedHint for every value received on locked until it is closed.
// Errors are passed to onError, which may be nil.
func (l *LogindHint) Follow(locked <-chan bool, onError func(error)) {
	for v := range locked {
		if err := l.SetLocked(v); err != nil && onError != nil {
			onError(err)
		}
	}
}

func (l *LogindHint) Close() error {
	return l.conn.Close()
}

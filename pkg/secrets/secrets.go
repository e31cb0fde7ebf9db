package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	dbusDest             = "org.freedesktop.secrets"
	dbusServiceInterface = "org.freedesktop.Secret.Service"
	dbusPath             = "/org/freedesktop/secrets"
)

type Secrets struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func New() (*Secrets, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	s := &Secrets{
		conn: conn,
	}
	s.obj = conn.Object(dbusDest, dbusPath)

	return s, nil
}

// Lock locks the given objects. The given objects are prepended by "/org/freedesktop/secrets/".
func (s *Secrets) Lock(paths []string) error {
	objs, err := objectPaths(paths)
	if err != nil {
		return err
	}
	err = s.obj.Call(dbusServiceInterface+".Lock", 0, objs).Err
	if err != nil {
		return fmt.Errorf("could not lock collection: %w", err)
	}

	return nil
}

// Follow locks paths every time true is received on locked, until locked is closed.
// Errors are passed to onError, which may be nil.
func (s *Secrets) Follow(locked <-chan bool, paths []string, onError func(error)) {
	for v := range locked {
		if !v {
			continue
		}
		if err := s.Lock(paths); err != nil && onError != nil {
			onError(err)
		}
	}
}

func (s *Secrets) Close() error {
	return s.conn.Close()
}

func objectPaths(paths []string) ([]dbus.ObjectPath, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to lock")
	}

	objs := make([]dbus.ObjectPath, len(paths))
	for i, path := range paths {
		objs[i] = dbus.ObjectPath(dbusPath + "/" + strings.TrimPrefix(path, "/"))
		if !objs[i].IsValid() {
			return nil, fmt.Errorf("invalid secret object path %q", objs[i])
		}
	}
	return objs, nil
}

package lock

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPathOf(t *testing.T) {
	sessions := []interface{}{
		[]interface{}{"c1", uint32(120), "gdm", "seat0", dbus.ObjectPath("/org/freedesktop/login1/session/c1")},
		[]interface{}{"3", uint32(1000), "desk", "seat0", dbus.ObjectPath("/org/freedesktop/login1/session/_33")},
	}

	path, err := sessionPathOf(sessions, "3")
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/login1/session/_33"), path)

	_, err = sessionPathOf(sessions, "7")
	assert.Error(t, err)
}

func TestSessionPathOf_Malformed(t *testing.T) {
	_, err := sessionPathOf([]interface{}{"not a tuple"}, "3")
	assert.Error(t, err)

	_, err = sessionPathOf([]interface{}{[]interface{}{"3", uint32(1), "u", "seat0", "not a path"}}, "3")
	assert.Error(t, err)
}

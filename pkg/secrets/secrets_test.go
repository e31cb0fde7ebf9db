package secrets

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPaths(t *testing.T) {
	objs, err := objectPaths([]string{"collection/login", "/aliases/default"})
	require.NoError(t, err)
	assert.Equal(t, []dbus.ObjectPath{
		"/org/freedesktop/secrets/collection/login",
		"/org/freedesktop/secrets/aliases/default",
	}, objs)
}

func TestObjectPaths_Invalid(t *testing.T) {
	_, err := objectPaths(nil)
	assert.Error(t, err)

	_, err = objectPaths([]string{"collection/my wallet"})
	assert.Error(t, err)
}

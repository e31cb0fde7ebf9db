package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/MatthiasKunnen/hotdesk-lock/internal/config"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDbusConfig(t *testing.T) {
	logger := discardLogger()
	cfg := config.Default()
	cfg.Host.Type = config.HostDbus
	cfg.Host.Dbus = config.Dbus{
		SystemBus: true,
		Name:      "org.example.Room",
		Path:      "/org/example/Room",
		Interface: "org.example.Room1",
	}

	assert.Equal(t, xapi.DbusConfig{
		SystemBus: true,
		Name:      "org.example.Room",
		Path:      dbus.ObjectPath("/org/example/Room"),
		Interface: "org.example.Room1",
		Logger:    logger,
	}, dbusConfig(cfg.Host, logger))
}

func TestDbusConfig_EmptyKeepsDefaults(t *testing.T) {
	logger := discardLogger()
	assert.Equal(t, xapi.DbusConfig{Logger: logger}, dbusConfig(config.Default().Host, logger))
}

func TestWebSocketConfig(t *testing.T) {
	logger := discardLogger()
	cfg := config.Default()
	cfg.Host.URL = "wss://10.0.0.5/ws"
	cfg.Host.Username = "admin"
	cfg.Host.Password = "secret"
	cfg.Host.InsecureSkipVerify = true
	cfg.Host.PingInterval = 30 * time.Second

	assert.Equal(t, xapi.WebSocketConfig{
		URL:                "wss://10.0.0.5/ws",
		Username:           "admin",
		Password:           "secret",
		InsecureSkipVerify: true,
		SubscribeTimeout:   10 * time.Second,
		PingInterval:       30 * time.Second,
		Logger:             logger,
	}, webSocketConfig(cfg.Host, logger))
}

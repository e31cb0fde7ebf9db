// Command hotdesk-lock protects a hotdesk session on a meeting room device with a PIN.
//
// Usage:
//
//	hotdesk-lock [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-log-level string  Log level override: debug, info, warn, error
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MatthiasKunnen/hotdesk-lock/internal/config"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/lock"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/secrets"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/standby"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

var (
	configPath string
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		slog.Error("hotdesk-lock stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, lost, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Warn("Failed to close host", "error", err)
		}
	}()

	// Handlers block on host calls; a full channel drops events.
	events := make(chan xapi.Event, 128)
	if err := host.AddEventSignal(events); err != nil {
		return fmt.Errorf("failed to subscribe to device events: %w", err)
	}

	closeStandby, err := startStandby(ctx, cfg.Standby, events, logger)
	if err != nil {
		return err
	}
	defer closeStandby()

	controller, err := lock.New(host, cfg.Lock(), logger)
	if err != nil {
		return err
	}
	router := xapi.NewRouter()
	controller.Register(router)

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	closeSession, err := followSession(controller, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	if err := controller.Start(ctx); err != nil {
		return err
	}
	logger.Info("hotdesk-lock started", "host", cfg.Host.Type, "standby", cfg.Standby.Source)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-lost:
			logger.Error("Connection to device lost", "error", host.Err())
			cancel()
		case <-runCtx.Done():
		}
	}()

	err = router.Run(runCtx, events)
	if ctx.Err() != nil {
		logger.Info("Shutting down")
		return nil
	}
	if err == nil || errors.Is(err, context.Canceled) {
		if hostErr := host.Err(); hostErr != nil {
			return fmt.Errorf("connection to device lost: %w", hostErr)
		}
		return errors.New("connection to device closed")
	}
	return err
}

func newLogger(cfg config.Log) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// connectedHost is a Host that can report losing its connection.
type connectedHost interface {
	xapi.Host
	Err() error
}

// dbusHost never loses its connection on its own.
type dbusHost struct {
	*xapi.DbusHost
}

func (dbusHost) Err() error { return nil }

// connect returns the configured host and a channel that is closed when its connection is lost.
func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (connectedHost, <-chan struct{}, error) {
	switch cfg.Host.Type {
	case config.HostDbus:
		h, err := xapi.NewDbusHost(dbusConfig(cfg.Host, logger))
		if err != nil {
			return nil, nil, err
		}
		return dbusHost{h}, nil, nil
	default:
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		h, err := xapi.DialWebSocket(dialCtx, webSocketConfig(cfg.Host, logger))
		if err != nil {
			return nil, nil, err
		}
		return h, h.Done(), nil
	}
}

func dbusConfig(cfg config.Host, logger *slog.Logger) xapi.DbusConfig {
	return xapi.DbusConfig{
		SystemBus: cfg.Dbus.SystemBus,
		Name:      cfg.Dbus.Name,
		Path:      dbus.ObjectPath(cfg.Dbus.Path),
		Interface: cfg.Dbus.Interface,
		Logger:    logger,
	}
}

func webSocketConfig(cfg config.Host, logger *slog.Logger) xapi.WebSocketConfig {
	return xapi.WebSocketConfig{
		URL:                cfg.URL,
		Username:           cfg.Username,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		SubscribeTimeout:   cfg.Timeout,
		PingInterval:       cfg.PingInterval,
		Logger:             logger,
	}
}

// startStandby forwards the standby states of a local source into events. The host source needs
// nothing started since the device reports its own standby state.
func startStandby(
	ctx context.Context,
	cfg config.Standby,
	events chan<- xapi.Event,
	logger *slog.Logger,
) (func(), error) {
	var (
		source   standby.Source
		dispatch <-chan func() error
		err      error
	)
	switch cfg.Source {
	case config.StandbyWayland:
		source, dispatch, err = standby.NewWayland(cfg.IdleAfter)
	case config.StandbyLogind:
		source, err = standby.NewLogind(func(err error) {
			logger.Warn("Sleep inhibitor error", "error", err)
		})
	default:
		return func() {}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s standby source: %w", cfg.Source, err)
	}

	states := make(chan xapi.StandbyState, 4)
	if err := source.AddStateSignal(states); err != nil {
		return nil, errors.Join(err, source.Close())
	}

	done := make(chan struct{})
	go standby.Forward(states, events, done)
	if dispatch != nil {
		go func() {
			for {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				case dispatchFunc := <-dispatch:
					if err := dispatchFunc(); err != nil {
						logger.Warn("Wayland dispatch error", "error", err)
					}
				}
			}
		}()
	}

	return func() {
		close(done)
		if err := source.Close(); err != nil {
			logger.Warn("Failed to close standby source", "error", err)
		}
	}, nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	lock.RegisterMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()

	return srv
}

// followSession mirrors the lock into the logind session and the secret service when configured.
func followSession(controller *lock.Controller, cfg config.Session, logger *slog.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.LogindSessionID != "" {
		hint, err := lock.NewLogindHint(cfg.LogindSessionID)
		if err != nil {
			return nil, err
		}
		locked := make(chan bool, 4)
		if err := controller.AddLockedSignal(locked); err != nil {
			return nil, errors.Join(err, hint.Close())
		}
		go hint.Follow(locked, func(err error) {
			logger.Warn("Failed to set locked hint", "error", err)
		})
		closers = append(closers, func() {
			_ = controller.RemoveLockedSignal(locked)
			close(locked)
			_ = hint.Close()
		})
	}

	if len(cfg.SecretCollections) > 0 {
		s, err := secrets.New()
		if err != nil {
			closeAll()
			return nil, err
		}
		locked := make(chan bool, 4)
		if err := controller.AddLockedSignal(locked); err != nil {
			closeAll()
			return nil, errors.Join(err, s.Close())
		}
		go s.Follow(locked, cfg.SecretCollections, func(err error) {
			logger.Warn("Failed to lock secrets", "error", err)
		})
		closers = append(closers, func() {
			_ = controller.RemoveLockedSignal(locked)
			close(locked)
			_ = s.Close()
		})
	}

	return closeAll, nil
}

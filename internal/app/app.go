// Package app wires the conversation server together: store, bus, window
// cache, presence, notification batching, hub and the HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"parley/internal/retention"
	"parley/pkg/api"
	"parley/pkg/banner"
	"parley/pkg/bus"
	"parley/pkg/clock"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/notify"
	"parley/pkg/presence"
	"parley/pkg/service"
	"parley/pkg/store"
	"parley/pkg/window"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	st   *store.Store
	msgr bus.Messenger
	pres *presence.Manager
	agg  *notify.Aggregator
	chat *service.Chat
	hub  *api.Hub

	srv *http.Server
}

// New builds every component but starts nothing; call Run to serve.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")
	logger.InitWithSink(cfg.Logging.Level, cfg.Logging.Sink)

	st, err := store.Open(cfg.Storage.DBPath, store.Options{
		GroupCap:  cfg.Log.GroupCap,
		DirectCap: cfg.Log.DirectCap,
	})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.Storage.DBPath, err)
	}

	var msgr bus.Messenger
	switch cfg.Bus.Mode {
	case "", "inmem":
		msgr = bus.NewInMem()
	case "nats":
		msgr, err = bus.NewNATS(bus.NATSConfig{
			URL:      cfg.Bus.NATS.URL,
			User:     cfg.Bus.NATS.User,
			Password: cfg.Bus.NATS.Password,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect bus: %w", err)
		}
	default:
		_ = st.Close()
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Bus.Mode)
	}

	clk := clock.System()
	windows := window.New(st, cfg.Window.Size)
	chat := service.NewChat(st, windows, msgr, clk, nil)

	agg := notify.New(clk, cfg.Notify.Window.Duration(), func(conv, text string) error {
		return chat.SendSystem(context.Background(), conv, text)
	})

	// The hub is constructed after presence but hooks only fire once
	// connections arrive, well after both exist.
	var hub *api.Hub
	pres := presence.New(clk, presence.Config{
		Grace:               cfg.Presence.Grace.Duration(),
		SweepInterval:       cfg.Presence.SweepInterval.Duration(),
		InactivityThreshold: cfg.Presence.InactivityThreshold.Duration(),
	}, presence.Hooks{
		Online:  func(id presence.Identity) { hub.BroadcastPresence(id, true) },
		Offline: func(id presence.Identity) { hub.BroadcastPresence(id, false) },
		Joined: func(conv string, id presence.Identity) {
			hub.OnJoined(conv, id)
			agg.Add(conv, notify.KindJoin, id.Name)
		},
		Left: func(conv string, id presence.Identity) {
			hub.OnLeft(conv, id)
			agg.Add(conv, notify.KindLeave, id.Name)
		},
	})
	hub = api.NewHub(chat, pres, msgr, nil, api.HubConfig{
		QueueSize:     cfg.Queue.Capacity,
		SendBuffer:    cfg.Queue.SendBuffer,
		MaxFrameBytes: cfg.Queue.MaxFrameBytes.Int64(),
		FrameRate:     cfg.RateLimit.RPS,
		FrameBurst:    cfg.RateLimit.Burst,
	})

	return &App{
		cfg:       cfg,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		st:        st,
		msgr:      msgr,
		pres:      pres,
		agg:       agg,
		chat:      chat,
		hub:       hub,
	}, nil
}

// Run starts the hub, sweeps, retention and HTTP listener and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	go a.hub.Run(ctx)
	a.pres.StartSweep(ctx)

	retCancel, err := retention.Start(ctx, a.cfg, a.st, a.chat.Windows())
	if err != nil {
		return err
	}
	defer retCancel()

	a.srv = &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           api.Router(a.chat, a.pres, a.hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.cfg.Addr())
		var serveErr error
		if a.cfg.Server.TLS.CertFile != "" && a.cfg.Server.TLS.KeyFile != "" {
			serveErr = a.srv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			serveErr = a.srv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	logger.Info("shutdown_started")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		_ = a.srv.Shutdown(sctx)
	}
	a.hub.Shutdown()
	a.agg.Close()
	if err := a.msgr.Close(); err != nil {
		logger.Warn("bus_close_failed", "error", err.Error())
	}
	if err := a.st.Close(); err != nil {
		logger.Warn("store_close_failed", "error", err.Error())
	}
	logger.Info("shutdown_complete")
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg.Addr(), a.cfg.Storage.DBPath, a.cfg.Bus.Mode, verStr)
}

package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/bus/natsbus"
	"github.com/vovakirdan/chatlink/internal/config"
	"github.com/vovakirdan/chatlink/internal/core"
	"github.com/vovakirdan/chatlink/internal/service/friends"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store"
	"github.com/vovakirdan/chatlink/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatlink/internal/transport/http"
)

// App wires together storage, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	nats            *nats.Conn
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	// Live connections do not survive a restart.
	if err := st.ResetPresence(context.Background(), time.Now().UTC()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reset presence: %w", err)
	}

	friendSvc := friends.New(st)
	messageSvc := messages.New(st, messages.WithHistoryLimit(cfg.HistoryLimit))

	opts := []core.Option{core.WithLogger(logger)}
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsbus.Connect(cfg.NATSURL, "chatlink", logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts = append(opts, core.WithPublisher(natsbus.New(nc, cfg.NATSSubjectPrefix)))
		logger.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("publishing notifications to nats")
	}

	hub := core.NewHub(st, friendSvc, messageSvc, opts...)
	server := transporthttp.NewServer(hub, transporthttp.Readers{
		Presence: st,
		History:  messageSvc,
		Friends:  friendSvc,
	}, cfg, logger)

	if cfg.JWTEnabled() {
		logger.Info().Msg("identity tokens required")
	}

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		nats:            nc,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// The hub outlives ctx until the listener is closed.
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		<-hubDone
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not tracked by Shutdown; the hub
		// closes them, and refuses any upgrade that was still in flight.
		stopHub()
		<-hubDone
		a.cleanup()
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// cleanup closes the notification bus and the database.
func (a *App) cleanup() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.log.Warn().Err(err).Msg("failed to drain nats")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/rtchat-server/internal/auth"
	"github.com/vovakirdan/rtchat-server/internal/config"
	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/filestore"
	"github.com/vovakirdan/rtchat-server/internal/render"
	"github.com/vovakirdan/rtchat-server/internal/store"
	"github.com/vovakirdan/rtchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/rtchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	cfg    *config.Config
	server *stdhttp.Server
	hub    *core.Hub
	store  store.Store
	files  filestore.Store
	log    *zerolog.Logger

	// sessions is the base context of every request; cancelling it ends the
	// websocket sessions that Shutdown does not track.
	sessions context.Context
	cancel   context.CancelFunc
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := EnsurePublicRooms(ctx, st, append([]string{cfg.OnlineRoom}, cfg.PublicRooms...)); err != nil {
		_ = st.Close()
		return nil, err
	}

	files, err := filestore.Open(ctx, cfg.NATSURL, cfg.UploadBucket, cfg.UploadDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	if cfg.NATSURL != "" {
		logger.Info().Str("bucket", cfg.UploadBucket).Msg("file store: nats jetstream")
	} else {
		logger.Info().Str("dir", cfg.UploadDir).Msg("file store: disk")
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	renderer := render.NewJSON(render.NewSummarizer(st, cfg.UnreadPreview))
	hub := core.NewHub(st, renderer, core.Options{
		QueueSize:        cfg.SessionQueueSize,
		MaxMessageLength: cfg.MaxMessageLength,
		MessageRate:      cfg.MessageRatePerSec,
		MessageBurst:     cfg.MessageBurst,
		HistoryLimit:     cfg.HistoryLimit,
		OnlineRoom:       cfg.OnlineRoom,
		PublicRoom:       lo.FirstOr(cfg.PublicRooms, ""),
	}, logger)

	sessions, cancel := context.WithCancel(context.Background())
	server := transporthttp.NewServer(hub, authService, files, cfg, logger)
	server.BaseContext = func(net.Listener) context.Context { return sessions }

	return &App{
		cfg:      cfg,
		server:   server,
		hub:      hub,
		store:    st,
		files:    files,
		log:      logger,
		sessions: sessions,
		cancel:   cancel,
	}, nil
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		a.cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	a.cancel()
	if err := a.hub.CheckInvariants(); err != nil {
		a.log.Error().Err(err).Msg("room invariants violated at shutdown")
	}
	if a.files != nil {
		if err := a.files.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close file store")
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

// EnsurePublicRooms creates the named public rooms that do not exist yet.
// A public room's id is its name.
func EnsurePublicRooms(ctx context.Context, st store.RoomStore, names []string) error {
	names = lo.Uniq(lo.Compact(names))
	for _, name := range names {
		_, err := st.GetRoom(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get room %q: %w", name, err)
		}
		if _, err := st.CreateRoom(ctx, name, name, store.RoomKindPublic, nil); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("create public room %q: %w", name, err)
		}
	}
	return nil
}

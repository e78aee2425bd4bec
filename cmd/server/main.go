package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/huddle/internal/adapters/auth"
	router "github.com/dkeye/huddle/internal/adapters/http"
	sig "github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/adapters/store"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	archive, closeArchive, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open room store")
	}

	engine, err := sfu.NewEngine(sfu.Config{ICEServers: cfg.RTC.ICEServers, UDPPort: cfg.RTC.UDPPort})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}

	m := metrics.New()
	hub := sig.NewHub(app.StrikePolicy{Limit: cfg.Signal.BackpressureStrikes}, m)
	o := orch.New(app.NewRegistry(), engine, archive, hub, m, orch.Options{
		CleanupDelay:           cfg.Room.CleanupDelay,
		DefaultMaxParticipants: cfg.Room.DefaultMaxParticipants,
		MaxParticipants:        cfg.Room.MaxParticipants,
		StoreTimeout:           cfg.Store.Timeout,
	})

	var verifier core.IdentityVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	ctrl := sig.NewSignalWSController(o, hub, verifier, sig.Options{
		SendBuffer:     cfg.Signal.SendBuffer,
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		RequestTimeout: cfg.Signal.RequestTimeout,
		AllowGuests:    cfg.Auth.AllowGuests,
		CreateRate:     rate.Limit(cfg.Room.CreateRate / 60),
		CreateBurst:    cfg.Room.CreateBurst,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl, m)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	failure := waitForStop(ctx, serveErr, engine.Fatal())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	o.Close()
	if err := engine.Close(); err != nil {
		log.Error().Err(err).Msg("media engine close")
	}
	if err := closeArchive(); err != nil {
		log.Error().Err(err).Msg("room store close")
	}
	if failure != nil {
		// non-zero exit so a supervisor restarts us
		log.Fatal().Err(failure).Msg("Server stopped on failure")
	}
	log.Info().Msg("Server exited gracefully")
}

// waitForStop blocks until a shutdown signal or a failure. It returns nil
// for a requested shutdown and the cause otherwise.
func waitForStop(ctx context.Context, serveErr, engineFatal <-chan error) error {
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-serveErr:
		log.Error().Err(err).Msg("server error, shutting down")
		return fmt.Errorf("http server: %w", err)
	case err := <-engineFatal:
		// Media worker is gone; every room depends on it.
		log.Error().Err(err).Msg("media engine died, shutting down")
		if err == nil {
			err = errors.New("media engine stopped")
		}
		return fmt.Errorf("media engine: %w", err)
	}
}

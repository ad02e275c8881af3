package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/adapters/httpapi"
	wssignal "github.com/hallwaylabs/huddle/internal/adapters/signal"
	"github.com/hallwaylabs/huddle/internal/app"
	"github.com/hallwaylabs/huddle/internal/config"
	"github.com/hallwaylabs/huddle/internal/notify"
	"github.com/hallwaylabs/huddle/internal/presence"
	"github.com/hallwaylabs/huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var st store.Store
	if cfg.DatabaseDSN != "" {
		gs, err := store.NewGorm(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		st = gs
		log.Info().Msg("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("no database_dsn configured, using in-memory store")
	}

	coord := app.NewCoordinator(st)
	coord.MaxChatLen = cfg.MaxChatLen
	coord.ChatLimiter = app.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
	if mode, err := app.ParseDeliveryMode(cfg.SignalingDelivery); err != nil {
		log.Warn().Err(err).Msg("bad signaling_delivery, keeping directed")
	} else {
		coord.Delivery = mode
	}

	if cfg.RedisAddr != "" {
		mirror, err := presence.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		coord.Mirror = mirror
		log.Info().Str("addr", cfg.RedisAddr).Msg("presence mirror enabled")
	}

	notifier := notify.NewService(st)
	go runReminderLoop(ctx, notifier)

	api := &httpapi.MeetingAPI{
		Store:    st,
		Coord:    coord,
		Notifier: notifier,
		Secret:   cfg.Secret,
		GuestTTL: cfg.GuestTokenTTL,
	}
	ctrl := wssignal.NewController(coord, cfg)

	r := httpapi.SetupRouter(ctx, cfg, api, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// runReminderLoop fires meeting reminders once a minute until shutdown.
func runReminderLoop(ctx context.Context, n *notify.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.SendReminders(ctx); err != nil {
				log.Warn().Err(err).Msg("reminder sweep failed")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/config"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	// background writers; they outlive the runners so shutdown can flush
	bg, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	workers, _ := errgroup.WithContext(bg)
	workers.Go(func() error { return services.Checkpoints.Run(bg) })
	workers.Go(func() error { return services.Recorder.Run(bg) })
	if services.Publisher != nil {
		workers.Go(func() error { return services.Publisher.Run(bg) })
	}

	restored, err := services.Manager.Recover(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to recover auctions")
	}
	log.Info().Int("restored", restored).Bool("auto_resume", cfg.AutoResume).Msg("recovery complete")

	server := setupServer(cfg.HTTPAddr, services)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("auction server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return services.Gateway.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}

		// stop the writers, then persist what they committed last
		services.Manager.Close()
		bgCancel()
		if err := workers.Wait(); err != nil {
			log.Error().Err(err).Msg("background worker failed")
		}
		if err := services.Checkpoints.Flush(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("final checkpoint flush failed")
		}
		if err := services.Recorder.Flush(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("final settlement flush failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("auction server stopped with error")
		services.Close()
		os.Exit(1)
	}
	log.Info().Msg("auction server shutdown complete")
}

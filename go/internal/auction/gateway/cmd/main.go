package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/gateway"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/config"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/logging"
)

// The standalone gateway fans auction events out to websocket clients on a
// separate process. Snapshots and bids go to the auction server over connect,
// events arrive from the JetStream stream the server publishes to.
func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := auction.NewHTTPClient(cfg.ServerURL)
	service := gateway.NewService(gateway.DefaultConfig(), backend)

	jsCfg := gateway.DefaultJetStreamConsumerConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.StreamName = cfg.NATSStream
	jsCfg.ConsumerName = cfg.ConsumerName
	if err := service.ConsumeStream(ctx, jsCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to attach event stream")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger)
	service.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("auction_server", cfg.ServerURL).
		Str("nats_url", cfg.NATSURL).
		Msg("starting auction gateway")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Start(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped with error")
	}
	log.Info().Msg("auction gateway stopped")
}

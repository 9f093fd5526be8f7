package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/checkpoint"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/gateway"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/publisher"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/config"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament"
)

type Services struct {
	Manager     *auction.Manager
	Auction     *auction.Service
	Gateway     *gateway.Service
	Checkpoints *checkpoint.Gateway
	Recorder    *auction.Recorder
	Publisher   *publisher.Publisher

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// setupServices wires the stores, the manager and its sinks. Sinks run in
// order: checkpoint, settlement recorder, websocket hub, stream publisher.
func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	s := &Services{}

	tournaments, checkpoints, err := setupStores(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	mcfg := auction.DefaultConfig()
	mcfg.QueueSize = cfg.QueueSize
	mcfg.AutoResume = cfg.AutoResume
	mcfg.SummaryCacheSize = cfg.SummaryCacheSize
	mcfg.RetireAfter = cfg.RetireAfter
	manager, err := auction.NewManager(tournaments, checkpoints, mcfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create manager: %w", err)
	}
	s.Manager = manager
	s.Auction = auction.NewService(manager)

	gcfg := checkpoint.DefaultGatewayConfig()
	gcfg.MaxRetries = cfg.CheckpointRetries
	gcfg.RetryDelay = cfg.CheckpointRetryDelay
	s.Checkpoints = checkpoint.NewGateway(checkpoints, gcfg)
	s.Checkpoints.OnDurabilityChange(manager.DurabilityReporter(auction.SourceCheckpoints))

	rcfg := auction.DefaultRecorderConfig()
	rcfg.MaxRetries = cfg.CheckpointRetries
	rcfg.RetryDelay = cfg.CheckpointRetryDelay
	s.Recorder = auction.NewRecorder(tournaments, rcfg)
	s.Recorder.OnDurabilityChange(manager.DurabilityReporter(auction.SourceSettlements))
	s.Gateway = gateway.NewService(gateway.DefaultConfig(), manager)
	manager.Use(s.Checkpoints, s.Recorder, s.Gateway.Hub())

	if cfg.NATSEnabled {
		pcfg := publisher.DefaultConfig()
		pcfg.URL = cfg.NATSURL
		pcfg.StreamName = cfg.NATSStream
		pub, err := publisher.New(ctx, pcfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create publisher: %w", err)
		}
		s.Publisher = pub
		s.closers = append(s.closers, pub)
		manager.Use(pub)
	}
	return s, nil
}

func setupStores(ctx context.Context, cfg config.Config, s *Services) (tournament.Store, checkpoint.Store, error) {
	var tournaments tournament.Store
	switch cfg.TournamentStore {
	case config.StoreMemory:
		fx, err := tournament.LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		mem := tournament.NewMemoryStore()
		fx.Apply(mem)
		tournaments = mem
		log.Info().Str("fixture", cfg.FixturePath).Int("tournaments", len(fx.Tournaments)).Msg("loaded tournament fixture")
	default:
		database, err := setupDatabase(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, database)
		tournaments = tournament.NewRepository(database)
	}

	var checkpoints checkpoint.Store
	switch cfg.CheckpointStore {
	case config.StoreMemory:
		log.Warn().Msg("checkpoints are kept in memory and will not survive a restart")
		checkpoints = checkpoint.NewMemoryStore()
	case config.StoreMongo:
		client, err := setupMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, closerFunc(func() error { return client.Disconnect(context.Background()) }))
		checkpoints = checkpoint.NewMongoStore(client.Database(cfg.MongoDatabase), "auction_checkpoints")
	default:
		pool, err := setupPool(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, closerFunc(func() error { pool.Close(); return nil }))
		checkpoints = checkpoint.NewPostgresStore(pool)
	}
	return tournaments, checkpoints, nil
}

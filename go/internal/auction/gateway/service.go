package gateway

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Service ties the hub, its routes and an optional JetStream consumer
// together. Inside the auction server the hub is a runner sink; a standalone
// gateway feeds it from the stream instead.
type Service struct {
	hub      *Hub
	handler  *Handler
	consumer *EventConsumer
}

type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

func NewService(config Config, backend Backend) *Service {
	hub := NewHub(config.ConnectionConfig, backend)
	return &Service{hub: hub, handler: NewHandler(hub)}
}

// ConsumeStream attaches a JetStream consumer that feeds the hub.
func (s *Service) ConsumeStream(ctx context.Context, config JetStreamConsumerConfig) error {
	ec, err := NewEventConsumer(ctx, s.hub, config)
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}
	s.consumer = ec
	return nil
}

func (s *Service) Hub() *Hub { return s.hub }

// Start runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("stream", s.consumer != nil).Msg("starting auction gateway service")

	if s.consumer != nil {
		errCh := make(chan error, 1)
		go func() { errCh <- s.consumer.Start(ctx) }()
		select {
		case err := <-errCh:
			if err != nil {
				s.Stop()
				return fmt.Errorf("event consumer: %w", err)
			}
		case <-ctx.Done():
		}
	}
	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

func (s *Service) Stop() error {
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	s.hub.Close()
	log.Info().Msg("auction gateway service stopped")
	return nil
}

func (s *Service) RegisterRoutes(r chi.Router) {
	s.handler.Routes(r)
	log.Info().Msg("auction gateway routes registered")
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	Replicas        int
	DuplicateWindow time.Duration
	QueueSize       int
	MaxRetries      int
	RetryDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       1024,
		MaxRetries:      5,
		RetryDelay:      200 * time.Millisecond,
	}
}

// Subject is where batches of one tournament are published.
func Subject(prefix, code string) string {
	return fmt.Sprintf("%s.%s", prefix, code)
}

// JetStream is the part of jetstream.JetStream the publisher uses.
type JetStream interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher fans committed batches out to other processes over JetStream. It
// is an engine.Sink: Commit only enqueues, Run does the publishing.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	config  Config
	queue   chan engine.Batch
	dropped atomic.Int64
}

// New connects to NATS and makes sure the stream exists.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("auction-publisher"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := EnsureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	p := NewWithJetStream(js, cfg)
	p.nc = nc
	return p, nil
}

// NewWithJetStream builds a publisher over an existing JetStream handle.
func NewWithJetStream(js JetStream, cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Publisher{
		js:     js,
		config: cfg,
		queue:  make(chan engine.Batch, cfg.QueueSize),
	}
}

// EnsureStream creates the auction stream or updates it when its limits changed.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Live auction event batches",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if info.Config.MaxAge != sc.MaxAge || info.Config.Replicas != sc.Replicas || info.Config.Duplicates != sc.Duplicates {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Commit enqueues the batch. Batches without events are not published, and a
// full queue drops the batch; remote subscribers recover on their next snapshot.
func (p *Publisher) Commit(_ context.Context, c engine.Commit) {
	if len(c.Events) == 0 {
		return
	}
	select {
	case p.queue <- c.Batch:
	default:
		p.dropped.Add(1)
		log.Error().
			Str("tournament_code", c.TournamentCode).
			Int("events", len(c.Events)).
			Msg("publish queue full, dropping batch")
	}
}

// Dropped is the number of batches lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes queued batches in order until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	log.Info().Str("stream", p.config.StreamName).Msg("auction publisher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction publisher shutting down")
			return nil
		case b := <-p.queue:
			if err := p.publishWithRetry(ctx, b); err != nil {
				log.Error().
					Err(err).
					Str("tournament_code", b.TournamentCode).
					Msg("failed to publish batch")
			}
		}
	}
}

// Publish sends one batch. The message id is derived from the tournament and
// the last event sequence so JetStream drops redelivered duplicates.
func (p *Publisher) Publish(ctx context.Context, b engine.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	last := b.Events[len(b.Events)-1].Sequence
	msgID := fmt.Sprintf("%s-%d", b.TournamentCode, last)
	subject := Subject(p.config.SubjectPrefix, b.TournamentCode)

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Tournament-Code": []string{b.TournamentCode},
			"Batch-ID":        []string{uuid.NewString()},
			"Last-Sequence":   []string{fmt.Sprint(last)},
		},
	},
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("msg_id", msgID).
		Uint64("stream_sequence", ack.Sequence).
		Msg("published auction batch")
	return nil
}

func (p *Publisher) publishWithRetry(ctx context.Context, b engine.Batch) error {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.config.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := p.Publish(ctx, b); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("tournament_code", b.TournamentCode).
				Msg("failed to publish, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Drain()
	}
	return nil
}

var _ engine.Sink = (*Publisher)(nil)

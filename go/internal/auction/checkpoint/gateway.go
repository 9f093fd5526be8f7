package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

type GatewayConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// RequeueDelay is how long a tournament whose retries ran out waits before
	// the next round of attempts.
	RequeueDelay time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxRetries:    5,
		RetryDelay:    200 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
		RequeueDelay:  10 * time.Second,
	}
}

// DurabilityFunc is told when a tournament's checkpoints start failing and
// when they recover. It is only called on those edges.
type DurabilityFunc func(code string, degraded bool, detail string)

// Gateway writes checkpoints behind the writers. Only the latest session of a
// tournament is kept while a save is in flight, so a slow store never backs
// up the auction.
type Gateway struct {
	store Store
	cfg   GatewayConfig

	mu       sync.Mutex
	pending  map[string]*engine.Session
	degraded map[string]bool
	onChange DurabilityFunc

	wake chan struct{}
}

func NewGateway(store Store, cfg GatewayConfig) *Gateway {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultGatewayConfig().RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultGatewayConfig().RequeueDelay
	}
	return &Gateway{
		store:    store,
		cfg:      cfg,
		pending:  make(map[string]*engine.Session),
		degraded: make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// OnDurabilityChange registers the degraded/recovered callback.
func (g *Gateway) OnDurabilityChange(fn DurabilityFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Commit queues the committed session for saving. It never blocks.
func (g *Gateway) Commit(_ context.Context, c engine.Commit) {
	if c.Session == nil {
		return
	}
	g.mu.Lock()
	g.pending[c.TournamentCode] = c.Session
	g.mu.Unlock()
	g.signal()
}

func (g *Gateway) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Run saves queued checkpoints until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	log.Info().Msg("checkpoint gateway started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("checkpoint gateway shutting down")
			return nil
		case <-g.wake:
			g.drain(ctx)
		}
	}
}

// Flush saves everything queued, once, without retries. It is used on
// shutdown after the writers have stopped.
func (g *Gateway) Flush(ctx context.Context) error {
	batch := g.take()
	var failed []string
	for _, s := range batch {
		if err := g.store.Save(ctx, s); err != nil {
			log.Error().Err(err).Str("tournament_code", s.TournamentCode).Msg("final checkpoint failed")
			failed = append(failed, s.TournamentCode)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("flush checkpoints: %d failed: %v", len(failed), failed)
	}
	return nil
}

// Degraded reports whether the last attempts for code failed.
func (g *Gateway) Degraded(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded[code]
}

func (g *Gateway) take() []*engine.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	batch := make([]*engine.Session, 0, len(g.pending))
	for _, s := range g.pending {
		batch = append(batch, s)
	}
	g.pending = make(map[string]*engine.Session)
	sort.Slice(batch, func(i, j int) bool { return batch[i].TournamentCode < batch[j].TournamentCode })
	return batch
}

func (g *Gateway) drain(ctx context.Context) {
	for _, s := range g.take() {
		if err := g.saveWithRetry(ctx, s); err != nil {
			if ctx.Err() != nil {
				g.requeue(s)
				return
			}
			log.Error().
				Err(err).
				Str("tournament_code", s.TournamentCode).
				Dur("requeue_in", g.cfg.RequeueDelay).
				Msg("checkpoint retries exhausted")
			g.requeue(s)
			time.AfterFunc(g.cfg.RequeueDelay, g.signal)
		}
	}
}

// requeue puts s back unless a newer session arrived meanwhile.
func (g *Gateway) requeue(s *engine.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, newer := g.pending[s.TournamentCode]; !newer {
		g.pending[s.TournamentCode] = s
	}
}

// saveWithRetry attempts a save with a growing delay between attempts.
func (g *Gateway) saveWithRetry(ctx context.Context, s *engine.Session) error {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.cfg.RetryDelay * time.Duration(attempt)
			if delay > g.cfg.MaxRetryDelay {
				delay = g.cfg.MaxRetryDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := g.store.Save(ctx, s); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("tournament_code", s.TournamentCode).
				Uint64("sequence", s.Sequence).
				Msg("checkpoint save failed")
			g.markDegraded(s.TournamentCode, true, err.Error())
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("tournament_code", s.TournamentCode).
				Msg("checkpoint saved after retry")
		}
		g.markDegraded(s.TournamentCode, false, "")
		return nil
	}
	return fmt.Errorf("checkpoint failed after %d attempts: %w", g.cfg.MaxRetries+1, lastErr)
}

func (g *Gateway) markDegraded(code string, degraded bool, detail string) {
	g.mu.Lock()
	if g.degraded[code] == degraded {
		g.mu.Unlock()
		return
	}
	g.degraded[code] = degraded
	fn := g.onChange
	g.mu.Unlock()

	if degraded {
		log.Error().Str("tournament_code", code).Str("detail", detail).Msg("checkpoint durability degraded")
	} else {
		log.Info().Str("tournament_code", code).Msg("checkpoint durability recovered")
	}
	if fn != nil {
		fn(code, degraded, detail)
	}
}

var _ engine.Sink = (*Gateway)(nil)

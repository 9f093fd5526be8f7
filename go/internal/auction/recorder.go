package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/checkpoint"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament"
)

// SettlementWriter is the part of the tournament store that records results.
type SettlementWriter interface {
	RecordSale(ctx context.Context, sale tournament.SaleRecord) error
	RecordOutcome(ctx context.Context, rec tournament.OutcomeRecord) error
}

type settlement struct {
	code string
	at   time.Time
	engine.Settlement
}

type RecorderConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	// RequeueDelay is how long settlements whose retries ran out wait before
	// they are attempted again.
	RequeueDelay time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxRetries:   3,
		RetryDelay:   200 * time.Millisecond,
		RequeueDelay: 10 * time.Second,
	}
}

// Recorder writes sales and outcomes back to the tournament store after they
// are committed. Writes are idempotent per player, so retrying is safe.
// Settlements of one tournament are written in commit order; a tournament
// whose write keeps failing holds its later settlements until it recovers.
type Recorder struct {
	store SettlementWriter
	cfg   RecorderConfig

	mu       sync.Mutex
	pending  []settlement
	degraded map[string]bool
	onChange checkpoint.DurabilityFunc

	wake chan struct{}
}

func NewRecorder(store SettlementWriter, cfg RecorderConfig) *Recorder {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRecorderConfig().RetryDelay
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRecorderConfig().RequeueDelay
	}
	return &Recorder{
		store:    store,
		cfg:      cfg,
		degraded: make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// OnDurabilityChange registers the callback told when a tournament's
// settlement writes start failing and when they recover.
func (r *Recorder) OnDurabilityChange(fn checkpoint.DurabilityFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Commit queues the commit's settlements. It never blocks.
func (r *Recorder) Commit(_ context.Context, c engine.Commit) {
	if len(c.Settlements) == 0 {
		return
	}
	at := time.Now()
	if len(c.Events) > 0 {
		at = c.Events[len(c.Events)-1].Timestamp
	}
	r.mu.Lock()
	for _, st := range c.Settlements {
		r.pending = append(r.pending, settlement{code: c.TournamentCode, at: at, Settlement: st})
	}
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run writes queued settlements in commit order until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
			r.drain(ctx)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	var held []settlement
	blocked := make(map[string]bool)
	for _, st := range r.take() {
		if blocked[st.code] || ctx.Err() != nil {
			held = append(held, st)
			continue
		}
		if err := r.writeWithRetry(ctx, st); err != nil {
			held = append(held, st)
			if ctx.Err() != nil {
				continue
			}
			blocked[st.code] = true
			log.Error().
				Err(err).
				Str("tournament_code", st.code).
				Str("player_id", st.PlayerID).
				Str("outcome", string(st.Outcome)).
				Dur("requeue_in", r.cfg.RequeueDelay).
				Msg("settlement retries exhausted")
			r.markDegraded(st.code, true, err.Error())
			continue
		}
		r.markDegraded(st.code, false, "")
	}
	if len(held) == 0 {
		return
	}
	r.requeue(held)
	if ctx.Err() == nil {
		time.AfterFunc(r.cfg.RequeueDelay, r.signal)
	}
}

// requeue puts held back in front of anything committed meanwhile.
func (r *Recorder) requeue(held []settlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(held, r.pending...)
}

// Degraded reports whether settlements of code are waiting on a failing store.
func (r *Recorder) Degraded(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded[code]
}

func (r *Recorder) markDegraded(code string, degraded bool, detail string) {
	r.mu.Lock()
	if r.degraded[code] == degraded {
		r.mu.Unlock()
		return
	}
	r.degraded[code] = degraded
	fn := r.onChange
	r.mu.Unlock()

	if degraded {
		log.Error().Str("tournament_code", code).Str("detail", detail).Msg("settlement durability degraded")
	} else {
		log.Info().Str("tournament_code", code).Msg("settlement durability recovered")
	}
	if fn != nil {
		fn(code, degraded, detail)
	}
}

// Flush writes whatever is still queued, once.
func (r *Recorder) Flush(ctx context.Context) error {
	var failed int
	for _, st := range r.take() {
		if err := r.write(ctx, st); err != nil {
			failed++
			log.Error().Err(err).Str("player_id", st.PlayerID).Msg("final settlement write failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("flush settlements: %d failed", failed)
	}
	return nil
}

func (r *Recorder) take() []settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func (r *Recorder) writeWithRetry(ctx context.Context, st settlement) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = r.write(ctx, st); lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("player_id", st.PlayerID).Msg("settlement write failed")
	}
	return fmt.Errorf("after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

func (r *Recorder) write(ctx context.Context, st settlement) error {
	if st.Outcome == engine.OutcomeSold && st.Sale != nil {
		return r.store.RecordSale(ctx, tournament.SaleRecord{
			TournamentCode: st.code,
			PlayerID:       st.PlayerID,
			TeamID:         st.Sale.TeamID,
			Amount:         st.Sale.Amount,
			Round:          st.Sale.Round,
			Override:       st.Sale.Override,
			SoldAt:         st.Sale.SoldAt,
		})
	}
	return r.store.RecordOutcome(ctx, tournament.OutcomeRecord{
		TournamentCode: st.code,
		PlayerID:       st.PlayerID,
		Outcome:        st.Outcome,
		At:             st.at,
	})
}

var _ engine.Sink = (*Recorder)(nil)

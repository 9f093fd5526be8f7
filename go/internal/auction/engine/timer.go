package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// startCountdown sets a fresh deadline and bumps the generation, which turns
// any deadline already scheduled into a no-op.
func (tx *step) startCountdown(secs int) {
	s := tx.s
	if secs < 1 {
		secs = 1
	}
	s.Generation++
	deadline := tx.now.Add(time.Duration(secs) * time.Second)
	s.Timer = Countdown{RemainingSeconds: secs, Deadline: &deadline}
	if s.LastCall.Active {
		s.LastCall.Deadline = &deadline
	}
}

// stopCountdown clears the deadline when a player leaves the block.
func (tx *step) stopCountdown() {
	tx.s.Generation++
	tx.s.Timer = Countdown{}
}

// freezeCountdown keeps only the remaining seconds so that paused time never
// counts against the bidders.
func (tx *step) freezeCountdown() {
	s := tx.s
	if s.Timer.Deadline == nil {
		return
	}
	s.Generation++
	s.Timer = Countdown{RemainingSeconds: s.remainingSeconds(tx.now)}
	s.LastCall.Deadline = nil
}

// thawCountdown re-anchors the frozen remaining seconds at now.
func (tx *step) thawCountdown() {
	s := tx.s
	if !s.onBlock() {
		return
	}
	tx.startCountdown(s.Timer.RemainingSeconds)
}

// deadlineTimer keeps at most one armed timer per session. Expiry calls fire
// with the generation it was armed for.
type deadlineTimer struct {
	code  string
	clock Clock
	timer clockwork.Timer
	gen   uint64
	armed bool
}

func (t *deadlineTimer) arm(now, deadline time.Time, gen uint64, fire func(gen uint64)) {
	if t.armed && t.gen == gen {
		return
	}
	t.stop()

	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	t.gen = gen
	t.armed = true
	t.timer = t.clock.AfterFunc(wait, func() { fire(gen) })

	log.Debug().
		Str("tournament_code", t.code).
		Uint64("generation", gen).
		Dur("wait", wait).
		Msg("deadline armed")
}

func (t *deadlineTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}

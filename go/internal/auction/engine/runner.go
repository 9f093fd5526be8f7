package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// ErrStopped is returned for commands sent to a runner that has shut down.
var ErrStopped = errors.New("auction runner stopped")

// ErrNoSession is returned by lookups for a tournament without a live session.
var ErrNoSession = errors.New("no auction session")

const DefaultQueueSize = 64

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	QueueSize int
	Clock     Clock
	Sinks     []Sink
}

type request struct {
	cmd   Command
	reply chan Result
}

// Runner is the single writer of one session. Commands are processed strictly
// in arrival order; readers only see committed Views.
type Runner struct {
	code    string
	session *Session
	clock   Clock
	sinks   []Sink
	queue   chan request
	timer   deadlineTimer

	view atomic.Pointer[View]
	busy atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewRunner takes ownership of s.
func NewRunner(s *Session, cfg RunnerConfig) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	r := &Runner{
		code:    s.TournamentCode,
		session: s,
		clock:   cfg.Clock,
		sinks:   cfg.Sinks,
		queue:   make(chan request, cfg.QueueSize),
		timer:   deadlineTimer{code: s.TournamentCode, clock: cfg.Clock},
		done:    make(chan struct{}),
	}
	v := s.Snapshot(cfg.Clock.Now())
	r.view.Store(&v)
	return r
}

func (r *Runner) Code() string { return r.code }

// View returns the last committed snapshot.
func (r *Runner) View() View {
	return *r.view.Load()
}

// Submit queues cmd and waits for its result. A full queue is answered with a
// busy rejection straight away.
func (r *Runner) Submit(ctx context.Context, cmd Command) (Result, error) {
	select {
	case <-r.done:
		return Result{}, ErrStopped
	default:
	}

	req := request{cmd: cmd, reply: make(chan Result, 1)}
	select {
	case r.queue <- req:
	default:
		r.busy.Add(1)
		log.Warn().
			Str("tournament_code", r.code).
			Str("command", cmd.Name()).
			Msg("command queue full, rejecting")
		return Result{
			Rejection: rules.Reject(ReasonBusy, "auction is busy, try again"),
			State:     r.View(),
		}, nil
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.done:
		return Result{}, ErrStopped
	}
}

// Run processes commands until ctx is cancelled. No deadline is armed before
// the first command, so a restored session must be sent Recover first.
func (r *Runner) Run(ctx context.Context) error {
	defer r.doneOnce.Do(func() { close(r.done) })
	defer r.timer.stop()

	log.Info().
		Str("tournament_code", r.code).
		Str("status", string(r.session.Status)).
		Msg("auction runner started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("tournament_code", r.code).Msg("auction runner shutting down")
			return nil
		case req := <-r.queue:
			r.process(ctx, req)
		}
	}
}

// Done is closed once the runner has stopped.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) process(ctx context.Context, req request) {
	s := r.session
	now := r.clock.Now()

	var events []Event
	if n := r.busy.Swap(0); n > 0 {
		events = append(events, s.RecordBusy(n, now)...)
	}

	res := s.Apply(req.cmd, now)
	if res.Stale && len(events) == 0 {
		log.Debug().
			Str("tournament_code", r.code).
			Uint64("generation", s.Generation).
			Msg("stale deadline ignored")
		r.reply(req, res)
		return
	}
	events = append(events, res.Events...)

	if res.Rejection != nil {
		log.Debug().
			Str("tournament_code", r.code).
			Str("command", req.cmd.Name()).
			Str("reason", string(res.Rejection.Reason)).
			Msg("command rejected")
	}
	for _, ev := range events {
		log.Info().
			Str("tournament_code", r.code).
			Str("event", string(ev.Type)).
			Str("stage", string(ev.State.Stage)).
			Uint64("sequence", ev.Sequence).
			Msg("auction transition")
	}

	s.Project(now)
	r.armTimer()
	view := s.View(now)
	full := s.Snapshot(now)
	r.view.Store(&full)

	commit := Commit{
		Batch: Batch{
			TournamentCode: r.code,
			Events:         events,
			Snapshot:       view,
		},
		Session:     s.Clone(),
		Settlements: res.Settlements,
	}
	for _, sink := range r.sinks {
		sink.Commit(ctx, commit)
	}
	r.reply(req, res)
}

func (r *Runner) reply(req request, res Result) {
	if req.reply != nil {
		req.reply <- res
	}
}

func (r *Runner) armTimer() {
	deadline := r.session.activeDeadline()
	if deadline == nil {
		r.timer.stop()
		return
	}
	r.timer.arm(r.clock.Now(), *deadline, r.session.Generation, r.fire)
}

// fire injects a deadline into the queue. It blocks rather than dropping the
// expiry, and gives up only when the runner stops.
func (r *Runner) fire(gen uint64) {
	select {
	case r.queue <- request{cmd: Deadline{Generation: gen}}:
	case <-r.done:
	}
}

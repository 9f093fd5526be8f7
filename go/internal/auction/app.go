package auction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/checkpoint"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament"
)

// ErrNotFound is returned for tournaments without a live or checkpointed session.
var ErrNotFound = engine.ErrNoSession

// TournamentReader loads what StartAuction needs.
type TournamentReader interface {
	GetConfig(ctx context.Context, code string) (*tournament.Config, error)
	ListTeams(ctx context.Context, code string) ([]tournament.Team, error)
	ListPlayers(ctx context.Context, code string) ([]tournament.Player, error)
}

// CheckpointReader is used for recovery and for auctions no longer in memory.
type CheckpointReader interface {
	Load(ctx context.Context, code string) (*engine.Session, error)
	ListResumable(ctx context.Context) ([]*engine.Session, error)
}

type Config struct {
	QueueSize int
	// AutoResume restarts recovered Running sessions instead of pausing them.
	AutoResume       bool
	SummaryCacheSize int
	// RetireAfter is how long a completed auction keeps its runner.
	RetireAfter time.Duration
	Clock       engine.Clock
}

func DefaultConfig() Config {
	return Config{
		QueueSize:        engine.DefaultQueueSize,
		SummaryCacheSize: 128,
		RetireAfter:      10 * time.Minute,
	}
}

type entry struct {
	runner *engine.Runner
	cancel context.CancelFunc
}

// Manager owns one runner per live tournament and routes commands to it.
type Manager struct {
	tournaments TournamentReader
	checkpoints CheckpointReader
	cfg         Config
	sinks       []engine.Sink

	mu      sync.RWMutex
	runners map[string]*entry

	starting  singleflight.Group
	summaries *lru.Cache

	healthMu sync.Mutex
	failing  map[string]map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(tournaments TournamentReader, checkpoints CheckpointReader, cfg Config) (*Manager, error) {
	if cfg.SummaryCacheSize <= 0 {
		cfg.SummaryCacheSize = DefaultConfig().SummaryCacheSize
	}
	if cfg.RetireAfter <= 0 {
		cfg.RetireAfter = DefaultConfig().RetireAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	cache, err := lru.New(cfg.SummaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("summary cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tournaments: tournaments,
		checkpoints: checkpoints,
		cfg:         cfg,
		runners:     make(map[string]*entry),
		summaries:   cache,
		failing:     make(map[string]map[string]string),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Use appends sinks handed every commit, in order. It must be called before
// any runner starts.
func (m *Manager) Use(sinks ...engine.Sink) {
	m.sinks = append(m.sinks, sinks...)
}

// Close stops every runner and waits for them.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) lookup(code string) (*engine.Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runners[code]
	if !ok {
		return nil, false
	}
	return e.runner, true
}

// spawn starts a runner for s. It is not visible to lookups until register.
func (m *Manager) spawn(s *engine.Session) *entry {
	sinks := append([]engine.Sink{engine.SinkFunc(m.observe)}, m.sinks...)
	r := engine.NewRunner(s, engine.RunnerConfig{
		QueueSize: m.cfg.QueueSize,
		Clock:     m.cfg.Clock,
		Sinks:     sinks,
	})
	ctx, cancel := context.WithCancel(m.ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := r.Run(ctx); err != nil {
			log.Error().Err(err).Str("tournament_code", r.Code()).Msg("auction runner failed")
		}
	}()
	return &entry{runner: r, cancel: cancel}
}

func (m *Manager) register(code string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners[code] = e
}

func (m *Manager) retire(code string, r *engine.Runner) {
	m.mu.Lock()
	e, ok := m.runners[code]
	if !ok || e.runner != r {
		m.mu.Unlock()
		return
	}
	delete(m.runners, code)
	m.mu.Unlock()
	e.cancel()
	log.Info().Str("tournament_code", code).Msg("auction runner retired")
}

// observe caches the summary of a completed auction and schedules its runner
// to be retired. It runs as the first sink of every runner.
func (m *Manager) observe(_ context.Context, c engine.Commit) {
	for _, ev := range c.Events {
		if ev.Type != engine.EventAuctionCompleted || c.Snapshot.Summary == nil {
			continue
		}
		m.summaries.Add(c.TournamentCode, *c.Snapshot.Summary)
		code := c.TournamentCode
		if r, ok := m.lookup(code); ok {
			m.cfg.Clock.AfterFunc(m.cfg.RetireAfter, func() { m.retire(code, r) })
		}
	}
}

type prepared struct {
	runner *engine.Runner
	start  engine.StartAuction
}

// prepare loads the tournament and starts an idle runner for it. Concurrent
// callers for the same code share one load.
func (m *Manager) prepare(ctx context.Context, code string) (*prepared, error) {
	v, err, _ := m.starting.Do(code, func() (any, error) {
		cfg, err := m.tournaments.GetConfig(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("load tournament %s: %w", code, err)
		}
		rl, settings, err := cfg.Normalize()
		if err != nil {
			return nil, err
		}
		teams, err := m.tournaments.ListTeams(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("load teams of %s: %w", code, err)
		}
		players, err := m.tournaments.ListPlayers(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("load players of %s: %w", code, err)
		}

		start := engine.StartAuction{
			Rules:    rl,
			Settings: settings,
			Seed:     m.cfg.Clock.Now().UnixNano(),
		}
		for _, t := range teams {
			start.Teams = append(start.Teams, t.Wallet())
		}
		for _, p := range players {
			start.Players = append(start.Players, p.ToEngine())
		}

		if r, ok := m.lookup(code); ok {
			return &prepared{runner: r, start: start}, nil
		}
		e := m.spawn(engine.NewSession(code))
		m.register(code, e)
		return &prepared{runner: e.runner, start: start}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*prepared), nil
}

// StartAuction loads the tournament and opens its auction. Configuration
// problems come back as a config_error rejection.
func (m *Manager) StartAuction(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	if r, ok := m.lookup(code); ok && r.View().Status != engine.StatusNotStarted {
		return r.Submit(ctx, engine.StartAuction{Actor: actor})
	}
	if res, done, err := m.startedBefore(ctx, code); err != nil || done {
		return res, err
	}

	p, err := m.prepare(ctx, code)
	if err != nil {
		if errors.Is(err, tournament.ErrNotFound) {
			return engine.Result{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if errors.Is(err, rules.ErrInvalidConfig) {
			log.Warn().Err(err).Str("tournament_code", code).Msg("auction configuration rejected")
			return engine.Result{Rejection: rules.Reject(engine.ReasonConfig, "%v", err)}, nil
		}
		return engine.Result{}, err
	}

	cmd := p.start
	cmd.Actor = actor
	res, err := p.runner.Submit(ctx, cmd)
	if err != nil {
		return res, err
	}
	if res.Rejection != nil && res.Rejection.Reason == engine.ReasonConfig && p.runner.View().Status == engine.StatusNotStarted {
		m.retire(code, p.runner)
	}
	return res, nil
}

// startedBefore rejects a start for a tournament whose auction already ran
// and whose runner has since been retired.
func (m *Manager) startedBefore(ctx context.Context, code string) (engine.Result, bool, error) {
	if m.checkpoints == nil {
		return engine.Result{}, false, nil
	}
	s, err := m.checkpoints.Load(ctx, code)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return engine.Result{}, false, nil
	}
	if err != nil {
		return engine.Result{}, false, fmt.Errorf("load checkpoint of %s: %w", code, err)
	}
	if s.Status == engine.StatusNotStarted {
		return engine.Result{}, false, nil
	}
	now := m.cfg.Clock.Now()
	s.Project(now)
	return engine.Result{
		Rejection: rules.Reject(engine.ReasonInvalidStage, "auction is %s", s.Status),
		State:     s.View(now),
	}, true, nil
}

// Submit routes cmd to the tournament's runner.
func (m *Manager) Submit(ctx context.Context, code string, cmd engine.Command) (engine.Result, error) {
	r, ok := m.lookup(code)
	if !ok {
		return engine.Result{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return r.Submit(ctx, cmd)
}

func (m *Manager) PauseAuction(ctx context.Context, code string, actor engine.Actor, reason string) (engine.Result, error) {
	return m.Submit(ctx, code, engine.PauseAuction{Actor: actor, Reason: reason})
}

func (m *Manager) ResumeAuction(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return m.Submit(ctx, code, engine.ResumeAuction{Actor: actor})
}

func (m *Manager) PlaceBid(ctx context.Context, code string, actor engine.Actor, teamID string, amount int64) (engine.Result, error) {
	return m.Submit(ctx, code, engine.PlaceBid{Actor: actor, TeamID: teamID, Amount: amount})
}

func (m *Manager) ForceAdvance(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return m.Submit(ctx, code, engine.ForceAdvance{Actor: actor})
}

func (m *Manager) ManualSetWinner(ctx context.Context, code string, actor engine.Actor, teamID string, amount int64) (engine.Result, error) {
	return m.Submit(ctx, code, engine.ManualSetWinner{Actor: actor, TeamID: teamID, Amount: amount})
}

func (m *Manager) CompleteAuction(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return m.Submit(ctx, code, engine.CompleteAuction{Actor: actor})
}

func (m *Manager) StartLastCall(ctx context.Context, code string, actor engine.Actor, duration, resume int) (engine.Result, error) {
	return m.Submit(ctx, code, engine.StartLastCall{Actor: actor, DurationSeconds: duration, ResumeSeconds: resume})
}

func (m *Manager) WithdrawLastCall(ctx context.Context, code string, actor engine.Actor, timerSeconds int) (engine.Result, error) {
	return m.Submit(ctx, code, engine.WithdrawLastCall{Actor: actor, TimerSeconds: timerSeconds})
}

func (m *Manager) MarkUnsold(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return m.Submit(ctx, code, engine.MarkUnsold{Actor: actor})
}

func (m *Manager) WithdrawPlayer(ctx context.Context, code string, actor engine.Actor, playerID, reason string) (engine.Result, error) {
	return m.Submit(ctx, code, engine.WithdrawPlayer{Actor: actor, PlayerID: playerID, Reason: reason})
}

func (m *Manager) SetLock(ctx context.Context, code string, actor engine.Actor, locked bool) (engine.Result, error) {
	return m.Submit(ctx, code, engine.SetLock{Actor: actor, Locked: locked})
}

func (m *Manager) NextPlayer(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return m.Submit(ctx, code, engine.NextPlayer{Actor: actor})
}

func (m *Manager) CallPlayer(ctx context.Context, code string, actor engine.Actor, playerID string) (engine.Result, error) {
	return m.Submit(ctx, code, engine.CallPlayer{Actor: actor, PlayerID: playerID})
}

// ReinstatePlayer puts one player back into the pool, or every player with
// outcome when playerID is empty.
func (m *Manager) ReinstatePlayer(ctx context.Context, code string, actor engine.Actor, playerID string, outcome engine.Outcome) (engine.Result, error) {
	return m.Submit(ctx, code, engine.ReinstatePlayer{Actor: actor, PlayerID: playerID, Outcome: outcome})
}

func (m *Manager) AssignPending(ctx context.Context, code string, actor engine.Actor, playerID, teamID string, amount int64) (engine.Result, error) {
	return m.Submit(ctx, code, engine.AssignPending{Actor: actor, PlayerID: playerID, TeamID: teamID, Amount: amount})
}

// Snapshot returns the full view of a tournament, falling back to its last
// checkpoint once the runner is gone.
func (m *Manager) Snapshot(ctx context.Context, code string) (engine.View, error) {
	if r, ok := m.lookup(code); ok {
		return r.View(), nil
	}
	if m.checkpoints == nil {
		return engine.View{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	s, err := m.checkpoints.Load(ctx, code)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return engine.View{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return engine.View{}, err
	}
	s.Project(m.cfg.Clock.Now())
	return s.Snapshot(m.cfg.Clock.Now()), nil
}

// State is the snapshot without the audit log.
func (m *Manager) State(ctx context.Context, code string) (engine.View, error) {
	v, err := m.Snapshot(ctx, code)
	v.AuditLog = nil
	return v, err
}

// Summary returns the completion summary, or nil while the auction runs.
func (m *Manager) Summary(ctx context.Context, code string) (*engine.Summary, error) {
	if v, ok := m.summaries.Get(code); ok {
		sum := v.(engine.Summary)
		return &sum, nil
	}
	v, err := m.Snapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	if v.Summary != nil {
		m.summaries.Add(code, *v.Summary)
	}
	return v.Summary, nil
}

// ListActive lists the views of tournaments with a runner that has not
// completed, ordered by code.
func (m *Manager) ListActive(_ context.Context) ([]engine.View, error) {
	m.mu.RLock()
	views := make([]engine.View, 0, len(m.runners))
	for _, e := range m.runners {
		v := e.runner.View()
		if v.Status == engine.StatusCompleted {
			continue
		}
		v.AuditLog = nil
		v.Sales = nil
		views = append(views, v)
	}
	m.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool { return views[i].TournamentCode < views[j].TournamentCode })
	return views, nil
}

// Recover restores every resumable checkpoint. Each runner processes Recover
// before it becomes reachable, so no command can see stale deadlines.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.checkpoints == nil {
		return 0, nil
	}
	sessions, err := m.checkpoints.ListResumable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list resumable sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		code := s.TournamentCode
		if _, ok := m.lookup(code); ok {
			continue
		}
		e := m.spawn(s)
		if _, err := e.runner.Submit(ctx, engine.Recover{AutoResume: m.cfg.AutoResume}); err != nil {
			e.cancel()
			return restored, fmt.Errorf("recover %s: %w", code, err)
		}
		m.register(code, e)
		restored++

		v := e.runner.View()
		log.Info().
			Str("tournament_code", code).
			Str("status", string(v.Status)).
			Str("stage", string(v.Stage)).
			Uint64("sequence", v.Sequence).
			Msg("auction session recovered")
	}
	return restored, nil
}

// Durability sources reported to a session.
const (
	SourceCheckpoints = "checkpoints"
	SourceSettlements = "settlements"
)

// DurabilityReporter returns the callback a writer uses to report its health
// for a tournament. The session is degraded while any source is failing and
// is only told when that aggregate flips.
func (m *Manager) DurabilityReporter(source string) checkpoint.DurabilityFunc {
	return func(code string, degraded bool, detail string) {
		m.noteDurability(code, source, degraded, detail)
	}
}

func (m *Manager) noteDurability(code, source string, degraded bool, detail string) {
	m.healthMu.Lock()
	failing := m.failing[code]
	was := len(failing) > 0
	if degraded {
		if failing == nil {
			failing = make(map[string]string)
			m.failing[code] = failing
		}
		failing[source] = detail
	} else {
		delete(failing, source)
		if len(failing) == 0 {
			delete(m.failing, code)
		}
	}
	now := len(failing) > 0
	if now {
		detail = failingDetail(failing)
	}
	m.healthMu.Unlock()

	if was == now {
		return
	}
	r, ok := m.lookup(code)
	if !ok {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		if _, err := r.Submit(ctx, engine.NoteDurability{Degraded: now, Detail: detail}); err != nil {
			log.Warn().Err(err).Str("tournament_code", code).Msg("failed to record durability change")
		}
	}()
}

func failingDetail(failing map[string]string) string {
	sources := make([]string, 0, len(failing))
	for src := range failing {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, src+": "+failing[src])
	}
	return strings.Join(parts, "; ")
}

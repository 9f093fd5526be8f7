package engine

import (
	"fmt"
	"time"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// Status is the coarse lifecycle of a session. Paused overlays any stage.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// Stage is the position of the session in the bidding state machine.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageInitialize      Stage = "initialize"
	StageSelectingPlayer Stage = "selecting_player"
	StageBidding         Stage = "bidding"
	StageLastCall        Stage = "last_call"
	StageSold            Stage = "sold"
	StagePending         Stage = "pending"
	StageFinalizing      Stage = "finalizing"
)

// TimeoutAction decides what happens to a player nobody bid on.
type TimeoutAction string

const (
	TimeoutPending TimeoutAction = "pending"
	TimeoutUnsold  TimeoutAction = "unsold"
)

// Outcome is the settled state of a player. Sold is final; unsold and
// withdrawn players can be reinstated into the pool.
type Outcome string

const (
	OutcomeSold      Outcome = "sold"
	OutcomeUnsold    Outcome = "unsold"
	OutcomeWithdrawn Outcome = "withdrawn"

	// OutcomeAvailable only appears in settlements, for a player put back
	// into the pool.
	OutcomeAvailable Outcome = "available"
)

// Settings are the timing and flow knobs read at Initialize.
type Settings struct {
	TimerSeconds      int           `json:"timer_seconds"`
	LastCallSeconds   int           `json:"last_call_seconds"`
	MaxRounds         int           `json:"max_rounds"`
	AutoTimeoutAction TimeoutAction `json:"auto_timeout_action"`
	AutoAdvance       bool          `json:"auto_advance"`
	ShufflePool       bool          `json:"shuffle_pool"`
}

func DefaultSettings() Settings {
	return Settings{
		TimerSeconds:      30,
		LastCallSeconds:   10,
		MaxRounds:         2,
		AutoTimeoutAction: TimeoutPending,
		AutoAdvance:       true,
	}
}

func (s Settings) Validate() error {
	if s.TimerSeconds <= 0 {
		return fmt.Errorf("%w: timer seconds must be positive, got %d", rules.ErrInvalidConfig, s.TimerSeconds)
	}
	if s.LastCallSeconds <= 0 {
		return fmt.Errorf("%w: last call seconds must be positive, got %d", rules.ErrInvalidConfig, s.LastCallSeconds)
	}
	if s.MaxRounds < 1 {
		return fmt.Errorf("%w: max rounds must be at least 1, got %d", rules.ErrInvalidConfig, s.MaxRounds)
	}
	switch s.AutoTimeoutAction {
	case TimeoutPending, TimeoutUnsold:
	default:
		return fmt.Errorf("%w: unknown auto timeout action %q", rules.ErrInvalidConfig, s.AutoTimeoutAction)
	}
	return nil
}

// Player is an entry of the auction pool.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	BasePrice int64  `json:"base_price,omitempty"`
	Withdrawn bool   `json:"withdrawn,omitempty"`
}

// Countdown is the active deadline. Deadline is authoritative; RemainingSeconds
// is a projection, and the only value kept while paused.
type Countdown struct {
	RemainingSeconds int        `json:"remaining_seconds"`
	Deadline         *time.Time `json:"deadline,omitempty"`
}

// LastCall describes the final-call window against TeamID's rivals.
type LastCall struct {
	Active        bool       `json:"active"`
	TeamID        string     `json:"team_id,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	ResumeSeconds int        `json:"resume_seconds,omitempty"`
}

type AuditKind string

const (
	KindInfo   AuditKind = "info"
	KindBid    AuditKind = "bid"
	KindStatus AuditKind = "status"
	KindError  AuditKind = "error"
	KindSystem AuditKind = "system"
)

type AuditEntry struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Kind      AuditKind      `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Sale struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	TeamID     string    `json:"team_id"`
	TeamName   string    `json:"team_name"`
	Amount     int64     `json:"amount"`
	Round      int       `json:"round"`
	Override   bool      `json:"override,omitempty"`
	SoldAt     time.Time `json:"sold_at"`
}

// Session is the authoritative state of one tournament's auction. It is owned
// by a single Runner goroutine; everything else works on clones or Views.
type Session struct {
	TournamentCode string      `json:"tournament_code"`
	Status         Status      `json:"status"`
	Stage          Stage       `json:"stage"`
	Rules          rules.Rules `json:"rules"`
	Settings       Settings    `json:"settings"`

	CurrentPlayerID     string    `json:"current_player_id,omitempty"`
	CurrentBid          int64     `json:"current_bid"`
	HighestBidderTeamID string    `json:"highest_bidder_team_id,omitempty"`
	BidCount            int       `json:"bid_count"`
	Timer               Countdown `json:"timer"`
	LastCall            LastCall  `json:"last_call"`
	Generation          uint64    `json:"generation"`

	Pool         []string `json:"pool"`
	PendingQueue []string `json:"pending_queue"`
	CurrentRound int      `json:"current_round"`
	MaxRounds    int      `json:"max_rounds"`
	ShuffleSeed  int64    `json:"shuffle_seed,omitempty"`

	Players   map[string]Player       `json:"players"`
	Teams     map[string]rules.Wallet `json:"teams"`
	TeamOrder []string                `json:"team_order"`
	Outcomes  map[string]Outcome      `json:"outcomes"`
	Sales     []Sale                  `json:"sales"`

	AuditLog         []AuditEntry `json:"audit_log"`
	Sequence         uint64       `json:"sequence"`
	IsLocked         bool         `json:"is_locked"`
	Degraded         bool         `json:"degraded,omitempty"`
	RejectedCommands int          `json:"rejected_commands"`
	BusyRejections   int64        `json:"busy_rejections"`

	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CompletedSummary *Summary   `json:"completed_summary,omitempty"`
}

// NewSession returns an idle session that has not been started.
func NewSession(code string) *Session {
	return &Session{
		TournamentCode: code,
		Status:         StatusNotStarted,
		Stage:          StageIdle,
		Players:        map[string]Player{},
		Teams:          map[string]rules.Wallet{},
		Outcomes:       map[string]Outcome{},
	}
}

// Clone deep-copies everything the writer may mutate later.
func (s *Session) Clone() *Session {
	c := *s
	c.Pool = append([]string(nil), s.Pool...)
	c.PendingQueue = append([]string(nil), s.PendingQueue...)
	c.TeamOrder = append([]string(nil), s.TeamOrder...)
	c.Sales = append([]Sale(nil), s.Sales...)
	c.AuditLog = append([]AuditEntry(nil), s.AuditLog...)
	c.Rules.Increment.Ranges = append([]rules.SlabRange(nil), s.Rules.Increment.Ranges...)

	c.Players = make(map[string]Player, len(s.Players))
	for k, v := range s.Players {
		c.Players[k] = v
	}
	c.Teams = make(map[string]rules.Wallet, len(s.Teams))
	for k, v := range s.Teams {
		c.Teams[k] = v
	}
	c.Outcomes = make(map[string]Outcome, len(s.Outcomes))
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	if s.CompletedSummary != nil {
		sum := s.CompletedSummary.clone()
		c.CompletedSummary = &sum
	}
	return &c
}

// Resumable reports whether a checkpoint of this session should be restored.
func (s *Session) Resumable() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

func (s *Session) onBlock() bool {
	return s.Stage == StageBidding || s.Stage == StageLastCall
}

func (s *Session) lot() rules.Lot {
	lot := rules.Lot{
		InBidding:     s.Status == StatusRunning && s.onBlock(),
		CurrentBid:    s.CurrentBid,
		HighestBidder: s.HighestBidderTeamID,
		BidCount:      s.BidCount,
	}
	if p, ok := s.Players[s.CurrentPlayerID]; ok {
		lot.OpeningPrice = s.Rules.OpeningPrice(p.BasePrice)
	}
	return lot
}

// NextAmount is the only bid the session would accept right now, or 0.
func (s *Session) NextAmount() int64 {
	lot := s.lot()
	if !lot.InBidding {
		return 0
	}
	return rules.NextAmount(s.Rules.Increment, lot)
}

// remainingSeconds rounds the time left up to whole seconds.
func (s *Session) remainingSeconds(now time.Time) int {
	if s.Timer.Deadline == nil {
		return s.Timer.RemainingSeconds
	}
	left := s.Timer.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

// Project refreshes derived fields before the session is checkpointed.
func (s *Session) Project(now time.Time) {
	if s.Timer.Deadline != nil {
		s.Timer.RemainingSeconds = s.remainingSeconds(now)
	}
}

// activeDeadline is the deadline a timer must be armed for, if any.
func (s *Session) activeDeadline() *time.Time {
	if s.Status != StatusRunning || !s.onBlock() {
		return nil
	}
	return s.Timer.Deadline
}

func (s *Session) teamName(id string) string {
	if w, ok := s.Teams[id]; ok && w.Name != "" {
		return w.Name
	}
	return id
}

func (s *Session) playerName(id string) string {
	if p, ok := s.Players[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}

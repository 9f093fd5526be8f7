package engine

import (
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// Role is the kind of client issuing a command.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeam    Role = "team"
	RoleDisplay Role = "display"
)

// Actor identifies who issued a command. TeamID is set for team clients.
type Actor struct {
	Role   Role   `json:"role"`
	TeamID string `json:"team_id,omitempty"`
}

// Engine-level rejection reasons, next to the validator's.
const (
	ReasonInvalidStage  rules.Reason = "invalid_stage_for_command"
	ReasonLocked        rules.Reason = "auction_locked"
	ReasonBusy          rules.Reason = "busy"
	ReasonForbidden     rules.Reason = "role_forbidden"
	ReasonInvalidAmount rules.Reason = "invalid_amount"
	ReasonConfig        rules.Reason = "config_error"
	ReasonUnknownPlayer rules.Reason = "player_not_found"
)

// Command is anything the session writer can process.
type Command interface {
	Name() string
}

// StartAuction carries everything Initialize needs, loaded by the caller
// before the command is queued.
type StartAuction struct {
	Actor    Actor
	Rules    rules.Rules
	Settings Settings
	Players  []Player
	Teams    []rules.Wallet
	Seed     int64
}

type PauseAuction struct {
	Actor  Actor
	Reason string
}

type ResumeAuction struct {
	Actor Actor
}

type PlaceBid struct {
	Actor  Actor
	TeamID string
	Amount int64
}

// ForceAdvance sends the player on the block to the pending queue.
type ForceAdvance struct {
	Actor Actor
}

// ManualSetWinner sells the current player without bid validation. The fund
// cap still applies.
type ManualSetWinner struct {
	Actor  Actor
	TeamID string
	Amount int64
}

type CompleteAuction struct {
	Actor Actor
}

// StartLastCall opens last call before the bidding timer runs out.
type StartLastCall struct {
	Actor           Actor
	DurationSeconds int
	ResumeSeconds   int
}

// WithdrawLastCall returns to bidding with TimerSeconds, or the stored resume value.
type WithdrawLastCall struct {
	Actor        Actor
	TimerSeconds int
}

type MarkUnsold struct {
	Actor Actor
}

type WithdrawPlayer struct {
	Actor    Actor
	PlayerID string
	Reason   string
}

type SetLock struct {
	Actor  Actor
	Locked bool
}

// NextPlayer calls the next player when auto advance is off.
type NextPlayer struct {
	Actor Actor
}

// CallPlayer puts a specific pool or pending player on the block. A player
// still waiting for an opening bid goes back to the front of the pool.
type CallPlayer struct {
	Actor    Actor
	PlayerID string
}

// ReinstatePlayer puts an unsold, withdrawn or pending player back into the
// pool. With an empty PlayerID every player with Outcome is reinstated.
type ReinstatePlayer struct {
	Actor    Actor
	PlayerID string
	Outcome  Outcome
}

// AssignPending sells a pending player straight to a team. The fund cap and
// roster size still apply.
type AssignPending struct {
	Actor    Actor
	PlayerID string
	TeamID   string
	Amount   int64
}

// Deadline is injected by the timer. It only applies to its own generation.
type Deadline struct {
	Generation uint64
}

// Recover is the first command of a session loaded from a checkpoint.
type Recover struct {
	AutoResume bool
}

// NoteDurability records a change in checkpoint or settlement store health.
type NoteDurability struct {
	Degraded bool
	Detail   string
}

func (StartAuction) Name() string     { return "start_auction" }
func (PauseAuction) Name() string     { return "pause_auction" }
func (ResumeAuction) Name() string    { return "resume_auction" }
func (PlaceBid) Name() string         { return "place_bid" }
func (ForceAdvance) Name() string     { return "force_advance" }
func (ManualSetWinner) Name() string  { return "manual_set_winner" }
func (CompleteAuction) Name() string  { return "complete_auction" }
func (StartLastCall) Name() string    { return "start_last_call" }
func (WithdrawLastCall) Name() string { return "withdraw_last_call" }
func (MarkUnsold) Name() string       { return "mark_unsold" }
func (WithdrawPlayer) Name() string   { return "withdraw_player" }
func (SetLock) Name() string          { return "set_lock" }
func (NextPlayer) Name() string       { return "next_player" }
func (CallPlayer) Name() string       { return "call_player" }
func (ReinstatePlayer) Name() string  { return "reinstate_player" }
func (AssignPending) Name() string    { return "assign_pending" }
func (Deadline) Name() string         { return "deadline" }
func (Recover) Name() string          { return "recover" }
func (NoteDurability) Name() string   { return "note_durability" }

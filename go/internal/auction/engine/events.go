package engine

import (
	"context"
	"time"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// EventType names a committed transition.
type EventType string

const (
	EventSnapshot           EventType = "snapshot"
	EventAuctionStarted     EventType = "auction_started"
	EventPlayerOnBlock      EventType = "player_on_block"
	EventBidAccepted        EventType = "bid_accepted"
	EventLastCallStarted    EventType = "last_call_started"
	EventLastCallWithdrawn  EventType = "last_call_withdrawn"
	EventPlayerSold         EventType = "player_sold"
	EventPlayerPending      EventType = "player_pending"
	EventPlayerUnsold       EventType = "player_unsold"
	EventPlayerWithdrawn    EventType = "player_withdrawn"
	EventPlayerReturned     EventType = "player_returned"
	EventPlayersReinstated  EventType = "players_reinstated"
	EventRoundStarted       EventType = "round_started"
	EventAwaitingNextPlayer EventType = "awaiting_next_player"
	EventAuctionPaused      EventType = "auction_paused"
	EventAuctionResumed     EventType = "auction_resumed"
	EventLockChanged        EventType = "lock_changed"
	EventAuctionFinalizing  EventType = "auction_finalizing"
	EventAuctionCompleted   EventType = "auction_completed"
	EventDurabilityChanged  EventType = "durability_changed"
	EventSessionRestored    EventType = "session_restored"
	EventCommandsDropped    EventType = "commands_dropped"
)

// Event is one committed transition as seen by subscribers.
type Event struct {
	ID             string      `json:"id"`
	Sequence       uint64      `json:"sequence"`
	TournamentCode string      `json:"tournament_code"`
	Type           EventType   `json:"type"`
	Timestamp      time.Time   `json:"timestamp"`
	State          View        `json:"state"`
	Audit          *AuditEntry `json:"audit,omitempty"`
}

type PlayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	OpeningPrice int64  `json:"opening_price"`
}

type TeamView struct {
	rules.Wallet
	Remaining int64 `json:"remaining"`
	MaxBid    int64 `json:"max_bid"`
}

// View is the read-only projection of a session. Snapshots additionally carry
// the audit log and sales.
type View struct {
	TournamentCode      string         `json:"tournament_code"`
	Status              Status         `json:"status"`
	Stage               Stage          `json:"stage"`
	CurrentPlayer       *PlayerView    `json:"current_player,omitempty"`
	CurrentBid          int64          `json:"current_bid"`
	HighestBidderTeamID string         `json:"highest_bidder_team_id,omitempty"`
	HighestBidderName   string         `json:"highest_bidder_name,omitempty"`
	NextAmount          int64          `json:"next_amount,omitempty"`
	BidCount            int            `json:"bid_count"`
	BidLimit            rules.BidLimit `json:"bid_limit"`
	TimerSeconds        int            `json:"timer_seconds"`
	Deadline            *time.Time     `json:"deadline,omitempty"`
	LastCall            LastCall       `json:"last_call"`
	CurrentRound        int            `json:"current_round"`
	MaxRounds           int            `json:"max_rounds"`
	PendingQueue        []string       `json:"pending_queue"`
	PoolRemaining       int            `json:"pool_remaining"`
	IsLocked            bool           `json:"is_locked"`
	Degraded            bool           `json:"degraded,omitempty"`
	Teams               []TeamView     `json:"teams"`
	Generation          uint64         `json:"generation"`
	Sequence            uint64         `json:"sequence"`
	ServerTime          time.Time      `json:"server_time"`
	Summary             *Summary       `json:"summary,omitempty"`

	AuditLog []AuditEntry `json:"audit_log,omitempty"`
	Sales    []Sale       `json:"sales,omitempty"`
}

// View projects the session at now without the audit log.
func (s *Session) View(now time.Time) View {
	v := View{
		TournamentCode:      s.TournamentCode,
		Status:              s.Status,
		Stage:               s.Stage,
		CurrentBid:          s.CurrentBid,
		HighestBidderTeamID: s.HighestBidderTeamID,
		NextAmount:          s.NextAmount(),
		BidCount:            s.BidCount,
		BidLimit:            s.Rules.BidLimit,
		TimerSeconds:        s.remainingSeconds(now),
		Deadline:            s.Timer.Deadline,
		LastCall:            s.LastCall,
		CurrentRound:        s.CurrentRound,
		MaxRounds:           s.MaxRounds,
		PendingQueue:        append([]string{}, s.PendingQueue...),
		PoolRemaining:       len(s.Pool),
		IsLocked:            s.IsLocked,
		Degraded:            s.Degraded,
		Generation:          s.Generation,
		Sequence:            s.Sequence,
		ServerTime:          now,
		Summary:             s.CompletedSummary,
	}
	if s.HighestBidderTeamID != "" {
		v.HighestBidderName = s.teamName(s.HighestBidderTeamID)
	}
	if p, ok := s.Players[s.CurrentPlayerID]; ok {
		v.CurrentPlayer = &PlayerView{
			ID:           p.ID,
			Name:         p.Name,
			Role:         p.Role,
			OpeningPrice: s.Rules.OpeningPrice(p.BasePrice),
		}
	}
	v.Teams = make([]TeamView, 0, len(s.TeamOrder))
	for _, id := range s.TeamOrder {
		w := s.Teams[id]
		v.Teams = append(v.Teams, TeamView{
			Wallet:    w,
			Remaining: w.Remaining(),
			MaxBid:    w.MaxBid(s.Rules.BasePrice, s.Rules.ReserveForEmptySlots),
		})
	}
	return v
}

// Snapshot is the full view sent to a subscriber when it (re)joins.
func (s *Session) Snapshot(now time.Time) View {
	v := s.View(now)
	v.AuditLog = append([]AuditEntry{}, s.AuditLog...)
	v.Sales = append([]Sale{}, s.Sales...)
	return v
}

// Settlement is a player reaching a terminal outcome in a commit.
type Settlement struct {
	PlayerID string  `json:"player_id"`
	Outcome  Outcome `json:"outcome"`
	Sale     *Sale   `json:"sale,omitempty"`
}

// Batch is the unit fanned out to subscribers: the events of one commit in
// order, plus the view right after it.
type Batch struct {
	TournamentCode string  `json:"tournament_code"`
	Events         []Event `json:"events"`
	Snapshot       View    `json:"snapshot"`
}

// Commit is handed to every Sink after the writer applied a command.
type Commit struct {
	Batch
	Session     *Session
	Settlements []Settlement
}

// Sink consumes commits. Commit is called from the writer goroutine and must
// not block on I/O.
type Sink interface {
	Commit(ctx context.Context, c Commit)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Commit)

func (f SinkFunc) Commit(ctx context.Context, c Commit) { f(ctx, c) }

package tournament

import (
	"time"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

// Team is a franchise registered for a tournament auction.
type Team struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Spent         int64  `json:"spent" yaml:"spent"`
	RosterCount   int    `json:"rosterCount" yaml:"rosterCount"`
	MaxRosterSize int    `json:"maxRosterSize" yaml:"maxRosterSize"`
}

// Player is an entry of the tournament player pool.
type Player struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Role      string `json:"role,omitempty" yaml:"role,omitempty"`
	BasePrice *int64 `json:"basePrice,omitempty" yaml:"basePrice,omitempty"`
	Withdrawn bool   `json:"withdrawn,omitempty" yaml:"withdrawn,omitempty"`
}

// ToEngine converts the stored player into the engine's pool entry.
func (p Player) ToEngine() engine.Player {
	ep := engine.Player{
		ID:        p.ID,
		Name:      p.Name,
		Role:      p.Role,
		Withdrawn: p.Withdrawn,
	}
	if p.BasePrice != nil {
		ep.BasePrice = *p.BasePrice
	}
	return ep
}

// Config is the tournament document as it is stored. Older documents carry
// different field sets; Normalize turns any of them into typed rules.
type Config struct {
	Code     string           `json:"code" yaml:"code"`
	Name     string           `json:"name" yaml:"name"`
	Rules    AuctionRules     `json:"auctionRules" yaml:"auctionRules"`
	Advanced AdvancedSettings `json:"auctionAdvancedSettings" yaml:"auctionAdvancedSettings"`
}

type AuctionRules struct {
	Type                 string        `json:"type,omitempty" yaml:"type,omitempty"`
	FixedIncrement       int64         `json:"fixedIncrement,omitempty" yaml:"fixedIncrement,omitempty"`
	Ranges               []RangeConfig `json:"ranges,omitempty" yaml:"ranges,omitempty"`
	BidLimitMode         string        `json:"bidLimitMode,omitempty" yaml:"bidLimitMode,omitempty"`
	BidLimitCount        *int          `json:"bidLimitCount,omitempty" yaml:"bidLimitCount,omitempty"`
	MaxBidsPerPlayer     *int          `json:"maxBidsPerPlayer,omitempty" yaml:"maxBidsPerPlayer,omitempty"`
	BaseValueOfPlayer    int64         `json:"baseValueOfPlayer,omitempty" yaml:"baseValueOfPlayer,omitempty"`
	MaxFundForTeam       int64         `json:"maxFundForTeam,omitempty" yaml:"maxFundForTeam,omitempty"`
	ReserveForEmptySlots bool          `json:"reserveForEmptySlots,omitempty" yaml:"reserveForEmptySlots,omitempty"`
}

type RangeConfig struct {
	From      int64 `json:"from" yaml:"from"`
	To        int64 `json:"to" yaml:"to"`
	Increment int64 `json:"increment" yaml:"increment"`
}

// AdvancedSettings holds the optional timing knobs. Unset values fall back to
// engine defaults; set but invalid values are rejected.
type AdvancedSettings struct {
	TimerSeconds         *int   `json:"timerSeconds,omitempty" yaml:"timerSeconds,omitempty"`
	LastCallTimerSeconds *int   `json:"lastCallTimerSeconds,omitempty" yaml:"lastCallTimerSeconds,omitempty"`
	AutoTimeoutAction    string `json:"autoTimeoutAction,omitempty" yaml:"autoTimeoutAction,omitempty"`
	AutoNextEnabled      *bool  `json:"autoNextEnabled,omitempty" yaml:"autoNextEnabled,omitempty"`
	MaxRounds            *int   `json:"maxRounds,omitempty" yaml:"maxRounds,omitempty"`
	ShufflePool          bool   `json:"shufflePool,omitempty" yaml:"shufflePool,omitempty"`
}

// SaleRecord is written back to the store once a sale is committed.
type SaleRecord struct {
	TournamentCode string    `json:"tournamentCode"`
	PlayerID       string    `json:"playerId"`
	TeamID         string    `json:"teamId"`
	Amount         int64     `json:"amount"`
	Round          int       `json:"round"`
	Override       bool      `json:"override"`
	SoldAt         time.Time `json:"soldAt"`
}

// OutcomeRecord marks a player unsold or withdrawn, or available again after
// an operator put it back into the pool.
type OutcomeRecord struct {
	TournamentCode string         `json:"tournamentCode"`
	PlayerID       string         `json:"playerId"`
	Outcome        engine.Outcome `json:"outcome"`
	At             time.Time      `json:"at"`
}

package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

type Tournament struct {
	Code             string                `json:"code"`
	Name             string                `json:"name"`
	AuctionRules     json.RawMessage       `json:"auction_rules"`
	AdvancedSettings pqtype.NullRawMessage `json:"advanced_settings"`
	CreatedAt        time.Time             `json:"created_at"`
}

type AuctionTeam struct {
	TournamentCode string `json:"tournament_code"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	Spent          int64  `json:"spent"`
	RosterCount    int32  `json:"roster_count"`
	MaxRosterSize  int32  `json:"max_roster_size"`
}

type AuctionPlayer struct {
	TournamentCode string         `json:"tournament_code"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Role           sql.NullString `json:"role"`
	BasePrice      sql.NullInt64  `json:"base_price"`
	Withdrawn      bool           `json:"withdrawn"`
	SortOrder      int32          `json:"sort_order"`
	AuctionStatus  string         `json:"auction_status"`
	SoldTo         sql.NullString `json:"sold_to"`
	SoldPrice      sql.NullInt64  `json:"sold_price"`
	SoldRound      sql.NullInt32  `json:"sold_round"`
	SettledAt      sql.NullTime   `json:"settled_at"`
}

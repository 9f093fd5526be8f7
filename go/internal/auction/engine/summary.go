package engine

import (
	"time"
)

type TeamSpend struct {
	TeamID      string `json:"team_id"`
	Name        string `json:"name"`
	Spent       int64  `json:"spent"`
	PlayersWon  int    `json:"players_won"`
	Remaining   int64  `json:"remaining"`
	RosterCount int    `json:"roster_count"`
}

// Summary is computed once when the auction completes and never changes.
type Summary struct {
	TotalTeams               int         `json:"total_teams"`
	TotalPlayers             int         `json:"total_players"`
	PlayersSold              int         `json:"players_sold"`
	UnsoldPlayers            int         `json:"unsold_players"`
	WithdrawnPlayers         int         `json:"withdrawn_players"`
	PendingConvertedToUnsold int         `json:"pending_converted_to_unsold"`
	TotalSpend               int64       `json:"total_spend"`
	TopSale                  *Sale       `json:"top_sale,omitempty"`
	Teams                    []TeamSpend `json:"teams"`
	Rounds                   int         `json:"rounds"`
	RejectedCommands         int         `json:"rejected_commands"`
	BusyRejections           int64       `json:"busy_rejections"`
	StartedAt                *time.Time  `json:"started_at,omitempty"`
	CompletedAt              time.Time   `json:"completed_at"`
}

func (s *Session) buildSummary(now time.Time, pendingConverted int) Summary {
	sum := Summary{
		TotalTeams:               len(s.Teams),
		TotalPlayers:             len(s.Players),
		PendingConvertedToUnsold: pendingConverted,
		Rounds:                   s.CurrentRound,
		RejectedCommands:         s.RejectedCommands,
		BusyRejections:           s.BusyRejections,
		StartedAt:                s.StartedAt,
		CompletedAt:              now,
	}
	for _, o := range s.Outcomes {
		switch o {
		case OutcomeSold:
			sum.PlayersSold++
		case OutcomeUnsold:
			sum.UnsoldPlayers++
		case OutcomeWithdrawn:
			sum.WithdrawnPlayers++
		}
	}

	spent := make(map[string]int64, len(s.Teams))
	won := make(map[string]int, len(s.Teams))
	for i := range s.Sales {
		sale := s.Sales[i]
		sum.TotalSpend += sale.Amount
		spent[sale.TeamID] += sale.Amount
		won[sale.TeamID]++
		if sum.TopSale == nil || sale.Amount > sum.TopSale.Amount {
			top := sale
			sum.TopSale = &top
		}
	}
	for _, id := range s.TeamOrder {
		w := s.Teams[id]
		sum.Teams = append(sum.Teams, TeamSpend{
			TeamID:      id,
			Name:        w.Name,
			Spent:       spent[id],
			PlayersWon:  won[id],
			Remaining:   w.Remaining(),
			RosterCount: w.RosterCount,
		})
	}
	return sum
}

func (s Summary) clone() Summary {
	c := s
	c.Teams = append([]TeamSpend(nil), s.Teams...)
	if s.TopSale != nil {
		top := *s.TopSale
		c.TopSale = &top
	}
	return c
}

package db

import (
	"context"
	"database/sql"
)

const getTournament = `-- name: GetTournament :one
SELECT code, name, auction_rules, advanced_settings, created_at FROM tournaments
WHERE code = $1
`

func (q *Queries) GetTournament(ctx context.Context, code string) (Tournament, error) {
	row := q.db.QueryRowContext(ctx, getTournament, code)
	var i Tournament
	err := row.Scan(
		&i.Code,
		&i.Name,
		&i.AuctionRules,
		&i.AdvancedSettings,
		&i.CreatedAt,
	)
	return i, err
}

const listTeams = `-- name: ListTeams :many
SELECT tournament_code, id, name, spent, roster_count, max_roster_size FROM auction_teams
WHERE tournament_code = $1
ORDER BY name
`

func (q *Queries) ListTeams(ctx context.Context, tournamentCode string) ([]AuctionTeam, error) {
	rows, err := q.db.QueryContext(ctx, listTeams, tournamentCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuctionTeam
	for rows.Next() {
		var i AuctionTeam
		if err := rows.Scan(
			&i.TournamentCode,
			&i.ID,
			&i.Name,
			&i.Spent,
			&i.RosterCount,
			&i.MaxRosterSize,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPlayers = `-- name: ListPlayers :many
SELECT tournament_code, id, name, role, base_price, withdrawn, sort_order, auction_status, sold_to, sold_price, sold_round, settled_at FROM auction_players
WHERE tournament_code = $1
ORDER BY sort_order, id
`

func (q *Queries) ListPlayers(ctx context.Context, tournamentCode string) ([]AuctionPlayer, error) {
	rows, err := q.db.QueryContext(ctx, listPlayers, tournamentCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuctionPlayer
	for rows.Next() {
		var i AuctionPlayer
		if err := rows.Scan(
			&i.TournamentCode,
			&i.ID,
			&i.Name,
			&i.Role,
			&i.BasePrice,
			&i.Withdrawn,
			&i.SortOrder,
			&i.AuctionStatus,
			&i.SoldTo,
			&i.SoldPrice,
			&i.SoldRound,
			&i.SettledAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markPlayerSold = `-- name: MarkPlayerSold :execrows
UPDATE auction_players
SET auction_status = 'sold',
    sold_to = $3,
    sold_price = $4,
    sold_round = $5,
    settled_at = $6
WHERE tournament_code = $1 AND id = $2 AND auction_status <> 'sold'
`

type MarkPlayerSoldParams struct {
	TournamentCode string        `json:"tournament_code"`
	ID             string        `json:"id"`
	SoldTo         string        `json:"sold_to"`
	SoldPrice      int64         `json:"sold_price"`
	SoldRound      sql.NullInt32 `json:"sold_round"`
	SettledAt      sql.NullTime  `json:"settled_at"`
}

func (q *Queries) MarkPlayerSold(ctx context.Context, arg MarkPlayerSoldParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markPlayerSold,
		arg.TournamentCode,
		arg.ID,
		arg.SoldTo,
		arg.SoldPrice,
		arg.SoldRound,
		arg.SettledAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const addTeamSpend = `-- name: AddTeamSpend :execrows
UPDATE auction_teams
SET spent = spent + $3,
    roster_count = roster_count + 1
WHERE tournament_code = $1 AND id = $2
`

type AddTeamSpendParams struct {
	TournamentCode string `json:"tournament_code"`
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
}

func (q *Queries) AddTeamSpend(ctx context.Context, arg AddTeamSpendParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, addTeamSpend, arg.TournamentCode, arg.ID, arg.Amount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setPlayerOutcome = `-- name: SetPlayerOutcome :execrows
UPDATE auction_players
SET auction_status = $3,
    withdrawn = ($3 = 'withdrawn'),
    settled_at = $4
WHERE tournament_code = $1 AND id = $2 AND auction_status <> 'sold'
`

type SetPlayerOutcomeParams struct {
	TournamentCode string       `json:"tournament_code"`
	ID             string       `json:"id"`
	AuctionStatus  string       `json:"auction_status"`
	SettledAt      sql.NullTime `json:"settled_at"`
}

func (q *Queries) SetPlayerOutcome(ctx context.Context, arg SetPlayerOutcomeParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setPlayerOutcome,
		arg.TournamentCode,
		arg.ID,
		arg.AuctionStatus,
		arg.SettledAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

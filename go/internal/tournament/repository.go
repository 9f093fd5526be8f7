package tournament

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/sqlutil"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament/db"
)

// Querier defines what the repository reads outside of transactions.
type Querier interface {
	GetTournament(ctx context.Context, code string) (db.Tournament, error)
	ListTeams(ctx context.Context, tournamentCode string) ([]db.AuctionTeam, error)
	ListPlayers(ctx context.Context, tournamentCode string) ([]db.AuctionPlayer, error)
}

// Repository is the Postgres Store, on database/sql with lib/pq.
type Repository struct {
	db      *sql.DB
	queries Querier
}

// NewRepository creates a repository over an open lib/pq connection.
func NewRepository(conn *sql.DB) *Repository {
	return &Repository{
		db:      conn,
		queries: db.New(conn),
	}
}

// GetConfig loads the tournament document.
func (r *Repository) GetConfig(ctx context.Context, code string) (*Config, error) {
	row, err := r.queries.GetTournament(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}

	cfg := Config{Code: row.Code, Name: row.Name}
	if err := json.Unmarshal(row.AuctionRules, &cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode auction rules for %s: %w", code, err)
	}
	if row.AdvancedSettings.Valid {
		if err := json.Unmarshal(row.AdvancedSettings.RawMessage, &cfg.Advanced); err != nil {
			return nil, fmt.Errorf("failed to decode advanced settings for %s: %w", code, err)
		}
	}
	return &cfg, nil
}

// ListTeams retrieves the teams registered for a tournament
func (r *Repository) ListTeams(ctx context.Context, code string) ([]Team, error) {
	rows, err := r.queries.ListTeams(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	teams := make([]Team, len(rows))
	for i, row := range rows {
		teams[i] = Team{
			ID:            row.ID,
			Name:          row.Name,
			Spent:         row.Spent,
			RosterCount:   int(row.RosterCount),
			MaxRosterSize: int(row.MaxRosterSize),
		}
	}
	return teams, nil
}

// ListPlayers retrieves the player pool in auction order. Players already sold
// in an earlier session are reported as withdrawn so they are never offered.
func (r *Repository) ListPlayers(ctx context.Context, code string) ([]Player, error) {
	rows, err := r.queries.ListPlayers(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	players := make([]Player, len(rows))
	for i, row := range rows {
		players[i] = Player{
			ID:        row.ID,
			Name:      row.Name,
			Role:      sqlutil.FromSqlString(row.Role, ""),
			BasePrice: sqlutil.FromSqlInt64Ptr(row.BasePrice),
			Withdrawn: row.Withdrawn || row.AuctionStatus == "sold",
		}
	}
	return players, nil
}

// RecordSale marks the player sold and charges the team in one transaction.
// A player that is already sold is left untouched.
func (r *Repository) RecordSale(ctx context.Context, sale SaleRecord) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *db.Queries { return db.New(tx) }, func(q *db.Queries) error {
		n, err := q.MarkPlayerSold(ctx, db.MarkPlayerSoldParams{
			TournamentCode: sale.TournamentCode,
			ID:             sale.PlayerID,
			SoldTo:         sale.TeamID,
			SoldPrice:      sale.Amount,
			SoldRound:      sqlutil.ToSqlInt32Direct(sale.Round),
			SettledAt:      sqlutil.ToSqlTimeDirect(sale.SoldAt),
		})
		if err != nil {
			return fmt.Errorf("failed to mark player sold: %w", err)
		}
		if n == 0 {
			return nil
		}
		n, err = q.AddTeamSpend(ctx, db.AddTeamSpendParams{
			TournamentCode: sale.TournamentCode,
			ID:             sale.TeamID,
			Amount:         sale.Amount,
		})
		if err != nil {
			return fmt.Errorf("failed to charge team: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: team %s", ErrNotFound, sale.TeamID)
		}
		return nil
	})
}

// RecordOutcome stores an unsold or withdrawn result. An available outcome
// puts the player back into the pool and clears the settlement time.
func (r *Repository) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	settledAt := sqlutil.ToSqlTimeDirect(rec.At)
	if rec.Outcome == engine.OutcomeAvailable {
		settledAt = sql.NullTime{}
	}
	_, err := db.New(r.db).SetPlayerOutcome(ctx, db.SetPlayerOutcomeParams{
		TournamentCode: rec.TournamentCode,
		ID:             rec.PlayerID,
		AuctionStatus:  string(rec.Outcome),
		SettledAt:      settledAt,
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

var _ Store = (*Repository)(nil)

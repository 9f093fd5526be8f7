package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/dbconfig"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament/db"
)

// seed_auction loads a YAML fixture into Postgres. Tournaments, teams and
// players are upserted; settled players keep their outcome.
func main() {
	ctx := context.Background()

	path := "go/internal/assets/auction_fixture.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load and validate the fixture
	fx, err := tournament.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect to DB
	cfg, err := dbconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "db config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Seed each tournament in its own transaction
	failed := 0
	for _, t := range fx.Tournaments {
		teams, players, err := seedTournament(ctx, pool, t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed %s: %v\n", t.Code, err)
			failed++
			continue
		}
		fmt.Printf("Tournament %s: teams=%d players=%d\n", t.Code, teams, players)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func seedTournament(ctx context.Context, pool *pgxpool.Pool, t tournament.TournamentFixture) (int, int, error) {
	rules, err := json.Marshal(t.Rules)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal rules: %w", err)
	}
	settings, err := json.Marshal(t.Advanced)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal settings: %w", err)
	}

	var teams, players int
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO tournaments (code, name, auction_rules, advanced_settings)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (code) DO UPDATE
            SET name = EXCLUDED.name,
                auction_rules = EXCLUDED.auction_rules,
                advanced_settings = EXCLUDED.advanced_settings
        `, t.Code, t.Name, rules, settings); err != nil {
			return fmt.Errorf("upsert tournament: %w", err)
		}

		for _, team := range t.Teams {
			tag, err := tx.Exec(ctx, `
                INSERT INTO auction_teams (tournament_code, id, name, max_roster_size)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (tournament_code, id) DO UPDATE
                SET name = EXCLUDED.name,
                    max_roster_size = EXCLUDED.max_roster_size
            `, t.Code, team.ID, team.Name, team.MaxRosterSize)
			if err != nil {
				return fmt.Errorf("upsert team %s: %w", team.ID, err)
			}
			teams += int(tag.RowsAffected())
		}

		for i, p := range t.Players {
			tag, err := tx.Exec(ctx, `
                INSERT INTO auction_players (tournament_code, id, name, role, base_price, withdrawn, sort_order)
                VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
                ON CONFLICT (tournament_code, id) DO UPDATE
                SET name = EXCLUDED.name,
                    role = EXCLUDED.role,
                    base_price = EXCLUDED.base_price,
                    withdrawn = EXCLUDED.withdrawn,
                    sort_order = EXCLUDED.sort_order
                WHERE auction_players.auction_status = 'available'
            `, t.Code, p.ID, p.Name, p.Role, p.BasePrice, p.Withdrawn, i)
			if err != nil {
				return fmt.Errorf("upsert player %s: %w", p.ID, err)
			}
			players += int(tag.RowsAffected())
		}
		return nil
	})
	return teams, players, err
}

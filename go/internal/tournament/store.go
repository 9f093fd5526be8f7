package tournament

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a tournament, team or player does not exist.
var ErrNotFound = errors.New("tournament not found")

// Store is what the auction needs from the team/player/config store.
type Store interface {
	GetConfig(ctx context.Context, code string) (*Config, error)
	ListTeams(ctx context.Context, code string) ([]Team, error)
	ListPlayers(ctx context.Context, code string) ([]Player, error)
	RecordSale(ctx context.Context, sale SaleRecord) error
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
}

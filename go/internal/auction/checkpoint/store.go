package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

// ErrNotFound is returned by Load when no checkpoint exists for a tournament.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists one document per tournament holding the whole session.
// Saving an older sequence than the stored one is a no-op.
type Store interface {
	Save(ctx context.Context, s *engine.Session) error
	Load(ctx context.Context, code string) (*engine.Session, error)
	ListResumable(ctx context.Context) ([]*engine.Session, error)
}

func encode(s *engine.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.TournamentCode, err)
	}
	return data, nil
}

func decode(data []byte) (*engine.Session, error) {
	var s engine.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func resumableStatuses() []string {
	return []string{string(engine.StatusRunning), string(engine.StatusPaused)}
}

package tournament

import (
	"context"
	"fmt"
	"sync"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

type memTournament struct {
	config   Config
	teams    []Team
	players  []Player
	outcomes map[string]engine.Outcome
	sales    map[string]SaleRecord
}

// MemoryStore keeps tournaments in process. It backs tests and fixture-driven
// demo servers.
type MemoryStore struct {
	mu          sync.RWMutex
	tournaments map[string]*memTournament
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tournaments: make(map[string]*memTournament)}
}

// Put registers or replaces a tournament.
func (m *MemoryStore) Put(cfg Config, teams []Team, players []Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tournaments[cfg.Code] = &memTournament{
		config:   cfg,
		teams:    append([]Team(nil), teams...),
		players:  append([]Player(nil), players...),
		outcomes: make(map[string]engine.Outcome),
		sales:    make(map[string]SaleRecord),
	}
}

func (m *MemoryStore) get(code string) (*memTournament, error) {
	t, ok := m.tournaments[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return t, nil
}

func (m *MemoryStore) GetConfig(_ context.Context, code string) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(code)
	if err != nil {
		return nil, err
	}
	cfg := t.config
	return &cfg, nil
}

func (m *MemoryStore) ListTeams(_ context.Context, code string) ([]Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(code)
	if err != nil {
		return nil, err
	}
	return append([]Team(nil), t.teams...), nil
}

func (m *MemoryStore) ListPlayers(_ context.Context, code string) ([]Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(code)
	if err != nil {
		return nil, err
	}
	players := make([]Player, 0, len(t.players))
	for _, p := range t.players {
		switch t.outcomes[p.ID] {
		case engine.OutcomeSold, engine.OutcomeWithdrawn:
			p.Withdrawn = true
		}
		players = append(players, p)
	}
	return players, nil
}

// RecordSale stores the sale and moves the spend onto the team. Recording the
// same player twice is a no-op.
func (m *MemoryStore) RecordSale(_ context.Context, sale SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(sale.TournamentCode)
	if err != nil {
		return err
	}
	if _, done := t.sales[sale.PlayerID]; done {
		return nil
	}
	idx := -1
	for i := range t.teams {
		if t.teams[i].ID == sale.TeamID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: team %s", ErrNotFound, sale.TeamID)
	}
	t.teams[idx].Spent += sale.Amount
	t.teams[idx].RosterCount++
	t.sales[sale.PlayerID] = sale
	t.outcomes[sale.PlayerID] = engine.OutcomeSold
	return nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, rec OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(rec.TournamentCode)
	if err != nil {
		return err
	}
	if _, sold := t.sales[rec.PlayerID]; sold {
		return nil
	}
	if rec.Outcome == engine.OutcomeAvailable {
		delete(t.outcomes, rec.PlayerID)
		for i := range t.players {
			if t.players[i].ID == rec.PlayerID {
				t.players[i].Withdrawn = false
			}
		}
		return nil
	}
	t.outcomes[rec.PlayerID] = rec.Outcome
	return nil
}

// Outcome returns what was recorded for a player.
func (m *MemoryStore) Outcome(code, playerID string) (engine.Outcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tournaments[code]
	if !ok {
		return "", false
	}
	o, ok := t.outcomes[playerID]
	return o, ok
}

var _ Store = (*MemoryStore)(nil)

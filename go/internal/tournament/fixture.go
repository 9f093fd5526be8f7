package tournament

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML seed format: tournaments with their teams and players.
type Fixture struct {
	Tournaments []TournamentFixture `yaml:"tournaments"`
}

type TournamentFixture struct {
	Config  `yaml:",inline"`
	Teams   []Team   `yaml:"teams"`
	Players []Player `yaml:"players"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return DecodeFixture(f)
}

// DecodeFixture parses a fixture and normalises every tournament so that a bad
// seed fails before anything is written.
func DecodeFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	seen := make(map[string]bool, len(fx.Tournaments))
	for _, t := range fx.Tournaments {
		if t.Code == "" {
			return nil, fmt.Errorf("fixture tournament %q has no code", t.Name)
		}
		if seen[t.Code] {
			return nil, fmt.Errorf("fixture tournament %s listed twice", t.Code)
		}
		seen[t.Code] = true
		if _, _, err := t.Normalize(); err != nil {
			return nil, err
		}
	}
	return &fx, nil
}

// Apply loads every fixture tournament into the memory store.
func (fx *Fixture) Apply(m *MemoryStore) {
	for _, t := range fx.Tournaments {
		m.Put(t.Config, t.Teams, t.Players)
	}
}

package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

type memRecord struct {
	sequence uint64
	data     []byte
}

// MemoryStore keeps encoded checkpoints in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memRecord)}
}

func (m *MemoryStore) Save(_ context.Context, s *engine.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[s.TournamentCode]; ok && cur.sequence > s.Sequence {
		return nil
	}
	m.records[s.TournamentCode] = memRecord{sequence: s.Sequence, data: data}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, code string) (*engine.Session, error) {
	m.mu.RLock()
	rec, ok := m.records[code]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return decode(rec.data)
}

func (m *MemoryStore) ListResumable(_ context.Context) ([]*engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]string, 0, len(m.records))
	for code := range m.records {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []*engine.Session
	for _, code := range codes {
		s, err := decode(m.records[code].data)
		if err != nil {
			return nil, err
		}
		if s.Resumable() {
			out = append(out, s)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

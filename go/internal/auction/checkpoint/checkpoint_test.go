package checkpoint

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

func session(code string, seq uint64, status engine.Status) *engine.Session {
	s := engine.NewSession(code)
	s.Sequence = seq
	s.Status = status
	return s
}

func TestMemoryStoreKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, session("A", 5, engine.StatusRunning)))
	require.NoError(t, store.Save(ctx, session("A", 3, engine.StatusPaused)))

	got, err := store.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Sequence)
	assert.Equal(t, engine.StatusRunning, got.Status)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListResumable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, session("C", 1, engine.StatusPaused)))
	require.NoError(t, store.Save(ctx, session("A", 1, engine.StatusRunning)))
	require.NoError(t, store.Save(ctx, session("B", 1, engine.StatusCompleted)))
	require.NoError(t, store.Save(ctx, session("D", 1, engine.StatusNotStarted)))

	list, err := store.ListResumable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].TournamentCode)
	assert.Equal(t, "C", list[1].TournamentCode)
}

// flakyStore fails the first failures saves.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	saves    int
}

func (f *flakyStore) Save(ctx context.Context, s *engine.Session) error {
	f.mu.Lock()
	f.saves++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.MemoryStore.Save(ctx, s)
}

type durabilityLog struct {
	mu    sync.Mutex
	edges []bool
}

func (d *durabilityLog) record(_ string, degraded bool, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edges = append(d.edges, degraded)
}

func (d *durabilityLog) get() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.edges...)
}

func fastConfig() GatewayConfig {
	return GatewayConfig{
		MaxRetries:    5,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 2 * time.Millisecond,
		RequeueDelay:  5 * time.Millisecond,
	}
}

func runGateway(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func commit(s *engine.Session) engine.Commit {
	return engine.Commit{Batch: engine.Batch{TournamentCode: s.TournamentCode}, Session: s}
}

func TestGatewayRetriesAndReportsEdges(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 3}
	g := NewGateway(store, fastConfig())
	edges := &durabilityLog{}
	g.OnDurabilityChange(edges.record)
	runGateway(t, g)

	g.Commit(context.Background(), commit(session("KPL24", 7, engine.StatusRunning)))

	require.Eventually(t, func() bool {
		s, err := store.Load(context.Background(), "KPL24")
		return err == nil && s.Sequence == 7
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(edges.get()) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []bool{true, false}, edges.get())
	assert.False(t, g.Degraded("KPL24"))
}

func TestGatewayRequeuesAfterExhaustion(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 4}
	g := NewGateway(store, cfg)
	runGateway(t, g)

	g.Commit(context.Background(), commit(session("KPL24", 2, engine.StatusRunning)))

	require.Eventually(t, func() bool {
		_, err := store.Load(context.Background(), "KPL24")
		return err == nil
	}, 2*time.Second, time.Millisecond)
}

func TestGatewayFlushKeepsLatest(t *testing.T) {
	store := NewMemoryStore()
	g := NewGateway(store, fastConfig())

	for seq := uint64(1); seq <= 5; seq++ {
		g.Commit(context.Background(), commit(session("KPL24", seq, engine.StatusRunning)))
	}
	g.Commit(context.Background(), engine.Commit{})
	require.NoError(t, g.Flush(context.Background()))

	s, err := store.Load(context.Background(), "KPL24")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), s.Sequence)
}

func TestGatewayFlushReportsFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	g := NewGateway(store, fastConfig())
	g.Commit(context.Background(), commit(session("KPL24", 1, engine.StatusRunning)))
	assert.Error(t, g.Flush(context.Background()))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS auction_checkpoints (
		tournament_code TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		session JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	require.NoError(t, err)
	code := "TEST" + time.Now().Format("150405.000000")
	defer func() {
		_, _ = pool.Exec(ctx, `DELETE FROM auction_checkpoints WHERE tournament_code = $1`, code)
	}()

	store := NewPostgresStore(pool)
	require.NoError(t, store.Save(ctx, session(code, 4, engine.StatusPaused)))
	require.NoError(t, store.Save(ctx, session(code, 2, engine.StatusCompleted)))

	got, err := store.Load(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Sequence)
	assert.Equal(t, engine.StatusPaused, got.Status)

	list, err := store.ListResumable(ctx)
	require.NoError(t, err)
	found := false
	for _, s := range list {
		found = found || s.TournamentCode == code
	}
	assert.True(t, found)

	_, err = store.Load(ctx, code+"-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()
	require.NoError(t, client.Ping(ctx, nil))

	store := NewMongoStore(client.Database("playlive_test"), "auction_checkpoints_test")
	running := "TEST" + time.Now().Format("150405.000000")
	done := running + "-done"
	defer func() {
		_, _ = store.coll.DeleteMany(context.Background(), bson.M{"_id": bson.M{"$in": []string{running, done}}})
	}()

	require.NoError(t, store.Save(ctx, session(running, 4, engine.StatusRunning)))
	require.NoError(t, store.Save(ctx, session(running, 2, engine.StatusPaused)))
	require.NoError(t, store.Save(ctx, session(done, 9, engine.StatusCompleted)))

	got, err := store.Load(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Sequence)
	assert.Equal(t, engine.StatusRunning, got.Status)

	require.NoError(t, store.Save(ctx, session(running, 6, engine.StatusPaused)))
	got, err = store.Load(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.Sequence)

	list, err := store.ListResumable(ctx)
	require.NoError(t, err)
	codes := map[string]bool{}
	for _, s := range list {
		codes[s.TournamentCode] = true
	}
	assert.True(t, codes[running])
	assert.False(t, codes[done])

	_, err = store.Load(ctx, running+"-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

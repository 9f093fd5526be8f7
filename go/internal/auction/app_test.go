package auction

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/checkpoint"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/gateway"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/tournament"
)

var (
	_ gateway.Backend = (*Manager)(nil)
	_ gateway.Backend = (*Client)(nil)
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

var (
	admin = engine.Actor{Role: engine.RoleAdmin}
	teamA = engine.Actor{Role: engine.RoleTeam, TeamID: "A"}
)

func seedStore() *tournament.MemoryStore {
	store := tournament.NewMemoryStore()
	store.Put(tournament.Config{
		Code: "KPL24",
		Name: "Kerala Premier League",
		Rules: tournament.AuctionRules{
			Type:              "straight",
			FixedIncrement:    100,
			BaseValueOfPlayer: 1000,
			MaxFundForTeam:    10000,
		},
	}, []tournament.Team{
		{ID: "A", Name: "Team A", MaxRosterSize: 5},
		{ID: "B", Name: "Team B", MaxRosterSize: 5},
	}, []tournament.Player{
		{ID: "p1", Name: "Asha"},
		{ID: "p2", Name: "Bilal"},
	})
	store.Put(tournament.Config{
		Code:  "BROKEN",
		Rules: tournament.AuctionRules{Type: "dutch", MaxFundForTeam: 100},
	}, nil, nil)
	return store
}

type harness struct {
	clock       *clockwork.FakeClock
	store       *tournament.MemoryStore
	checkpoints *checkpoint.MemoryStore
	manager     *Manager
}

func newHarness(t *testing.T, checkpoints *checkpoint.MemoryStore, autoResume bool) *harness {
	t.Helper()
	h := &harness{
		clock:       clockwork.NewFakeClockAt(t0),
		store:       seedStore(),
		checkpoints: checkpoints,
	}
	cfg := DefaultConfig()
	cfg.Clock = h.clock
	cfg.AutoResume = autoResume
	m, err := NewManager(h.store, checkpoints, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	gw := checkpoint.NewGateway(checkpoints, checkpoint.DefaultGatewayConfig())
	gw.OnDurabilityChange(m.DurabilityReporter(SourceCheckpoints))
	rcfg := DefaultRecorderConfig()
	rcfg.RetryDelay = time.Millisecond
	rec := NewRecorder(h.store, rcfg)
	rec.OnDurabilityChange(m.DurabilityReporter(SourceSettlements))
	m.Use(gw, rec)
	go func() { _ = gw.Run(ctx) }()
	go func() { _ = rec.Run(ctx) }()

	h.manager = m
	t.Cleanup(func() {
		m.Close()
		cancel()
	})
	return h
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManagerRunsAuctionToSale(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	ctx := ctxT(t)

	res, err := h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted, "start rejected: %v", res.Rejection)
	require.NotNil(t, res.State.CurrentPlayer)
	assert.Equal(t, "p1", res.State.CurrentPlayer.ID)

	res, err = h.manager.PlaceBid(ctx, "KPL24", teamA, "A", res.State.NextAmount)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	amount := res.State.CurrentBid

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		v, err := h.manager.State(ctx, "KPL24")
		return err == nil && v.Stage == engine.StageLastCall
	}, time.Second, 5*time.Millisecond)

	h.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		o, ok := h.store.Outcome("KPL24", "p1")
		return ok && o == engine.OutcomeSold
	}, time.Second, 5*time.Millisecond)

	teams, err := h.store.ListTeams(ctx, "KPL24")
	require.NoError(t, err)
	assert.Equal(t, amount, teams[0].Spent)

	require.Eventually(t, func() bool {
		s, err := h.checkpoints.Load(ctx, "KPL24")
		return err == nil && len(s.Sales) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerUnknownAndBrokenTournaments(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	ctx := ctxT(t)

	_, err := h.manager.StartAuction(ctx, "NOPE", admin)
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := h.manager.StartAuction(ctx, "BROKEN", admin)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, engine.ReasonConfig, res.Rejection.Reason)

	_, err = h.manager.PlaceBid(ctx, "NOPE", teamA, "A", 1000)
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := h.manager.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestManagerRejectsSecondStart(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	ctx := ctxT(t)

	res, err := h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, engine.ReasonInvalidStage, res.Rejection.Reason)
}

func TestManagerCompletesAndCachesSummary(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	ctx := ctxT(t)

	_, err := h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	res, err := h.manager.CompleteAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	sum, err := h.manager.Summary(ctx, "KPL24")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.TotalPlayers)
	assert.Equal(t, 2, sum.UnsoldPlayers)

	active, err := h.manager.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// retired runners are still readable from the cache and the checkpoint
	require.Eventually(t, func() bool {
		s, err := h.checkpoints.Load(ctx, "KPL24")
		return err == nil && s.Status == engine.StatusCompleted
	}, time.Second, 5*time.Millisecond)
	h.clock.Advance(DefaultConfig().RetireAfter)
	require.Eventually(t, func() bool {
		_, ok := h.manager.lookup("KPL24")
		return !ok
	}, time.Second, 5*time.Millisecond)

	sum, err = h.manager.Summary(ctx, "KPL24")
	require.NoError(t, err)
	require.NotNil(t, sum)
	v, err := h.manager.State(ctx, "KPL24")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, v.Status)
}

func TestManagerKeepsRetiredAuctionClosed(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	ctx := ctxT(t)

	res, err := h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	res, err = h.manager.PlaceBid(ctx, "KPL24", teamA, "A", 1000)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	res, err = h.manager.StartLastCall(ctx, "KPL24", admin, 5, 0)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		o, ok := h.store.Outcome("KPL24", "p1")
		return ok && o == engine.OutcomeSold
	}, time.Second, 5*time.Millisecond)

	res, err = h.manager.CompleteAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Eventually(t, func() bool {
		s, err := h.checkpoints.Load(ctx, "KPL24")
		return err == nil && s.Status == engine.StatusCompleted
	}, time.Second, 5*time.Millisecond)
	h.clock.Advance(DefaultConfig().RetireAfter + time.Second)
	require.Eventually(t, func() bool {
		_, ok := h.manager.lookup("KPL24")
		return !ok
	}, time.Second, 5*time.Millisecond)

	res, err = h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, engine.ReasonInvalidStage, res.Rejection.Reason)
	assert.Equal(t, engine.StatusCompleted, res.State.Status)

	_, ok := h.manager.lookup("KPL24")
	assert.False(t, ok)
	o, _ := h.store.Outcome("KPL24", "p1")
	assert.Equal(t, engine.OutcomeSold, o)
	teams, err := h.store.ListTeams(ctx, "KPL24")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), teams[0].Spent)
	assert.Equal(t, 1, teams[0].RosterCount)
}

func TestManagerRecoversCheckpoints(t *testing.T) {
	checkpoints := checkpoint.NewMemoryStore()
	first := newHarness(t, checkpoints, false)
	ctx := ctxT(t)

	_, err := first.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	res, err := first.manager.PlaceBid(ctx, "KPL24", teamA, "A", 1000)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Eventually(t, func() bool {
		s, err := checkpoints.Load(ctx, "KPL24")
		return err == nil && s.BidCount == 1
	}, time.Second, 5*time.Millisecond)
	first.manager.Close()

	second := newHarness(t, checkpoints, false)
	n, err := second.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := second.manager.State(ctx, "KPL24")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, v.Status)
	assert.Equal(t, "A", v.HighestBidderTeamID)

	res, err = second.manager.ResumeAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	// recovering again leaves the live runner alone
	n, err = second.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReinstatedPlayerReturnsToStore(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	path, handler := NewHandler(NewService(h.manager))
	require.NotEmpty(t, path)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	client := NewClient(srv.Client(), srv.URL)
	ctx := ctxT(t)

	_, err := h.manager.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	res, err := h.manager.MarkUnsold(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Eventually(t, func() bool {
		o, ok := h.store.Outcome("KPL24", "p1")
		return ok && o == engine.OutcomeUnsold
	}, time.Second, 5*time.Millisecond)

	res, err = client.Call(ctx, ReinstatePlayerProcedure, CommandRequest{TournamentCode: "KPL24", Actor: admin, Outcome: engine.OutcomeUnsold})
	require.NoError(t, err)
	require.True(t, res.Accepted, "reinstate rejected: %v", res.Rejection)
	require.Eventually(t, func() bool {
		_, ok := h.store.Outcome("KPL24", "p1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	res, err = client.Call(ctx, CallPlayerProcedure, CommandRequest{TournamentCode: "KPL24", Actor: admin, PlayerID: "p1"})
	require.NoError(t, err)
	require.True(t, res.Accepted, "call rejected: %v", res.Rejection)
	require.NotNil(t, res.State.CurrentPlayer)
	assert.Equal(t, "p1", res.State.CurrentPlayer.ID)
	assert.Equal(t, 1, res.State.PoolRemaining)

	res, err = h.manager.AssignPending(ctx, "KPL24", admin, "p2", "A", 1000)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, engine.ReasonInvalidStage, res.Rejection.Reason)
}

func TestServiceAndClient(t *testing.T) {
	h := newHarness(t, checkpoint.NewMemoryStore(), false)
	path, handler := NewHandler(NewService(h.manager))
	assert.Equal(t, "/auction.v1.AuctionService/", path)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	ctx := ctxT(t)

	res, err := client.StartAuction(ctx, "KPL24", admin)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = client.PlaceBid(ctx, "KPL24", teamA, "B", 1000)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, engine.ReasonForbidden, res.Rejection.Reason)

	res, err = client.PlaceBid(ctx, "KPL24", teamA, "A", 1000)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = client.Call(ctx, PlaceBidProcedure, CommandRequest{TournamentCode: "KPL24", Actor: engine.Actor{Role: engine.RoleTeam, TeamID: "B"}, TeamID: "B", Amount: 1000})
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, rules.ReasonStaleAmount, res.Rejection.Reason)

	res, err = client.Call(ctx, PauseAuctionProcedure, CommandRequest{TournamentCode: "KPL24", Actor: admin, Reason: "drinks"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	v, err := client.State(ctx, "KPL24")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, v.Status)
	assert.Empty(t, v.AuditLog)

	snap, err := client.Snapshot(ctx, "KPL24")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.AuditLog)

	active, err := client.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	sum, err := client.Summary(ctx, "KPL24")
	require.NoError(t, err)
	assert.Nil(t, sum)

	_, err = client.State(ctx, "NOPE")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = client.Call(ctx, MarkUnsoldProcedure, CommandRequest{Actor: admin})
	assert.Error(t, err)
}

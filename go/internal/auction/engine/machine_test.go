package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

var (
	t0    = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	admin = Actor{Role: RoleAdmin}
)

func team(id string) Actor { return Actor{Role: RoleTeam, TeamID: id} }

func at(secs int) time.Time { return t0.Add(time.Duration(secs) * time.Second) }

func startCommand() StartAuction {
	return StartAuction{
		Actor: admin,
		Rules: rules.Rules{
			Increment:   rules.Straight(100),
			BidLimit:    rules.Unlimited(),
			BasePrice:   1000,
			TeamFundCap: 10_000,
		},
		Settings: Settings{
			TimerSeconds:      30,
			LastCallSeconds:   10,
			MaxRounds:         2,
			AutoTimeoutAction: TimeoutPending,
			AutoAdvance:       true,
		},
		Players: []Player{
			{ID: "p1", Name: "Asha"},
			{ID: "p2", Name: "Bilal"},
			{ID: "p3", Name: "Chen"},
		},
		Teams: []rules.Wallet{
			{TeamID: "A", Name: "Team A", MaxRosterSize: 5},
			{TeamID: "B", Name: "Team B", MaxRosterSize: 5},
			{TeamID: "C", Name: "Team C", MaxRosterSize: 5},
		},
	}
}

func started(t *testing.T, mutate func(*StartAuction)) *Session {
	t.Helper()
	cmd := startCommand()
	if mutate != nil {
		mutate(&cmd)
	}
	s := NewSession("KPL24")
	res := s.Apply(cmd, t0)
	require.True(t, res.Accepted, "start rejected: %+v", res.Rejection)
	return s
}

func bid(t *testing.T, s *Session, teamID string, amount int64, now time.Time) Result {
	t.Helper()
	return s.Apply(PlaceBid{Actor: team(teamID), TeamID: teamID, Amount: amount}, now)
}

func expire(s *Session, now time.Time) Result {
	return s.Apply(Deadline{Generation: s.Generation}, now)
}

func requireReason(t *testing.T, res Result, want rules.Reason) {
	t.Helper()
	require.False(t, res.Accepted)
	require.NotNil(t, res.Rejection)
	require.Equal(t, want, res.Rejection.Reason)
}

func TestStartOpensFirstPlayer(t *testing.T) {
	s := started(t, nil)

	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, StageBidding, s.Stage)
	assert.Equal(t, "p1", s.CurrentPlayerID)
	assert.Equal(t, int64(1000), s.CurrentBid)
	assert.Empty(t, s.HighestBidderTeamID)
	assert.Equal(t, 0, s.BidCount)
	assert.Equal(t, 1, s.CurrentRound)
	require.NotNil(t, s.Timer.Deadline)
	assert.Equal(t, at(30), *s.Timer.Deadline)
	assert.Equal(t, int64(1000), s.NextAmount())
}

func TestStraightScenarioSellsThroughLastCall(t *testing.T) {
	s := started(t, nil)

	res := bid(t, s, "A", 1000, at(1))
	require.True(t, res.Accepted)
	assert.Equal(t, int64(1100), res.NextAmount)

	res = bid(t, s, "B", 1000, at(2))
	requireReason(t, res, rules.ReasonStaleAmount)

	res = bid(t, s, "B", 1100, at(3))
	require.True(t, res.Accepted)
	assert.Equal(t, int64(1200), res.NextAmount)
	assert.Equal(t, at(33), *s.Timer.Deadline)

	res = expire(s, at(33))
	require.True(t, res.Accepted)
	assert.Equal(t, StageLastCall, s.Stage)
	assert.True(t, s.LastCall.Active)
	assert.Equal(t, "B", s.LastCall.TeamID)
	assert.Equal(t, at(43), *s.LastCall.Deadline)

	res = expire(s, at(43))
	require.True(t, res.Accepted)
	require.Len(t, s.Sales, 1)
	assert.Equal(t, Sale{
		PlayerID:   "p1",
		PlayerName: "Asha",
		TeamID:     "B",
		TeamName:   "Team B",
		Amount:     1100,
		Round:      1,
		SoldAt:     at(43),
	}, s.Sales[0])
	assert.Equal(t, int64(1100), s.Teams["B"].Spent)
	assert.Equal(t, 1, s.Teams["B"].RosterCount)
	assert.Equal(t, OutcomeSold, s.Outcomes["p1"])

	assert.Equal(t, StageBidding, s.Stage)
	assert.Equal(t, "p2", s.CurrentPlayerID)

	types := eventTypes(res.Events)
	assert.Equal(t, []EventType{EventPlayerSold, EventPlayerOnBlock}, types)
	assert.Equal(t, StageSold, res.Events[0].State.Stage)
	require.Len(t, res.Settlements, 1)
	assert.Equal(t, OutcomeSold, res.Settlements[0].Outcome)
}

func TestBidLimitExceeded(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Rules.BidLimit = rules.Limited(3) })

	require.True(t, bid(t, s, "A", 1000, at(1)).Accepted)
	require.True(t, bid(t, s, "B", 1100, at(2)).Accepted)
	require.True(t, bid(t, s, "A", 1200, at(3)).Accepted)

	res := bid(t, s, "C", 1300, at(4))
	requireReason(t, res, rules.ReasonBidLimitExceeded)
	assert.Equal(t, 3, s.BidCount)
	assert.Equal(t, "A", s.HighestBidderTeamID)
}

func TestSlabIncrements(t *testing.T) {
	slab := rules.Slab(
		rules.SlabRange{From: 0, To: 1000, Step: 100},
		rules.SlabRange{From: 1000, To: 5000, Step: 250},
	)
	s := started(t, func(c *StartAuction) {
		c.Rules.Increment = slab
		c.Players[0].BasePrice = 950
	})

	res := bid(t, s, "A", 950, at(1))
	require.True(t, res.Accepted)
	assert.Equal(t, int64(1050), res.NextAmount)
	assert.Equal(t, int64(1050), s.NextAmount())

	s = started(t, func(c *StartAuction) { c.Rules.Increment = slab })
	res = bid(t, s, "A", 1000, at(1))
	require.True(t, res.Accepted)
	assert.Equal(t, int64(1250), s.NextAmount())
}

func TestAcceptedBidRefreshesTimer(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(20)).Accepted)
	oldGen := s.Generation
	assert.Equal(t, at(50), *s.Timer.Deadline)

	require.True(t, bid(t, s, "B", 1100, at(45)).Accepted)
	assert.Equal(t, at(75), *s.Timer.Deadline)

	res := s.Apply(Deadline{Generation: oldGen}, at(50))
	assert.True(t, res.Stale)
	assert.Equal(t, StageBidding, s.Stage)
}

func TestStaleDeadlineIsNoop(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(1)).Accepted)

	before := len(s.AuditLog)
	seq := s.Sequence
	res := s.Apply(Deadline{Generation: s.Generation - 1}, at(31))

	assert.True(t, res.Stale)
	assert.False(t, res.Accepted)
	assert.Empty(t, res.Events)
	assert.Len(t, s.AuditLog, before)
	assert.Equal(t, seq, s.Sequence)
	assert.Equal(t, StageBidding, s.Stage)
}

func TestLastCallRivalBidReturnsToBidding(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(1)).Accepted)
	require.True(t, expire(s, at(31)).Accepted)
	require.Equal(t, StageLastCall, s.Stage)

	res := bid(t, s, "A", 1100, at(33))
	requireReason(t, res, rules.ReasonSameTeamRepeat)
	assert.Equal(t, StageLastCall, s.Stage)

	res = bid(t, s, "C", 1100, at(35))
	require.True(t, res.Accepted)
	assert.Equal(t, StageBidding, s.Stage)
	assert.False(t, s.LastCall.Active)
	assert.Equal(t, at(65), *s.Timer.Deadline)
	assert.Equal(t, "C", s.HighestBidderTeamID)
}

func TestNoBidTimeoutRecyclesPendingRounds(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Players = c.Players[:2] })

	require.True(t, expire(s, at(30)).Accepted)
	assert.Equal(t, []string{"p1"}, s.PendingQueue)
	assert.Equal(t, "p2", s.CurrentPlayerID)

	res := expire(s, at(60))
	require.True(t, res.Accepted)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, "p1", s.CurrentPlayerID)
	assert.Equal(t, []string{}, append([]string{}, s.PendingQueue...))
	assert.Contains(t, eventTypes(res.Events), EventRoundStarted)

	require.True(t, expire(s, at(90)).Accepted)
	assert.Equal(t, []string{"p1"}, s.PendingQueue)
	assert.Equal(t, "p2", s.CurrentPlayerID)

	res = expire(s, at(120))
	require.True(t, res.Accepted)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, StageFinalizing, s.Stage)
	require.NotNil(t, s.CompletedSummary)
	assert.Equal(t, 2, s.CompletedSummary.PendingConvertedToUnsold)
	assert.Equal(t, 2, s.CompletedSummary.UnsoldPlayers)
	assert.Equal(t, 0, s.CompletedSummary.PlayersSold)
	assert.Equal(t, OutcomeUnsold, s.Outcomes["p1"])
	assert.Equal(t, OutcomeUnsold, s.Outcomes["p2"])
	assert.Equal(t, []EventType{EventPlayerPending, EventAuctionFinalizing, EventAuctionCompleted}, eventTypes(res.Events))
}

func TestNoBidTimeoutUnsold(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Settings.AutoTimeoutAction = TimeoutUnsold })

	res := expire(s, at(30))
	require.True(t, res.Accepted)
	assert.Equal(t, OutcomeUnsold, s.Outcomes["p1"])
	assert.Empty(t, s.PendingQueue)
	assert.Equal(t, "p2", s.CurrentPlayerID)
	assert.NotContains(t, eventTypes(res.Events), EventLastCallStarted)
}

func TestPauseResumeReanchorsDeadline(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(0)).Accepted)

	res := s.Apply(PauseAuction{Actor: admin, Reason: "drinks break"}, at(10))
	require.True(t, res.Accepted)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Nil(t, s.Timer.Deadline)
	assert.Equal(t, 20, s.Timer.RemainingSeconds)

	auditBefore := len(s.AuditLog)
	res = bid(t, s, "B", 1100, at(50))
	requireReason(t, res, ReasonInvalidStage)
	assert.Len(t, s.AuditLog, auditBefore+1)
	assert.Equal(t, "A", s.HighestBidderTeamID)
	assert.Equal(t, int64(1000), s.CurrentBid)

	res = s.Apply(ResumeAuction{Actor: admin}, at(100))
	require.True(t, res.Accepted)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, at(120), *s.Timer.Deadline)
}

func TestPausedLastCallKeepsRemaining(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(0)).Accepted)
	require.True(t, expire(s, at(30)).Accepted)

	require.True(t, s.Apply(PauseAuction{Actor: admin}, at(34)).Accepted)
	assert.Nil(t, s.LastCall.Deadline)
	assert.Equal(t, 6, s.Timer.RemainingSeconds)

	require.True(t, s.Apply(ResumeAuction{Actor: admin}, at(200)).Accepted)
	assert.Equal(t, StageLastCall, s.Stage)
	assert.Equal(t, at(206), *s.LastCall.Deadline)
	assert.Equal(t, at(206), *s.Timer.Deadline)
}

func TestRejectionsAreAuditedWithoutEvents(t *testing.T) {
	s := started(t, nil)
	before := len(s.AuditLog)

	res := s.Apply(PlaceBid{Actor: Actor{Role: RoleDisplay}, TeamID: "A", Amount: 1000}, at(1))
	requireReason(t, res, ReasonForbidden)
	assert.Empty(t, res.Events)

	res = s.Apply(PlaceBid{Actor: team("A"), TeamID: "B", Amount: 1000}, at(2))
	requireReason(t, res, ReasonForbidden)

	res = bid(t, s, "Z", 1000, at(3))
	requireReason(t, res, rules.ReasonTeamNotRecognized)

	res = s.Apply(ResumeAuction{Actor: admin}, at(4))
	requireReason(t, res, ReasonInvalidStage)

	assert.Len(t, s.AuditLog, before+4)
	assert.Equal(t, 4, s.RejectedCommands)
	for _, e := range s.AuditLog[before:] {
		assert.Equal(t, KindError, e.Kind)
	}
}

func TestLockBlocksTeamsOnly(t *testing.T) {
	s := started(t, nil)
	require.True(t, s.Apply(SetLock{Actor: admin, Locked: true}, at(1)).Accepted)
	assert.True(t, s.IsLocked)

	res := bid(t, s, "A", 1000, at(2))
	requireReason(t, res, ReasonLocked)

	res = s.Apply(PlaceBid{Actor: admin, TeamID: "A", Amount: 1000}, at(3))
	require.True(t, res.Accepted)
	assert.Equal(t, "A", s.HighestBidderTeamID)
}

func TestManualSetWinner(t *testing.T) {
	s := started(t, nil)

	res := s.Apply(ManualSetWinner{Actor: admin, TeamID: "C", Amount: 20_000}, at(1))
	requireReason(t, res, rules.ReasonInsufficientFunds)

	res = s.Apply(ManualSetWinner{Actor: team("C"), TeamID: "C", Amount: 1000}, at(2))
	requireReason(t, res, ReasonForbidden)

	res = s.Apply(ManualSetWinner{Actor: admin, TeamID: "C", Amount: 2500}, at(3))
	require.True(t, res.Accepted)
	require.Len(t, s.Sales, 1)
	assert.True(t, s.Sales[0].Override)
	assert.Equal(t, int64(2500), s.Teams["C"].Spent)
	assert.Equal(t, "p2", s.CurrentPlayerID)

	sold := res.Events[0]
	require.Equal(t, EventPlayerSold, sold.Type)
	assert.Equal(t, true, sold.Audit.Metadata["override"])
}

func TestForceAdvanceDefersPlayer(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(1)).Accepted)

	res := s.Apply(ForceAdvance{Actor: admin}, at(2))
	require.True(t, res.Accepted)
	assert.Equal(t, []string{"p1"}, s.PendingQueue)
	assert.Equal(t, "p2", s.CurrentPlayerID)
	assert.Empty(t, s.HighestBidderTeamID)
	assert.Equal(t, int64(0), s.Teams["A"].Spent)
}

func TestCompleteAuctionSettlesEveryone(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(1)).Accepted)
	require.True(t, expire(s, at(31)).Accepted)
	require.True(t, expire(s, at(41)).Accepted)
	require.True(t, s.Apply(ForceAdvance{Actor: admin}, at(42)).Accepted)

	res := s.Apply(CompleteAuction{Actor: admin}, at(50))
	require.True(t, res.Accepted)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.EndedAt)

	sum := s.CompletedSummary
	require.NotNil(t, sum)
	assert.Equal(t, 3, sum.TotalPlayers)
	assert.Equal(t, 3, sum.TotalTeams)
	assert.Equal(t, 1, sum.PlayersSold)
	assert.Equal(t, 2, sum.UnsoldPlayers)
	assert.Equal(t, 1, sum.PendingConvertedToUnsold)
	assert.Equal(t, int64(1000), sum.TotalSpend)
	require.NotNil(t, sum.TopSale)
	assert.Equal(t, "p1", sum.TopSale.PlayerID)
	assert.Len(t, s.Outcomes, 3)

	res = bid(t, s, "B", 1000, at(51))
	requireReason(t, res, ReasonInvalidStage)
	res = s.Apply(SetLock{Actor: admin, Locked: true}, at(52))
	requireReason(t, res, ReasonInvalidStage)
}

func TestWithdrawPlayer(t *testing.T) {
	s := started(t, nil)

	res := s.Apply(WithdrawPlayer{Actor: admin, PlayerID: "p3", Reason: "injured"}, at(1))
	require.True(t, res.Accepted)
	assert.Equal(t, OutcomeWithdrawn, s.Outcomes["p3"])
	assert.NotContains(t, s.Pool, "p3")

	res = s.Apply(WithdrawPlayer{Actor: admin, PlayerID: "p3"}, at(2))
	requireReason(t, res, ReasonInvalidStage)

	res = s.Apply(WithdrawPlayer{Actor: admin, PlayerID: "nobody"}, at(3))
	requireReason(t, res, ReasonUnknownPlayer)

	res = s.Apply(WithdrawPlayer{Actor: admin, PlayerID: "p1"}, at(4))
	require.True(t, res.Accepted)
	assert.Equal(t, OutcomeWithdrawn, s.Outcomes["p1"])
	assert.Equal(t, "p2", s.CurrentPlayerID)
}

func TestStartAndWithdrawLastCall(t *testing.T) {
	s := started(t, nil)

	res := s.Apply(StartLastCall{Actor: admin}, at(1))
	requireReason(t, res, ReasonInvalidStage)

	require.True(t, bid(t, s, "A", 1000, at(2)).Accepted)
	res = s.Apply(StartLastCall{Actor: admin, DurationSeconds: 2, ResumeSeconds: 45}, at(3))
	require.True(t, res.Accepted)
	assert.Equal(t, StageLastCall, s.Stage)
	assert.Equal(t, at(8), *s.Timer.Deadline)
	assert.Equal(t, 45, s.LastCall.ResumeSeconds)

	res = s.Apply(WithdrawLastCall{Actor: admin}, at(4))
	require.True(t, res.Accepted)
	assert.Equal(t, StageBidding, s.Stage)
	assert.False(t, s.LastCall.Active)
	assert.Equal(t, at(49), *s.Timer.Deadline)
	assert.Equal(t, "A", s.HighestBidderTeamID)
}

func TestManualAdvanceWaitsForNextPlayer(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Settings.AutoAdvance = false })

	res := s.Apply(NextPlayer{Actor: admin}, at(1))
	requireReason(t, res, ReasonInvalidStage)

	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(2)).Accepted)
	assert.Equal(t, StageSelectingPlayer, s.Stage)
	assert.Empty(t, s.CurrentPlayerID)
	assert.Nil(t, s.activeDeadline())

	res = bid(t, s, "A", 1000, at(3))
	requireReason(t, res, rules.ReasonNotInBidding)

	require.True(t, s.Apply(NextPlayer{Actor: admin}, at(4)).Accepted)
	assert.Equal(t, StageBidding, s.Stage)
	assert.Equal(t, "p2", s.CurrentPlayerID)
}

func TestStartRejectsBadConfig(t *testing.T) {
	s := NewSession("KPL24")
	cmd := startCommand()
	cmd.Rules.Increment = rules.Slab(rules.SlabRange{From: 500, To: 1000, Step: 50})

	res := s.Apply(cmd, t0)
	requireReason(t, res, ReasonConfig)
	assert.Equal(t, StatusNotStarted, s.Status)
	assert.Equal(t, StageIdle, s.Stage)
	assert.Len(t, s.AuditLog, 1)

	cmd = startCommand()
	cmd.Settings.AutoTimeoutAction = "explode"
	res = s.Apply(cmd, t0)
	requireReason(t, res, ReasonConfig)
}

func TestShuffleIsDeterministic(t *testing.T) {
	players := make([]Player, 0, 20)
	for i := 0; i < 20; i++ {
		players = append(players, Player{ID: string(rune('a' + i))})
	}
	shuffled := func(seed int64) []string {
		s := started(t, func(c *StartAuction) {
			c.Players = players
			c.Settings.ShufflePool = true
			c.Seed = seed
		})
		return append([]string{s.CurrentPlayerID}, s.Pool...)
	}
	assert.Equal(t, shuffled(42), shuffled(42))
	assert.NotEqual(t, shuffled(42), shuffled(7))
}

func TestWithdrawnPlayersNeverOffered(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Players[0].Withdrawn = true })
	assert.Equal(t, "p2", s.CurrentPlayerID)
	assert.Equal(t, OutcomeWithdrawn, s.Outcomes["p1"])
}

func TestRecoverFromCheckpoint(t *testing.T) {
	s := started(t, nil)
	require.True(t, bid(t, s, "A", 1000, at(0)).Accepted)
	s.Project(at(5))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restore := func() *Session {
		var r Session
		require.NoError(t, json.Unmarshal(data, &r))
		return &r
	}

	later := at(3600)
	paused := restore()
	res := paused.Apply(Recover{AutoResume: false}, later)
	require.True(t, res.Accepted)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Nil(t, paused.Timer.Deadline)
	assert.Equal(t, 25, paused.Timer.RemainingSeconds)
	assert.Equal(t, []EventType{EventSessionRestored}, eventTypes(res.Events))

	resumed := restore()
	gen := resumed.Generation
	require.True(t, resumed.Apply(Recover{AutoResume: true}, later).Accepted)
	assert.Equal(t, StatusRunning, resumed.Status)
	assert.Equal(t, later.Add(25*time.Second), *resumed.Timer.Deadline)
	assert.Greater(t, resumed.Generation, gen)
	assert.Equal(t, "A", resumed.HighestBidderTeamID)
}

func TestRecordBusyIsAudited(t *testing.T) {
	s := started(t, nil)
	events := s.RecordBusy(3, at(1))
	require.Len(t, events, 1)
	assert.Equal(t, EventCommandsDropped, events[0].Type)
	assert.Equal(t, int64(3), s.BusyRejections)
	assert.Equal(t, KindError, s.AuditLog[len(s.AuditLog)-1].Kind)
}

func TestEventSequencesIncrease(t *testing.T) {
	s := started(t, nil)
	var seq uint64
	for _, res := range []Result{
		bid(t, s, "A", 1000, at(1)),
		expire(s, at(31)),
		expire(s, at(41)),
	} {
		for _, ev := range res.Events {
			require.Greater(t, ev.Sequence, seq)
			seq = ev.Sequence
			assert.Equal(t, "KPL24", ev.TournamentCode)
			assert.NotNil(t, ev.Audit)
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestStartLeavesAuctionUnlocked(t *testing.T) {
	s := started(t, nil)
	assert.False(t, s.IsLocked)
	assert.False(t, s.View(at(1)).IsLocked)
	assert.True(t, bid(t, s, "A", 1000, at(1)).Accepted)
}

func TestCallPlayerReplacesUnbidPlayer(t *testing.T) {
	s := started(t, nil)

	res := s.Apply(CallPlayer{Actor: team("A"), PlayerID: "p3"}, at(1))
	requireReason(t, res, ReasonForbidden)
	res = s.Apply(CallPlayer{Actor: admin, PlayerID: "nobody"}, at(1))
	requireReason(t, res, ReasonUnknownPlayer)
	res = s.Apply(CallPlayer{Actor: admin, PlayerID: "p1"}, at(1))
	requireReason(t, res, ReasonInvalidStage)

	res = s.Apply(CallPlayer{Actor: admin, PlayerID: "p3"}, at(5))
	require.True(t, res.Accepted)
	assert.Equal(t, []EventType{EventPlayerReturned, EventPlayerOnBlock}, eventTypes(res.Events))
	assert.Equal(t, true, res.Events[1].Audit.Metadata["called"])
	assert.Equal(t, "p3", s.CurrentPlayerID)
	assert.Equal(t, StageBidding, s.Stage)
	assert.Equal(t, int64(1000), s.CurrentBid)
	assert.Equal(t, []string{"p1", "p2"}, s.Pool)
	require.NotNil(t, s.Timer.Deadline)
	assert.Equal(t, at(35), *s.Timer.Deadline)

	require.True(t, bid(t, s, "A", 1000, at(6)).Accepted)
	res = s.Apply(CallPlayer{Actor: admin, PlayerID: "p2"}, at(7))
	requireReason(t, res, ReasonInvalidStage)
	assert.Equal(t, "p3", s.CurrentPlayerID)
	assert.Equal(t, "A", s.HighestBidderTeamID)
}

func TestCallPlayerFromPending(t *testing.T) {
	s := started(t, nil)
	require.True(t, expire(s, at(31)).Accepted)
	require.Equal(t, []string{"p1"}, s.PendingQueue)
	require.Equal(t, "p2", s.CurrentPlayerID)

	res := s.Apply(CallPlayer{Actor: admin, PlayerID: "p1"}, at(32))
	require.True(t, res.Accepted)
	assert.Equal(t, "p1", s.CurrentPlayerID)
	assert.Empty(t, s.PendingQueue)
	assert.Equal(t, []string{"p2", "p3"}, s.Pool)

	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(33)).Accepted)
	res = s.Apply(CallPlayer{Actor: admin, PlayerID: "p1"}, at(34))
	requireReason(t, res, ReasonInvalidStage)
}

func TestCallPlayerWhileWaitingForOperator(t *testing.T) {
	s := started(t, func(c *StartAuction) { c.Settings.AutoAdvance = false })
	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(1)).Accepted)
	require.Equal(t, StageSelectingPlayer, s.Stage)

	res := s.Apply(CallPlayer{Actor: admin, PlayerID: "p3"}, at(2))
	require.True(t, res.Accepted)
	assert.Equal(t, []EventType{EventPlayerOnBlock}, eventTypes(res.Events))
	assert.Equal(t, "p3", s.CurrentPlayerID)
	assert.Equal(t, []string{"p2"}, s.Pool)
}

func TestReinstatePlayer(t *testing.T) {
	s := started(t, nil)
	require.True(t, s.Apply(WithdrawPlayer{Actor: admin, PlayerID: "p3"}, at(1)).Accepted)
	require.True(t, s.Apply(ManualSetWinner{Actor: admin, TeamID: "A", Amount: 1500}, at(2)).Accepted)
	require.Equal(t, "p2", s.CurrentPlayerID)

	res := s.Apply(ReinstatePlayer{Actor: admin, PlayerID: "p1"}, at(3))
	requireReason(t, res, ReasonInvalidStage)
	res = s.Apply(ReinstatePlayer{Actor: admin, PlayerID: "p2"}, at(3))
	requireReason(t, res, ReasonInvalidStage)
	res = s.Apply(ReinstatePlayer{Actor: team("A"), PlayerID: "p3"}, at(3))
	requireReason(t, res, ReasonForbidden)

	res = s.Apply(ReinstatePlayer{Actor: admin, PlayerID: "p3"}, at(4))
	require.True(t, res.Accepted)
	assert.Equal(t, []EventType{EventPlayersReinstated}, eventTypes(res.Events))
	require.Len(t, res.Settlements, 1)
	assert.Equal(t, Settlement{PlayerID: "p3", Outcome: OutcomeAvailable}, res.Settlements[0])
	assert.NotContains(t, s.Outcomes, "p3")
	assert.Equal(t, []string{"p3"}, s.Pool)
	assert.Equal(t, "p2", s.CurrentPlayerID)

	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(5)).Accepted)
	assert.Equal(t, "p3", s.CurrentPlayerID)
	assert.Equal(t, OutcomeSold, s.Outcomes["p1"])
}

func TestReinstatePendingPlayer(t *testing.T) {
	s := started(t, nil)
	require.True(t, expire(s, at(31)).Accepted)
	require.Equal(t, []string{"p1"}, s.PendingQueue)

	res := s.Apply(ReinstatePlayer{Actor: admin, PlayerID: "p1"}, at(32))
	require.True(t, res.Accepted)
	assert.Empty(t, res.Settlements)
	assert.Empty(t, s.PendingQueue)
	assert.Equal(t, []string{"p3", "p1"}, s.Pool)
}

func TestReinstateAllUnsold(t *testing.T) {
	s := started(t, nil)
	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(1)).Accepted)
	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(2)).Accepted)
	require.Equal(t, "p3", s.CurrentPlayerID)

	res := s.Apply(ReinstatePlayer{Actor: admin, Outcome: OutcomeWithdrawn}, at(3))
	requireReason(t, res, ReasonInvalidStage)
	res = s.Apply(ReinstatePlayer{Actor: admin, Outcome: OutcomeSold}, at(3))
	requireReason(t, res, ReasonInvalidStage)

	res = s.Apply(ReinstatePlayer{Actor: admin, Outcome: OutcomeUnsold}, at(4))
	require.True(t, res.Accepted)
	assert.Len(t, res.Settlements, 2)
	assert.Equal(t, []string{"p1", "p2"}, res.Events[0].Audit.Metadata["player_ids"])
	assert.Equal(t, []string{"p1", "p2"}, s.Pool)
	assert.Empty(t, s.Outcomes)

	require.True(t, s.Apply(MarkUnsold{Actor: admin}, at(5)).Accepted)
	assert.Equal(t, "p1", s.CurrentPlayerID)
}

func TestAssignPending(t *testing.T) {
	s := started(t, nil)
	require.True(t, expire(s, at(31)).Accepted)
	require.Equal(t, []string{"p1"}, s.PendingQueue)

	res := s.Apply(AssignPending{Actor: admin, PlayerID: "p2", TeamID: "A", Amount: 1000}, at(32))
	requireReason(t, res, ReasonInvalidStage)
	res = s.Apply(AssignPending{Actor: admin, PlayerID: "p1", TeamID: "C", Amount: 20_000}, at(32))
	requireReason(t, res, rules.ReasonInsufficientFunds)
	res = s.Apply(AssignPending{Actor: team("A"), PlayerID: "p1", TeamID: "A", Amount: 1000}, at(32))
	requireReason(t, res, ReasonForbidden)

	res = s.Apply(AssignPending{Actor: admin, PlayerID: "p1", TeamID: "B", Amount: 1800}, at(33))
	require.True(t, res.Accepted)
	assert.Equal(t, []EventType{EventPlayerSold}, eventTypes(res.Events))
	require.Len(t, s.Sales, 1)
	assert.True(t, s.Sales[0].Override)
	assert.Equal(t, "p1", s.Sales[0].PlayerID)
	assert.Equal(t, int64(1800), s.Teams["B"].Spent)
	assert.Equal(t, 1, s.Teams["B"].RosterCount)
	assert.Empty(t, s.PendingQueue)
	assert.Equal(t, "p2", s.CurrentPlayerID)
	assert.Equal(t, StageBidding, s.Stage)
}

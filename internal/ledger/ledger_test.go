package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/wallet"
)

const payout = "0x52908400098527886E0F7030069857D2E4169EE7"

var ctx = context.Background()

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func newRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(testLogger())
	for _, id := range ids {
		require.NoError(t, reg.Register(agent.New(agent.Manifest{ID: id, Name: "Bot " + id}, nil), "owner"))
	}
	return reg
}

func TestInvest(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())

	inv, err := l.Invest(ctx, "alice", "bot1", 30)
	require.NoError(t, err)
	assert.Equal(t, 100.0, inv.Ownership)
	assert.Equal(t, "Bot bot1", inv.AgentName)

	inv, err = l.Invest(ctx, "bob", "bot1", 70)
	require.NoError(t, err)
	assert.Equal(t, 70.0, inv.Ownership)
	assert.Equal(t, 30.0, l.Ownership("alice", "bot1"))
	assert.Equal(t, 100.0, l.TotalInvested("bot1"))

	inv, err = l.Invest(ctx, "alice", "bot1", 10)
	require.NoError(t, err)
	assert.Equal(t, 40.0, inv.TotalInvested)
	assert.Equal(t, 110.0, l.TotalValueLocked())
}

func TestInvestErrors(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())

	_, err := l.Invest(ctx, "alice", "bot1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Invest(ctx, "alice", "bot1", -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Invest(ctx, "alice", "ghost", 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Zero(t, l.TotalValueLocked())
	assert.Empty(t, l.InvestorPortfolio("alice"))
}

func TestDistributeProRata(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 30)
	_, _ = l.Invest(ctx, "bob", "bot1", 70)

	d := l.DistributeEarnings(ctx, "bot1", 10)
	require.True(t, d.Distributed)
	require.Len(t, d.Shares, 2)
	assert.Equal(t, "alice", d.Shares[0].InvestorID)
	assert.InDelta(t, 3.0, d.Shares[0].Share, 1e-9)
	assert.InDelta(t, 7.0, d.Shares[1].Share, 1e-9)

	assert.InDelta(t, 3.0, l.Earned("alice", "bot1"), 1e-9)
	assert.InDelta(t, 7.0, l.Earned("bob", "bot1"), 1e-9)
}

func TestDistributeNoInvestorsIsNoop(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	d := l.DistributeEarnings(ctx, "bot1", 10)
	assert.False(t, d.Distributed)
	assert.Equal(t, "no investors", d.Reason)
}

func TestDistributionIsNotTimeWeighted(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "early", "bot1", 50)
	_, _ = l.Invest(ctx, "late", "bot1", 50)
	l.DistributeEarnings(ctx, "bot1", 4)
	assert.Equal(t, l.Earned("early", "bot1"), l.Earned("late", "bot1"))
}

func TestWithdrawEarningsFirst(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 2)

	w, err := l.Withdraw(ctx, "alice", "bot1", 5)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, w.EarningsWithdrawn, 1e-9)
	assert.InDelta(t, 3.0, w.PrincipalWithdrawn, 1e-9)
	assert.InDelta(t, 7.0, w.RemainingInvestment, 1e-9)
	assert.False(t, w.Closed)

	assert.InDelta(t, 7.0, l.Principal("alice", "bot1"), 1e-9)
	assert.Zero(t, l.Earned("alice", "bot1"))
	assert.InDelta(t, 7.0, l.TotalInvested("bot1"), 1e-9)
}

func TestWithdrawPartialEarningsScalesEntries(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	_, _ = l.Invest(ctx, "bob", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 4)
	l.DistributeEarnings(ctx, "bot1", 4)

	w, err := l.Withdraw(ctx, "alice", "bot1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.EarningsWithdrawn)
	assert.Zero(t, w.PrincipalWithdrawn)
	assert.InDelta(t, 3.0, l.Earned("alice", "bot1"), 1e-9)
	assert.InDelta(t, 4.0, l.Earned("bob", "bot1"), 1e-9)
	assert.Equal(t, 10.0, l.Principal("alice", "bot1"))
}

func TestInvestWithdrawRoundTrip(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "bob", "bot1", 5)
	_, _ = l.Invest(ctx, "alice", "bot1", 10)

	w, err := l.Withdraw(ctx, "alice", "bot1", 10)
	require.NoError(t, err)
	assert.True(t, w.Closed)
	assert.Zero(t, w.RemainingOwnership)
	assert.Empty(t, l.InvestorPortfolio("alice"))
	assert.Equal(t, 5.0, l.TotalInvested("bot1"))

	_, err = l.Withdraw(ctx, "alice", "bot1", 1)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestWithdrawDustClosesPosition(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 1)

	w, err := l.Withdraw(ctx, "alice", "bot1", 0.9995)
	require.NoError(t, err)
	assert.True(t, w.Closed)
	assert.Zero(t, l.TotalInvested("bot1"))
	assert.Empty(t, l.Snapshot().Investments)
}

func TestWithdrawErrors(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())

	_, err := l.Withdraw(ctx, "alice", "bot1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = l.Withdraw(ctx, "alice", "bot1", 1)
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 1)
	_, err = l.Withdraw(ctx, "alice", "bot1", 11.5)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "available 11.0000")
	assert.Equal(t, 10.0, l.Principal("alice", "bot1"))
}

func TestWithdrawAll(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 2.5)

	w, err := l.WithdrawAll(ctx, "alice", "bot1")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, w.TotalWithdrawn, 1e-9)
	assert.True(t, w.Closed)
	assert.Zero(t, l.Earned("alice", "bot1"))
	assert.Empty(t, l.InvestorPortfolio("alice"))

	_, err = l.WithdrawAll(ctx, "alice", "bot1")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestWithdrawTransfersToAddressBook(t *testing.T) {
	book, err := wallet.NewAddressBook(map[string]string{"alice": payout})
	require.NoError(t, err)
	mem := wallet.NewMemory()
	l := New(newRegistry(t, "bot1"), testLogger(), WithTransferer(mem, book))

	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	w, err := l.Withdraw(ctx, "alice", "bot1", 4)
	require.NoError(t, err)
	assert.NotEmpty(t, w.TxID)

	transfers := mem.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, payout, transfers[0].To)
	assert.Equal(t, 4.0, transfers[0].Amount)

	_, _ = l.Invest(ctx, "bob", "bot1", 10)
	_, err = l.Withdraw(ctx, "bob", "bot1", 1)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, 10.0, l.Principal("bob", "bot1"))
}

func TestTransferFailureRollsBackPrincipalOnly(t *testing.T) {
	book, err := wallet.NewAddressBook(map[string]string{"alice": payout})
	require.NoError(t, err)
	mem := wallet.NewMemory()
	mem.FailWith(errors.New("rpc unavailable"))
	l := New(newRegistry(t, "bot1"), testLogger(), WithTransferer(mem, book))

	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 2)

	_, err = l.Withdraw(ctx, "alice", "bot1", 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorContains(t, err, "rpc unavailable")

	assert.Equal(t, 10.0, l.Principal("alice", "bot1"))
	assert.Equal(t, 10.0, l.TotalInvested("bot1"))
	require.Len(t, l.InvestorPortfolio("alice"), 1)
	// earnings scaling is not restored
	assert.Zero(t, l.Earned("alice", "bot1"))
}

func TestConcurrentWithdrawalsAreSerialized(t *testing.T) {
	l := New(newRegistry(t, "bot1"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Withdraw(ctx, "alice", "bot1", 3); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.InDelta(t, 1.0, l.Principal("alice", "bot1"), 1e-9)
	assert.InDelta(t, 1.0, l.TotalInvested("bot1"), 1e-9)
}

func TestPortfolioSortedByROI(t *testing.T) {
	l := New(newRegistry(t, "low", "high", "none"), testLogger())
	_, _ = l.Invest(ctx, "alice", "low", 100)
	_, _ = l.Invest(ctx, "alice", "high", 10)
	_, _ = l.Invest(ctx, "alice", "none", 10)
	l.DistributeEarnings(ctx, "low", 1)
	l.DistributeEarnings(ctx, "high", 5)

	p := l.InvestorPortfolio("alice")
	require.Len(t, p, 3)
	assert.Equal(t, []string{"high", "low", "none"}, []string{p[0].AgentID, p[1].AgentID, p[2].AgentID})
	assert.InDelta(t, 50.0, p[0].ROI, 1e-9)
	assert.InDelta(t, 15.0, p[0].CurrentValue, 1e-9)
}

func TestBotStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	reg := newRegistry(t, "bot1")
	l := New(reg, testLogger(), WithClock(func() time.Time { return clock }))

	investors := []struct {
		id     string
		amount float64
	}{{"a", 10}, {"b", 60}, {"c", 5}, {"d", 20}, {"e", 1}, {"f", 4}}
	for _, inv := range investors {
		_, err := l.Invest(ctx, inv.id, "bot1", inv.amount)
		require.NoError(t, err)
	}

	clock = now.Add(-48 * time.Hour)
	l.DistributeEarnings(ctx, "bot1", 50)
	clock = now.Add(-time.Hour)
	l.DistributeEarnings(ctx, "bot1", 1)
	clock = now

	s, err := l.BotStats("bot1")
	require.NoError(t, err)
	assert.Equal(t, 6, s.InvestorCount)
	assert.Equal(t, 100.0, s.TotalInvested)
	assert.InDelta(t, 1.0/100*365*100, s.ProjectedAPY, 1e-9)
	require.Len(t, s.TopInvestors, 5)
	assert.Equal(t, "b", s.TopInvestors[0].InvestorID)
	assert.Equal(t, "d", s.TopInvestors[1].InvestorID)
	assert.Equal(t, 60.0, s.TopInvestors[0].Ownership)

	again, err := l.BotStats("bot1")
	require.NoError(t, err)
	assert.Equal(t, s, again)

	_, err = l.BotStats("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopOpportunities(t *testing.T) {
	reg := newRegistry(t, "quiet", "hot", "paused")
	p, _ := reg.Get("paused")
	p.Pause()
	l := New(reg, testLogger())

	_, _ = l.Invest(ctx, "alice", "hot", 10)
	_, _ = l.Invest(ctx, "alice", "quiet", 1000)
	l.DistributeEarnings(ctx, "hot", 1)
	l.DistributeEarnings(ctx, "quiet", 1)

	ops := l.TopOpportunities(0)
	require.Len(t, ops, 2)
	assert.Equal(t, "hot", ops[0].AgentID)
	assert.InDelta(t, 0.1*365*100, ops[0].ProjectedAPY, 1e-6)
	assert.Equal(t, 1, ops[0].InvestorCount)

	assert.Len(t, l.TopOpportunities(1), 1)
}

func TestLeaderboard(t *testing.T) {
	l := New(newRegistry(t, "bot1", "bot2"), testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 5)
	_, _ = l.Invest(ctx, "alice", "bot2", 5)
	_, _ = l.Invest(ctx, "bob", "bot1", 20)
	l.DistributeEarnings(ctx, "bot2", 1)

	board := l.Leaderboard(0)
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].InvestorID)
	assert.Equal(t, 2, board[1].Positions)
	assert.InDelta(t, 11.0, board[1].TotalValue, 1e-9)
	assert.Len(t, l.Leaderboard(1), 1)
}

func TestSnapshotRestore(t *testing.T) {
	reg := newRegistry(t, "bot1", "bot2")
	l := New(reg, testLogger())
	_, _ = l.Invest(ctx, "alice", "bot1", 30)
	_, _ = l.Invest(ctx, "bob", "bot1", 70)
	_, _ = l.Invest(ctx, "alice", "bot2", 5)
	l.DistributeEarnings(ctx, "bot1", 10)

	snap := l.Snapshot()
	assert.Equal(t, []string{"bot1", "bot2"}, snap.Portfolios["alice"])

	restored := New(reg, testLogger())
	restored.Restore(snap)
	assert.Equal(t, l.InvestorPortfolio("alice"), restored.InvestorPortfolio("alice"))
	assert.Equal(t, 100.0, restored.TotalInvested("bot1"))
	assert.InDelta(t, 7.0, restored.Earned("bob", "bot1"), 1e-9)

	// the snapshot is a copy
	snap.Investments["bot1"]["alice"] = 999
	assert.Equal(t, 30.0, restored.Principal("alice", "bot1"))
}

func TestHooksEmitted(t *testing.T) {
	hm := hooks.NewManager(testLogger())
	var events []string
	hm.OnAll("test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event)
		return nil
	})
	l := New(newRegistry(t, "bot1"), testLogger(), WithHooks(hm))

	_, _ = l.Invest(ctx, "alice", "bot1", 10)
	l.DistributeEarnings(ctx, "bot1", 1)
	_, _ = l.Withdraw(ctx, "alice", "bot1", 1)

	assert.Equal(t, []string{
		hooks.EventInvestmentMade,
		hooks.EventEarningsDistributed,
		hooks.EventWithdrawalCompleted,
	}, events)
}

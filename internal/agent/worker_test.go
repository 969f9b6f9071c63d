package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

func newTestWorker(env *environment.Environment, gw domain.MarketGateway) *Worker {
	return NewWorker("worker-000", env, gw, time.Second, testLogger())
}

func openTestPosition(t *testing.T, env *environment.Environment, orderID, symbol string, size float64, owner string) *domain.Position {
	t.Helper()
	pos, err := domain.NewPosition(orderID, symbol, size, 150.0, domain.DirectionLong, owner)
	require.NoError(t, err)
	env.AddPosition(pos)
	return pos
}

func TestWorker_ProcessOpportunities(t *testing.T) {
	t.Run("fills against a sufficient allocation", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 100000)

		w.processOpportunities(context.Background())

		orders := gw.submittedOrders()
		require.Len(t, orders, 1)
		assert.Equal(t, "AAPL", orders[0].Symbol)
		assert.Equal(t, domain.DirectionLong, orders[0].Direction)
		assert.InDelta(t, 100000*RiskPerTrade, orders[0].Size, 1e-9)
		assert.Equal(t, 150.0, orders[0].LimitPrice)

		assert.Equal(t, 1, env.PositionCount())
		stats := w.Stats()
		assert.Equal(t, uint64(1), stats.Attempted)
		assert.Equal(t, uint64(1), stats.Succeeded)
	})

	t.Run("skips when allocation is below minimum trade size", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 500)

		w.processOpportunities(context.Background())

		assert.Empty(t, gw.submittedOrders())
		assert.Zero(t, env.PositionCount())
		stats := w.Stats()
		assert.Equal(t, uint64(1), stats.Attempted, "a skipped opportunity is still an attempt")
		assert.Zero(t, stats.Succeeded)
	})

	t.Run("one strong danger vetoes, many weak ones do not", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		depositSignal(t, env, domain.SignalDanger, "AAPL", 150, 0.9)
		depositSignal(t, env, domain.SignalDanger, "AAPL", 150, 0.4)
		env.SetAllocation("AAPL", 100000)

		w.processOpportunities(context.Background())
		assert.Empty(t, gw.submittedOrders(), "0.9 danger outweighs the 0.7 opportunity")
		assert.Equal(t, uint64(1), w.Stats().Attempted)
		assert.Zero(t, w.Stats().Succeeded)

		// With only weak dangers the trade proceeds: strengths do not sum.
		env2 := environment.New()
		gw2 := &stubGateway{}
		w2 := newTestWorker(env2, gw2)

		depositSignal(t, env2, domain.SignalOpportunity, "AAPL", 150, 0.7)
		depositSignal(t, env2, domain.SignalDanger, "AAPL", 150, 0.4)
		depositSignal(t, env2, domain.SignalDanger, "AAPL", 150, 0.4)
		env2.SetAllocation("AAPL", 100000)

		w2.processOpportunities(context.Background())
		assert.Len(t, gw2.submittedOrders(), 1)
	})

	t.Run("position size is capped", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 1000000) // 2% would be 20000, above the cap

		w.processOpportunities(context.Background())

		orders := gw.submittedOrders()
		require.Len(t, orders, 1)
		assert.Equal(t, MaxPositionSize, orders[0].Size)
	})

	t.Run("considers at most the top opportunities", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN", "NVDA"}
		for i, sym := range symbols {
			depositSignal(t, env, domain.SignalOpportunity, sym, 150, 0.9-float64(i)*0.05)
			env.SetAllocation(sym, 100000)
		}

		w.processOpportunities(context.Background())

		orders := gw.submittedOrders()
		require.Len(t, orders, TopOpportunities)
		assert.Equal(t, "AAPL", orders[0].Symbol)
		assert.Equal(t, "MSFT", orders[1].Symbol)
		assert.Equal(t, "GOOG", orders[2].Symbol)
	})

	t.Run("reinforcement only weakens the trail", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 100000)

		w.processOpportunities(context.Background())

		opps := env.Query(domain.SignalOpportunity, "AAPL")
		require.Len(t, opps, 2)

		var reinforced *domain.Signal
		for _, s := range opps {
			if s.Metadata["reinforcement"] == "true" {
				reinforced = s
			}
		}
		require.NotNil(t, reinforced)
		assert.LessOrEqual(t, reinforced.Strength, 0.7*ReinforcementFactor+1e-9)
		assert.Equal(t, "worker-000", reinforced.SourceAgent)
	})

	t.Run("gateway failure counts as attempted not successful", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{submitFn: func(domain.OrderRequest) (*domain.OrderFill, error) {
			return nil, domain.ErrUnavailable
		}}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 100000)

		w.processOpportunities(context.Background())

		assert.Zero(t, env.PositionCount())
		stats := w.Stats()
		assert.Equal(t, uint64(1), stats.Attempted)
		assert.Zero(t, stats.Succeeded)
	})

	t.Run("unfilled order leaves the ledger untouched", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{submitFn: func(domain.OrderRequest) (*domain.OrderFill, error) {
			return &domain.OrderFill{OrderID: "ord-1", Filled: false}, nil
		}}
		w := newTestWorker(env, gw)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
		env.SetAllocation("AAPL", 100000)

		w.processOpportunities(context.Background())

		assert.Zero(t, env.PositionCount())
		assert.Empty(t, env.Query(domain.SignalOpportunity, "AAPL")[1:], "no reinforcement without a fill")
	})
}

func TestWorker_ManagePositions(t *testing.T) {
	t.Run("closes positions past the holding period", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.managePositions(context.Background())

		assert.Zero(t, env.PositionCount())
		assert.Equal(t, []string{"ord-1"}, gw.closedOrders)
		assert.InDelta(t, 42.0, w.Stats().PnL, 1e-9)
	})

	t.Run("closes positions under a high-risk danger signal", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		depositSignal(t, env, domain.SignalDanger, "AAPL", 150, 0.9)

		w.managePositions(context.Background())
		assert.Zero(t, env.PositionCount())
	})

	t.Run("holds fresh positions with tolerable risk", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		depositSignal(t, env, domain.SignalDanger, "AAPL", 150, 0.5)

		w.managePositions(context.Background())

		assert.Equal(t, 1, env.PositionCount())
		assert.Empty(t, gw.closedOrders)
	})

	t.Run("never touches another worker's positions", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-999")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.managePositions(context.Background())
		assert.Equal(t, 1, env.PositionCount())
	})

	t.Run("gateway failure defers the close", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{closeFn: func(string) (*domain.CloseResult, error) {
			return nil, domain.ErrUnavailable
		}}
		w := newTestWorker(env, gw)

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.managePositions(context.Background())

		assert.Equal(t, 1, env.PositionCount(), "ledger entry stays until the gateway confirms")
		stats := w.Stats()
		assert.Equal(t, uint64(1), stats.Attempted)
		assert.Zero(t, stats.Succeeded)
	})

	t.Run("close is recorded exactly once", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")

		w.closePosition(context.Background(), pos, false)
		w.closePosition(context.Background(), pos, false)

		stats := w.Stats()
		assert.Equal(t, uint64(1), stats.Attempted)
		assert.InDelta(t, 42.0, stats.PnL, 1e-9, "PnL is never double counted")
	})
}

type recorderStub struct {
	recorded []string
	err      error
}

func (r *recorderStub) RecordClosedTrade(_ context.Context, pos *domain.Position, _ float64, _ time.Time) error {
	r.recorded = append(r.recorded, pos.OrderID)
	return r.err
}

func TestWorker_Recorder(t *testing.T) {
	t.Run("closed trades reach the recorder", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)
		rec := &recorderStub{}
		w.SetRecorder(rec)

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.managePositions(context.Background())
		assert.Equal(t, []string{"ord-1"}, rec.recorded)
	})

	t.Run("recorder failure never fails the close", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)
		w.SetRecorder(&recorderStub{err: errors.New("disk full")})

		pos := openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.managePositions(context.Background())

		assert.Zero(t, env.PositionCount())
		assert.Equal(t, uint64(1), w.Stats().Succeeded)
	})
}

func TestWorker_RunCycle(t *testing.T) {
	t.Run("reduce-activity directive suppresses new trades only", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		sig, err := domain.NewSignal(domain.SignalCoordination, SymbolSystem, 0, 0.8, "queen-001", map[string]string{
			"action": "reduce_activity",
		})
		require.NoError(t, err)
		env.Deposit(sig)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.9)
		env.SetAllocation("AAPL", 100000)

		pos := openTestPosition(t, env, "ord-old", "MSFT", 2000, "worker-000")
		pos.OpenedAt = time.Now().Add(-25 * time.Hour)

		w.RunCycle(context.Background())

		assert.Empty(t, gw.submittedOrders(), "no new trades under reduce_activity")
		assert.Equal(t, []string{"ord-old"}, gw.closedOrders, "position management still runs")
	})

	t.Run("resting worker does nothing but recover", func(t *testing.T) {
		env := environment.New()
		gw := &stubGateway{}
		w := newTestWorker(env, gw)
		w.adjustEnergy(-0.9)

		depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.9)
		env.SetAllocation("AAPL", 100000)

		w.RunCycle(context.Background())

		assert.Empty(t, gw.submittedOrders())
		assert.InDelta(t, 0.1+RestRecovery, w.Stats().Energy, 1e-9)
	})

	t.Run("spends energy per active cycle", func(t *testing.T) {
		env := environment.New()
		w := newTestWorker(env, &stubGateway{})

		w.RunCycle(context.Background())
		assert.InDelta(t, 1.0-workerEnergyCost, w.Stats().Energy, 1e-9)
	})
}

func TestWorker_PinnedClockDrivesDecay(t *testing.T) {
	t.Run("advisory lapses as the coordination signal decays", func(t *testing.T) {
		env := environment.New()
		base := time.Now()
		env.SetClock(func() time.Time { return base })

		gw := &stubGateway{}
		w := newTestWorker(env, gw)

		advisory, err := domain.NewSignal(domain.SignalCoordination, SymbolSystem, 0, 0.8, "queen-001", map[string]string{
			"action": "reduce_activity",
		})
		require.NoError(t, err)
		advisory.CreatedAt = base
		env.Deposit(advisory)

		opp, err := domain.NewSignal(domain.SignalOpportunity, "AAPL", 150, 0.9, "scout-000", nil)
		require.NoError(t, err)
		opp.CreatedAt = base
		env.Deposit(opp)
		env.SetAllocation("AAPL", 100000)

		require.True(t, w.reduceActivityAdvised())
		w.RunCycle(context.Background())
		assert.Empty(t, gw.submittedOrders())

		// Ten minutes on: 0.8 * e^(-0.05*10) ~= 0.485, below the advisory
		// floor, so new trades resume.
		env.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
		require.False(t, w.reduceActivityAdvised())
		w.RunCycle(context.Background())
		assert.Len(t, gw.submittedOrders(), 1)
	})

	t.Run("holding period ages out under the environment clock", func(t *testing.T) {
		env := environment.New()
		base := time.Now()
		env.SetClock(func() time.Time { return base })

		gw := &stubGateway{}
		w := newTestWorker(env, gw)
		openTestPosition(t, env, "ord-1", "AAPL", 2000, "worker-000")

		w.managePositions(context.Background())
		assert.Empty(t, gw.closedOrders, "fresh position stays open")

		env.SetClock(func() time.Time { return base.Add(MaxHoldingPeriod + time.Hour) })
		w.managePositions(context.Background())
		assert.Equal(t, []string{"ord-1"}, gw.closedOrders)
		assert.Zero(t, env.PositionCount())
	})
}

func TestWorker_ShortDirectionFromMetadata(t *testing.T) {
	env := environment.New()
	gw := &stubGateway{}
	w := newTestWorker(env, gw)

	sig, err := domain.NewSignal(domain.SignalOpportunity, "AAPL", 150, 0.7, "scout-000", map[string]string{
		"direction": string(domain.DirectionShort),
	})
	require.NoError(t, err)
	env.Deposit(sig)
	env.SetAllocation("AAPL", 100000)

	w.processOpportunities(context.Background())

	orders := gw.submittedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.DirectionShort, orders[0].Direction)
}

func TestWorker_UnexpectedGatewayError(t *testing.T) {
	env := environment.New()
	gw := &stubGateway{submitFn: func(domain.OrderRequest) (*domain.OrderFill, error) {
		return nil, errors.New("boom")
	}}
	w := newTestWorker(env, gw)

	depositSignal(t, env, domain.SignalOpportunity, "AAPL", 150, 0.7)
	env.SetAllocation("AAPL", 100000)

	// Must not panic; the failure is absorbed and counted.
	w.processOpportunities(context.Background())
	assert.Equal(t, uint64(1), w.Stats().Attempted)
	assert.Zero(t, w.Stats().Succeeded)
}

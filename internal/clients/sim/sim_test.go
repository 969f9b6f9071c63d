package sim

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmlab/apiary/internal/domain"
)

func TestGateway_CurrentPrice(t *testing.T) {
	g := New([]string{"AAPL"}, 1)

	p1, err := g.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Greater(t, p1, 0.0)

	p2, err := g.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Greater(t, p2, 0.0)
	assert.InDelta(t, p1, p2, p1*0.05, "one step moves the price only slightly")

	t.Run("unknown symbol walks from the default", func(t *testing.T) {
		p, err := g.CurrentPrice(context.Background(), "ZZZZ")
		require.NoError(t, err)
		assert.Greater(t, p, 0.0)
	})

	t.Run("cancelled context maps to unavailable", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := g.CurrentPrice(ctx, "AAPL")
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	})
}

func TestGateway_OptionChain(t *testing.T) {
	g := New([]string{"AAPL"}, 1)

	chain, err := g.OptionChain(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", chain.Symbol)
	assert.Len(t, chain.Strikes, 11)
	assert.NotEmpty(t, chain.Expirations)
	for i := 1; i < len(chain.Strikes); i++ {
		assert.Greater(t, chain.Strikes[i], chain.Strikes[i-1])
	}
}

func TestGateway_OrderLifecycle(t *testing.T) {
	g := New([]string{"AAPL"}, 1)

	t.Run("rejects malformed orders", func(t *testing.T) {
		_, err := g.SubmitOrder(context.Background(), domain.OrderRequest{Symbol: "", Size: 100})
		assert.Error(t, err)

		_, err = g.SubmitOrder(context.Background(), domain.OrderRequest{Symbol: "AAPL", Size: 0})
		assert.Error(t, err)
	})

	t.Run("filled order can be closed exactly once", func(t *testing.T) {
		var fill *domain.OrderFill
		for i := 0; i < 50; i++ {
			f, err := g.SubmitOrder(context.Background(), domain.OrderRequest{
				Symbol:     "AAPL",
				Direction:  domain.DirectionLong,
				Size:       2000,
				LimitPrice: 150,
			})
			require.NoError(t, err)
			if f.Filled {
				fill = f
				break
			}
		}
		require.NotNil(t, fill, "fills are probabilistic but 50 misses in a row is broken")
		assert.Equal(t, 150.0, fill.Price)
		assert.Equal(t, 1, g.OpenOrderCount())

		res, err := g.ClosePosition(context.Background(), fill.OrderID)
		require.NoError(t, err)
		assert.Equal(t, fill.OrderID, res.OrderID)
		assert.Zero(t, g.OpenOrderCount())

		// Retrying a close is harmless.
		res, err = g.ClosePosition(context.Background(), fill.OrderID)
		require.NoError(t, err)
		assert.Zero(t, res.RealizedPnL)
	})
}

func TestGateway_ConcurrentAccess(t *testing.T) {
	g := New([]string{"AAPL", "MSFT"}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = g.CurrentPrice(context.Background(), "AAPL")
				if n%2 == 0 {
					fill, err := g.SubmitOrder(context.Background(), domain.OrderRequest{
						Symbol: "MSFT", Direction: domain.DirectionLong, Size: 1000, LimitPrice: 150,
					})
					if err == nil && fill.Filled {
						_, _ = g.ClosePosition(context.Background(), fill.OrderID)
					}
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, g.OpenOrderCount())
}

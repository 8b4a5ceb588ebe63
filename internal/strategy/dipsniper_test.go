package strategy

import (
	"testing"

	"gridbot/internal/core"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSniper() *DipSniper {
	return NewDipSniper(DipSniperConfig{
		Window:      5,
		DipPct:      5.0,
		ReboundPct:  3.0,
		StopLossPct: 4.0,
		OrderQuote:  25,
	}, logging.GetGlobalLogger())
}

func TestDipSniper_BuysSharpDrop(t *testing.T) {
	d := newTestSniper()

	for _, p := range []float64{100, 100, 100, 100} {
		assert.Nil(t, d.Observe("BTC/USD", p))
	}

	// 6% below the rolling high of 100
	sig := d.Observe("BTC/USD", 94)
	require.NotNil(t, sig)
	assert.Equal(t, core.SideBuy, sig.Side)
	assert.Equal(t, "dip", sig.Reason)
}

func TestDipSniper_IgnoresShallowDrop(t *testing.T) {
	d := newTestSniper()
	for _, p := range []float64{100, 100, 100, 100} {
		assert.Nil(t, d.Observe("BTC/USD", p))
	}
	assert.Nil(t, d.Observe("BTC/USD", 97))
}

func TestDipSniper_ReboundExit(t *testing.T) {
	d := newTestSniper()
	d.MarkEntered("BTC/USD", decimal.NewFromFloat(0.3), 94)

	sig := d.Observe("BTC/USD", 97)
	require.NotNil(t, sig)
	assert.Equal(t, core.SideSell, sig.Side)
	assert.Equal(t, "rebound", sig.Reason)
}

func TestDipSniper_StopLossExit(t *testing.T) {
	d := newTestSniper()
	d.MarkEntered("BTC/USD", decimal.NewFromFloat(0.3), 94)

	sig := d.Observe("BTC/USD", 90)
	require.NotNil(t, sig)
	assert.Equal(t, core.SideSell, sig.Side)
	assert.Equal(t, "stop_loss", sig.Reason)
}

func TestDipSniper_PositionLifecycle(t *testing.T) {
	d := newTestSniper()
	assert.True(t, d.Position("BTC/USD").IsZero())

	amount := decimal.NewFromFloat(0.3)
	d.MarkEntered("BTC/USD", amount, 94)
	assert.True(t, d.Position("BTC/USD").Equal(amount))
	assert.True(t, d.OrderQuote().Equal(decimal.NewFromInt(25)))

	d.MarkExited("BTC/USD")
	assert.True(t, d.Position("BTC/USD").IsZero())
}

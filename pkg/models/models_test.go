package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func TestOrderStatusIsTerminal(t *testing.T) {
	assert.False(t, OrderStatusNew.IsTerminal())
	assert.False(t, OrderStatusPartiallyFilled.IsTerminal())
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
}

func TestFloorToTick(t *testing.T) {
	tick := d("0.01")
	assert.True(t, FloorToTick(d("99.9529985"), tick).Equal(d("99.95")))
	assert.True(t, FloorToTick(d("99.95"), tick).Equal(d("99.95")), "aligned price is unchanged")
	assert.True(t, FloorToTick(d("0.049975"), d("0.01")).Equal(d("0.04")))
	assert.True(t, FloorToTick(d("1.23"), decimal.Zero).Equal(d("1.23")), "zero tick passes through")
}

func TestCeilToTick(t *testing.T) {
	tick := d("0.01")
	assert.True(t, CeilToTick(d("100.0530015"), tick).Equal(d("100.06")))
	assert.True(t, CeilToTick(d("100.05"), tick).Equal(d("100.05")), "aligned price is unchanged")
	assert.True(t, CeilToTick(d("1.23"), decimal.Zero).Equal(d("1.23")))
}

func TestQuotePairCrossed(t *testing.T) {
	bid := &Quote{Price: d("99.95"), Size: d("1")}
	ask := &Quote{Price: d("100.05"), Size: d("1")}
	assert.False(t, QuotePair{Bid: bid, Ask: ask}.Crossed())

	// locked counts as crossed
	locked := &Quote{Price: d("99.95"), Size: d("1")}
	assert.True(t, QuotePair{Bid: bid, Ask: locked}.Crossed())

	through := &Quote{Price: d("99.90"), Size: d("1")}
	assert.True(t, QuotePair{Bid: bid, Ask: through}.Crossed())

	// one-sided pairs never self-cross
	assert.False(t, QuotePair{Bid: bid}.Crossed())
	assert.False(t, QuotePair{Ask: ask}.Crossed())
	assert.False(t, QuotePair{}.Crossed())
}

func baseParams() QuotingParameters {
	return QuotingParameters{
		InstrumentID:      "BTC-USD",
		FairValueModel:    "mid",
		BidSpreadBps:      d("10"),
		AskSpreadBps:      d("10"),
		OrderSize:         d("1"),
		LadderDepth:       3,
		LadderGroupingBps: d("5"),
		Mode:              QuoterModeSingle,
	}
}

func TestQuotingParametersEqual(t *testing.T) {
	a := baseParams()
	b := baseParams()
	assert.True(t, a.Equal(b))

	// decimals compare by value, not representation
	b.BidSpreadBps = d("10.0")
	assert.True(t, a.Equal(b))

	b.BidSpreadBps = d("20")
	assert.False(t, a.Equal(b))
}

func TestQuotingParametersRequiresRedeploy(t *testing.T) {
	a := baseParams()

	tuned := baseParams()
	tuned.BidSpreadBps = d("20")
	tuned.OrderSize = d("2")
	assert.False(t, a.RequiresRedeploy(tuned), "numeric tuning applies in place")

	mode := baseParams()
	mode.Mode = QuoterModeLayered
	assert.True(t, a.RequiresRedeploy(mode))

	model := baseParams()
	model.FairValueModel = "imbalance"
	assert.True(t, a.RequiresRedeploy(model))

	source := baseParams()
	source.FairValueInstrumentID = "BTC-USDT"
	assert.True(t, a.RequiresRedeploy(source))
}

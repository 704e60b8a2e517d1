// Package models holds the shared value types of the quoting core.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book an order or quote belongs to.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether no further status transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// QuoteStatus is the validator's verdict for one side of a quote pair.
type QuoteStatus string

const (
	QuoteStatusLive QuoteStatus = "live"
	QuoteStatusHeld QuoteStatus = "held"
)

// QuoterMode selects how a side keeps orders resting on the book.
type QuoterMode string

const (
	// QuoterModeSingle keeps one resting order per side.
	QuoterModeSingle QuoterMode = "single"
	// QuoterModeLayered keeps a ladder of up to LadderDepth orders per side.
	QuoterModeLayered QuoterMode = "layered"
)

// Instrument describes a tradable instrument as the exchange defines it.
type Instrument struct {
	ID       string          `json:"id"`
	TickSize decimal.Decimal `json:"tick_size"`
	LotSize  decimal.Decimal `json:"lot_size"`
}

// QuotingParameters is the full tunable parameter set for one quoting
// instance. Instances are compared by value to decide whether a parameter
// update can be applied in place or requires a redeploy.
type QuotingParameters struct {
	InstrumentID          string          `json:"instrument_id"`
	BookName              string          `json:"book_name"`
	FairValueModel        string          `json:"fair_value_model"`
	FairValueInstrumentID string          `json:"fair_value_instrument_id"`
	BidSpreadBps          decimal.Decimal `json:"bid_spread_bps"`
	AskSpreadBps          decimal.Decimal `json:"ask_spread_bps"`
	SkewBps               decimal.Decimal `json:"skew_bps"`
	OrderSize             decimal.Decimal `json:"order_size"`
	LadderDepth           int             `json:"ladder_depth"`
	LadderGroupingBps     decimal.Decimal `json:"ladder_grouping_bps"`
	Mode                  QuoterMode      `json:"mode"`
	PostOnly              bool            `json:"post_only"`
	MaxSideFills          decimal.Decimal `json:"max_side_fills"`
}

// Equal reports whether two parameter sets are identical in value.
func (p QuotingParameters) Equal(o QuotingParameters) bool {
	return p.InstrumentID == o.InstrumentID &&
		p.BookName == o.BookName &&
		p.FairValueModel == o.FairValueModel &&
		p.FairValueInstrumentID == o.FairValueInstrumentID &&
		p.BidSpreadBps.Equal(o.BidSpreadBps) &&
		p.AskSpreadBps.Equal(o.AskSpreadBps) &&
		p.SkewBps.Equal(o.SkewBps) &&
		p.OrderSize.Equal(o.OrderSize) &&
		p.LadderDepth == o.LadderDepth &&
		p.LadderGroupingBps.Equal(o.LadderGroupingBps) &&
		p.Mode == o.Mode &&
		p.PostOnly == o.PostOnly &&
		p.MaxSideFills.Equal(o.MaxSideFills)
}

// RequiresRedeploy reports whether switching to o changes the wiring of the
// quoting object graph rather than numeric tuning. Model, source instrument
// and quoter mode all select components at construction time.
func (p QuotingParameters) RequiresRedeploy(o QuotingParameters) bool {
	return p.FairValueModel != o.FairValueModel ||
		p.FairValueInstrumentID != o.FairValueInstrumentID ||
		p.Mode != o.Mode
}

// Quote is one side's target: a price and a size.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// QuotePair is a two-sided quote target for one instrument. A nil side
// means there is no target on that side.
type QuotePair struct {
	InstrumentID string    `json:"instrument_id"`
	Bid          *Quote    `json:"bid,omitempty"`
	Ask          *Quote    `json:"ask,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Crossed reports whether the pair crosses itself (bid at or through ask).
// A one-sided or empty pair never self-crosses.
func (p QuotePair) Crossed() bool {
	if p.Bid == nil || p.Ask == nil {
		return false
	}
	return p.Bid.Price.GreaterThanOrEqual(p.Ask.Price)
}

// TwoSidedQuoteStatus is the validator's per-side verdict for a pair.
type TwoSidedQuoteStatus struct {
	InstrumentID string      `json:"instrument_id"`
	Bid          QuoteStatus `json:"bid"`
	Ask          QuoteStatus `json:"ask"`
}

// BookSnapshot carries the best bid/ask for an instrument as maintained by
// the (external) book ingestion layer.
type BookSnapshot struct {
	InstrumentID string          `json:"instrument_id"`
	BestBid      decimal.Decimal `json:"best_bid"`
	BestBidSize  decimal.Decimal `json:"best_bid_size"`
	BestAsk      decimal.Decimal `json:"best_ask"`
	BestAskSize  decimal.Decimal `json:"best_ask_size"`
	Timestamp    time.Time       `json:"timestamp"`
}

// FloorToTick rounds price down to the nearest multiple of tick.
// A zero tick returns the price unchanged.
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// CeilToTick rounds price up to the nearest multiple of tick.
// A zero tick returns the price unchanged.
func CeilToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}

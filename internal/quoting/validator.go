package quoting

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// QuoteValidator decides, per side, whether a proposed quote pair may go
// live. It enforces two checks: the pair must not cross itself, and when a
// market snapshot is available neither side may take liquidity from the
// live book. A nil market degrades to the self-crossing check alone.
type QuoteValidator struct{}

// ShouldQuoteBeLive gates a proposed pair. A self-crossed pair holds both
// sides rather than guessing which side to favor.
func (QuoteValidator) ShouldQuoteBeLive(pair models.QuotePair, market *models.BookSnapshot) models.TwoSidedQuoteStatus {
	status := models.TwoSidedQuoteStatus{
		InstrumentID: pair.InstrumentID,
		Bid:          models.QuoteStatusHeld,
		Ask:          models.QuoteStatusHeld,
	}

	if pair.Bid == nil && pair.Ask == nil {
		return status
	}
	if pair.Crossed() {
		return status
	}

	if pair.Bid != nil && !wouldCrossMarket(pair.Bid.Price, models.SideBuy, market) {
		status.Bid = models.QuoteStatusLive
	}
	if pair.Ask != nil && !wouldCrossMarket(pair.Ask.Price, models.SideSell, market) {
		status.Ask = models.QuoteStatusLive
	}
	return status
}

// wouldCrossMarket reports whether resting at price would trade against the
// live opposite side. A missing market or an empty opposite side cannot be
// crossed.
func wouldCrossMarket(price decimal.Decimal, side models.Side, market *models.BookSnapshot) bool {
	if market == nil {
		return false
	}
	if side == models.SideBuy {
		return !market.BestAsk.IsZero() && price.GreaterThanOrEqual(market.BestAsk)
	}
	return !market.BestBid.IsZero() && price.LessThanOrEqual(market.BestBid)
}

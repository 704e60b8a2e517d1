package quoting

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// SideQuoter is the narrow interface shared by the two quote placement
// modes. The concrete mode is fixed per instrument at construction time
// from QuotingParameters.
type SideQuoter interface {
	UpdateAsync(ctx context.Context, target models.Quote) error
	CancelAllAsync(ctx context.Context) error
	SetFillHandler(fn func(OrderFill))
}

// MarketMaker coordinates both sides of one instrument: it gates a target
// pair through the validator, then drives each side's quoter independently.
// Sides never block each other.
type MarketMaker struct {
	instrument models.Instrument
	validator  QuoteValidator
	bid        SideQuoter
	ask        SideQuoter
	logger     *zap.Logger

	mu     sync.Mutex
	market *models.BookSnapshot
}

// NewMarketMaker builds the per-instrument coordinator with one quoter per
// side in the configured mode.
func NewMarketMaker(instrument models.Instrument, params models.QuotingParameters, factory OrderFactory, gateway OrderGateway, logger *zap.Logger) *MarketMaker {
	var bid, ask SideQuoter
	if params.Mode == models.QuoterModeLayered {
		bid = NewLayeredQuoteManager(instrument, models.SideBuy, params, factory, gateway, logger)
		ask = NewLayeredQuoteManager(instrument, models.SideSell, params, factory, gateway, logger)
	} else {
		bid = NewQuoter(instrument, models.SideBuy, params, factory, logger)
		ask = NewQuoter(instrument, models.SideSell, params, factory, logger)
	}
	return &MarketMaker{
		instrument: instrument,
		bid:        bid,
		ask:        ask,
		logger:     logger.Named("marketmaker").With(zap.String("instrument", instrument.ID)),
	}
}

// SetFillHandler registers one callback that receives fills from both
// sides.
func (mm *MarketMaker) SetFillHandler(fn func(OrderFill)) {
	mm.bid.SetFillHandler(fn)
	mm.ask.SetFillHandler(fn)
}

// OnBookUpdate records the latest best bid/ask for the validator's
// market-crossing check.
func (mm *MarketMaker) OnBookUpdate(snapshot models.BookSnapshot) {
	mm.mu.Lock()
	mm.market = &snapshot
	mm.mu.Unlock()
}

func (mm *MarketMaker) marketSnapshot() *models.BookSnapshot {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.market
}

// UpdateQuoteTargetAsync validates the pair and drives both sides
// concurrently: a live side is forwarded to its quoter, a held side is
// cancelled.
func (mm *MarketMaker) UpdateQuoteTargetAsync(ctx context.Context, pair models.QuotePair) {
	status := mm.validator.ShouldQuoteBeLive(pair, mm.marketSnapshot())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		mm.applySide(ctx, models.SideBuy, mm.bid, pair.Bid, status.Bid)
	}()
	go func() {
		defer wg.Done()
		mm.applySide(ctx, models.SideSell, mm.ask, pair.Ask, status.Ask)
	}()
	wg.Wait()
}

func (mm *MarketMaker) applySide(ctx context.Context, side models.Side, quoter SideQuoter, quote *models.Quote, status models.QuoteStatus) {
	if status == models.QuoteStatusLive && quote != nil {
		if err := quoter.UpdateAsync(ctx, *quote); err != nil && !errors.Is(err, ErrUpdateInFlight) {
			mm.logger.Error("side update failed", zap.Error(err), zap.String("side", string(side)))
		}
		return
	}
	if quote != nil {
		QuotesHeld.WithLabelValues(mm.instrument.ID, string(side)).Inc()
	}
	if err := quoter.CancelAllAsync(ctx); err != nil && !errors.Is(err, ErrUpdateInFlight) {
		mm.logger.Error("side cancel failed", zap.Error(err), zap.String("side", string(side)))
	}
}

// CancelAllQuotesAsync cancels every resting quote on both sides. Used on
// engine Stop and on fair-value model swap.
func (mm *MarketMaker) CancelAllQuotesAsync(ctx context.Context) error {
	var wg sync.WaitGroup
	var bidErr, askErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		bidErr = mm.bid.CancelAllAsync(ctx)
	}()
	go func() {
		defer wg.Done()
		askErr = mm.ask.CancelAllAsync(ctx)
	}()
	wg.Wait()
	return errors.Join(bidErr, askErr)
}

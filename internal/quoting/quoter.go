package quoting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// ErrUpdateInFlight is returned when a quote update is rejected because a
// previous update on the same side has not completed. The caller relies on
// the next triggering event to retry; rejected updates are never queued.
var ErrUpdateInFlight = errors.New("quote update already in flight")

// Quoter keeps at most one resting limit order on one side of one
// instrument's book and re-prices it as the target moves.
//
// Updates are single-flight: overlapping calls race on a compare-and-swap
// and the loser is dropped. Replace and cancel are non-blocking round-trips
// that can race with server-side fills, so without the guard two
// overlapping calls could desynchronize the tracked reference from the
// exchange's true order state.
type Quoter struct {
	instrument models.Instrument
	side       models.Side
	postOnly   bool
	maxFills   decimal.Decimal
	factory    OrderFactory
	logger     *zap.Logger

	inFlight atomic.Bool

	mu          sync.Mutex
	activeOrder Order
	unsubStatus func()
	unsubFill   func()
	filled      decimal.Decimal
	onFill      func(OrderFill)
}

// NewQuoter builds a single-order quoter for one side of an instrument.
func NewQuoter(instrument models.Instrument, side models.Side, params models.QuotingParameters, factory OrderFactory, logger *zap.Logger) *Quoter {
	return &Quoter{
		instrument: instrument,
		side:       side,
		postOnly:   params.PostOnly,
		maxFills:   params.MaxSideFills,
		factory:    factory,
		logger:     logger.Named("quoter").With(zap.String("instrument", instrument.ID), zap.String("side", string(side))),
	}
}

// SetFillHandler registers the single callback that receives every fill on
// this side. Must be set before the first update.
func (q *Quoter) SetFillHandler(fn func(OrderFill)) {
	q.mu.Lock()
	q.onFill = fn
	q.mu.Unlock()
}

// ActiveOrder returns the currently tracked order, if any.
func (q *Quoter) ActiveOrder() Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeOrder
}

// FilledQuantity returns the cumulative filled quantity on this side.
func (q *Quoter) FilledQuantity() decimal.Decimal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filled
}

// UpdateQuoteAsync drives the resting order toward target. With no active
// order it submits a new one; a partially filled order is cancelled rather
// than re-priced; otherwise the order is replaced to the target price.
func (q *Quoter) UpdateQuoteAsync(ctx context.Context, target models.Quote) error {
	if !q.inFlight.CompareAndSwap(false, true) {
		q.logger.Warn("quote update rejected, previous update in flight",
			zap.String("price", target.Price.String()))
		UpdateRejections.WithLabelValues(q.instrument.ID, string(q.side)).Inc()
		return ErrUpdateInFlight
	}
	defer q.inFlight.Store(false)

	q.mu.Lock()
	active := q.activeOrder
	filled := q.filled
	q.mu.Unlock()

	if active == nil {
		if q.maxFills.IsPositive() && filled.GreaterThanOrEqual(q.maxFills) {
			q.logger.Info("fill cap reached, not placing new quote",
				zap.String("filled", filled.String()))
			return nil
		}
		return q.submitNew(ctx, target)
	}

	if active.LeavesQuantity().LessThan(active.Quantity()) {
		// Never re-price a partial fill; pull it and let the next event
		// place a fresh order.
		if err := active.Cancel(ctx); err != nil {
			q.logger.Error("cancel of partially filled quote failed", zap.Error(err),
				zap.String("client_order_id", active.ClientOrderID().String()))
			OrderRequestErrors.WithLabelValues(q.instrument.ID, string(q.side), "cancel").Inc()
			active.RevertPendingStateChange()
		}
		return nil
	}

	if active.Price().Equal(target.Price) {
		return nil
	}

	if err := active.Replace(ctx, target.Price, q.postOnly); err != nil {
		q.logger.Error("quote replace failed", zap.Error(err),
			zap.String("client_order_id", active.ClientOrderID().String()),
			zap.String("price", target.Price.String()))
		OrderRequestErrors.WithLabelValues(q.instrument.ID, string(q.side), "replace").Inc()
		active.RevertPendingStateChange()
	}
	return nil
}

// CancelQuoteAsync pulls the resting order if one is tracked.
func (q *Quoter) CancelQuoteAsync(ctx context.Context) error {
	if !q.inFlight.CompareAndSwap(false, true) {
		q.logger.Warn("quote cancel rejected, previous update in flight")
		UpdateRejections.WithLabelValues(q.instrument.ID, string(q.side)).Inc()
		return ErrUpdateInFlight
	}
	defer q.inFlight.Store(false)

	q.mu.Lock()
	active := q.activeOrder
	q.mu.Unlock()

	if active == nil {
		return nil
	}
	if err := active.Cancel(ctx); err != nil {
		q.logger.Error("quote cancel failed", zap.Error(err),
			zap.String("client_order_id", active.ClientOrderID().String()))
		OrderRequestErrors.WithLabelValues(q.instrument.ID, string(q.side), "cancel").Inc()
		active.RevertPendingStateChange()
	}
	return nil
}

// UpdateAsync and CancelAllAsync satisfy the narrow per-side interface
// shared with LayeredQuoteManager.
func (q *Quoter) UpdateAsync(ctx context.Context, target models.Quote) error {
	return q.UpdateQuoteAsync(ctx, target)
}

func (q *Quoter) CancelAllAsync(ctx context.Context) error {
	return q.CancelQuoteAsync(ctx)
}

func (q *Quoter) submitNew(ctx context.Context, target models.Quote) error {
	order := q.factory.NewLimitOrder(q.instrument.ID, q.side, target.Price, target.Size, q.postOnly)

	// Track before submit so a fast ack cannot arrive for an untracked order.
	q.mu.Lock()
	q.activeOrder = order
	q.unsubStatus = order.OnStatusChanged(q.handleStatusChanged)
	q.unsubFill = order.OnFilled(q.handleFilled)
	q.mu.Unlock()

	if err := order.Submit(ctx); err != nil {
		q.logger.Error("quote submit failed", zap.Error(err),
			zap.String("price", target.Price.String()),
			zap.String("size", target.Size.String()))
		OrderRequestErrors.WithLabelValues(q.instrument.ID, string(q.side), "submit").Inc()
		q.clearActive(order.ClientOrderID())
		return err
	}
	ActiveQuoteOrders.WithLabelValues(q.instrument.ID, string(q.side)).Set(1)
	return nil
}

// handleStatusChanged clears the active-order reference on a terminal
// status. Matching by order id makes late or duplicate notifications for an
// already-cleared order a logged no-op.
func (q *Quoter) handleStatusChanged(order Order, report OrderStatusReport) {
	if !report.Status.IsTerminal() {
		return
	}
	if !q.clearActive(report.ClientOrderID) {
		q.logger.Debug("terminal report for untracked order ignored",
			zap.String("client_order_id", report.ClientOrderID.String()),
			zap.String("status", string(report.Status)))
		return
	}
	ActiveQuoteOrders.WithLabelValues(q.instrument.ID, string(q.side)).Set(0)
}

func (q *Quoter) handleFilled(order Order, fill OrderFill) {
	q.mu.Lock()
	q.filled = q.filled.Add(fill.Quantity)
	onFill := q.onFill
	q.mu.Unlock()

	if onFill != nil {
		onFill(fill)
	}
}

// clearActive drops tracking for the given order id and releases its
// subscriptions. Returns false when the id is not the tracked order.
func (q *Quoter) clearActive(clientOrderID uuid.UUID) bool {
	q.mu.Lock()
	if q.activeOrder == nil || q.activeOrder.ClientOrderID() != clientOrderID {
		q.mu.Unlock()
		return false
	}
	unsubStatus, unsubFill := q.unsubStatus, q.unsubFill
	q.activeOrder = nil
	q.unsubStatus = nil
	q.unsubFill = nil
	q.mu.Unlock()

	if unsubStatus != nil {
		unsubStatus()
	}
	if unsubFill != nil {
		unsubFill()
	}
	return true
}

package quoting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// OrderStatusReport is a status-changed notification from the exchange.
type OrderStatusReport struct {
	ClientOrderID   uuid.UUID
	ExchangeOrderID string
	Status          models.OrderStatus
	LeavesQuantity  decimal.Decimal
	Reason          string
	Timestamp       time.Time
}

// OrderFill is a fill notification for a (partially) executed order.
type OrderFill struct {
	ClientOrderID uuid.UUID
	InstrumentID  string
	Side          models.Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Timestamp     time.Time
}

// Order is a live exchange order object, owned by the (external) order
// transport layer. Submit, Replace and Cancel are non-blocking round-trips
// that may race with server-side fills; the implementation is responsible
// for rolling its own state back when a request fails or is superseded.
//
// Subscriptions return an unsubscribe func so the caller can release the
// handler deterministically instead of pairing add/remove by hand.
type Order interface {
	ClientOrderID() uuid.UUID
	ExchangeOrderID() string
	InstrumentID() string
	Side() models.Side
	Price() decimal.Decimal
	Quantity() decimal.Decimal
	LeavesQuantity() decimal.Decimal
	Status() models.OrderStatus

	Submit(ctx context.Context) error
	Replace(ctx context.Context, newPrice decimal.Decimal, postOnly bool) error
	Cancel(ctx context.Context) error

	// MarkAsCancelRequested flags the order as having a cancel on the wire,
	// suppressing duplicate cancels until the flag is reverted or a terminal
	// report arrives. RevertPendingStateChange undoes the most recent
	// optimistic state change after a failed request.
	MarkAsCancelRequested()
	CancelRequested() bool
	RevertPendingStateChange()

	// ApplyReport applies an out-of-band status report, e.g. the per-order
	// terminal report returned by a bulk cancel.
	ApplyReport(report OrderStatusReport)

	OnStatusChanged(fn func(Order, OrderStatusReport)) (unsubscribe func())
	OnFilled(fn func(Order, OrderFill)) (unsubscribe func())
}

// OrderFactory builds unsent limit orders bound to the transport layer.
type OrderFactory interface {
	NewLimitOrder(instrumentID string, side models.Side, price, quantity decimal.Decimal, postOnly bool) Order
}

// BulkCancelEntry identifies one order inside a bulk cancel request.
type BulkCancelEntry struct {
	ClientOrderID   uuid.UUID
	ExchangeOrderID string
}

// BulkCancelRequest asks the gateway to cancel a batch of orders in one
// round-trip.
type BulkCancelRequest struct {
	InstrumentID string
	Orders       []BulkCancelEntry
}

// BulkCancelResult is the gateway's per-order outcome. Report is set when
// the exchange confirmed the cancel with a terminal report.
type BulkCancelResult struct {
	ClientOrderID uuid.UUID
	Err           error
	Report        *OrderStatusReport
}

// OrderGateway is the transport surface for batch operations. One failed
// leg never fails the batch; the transport-level error is reserved for a
// failure to deliver the request at all.
type OrderGateway interface {
	SendBulkCancelOrders(ctx context.Context, req BulkCancelRequest) ([]BulkCancelResult, error)
}

// BookSource delivers best bid/ask snapshots per instrument, in order.
type BookSource interface {
	SubscribeBook(instrumentID string, fn func(models.BookSnapshot)) (unsubscribe func())
}

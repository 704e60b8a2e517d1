// Package paper is an in-process venue: an order factory, gateway and book
// source with exchange-like ack/fill/cancel semantics. It backs local runs
// of the daemon and end-to-end tests; production wiring substitutes the
// real connectivity layer behind the same interfaces.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/internal/quoting"
	"github.com/Aidin1998/quotecore/pkg/models"
)

// Exchange is the venue. It implements quoting.OrderFactory,
// quoting.OrderGateway and quoting.BookSource.
type Exchange struct {
	logger *zap.Logger

	mu        sync.Mutex
	nextOrder int64
	orders    map[uuid.UUID]*paperOrder
	nextSubID int
	bookSubs  map[string]map[int]func(models.BookSnapshot)
}

// New builds an empty venue.
func New(logger *zap.Logger) *Exchange {
	return &Exchange{
		logger:   logger.Named("paper"),
		orders:   make(map[uuid.UUID]*paperOrder),
		bookSubs: make(map[string]map[int]func(models.BookSnapshot)),
	}
}

// NewLimitOrder implements quoting.OrderFactory.
func (e *Exchange) NewLimitOrder(instrumentID string, side models.Side, price, quantity decimal.Decimal, postOnly bool) quoting.Order {
	return &paperOrder{
		exchange:     e,
		clientID:     uuid.New(),
		instrumentID: instrumentID,
		side:         side,
		postOnly:     postOnly,
		price:        price,
		quantity:     quantity,
		leaves:       quantity,
		statusSubs:   make(map[int]func(quoting.Order, quoting.OrderStatusReport)),
		fillSubs:     make(map[int]func(quoting.Order, quoting.OrderFill)),
	}
}

// SendBulkCancelOrders implements quoting.OrderGateway. Every leg resolves
// independently; an unknown order fails only its own leg.
func (e *Exchange) SendBulkCancelOrders(ctx context.Context, req quoting.BulkCancelRequest) ([]quoting.BulkCancelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]quoting.BulkCancelResult, 0, len(req.Orders))
	for _, entry := range req.Orders {
		e.mu.Lock()
		order := e.orders[entry.ClientOrderID]
		e.mu.Unlock()

		if order == nil {
			results = append(results, quoting.BulkCancelResult{
				ClientOrderID: entry.ClientOrderID,
				Err:           fmt.Errorf("unknown order %s", entry.ClientOrderID),
			})
			continue
		}
		report := order.cancelled()
		results = append(results, quoting.BulkCancelResult{
			ClientOrderID: entry.ClientOrderID,
			Report:        &report,
		})
	}
	return results, nil
}

// SubscribeBook implements quoting.BookSource.
func (e *Exchange) SubscribeBook(instrumentID string, fn func(models.BookSnapshot)) (unsubscribe func()) {
	e.mu.Lock()
	if e.bookSubs[instrumentID] == nil {
		e.bookSubs[instrumentID] = make(map[int]func(models.BookSnapshot))
	}
	id := e.nextSubID
	e.nextSubID++
	e.bookSubs[instrumentID][id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.bookSubs[instrumentID], id)
			e.mu.Unlock()
		})
	}
}

// PushBook delivers a best bid/ask snapshot to every subscriber of its
// instrument.
func (e *Exchange) PushBook(snapshot models.BookSnapshot) {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	e.mu.Lock()
	subs := make([]func(models.BookSnapshot), 0, len(e.bookSubs[snapshot.InstrumentID]))
	for _, fn := range e.bookSubs[snapshot.InstrumentID] {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Fill simulates an execution against a resting order.
func (e *Exchange) Fill(clientOrderID uuid.UUID, quantity decimal.Decimal) error {
	e.mu.Lock()
	order := e.orders[clientOrderID]
	e.mu.Unlock()
	if order == nil {
		return fmt.Errorf("unknown order %s", clientOrderID)
	}
	return order.fill(quantity)
}

// OpenOrders returns the venue's non-terminal orders for an instrument.
func (e *Exchange) OpenOrders(instrumentID string) []quoting.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []quoting.Order
	for _, o := range e.orders {
		if o.InstrumentID() == instrumentID && !o.Status().IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

func (e *Exchange) register(o *paperOrder) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextOrder++
	e.orders[o.clientID] = o
	return fmt.Sprintf("P-%06d", e.nextOrder)
}

type pendingChange int

const (
	pendingNone pendingChange = iota
	pendingReplace
	pendingCancel
)

// paperOrder implements quoting.Order with synchronous acks. Requests that
// would be rejected by a real venue (acting on a terminal order) return an
// error without touching state, so RevertPendingStateChange has real work
// to do only after transport-style failures injected by tests.
type paperOrder struct {
	exchange     *Exchange
	clientID     uuid.UUID
	instrumentID string
	side         models.Side
	postOnly     bool

	mu         sync.Mutex
	exchangeID string
	price      decimal.Decimal
	quantity   decimal.Decimal
	leaves     decimal.Decimal
	status     models.OrderStatus
	cancelReq  bool
	pending    pendingChange
	prevPrice  decimal.Decimal
	nextSubID  int
	statusSubs map[int]func(quoting.Order, quoting.OrderStatusReport)
	fillSubs   map[int]func(quoting.Order, quoting.OrderFill)
}

func (o *paperOrder) ClientOrderID() uuid.UUID { return o.clientID }

func (o *paperOrder) ExchangeOrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeID
}

func (o *paperOrder) InstrumentID() string { return o.instrumentID }
func (o *paperOrder) Side() models.Side    { return o.side }

func (o *paperOrder) Price() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price
}

func (o *paperOrder) Quantity() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quantity
}

func (o *paperOrder) LeavesQuantity() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaves
}

func (o *paperOrder) Status() models.OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *paperOrder) Submit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.status != "" {
		o.mu.Unlock()
		return fmt.Errorf("order %s already submitted", o.clientID)
	}
	o.mu.Unlock()

	exchangeID := o.exchange.register(o)

	o.mu.Lock()
	o.exchangeID = exchangeID
	o.status = models.OrderStatusNew
	o.mu.Unlock()

	o.notifyStatus(o.report(models.OrderStatusNew, ""))
	return nil
}

func (o *paperOrder) Replace(ctx context.Context, newPrice decimal.Decimal, postOnly bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.status.IsTerminal() {
		o.mu.Unlock()
		return fmt.Errorf("order %s is terminal", o.clientID)
	}
	o.prevPrice = o.price
	o.pending = pendingReplace
	o.price = newPrice
	// synchronous ack
	o.pending = pendingNone
	o.mu.Unlock()
	return nil
}

func (o *paperOrder) Cancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.status.IsTerminal() {
		o.mu.Unlock()
		return fmt.Errorf("order %s is terminal", o.clientID)
	}
	o.mu.Unlock()

	o.notifyStatus(o.cancelled())
	return nil
}

func (o *paperOrder) MarkAsCancelRequested() {
	o.mu.Lock()
	o.cancelReq = true
	o.pending = pendingCancel
	o.mu.Unlock()
}

func (o *paperOrder) CancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelReq
}

func (o *paperOrder) RevertPendingStateChange() {
	o.mu.Lock()
	switch o.pending {
	case pendingReplace:
		o.price = o.prevPrice
	case pendingCancel:
		o.cancelReq = false
	}
	o.pending = pendingNone
	o.mu.Unlock()
}

func (o *paperOrder) ApplyReport(report quoting.OrderStatusReport) {
	o.mu.Lock()
	o.status = report.Status
	o.leaves = report.LeavesQuantity
	o.pending = pendingNone
	o.mu.Unlock()

	o.notifyStatus(report)
}

func (o *paperOrder) OnStatusChanged(fn func(quoting.Order, quoting.OrderStatusReport)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.statusSubs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.statusSubs, id)
			o.mu.Unlock()
		})
	}
}

func (o *paperOrder) OnFilled(fn func(quoting.Order, quoting.OrderFill)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.fillSubs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fillSubs, id)
			o.mu.Unlock()
		})
	}
}

// cancelled transitions to Cancelled and returns the terminal report
// without notifying; bulk cancel delivers it through ApplyReport on the
// caller's side instead.
func (o *paperOrder) cancelled() quoting.OrderStatusReport {
	o.mu.Lock()
	if !o.status.IsTerminal() {
		o.status = models.OrderStatusCancelled
	}
	o.pending = pendingNone
	o.mu.Unlock()
	return o.report(models.OrderStatusCancelled, "")
}

func (o *paperOrder) fill(quantity decimal.Decimal) error {
	o.mu.Lock()
	if o.status.IsTerminal() {
		o.mu.Unlock()
		return fmt.Errorf("order %s is terminal", o.clientID)
	}
	if quantity.GreaterThan(o.leaves) {
		quantity = o.leaves
	}
	o.leaves = o.leaves.Sub(quantity)
	price := o.price
	if o.leaves.IsZero() {
		o.status = models.OrderStatusFilled
	} else {
		o.status = models.OrderStatusPartiallyFilled
	}
	status := o.status
	o.mu.Unlock()

	o.notifyFill(quoting.OrderFill{
		ClientOrderID: o.clientID,
		InstrumentID:  o.instrumentID,
		Side:          o.side,
		Price:         price,
		Quantity:      quantity,
		Timestamp:     time.Now(),
	})
	o.notifyStatus(o.report(status, ""))
	return nil
}

func (o *paperOrder) report(status models.OrderStatus, reason string) quoting.OrderStatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return quoting.OrderStatusReport{
		ClientOrderID:   o.clientID,
		ExchangeOrderID: o.exchangeID,
		Status:          status,
		LeavesQuantity:  o.leaves,
		Reason:          reason,
		Timestamp:       time.Now(),
	}
}

func (o *paperOrder) notifyStatus(report quoting.OrderStatusReport) {
	o.mu.Lock()
	subs := make([]func(quoting.Order, quoting.OrderStatusReport), 0, len(o.statusSubs))
	for _, fn := range o.statusSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(o, report)
	}
}

func (o *paperOrder) notifyFill(fill quoting.OrderFill) {
	o.mu.Lock()
	subs := make([]func(quoting.Order, quoting.OrderFill), 0, len(o.fillSubs))
	for _, fn := range o.fillSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(o, fill)
	}
}

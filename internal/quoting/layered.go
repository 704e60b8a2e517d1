package quoting

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

var bpsFactor = decimal.New(1, -4)

// LayeredQuoteManager keeps a ladder of up to depth resting orders on one
// side of one instrument's book. The innermost order sits closest to fair
// value; outer layers rest one fixed price interval apart. The interval is
// derived once, from the first quote ever passed in, and held for the
// ladder's lifetime.
//
// Updates are serialized through a mutex that queues a second caller rather
// than dropping it: ladder mutations are multi-step and must not
// interleave. This intentionally differs from Quoter's drop-on-overlap
// compare-and-swap.
type LayeredQuoteManager struct {
	instrument  models.Instrument
	side        models.Side
	depth       int
	groupingBps decimal.Decimal
	postOnly    bool
	maxFills    decimal.Decimal
	factory     OrderFactory
	gateway     OrderGateway
	logger      *zap.Logger

	// passMu serializes logical update passes; network calls happen while
	// it is held, but never while mu is held.
	passMu sync.Mutex

	mu       sync.Mutex
	interval decimal.Decimal
	orders   map[int64]Order   // tick-index -> order
	prices   []decimal.Decimal // inner -> outer
	unsubs   map[uuid.UUID]func()
	filled   decimal.Decimal
	onFill   func(OrderFill)
}

// NewLayeredQuoteManager builds a ladder manager for one side.
func NewLayeredQuoteManager(instrument models.Instrument, side models.Side, params models.QuotingParameters, factory OrderFactory, gateway OrderGateway, logger *zap.Logger) *LayeredQuoteManager {
	return &LayeredQuoteManager{
		instrument:  instrument,
		side:        side,
		depth:       params.LadderDepth,
		groupingBps: params.LadderGroupingBps,
		postOnly:    params.PostOnly,
		maxFills:    params.MaxSideFills,
		factory:     factory,
		gateway:     gateway,
		logger:      logger.Named("ladder").With(zap.String("instrument", instrument.ID), zap.String("side", string(side))),
		orders:      make(map[int64]Order),
		unsubs:      make(map[uuid.UUID]func()),
	}
}

// SetFillHandler registers the single callback that receives every fill on
// this side. Must be set before the first update.
func (m *LayeredQuoteManager) SetFillHandler(fn func(OrderFill)) {
	m.mu.Lock()
	m.onFill = fn
	m.mu.Unlock()
}

// PriceInterval returns the ladder's layer spacing, zero until the first
// quote has been seen.
func (m *LayeredQuoteManager) PriceInterval() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Depth returns the number of orders currently tracked.
func (m *LayeredQuoteManager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

// Prices returns the tracked layer prices ordered inner to outer.
func (m *LayeredQuoteManager) Prices() []decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]decimal.Decimal, len(m.prices))
	copy(out, m.prices)
	return out
}

// FilledQuantity returns the cumulative filled quantity on this side.
func (m *LayeredQuoteManager) FilledQuantity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filled
}

// UpdateAsync runs one ladder pass toward target: grow while below depth,
// shift inward or outward once at depth, leave a working partial fill
// alone.
func (m *LayeredQuoteManager) UpdateAsync(ctx context.Context, target models.Quote) error {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.Lock()
	if m.interval.IsZero() {
		m.interval = m.deriveInterval(target.Price)
		m.logger.Info("price interval derived",
			zap.String("interval", m.interval.String()),
			zap.String("start_price", target.Price.String()))
	}
	interval := m.interval
	depth := len(m.prices)
	var innermost, outermost decimal.Decimal
	var innerOrder, outerOrder Order
	if depth > 0 {
		innermost = m.prices[0]
		outermost = m.prices[depth-1]
		innerOrder = m.orders[m.tickIndex(innermost)]
		outerOrder = m.orders[m.tickIndex(outermost)]
	}
	filled := m.filled
	m.mu.Unlock()

	if m.maxFills.IsPositive() && filled.GreaterThanOrEqual(m.maxFills) {
		m.logger.Info("fill cap reached, ladder frozen", zap.String("filled", filled.String()))
		return nil
	}

	if depth == 0 {
		return m.appendLayer(ctx, target.Price, target.Size)
	}

	// A filling innermost order keeps working unless the target has moved
	// past it in the improving direction.
	innerFilling := innerOrder != nil && innerOrder.LeavesQuantity().LessThan(innerOrder.Quantity())
	if innerFilling && !m.improvesOn(target.Price, innermost) {
		return nil
	}

	if depth < m.depth {
		price := m.stepOut(outermost, interval)
		if next := m.stepIn(innermost, interval); m.atOrImprovesOn(target.Price, next) {
			price = next
		}
		return m.appendLayer(ctx, price, target.Size)
	}

	if depth > m.depth {
		// Depth shrank underneath a live ladder; enforce the ceiling before
		// anything else and let the next pass re-evaluate.
		return m.cancelOrder(ctx, outerOrder)
	}

	if next := m.stepIn(innermost, interval); m.atOrImprovesOn(target.Price, next) {
		if innerFilling {
			// Never re-price a partial fill.
			return m.cancelOrder(ctx, innerOrder)
		}
		// Vacate the outermost level and move that order into the new
		// innermost slot: the ladder shifts inward by one level.
		return m.replaceOrder(ctx, outerOrder, next)
	}
	if outerNext := m.stepOut(outermost, interval); m.worsensOn(target.Price, outerNext) {
		// Target retreated: shift the ladder outward.
		return m.replaceOrder(ctx, innerOrder, outerNext)
	}
	return nil
}

// CancelAllAsync pulls every resting and partially filled order in one bulk
// request. Each leg resolves independently: a confirmed leg applies its
// terminal report, a failed leg reverts only that order's cancel-requested
// marker, and a transport-level failure reverts all of them.
func (m *LayeredQuoteManager) CancelAllAsync(ctx context.Context) error {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.Lock()
	var entries []BulkCancelEntry
	marked := make(map[uuid.UUID]Order)
	for _, p := range m.prices {
		o := m.orders[m.tickIndex(p)]
		if o == nil || o.Status().IsTerminal() || o.CancelRequested() {
			continue
		}
		o.MarkAsCancelRequested()
		marked[o.ClientOrderID()] = o
		entries = append(entries, BulkCancelEntry{
			ClientOrderID:   o.ClientOrderID(),
			ExchangeOrderID: o.ExchangeOrderID(),
		})
	}
	m.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	results, err := m.gateway.SendBulkCancelOrders(ctx, BulkCancelRequest{
		InstrumentID: m.instrument.ID,
		Orders:       entries,
	})
	if err != nil {
		m.logger.Error("bulk cancel transport failure", zap.Error(err), zap.Int("orders", len(entries)))
		for _, o := range marked {
			o.RevertPendingStateChange()
		}
		return err
	}

	for _, res := range results {
		o, ok := marked[res.ClientOrderID]
		if !ok {
			continue
		}
		if res.Err != nil {
			m.logger.Warn("bulk cancel leg failed", zap.Error(res.Err),
				zap.String("client_order_id", res.ClientOrderID.String()))
			o.RevertPendingStateChange()
			continue
		}
		if res.Report != nil {
			o.ApplyReport(*res.Report)
		}
	}
	return nil
}

func (m *LayeredQuoteManager) appendLayer(ctx context.Context, price, size decimal.Decimal) error {
	key := m.tickIndex(price)

	m.mu.Lock()
	if _, exists := m.orders[key]; exists {
		m.mu.Unlock()
		m.logger.Debug("layer price already tracked, skipping append",
			zap.String("price", price.String()))
		return nil
	}
	m.mu.Unlock()

	order := m.factory.NewLimitOrder(m.instrument.ID, m.side, price, size, m.postOnly)
	unsubStatus := order.OnStatusChanged(m.handleStatusChanged)
	unsubFill := order.OnFilled(m.handleFilled)

	// Track before submit so a fast ack cannot arrive for an untracked order.
	m.mu.Lock()
	m.orders[key] = order
	m.insertPrice(price)
	m.unsubs[order.ClientOrderID()] = func() {
		unsubStatus()
		unsubFill()
	}
	depth := len(m.prices)
	m.mu.Unlock()

	if err := order.Submit(ctx); err != nil {
		m.logger.Error("layer submit failed", zap.Error(err), zap.String("price", price.String()))
		OrderRequestErrors.WithLabelValues(m.instrument.ID, string(m.side), "submit").Inc()
		m.untrack(order.ClientOrderID())
		return err
	}
	ActiveQuoteOrders.WithLabelValues(m.instrument.ID, string(m.side)).Set(float64(depth))
	return nil
}

// replaceOrder moves order to newPrice and, only on success, moves its
// tracked entry with it. A failed replace leaves tracked state untouched;
// the order's own rollback restores its price. A target price that collides
// with an already-tracked order cancels the mover instead of overwriting
// the map.
func (m *LayeredQuoteManager) replaceOrder(ctx context.Context, order Order, newPrice decimal.Decimal) error {
	if order == nil {
		return nil
	}

	m.mu.Lock()
	_, collision := m.orders[m.tickIndex(newPrice)]
	m.mu.Unlock()
	if collision {
		m.logger.Warn("replace target collides with tracked order, cancelling mover",
			zap.String("price", newPrice.String()),
			zap.String("client_order_id", order.ClientOrderID().String()))
		return m.cancelOrder(ctx, order)
	}

	oldPrice := order.Price()
	if err := order.Replace(ctx, newPrice, m.postOnly); err != nil {
		m.logger.Error("layer replace failed", zap.Error(err),
			zap.String("from", oldPrice.String()), zap.String("to", newPrice.String()))
		OrderRequestErrors.WithLabelValues(m.instrument.ID, string(m.side), "replace").Inc()
		order.RevertPendingStateChange()
		return nil
	}

	m.mu.Lock()
	if _, ok := m.orders[m.tickIndex(oldPrice)]; ok {
		delete(m.orders, m.tickIndex(oldPrice))
		m.removePrice(oldPrice)
		m.orders[m.tickIndex(newPrice)] = order
		m.insertPrice(newPrice)
	}
	m.mu.Unlock()
	return nil
}

func (m *LayeredQuoteManager) cancelOrder(ctx context.Context, order Order) error {
	if order == nil || order.Status().IsTerminal() || order.CancelRequested() {
		return nil
	}
	order.MarkAsCancelRequested()
	if err := order.Cancel(ctx); err != nil {
		m.logger.Error("layer cancel failed", zap.Error(err),
			zap.String("client_order_id", order.ClientOrderID().String()))
		OrderRequestErrors.WithLabelValues(m.instrument.ID, string(m.side), "cancel").Inc()
		order.RevertPendingStateChange()
	}
	// Removal from the ladder happens on the terminal report.
	return nil
}

// handleStatusChanged removes an order from the ladder on its terminal
// report and releases its subscriptions. Late or duplicate reports for an
// order no longer tracked are logged and ignored.
func (m *LayeredQuoteManager) handleStatusChanged(order Order, report OrderStatusReport) {
	if !report.Status.IsTerminal() {
		return
	}
	if !m.untrack(report.ClientOrderID) {
		m.logger.Debug("terminal report for untracked order ignored",
			zap.String("client_order_id", report.ClientOrderID.String()),
			zap.String("status", string(report.Status)))
	}
}

func (m *LayeredQuoteManager) handleFilled(order Order, fill OrderFill) {
	m.mu.Lock()
	m.filled = m.filled.Add(fill.Quantity)
	onFill := m.onFill
	m.mu.Unlock()

	if onFill != nil {
		onFill(fill)
	}
}

// untrack drops the order from map and price list under the state lock and
// releases its subscriptions outside it. Returns false when the order is
// not tracked.
func (m *LayeredQuoteManager) untrack(clientOrderID uuid.UUID) bool {
	m.mu.Lock()
	found := false
	for i, p := range m.prices {
		o := m.orders[m.tickIndex(p)]
		if o != nil && o.ClientOrderID() == clientOrderID {
			delete(m.orders, m.tickIndex(p))
			m.prices = append(m.prices[:i], m.prices[i+1:]...)
			found = true
			break
		}
	}
	unsub := m.unsubs[clientOrderID]
	delete(m.unsubs, clientOrderID)
	depth := len(m.prices)
	m.mu.Unlock()

	if !found {
		return false
	}
	if unsub != nil {
		unsub()
	}
	ActiveQuoteOrders.WithLabelValues(m.instrument.ID, string(m.side)).Set(float64(depth))
	return true
}

// deriveInterval computes the fixed layer spacing from the first quote:
// tick-aligned startPrice x groupingBps, floored at one tick.
func (m *LayeredQuoteManager) deriveInterval(startPrice decimal.Decimal) decimal.Decimal {
	iv := models.FloorToTick(startPrice.Mul(m.groupingBps).Mul(bpsFactor), m.instrument.TickSize)
	if iv.LessThan(m.instrument.TickSize) {
		iv = m.instrument.TickSize
	}
	return iv
}

func (m *LayeredQuoteManager) tickIndex(price decimal.Decimal) int64 {
	return price.Div(m.instrument.TickSize).Round(0).IntPart()
}

// stepIn moves one interval toward the market, stepOut one interval away.
func (m *LayeredQuoteManager) stepIn(price, interval decimal.Decimal) decimal.Decimal {
	if m.side == models.SideBuy {
		return price.Add(interval)
	}
	return price.Sub(interval)
}

func (m *LayeredQuoteManager) stepOut(price, interval decimal.Decimal) decimal.Decimal {
	if m.side == models.SideBuy {
		return price.Sub(interval)
	}
	return price.Add(interval)
}

// improvesOn reports whether a is strictly beyond b in the improving
// direction for this side.
func (m *LayeredQuoteManager) improvesOn(a, b decimal.Decimal) bool {
	if m.side == models.SideBuy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (m *LayeredQuoteManager) atOrImprovesOn(a, b decimal.Decimal) bool {
	return a.Equal(b) || m.improvesOn(a, b)
}

// worsensOn reports whether a is strictly beyond b in the worsening
// direction for this side.
func (m *LayeredQuoteManager) worsensOn(a, b decimal.Decimal) bool {
	if m.side == models.SideBuy {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

// insertPrice keeps prices ordered inner to outer.
func (m *LayeredQuoteManager) insertPrice(price decimal.Decimal) {
	at := len(m.prices)
	for i, p := range m.prices {
		if m.improvesOn(price, p) {
			at = i
			break
		}
	}
	m.prices = append(m.prices, decimal.Decimal{})
	copy(m.prices[at+1:], m.prices[at:])
	m.prices[at] = price
}

func (m *LayeredQuoteManager) removePrice(price decimal.Decimal) {
	for i, p := range m.prices {
		if p.Equal(price) {
			m.prices = append(m.prices[:i], m.prices[i+1:]...)
			return
		}
	}
}

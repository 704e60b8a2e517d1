package quoting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// polling bounds for require.Eventually
const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeOrder is a scriptable Order for unit tests. Submit/Replace/Cancel
// succeed unless an error is injected, and state transitions are driven by
// hand through emitStatus/emitFill.
type fakeOrder struct {
	mu           sync.Mutex
	clientID     uuid.UUID
	exchangeID   string
	instrumentID string
	side         models.Side
	price        decimal.Decimal
	quantity     decimal.Decimal
	leaves       decimal.Decimal
	status       models.OrderStatus
	cancelReq    bool

	submitErr  error
	replaceErr error
	cancelErr  error

	submits  int
	replaces int
	cancels  int
	reverts  int

	blockSubmit chan struct{} // when set, Submit parks until closed

	nextSubID  int
	statusSubs map[int]func(Order, OrderStatusReport)
	fillSubs   map[int]func(Order, OrderFill)
}

func newFakeOrder(instrumentID string, side models.Side, price, quantity decimal.Decimal) *fakeOrder {
	return &fakeOrder{
		clientID:     uuid.New(),
		exchangeID:   "X-" + uuid.NewString()[:8],
		instrumentID: instrumentID,
		side:         side,
		price:        price,
		quantity:     quantity,
		leaves:       quantity,
		statusSubs:   make(map[int]func(Order, OrderStatusReport)),
		fillSubs:     make(map[int]func(Order, OrderFill)),
	}
}

func (o *fakeOrder) ClientOrderID() uuid.UUID { return o.clientID }
func (o *fakeOrder) ExchangeOrderID() string  { return o.exchangeID }
func (o *fakeOrder) InstrumentID() string     { return o.instrumentID }
func (o *fakeOrder) Side() models.Side        { return o.side }

func (o *fakeOrder) Price() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price
}

func (o *fakeOrder) Quantity() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quantity
}

func (o *fakeOrder) LeavesQuantity() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaves
}

func (o *fakeOrder) Status() models.OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *fakeOrder) Submit(ctx context.Context) error {
	o.mu.Lock()
	o.submits++
	block := o.blockSubmit
	err := o.submitErr
	o.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.status = models.OrderStatusNew
	o.mu.Unlock()
	return nil
}

func (o *fakeOrder) Replace(ctx context.Context, newPrice decimal.Decimal, postOnly bool) error {
	o.mu.Lock()
	o.replaces++
	err := o.replaceErr
	if err == nil {
		o.price = newPrice
	}
	o.mu.Unlock()
	return err
}

func (o *fakeOrder) Cancel(ctx context.Context) error {
	o.mu.Lock()
	o.cancels++
	err := o.cancelErr
	o.mu.Unlock()
	return err
}

func (o *fakeOrder) MarkAsCancelRequested() {
	o.mu.Lock()
	o.cancelReq = true
	o.mu.Unlock()
}

func (o *fakeOrder) CancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelReq
}

func (o *fakeOrder) RevertPendingStateChange() {
	o.mu.Lock()
	o.reverts++
	o.cancelReq = false
	o.mu.Unlock()
}

func (o *fakeOrder) ApplyReport(report OrderStatusReport) {
	o.mu.Lock()
	o.status = report.Status
	o.leaves = report.LeavesQuantity
	o.mu.Unlock()
	o.emitStatus(report)
}

func (o *fakeOrder) OnStatusChanged(fn func(Order, OrderStatusReport)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.statusSubs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.statusSubs, id)
		o.mu.Unlock()
	}
}

func (o *fakeOrder) OnFilled(fn func(Order, OrderFill)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.fillSubs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.fillSubs, id)
		o.mu.Unlock()
	}
}

func (o *fakeOrder) emitStatus(report OrderStatusReport) {
	o.mu.Lock()
	subs := make([]func(Order, OrderStatusReport), 0, len(o.statusSubs))
	for _, fn := range o.statusSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(o, report)
	}
}

// emitTerminal delivers a terminal status report for this order.
func (o *fakeOrder) emitTerminal(status models.OrderStatus) {
	o.mu.Lock()
	o.status = status
	leaves := o.leaves
	id := o.clientID
	o.mu.Unlock()
	o.emitStatus(OrderStatusReport{ClientOrderID: id, Status: status, LeavesQuantity: leaves})
}

// emitFill executes quantity against the order and delivers the fill
// notification, without a terminal transition unless fully filled.
func (o *fakeOrder) emitFill(quantity decimal.Decimal) {
	o.mu.Lock()
	o.leaves = o.leaves.Sub(quantity)
	if o.leaves.IsZero() {
		o.status = models.OrderStatusFilled
	} else {
		o.status = models.OrderStatusPartiallyFilled
	}
	price := o.price
	id := o.clientID
	subs := make([]func(Order, OrderFill), 0, len(o.fillSubs))
	for _, fn := range o.fillSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	fill := OrderFill{ClientOrderID: id, InstrumentID: o.instrumentID, Side: o.side, Price: price, Quantity: quantity}
	for _, fn := range subs {
		fn(o, fill)
	}
	if o.Status() == models.OrderStatusFilled {
		o.emitStatus(OrderStatusReport{ClientOrderID: id, Status: models.OrderStatusFilled})
	}
}

// fakeFactory hands out fakeOrders and remembers them in creation order.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeOrder

	// prepare, when set, customizes each order before it is returned
	prepare func(*fakeOrder)
}

func (f *fakeFactory) NewLimitOrder(instrumentID string, side models.Side, price, quantity decimal.Decimal, postOnly bool) Order {
	o := newFakeOrder(instrumentID, side, price, quantity)
	f.mu.Lock()
	if f.prepare != nil {
		f.prepare(o)
	}
	f.created = append(f.created, o)
	f.mu.Unlock()
	return o
}

func (f *fakeFactory) orders() []*fakeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeOrder, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeGateway scripts bulk cancel outcomes per client order id.
type fakeGateway struct {
	mu       sync.Mutex
	requests []BulkCancelRequest

	transportErr error
	legErr       map[uuid.UUID]error
}

func (g *fakeGateway) SendBulkCancelOrders(ctx context.Context, req BulkCancelRequest) ([]BulkCancelResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	transportErr := g.transportErr
	g.mu.Unlock()

	if transportErr != nil {
		return nil, transportErr
	}

	results := make([]BulkCancelResult, 0, len(req.Orders))
	for _, entry := range req.Orders {
		if err := g.legErr[entry.ClientOrderID]; err != nil {
			results = append(results, BulkCancelResult{ClientOrderID: entry.ClientOrderID, Err: err})
			continue
		}
		results = append(results, BulkCancelResult{
			ClientOrderID: entry.ClientOrderID,
			Report: &OrderStatusReport{
				ClientOrderID: entry.ClientOrderID,
				Status:        models.OrderStatusCancelled,
			},
		})
	}
	return results, nil
}

func testInstrument() models.Instrument {
	return models.Instrument{ID: "BTC-USD", TickSize: d("0.01"), LotSize: d("0.0001")}
}

func testParams(mode models.QuoterMode) models.QuotingParameters {
	return models.QuotingParameters{
		InstrumentID:      "BTC-USD",
		BookName:          "BTC-USD.primary",
		FairValueModel:    FairValueModelMid,
		BidSpreadBps:      d("10"),
		AskSpreadBps:      d("10"),
		SkewBps:           decimal.Zero,
		OrderSize:         d("1"),
		LadderDepth:       3,
		LadderGroupingBps: d("5"),
		Mode:              mode,
	}
}

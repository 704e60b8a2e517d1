package quoting

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// Built-in fair value models. Model internals are intentionally simple;
// production models plug in through the same FairValueProvider interface.
const (
	FairValueModelMid       = "mid"
	FairValueModelImbalance = "imbalance"
)

// FairValueUpdate is a fair-value-changed notification.
type FairValueUpdate struct {
	InstrumentID string
	Price        decimal.Decimal
	Timestamp    time.Time
}

// FairValueProvider turns book snapshots into a fair value estimate for one
// instrument and notifies subscribers on every refresh. An unchanged
// estimate still notifies: every book tick drives a requote pass.
type FairValueProvider interface {
	Model() string
	Update(snapshot models.BookSnapshot)
	OnFairValueChanged(fn func(FairValueUpdate)) (unsubscribe func())
}

// FairValueProviderFactory constructs a provider for a model id.
type FairValueProviderFactory func(model, instrumentID string) (FairValueProvider, error)

// NewFairValueProvider is the default model-keyed factory.
func NewFairValueProvider(model, instrumentID string) (FairValueProvider, error) {
	switch model {
	case FairValueModelMid:
		return newBookValueProvider(model, instrumentID, midPrice), nil
	case FairValueModelImbalance:
		return newBookValueProvider(model, instrumentID, microPrice), nil
	default:
		return nil, fmt.Errorf("unknown fair value model %q", model)
	}
}

// midPrice is the plain best bid/ask midpoint.
func midPrice(s models.BookSnapshot) (decimal.Decimal, bool) {
	if s.BestBid.IsZero() || s.BestAsk.IsZero() {
		return decimal.Zero, false
	}
	return s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2)), true
}

// microPrice weights the midpoint by top-of-book size imbalance, leaning
// toward the side with less resting liquidity.
func microPrice(s models.BookSnapshot) (decimal.Decimal, bool) {
	if s.BestBid.IsZero() || s.BestAsk.IsZero() {
		return decimal.Zero, false
	}
	total := s.BestBidSize.Add(s.BestAskSize)
	if total.IsZero() {
		return midPrice(s)
	}
	// bid size pushes the estimate toward the ask and vice versa
	return s.BestBid.Mul(s.BestAskSize).Add(s.BestAsk.Mul(s.BestBidSize)).Div(total), true
}

type bookValueProvider struct {
	model        string
	instrumentID string

	mu        sync.Mutex
	nextSubID int
	subs      map[int]func(FairValueUpdate)

	value func(models.BookSnapshot) (decimal.Decimal, bool)
}

func newBookValueProvider(model, instrumentID string, value func(models.BookSnapshot) (decimal.Decimal, bool)) *bookValueProvider {
	return &bookValueProvider{
		model:        model,
		instrumentID: instrumentID,
		subs:         make(map[int]func(FairValueUpdate)),
		value:        value,
	}
}

func (p *bookValueProvider) Model() string { return p.model }

func (p *bookValueProvider) Update(snapshot models.BookSnapshot) {
	price, ok := p.value(snapshot)
	if !ok {
		return
	}

	p.mu.Lock()
	subs := make([]func(FairValueUpdate), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	update := FairValueUpdate{
		InstrumentID: p.instrumentID,
		Price:        price,
		Timestamp:    snapshot.Timestamp,
	}
	for _, fn := range subs {
		fn(update)
	}
}

func (p *bookValueProvider) OnFairValueChanged(fn func(FairValueUpdate)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

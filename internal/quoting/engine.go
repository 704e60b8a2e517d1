package quoting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

var two = decimal.NewFromInt(2)

// SkewFunc computes the directional price shift applied to both quotes to
// bias inventory toward a target. The sign convention is pluggable: the
// default shifts both quotes down by fairValue x skewBps x 1e-4.
type SkewFunc func(fairValue decimal.Decimal, params models.QuotingParameters) decimal.Decimal

// DefaultSkew is the parameter-driven skew with no inventory feedback.
func DefaultSkew(fairValue decimal.Decimal, params models.QuotingParameters) decimal.Decimal {
	return fairValue.Mul(params.SkewBps).Mul(bpsFactor)
}

// EngineDeps carries the collaborators a QuotingEngine is wired with.
type EngineDeps struct {
	OrderFactory    OrderFactory
	OrderGateway    OrderGateway
	BookSource      BookSource
	ProviderFactory FairValueProviderFactory
	Skew            SkewFunc
	Logger          *zap.Logger
}

// QuotingEngine turns fair value plus parameters into a target QuotePair
// for one instrument and hands it to the MarketMaker. It owns the
// fair-value provider lifecycle.
type QuotingEngine struct {
	id              int64
	instrument      models.Instrument
	maker           *MarketMaker
	bookSource      BookSource
	providerFactory FairValueProviderFactory
	skew            SkewFunc
	logger          *zap.Logger

	mu        sync.Mutex
	params    *models.QuotingParameters
	provider  FairValueProvider
	active    bool
	unsubFV   func()
	unsubSrc  func()
	unsubOwn  func()
	nextSubID int
	pairSubs  map[int]func(models.QuotePair)
}

// NewQuotingEngine builds an engine for one instrument. The fair-value
// provider is constructed separately through SetFairValueProvider before
// Start.
func NewQuotingEngine(id int64, instrument models.Instrument, params models.QuotingParameters, deps EngineDeps) (*QuotingEngine, error) {
	if params.InstrumentID != instrument.ID {
		return nil, fmt.Errorf("parameters are for instrument %q, engine is for %q", params.InstrumentID, instrument.ID)
	}
	if deps.OrderFactory == nil {
		return nil, errors.New("order factory is required")
	}
	providerFactory := deps.ProviderFactory
	if providerFactory == nil {
		providerFactory = NewFairValueProvider
	}
	skew := deps.Skew
	if skew == nil {
		skew = DefaultSkew
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine").With(zap.String("instrument", instrument.ID), zap.Int64("engine_id", id))

	e := &QuotingEngine{
		id:              id,
		instrument:      instrument,
		maker:           NewMarketMaker(instrument, params, deps.OrderFactory, deps.OrderGateway, logger),
		bookSource:      deps.BookSource,
		providerFactory: providerFactory,
		skew:            skew,
		logger:          logger,
		params:          &params,
		pairSubs:        make(map[int]func(models.QuotePair)),
	}
	e.maker.SetFillHandler(e.onFill)
	return e, nil
}

// ID returns the engine's registry-assigned instance id.
func (e *QuotingEngine) ID() int64 { return e.id }

// Instrument returns the quoted instrument.
func (e *QuotingEngine) Instrument() models.Instrument { return e.instrument }

// IsActive reports whether the engine is started.
func (e *QuotingEngine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// CurrentParameters returns a copy of the running parameter set.
func (e *QuotingEngine) CurrentParameters() models.QuotingParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.params
}

// SetFairValueProvider constructs and attaches the provider for the given
// model id. Must be called before Start; the running provider is otherwise
// swapped through UpdateParameters.
func (e *QuotingEngine) SetFairValueProvider(model string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return errors.New("cannot swap fair value provider on an active engine")
	}
	provider, err := e.providerFactory(model, e.sourceInstrumentIDLocked())
	if err != nil {
		return fmt.Errorf("construct fair value provider: %w", err)
	}
	e.provider = provider
	return nil
}

// Start subscribes to fair-value changes and order-book updates. It refuses
// to start without parameters and a provider.
func (e *QuotingEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return errors.New("engine already active")
	}
	if e.params == nil || e.provider == nil {
		e.logger.Error("refusing to start: parameters or fair value provider not set")
		return errors.New("parameters and fair value provider must be set before start")
	}

	e.unsubFV = e.provider.OnFairValueChanged(e.onFairValueChanged)
	if e.bookSource != nil {
		if srcID := e.sourceInstrumentIDLocked(); srcID == e.instrument.ID {
			// One ordered handler: the validator's market view must reflect
			// the book that produced the fair value it is gating.
			e.unsubSrc = e.bookSource.SubscribeBook(srcID, func(snapshot models.BookSnapshot) {
				e.maker.OnBookUpdate(snapshot)
				e.onSourceBook(snapshot)
			})
		} else {
			e.unsubSrc = e.bookSource.SubscribeBook(srcID, e.onSourceBook)
			e.unsubOwn = e.bookSource.SubscribeBook(e.instrument.ID, e.maker.OnBookUpdate)
		}
	}
	e.active = true
	e.logger.Info("quoting engine started",
		zap.String("model", e.provider.Model()),
		zap.String("mode", string(e.params.Mode)))
	return nil
}

// Stop unsubscribes everything and fires a best-effort cancel-all without
// waiting for completion. Resting risk is never left behind on
// deactivation.
func (e *QuotingEngine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	unsubs := []func(){e.unsubFV, e.unsubSrc, e.unsubOwn}
	e.unsubFV, e.unsubSrc, e.unsubOwn = nil, nil, nil
	maker := e.maker
	e.mu.Unlock()

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := maker.CancelAllQuotesAsync(ctx); err != nil {
			e.logger.Error("cancel-all on stop failed", zap.Error(err))
		}
	}()
	e.logger.Info("quoting engine stopped")
}

// UpdateParameters applies a new parameter set in place. A changed
// fair-value model invalidates the current quotes: they are cancelled
// before the provider is swapped. Pure tuning changes take effect on the
// next fair-value-driven requote.
func (e *QuotingEngine) UpdateParameters(next models.QuotingParameters) error {
	if next.InstrumentID != e.instrument.ID {
		return fmt.Errorf("parameters are for instrument %q, engine is for %q", next.InstrumentID, e.instrument.ID)
	}

	e.mu.Lock()
	modelChanged := e.params.FairValueModel != next.FairValueModel
	if !modelChanged {
		e.params = &next
		e.mu.Unlock()
		e.logger.Info("parameters updated in place")
		return nil
	}
	e.mu.Unlock()

	// Construct the replacement provider before touching any state: a
	// failed swap must leave the running parameters, provider and quotes
	// exactly as they were.
	sourceID := next.FairValueInstrumentID
	if sourceID == "" {
		sourceID = e.instrument.ID
	}
	provider, err := e.providerFactory(next.FairValueModel, sourceID)
	if err != nil {
		return fmt.Errorf("construct fair value provider: %w", err)
	}

	// Fair-value semantics are changing; current quotes are meaningless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.maker.CancelAllQuotesAsync(ctx); err != nil {
		e.logger.Error("cancel-all before provider swap failed", zap.Error(err))
	}

	e.mu.Lock()
	e.params = &next
	if e.unsubFV != nil {
		e.unsubFV()
	}
	e.provider = provider
	if e.active {
		e.unsubFV = e.provider.OnFairValueChanged(e.onFairValueChanged)
	}
	e.mu.Unlock()

	e.logger.Info("fair value provider swapped", zap.String("model", next.FairValueModel))
	return nil
}

// OnQuotePairCalculated subscribes to every computed target pair, before it
// is gated by the validator. Intended for observability.
func (e *QuotingEngine) OnQuotePairCalculated(fn func(models.QuotePair)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.pairSubs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.pairSubs, id)
			e.mu.Unlock()
		})
	}
}

// OnBookUpdate feeds an order-book snapshot in by hand, for wirings without
// a BookSource. Source-instrument snapshots reach the provider, quoted-
// instrument snapshots reach the validator's market view.
func (e *QuotingEngine) OnBookUpdate(snapshot models.BookSnapshot) {
	e.mu.Lock()
	srcID := e.sourceInstrumentIDLocked()
	provider := e.provider
	e.mu.Unlock()

	if snapshot.InstrumentID == e.instrument.ID {
		e.maker.OnBookUpdate(snapshot)
	}
	if snapshot.InstrumentID == srcID && provider != nil {
		provider.Update(snapshot)
	}
}

func (e *QuotingEngine) onSourceBook(snapshot models.BookSnapshot) {
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider != nil {
		provider.Update(snapshot)
	}
}

// onFairValueChanged computes the target pair from fair value, spread and
// skew, emits it, and hands it to the MarketMaker without blocking on
// network I/O.
func (e *QuotingEngine) onFairValueChanged(update FairValueUpdate) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	params := *e.params
	subs := make([]func(models.QuotePair), 0, len(e.pairSubs))
	for _, fn := range e.pairSubs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	fv := update.Price
	tick := e.instrument.TickSize
	if fv.IsZero() || tick.IsZero() {
		// Degenerate inputs are an expected steady-state condition, not an
		// error. Skip the requote.
		return
	}

	halfBid := fv.Mul(params.BidSpreadBps).Mul(bpsFactor).Div(two)
	halfAsk := fv.Mul(params.AskSpreadBps).Mul(bpsFactor).Div(two)
	skew := e.skew(fv, params)

	// Bid floors, ask ceils: rounding error can only widen the realized
	// spread, never cross it.
	bidPrice := models.FloorToTick(fv.Sub(halfBid).Sub(skew), tick)
	askPrice := models.CeilToTick(fv.Add(halfAsk).Sub(skew), tick)

	ts := update.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pair := models.QuotePair{
		InstrumentID: e.instrument.ID,
		Bid:          &models.Quote{Price: bidPrice, Size: params.OrderSize},
		Ask:          &models.Quote{Price: askPrice, Size: params.OrderSize},
		Timestamp:    ts,
	}

	bidF, _ := bidPrice.Float64()
	askF, _ := askPrice.Float64()
	QuoteBidPrice.WithLabelValues(e.instrument.ID).Set(bidF)
	QuoteAskPrice.WithLabelValues(e.instrument.ID).Set(askF)
	for _, fn := range subs {
		fn(pair)
	}

	go e.maker.UpdateQuoteTargetAsync(context.Background(), pair)
}

func (e *QuotingEngine) onFill(fill OrderFill) {
	e.logger.Info("quote filled",
		zap.String("side", string(fill.Side)),
		zap.String("price", fill.Price.String()),
		zap.String("quantity", fill.Quantity.String()))
}

// sourceInstrumentIDLocked resolves the fair-value source instrument,
// defaulting to the quoted instrument. Caller holds e.mu.
func (e *QuotingEngine) sourceInstrumentIDLocked() string {
	if e.params != nil && e.params.FairValueInstrumentID != "" {
		return e.params.FairValueInstrumentID
	}
	return e.instrument.ID
}

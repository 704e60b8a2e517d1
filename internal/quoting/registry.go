package quoting

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// InstrumentDirectory resolves instrument ids to their definitions. Owned
// by the (external) reference-data layer.
type InstrumentDirectory interface {
	Lookup(instrumentID string) (models.Instrument, bool)
}

// EngineFactory constructs a quoting engine for an instrument. The default
// wires NewQuotingEngine with the manager's dependencies.
type EngineFactory func(id int64, instrument models.Instrument, params models.QuotingParameters) (*QuotingEngine, error)

// QuotingInstanceManager is the process-wide registry of running quoting
// engines, one per instrument. Instance ids come from an injected counter
// rather than package-level state.
type QuotingInstanceManager struct {
	directory InstrumentDirectory
	factory   EngineFactory
	nextID    *atomic.Int64
	logger    *zap.Logger

	mu        sync.RWMutex
	instances map[string]*QuotingEngine
}

// NewQuotingInstanceManager builds the registry. nextID supplies instance
// ids and is shared with whoever else numbers engines in this process.
func NewQuotingInstanceManager(directory InstrumentDirectory, factory EngineFactory, nextID *atomic.Int64, logger *zap.Logger) *QuotingInstanceManager {
	return &QuotingInstanceManager{
		directory: directory,
		factory:   factory,
		nextID:    nextID,
		logger:    logger.Named("registry"),
		instances: make(map[string]*QuotingEngine),
	}
}

// DeployInstance starts a fresh engine for the parameters' instrument,
// retiring any existing instance first. Returns false when the instrument
// is unknown or construction fails.
func (m *QuotingInstanceManager) DeployInstance(params models.QuotingParameters) bool {
	instrument, ok := m.directory.Lookup(params.InstrumentID)
	if !ok {
		m.logger.Error("cannot deploy: unknown instrument", zap.String("instrument", params.InstrumentID))
		return false
	}

	if m.RetireInstance(params.InstrumentID) {
		m.logger.Info("retired existing instance before redeploy", zap.String("instrument", params.InstrumentID))
	}

	engine, err := m.factory(m.nextID.Add(1), instrument, params)
	if err != nil {
		m.logger.Error("engine construction failed", zap.Error(err), zap.String("instrument", params.InstrumentID))
		return false
	}
	if err := engine.SetFairValueProvider(params.FairValueModel); err != nil {
		m.logger.Error("fair value provider construction failed", zap.Error(err),
			zap.String("instrument", params.InstrumentID), zap.String("model", params.FairValueModel))
		return false
	}
	if err := engine.Start(); err != nil {
		m.logger.Error("engine start failed", zap.Error(err), zap.String("instrument", params.InstrumentID))
		return false
	}

	m.mu.Lock()
	m.instances[params.InstrumentID] = engine
	m.mu.Unlock()

	m.logger.Info("quoting instance deployed",
		zap.String("instrument", params.InstrumentID),
		zap.Int64("engine_id", engine.ID()),
		zap.String("mode", string(params.Mode)))
	return true
}

// UpdateInstanceParameters tunes a running instance in place when possible.
// Changes to the fair-value model, the fair-value source instrument or the
// quoter mode rewire the object graph and force a retire + redeploy.
func (m *QuotingInstanceManager) UpdateInstanceParameters(params models.QuotingParameters) bool {
	m.mu.RLock()
	engine, ok := m.instances[params.InstrumentID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("no instance to update", zap.String("instrument", params.InstrumentID))
		return false
	}

	current := engine.CurrentParameters()
	if current.Equal(params) {
		m.logger.Debug("parameters unchanged", zap.String("instrument", params.InstrumentID))
		return true
	}
	if current.RequiresRedeploy(params) {
		m.logger.Info("core parameter change, redeploying", zap.String("instrument", params.InstrumentID))
		return m.DeployInstance(params)
	}

	if err := engine.UpdateParameters(params); err != nil {
		m.logger.Error("in-place parameter update failed", zap.Error(err), zap.String("instrument", params.InstrumentID))
		return false
	}
	return true
}

// RetireInstance stops and removes the engine for an instrument. Returns
// false when no instance is registered.
func (m *QuotingInstanceManager) RetireInstance(instrumentID string) bool {
	m.mu.Lock()
	engine, ok := m.instances[instrumentID]
	if ok {
		delete(m.instances, instrumentID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	engine.Stop()
	m.logger.Info("quoting instance retired", zap.String("instrument", instrumentID), zap.Int64("engine_id", engine.ID()))
	return true
}

// GetInstance returns the running engine for an instrument, if any.
func (m *QuotingInstanceManager) GetInstance(instrumentID string) (*QuotingEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, ok := m.instances[instrumentID]
	return engine, ok
}

// GetAllInstances returns a snapshot of all running engines.
func (m *QuotingInstanceManager) GetAllInstances() []*QuotingEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*QuotingEngine, 0, len(m.instances))
	for _, engine := range m.instances {
		out = append(out, engine)
	}
	return out
}

// RetireAll stops every running instance, used on process shutdown.
func (m *QuotingInstanceManager) RetireAll() {
	for _, engine := range m.GetAllInstances() {
		m.RetireInstance(engine.Instrument().ID)
	}
}

package quoting

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/pkg/models"
)

type mapDirectory map[string]models.Instrument

func (d mapDirectory) Lookup(instrumentID string) (models.Instrument, bool) {
	inst, ok := d[instrumentID]
	return inst, ok
}

func newTestManager(t *testing.T) (*QuotingInstanceManager, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	gateway := &fakeGateway{}
	directory := mapDirectory{"BTC-USD": testInstrument()}
	engineFactory := func(id int64, instrument models.Instrument, params models.QuotingParameters) (*QuotingEngine, error) {
		return NewQuotingEngine(id, instrument, params, EngineDeps{
			OrderFactory: factory,
			OrderGateway: gateway,
		})
	}
	var nextID atomic.Int64
	m := NewQuotingInstanceManager(directory, engineFactory, &nextID, zap.NewNop())
	t.Cleanup(m.RetireAll)
	return m, factory
}

func TestManagerDeployUnknownInstrument(t *testing.T) {
	m, _ := newTestManager(t)
	params := testParams(models.QuoterModeSingle)
	params.InstrumentID = "DOGE-USD"
	assert.False(t, m.DeployInstance(params))
}

func TestManagerDeployUnknownModel(t *testing.T) {
	m, _ := newTestManager(t)
	params := testParams(models.QuoterModeSingle)
	params.FairValueModel = "vwap"
	assert.False(t, m.DeployInstance(params))
	_, ok := m.GetInstance("BTC-USD")
	assert.False(t, ok)
}

func TestManagerDeployAndRetire(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))

	engine, ok := m.GetInstance("BTC-USD")
	require.True(t, ok)
	assert.True(t, engine.IsActive())
	assert.Equal(t, int64(1), engine.ID())
	assert.Len(t, m.GetAllInstances(), 1)

	require.True(t, m.RetireInstance("BTC-USD"))
	assert.False(t, engine.IsActive())
	_, ok = m.GetInstance("BTC-USD")
	assert.False(t, ok)

	assert.False(t, m.RetireInstance("BTC-USD"))
}

func TestManagerRedeployRetiresPrevious(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	first, _ := m.GetInstance("BTC-USD")

	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	second, ok := m.GetInstance("BTC-USD")
	require.True(t, ok)

	assert.False(t, first.IsActive())
	assert.True(t, second.IsActive())
	assert.Greater(t, second.ID(), first.ID())
	assert.Len(t, m.GetAllInstances(), 1)
}

func TestManagerUpdateWithoutInstance(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.UpdateInstanceParameters(testParams(models.QuoterModeSingle)))
}

func TestManagerUpdateUnchangedParameters(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	engine, _ := m.GetInstance("BTC-USD")

	require.True(t, m.UpdateInstanceParameters(testParams(models.QuoterModeSingle)))
	after, _ := m.GetInstance("BTC-USD")
	assert.Same(t, engine, after, "unchanged parameters must not touch the engine")
}

func TestManagerTuningUpdateKeepsEngine(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	engine, _ := m.GetInstance("BTC-USD")

	next := testParams(models.QuoterModeSingle)
	next.BidSpreadBps = d("25")
	require.True(t, m.UpdateInstanceParameters(next))

	after, _ := m.GetInstance("BTC-USD")
	assert.Same(t, engine, after)
	assert.True(t, after.CurrentParameters().BidSpreadBps.Equal(d("25")))
}

func TestManagerModeChangeForcesRedeploy(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	before, _ := m.GetInstance("BTC-USD")

	require.True(t, m.UpdateInstanceParameters(testParams(models.QuoterModeLayered)))

	after, ok := m.GetInstance("BTC-USD")
	require.True(t, ok)
	assert.NotSame(t, before, after, "mode change rewires the object graph")
	assert.False(t, before.IsActive())
	assert.Equal(t, models.QuoterModeLayered, after.CurrentParameters().Mode)
}

func TestManagerRetireAll(t *testing.T) {
	m, _ := newTestManager(t)
	require.True(t, m.DeployInstance(testParams(models.QuoterModeSingle)))
	engines := m.GetAllInstances()
	require.Len(t, engines, 1)

	m.RetireAll()
	assert.Empty(t, m.GetAllInstances())
	assert.False(t, engines[0].IsActive())
}

package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/quotecore/internal/config"
	"github.com/Aidin1998/quotecore/internal/exchange/paper"
	"github.com/Aidin1998/quotecore/internal/quoting"
	"github.com/Aidin1998/quotecore/pkg/logger"
	"github.com/Aidin1998/quotecore/pkg/models"
)

// staticDirectory serves the instruments declared in the config file.
type staticDirectory map[string]models.Instrument

func (d staticDirectory) Lookup(instrumentID string) (models.Instrument, bool) {
	instrument, ok := d[instrumentID]
	return instrument, ok
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	quoting.RegisterMetrics(registry)

	directory := staticDirectory{}
	for _, ic := range cfg.Instruments {
		instrument, err := ic.Instrument()
		if err != nil {
			zapLogger.Fatal("invalid instrument config", zap.Error(err), zap.String("instrument", ic.ID))
		}
		directory[instrument.ID] = instrument
	}

	// The paper venue stands in for real connectivity, which plugs in
	// behind the same OrderFactory/OrderGateway/BookSource interfaces.
	venue := paper.New(zapLogger)

	factory := func(id int64, instrument models.Instrument, params models.QuotingParameters) (*quoting.QuotingEngine, error) {
		return quoting.NewQuotingEngine(id, instrument, params, quoting.EngineDeps{
			OrderFactory: venue,
			OrderGateway: venue,
			BookSource:   venue,
			Logger:       zapLogger,
		})
	}

	var nextID atomic.Int64
	manager := quoting.NewQuotingInstanceManager(directory, factory, &nextID, zapLogger)

	for _, qc := range cfg.Quoting {
		params, err := qc.Parameters()
		if err != nil {
			zapLogger.Fatal("invalid quoting config", zap.Error(err), zap.String("instrument", qc.InstrumentID))
		}
		if !manager.DeployInstance(params) {
			zapLogger.Fatal("failed to deploy quoting instance", zap.String("instrument", params.InstrumentID))
		}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		zapLogger.Info("metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			zapLogger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	zapLogger.Info("quotecore running", zap.Int("instances", len(manager.GetAllInstances())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("shutting down, retiring all quoting instances")
	manager.RetireAll()
}

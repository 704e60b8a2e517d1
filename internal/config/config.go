// Package config loads the daemon configuration from yaml and environment.
package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Aidin1998/quotecore/pkg/models"
)

// Config is the top-level daemon configuration.
type Config struct {
	LogLevel    string             `mapstructure:"log_level"`
	MetricsAddr string             `mapstructure:"metrics_addr"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Quoting     []QuotingConfig    `mapstructure:"quoting"`
}

// InstrumentConfig defines one tradable instrument. Decimal fields are
// strings to keep yaml exact.
type InstrumentConfig struct {
	ID       string `mapstructure:"id"`
	TickSize string `mapstructure:"tick_size"`
	LotSize  string `mapstructure:"lot_size"`
}

// QuotingConfig is one quoting instance's parameter set.
type QuotingConfig struct {
	InstrumentID          string `mapstructure:"instrument_id"`
	BookName              string `mapstructure:"book_name"`
	FairValueModel        string `mapstructure:"fair_value_model"`
	FairValueInstrumentID string `mapstructure:"fair_value_instrument_id"`
	BidSpreadBps          string `mapstructure:"bid_spread_bps"`
	AskSpreadBps          string `mapstructure:"ask_spread_bps"`
	SkewBps               string `mapstructure:"skew_bps"`
	OrderSize             string `mapstructure:"order_size"`
	LadderDepth           int    `mapstructure:"ladder_depth"`
	LadderGroupingBps     string `mapstructure:"ladder_grouping_bps"`
	Mode                  string `mapstructure:"mode"`
	PostOnly              bool   `mapstructure:"post_only"`
	MaxSideFills          string `mapstructure:"max_side_fills"`
}

// LoadConfig reads config.yaml from the working directory or ./config, with
// QUOTECORE_ prefixed environment overrides. A missing file leaves the
// defaults in place.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("QUOTECORE")
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9301")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Instrument converts the config entry into the domain type.
func (c InstrumentConfig) Instrument() (models.Instrument, error) {
	tick, err := parseDecimal(c.TickSize, "tick_size")
	if err != nil {
		return models.Instrument{}, err
	}
	lot, err := parseDecimal(c.LotSize, "lot_size")
	if err != nil {
		return models.Instrument{}, err
	}
	return models.Instrument{ID: c.ID, TickSize: tick, LotSize: lot}, nil
}

// Parameters converts the config entry into the domain parameter set.
func (c QuotingConfig) Parameters() (models.QuotingParameters, error) {
	var p models.QuotingParameters
	var err error

	if p.BidSpreadBps, err = parseDecimal(c.BidSpreadBps, "bid_spread_bps"); err != nil {
		return p, err
	}
	if p.AskSpreadBps, err = parseDecimal(c.AskSpreadBps, "ask_spread_bps"); err != nil {
		return p, err
	}
	if p.SkewBps, err = parseDecimal(c.SkewBps, "skew_bps"); err != nil {
		return p, err
	}
	if p.OrderSize, err = parseDecimal(c.OrderSize, "order_size"); err != nil {
		return p, err
	}
	if p.LadderGroupingBps, err = parseDecimal(c.LadderGroupingBps, "ladder_grouping_bps"); err != nil {
		return p, err
	}
	if p.MaxSideFills, err = parseDecimal(c.MaxSideFills, "max_side_fills"); err != nil {
		return p, err
	}

	mode := models.QuoterMode(c.Mode)
	switch mode {
	case models.QuoterModeSingle, models.QuoterModeLayered:
	case "":
		mode = models.QuoterModeSingle
	default:
		return p, fmt.Errorf("unknown quoter mode %q", c.Mode)
	}

	p.InstrumentID = c.InstrumentID
	p.BookName = c.BookName
	p.FairValueModel = c.FairValueModel
	p.FairValueInstrumentID = c.FairValueInstrumentID
	p.LadderDepth = c.LadderDepth
	p.Mode = mode
	p.PostOnly = c.PostOnly
	return p, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

package cfg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Patch is a sparse update of a Config. A nil field leaves the target value
// untouched. Symbols and TradingHours replace the current values wholesale.
type Patch struct {
	Connection     *ConnectionPatch `json:"connection,omitempty" yaml:"connection,omitempty"`
	Trading        *TradingPatch    `json:"trading,omitempty" yaml:"trading,omitempty"`
	RiskManagement *RiskPatch       `json:"risk_management,omitempty" yaml:"risk_management,omitempty"`
	Signal         *SignalPatch     `json:"signal,omitempty" yaml:"signal,omitempty"`
	Logging        *LoggingPatch    `json:"logging,omitempty" yaml:"logging,omitempty"`
}

type ConnectionPatch struct {
	Account  *int    `json:"account,omitempty" yaml:"account,omitempty"`
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
	Server   *string `json:"server,omitempty" yaml:"server,omitempty"`
	Timeout  *int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Path     *string `json:"path,omitempty" yaml:"path,omitempty"`
}

type TradingPatch struct {
	Symbols          *[]SymbolSettings   `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	DefaultVolume    *float64            `json:"default_volume,omitempty" yaml:"default_volume,omitempty"`
	DefaultDeviation *int                `json:"default_deviation,omitempty" yaml:"default_deviation,omitempty"`
	MagicNumber      *int                `json:"magic_number,omitempty" yaml:"magic_number,omitempty"`
	TradingHours     map[string][]string `json:"trading_hours,omitempty" yaml:"trading_hours,omitempty"`
}

type RiskPatch struct {
	MaxPositions          *int     `json:"max_positions,omitempty" yaml:"max_positions,omitempty"`
	MaxDailyLoss          *float64 `json:"max_daily_loss,omitempty" yaml:"max_daily_loss,omitempty"`
	MaxDailyProfit        *float64 `json:"max_daily_profit,omitempty" yaml:"max_daily_profit,omitempty"`
	MaxEquityRiskPercent  *float64 `json:"max_equity_risk_percent,omitempty" yaml:"max_equity_risk_percent,omitempty"`
	DefaultStopLossPips   *int     `json:"default_stop_loss_pips,omitempty" yaml:"default_stop_loss_pips,omitempty"`
	DefaultTakeProfitPips *int     `json:"default_take_profit_pips,omitempty" yaml:"default_take_profit_pips,omitempty"`
	UseTrailingStop       *bool    `json:"use_trailing_stop,omitempty" yaml:"use_trailing_stop,omitempty"`
	TrailingStopPips      *int     `json:"trailing_stop_pips,omitempty" yaml:"trailing_stop_pips,omitempty"`
}

type SignalPatch struct {
	RSIPeriod          *int     `json:"rsi_period,omitempty" yaml:"rsi_period,omitempty"`
	RSIOverbought      *int     `json:"rsi_overbought,omitempty" yaml:"rsi_overbought,omitempty"`
	RSIOversold        *int     `json:"rsi_oversold,omitempty" yaml:"rsi_oversold,omitempty"`
	MAFastPeriod       *int     `json:"ma_fast_period,omitempty" yaml:"ma_fast_period,omitempty"`
	MASlowPeriod       *int     `json:"ma_slow_period,omitempty" yaml:"ma_slow_period,omitempty"`
	MACDFastPeriod     *int     `json:"macd_fast_period,omitempty" yaml:"macd_fast_period,omitempty"`
	MACDSlowPeriod     *int     `json:"macd_slow_period,omitempty" yaml:"macd_slow_period,omitempty"`
	MACDSignalPeriod   *int     `json:"macd_signal_period,omitempty" yaml:"macd_signal_period,omitempty"`
	ATRPeriod          *int     `json:"atr_period,omitempty" yaml:"atr_period,omitempty"`
	MLMINeighbors      *int     `json:"mlmi_neighbors,omitempty" yaml:"mlmi_neighbors,omitempty"`
	MLMIMomentumWindow *int     `json:"mlmi_momentum_window,omitempty" yaml:"mlmi_momentum_window,omitempty"`
	QRWindowSize       *int     `json:"qr_window_size,omitempty" yaml:"qr_window_size,omitempty"`
	QRDegree           *int     `json:"qr_degree,omitempty" yaml:"qr_degree,omitempty"`
	FVGThreshold       *float64 `json:"fvg_threshold,omitempty" yaml:"fvg_threshold,omitempty"`
}

type LoggingPatch struct {
	Level       *string `json:"level,omitempty" yaml:"level,omitempty"`
	FilePath    *string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	MaxFileSize *int64  `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	BackupCount *int    `json:"backup_count,omitempty" yaml:"backup_count,omitempty"`
}

// ParsePatch decodes a JSON document into a Patch. Unknown keys and values of
// the wrong type are rejected.
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Patch{}, &ConfigError{Op: "parse", Err: errors.New("empty document")}
		}
		return Patch{}, &ConfigError{Op: "parse", Err: err}
	}
	if dec.More() {
		return Patch{}, &ConfigError{Op: "parse", Err: errors.New("unexpected data after top-level object")}
	}
	return p, nil
}

// ParseYAMLPatch decodes a YAML document into a Patch with the same rules as
// ParsePatch. An empty document yields an empty Patch.
func ParseYAMLPatch(data []byte) (Patch, error) {
	var p Patch
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Patch{}, &ConfigError{Op: "parse", Err: err}
	}
	return p, nil
}

// PatchFromMap converts a loosely typed nested map, such as one decoded from
// an arbitrary JSON payload, into a Patch.
func PatchFromMap(m map[string]any) (Patch, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Patch{}, &ConfigError{Op: "parse", Err: fmt.Errorf("encode update: %w", err)}
	}
	return ParsePatch(data)
}

// IsEmpty reports whether applying p would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Connection == nil && p.Trading == nil && p.RiskManagement == nil &&
		p.Signal == nil && p.Logging == nil
}

// Apply merges p onto a copy of c and validates the copy. On success the
// merged copy is returned; c itself is never modified.
func (c Config) Apply(p Patch) (Config, error) {
	staged := c.Clone()
	p.mergeInto(&staged)
	if ve := staged.violations(); ve != nil {
		return Config{}, &ConfigError{Op: "update", Err: ve}
	}
	return staged, nil
}

func (p Patch) mergeInto(c *Config) {
	if p.Connection != nil {
		p.Connection.mergeInto(&c.Connection)
	}
	if p.Trading != nil {
		p.Trading.mergeInto(&c.Trading)
	}
	if p.RiskManagement != nil {
		p.RiskManagement.mergeInto(&c.RiskManagement)
	}
	if p.Signal != nil {
		p.Signal.mergeInto(&c.Signal)
	}
	if p.Logging != nil {
		p.Logging.mergeInto(&c.Logging)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (p *ConnectionPatch) mergeInto(s *ConnectionSettings) {
	set(&s.Account, p.Account)
	set(&s.Password, p.Password)
	set(&s.Server, p.Server)
	set(&s.Timeout, p.Timeout)
	set(&s.Path, p.Path)
}

func (p *TradingPatch) mergeInto(s *TradingSettings) {
	if p.Symbols != nil {
		symbols := make([]SymbolSettings, len(*p.Symbols))
		for i, sym := range *p.Symbols {
			symbols[i] = sym.Clone()
		}
		s.Symbols = symbols
	}
	set(&s.DefaultVolume, p.DefaultVolume)
	set(&s.DefaultDeviation, p.DefaultDeviation)
	set(&s.MagicNumber, p.MagicNumber)
	if p.TradingHours != nil {
		s.TradingHours = cloneHours(p.TradingHours)
	}
}

func (p *RiskPatch) mergeInto(s *RiskSettings) {
	set(&s.MaxPositions, p.MaxPositions)
	set(&s.MaxDailyLoss, p.MaxDailyLoss)
	set(&s.MaxDailyProfit, p.MaxDailyProfit)
	set(&s.MaxEquityRiskPercent, p.MaxEquityRiskPercent)
	set(&s.DefaultStopLossPips, p.DefaultStopLossPips)
	set(&s.DefaultTakeProfitPips, p.DefaultTakeProfitPips)
	set(&s.UseTrailingStop, p.UseTrailingStop)
	set(&s.TrailingStopPips, p.TrailingStopPips)
}

func (p *SignalPatch) mergeInto(s *SignalSettings) {
	set(&s.RSIPeriod, p.RSIPeriod)
	set(&s.RSIOverbought, p.RSIOverbought)
	set(&s.RSIOversold, p.RSIOversold)
	set(&s.MAFastPeriod, p.MAFastPeriod)
	set(&s.MASlowPeriod, p.MASlowPeriod)
	set(&s.MACDFastPeriod, p.MACDFastPeriod)
	set(&s.MACDSlowPeriod, p.MACDSlowPeriod)
	set(&s.MACDSignalPeriod, p.MACDSignalPeriod)
	set(&s.ATRPeriod, p.ATRPeriod)
	set(&s.MLMINeighbors, p.MLMINeighbors)
	set(&s.MLMIMomentumWindow, p.MLMIMomentumWindow)
	set(&s.QRWindowSize, p.QRWindowSize)
	set(&s.QRDegree, p.QRDegree)
	set(&s.FVGThreshold, p.FVGThreshold)
}

func (p *LoggingPatch) mergeInto(s *LoggingSettings) {
	set(&s.Level, p.Level)
	set(&s.FilePath, p.FilePath)
	set(&s.MaxFileSize, p.MaxFileSize)
	set(&s.BackupCount, p.BackupCount)
}

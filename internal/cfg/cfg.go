// Package cfg defines the configuration tree of the MT5 trading bot: terminal
// connection, traded symbols, risk limits, indicator parameters and logging.
//
// Every node validates its own fields. The root Config validates its children in
// a fixed order and reports failures as a single *ConfigError. Updates are
// expressed as typed Patch values that are merged onto a staged copy and only
// returned when the staged copy validates.
package cfg

import (
	"maps"
	"os"
	"slices"

	"mt5-bot/internal/common"
)

// ConnectionSettings holds the terminal login parameters.
type ConnectionSettings struct {
	Account  int    `json:"account" yaml:"account"`
	Password string `json:"password" yaml:"password"`
	Server   string `json:"server" yaml:"server"`
	Timeout  int    `json:"timeout" yaml:"timeout"` // milliseconds
	Path     string `json:"path" yaml:"path"`       // terminal install path, may be empty
}

// SymbolSettings describes one traded instrument.
type SymbolSettings struct {
	Name           string   `json:"name" yaml:"name"`
	Timeframes     []string `json:"timeframes" yaml:"timeframes"`
	ChartTimeframe string   `json:"chart_timeframe" yaml:"chart_timeframe"`
	MaxSpread      float64  `json:"max_spread" yaml:"max_spread"`
	SwapLong       float64  `json:"swap_long" yaml:"swap_long"`
	SwapShort      float64  `json:"swap_short" yaml:"swap_short"`
	MarginRate     float64  `json:"margin_rate" yaml:"margin_rate"`
}

// TradingSettings holds order defaults, the traded symbols and the weekly
// trading schedule. TradingHours maps a weekday name to "HH:MM-HH:MM" ranges.
type TradingSettings struct {
	Symbols          []SymbolSettings    `json:"symbols" yaml:"symbols"`
	DefaultVolume    float64             `json:"default_volume" yaml:"default_volume"`
	DefaultDeviation int                 `json:"default_deviation" yaml:"default_deviation"`
	MagicNumber      int                 `json:"magic_number" yaml:"magic_number"`
	TradingHours     map[string][]string `json:"trading_hours" yaml:"trading_hours"`
}

type RiskSettings struct {
	MaxPositions          int     `json:"max_positions" yaml:"max_positions"`
	MaxDailyLoss          float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxDailyProfit        float64 `json:"max_daily_profit" yaml:"max_daily_profit"`
	MaxEquityRiskPercent  float64 `json:"max_equity_risk_percent" yaml:"max_equity_risk_percent"`
	DefaultStopLossPips   int     `json:"default_stop_loss_pips" yaml:"default_stop_loss_pips"`
	DefaultTakeProfitPips int     `json:"default_take_profit_pips" yaml:"default_take_profit_pips"`
	UseTrailingStop       bool    `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopPips      int     `json:"trailing_stop_pips" yaml:"trailing_stop_pips"`
}

// SignalSettings holds indicator periods and thresholds.
type SignalSettings struct {
	RSIPeriod          int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOverbought      int     `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold        int     `json:"rsi_oversold" yaml:"rsi_oversold"`
	MAFastPeriod       int     `json:"ma_fast_period" yaml:"ma_fast_period"`
	MASlowPeriod       int     `json:"ma_slow_period" yaml:"ma_slow_period"`
	MACDFastPeriod     int     `json:"macd_fast_period" yaml:"macd_fast_period"`
	MACDSlowPeriod     int     `json:"macd_slow_period" yaml:"macd_slow_period"`
	MACDSignalPeriod   int     `json:"macd_signal_period" yaml:"macd_signal_period"`
	ATRPeriod          int     `json:"atr_period" yaml:"atr_period"`
	MLMINeighbors      int     `json:"mlmi_neighbors" yaml:"mlmi_neighbors"`
	MLMIMomentumWindow int     `json:"mlmi_momentum_window" yaml:"mlmi_momentum_window"`
	QRWindowSize       int     `json:"qr_window_size" yaml:"qr_window_size"`
	QRDegree           int     `json:"qr_degree" yaml:"qr_degree"`
	FVGThreshold       float64 `json:"fvg_threshold" yaml:"fvg_threshold"`
}

type LoggingSettings struct {
	Level       string `json:"level" yaml:"level"`
	FilePath    string `json:"file_path" yaml:"file_path"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size"` // bytes
	BackupCount int    `json:"backup_count" yaml:"backup_count"`
}

// Config is the root of the configuration tree.
type Config struct {
	Connection     ConnectionSettings `json:"connection" yaml:"connection"`
	Trading        TradingSettings    `json:"trading" yaml:"trading"`
	RiskManagement RiskSettings       `json:"risk_management" yaml:"risk_management"`
	Signal         SignalSettings     `json:"signal" yaml:"signal"`
	Logging        LoggingSettings    `json:"logging" yaml:"logging"`
}

// Default returns a configuration populated with defaults. Connection
// credentials come from MT5_ACCOUNT, MT5_PASSWORD and MT5_SERVER.
//
// The default trading group has no symbols, so the result does not pass
// Validate until at least one symbol is supplied.
func Default() Config {
	return Config{
		Connection: ConnectionSettings{
			Account:  getIntOrDefault(common.EnvAccount, 0),
			Password: os.Getenv(common.EnvPassword),
			Server:   os.Getenv(common.EnvServer),
			Timeout:  common.DefaultTimeoutMs,
			Path:     "",
		},
		Trading: TradingSettings{
			Symbols:          []SymbolSettings{},
			DefaultVolume:    common.DefaultVolume,
			DefaultDeviation: common.DefaultDeviation,
			MagicNumber:      common.DefaultMagicNumber,
			TradingHours:     defaultTradingHours(),
		},
		RiskManagement: RiskSettings{
			MaxPositions:          common.DefaultMaxPositions,
			MaxDailyLoss:          common.DefaultMaxDailyLoss,
			MaxDailyProfit:        common.DefaultMaxDailyProfit,
			MaxEquityRiskPercent:  common.DefaultMaxEquityRiskPercent,
			DefaultStopLossPips:   common.DefaultStopLossPips,
			DefaultTakeProfitPips: common.DefaultTakeProfitPips,
			UseTrailingStop:       common.DefaultUseTrailingStop,
			TrailingStopPips:      common.DefaultTrailingStopPips,
		},
		Signal: SignalSettings{
			RSIPeriod:          common.DefaultRSIPeriod,
			RSIOverbought:      common.DefaultRSIOverbought,
			RSIOversold:        common.DefaultRSIOversold,
			MAFastPeriod:       common.DefaultMAFastPeriod,
			MASlowPeriod:       common.DefaultMASlowPeriod,
			MACDFastPeriod:     common.DefaultMACDFastPeriod,
			MACDSlowPeriod:     common.DefaultMACDSlowPeriod,
			MACDSignalPeriod:   common.DefaultMACDSignalPeriod,
			ATRPeriod:          common.DefaultATRPeriod,
			MLMINeighbors:      common.DefaultMLMINeighbors,
			MLMIMomentumWindow: common.DefaultMLMIMomentumWindow,
			QRWindowSize:       common.DefaultQRWindowSize,
			QRDegree:           common.DefaultQRDegree,
			FVGThreshold:       common.DefaultFVGThreshold,
		},
		Logging: LoggingSettings{
			Level:       common.DefaultLogLevel,
			FilePath:    common.DefaultLogFilePath,
			MaxFileSize: common.DefaultLogMaxFileSize,
			BackupCount: common.DefaultLogBackupCount,
		},
	}
}

func defaultTradingHours() map[string][]string {
	hours := make(map[string][]string, 5)
	for _, day := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"} {
		hours[day] = []string{common.DefaultTradingDayRange}
	}
	return hours
}

// Clone returns a deep copy. The copy shares no slices or maps with c.
func (c Config) Clone() Config {
	out := c
	out.Trading = c.Trading.Clone()
	return out
}

func (t TradingSettings) Clone() TradingSettings {
	out := t
	if t.Symbols != nil {
		out.Symbols = make([]SymbolSettings, len(t.Symbols))
		for i, s := range t.Symbols {
			out.Symbols[i] = s.Clone()
		}
	}
	out.TradingHours = cloneHours(t.TradingHours)
	return out
}

func (s SymbolSettings) Clone() SymbolSettings {
	out := s
	out.Timeframes = slices.Clone(s.Timeframes)
	return out
}

func cloneHours(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := maps.Clone(h)
	for day, ranges := range out {
		out[day] = slices.Clone(ranges)
	}
	return out
}

// Symbol returns the settings for the named symbol.
func (t TradingSettings) Symbol(name string) (SymbolSettings, bool) {
	for _, s := range t.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return SymbolSettings{}, false
}

// SymbolNames lists the configured symbol names in order.
func (t TradingSettings) SymbolNames() []string {
	names := make([]string, 0, len(t.Symbols))
	for _, s := range t.Symbols {
		names = append(names, s.Name)
	}
	return names
}

package cfg

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"mt5-bot/internal/common"
)

var weekdays = map[string]bool{
	"Monday":    true,
	"Tuesday":   true,
	"Wednesday": true,
	"Thursday":  true,
	"Friday":    true,
	"Saturday":  true,
	"Sunday":    true,
}

// checker accumulates violations under a key prefix.
type checker struct {
	prefix string
	out    *[]Violation
}

func newChecker(prefix string) checker {
	return checker{prefix: prefix, out: &[]Violation{}}
}

func (c checker) field(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

func (c checker) sub(name string) checker {
	return checker{prefix: c.field(name), out: c.out}
}

func (c checker) check(ok bool, field, format string, args ...any) {
	if !ok {
		*c.out = append(*c.out, Violation{Field: c.field(field), Reason: fmt.Sprintf(format, args...)})
	}
}

// number reports a violation and returns false when v is NaN or infinite.
func (c checker) number(field string, v float64) bool {
	ok := !math.IsNaN(v) && !math.IsInf(v, 0)
	c.check(ok, field, "must be a finite number, got %g", v)
	return ok
}

func (c checker) err() error {
	if len(*c.out) == 0 {
		return nil
	}
	return &ValidationError{Violations: *c.out}
}

// Validate checks the connection invariants.
func (s ConnectionSettings) Validate() error {
	c := newChecker("connection")
	s.validate(c)
	return c.err()
}

func (s ConnectionSettings) validate(c checker) {
	c.check(s.Account > 0, "account", "must be positive, got %d", s.Account)
	c.check(s.Password != "", "password", "is required")
	c.check(s.Server != "", "server", "is required")
	c.check(s.Timeout > 0, "timeout", "must be positive, got %d", s.Timeout)
}

// Validate checks the symbol invariants.
func (s SymbolSettings) Validate() error {
	c := newChecker("symbol")
	s.validate(c)
	return c.err()
}

func (s SymbolSettings) validate(c checker) {
	c.check(s.Name != "", "name", "is required")
	c.check(len(s.Timeframes) > 0, "timeframes", "at least one timeframe is required")
	for i, tf := range s.Timeframes {
		if slices.Index(s.Timeframes, tf) != i {
			c.check(false, fmt.Sprintf("timeframes[%d]", i), "duplicate timeframe %q", tf)
		}
	}
	c.check(slices.Contains(s.Timeframes, s.ChartTimeframe), "chart_timeframe",
		"%q is not one of the configured timeframes %v", s.ChartTimeframe, s.Timeframes)
	if c.number("max_spread", s.MaxSpread) {
		c.check(s.MaxSpread >= 0 && s.MaxSpread <= common.MaxSpread, "max_spread",
			"must be in [0, %g], got %g", common.MaxSpread, s.MaxSpread)
	}
	c.number("swap_long", s.SwapLong)
	c.number("swap_short", s.SwapShort)
	if c.number("margin_rate", s.MarginRate) {
		c.check(s.MarginRate > 0, "margin_rate", "must be positive, got %g", s.MarginRate)
	}
}

// Validate checks the trading invariants, including every symbol and the
// trading-hours schedule.
func (s TradingSettings) Validate() error {
	c := newChecker("trading")
	s.validate(c)
	return c.err()
}

func (s TradingSettings) validate(c checker) {
	c.check(len(s.Symbols) > 0, "symbols", "at least one trading symbol is required")
	seen := make(map[string]bool, len(s.Symbols))
	for i, sym := range s.Symbols {
		sym.validate(c.sub(fmt.Sprintf("symbols[%d]", i)))
		if sym.Name != "" {
			c.check(!seen[sym.Name], fmt.Sprintf("symbols[%d].name", i), "duplicate symbol %q", sym.Name)
			seen[sym.Name] = true
		}
	}
	if c.number("default_volume", s.DefaultVolume) {
		c.check(s.DefaultVolume > 0, "default_volume", "must be positive, got %g", s.DefaultVolume)
	}
	c.check(s.DefaultDeviation >= 0, "default_deviation", "must not be negative, got %d", s.DefaultDeviation)
	c.check(s.MagicNumber > 0, "magic_number", "must be positive, got %d", s.MagicNumber)

	c.check(s.TradingHours != nil, "trading_hours", "is required, use an empty mapping for no trading days")
	days := make([]string, 0, len(s.TradingHours))
	for day := range s.TradingHours {
		days = append(days, day)
	}
	sort.Strings(days)
	hours := c.sub("trading_hours")
	for _, day := range days {
		if !weekdays[day] {
			hours.check(false, day, "%q is not a weekday name", day)
			continue
		}
		for i, r := range s.TradingHours[day] {
			if err := checkRange(r); err != nil {
				hours.check(false, fmt.Sprintf("%s[%d]", day, i), "%v", err)
			}
		}
	}
}

// checkRange verifies a "HH:MM-HH:MM" trading range.
func checkRange(r string) error {
	if strings.Count(r, "-") != 1 {
		return fmt.Errorf("range %q must have the form HH:MM-HH:MM", r)
	}
	start, end, _ := strings.Cut(r, "-")
	if _, err := parseClock(start); err != nil {
		return fmt.Errorf("range %q: invalid start: %w", r, err)
	}
	if _, err := parseClock(end); err != nil {
		return fmt.Errorf("range %q: invalid end: %w", r, err)
	}
	return nil
}

// parseClock parses a 24-hour HH:MM value into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid HH:MM time", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s RiskSettings) Validate() error {
	c := newChecker("risk_management")
	s.validate(c)
	return c.err()
}

func (s RiskSettings) validate(c checker) {
	c.check(s.MaxPositions > 0, "max_positions", "must be positive, got %d", s.MaxPositions)
	if c.number("max_daily_loss", s.MaxDailyLoss) {
		c.check(s.MaxDailyLoss > 0, "max_daily_loss", "must be positive, got %g", s.MaxDailyLoss)
	}
	if c.number("max_daily_profit", s.MaxDailyProfit) {
		c.check(s.MaxDailyProfit > 0, "max_daily_profit", "must be positive, got %g", s.MaxDailyProfit)
	}
	if c.number("max_equity_risk_percent", s.MaxEquityRiskPercent) {
		c.check(s.MaxEquityRiskPercent > 0 && s.MaxEquityRiskPercent <= common.MaxEquityRiskPercent,
			"max_equity_risk_percent", "must be in (0, %g], got %g", common.MaxEquityRiskPercent, s.MaxEquityRiskPercent)
	}
	c.check(s.DefaultStopLossPips > 0, "default_stop_loss_pips", "must be positive, got %d", s.DefaultStopLossPips)
	c.check(s.DefaultTakeProfitPips > 0, "default_take_profit_pips", "must be positive, got %d", s.DefaultTakeProfitPips)
	c.check(s.TrailingStopPips > 0, "trailing_stop_pips", "must be positive, got %d", s.TrailingStopPips)
}

func (s SignalSettings) Validate() error {
	c := newChecker("signal")
	s.validate(c)
	return c.err()
}

func (s SignalSettings) validate(c checker) {
	periods := []struct {
		field string
		value int
	}{
		{"rsi_period", s.RSIPeriod},
		{"ma_fast_period", s.MAFastPeriod},
		{"ma_slow_period", s.MASlowPeriod},
		{"macd_fast_period", s.MACDFastPeriod},
		{"macd_slow_period", s.MACDSlowPeriod},
		{"macd_signal_period", s.MACDSignalPeriod},
		{"atr_period", s.ATRPeriod},
		{"mlmi_neighbors", s.MLMINeighbors},
		{"mlmi_momentum_window", s.MLMIMomentumWindow},
		{"qr_window_size", s.QRWindowSize},
		{"qr_degree", s.QRDegree},
	}
	for _, p := range periods {
		c.check(p.value > 0, p.field, "must be positive, got %d", p.value)
	}

	inRange := func(v int) bool { return v >= common.MinOscillatorLevel && v <= common.MaxOscillatorLevel }
	c.check(inRange(s.RSIOversold), "rsi_oversold", "must be between 0 and 100, got %d", s.RSIOversold)
	c.check(inRange(s.RSIOverbought), "rsi_overbought", "must be between 0 and 100, got %d", s.RSIOverbought)
	c.check(s.RSIOversold < s.RSIOverbought, "rsi_oversold",
		"must be below rsi_overbought (%d), got %d", s.RSIOverbought, s.RSIOversold)
	c.check(s.MAFastPeriod < s.MASlowPeriod, "ma_fast_period",
		"must be below ma_slow_period (%d), got %d", s.MASlowPeriod, s.MAFastPeriod)
	c.check(s.MACDFastPeriod < s.MACDSlowPeriod, "macd_fast_period",
		"must be below macd_slow_period (%d), got %d", s.MACDSlowPeriod, s.MACDFastPeriod)
	if c.number("fvg_threshold", s.FVGThreshold) {
		c.check(s.FVGThreshold > 0, "fvg_threshold", "must be positive, got %g", s.FVGThreshold)
	}
}

func (s LoggingSettings) Validate() error {
	c := newChecker("logging")
	s.validate(c)
	return c.err()
}

func (s LoggingSettings) validate(c checker) {
	c.check(slices.Contains(common.LogLevels, s.Level), "level", "must be one of %v, got %q", common.LogLevels, s.Level)
	c.check(s.MaxFileSize > 0, "max_file_size", "must be positive, got %d", s.MaxFileSize)
	c.check(s.BackupCount >= 0, "backup_count", "must not be negative, got %d", s.BackupCount)
}

// Validate checks every group in the order connection, trading,
// risk_management, signal, logging. All violations are collected and
// returned as a *ConfigError wrapping a *ValidationError.
func (c Config) Validate() error {
	if ve := c.violations(); ve != nil {
		return &ConfigError{Op: "validate", Err: ve}
	}
	return nil
}

func (c Config) violations() *ValidationError {
	root := newChecker("")
	c.Connection.validate(root.sub("connection"))
	c.Trading.validate(root.sub("trading"))
	c.RiskManagement.validate(root.sub("risk_management"))
	c.Signal.validate(root.sub("signal"))
	c.Logging.validate(root.sub("logging"))
	if len(*root.out) == 0 {
		return nil
	}
	return &ValidationError{Violations: *root.out}
}

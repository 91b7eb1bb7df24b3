// Package terminal applies session and per-symbol settings to an MT5 trading
// terminal. The terminal itself is an external collaborator reached through
// the Terminal interface; BridgeClient is the HTTP implementation.
package terminal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mt5-bot/internal/cfg"
	"mt5-bot/internal/common"
)

// Session carries the login parameters for a terminal session.
type Session struct {
	Account  int
	Password string
	Server   string
	Timeout  time.Duration
	Path     string
}

// SymbolSpec is the per-instrument configuration sent to the terminal.
// Spread is expressed in terminal points.
type SymbolSpec struct {
	Name         string
	SpreadPoints int
	SwapLong     float64
	SwapShort    float64
	MarginRate   float64
}

// Terminal is the external trading terminal.
type Terminal interface {
	Initialize(ctx context.Context, s Session) error
	ConfigureSymbol(ctx context.Context, spec SymbolSpec) error
	Shutdown(ctx context.Context) error
}

// Recorder receives apply metrics. *metrics.MetricsWrapper implements it.
type Recorder interface {
	SymbolConfigured()
	SymbolFailed()
	ObserveApply(seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) SymbolConfigured()    {}
func (nopRecorder) SymbolFailed()        {}
func (nopRecorder) ObserveApply(float64) {}

// SymbolFailure records a symbol the terminal did not accept.
type SymbolFailure struct {
	Symbol string
	Err    error
}

// Report summarises one Apply run.
type Report struct {
	Configured []string
	Failed     []SymbolFailure
}

// OK reports whether every symbol was configured.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// SessionFrom converts connection settings into a terminal session.
func SessionFrom(c cfg.ConnectionSettings) Session {
	return Session{
		Account:  c.Account,
		Password: c.Password,
		Server:   c.Server,
		Timeout:  time.Duration(c.Timeout) * time.Millisecond,
		Path:     c.Path,
	}
}

// SpreadPoints converts a configured max spread into terminal spread points:
// the spread times ten, truncated toward zero (1.5 -> 15, 1.59 -> 15).
// Spreads that are not finite or do not fit the terminal's int32 field are
// rejected.
func SpreadPoints(maxSpread float64) (int, error) {
	if math.IsNaN(maxSpread) || math.IsInf(maxSpread, 0) {
		return 0, fmt.Errorf("max spread %g is not a finite number", maxSpread)
	}
	points := decimal.NewFromFloat(maxSpread).
		Mul(decimal.NewFromInt(common.SpreadPointsPerUnit)).
		Truncate(0)
	if points.LessThan(decimal.NewFromInt(-common.MaxSpreadPoints)) ||
		points.GreaterThan(decimal.NewFromInt(common.MaxSpreadPoints)) {
		return 0, fmt.Errorf("max spread %g exceeds %d spread points", maxSpread, common.MaxSpreadPoints)
	}
	return int(points.IntPart()), nil
}

// SpecFrom converts symbol settings into a terminal symbol spec.
func SpecFrom(s cfg.SymbolSettings) (SymbolSpec, error) {
	points, err := SpreadPoints(s.MaxSpread)
	if err != nil {
		return SymbolSpec{}, fmt.Errorf("symbol %s: %w", s.Name, err)
	}
	return SymbolSpec{
		Name:         s.Name,
		SpreadPoints: points,
		SwapLong:     s.SwapLong,
		SwapShort:    s.SwapShort,
		MarginRate:   s.MarginRate,
	}, nil
}

// Apply opens a terminal session with conn and configures every symbol.
//
// A failed session initialisation is fatal and returned as an error before
// any symbol is touched. A symbol that cannot be converted or that the
// terminal rejects is logged, recorded in the report and skipped; the
// remaining symbols are still configured. Once the session is open it is
// shut down before Apply returns, even when ctx is cancelled.
func Apply(ctx context.Context, t Terminal, conn cfg.ConnectionSettings, symbols []cfg.SymbolSettings, rec Recorder) (Report, error) {
	if rec == nil {
		rec = nopRecorder{}
	}
	start := time.Now()
	defer func() { rec.ObserveApply(time.Since(start).Seconds()) }()

	if err := t.Initialize(ctx, SessionFrom(conn)); err != nil {
		log.Error().Err(err).Int("account", conn.Account).Str("server", conn.Server).Msg("terminal initialization failed")
		return Report{}, fmt.Errorf("initialize terminal session for account %d: %w", conn.Account, err)
	}
	log.Info().Int("account", conn.Account).Str("server", conn.Server).Msg("terminal session initialized")
	defer shutdown(ctx, t)

	var report Report
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		spec, err := SpecFrom(s)
		if err == nil {
			err = t.ConfigureSymbol(ctx, spec)
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", s.Name).Msg("failed to configure symbol, skipping")
			report.Failed = append(report.Failed, SymbolFailure{Symbol: s.Name, Err: err})
			rec.SymbolFailed()
			continue
		}

		log.Debug().
			Str("symbol", spec.Name).
			Int("spread_points", spec.SpreadPoints).
			Float64("swap_long", spec.SwapLong).
			Float64("swap_short", spec.SwapShort).
			Float64("margin_rate", spec.MarginRate).
			Msg("symbol configured")
		report.Configured = append(report.Configured, s.Name)
		rec.SymbolConfigured()
	}

	log.Info().
		Int("configured", len(report.Configured)).
		Int("failed", len(report.Failed)).
		Msg("terminal settings applied")
	return report, nil
}

// shutdown closes the session on a context that outlives cancellation of ctx.
func shutdown(ctx context.Context, t Terminal) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), common.DefaultShutdownTimeout*time.Second)
	defer cancel()
	if err := t.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("terminal shutdown failed")
		return
	}
	log.Debug().Msg("terminal session closed")
}

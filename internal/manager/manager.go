// Package manager owns the live configuration of a running bot process.
//
// A Manager is constructed once at startup and handed to the components that
// need configuration. It is safe for concurrent use: readers get deep copies,
// and writers stage, validate and then commit under a single lock, so the held
// configuration is never observed in a partially updated state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mt5-bot/internal/cfg"
	"mt5-bot/internal/metrics"
	"mt5-bot/internal/storage"
	"mt5-bot/internal/terminal"
)

// Sources recorded with each committed revision.
const (
	SourceInit    = "init"
	SourceUpdate  = "update"
	SourceLoad    = "load"
	SourceRestore = "restore"
)

var (
	ErrNoTerminal = errors.New("no terminal configured")
	ErrNoHistory  = errors.New("no revision history configured")
)

type Manager struct {
	mu      sync.RWMutex
	current cfg.Config

	metrics  *metrics.Metrics
	history  *storage.Store
	terminal terminal.Terminal
	now      func() time.Time
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithHistory records every committed configuration in s.
func WithHistory(s *storage.Store) Option {
	return func(mgr *Manager) { mgr.history = s }
}

func WithTerminal(t terminal.Terminal) Option {
	return func(mgr *Manager) { mgr.terminal = t }
}

// New returns a Manager holding a copy of initial. The initial configuration
// is not validated; Default() is accepted even though it has no symbols yet.
func New(initial cfg.Config, opts ...Option) *Manager {
	m := &Manager{
		current: initial.Clone(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a deep copy of the current configuration.
func (m *Manager) Get() cfg.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Update merges p onto the current configuration. When the merged result
// does not validate the current configuration is left unchanged and a
// *cfg.ConfigError is returned.
func (m *Manager) Update(p cfg.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged, err := m.current.Apply(p)
	if err != nil {
		m.updateFailed(err)
		return err
	}
	m.commit(staged, SourceUpdate)
	log.Info().Int("symbols", len(staged.Trading.Symbols)).Msg("configuration updated")
	return nil
}

// UpdateFromMap converts a loosely typed nested map into a patch and applies
// it with Update.
func (m *Manager) UpdateFromMap(values map[string]any) error {
	p, err := cfg.PatchFromMap(values)
	if err != nil {
		m.updateFailed(err)
		return err
	}
	return m.Update(p)
}

func (m *Manager) updateFailed(err error) {
	log.Warn().Err(err).Msg("configuration update rejected")
	if m.metrics != nil {
		m.metrics.ConfigUpdateFailures.Inc()
	}
}

// Save writes the current configuration to path.
func (m *Manager) Save(path string) error {
	c := m.Get()
	if err := cfg.Save(c, path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to save configuration")
		return err
	}
	if m.metrics != nil {
		m.metrics.ConfigSaves.Inc()
	}
	log.Info().Str("path", path).Msg("configuration saved")
	return nil
}

// Load replaces the current configuration with the document at path. The
// current configuration is kept when the document cannot be read or does
// not validate.
func (m *Manager) Load(path string) error {
	c, err := cfg.Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load configuration")
		if m.metrics != nil {
			m.metrics.ConfigLoadFailures.Inc()
		}
		return err
	}

	m.mu.Lock()
	m.commit(c, SourceLoad)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConfigLoads.Inc()
	}
	log.Info().Str("path", path).Int("symbols", len(c.Trading.Symbols)).Msg("configuration loaded")
	return nil
}

// Init validates the current configuration and records it as the first
// revision.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current.Validate(); err != nil {
		return err
	}
	m.commit(m.current.Clone(), SourceInit)
	return nil
}

// Restore commits the configuration stored in the given revision.
func (m *Manager) Restore(revisionID string) error {
	if m.history == nil {
		return ErrNoHistory
	}
	rev, err := m.history.Revision(revisionID)
	if err != nil {
		return fmt.Errorf("restore revision %s: %w", revisionID, err)
	}
	if err := rev.Config.Validate(); err != nil {
		return fmt.Errorf("restore revision %s: %w", revisionID, err)
	}

	m.mu.Lock()
	m.commit(rev.Config, SourceRestore)
	m.mu.Unlock()

	log.Info().Str("revision", revisionID).Time("created_at", rev.CreatedAt).Msg("configuration restored")
	return nil
}

// History returns up to limit committed revisions, newest first.
func (m *Manager) History(limit int) ([]storage.Revision, error) {
	if m.history == nil {
		return nil, ErrNoHistory
	}
	return m.history.Revisions(limit)
}

// ApplyExternalSettings opens a terminal session with the current connection
// settings and configures every symbol. A failed session is returned as an
// error; symbols the terminal rejects are listed in the report.
func (m *Manager) ApplyExternalSettings(ctx context.Context) (terminal.Report, error) {
	if m.terminal == nil {
		return terminal.Report{}, ErrNoTerminal
	}

	c := m.Get()
	var rec terminal.Recorder
	if m.metrics != nil {
		rec = metrics.NewWrapper(m.metrics)
	}
	return terminal.Apply(ctx, m.terminal, c.Connection, c.Trading.Symbols, rec)
}

// commit must be called with mu held.
func (m *Manager) commit(c cfg.Config, source string) {
	m.current = c
	at := m.now()

	if m.metrics != nil {
		if source == SourceUpdate {
			m.metrics.ConfigUpdates.Inc()
		}
		m.metrics.RecordCommit(len(c.Trading.Symbols), at)
	}
	if m.history != nil {
		if source != SourceRestore && m.unchanged(c) {
			return
		}
		rev, err := m.history.SaveRevision(c, source)
		if err != nil {
			log.Warn().Err(err).Str("source", source).Msg("failed to record configuration revision")
			return
		}
		log.Debug().Str("revision", rev.ID).Str("source", source).Msg("configuration revision recorded")
	}
}

// unchanged reports whether c equals the latest recorded revision.
func (m *Manager) unchanged(c cfg.Config) bool {
	latest, err := m.history.Latest()
	if err != nil {
		return false
	}
	return reflect.DeepEqual(latest.Config, c)
}

// Package settings manages the operator-editable JSON settings file.
//
// Keys are upper-case (HTTP_URLS, DOWNLOAD_LIMIT_GB, ...) and windows are
// ["HH:MM","HH:MM"] pairs.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"
	"sync"

	"github.com/goodtune/kburn/internal/config"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/goodtune/kburn/internal/window"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrInvalidSettings is returned when a settings document fails validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Document is the on-disk settings layout.
type Document struct {
	URLs        []string        `json:"HTTP_URLS"`
	MagnetLinks []string        `json:"MAGNET_LINKS"`
	Concurrency int             `json:"CONCURRENT_DOWNLOADS"`
	LimitGB     int             `json:"DOWNLOAD_LIMIT_GB"`
	ResetTime   string          `json:"RESET_TIME"`
	Windows     []window.Window `json:"ALLOWED_TIME_WINDOWS"`
}

// MaxLimitGB is the largest quota whose byte count fits in a uint64.
const MaxLimitGB = math.MaxUint64 / ledger.BytesPerGB

// Seed builds the initial document from the static configuration. Window
// entries that cannot be split into a start and end are dropped and returned
// as errors.
func Seed(cfg config.SettingsConfig) (Document, []error) {
	windows, errs := window.FromStrings(cfg.Windows)
	return Document{
		URLs:        slices.Clone(cfg.Targets),
		MagnetLinks: []string{},
		Concurrency: cfg.Concurrency,
		LimitGB:     cfg.LimitGB,
		ResetTime:   cfg.ResetTime,
		Windows:     windows,
	}, errs
}

// Validate checks a document. Every failure wraps ErrInvalidSettings.
func Validate(doc Document) error {
	if err := validateFields(doc); err != nil {
		return err
	}
	if _, errs := window.Parse(doc.Windows); len(errs) > 0 {
		return fmt.Errorf("%w: ALLOWED_TIME_WINDOWS: %v", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// validateFields checks everything except the windows, which are skipped
// entry by entry when the file is loaded.
func validateFields(doc Document) error {
	if doc.Concurrency < 1 {
		return fmt.Errorf("%w: CONCURRENT_DOWNLOADS must be at least 1, got %d", ErrInvalidSettings, doc.Concurrency)
	}
	if doc.LimitGB < 0 {
		return fmt.Errorf("%w: DOWNLOAD_LIMIT_GB must not be negative, got %d", ErrInvalidSettings, doc.LimitGB)
	}
	if uint64(doc.LimitGB) > MaxLimitGB {
		return fmt.Errorf("%w: DOWNLOAD_LIMIT_GB must be at most %d, got %d", ErrInvalidSettings, uint64(MaxLimitGB), doc.LimitGB)
	}
	if _, err := window.ParseTimeOfDay(doc.ResetTime); err != nil {
		return fmt.Errorf("%w: RESET_TIME: %v", ErrInvalidSettings, err)
	}
	return nil
}

func (d Document) clone() Document {
	d.URLs = slices.Clone(d.URLs)
	d.MagnetLinks = slices.Clone(d.MagnetLinks)
	d.Windows = slices.Clone(d.Windows)
	return d
}

// Store holds the current settings and persists them to a JSON file.
type Store struct {
	mu     sync.RWMutex
	fs     afero.Fs
	path   string
	doc    Document
	logger zerolog.Logger
}

// Open loads the settings file, creating it from seed when absent. A file that
// cannot be parsed or fails validation is logged and seed is used in memory
// without overwriting it. Malformed windows are logged and kept as written.
func Open(fs afero.Fs, path string, seed Document, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	s := &Store{
		fs:     fs,
		path:   path,
		doc:    seed.clone(),
		logger: logger.With().Str("component", "settings").Logger(),
	}

	doc, err := s.read()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Warn().Str("path", path).Msg("Settings file not found, writing defaults")
		if err := s.save(s.doc); err != nil {
			return nil, err
		}
	case err != nil:
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to load settings, using defaults")
	default:
		s.doc = doc
		s.logger.Info().Str("path", path).Msg("Settings loaded")
	}

	return s, nil
}

func (s *Store) read() (Document, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, storage.ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := validateFields(doc); err != nil {
		return Document{}, err
	}
	_, errs := window.Parse(doc.Windows)
	for _, err := range errs {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Ignoring allowed time window")
	}
	return doc, nil
}

func (s *Store) save(doc Document) error {
	if err := storage.EnsureDir(s.fs, s.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current document.
func (s *Store) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// Update validates and saves doc. It reports whether the change needs a
// restart to take effect, which is the case for concurrency and target list
// changes.
func (s *Store) Update(doc Document) (bool, error) {
	if err := Validate(doc); err != nil {
		return false, err
	}
	if doc.URLs == nil {
		doc.URLs = []string{}
	}
	if doc.MagnetLinks == nil {
		doc.MagnetLinks = []string{}
	}
	if doc.Windows == nil {
		doc.Windows = []window.Window{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(doc); err != nil {
		return false, err
	}

	restart := s.doc.Concurrency != doc.Concurrency ||
		!slices.Equal(s.doc.URLs, doc.URLs) ||
		!slices.Equal(s.doc.MagnetLinks, doc.MagnetLinks)
	s.doc = doc.clone()

	s.logger.Info().
		Int("limit_gb", doc.LimitGB).
		Str("reset_time", doc.ResetTime).
		Int("windows", len(doc.Windows)).
		Bool("restart_required", restart).
		Msg("Settings updated")
	return restart, nil
}

// Reload re-reads the settings file. On failure the current settings stay.
func (s *Store) Reload() error {
	doc, err := s.read()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Msg("Settings reloaded")
	return nil
}

// LimitBytes returns the daily quota in bytes, saturating at math.MaxUint64.
func (s *Store) LimitBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.LimitGB < 0 {
		return 0
	}
	if uint64(s.doc.LimitGB) > MaxLimitGB {
		return math.MaxUint64
	}
	return uint64(s.doc.LimitGB) * ledger.BytesPerGB
}

// ResetTime returns the daily reset time as "HH:MM".
func (s *Store) ResetTime() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ResetTime
}

// Windows returns the allowed time windows.
func (s *Store) Windows() []window.Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Windows)
}

// Concurrency returns the configured number of worker units.
func (s *Store) Concurrency() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Concurrency
}

// Targets returns the transfer targets.
func (s *Store) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.doc.URLs)+len(s.doc.MagnetLinks))
	out = append(out, s.doc.URLs...)
	return append(out, s.doc.MagnetLinks...)
}

package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	defaultInterval = time.Minute
	passTimeout     = 30 * time.Second
)

var errMissingPurger = errors.New("retention: purger is required")

// PurgeRecorder receives removal counts, e.g. *metrics.Metrics.
type PurgeRecorder interface {
	PastesPurged(n int)
}

// Config wires a Sweeper.
type Config struct {
	Purger   pastes.Purger
	Interval time.Duration
	// Grace keeps time-expired pastes for this long past their expiry before removal.
	Grace    time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
	Recorder PurgeRecorder
}

// Sweeper periodically removes dead pastes from stores that cannot expire them natively.
type Sweeper struct {
	purger   pastes.Purger
	interval time.Duration
	grace    time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	recorder PurgeRecorder
}

// NewSweeper validates cfg and applies defaults.
func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.Purger == nil {
		return nil, errMissingPurger
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		purger:   cfg.Purger,
		interval: interval,
		grace:    cfg.Grace,
		clock:    clock,
		logger:   logger,
		recorder: cfg.Recorder,
	}, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, passTimeout)
			_, _ = s.SweepOnce(passCtx)
			cancel()
		}
	}
}

// SweepOnce performs a single purge pass and returns the number of removed pastes.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	before := s.clock().Add(-s.grace)
	removed, err := s.purger.PurgeDead(ctx, before)
	if err != nil {
		s.logger.Error("retention sweep failed",
			zap.String("operation", "retention.sweep"),
			zap.Time("before", before),
			zap.Error(err))
		return 0, err
	}
	if s.recorder != nil {
		s.recorder.PastesPurged(removed)
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed pastes",
			zap.Int("count", removed),
			zap.Time("before", before))
	}
	return removed, nil
}

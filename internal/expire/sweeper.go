// Package expire runs the active expiration of keys whose TTL has passed.
//
// Passive expiration alone never reclaims a key that is not read again, so the
// sweeper periodically samples keys carrying a TTL and deletes the expired ones.
// When a sample shows that a large share of keys is expired, sampling repeats
// within the same tick, bounded by MaxRounds so the keyspace is never held up.
package expire

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/config"
)

// Keyspace is the part of the storage the sweeper needs
type Keyspace interface {
	DeleteExpired(limit int) (checked, expired int)
}

// CycleResult summarises one tick of active expiration
type CycleResult struct {
	Rounds  int
	Checked int
	Expired int
}

type Sweeper struct {
	ks     Keyspace
	cfg    config.GCConfig
	logger *zap.Logger

	// observe is called after every cycle that reclaimed something
	observe func(CycleResult)
}

func NewSweeper(ks Keyspace, cfg config.GCConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	return &Sweeper{ks: ks, cfg: cfg, logger: logger}
}

// OnCycle registers a hook receiving the result of every productive cycle
func (s *Sweeper) OnCycle(fn func(CycleResult)) {
	s.observe = fn
}

// Cycle samples the keyspace, repeating while the expired ratio stays above the threshold
func (s *Sweeper) Cycle() CycleResult {
	var res CycleResult

	for res.Rounds < s.cfg.MaxRounds {
		checked, expired := s.ks.DeleteExpired(s.cfg.SamplesPerCheck)
		res.Rounds++
		res.Checked += checked
		res.Expired += expired

		if checked == 0 {
			break
		}

		ratio := float64(expired) / float64(checked)
		if ratio <= s.cfg.MatchThreshold {
			break
		}

		// let command goroutines in between batches
		runtime.Gosched()
	}

	if res.Expired > 0 {
		if ce := s.logger.Check(zap.DebugLevel, "gc delete expired"); ce != nil {
			ce.Write(
				zap.Int("rounds", res.Rounds),
				zap.Int("checked", res.Checked),
				zap.Int("expired", res.Expired),
			)
		}
		if s.observe != nil {
			s.observe(res)
		}
	}

	return res
}

// Run ticks Cycle every Interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("active expiration started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("samples", s.cfg.SamplesPerCheck),
		zap.Float64("threshold", s.cfg.MatchThreshold),
	)

	for {
		select {
		case <-ticker.C:
			s.Cycle()
		case <-ctx.Done():
			s.logger.Info("active expiration stopped")
			return
		}
	}
}

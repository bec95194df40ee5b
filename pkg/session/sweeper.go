package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// Sweeper defaults.
const (
	DefaultSweepSchedule  = "@hourly"
	DefaultSweepThreshold = 100
)

// SweeperConfig holds Sweeper settings.
type SweeperConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@hourly".
	Schedule string
	// Threshold is the session count above which a sweep prunes.
	Threshold int
	// Timeout bounds one sweep.
	Timeout time.Duration
	Metrics observability.MetricsProvider
}

// DefaultSweeperConfig returns the production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:  DefaultSweepSchedule,
		Threshold: DefaultSweepThreshold,
		Timeout:   time.Minute,
		Metrics:   observability.NoopMetricsProvider{},
	}
}

// Sweeper periodically deletes the least recently created half of all
// sessions once their number exceeds a threshold, independent of TTLs.
type Sweeper struct {
	store  *Store
	config SweeperConfig
	cron   *cron.Cron

	// base carries the logger used by scheduled runs.
	base context.Context
	mu   sync.Mutex
}

// NewSweeper validates the schedule and registers the sweep job. Call Start
// to begin running it. ctx provides the logger for scheduled runs.
func NewSweeper(ctx context.Context, store *Store, config SweeperConfig) (*Sweeper, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSweepSchedule
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultSweepThreshold
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, err, fmt.Sprintf("invalid sweep schedule %q", config.Schedule))
	}

	s := &Sweeper{
		store:  store,
		config: config,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		base:   context.WithoutCancel(ctx),
	}
	if _, err := s.cron.AddFunc(config.Schedule, s.run); err != nil {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, err, "failed to schedule session sweep")
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx := s.base
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	if _, err := s.Sweep(ctx); err != nil {
		counsel.LogError(ctx, "session sweep failed", err)
	}
}

// Sweep prunes once if the session count exceeds the threshold and returns
// the number of sessions deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count <= s.config.Threshold {
		return 0, nil
	}

	deleted, err := s.store.Prune(ctx, count-count/2)
	if err != nil {
		return 0, err
	}
	s.config.Metrics.Counter(ctx, observability.MetricSessionsSwept, int64(deleted), nil)
	counsel.LogInfo(ctx, "swept sessions", "before", count, "deleted", deleted)
	return deleted, nil
}

// Start runs the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"crypto_alert_backend/services"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// MaintenanceInterval is how often housekeeping runs
const MaintenanceInterval = 10 * time.Minute

// Ticker runs one refresh cycle over every active currency
type Ticker interface {
	Tick(ctx context.Context) []services.CycleReport
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron         *gocron.Scheduler
	ticker       Ticker
	tickInterval time.Duration
	maintenance  []func()
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(ticker Ticker, tickInterval time.Duration, logger zerolog.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:         gocron.NewScheduler(time.UTC),
		ticker:       ticker,
		tickInterval: tickInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// AddMaintenance registers a housekeeping task run every MaintenanceInterval
func (s *Scheduler) AddMaintenance(task func()) {
	s.maintenance = append(s.maintenance, task)
}

// Start starts all scheduled jobs. The first tick runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.logger.Info().Dur("tick_interval", s.tickInterval).Msg("starting scheduler")

	// Not singleton: ticks may overlap
	if _, err := s.cron.Every(s.tickInterval).Do(s.runTick); err != nil {
		return err
	}

	if len(s.maintenance) > 0 {
		_, err := s.cron.Every(MaintenanceInterval).WaitForSchedule().Do(s.runMaintenance)
		if err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	s.started = true
	s.logger.Info().Msg("scheduler started successfully")
	return nil
}

// Stop stops the scheduler and cancels in-flight ticks
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTick() {
	start := time.Now()
	reports := s.ticker.Tick(s.ctx)

	fired := 0
	for _, report := range reports {
		fired += report.AlertsFired
	}
	s.logger.Debug().
		Int("currencies", len(reports)).
		Int("alerts_fired", fired).
		Dur("duration", time.Since(start)).
		Msg("tick job finished")
}

func (s *Scheduler) runMaintenance() {
	for _, task := range s.maintenance {
		task()
	}
}

// Package scheduler maps cron patterns to the bot's jobs and runs them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
)

// Default patterns. Each can be replaced from the environment.
const (
	Hourly     = "0 * * * *"
	TwiceDaily = "0 */12 * * *"
	DailyAt14  = "0 14 * * *"
	DailyAt15  = "0 15 * * *"
)

// Step is one job run as part of a schedule.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Table maps a cron pattern to the steps it runs, in order.
type Table map[string][]Step

// Patterns returns the table's patterns sorted.
func (t Table) Patterns() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var (
	ErrUnknownSchedule = errors.New("no handler for the cron schedule")
	ErrAlreadyRunning  = errors.New("schedule already running")
	ErrStopped         = errors.New("scheduler stopped")
)

type Scheduler struct {
	table   Table
	logger  *logrus.Logger
	cron    *cron.Cron
	metrics *Metrics

	// StepTimeout bounds each step; zero means no bound.
	StepTimeout time.Duration

	// running holds one lock per pattern so cron and manual runs of the same
	// pattern never overlap.
	running map[string]*sync.Mutex

	mu        sync.Mutex
	stopped   bool
	triggered sync.WaitGroup
	stopOnce  sync.Once
}

func New(table Table, logger *logrus.Logger, metrics *Metrics) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cronLogger := cron.PrintfLogger(logger)
	running := make(map[string]*sync.Mutex, len(table))
	for pattern := range table {
		running[pattern] = &sync.Mutex{}
	}
	return &Scheduler{
		table:   table,
		logger:  logger,
		metrics: metrics,
		running: running,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
			cron.WithLocation(time.UTC),
		),
	}
}

// Start registers every pattern and runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, pattern := range s.table.Patterns() {
		p := pattern
		if _, err := s.cron.AddFunc(p, func() {
			_ = s.Dispatch(ctx, p)
		}); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", p, err)
		}
		s.logger.WithField("cron", p).Info("Registered schedule")
	}

	s.cron.Start()
	s.logger.WithField("schedules", len(s.table)).Info("Scheduler started")

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop refuses further triggers and waits for cron and triggered runs.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Scheduler stopping...")
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		<-s.cron.Stop().Done()
		s.triggered.Wait()
		s.logger.Info("Scheduler stopped")
	})
}

// Dispatch runs the steps registered for pattern in order. A failing step
// is logged and the remaining steps still run. If the pattern is already
// running the call is skipped with ErrAlreadyRunning.
func (s *Scheduler) Dispatch(ctx context.Context, pattern string) error {
	steps, ok := s.table[pattern]
	if !ok {
		s.logger.WithField("cron", pattern).Info("No handler for the cron schedule")
		return nil
	}
	lock := s.running[pattern]
	if !lock.TryLock() {
		s.logger.WithField("cron", pattern).Warn("Schedule already running, skipping")
		return ErrAlreadyRunning
	}
	defer lock.Unlock()
	return s.run(ctx, pattern, steps)
}

// Trigger starts pattern in the background and returns once it is claimed.
// Stop waits for triggered runs.
func (s *Scheduler) Trigger(ctx context.Context, pattern string) error {
	steps, ok := s.table[pattern]
	if !ok {
		return ErrUnknownSchedule
	}
	lock := s.running[pattern]

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if !lock.TryLock() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.triggered.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.triggered.Done()
		defer lock.Unlock()
		if err := s.run(ctx, pattern, steps); err != nil {
			s.logger.WithError(err).WithField("cron", pattern).Error("Triggered schedule failed")
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, pattern string, steps []Step) error {
	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runStep(ctx, pattern, step); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runStep(ctx context.Context, pattern string, step Step) error {
	if s.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.StepTimeout)
		defer cancel()
	}

	log := s.logger.WithFields(logrus.Fields{"cron": pattern, "job": step.Name})
	log.Info("Job started")
	start := time.Now()
	err := step.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.observe(step.Name, err, elapsed)

	if err != nil {
		log.WithError(err).WithField("duration", elapsed.String()).Error("Job failed")
		return err
	}
	log.WithField("duration", elapsed.String()).Info("Job completed")
	return nil
}

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Runs:     mc.NewCounter("job_runs_total", "Scheduled job runs by result", []string{"job", "status"}),
		Duration: mc.NewHistogram("job_duration_seconds", "Scheduled job duration", []string{"job"}, []float64{1, 5, 15, 60, 300, 900, 1800}),
	}
}

func (m *Metrics) observe(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Runs.WithLabelValues(job, status).Inc()
	m.Duration.WithLabelValues(job).Observe(d.Seconds())
}

package notification

import (
	"context"
	"time"

	"terraintake/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SchedulerConfig controls the drain cadence.
type SchedulerConfig struct {
	DrainInterval time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

// Scheduler drains the queue on a fixed interval and runs a slower sweep that
// fails exhausted leftovers and reports queue health. The sweep delivers
// nothing itself: retryable messages are still pending and the next drain
// picks them up.
type Scheduler struct {
	queue *Queue
	cfg   SchedulerConfig
	cron  *cron.Cron
	log   *logrus.Entry
}

func NewScheduler(queue *Queue, cfg SchedulerConfig, log logrus.FieldLogger) *Scheduler {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "SCHEDULER")

	s := &Scheduler{
		queue: queue,
		cfg:   cfg,
		log:   entry,
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(entry)),
			cron.WithChain(cron.Recover(cron.PrintfLogger(entry))),
		),
	}
	s.cron.Schedule(cron.Every(cfg.DrainInterval), cron.FuncJob(s.drain))
	s.cron.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(s.sweep))
	return s
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.log.WithFields(logrus.Fields{
		"drain_interval": s.cfg.DrainInterval.String(),
		"sweep_interval": s.cfg.SweepInterval.String(),
		"batch_size":     s.cfg.BatchSize,
	}).Info("Email queue scheduler started")
	s.cron.Start()
}

// Stop halts scheduling. The returned context is done once any running job
// has returned.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("Email queue scheduler stopping")
	return s.cron.Stop()
}

// Errors are already logged by TriggerDrain; the next tick retries.
func (s *Scheduler) drain() {
	_, _, _ = s.queue.TriggerDrain(context.Background(), s.cfg.BatchSize)
}

func (s *Scheduler) sweep() {
	ctx := context.Background()
	if _, err := s.queue.FailExhausted(ctx); err != nil {
		s.log.WithError(err).Error("Email queue sweep failed")
		return
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.log.WithError(err).Error("Email queue sweep failed")
		return
	}
	metrics.UpdateNotificationQueue(stats.Pending, stats.Sent, stats.Failed, stats.Dead)
	s.log.WithFields(logrus.Fields{
		"pending": stats.Pending,
		"failed":  stats.Failed,
		"dead":    stats.Dead,
	}).Info("Checked email queue for failed messages")
}

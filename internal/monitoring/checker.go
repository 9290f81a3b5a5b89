package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/config"
)

// defaultSweepInterval paces the background sweep when the config does
// not set one. Uploads land a few times a day at most, so five minutes
// is already generous.
const defaultSweepInterval = 5 * time.Minute

// collectFailureStreak is how many consecutive failed collections are
// tolerated at debug-noise level before the sweep escalates to an error
// log. A single flaky query should not page anyone.
const collectFailureStreak = 3

// Checker drives the background health sweep over the intake pipeline:
// collect a snapshot, evaluate the alert thresholds, push whatever
// fires to the webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	failures int
}

// NewChecker wires a sweep over the given collector and alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

func (c *Checker) interval() time.Duration {
	if secs := c.cfg.CheckIntervalSecs; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultSweepInterval
}

// Run blocks until ctx is cancelled. The first sweep fires immediately,
// so a fresh deploy surfaces stale sources and stuck uploads without
// waiting out a full interval.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	log := zap.L().With(zap.String("component", "monitor"))
	log.Info("health sweep started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health sweep stopped")
			return
		case <-timer.C:
			if ctx.Err() != nil {
				log.Info("health sweep stopped")
				return
			}
			c.sweep(ctx, log)
			timer.Reset(interval)
		}
	}
}

// sweep runs one collect-evaluate-alert cycle.
func (c *Checker) sweep(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg)
	if err != nil {
		c.failures++
		if c.failures >= collectFailureStreak {
			log.Error("metric collection failing repeatedly",
				zap.Int("consecutive_failures", c.failures),
				zap.Error(err),
			)
		} else {
			log.Warn("metric collection failed", zap.Error(err))
		}
		return
	}
	c.failures = 0

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("sweep clean",
			zap.Int("uploads_seen", snap.UploadsTotal),
			zap.Int("note_queue_depth", snap.NoteQueueDepth),
		)
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("sweep raised alerts",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}

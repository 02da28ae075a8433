package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/logging"
)

// SweepSchedule is how often idle flows are collected.
const SweepSchedule = "@every 1m"

const notifyTimeout = 10 * time.Second

// Notifier tells a user their flow expired.
type Notifier interface {
	NotifyFlowExpired(ctx context.Context, flow Flow) error
}

// Janitor periodically evicts idle flows.
type Janitor struct {
	engine   *Engine
	notifier Notifier
	cron     *cron.Cron
	logger   *logrus.Entry
}

// NewJanitor builds a janitor for engine. notifier may be nil.
func NewJanitor(engine *Engine, notifier Notifier, logger *logrus.Entry) (*Janitor, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	logger = logger.WithField("component", "flow_janitor")

	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	return &Janitor{engine: engine, notifier: notifier, cron: c, logger: logger}, nil
}

// Start schedules the sweep and returns immediately.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(SweepSchedule, func() { j.Sweep(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.WithField("event", "janitor_started").Info("flow janitor started")
	return nil
}

// Stop halts scheduling. The returned context is done once a running sweep
// has finished.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep evicts idle flows, notifies their owners and returns how many were
// evicted.
func (j *Janitor) Sweep(ctx context.Context) int {
	evicted := j.engine.EvictIdle(j.engine.now())
	if j.notifier == nil {
		return len(evicted)
	}

	for _, flow := range evicted {
		notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := j.notifier.NotifyFlowExpired(notifyCtx, flow); err != nil {
			j.logger.WithError(err).WithFields(logging.Fields{
				"event":   "flow_expiry_notify_failed",
				"user_id": flow.UserID,
			}).Warn("could not notify user about expired flow")
		}
		cancel()
	}
	return len(evicted)
}

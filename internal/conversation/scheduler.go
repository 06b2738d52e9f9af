package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep every ten minutes.
const DefaultSchedule = "@every 10m"

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper is what the scheduler fires.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Scheduler fires the auto-reassignment sweep on a cron schedule.
type Scheduler struct {
	sweeper  Sweeper
	schedule string
	log      *zap.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(s Sweeper, schedule string, log *zap.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		sweeper:  s,
		schedule: schedule,
		log:      log.Named("sweep"),
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep and starts the cron ticker.
func (s *Scheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	_, err := s.cron.AddFunc(s.schedule, s.run)
	if err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()
	s.log.Info("sweep scheduled", zap.String("schedule", s.schedule))
	return nil
}

func (s *Scheduler) run() {
	res, err := s.sweeper.Sweep(s.ctx)
	switch {
	case errors.Is(err, ErrSweepRunning):
		s.log.Warn("previous sweep still running, skipping tick")
	case err != nil:
		s.log.Error("sweep failed", zap.Error(err))
	default:
		s.log.Debug("sweep tick", zap.Int("processed", res.Processed), zap.Int("errors", res.Errors))
	}
}

// Stop cancels a running sweep and waits up to timeout for it to return.
func (s *Scheduler) Stop(timeout time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.log.Warn("sweep did not stop in time")
	}
}

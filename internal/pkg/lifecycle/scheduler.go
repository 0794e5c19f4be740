package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartReclaimScheduler runs ReclaimStale every interval until Shutdown.
func (s *LifecycleService) StartReclaimScheduler(interval time.Duration) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.Clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			count := s.ReclaimStale(context.Background())
			if count > 0 {
				s.Log.Info("reclaimed stale matches", zap.Int("count", count))
			}
		}),
	)
	if err != nil {
		_ = sched.Shutdown()

		return fmt.Errorf("failed to schedule reclaim job: %w", err)
	}

	sched.Start()

	s.scheduler = sched

	return nil
}

func (s *LifecycleService) Shutdown() error {
	if s.scheduler == nil {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	return nil
}

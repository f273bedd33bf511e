// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartLifecycleScheduler runs FinalizeExpired every interval. Overlapping
// runs are skipped rather than queued. The caller owns Shutdown.
func StartLifecycleScheduler(l *Lifecycle, interval time.Duration) (gocron.Scheduler, error) {
	log := logrus.WithField("component", "scheduler")

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			n, err := l.FinalizeExpired(ctx)
			if err != nil {
				log.WithError(err).Error("finalize sweep failed")
			}
			if n > 0 {
				log.WithField("completed", n).Info("finalized expired contests")
			}
		}),
		gocron.WithName("finalize-expired-contests"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	log.WithField("interval", interval.String()).Info("lifecycle scheduler started")
	return sched, nil
}

package services

import (
	"context"
	"errors"
	"time"

	"design-battle-system/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	triggerSweep = "sweep"
	triggerAdmin = "admin"
)

// Lifecycle moves contests between statuses: the periodic finalize sweep and
// the admin pause/resume/cancel/finalize actions.
type Lifecycle struct {
	Deps
	log *logrus.Entry
}

func NewLifecycle(deps Deps) *Lifecycle {
	return &Lifecycle{
		Deps: deps.withDefaults(),
		log:  logrus.WithField("component", "lifecycle"),
	}
}

// FinalizeExpired completes every active contest whose end time has passed
// and returns how many it completed. Running it twice completes nothing the
// second time.
func (l *Lifecycle) FinalizeExpired(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() {
		l.Metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	now := l.Clock.Now().UTC()

	var ids []string
	err := l.DB.WithContext(ctx).Model(&models.Contest{}).
		Where("status = ? AND end_time <= ?", models.StatusActive, now).
		Order("end_time ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, InternalError(err, "failed to find expired contests")
	}

	completed := 0
	var failures []error
	for _, id := range ids {
		var done bool
		err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			_, done, err = l.finalizeTx(tx, id, now, true)
			return err
		})
		if err != nil {
			l.log.WithError(err).WithField("contest_id", id).Error("failed to finalize contest")
			failures = append(failures, err)
			continue
		}
		if done {
			completed++
		}
	}

	if completed > 0 {
		l.Cache.Invalidate(ctx)
		l.log.WithField("completed", completed).Info("finalize sweep completed contests")
	}
	if len(failures) > 0 {
		return completed, InternalError(errors.Join(failures...), "finalize sweep had failures")
	}
	return completed, nil
}

// finalizeTx locks the contest, recounts the ledger and flips the status in a
// single conditional update. done is false when the contest was not active
// (or, for the sweep, not yet expired) by the time the lock was taken.
func (l *Lifecycle) finalizeTx(tx *gorm.DB, id string, now time.Time, requireExpired bool) (*models.Contest, bool, error) {
	var contest models.Contest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, NotFoundError(MsgContestNotFound)
	}
	if err != nil {
		return nil, false, InternalError(err, "failed to load contest")
	}
	if contest.Status != models.StatusActive {
		return &contest, false, nil
	}
	if requireExpired && now.Before(contest.EndTime) {
		return &contest, false, nil
	}

	var rows []struct {
		Choice models.Choice
		N      int64
	}
	err = tx.Model(&models.VoteRecord{}).
		Select("choice, COUNT(*) AS n").
		Where("contest_id = ?", id).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		return nil, false, InternalError(err, "failed to recount votes")
	}
	var a, b int64
	for _, r := range rows {
		switch r.Choice {
		case models.ChoiceA:
			a = r.N
		case models.ChoiceB:
			b = r.N
		}
	}

	if a != contest.VoteCountA || b != contest.VoteCountB || a+b != contest.TotalVotes {
		l.log.WithFields(logrus.Fields{
			"contest_id":   id,
			"cached_a":     contest.VoteCountA,
			"cached_b":     contest.VoteCountB,
			"cached_total": contest.TotalVotes,
			"ledger_a":     a,
			"ledger_b":     b,
		}).Warn("tally drifted from ledger, using ledger counts")
	}

	winner := ResolveWinner(a, b)
	res := tx.Model(&models.Contest{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Updates(map[string]any{
			"status":       models.StatusCompleted,
			"completed_at": now,
			"winner":       winner,
			"vote_count_a": a,
			"vote_count_b": b,
			"total_votes":  a + b,
		})
	if res.Error != nil {
		return nil, false, InternalError(res.Error, "failed to complete contest")
	}
	if res.RowsAffected == 0 {
		return &contest, false, nil
	}

	contest.Status = models.StatusCompleted
	contest.CompletedAt = &now
	contest.Winner = winner
	contest.VoteCountA, contest.VoteCountB, contest.TotalVotes = a, b, a+b

	trigger := triggerAdmin
	if requireExpired {
		trigger = triggerSweep
	}
	result := "tie"
	if winner != nil {
		result = "winner"
	}
	l.Metrics.ContestsFinalized.WithLabelValues(trigger, result).Inc()

	fields := logrus.Fields{
		"contest_id":  id,
		"trigger":     trigger,
		"total_votes": contest.TotalVotes,
	}
	if winner != nil {
		fields["winner"] = *winner
	}
	l.log.WithFields(fields).Info("contest completed")

	return &contest, true, nil
}

// FinalizeContest completes an active contest immediately, before its end
// time if need be.
func (l *Lifecycle) FinalizeContest(ctx context.Context, id string) (*models.Contest, error) {
	now := l.Clock.Now().UTC()

	var (
		contest *models.Contest
		done    bool
	)
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		contest, done, err = l.finalizeTx(tx, id, now, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, StateError("only active contests can be finalized (status %s)", contest.Status)
	}
	l.Cache.Invalidate(ctx)
	return contest, nil
}

func (l *Lifecycle) Pause(ctx context.Context, id string) (*models.Contest, error) {
	return l.transition(ctx, id, "pause", models.StatusPaused, models.StatusActive)
}

// Resume reopens a paused contest. One whose end time passed while paused is
// picked up by the next sweep.
func (l *Lifecycle) Resume(ctx context.Context, id string) (*models.Contest, error) {
	return l.transition(ctx, id, "resume", models.StatusActive, models.StatusPaused)
}

func (l *Lifecycle) Cancel(ctx context.Context, id string) (*models.Contest, error) {
	return l.transition(ctx, id, "cancel", models.StatusCancelled, models.StatusActive, models.StatusPaused)
}

func (l *Lifecycle) transition(ctx context.Context, id, action string, to models.ContestStatus, from ...models.ContestStatus) (*models.Contest, error) {
	db := l.DB.WithContext(ctx)

	res := db.Model(&models.Contest{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return nil, InternalError(res.Error, "failed to update contest status")
	}

	var contest models.Contest
	err := db.Where("id = ?", id).Take(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(MsgContestNotFound)
	}
	if err != nil {
		return nil, InternalError(err, "failed to load contest")
	}
	if res.RowsAffected == 0 {
		return nil, StateError("cannot %s a %s contest", action, contest.Status)
	}

	l.Cache.Invalidate(ctx)
	l.log.WithFields(logrus.Fields{
		"contest_id": id,
		"status":     to,
	}).Info("contest status changed")
	return &contest, nil
}

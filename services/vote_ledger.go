package services

import (
	"context"
	"errors"
	"strings"

	"design-battle-system/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxVoteAttempts bounds retries after a concurrent write collision.
const MaxVoteAttempts = 3

// errVoteCollision marks a lost race on the ledger row; the whole transaction
// is retried with a fresh read.
var errVoteCollision = errors.New("concurrent vote write")

type VoteResult struct {
	ContestID    string        `json:"id"`
	VoteCountA   int64         `json:"vote_count_a"`
	VoteCountB   int64         `json:"vote_count_b"`
	TotalVotes   int64         `json:"total_votes"`
	CallerChoice models.Choice `json:"user_vote"`
	Changed      bool          `json:"changed"`
}

type VoteHistoryEntry struct {
	Contest *models.Contest `json:"contest"`
	Choice  models.Choice   `json:"user_vote"`
	VotedAt string          `json:"voted_at"`
}

// VoteLedger owns vote_records and keeps the contest counters in step with it.
type VoteLedger struct {
	Deps
	log *logrus.Entry
}

func NewVoteLedger(deps Deps) *VoteLedger {
	return &VoteLedger{
		Deps: deps.withDefaults(),
		log:  logrus.WithField("component", "vote_ledger"),
	}
}

// CastVote records userID's choice on a contest. The contest row is locked,
// the ledger row written and the counters adjusted in one transaction; the
// counter update re-checks status and end time so a concurrent finalize or
// pause always wins or loses as a whole.
func (l *VoteLedger) CastVote(ctx context.Context, contestID, userID string, choice models.Choice) (*VoteResult, error) {
	if !choice.Valid() {
		return nil, ValidationError("invalid choice %q (use itemA or itemB)", string(choice))
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ValidationError("user is required")
	}

	for attempt := 1; attempt <= MaxVoteAttempts; attempt++ {
		var result *VoteResult
		err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = l.castVoteTx(tx, contestID, userID, choice)
			return err
		})
		if err == nil {
			outcome := "new"
			if result.Changed {
				outcome = "changed"
			}
			l.Metrics.VotesTotal.WithLabelValues(outcome).Inc()
			l.Cache.Invalidate(ctx)
			l.log.WithFields(logrus.Fields{
				"contest_id": contestID,
				"user_id":    userID,
				"choice":     choice,
				"outcome":    outcome,
				"attempt":    attempt,
			}).Debug("vote recorded")
			return result, nil
		}
		if !errors.Is(err, errVoteCollision) {
			l.observeRejection(err)
			return nil, err
		}

		l.Metrics.VoteRetries.Inc()
		l.log.WithFields(logrus.Fields{
			"contest_id": contestID,
			"user_id":    userID,
			"attempt":    attempt,
		}).Warn("vote collided with a concurrent write, retrying")
	}

	l.Metrics.VotesTotal.WithLabelValues("contention").Inc()
	return nil, ConflictError(MsgVoteContention)
}

func (l *VoteLedger) castVoteTx(tx *gorm.DB, contestID, userID string, choice models.Choice) (*VoteResult, error) {
	now := l.Clock.Now().UTC()

	var contest models.Contest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", contestID).
		Take(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(MsgContestNotFound)
	}
	if err != nil {
		return nil, InternalError(err, "failed to load contest")
	}
	if !contest.AcceptsVotesAt(now) {
		return nil, StateError(MsgContestClosed)
	}

	var existing models.VoteRecord
	err = tx.Where("contest_id = ? AND user_id = ?", contestID, userID).Take(&existing).Error
	changed := false

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := models.VoteRecord{
			ContestID: contestID,
			UserID:    userID,
			Choice:    choice,
			VotedAt:   now,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicateKey(err) {
				return nil, errVoteCollision
			}
			return nil, InternalError(err, "failed to record vote")
		}
		col := choice.CountColumn()
		if err := bumpCounters(tx, contestID, now, map[string]any{
			col:           gorm.Expr(col + " + 1"),
			"total_votes": gorm.Expr("total_votes + 1"),
		}); err != nil {
			return nil, err
		}

	case err != nil:
		return nil, InternalError(err, "failed to read vote")

	case existing.Choice == choice:
		return nil, ConflictError(MsgAlreadyVoted)

	case !contest.Settings.AllowVoteChange:
		return nil, ConflictError(MsgVoteChangeForbidden)

	default:
		res := tx.Model(&models.VoteRecord{}).
			Where("contest_id = ? AND user_id = ? AND choice = ?", contestID, userID, existing.Choice).
			Updates(map[string]any{"choice": choice, "voted_at": now})
		if res.Error != nil {
			return nil, InternalError(res.Error, "failed to change vote")
		}
		if res.RowsAffected == 0 {
			return nil, errVoteCollision
		}
		oldCol, newCol := existing.Choice.CountColumn(), choice.CountColumn()
		if err := bumpCounters(tx, contestID, now, map[string]any{
			oldCol: gorm.Expr(oldCol + " - 1"),
			newCol: gorm.Expr(newCol + " + 1"),
		}); err != nil {
			return nil, err
		}
		changed = true
	}

	if err := tx.Select("id", "vote_count_a", "vote_count_b", "total_votes").
		Where("id = ?", contestID).
		Take(&contest).Error; err != nil {
		return nil, InternalError(err, "failed to reload tally")
	}

	return &VoteResult{
		ContestID:    contest.ID,
		VoteCountA:   contest.VoteCountA,
		VoteCountB:   contest.VoteCountB,
		TotalVotes:   contest.TotalVotes,
		CallerChoice: choice,
		Changed:      changed,
	}, nil
}

// bumpCounters applies counter deltas only while the contest still accepts
// votes; otherwise the surrounding transaction is rolled back.
func bumpCounters(tx *gorm.DB, contestID string, now any, updates map[string]any) error {
	res := tx.Model(&models.Contest{}).
		Where("id = ? AND status = ? AND end_time > ?", contestID, models.StatusActive, now).
		Updates(updates)
	if res.Error != nil {
		return InternalError(res.Error, "failed to update tally")
	}
	if res.RowsAffected == 0 {
		return StateError(MsgContestClosed)
	}
	return nil
}

func (l *VoteLedger) observeRejection(err error) {
	switch {
	case IsKind(err, KindState):
		l.Metrics.VotesTotal.WithLabelValues("closed").Inc()
	case IsKind(err, KindConflict):
		var e *Error
		if errors.As(err, &e) && e.Message == MsgVoteChangeForbidden {
			l.Metrics.VotesTotal.WithLabelValues("change_forbidden").Inc()
		} else {
			l.Metrics.VotesTotal.WithLabelValues("duplicate").Inc()
		}
	case IsKind(err, KindInternal):
		l.log.WithError(err).Error("vote failed")
	}
}

// UserVote returns the caller's current vote, or nil when there is none.
func (l *VoteLedger) UserVote(ctx context.Context, contestID, userID string) (*models.VoteRecord, error) {
	if userID == "" {
		return nil, nil
	}
	var record models.VoteRecord
	err := l.DB.WithContext(ctx).
		Where("contest_id = ? AND user_id = ?", contestID, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalError(err, "failed to read vote")
	}
	return &record, nil
}

// UserVoteHistory pages through a user's votes, newest first. total is the
// number of vote records the user has.
func (l *VoteLedger) UserVoteHistory(ctx context.Context, userID string, page, limit int) ([]VoteHistoryEntry, int64, error) {
	f := ListFilter{Page: page, Limit: limit}
	f.Normalize()

	db := l.DB.WithContext(ctx)

	var total int64
	if err := db.Model(&models.VoteRecord{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, InternalError(err, "failed to count votes")
	}

	var records []models.VoteRecord
	err := db.Where("user_id = ?", userID).
		Order("voted_at DESC, contest_id ASC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, InternalError(err, "failed to list votes")
	}
	if len(records) == 0 {
		return []VoteHistoryEntry{}, total, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ContestID
	}
	var contests []models.Contest
	if err := db.Where("id IN ?", ids).Find(&contests).Error; err != nil {
		return nil, 0, InternalError(err, "failed to load voted contests")
	}
	byID := make(map[string]*models.Contest, len(contests))
	for i := range contests {
		byID[contests[i].ID] = &contests[i]
	}

	entries := make([]VoteHistoryEntry, 0, len(records))
	for _, r := range records {
		c, ok := byID[r.ContestID]
		if !ok {
			continue
		}
		entries = append(entries, VoteHistoryEntry{
			Contest: c,
			Choice:  r.Choice,
			VotedAt: r.VotedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return entries, total, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

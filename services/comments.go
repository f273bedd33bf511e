package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"design-battle-system/models"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const MaxCommentLength = 300

// AddComment appends to a contest's thread. Comments are metadata and are
// accepted whatever the contest status.
func (s *BattleStore) AddComment(ctx context.Context, contestID, userID, text string) (*models.ContestComment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ValidationError("user is required")
	}
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return nil, ValidationError("comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, ValidationError("comment must be at most %d characters", MaxCommentLength)
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Contest{}).Where("id = ?", contestID).Count(&count).Error; err != nil {
		return nil, InternalError(err, "failed to load contest")
	}
	if count == 0 {
		return nil, NotFoundError(MsgContestNotFound)
	}

	comment := &models.ContestComment{
		ID:        uuid.NewString(),
		ContestID: contestID,
		UserID:    userID,
		Text:      text,
		CreatedAt: s.Clock.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, InternalError(err, "failed to save comment")
	}
	return comment, nil
}

// ListComments returns a page of comments, oldest first.
func (s *BattleStore) ListComments(ctx context.Context, contestID string, page, limit int) ([]models.ContestComment, int64, error) {
	f := ListFilter{Page: page, Limit: limit}
	f.Normalize()

	db := s.DB.WithContext(ctx).Model(&models.ContestComment{}).Where("contest_id = ?", contestID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, InternalError(err, "failed to count comments")
	}

	comments := []models.ContestComment{}
	err := s.DB.WithContext(ctx).
		Where("contest_id = ?", contestID).
		Order("created_at ASC, id ASC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&comments).Error
	if err != nil {
		return nil, 0, InternalError(err, "failed to list comments")
	}
	return comments, total, nil
}

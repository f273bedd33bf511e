package services

import (
	"context"
	"errors"

	"design-battle-system/models"
	"design-battle-system/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ModerationGate decides whether an item may enter a contest.
type ModerationGate interface {
	IsApprovedPublicItem(ctx context.Context, itemID string) (bool, error)
}

// ItemSummary is what a contest shows about each entry.
type ItemSummary struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Title      string `json:"title"`
	PreviewURL string `json:"preview_url"`
}

// ItemRepository resolves contest entries for display. Missing ids are simply
// absent from the result.
type ItemRepository interface {
	GetItems(ctx context.Context, ids ...string) (map[string]ItemSummary, error)
}

// ItemCatalog serves both collaborator interfaces from the design_items mirror.
type ItemCatalog struct {
	DB       *gorm.DB
	Previews utils.PreviewURLer
	log      *logrus.Entry
}

func NewItemCatalog(db *gorm.DB, previews utils.PreviewURLer) *ItemCatalog {
	if previews == nil {
		previews = utils.StaticPreviews{}
	}
	return &ItemCatalog{
		DB:       db,
		Previews: previews,
		log:      logrus.WithField("component", "item_catalog"),
	}
}

func (c *ItemCatalog) IsApprovedPublicItem(ctx context.Context, itemID string) (bool, error) {
	var item models.DesignItem
	err := c.DB.WithContext(ctx).Where("id = ?", itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return item.EligibleForContest(), nil
}

func (c *ItemCatalog) GetItems(ctx context.Context, ids ...string) (map[string]ItemSummary, error) {
	out := make(map[string]ItemSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var items []models.DesignItem
	if err := c.DB.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}

	for _, it := range items {
		preview, err := c.Previews.PreviewURL(ctx, it.PreviewKey)
		if err != nil {
			// A broken preview should not hide the contest.
			c.log.WithError(err).WithField("item_id", it.ID).Warn("preview url unavailable")
		}
		out[it.ID] = ItemSummary{
			ID:         it.ID,
			OwnerID:    it.OwnerID,
			Title:      it.Title,
			PreviewURL: preview,
		}
	}
	return out, nil
}

// workers/item_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"design-battle-system/models"
	"design-battle-system/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteDesignItem matches one entry of the gallery service's change feed.
type RemoteDesignItem struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Title            string    `json:"title"`
	PreviewKey       string    `json:"preview_key"`
	Prompt           string    `json:"prompt"`
	IsPublic         bool      `json:"is_public"`
	ModerationStatus string    `json:"moderation_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type GetItemChangesResponse struct {
	Items []RemoteDesignItem `json:"items"`
}

// ItemSyncWorker mirrors design items from the gallery service into
// design_items, which backs contest eligibility and item display.
type ItemSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	log          *logrus.Entry
}

func NewItemSyncWorker(db *gorm.DB, baseURL, endpointPath, serviceToken string, interval time.Duration) *ItemSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ItemSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
		log:          logrus.WithField("component", "item_sync"),
	}
}

func (w *ItemSyncWorker) Start(ctx context.Context) {
	w.log.WithField("interval", w.interval.String()).Info("starting item sync worker")
	go w.run(ctx)
}

func (w *ItemSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.WithError(err).Warn("initial item sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.WithError(err).Error("item sync batch failed")
			}
		case <-ctx.Done():
			w.log.Info("item sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls every change since the newest local item and upserts it.
// It returns the number of items written.
func (w *ItemSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.lastSyncTime(ctx)
	if err != nil {
		return 0, err
	}
	items, err := w.fetchChanges(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		w.log.WithField("since", since.Format(time.RFC3339)).Debug("no item changes")
		return 0, nil
	}

	upserted, failed := 0, 0
	for _, remote := range items {
		local := models.DesignItem{
			ID:               remote.ID,
			OwnerID:          remote.OwnerID,
			Title:            remote.Title,
			PreviewKey:       remote.PreviewKey,
			Prompt:           remote.Prompt,
			IsPublic:         remote.IsPublic,
			ModerationStatus: remote.ModerationStatus,
			CreatedAt:        remote.CreatedAt.UTC(),
			UpdatedAt:        remote.UpdatedAt.UTC(),
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_id", "title", "preview_key", "prompt",
				"is_public", "moderation_status", "updated_at",
			}),
		}).Create(&local).Error
		if err != nil {
			failed++
			w.log.WithError(err).WithField("item_id", remote.ID).Warn("failed to upsert design item")
			continue
		}
		upserted++
	}

	w.log.WithFields(logrus.Fields{
		"received": len(items),
		"upserted": upserted,
		"failed":   failed,
	}).Info("design items synced")
	return upserted, nil
}

// lastSyncTime is the newest updated_at in the mirror, or the zero time.
func (w *ItemSyncWorker) lastSyncTime(ctx context.Context) (time.Time, error) {
	var newest models.DesignItem
	err := w.db.WithContext(ctx).
		Select("updated_at").
		Order("updated_at DESC").
		Take(&newest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync cursor: %w", err)
	}
	return newest.UpdatedAt, nil
}

func (w *ItemSyncWorker) fetchChanges(ctx context.Context, since time.Time) ([]RemoteDesignItem, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gallery service url %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gallery service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gallery service returned %d: %s", resp.StatusCode, string(body))
	}

	var out GetItemChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode gallery response: %w", err)
	}
	return out.Items, nil
}

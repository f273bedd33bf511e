package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"design-battle-system/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestItemSyncWorker_UpsertsAndAdvancesCursor(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var (
		gotSince []string
		gotToken string
		batch    []RemoteDesignItem
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/public/designs" {
			http.NotFound(w, r)
			return
		}
		gotSince = append(gotSince, r.URL.Query().Get("since"))
		gotToken = r.Header.Get("X-Service-Token")
		_ = json.NewEncoder(w).Encode(GetItemChangesResponse{Items: batch})
	}))
	defer srv.Close()

	worker := NewItemSyncWorker(db, srv.URL, "/api/v1/public/designs", "svc-token", time.Minute)
	ctx := context.Background()

	batch = []RemoteDesignItem{
		{ID: "d1", OwnerID: "o1", Title: "Fox", IsPublic: true, ModerationStatus: models.ModerationPending, CreatedAt: t0, UpdatedAt: t0},
		{ID: "d2", OwnerID: "o2", Title: "Crane", IsPublic: true, ModerationStatus: models.ModerationApproved, CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)},
	}
	n, err := worker.SyncOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("upserted %d, want 2", n)
	}

	// d1 gets approved upstream.
	batch = []RemoteDesignItem{
		{ID: "d1", OwnerID: "o1", Title: "Fox v2", IsPublic: true, ModerationStatus: models.ModerationApproved, CreatedAt: t0, UpdatedAt: t0.Add(2 * time.Hour)},
	}
	if _, err := worker.SyncOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if gotToken != "svc-token" {
		t.Errorf("service token = %q", gotToken)
	}
	if len(gotSince) != 2 || gotSince[0] != "0001-01-01T00:00:00Z" || gotSince[1] != t0.Add(time.Hour).Format(time.RFC3339) {
		t.Errorf("since cursor = %v", gotSince)
	}

	var d1 models.DesignItem
	if err := db.Where("id = ?", "d1").Take(&d1).Error; err != nil {
		t.Fatal(err)
	}
	if d1.Title != "Fox v2" || !d1.EligibleForContest() {
		t.Fatalf("d1 = %+v", d1)
	}

	var count int64
	db.Model(&models.DesignItem{}).Count(&count)
	if count != 2 {
		t.Fatalf("design_items rows = %d", count)
	}
}

func TestItemSyncWorker_Non200(t *testing.T) {
	db := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	worker := NewItemSyncWorker(db, srv.URL, "/designs", "bad", time.Minute)
	if _, err := worker.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

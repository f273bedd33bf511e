package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"design-battle-system/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	clock     *clockwork.FakeClock
	store     *BattleStore
	ledger    *VoteLedger
	lifecycle *Lifecycle
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection serializes transactions, the way row locks would.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	deps := Deps{DB: db, Clock: clock}

	seedItems(t, db,
		models.DesignItem{ID: "item-a", OwnerID: "owner-1", Title: "Neon Fox", PreviewKey: "previews/a.png", IsPublic: true, ModerationStatus: models.ModerationApproved},
		models.DesignItem{ID: "item-b", OwnerID: "owner-2", Title: "Paper Crane", PreviewKey: "previews/b.png", IsPublic: true, ModerationStatus: models.ModerationApproved},
		models.DesignItem{ID: "item-c", OwnerID: "owner-3", Title: "Glass Owl", IsPublic: true, ModerationStatus: models.ModerationApproved},
		models.DesignItem{ID: "item-private", OwnerID: "owner-1", Title: "Draft", IsPublic: false, ModerationStatus: models.ModerationApproved},
		models.DesignItem{ID: "item-pending", OwnerID: "owner-2", Title: "Pending", IsPublic: true, ModerationStatus: models.ModerationPending},
	)

	return &testEnv{
		db:        db,
		clock:     clock,
		store:     NewBattleStore(deps, true),
		ledger:    NewVoteLedger(deps),
		lifecycle: NewLifecycle(deps),
	}
}

func seedItems(t *testing.T, db *gorm.DB, items ...models.DesignItem) {
	t.Helper()
	for i := range items {
		items[i].CreatedAt = testEpoch
		items[i].UpdatedAt = testEpoch
		if err := db.Create(&items[i]).Error; err != nil {
			t.Fatalf("seed item %s: %v", items[i].ID, err)
		}
	}
}

// createContest creates an a-vs-b contest lasting hours.
func (e *testEnv) createContest(t *testing.T, hours int, mutate ...func(*CreateContestInput)) *models.Contest {
	t.Helper()
	in := CreateContestInput{
		ItemAID:       "item-a",
		ItemBID:       "item-b",
		DurationHours: hours,
		CreatedBy:     "creator",
	}
	for _, m := range mutate {
		m(&in)
	}
	c, err := e.store.CreateContest(context.Background(), in)
	if err != nil {
		t.Fatalf("create contest: %v", err)
	}
	return c
}

func (e *testEnv) reload(t *testing.T, id string) *models.Contest {
	t.Helper()
	var c models.Contest
	if err := e.db.Where("id = ?", id).Take(&c).Error; err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return &c
}

func (e *testEnv) vote(t *testing.T, contestID, userID string, choice models.Choice) *VoteResult {
	t.Helper()
	res, err := e.ledger.CastVote(context.Background(), contestID, userID, choice)
	if err != nil {
		t.Fatalf("vote %s/%s: %v", userID, choice, err)
	}
	return res
}

func (e *testEnv) ledgerCount(t *testing.T, contestID string, choice models.Choice) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(&models.VoteRecord{}).Where("contest_id = ?", contestID)
	if choice != "" {
		q = q.Where("choice = ?", choice)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return n
}

// assertCountersMatchLedger checks the cached counters against vote_records.
func (e *testEnv) assertCountersMatchLedger(t *testing.T, contestID string) {
	t.Helper()
	c := e.reload(t, contestID)
	a := e.ledgerCount(t, contestID, models.ChoiceA)
	b := e.ledgerCount(t, contestID, models.ChoiceB)
	if c.VoteCountA != a || c.VoteCountB != b || c.TotalVotes != a+b {
		t.Fatalf("counters (%d,%d,%d) do not match ledger (%d,%d,%d)",
			c.VoteCountA, c.VoteCountB, c.TotalVotes, a, b, a+b)
	}
}

func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

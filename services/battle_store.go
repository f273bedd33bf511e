package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"design-battle-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
	MaxTagLength         = 30
	MaxTags              = 10
	DefaultPageLimit     = 10
	MaxPageLimit         = 50
	maxSlugBaseLength    = 60
)

type ContestSort string

const (
	SortRecent     ContestSort = "recent"
	SortEndingSoon ContestSort = "ending_soon"
	SortVotes      ContestSort = "votes"
	SortEnded      ContestSort = "ended"
)

// ParseSort maps a query value onto a sort key; empty means def.
func ParseSort(raw string, def ContestSort) (ContestSort, error) {
	switch s := ContestSort(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return def, nil
	case SortRecent, SortEndingSoon, SortVotes, SortEnded:
		return s, nil
	default:
		return "", ValidationError("unknown sort %q (use recent, ending_soon or votes)", raw)
	}
}

type CreateContestInput struct {
	ItemAID         string
	ItemBID         string
	Title           string
	Description     string
	DurationHours   int
	CreatedBy       string
	Tags            []string
	Category        string
	AllowVoteChange *bool
}

type ListFilter struct {
	Status   models.ContestStatus
	Sort     ContestSort
	Category string
	Tag      string
	Page     int
	Limit    int
}

// Normalize clamps paging to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Sort == "" {
		f.Sort = SortVotes
	}
}

type StatusCount struct {
	Status     string `json:"status"`
	Count      int64  `json:"count"`
	TotalVotes int64  `json:"total_votes"`
}

type ContestStats struct {
	Total      int64         `json:"total"`
	Active     int64         `json:"active"`
	ByStatus   []StatusCount `json:"by_status"`
	TotalVotes int64         `json:"total_votes"`
}

// BattleStore validates and persists contest metadata.
type BattleStore struct {
	Deps
	DefaultAllowVoteChange bool
	log                    *logrus.Entry
}

func NewBattleStore(deps Deps, defaultAllowVoteChange bool) *BattleStore {
	return &BattleStore{
		Deps:                   deps.withDefaults(),
		DefaultAllowVoteChange: defaultAllowVoteChange,
		log:                    logrus.WithField("component", "battle_store"),
	}
}

func (s *BattleStore) CreateContest(ctx context.Context, in CreateContestInput) (*models.Contest, error) {
	itemA := strings.TrimSpace(in.ItemAID)
	itemB := strings.TrimSpace(in.ItemBID)
	if itemA == "" || itemB == "" {
		return nil, ValidationError("itemAId and itemBId are required")
	}
	if itemA == itemB {
		return nil, ValidationError("a contest needs two different items")
	}
	if in.DurationHours <= 0 {
		return nil, ValidationError("durationHours must be positive")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ValidationError("creator is required")
	}

	title := norm.NFC.String(strings.TrimSpace(in.Title))
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, ValidationError("title must be at most %d characters", MaxTitleLength)
	}
	description := norm.NFC.String(strings.TrimSpace(in.Description))
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, ValidationError("description must be at most %d characters", MaxDescriptionLength)
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = models.CategoryDesignDuel
	}
	if !models.Categories[category] {
		return nil, ValidationError("unknown category %q", category)
	}

	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	for _, id := range []string{itemA, itemB} {
		ok, err := s.Gate.IsApprovedPublicItem(ctx, id)
		if err != nil {
			return nil, InternalError(err, "failed to check item eligibility")
		}
		if !ok {
			return nil, NotFoundError("one or both items were not found or are not public")
		}
	}

	if title == "" {
		title, err = s.defaultTitle(ctx, itemA, itemB)
		if err != nil {
			return nil, err
		}
	}

	allowChange := s.DefaultAllowVoteChange
	if in.AllowVoteChange != nil {
		allowChange = *in.AllowVoteChange
	}

	now := s.Clock.Now().UTC()
	id := uuid.NewString()
	contest := &models.Contest{
		ID:          id,
		Slug:        contestSlug(title, id),
		Title:       title,
		Description: description,
		ItemA:       itemA,
		ItemB:       itemB,
		CreatedBy:   in.CreatedBy,
		Status:      models.StatusActive,
		StartTime:   now,
		EndTime:     now.Add(time.Duration(in.DurationHours) * time.Hour),
		Settings: models.ContestSettings{
			AllowVoteChange: allowChange,
			MaxVotesPerUser: 1,
		},
		Tags:      strings.Join(tags, ","),
		Category:  category,
		CreatedAt: now,
	}
	if !contest.EndTime.After(contest.StartTime) {
		return nil, ValidationError("end time must be after start time")
	}

	if err := s.DB.WithContext(ctx).Create(contest).Error; err != nil {
		return nil, InternalError(err, "failed to create contest")
	}

	s.Metrics.ContestsCreated.Inc()
	s.Cache.Invalidate(ctx)
	s.log.WithFields(logrus.Fields{
		"contest_id": contest.ID,
		"created_by": contest.CreatedBy,
		"end_time":   contest.EndTime.Format(time.RFC3339),
	}).Info("contest created")

	return contest, nil
}

func (s *BattleStore) defaultTitle(ctx context.Context, itemA, itemB string) (string, error) {
	items, err := s.Items.GetItems(ctx, itemA, itemB)
	if err != nil {
		return "", InternalError(err, "failed to resolve contest items")
	}
	title := fmt.Sprintf("%s vs %s", itemTitle(items, itemA), itemTitle(items, itemB))
	if utf8.RuneCountInString(title) > MaxTitleLength {
		title = string([]rune(title)[:MaxTitleLength])
	}
	return title, nil
}

func itemTitle(items map[string]ItemSummary, id string) string {
	if it, ok := items[id]; ok && strings.TrimSpace(it.Title) != "" {
		return strings.TrimSpace(it.Title)
	}
	return "Untitled"
}

func normalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = normalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		if strings.Contains(t, ",") {
			return nil, ValidationError("tags may not contain commas")
		}
		if utf8.RuneCountInString(t) > MaxTagLength {
			return nil, ValidationError("tags must be at most %d characters", MaxTagLength)
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) > MaxTags {
		return nil, ValidationError("at most %d tags are allowed", MaxTags)
	}
	return tags, nil
}

func normalizeTag(t string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(t)))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// tagPattern matches one whole tag inside the comma separated tags column.
func tagPattern(tag string) string {
	return "%," + likeEscaper.Replace(tag) + ",%"
}

func contestSlug(title, id string) string {
	base := slug.Make(title)
	if len(base) > maxSlugBaseLength {
		base = strings.Trim(base[:maxSlugBaseLength], "-")
	}
	if base == "" {
		base = "contest"
	}
	return base + "-" + id[:8]
}

// GetContest looks a contest up by id or slug.
func (s *BattleStore) GetContest(ctx context.Context, idOrSlug string) (*models.Contest, error) {
	var contest models.Contest
	err := s.DB.WithContext(ctx).
		Where("id = ? OR slug = ?", idOrSlug, idOrSlug).
		First(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(MsgContestNotFound)
	}
	if err != nil {
		return nil, InternalError(err, "failed to load contest")
	}
	return &contest, nil
}

// ListContests returns one page plus the total number of matching contests.
func (s *BattleStore) ListContests(ctx context.Context, f ListFilter) ([]models.Contest, int64, error) {
	f.Normalize()
	now := s.Clock.Now().UTC()

	status := f.Status
	if f.Sort == SortEndingSoon {
		if status != "" && status != models.StatusActive {
			return nil, 0, ValidationError("ending_soon only applies to active contests")
		}
		status = models.StatusActive
	}

	tag := normalizeTag(f.Tag)
	if strings.Contains(tag, ",") {
		return nil, 0, ValidationError("tags may not contain commas")
	}

	base := func() *gorm.DB {
		q := s.DB.WithContext(ctx).Model(&models.Contest{})
		if status != "" {
			q = q.Where("status = ?", status)
		}
		if status == models.StatusActive {
			// Expired but not yet swept contests are no longer listed as active.
			q = q.Where("end_time > ?", now)
		}
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if tag != "" {
			q = q.Where(`(',' || tags || ',') LIKE ? ESCAPE '\'`, tagPattern(tag))
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, InternalError(err, "failed to count contests")
	}

	var contests []models.Contest
	err := base().
		Order(sortClause(f.Sort)).
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&contests).Error
	if err != nil {
		return nil, 0, InternalError(err, "failed to list contests")
	}
	return contests, total, nil
}

func sortClause(sort ContestSort) string {
	switch sort {
	case SortRecent:
		return "created_at DESC, id ASC"
	case SortEndingSoon:
		return "end_time ASC, id ASC"
	case SortEnded:
		return "end_time DESC, id ASC"
	default:
		return "total_votes DESC, id ASC"
	}
}

// Stats aggregates contests by status. The per-status aggregate is served
// from Redis when available; the active count is always read live.
func (s *BattleStore) Stats(ctx context.Context) (*ContestStats, error) {
	stats, ok := s.Cache.Get(ctx)
	if ok {
		s.Metrics.CacheHits.Inc()
	} else {
		s.Metrics.CacheMisses.Inc()
		var err error
		if stats, err = s.aggregateStats(ctx); err != nil {
			return nil, err
		}
		if err := s.Cache.Set(ctx, stats); err != nil {
			s.log.WithError(err).Warn("failed to cache stats")
		}
	}

	// Active depends on the clock, so it is never served from the cache.
	err := s.DB.WithContext(ctx).Model(&models.Contest{}).
		Where("status = ? AND end_time > ?", models.StatusActive, s.Clock.Now().UTC()).
		Count(&stats.Active).Error
	if err != nil {
		return nil, InternalError(err, "failed to count active contests")
	}
	return stats, nil
}

func (s *BattleStore) aggregateStats(ctx context.Context) (*ContestStats, error) {
	stats := &ContestStats{ByStatus: []StatusCount{}}
	err := s.DB.WithContext(ctx).Model(&models.Contest{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_votes), 0) AS total_votes").
		Group("status").
		Order("status").
		Scan(&stats.ByStatus).Error
	if err != nil {
		return nil, InternalError(err, "failed to aggregate contests")
	}
	for _, sc := range stats.ByStatus {
		stats.Total += sc.Count
		stats.TotalVotes += sc.TotalVotes
	}
	return stats, nil
}

// RecordView bumps the view counter. Views are metadata and may change in
// any status.
func (s *BattleStore) RecordView(ctx context.Context, id string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Contest{}).
		Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + 1"))
	if res.Error != nil {
		return 0, InternalError(res.Error, "failed to record view")
	}
	if res.RowsAffected == 0 {
		return 0, NotFoundError(MsgContestNotFound)
	}

	var views int64
	if err := s.DB.WithContext(ctx).Model(&models.Contest{}).
		Where("id = ?", id).Select("views").Scan(&views).Error; err != nil {
		return 0, InternalError(err, "failed to read views")
	}
	return views, nil
}

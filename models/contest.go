// models/contest.go
package models

import (
	"strings"
	"time"
)

type ContestStatus string

const (
	StatusActive    ContestStatus = "active"
	StatusPaused    ContestStatus = "paused"
	StatusCancelled ContestStatus = "cancelled"
	StatusCompleted ContestStatus = "completed"
)

// Terminal statuses never accept votes again.
func (s ContestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Choice identifies one side of a contest.
type Choice string

const (
	ChoiceA Choice = "itemA"
	ChoiceB Choice = "itemB"
)

func (c Choice) Valid() bool {
	return c == ChoiceA || c == ChoiceB
}

// CountColumn is the cached counter backing this side.
func (c Choice) CountColumn() string {
	if c == ChoiceA {
		return "vote_count_a"
	}
	return "vote_count_b"
}

const (
	CategoryDesignDuel   = "design_duel"
	CategoryStyleClash   = "style_clash"
	CategoryColorBattle  = "color_battle"
	CategoryThemeContest = "theme_contest"
	CategoryRandomMatch  = "random_match"
)

var Categories = map[string]bool{
	CategoryDesignDuel:   true,
	CategoryStyleClash:   true,
	CategoryColorBattle:  true,
	CategoryThemeContest: true,
	CategoryRandomMatch:  true,
}

// ContestSettings is embedded into the contests table with a settings_ prefix.
type ContestSettings struct {
	AllowVoteChange bool `json:"allow_vote_change" gorm:"not null"`
	MaxVotesPerUser int  `json:"max_votes_per_user" gorm:"not null"`
}

// Contest is a time-bounded pairwise vote between two design items.
// VoteCountA/VoteCountB/TotalVotes are a cache of the vote_records ledger and
// are only ever written in the same transaction as the ledger.
type Contest struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	Slug        string          `json:"slug" gorm:"uniqueIndex;not null"`
	Title       string          `json:"title" gorm:"size:100;not null"`
	Description string          `json:"description" gorm:"size:500"`
	ItemA       string          `json:"item_a" gorm:"column:item_a;not null;index"`
	ItemB       string          `json:"item_b" gorm:"column:item_b;not null;index"`
	CreatedBy   string          `json:"created_by" gorm:"not null;index"`
	Status      ContestStatus   `json:"status" gorm:"type:varchar(16);not null;default:'active';index:idx_contest_status_end,priority:1"`
	StartTime   time.Time       `json:"start_time" gorm:"not null"`
	EndTime     time.Time       `json:"end_time" gorm:"not null;index:idx_contest_status_end,priority:2"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Winner      *Choice         `json:"winner" gorm:"type:varchar(8)"`
	Settings    ContestSettings `json:"settings" gorm:"embedded;embeddedPrefix:settings_"`
	VoteCountA  int64           `json:"vote_count_a" gorm:"column:vote_count_a;not null;default:0"`
	VoteCountB  int64           `json:"vote_count_b" gorm:"column:vote_count_b;not null;default:0"`
	TotalVotes  int64           `json:"total_votes" gorm:"not null;default:0;index"`
	Tags        string          `json:"-" gorm:"column:tags"` // comma separated, lowercase
	Category    string          `json:"category" gorm:"type:varchar(32);default:'design_duel';index"`
	Views       int64           `json:"views" gorm:"not null;default:0"`
	CreatedAt   time.Time       `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TagList splits the stored tag column.
func (c *Contest) TagList() []string {
	if c.Tags == "" {
		return []string{}
	}
	return strings.Split(c.Tags, ",")
}

// AcceptsVotesAt reports whether a vote at now would be inside the window.
func (c *Contest) AcceptsVotesAt(now time.Time) bool {
	return c.Status == StatusActive && now.Before(c.EndTime)
}

// TimeRemaining is zero unless the contest is active and not yet expired.
func (c *Contest) TimeRemaining(now time.Time) time.Duration {
	if c.Status != StatusActive || !now.Before(c.EndTime) {
		return 0
	}
	return c.EndTime.Sub(now)
}

// VoteRecord is the authoritative ledger row: at most one per (contest, user).
type VoteRecord struct {
	ContestID string    `json:"contest_id" gorm:"primaryKey;uniqueIndex:idx_vote_contest_user,priority:1"`
	UserID    string    `json:"user_id" gorm:"primaryKey;uniqueIndex:idx_vote_contest_user,priority:2;index"`
	Choice    Choice    `json:"choice" gorm:"type:varchar(8);not null"`
	VotedAt   time.Time `json:"voted_at" gorm:"not null;index"`
}

// ContestComment is auxiliary metadata; it may be added in any status.
type ContestComment struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	ContestID string    `json:"contest_id" gorm:"not null;index"`
	UserID    string    `json:"user_id" gorm:"not null"`
	Text      string    `json:"text" gorm:"size:300;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

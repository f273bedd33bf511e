package services

import (
	"math"

	"design-battle-system/models"
)

// EmptyTallyPercentA is the share shown for side A before any vote exists.
// Both sides read 50 so that PercentA+PercentB is always 100.
const EmptyTallyPercentA = 50

// Tally is the derived view of a contest's ledger.
type Tally struct {
	VoteCountA int64 `json:"vote_count_a"`
	VoteCountB int64 `json:"vote_count_b"`
	TotalVotes int64 `json:"total_votes"`
	PercentA   int   `json:"percent_a"`
	PercentB   int   `json:"percent_b"`
}

// ComputeTally derives percentages from raw counts:
// pctA = round(a/total*100), pctB = 100 - pctA.
func ComputeTally(a, b int64) Tally {
	t := Tally{VoteCountA: a, VoteCountB: b, TotalVotes: a + b}
	if t.TotalVotes == 0 {
		t.PercentA = EmptyTallyPercentA
	} else {
		t.PercentA = int(math.Round(float64(a) / float64(t.TotalVotes) * 100))
	}
	t.PercentB = 100 - t.PercentA
	return t
}

// TallyOf reads the cached counters of a contest.
func TallyOf(c *models.Contest) Tally {
	return ComputeTally(c.VoteCountA, c.VoteCountB)
}

// ResolveWinner returns the side with strictly more votes, or nil on a tie
// (0-0 included).
func ResolveWinner(a, b int64) *models.Choice {
	var w models.Choice
	switch {
	case a > b:
		w = models.ChoiceA
	case b > a:
		w = models.ChoiceB
	default:
		return nil
	}
	return &w
}

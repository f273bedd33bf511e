package services

import (
	"context"

	"design-battle-system/models"

	"github.com/dustin/go-humanize"
)

// ContestView is the read model served by the query API: the stored contest
// plus resolved items, the derived tally and timing.
type ContestView struct {
	*models.Contest
	Tags          []string                `json:"tags"`
	Items         map[string]*ItemSummary `json:"items"`
	Tally         Tally                   `json:"tally"`
	TimeRemaining int64                   `json:"time_remaining"`
	EndsIn        string                  `json:"ends_in"`
	UserVote      *models.Choice          `json:"user_vote,omitempty"`
}

// DescribeContest builds the detail view. userVote may be nil.
func (s *BattleStore) DescribeContest(ctx context.Context, c *models.Contest, userVote *models.Choice) (*ContestView, error) {
	views, err := s.DescribeContests(ctx, []models.Contest{*c})
	if err != nil {
		return nil, err
	}
	v := views[0]
	v.UserVote = userVote
	return &v, nil
}

// DescribeContests builds list views, resolving all items in one lookup.
func (s *BattleStore) DescribeContests(ctx context.Context, contests []models.Contest) ([]ContestView, error) {
	out := make([]ContestView, 0, len(contests))
	if len(contests) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(contests)*2)
	for _, c := range contests {
		ids = append(ids, c.ItemA, c.ItemB)
	}
	items, err := s.Items.GetItems(ctx, ids...)
	if err != nil {
		return nil, InternalError(err, "failed to resolve contest items")
	}

	now := s.Clock.Now().UTC()
	for i := range contests {
		c := &contests[i]
		v := ContestView{
			Contest:       c,
			Tags:          c.TagList(),
			Items:         map[string]*ItemSummary{string(models.ChoiceA): nil, string(models.ChoiceB): nil},
			Tally:         TallyOf(c),
			TimeRemaining: int64(c.TimeRemaining(now).Seconds()),
			EndsIn:        humanize.RelTime(c.EndTime, now, "ago", "from now"),
		}
		if it, ok := items[c.ItemA]; ok {
			v.Items[string(models.ChoiceA)] = &it
		}
		if it, ok := items[c.ItemB]; ok {
			v.Items[string(models.ChoiceB)] = &it
		}
		out = append(out, v)
	}
	return out, nil
}

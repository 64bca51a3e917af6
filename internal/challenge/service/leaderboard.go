package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
)

// LeaderboardEntry is one owner's record.
type LeaderboardEntry struct {
	Owner      string `json:"owner"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	SatsEarned int64  `json:"sats_earned"`
}

// Leaderboard ranks owners by completed challenges and aggregates totals.
type Leaderboard struct {
	Top             []LeaderboardEntry `json:"top"`
	Total           int                `json:"total"`
	SuccessRate     int                `json:"success_rate"`
	TotalSatsEarned int64              `json:"total_sats_earned"`
}

// Leaderboard computes the ranking from every stored challenge. Owners are
// ordered by completions, then sats earned, then identity. Sats earned are
// the bounty pools of completed bounty challenges.
func (m *Manager) Leaderboard(ctx context.Context, limit int) (*Leaderboard, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	return buildLeaderboard(all, limit), nil
}

func buildLeaderboard(all []*model.Challenge, limit int) *Leaderboard {
	lb := &Leaderboard{Total: len(all)}
	byOwner := make(map[string]*LeaderboardEntry)
	completed, failed := 0, 0

	for _, c := range all {
		switch c.Status {
		case model.StatusCompleted, model.StatusFailed:
		default:
			continue
		}
		e, ok := byOwner[c.Owner]
		if !ok {
			e = &LeaderboardEntry{Owner: c.Owner}
			byOwner[c.Owner] = e
		}
		if c.Status == model.StatusFailed {
			e.Failed++
			failed++
			continue
		}
		e.Completed++
		completed++
		if c.Bounty != nil {
			e.SatsEarned += c.Bounty.AmountSats
			lb.TotalSatsEarned += c.Bounty.AmountSats
		}
	}

	if finished := completed + failed; finished > 0 {
		lb.SuccessRate = (completed*100 + finished/2) / finished
	}

	for _, e := range byOwner {
		if e.Completed > 0 {
			lb.Top = append(lb.Top, *e)
		}
	}
	sort.Slice(lb.Top, func(i, j int) bool {
		a, b := lb.Top[i], lb.Top[j]
		if a.Completed != b.Completed {
			return a.Completed > b.Completed
		}
		if a.SatsEarned != b.SatsEarned {
			return a.SatsEarned > b.SatsEarned
		}
		return a.Owner < b.Owner
	})
	if limit > 0 && len(lb.Top) > limit {
		lb.Top = lb.Top[:limit]
	}
	return lb
}

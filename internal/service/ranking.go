package service

import (
	"sort"
	"time"

	"github.com/carequeue/backend/internal/models"
)

const handoverMinutes = 5

var consultationMinutes = map[models.Tier]int{
	models.TierCritical: 45,
	models.TierHigh:     25,
	models.TierMedium:   20,
	models.TierStandard: 15,
	models.TierLow:      10,
}

// Rank rescores every waiting entry at now and orders them by score
// descending, then createdAt ascending. Entries that are not waiting are
// dropped from the result. The input slice is not modified.
func Rank(entries []models.QueueEntry, now time.Time) []models.QueueEntry {
	waiting := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status != models.StatusWaiting {
			continue
		}
		res := Score(ScoreInputOf(e), now)
		e.PriorityScore = res.Score
		e.PriorityTier = res.Tier
		e.Escalated = res.Escalated
		e.Reasons = res.Reasons
		waiting = append(waiting, e)
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		return rankedBefore(waiting[i], waiting[j])
	})

	for i := range waiting {
		waiting[i].CurrentPosition = i + 1
		waiting[i].EstimatedWaitMinutes = EstimatedWaitMinutes(i+1, waiting[i].PriorityTier)
	}
	return waiting
}

// rankedBefore is a strict weak ordering; the ID comparison only separates
// entries admitted at the same instant so re-sorting is idempotent.
func rankedBefore(a, b models.QueueEntry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func EstimatedWaitMinutes(position int, tier models.Tier) int {
	if position <= 1 {
		return 0
	}
	per, ok := consultationMinutes[tier]
	if !ok {
		per = consultationMinutes[models.TierStandard]
	}
	return (position - 1) * (per + handoverMinutes)
}

func RankingUpdates(ranked []models.QueueEntry) []models.RankingUpdate {
	out := make([]models.RankingUpdate, 0, len(ranked))
	for _, e := range ranked {
		out = append(out, models.RankingUpdate{
			ID:                   e.ID,
			Position:             e.CurrentPosition,
			EstimatedWaitMinutes: e.EstimatedWaitMinutes,
			PriorityScore:        e.PriorityScore,
			PriorityTier:         e.PriorityTier,
			Escalated:            e.Escalated,
		})
	}
	return out
}

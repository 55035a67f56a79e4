package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/carequeue/backend/internal/models"
)

func waitingEntry(id string, age int, symptoms string, created time.Time) models.QueueEntry {
	return models.QueueEntry{
		ID:          id,
		Hospital:    "City General",
		Department:  "Cardiology",
		Age:         age,
		SymptomText: symptoms,
		Status:      models.StatusWaiting,
		CreatedAt:   created,
	}
}

func TestRankFCFSTieBreak(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("b", 30, "", t0.Add(time.Minute)),
		waitingEntry("a", 30, "", t0),
	}
	ranked := Rank(entries, t0.Add(time.Minute))
	if ranked[0].ID != "a" || ranked[0].CurrentPosition != 1 {
		t.Fatalf("expected earlier admission first, got %+v", ranked[0])
	}
	if ranked[1].ID != "b" || ranked[1].CurrentPosition != 2 {
		t.Fatalf("expected later admission second, got %+v", ranked[1])
	}
}

func TestRankDropsNonWaiting(t *testing.T) {
	called := waitingEntry("c", 30, "", t0)
	called.Status = models.StatusCalled
	called.CurrentPosition = 1
	entries := []models.QueueEntry{called, waitingEntry("w", 30, "", t0)}
	ranked := Rank(entries, t0)
	if len(ranked) != 1 || ranked[0].ID != "w" || ranked[0].CurrentPosition != 1 {
		t.Fatalf("expected only the waiting entry, got %+v", ranked)
	}
	if entries[0].CurrentPosition != 1 {
		t.Fatalf("input slice must not be modified")
	}
}

func TestRankUsesFreshScores(t *testing.T) {
	stale := waitingEntry("old", 30, "", t0)
	stale.PriorityScore = 199
	fresh := waitingEntry("crit", 30, "stroke", t0.Add(time.Minute))
	ranked := Rank([]models.QueueEntry{stale, fresh}, t0.Add(time.Minute))
	if ranked[0].ID != "crit" {
		t.Fatalf("expected fresh critical score to win, got %s", ranked[0].ID)
	}
	if ranked[1].PriorityScore != 40 {
		t.Fatalf("expected stale score replaced, got %d", ranked[1].PriorityScore)
	}
}

func TestRankTotalOrderAndPermutation(t *testing.T) {
	symptoms := []string{"", "fever", "chest pain", "mild rash", "migraine"}
	var entries []models.QueueEntry
	for i := 0; i < 25; i++ {
		entries = append(entries, waitingEntry(
			fmt.Sprintf("e%02d", i),
			(i*17)%100,
			symptoms[i%len(symptoms)],
			t0.Add(time.Duration(i%7)*time.Minute),
		))
	}
	now := t0.Add(45 * time.Minute)
	ranked := Rank(entries, now)
	if len(ranked) != len(entries) {
		t.Fatalf("expected %d ranked, got %d", len(entries), len(ranked))
	}
	seen := map[int]bool{}
	for i, e := range ranked {
		if e.CurrentPosition != i+1 || seen[e.CurrentPosition] {
			t.Fatalf("bad position %d at index %d", e.CurrentPosition, i)
		}
		seen[e.CurrentPosition] = true
		if i == 0 {
			continue
		}
		p := ranked[i-1]
		if p.PriorityScore < e.PriorityScore {
			t.Fatalf("score order violated at %d: %d < %d", i, p.PriorityScore, e.PriorityScore)
		}
		if p.PriorityScore == e.PriorityScore && p.CreatedAt.After(e.CreatedAt) {
			t.Fatalf("FCFS order violated at %d", i)
		}
	}
}

func TestRankIdempotent(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("x", 30, "", t0),
		waitingEntry("y", 30, "", t0),
		waitingEntry("z", 80, "", t0),
		waitingEntry("w", 40, "infection", t0.Add(time.Second)),
	}
	first := Rank(entries, t0.Add(time.Minute))
	second := Rank(first, t0.Add(time.Minute))
	for i := range first {
		if first[i].ID != second[i].ID || first[i].CurrentPosition != second[i].CurrentPosition {
			t.Fatalf("ranking not idempotent at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
	// Same score and createdAt: reversing the input must not change the result.
	reversed := []models.QueueEntry{entries[3], entries[2], entries[1], entries[0]}
	third := Rank(reversed, t0.Add(time.Minute))
	for i := range first {
		if first[i].ID != third[i].ID {
			t.Fatalf("order depends on input order at %d", i)
		}
	}
}

func TestEstimatedWaitMinutes(t *testing.T) {
	if got := EstimatedWaitMinutes(5, models.TierStandard); got != 80 {
		t.Fatalf("expected 80, got %d", got)
	}
	if got := EstimatedWaitMinutes(1, models.TierCritical); got != 0 {
		t.Fatalf("position 1 must estimate 0, got %d", got)
	}
	if got := EstimatedWaitMinutes(3, models.TierCritical); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := EstimatedWaitMinutes(0, models.TierLow); got != 0 {
		t.Fatalf("expected 0 for no position, got %d", got)
	}
}

func TestRankingUpdatesMirrorRank(t *testing.T) {
	ranked := Rank([]models.QueueEntry{waitingEntry("a", 30, "", t0), waitingEntry("b", 80, "", t0)}, t0)
	updates := RankingUpdates(ranked)
	if len(updates) != 2 || updates[0].ID != "b" || updates[0].Position != 1 || updates[1].EstimatedWaitMinutes != 20 {
		t.Fatalf("unexpected updates %+v", updates)
	}
}

package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestScoreStandardAdult(t *testing.T) {
	res := Score(ScoreInput{Age: 30, SymptomText: "mild headache", CreatedAt: t0}, t0)
	if res.Score != 40 || res.Tier != models.TierStandard {
		t.Fatalf("expected 40/Standard, got %d/%s", res.Score, res.Tier)
	}
	if res.Escalated {
		t.Fatalf("standard adult must not be escalated")
	}
}

func TestScoreElderlyNoSymptoms(t *testing.T) {
	res := Score(ScoreInput{Age: 80, CreatedAt: t0}, t0)
	if res.Score != 60 || res.Tier != models.TierMedium {
		t.Fatalf("expected 60/Medium, got %d/%s", res.Score, res.Tier)
	}
	if len(res.Reasons) != 1 || !strings.HasPrefix(res.Reasons[0], "Elderly patient") {
		t.Fatalf("unexpected reasons %v", res.Reasons)
	}
}

func TestScoreCriticalSymptomsAutoEscalate(t *testing.T) {
	res := Score(ScoreInput{Age: 25, SymptomText: "Severe CHEST PAIN since morning", CreatedAt: t0}, t0)
	if res.Score != 100 || res.Tier != models.TierCritical {
		t.Fatalf("expected 100/Critical, got %d/%s", res.Score, res.Tier)
	}
	if !res.Escalated {
		t.Fatalf("critical score must set escalated")
	}
}

func TestScoreCriticalShortCircuitIgnoresModifiers(t *testing.T) {
	for _, age := range []int{0, 1, 10, 40, 70, 90, 130} {
		in := ScoreInput{
			Age:         age,
			SymptomText: "chest pain",
			Flags:       models.Flags{IsPregnant: true, HasDisability: true},
			CreatedAt:   t0,
		}
		res := Score(in, t0)
		if res.Tier != models.TierCritical || res.Score != 100 {
			t.Fatalf("age %d: expected 100/Critical, got %d/%s", age, res.Score, res.Tier)
		}
	}
}

func TestScoreHighPriorityWithModifiers(t *testing.T) {
	in := ScoreInput{
		Age:         1,
		SymptomText: "possible broken bone",
		Flags:       models.Flags{IsPregnant: true, HasDisability: true},
		CreatedAt:   t0,
	}
	res := Score(in, t0)
	// 80 + 20 (infant) + 15 + 10
	if res.Score != 125 {
		t.Fatalf("expected 125, got %d", res.Score)
	}
	if res.Tier != models.TierCritical {
		t.Fatalf("expected Critical tier, got %s", res.Tier)
	}
}

func TestScoreAgeBands(t *testing.T) {
	cases := []struct {
		age  int
		want int
	}{
		{0, 60}, {2, 60}, {3, 50}, {12, 50}, {13, 40}, {64, 40}, {65, 50}, {74, 50}, {75, 60},
	}
	for _, c := range cases {
		if got := Score(ScoreInput{Age: c.age, CreatedAt: t0}, t0).Score; got != c.want {
			t.Fatalf("age %d: expected %d, got %d", c.age, c.want, got)
		}
	}
}

func TestScoreManualEscalationFloor(t *testing.T) {
	res := Score(ScoreInput{Age: 30, ManualEscalation: true, CreatedAt: t0}, t0)
	if res.Score != 110 || !res.Escalated || res.Tier != models.TierCritical {
		t.Fatalf("expected forced 110 Critical escalated, got %+v", res)
	}
	// Escalation is a floor, not a cap.
	res = Score(ScoreInput{Age: 1, SymptomText: "fever", Flags: models.Flags{IsPregnant: true, HasDisability: true}, ManualEscalation: true, CreatedAt: t0}, t0)
	if res.Score != 125 {
		t.Fatalf("expected 125, got %d", res.Score)
	}
}

func TestScoreClampedToMax(t *testing.T) {
	in := ScoreInput{
		Age:              1,
		SymptomText:      "fever",
		Flags:            models.Flags{IsPregnant: true, HasDisability: true},
		ManualEscalation: true,
		CreatedAt:        t0,
	}
	res := Score(in, t0.Add(10*time.Hour))
	if res.Score != 165 {
		t.Fatalf("expected 165, got %d", res.Score)
	}
	in.SymptomText = "seizure"
	in.Age = 30
	if got := Score(in, t0.Add(10*time.Hour)).Score; got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
	if got := clamp(260, MinScore, MaxScore); got != MaxScore {
		t.Fatalf("expected clamp to %d, got %d", MaxScore, got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	in := ScoreInput{Age: 67, SymptomText: "back pain", Flags: models.Flags{HasDisability: true}, CreatedAt: t0}
	now := t0.Add(95 * time.Minute)
	first := Score(in, now)
	for i := 0; i < 10; i++ {
		got := Score(in, now)
		if got.Score != first.Score || got.Tier != first.Tier || strings.Join(got.Reasons, "|") != strings.Join(first.Reasons, "|") {
			t.Fatalf("score changed between calls: %+v vs %+v", first, got)
		}
	}
}

func TestScoreTimeBoostMonotonic(t *testing.T) {
	in := ScoreInput{Age: 30, CreatedAt: t0}
	late := Score(in, t0.Add(150*time.Minute)).Score
	early := Score(in, t0.Add(10*time.Minute)).Score
	if late < early {
		t.Fatalf("expected %d >= %d", late, early)
	}
	prev := 0
	for m := 0; m <= 300; m++ {
		b := TimeBoost(m)
		if b < prev {
			t.Fatalf("boost decreased at %d minutes", m)
		}
		prev = b
	}
}

func TestTimeBoostThresholds(t *testing.T) {
	cases := map[int]int{0: 0, 29: 0, 30: 5, 59: 5, 60: 10, 90: 15, 119: 15, 120: 25, 180: 40, 600: 40}
	for minutes, want := range cases {
		if got := TimeBoost(minutes); got != want {
			t.Fatalf("%d minutes: expected %d, got %d", minutes, want, got)
		}
	}
}

func TestElapsedWaitNeverNegative(t *testing.T) {
	if got := ElapsedWaitMinutes(t0, t0.Add(-time.Hour)); got != 0 {
		t.Fatalf("expected 0 for clock skew, got %d", got)
	}
	if got := ElapsedWaitMinutes(time.Time{}, t0); got != 0 {
		t.Fatalf("expected 0 for zero createdAt, got %d", got)
	}
}

func TestTierForScoreBands(t *testing.T) {
	cases := map[int]models.Tier{
		0: models.TierLow, 29: models.TierLow, 30: models.TierStandard, 49: models.TierStandard,
		50: models.TierMedium, 69: models.TierMedium, 70: models.TierHigh, 89: models.TierHigh,
		90: models.TierCritical, 200: models.TierCritical,
	}
	for score, want := range cases {
		if got := TierForScore(score); got != want {
			t.Fatalf("score %d: expected %s, got %s", score, want, got)
		}
	}
}

func TestValidateAdmission(t *testing.T) {
	bad := []ScoreInput{
		{Age: -1},
		{Age: 131},
		{Age: 20, SymptomText: strings.Repeat("a", 2001)},
	}
	for _, in := range bad {
		err := ValidateAdmission(in)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", in.Age, err)
		}
	}
	if err := ValidateAdmission(ScoreInput{Age: 0}); err != nil {
		t.Fatalf("newborn should be valid: %v", err)
	}
}

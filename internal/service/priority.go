package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
)

const (
	MinScore = 0
	MaxScore = 200

	baseStandard   = 40
	baseHigh       = 80
	baseCritical   = 100
	escalatedFloor = baseCritical + 10

	// EscalationThreshold is the score at which an entry counts as escalated.
	EscalationThreshold = 80

	maxAge         = 130
	maxSymptomText = 2000
)

var criticalSymptoms = []string{
	"chest pain", "difficulty breathing", "unconscious", "severe bleeding",
	"heart attack", "stroke", "seizure", "severe abdominal pain",
	"head injury", "high fever", "vomiting blood", "severe burns",
	"allergic reaction", "overdose", "shortness of breath", "choking",
}

var highPrioritySymptoms = []string{
	"broken bone", "deep cut", "severe pain", "infection", "dehydration",
	"migraine", "stomach pain", "back pain", "joint pain", "fever",
}

type waitBoost struct {
	minutes int
	points  int
}

// Highest first; only the first threshold met applies.
var waitBoosts = []waitBoost{
	{minutes: 180, points: 40},
	{minutes: 120, points: 25},
	{minutes: 90, points: 15},
	{minutes: 60, points: 10},
	{minutes: 30, points: 5},
}

type ScoreInput struct {
	Age              int
	SymptomText      string
	Flags            models.Flags
	ManualEscalation bool
	CreatedAt        time.Time
}

type ScoreResult struct {
	Score     int
	Tier      models.Tier
	Escalated bool
	Reasons   []string
}

func ScoreInputOf(e models.QueueEntry) ScoreInput {
	return ScoreInput{
		Age:              e.Age,
		SymptomText:      e.SymptomText,
		Flags:            e.Flags,
		ManualEscalation: e.ManualEscalation,
		CreatedAt:        e.CreatedAt,
	}
}

// ValidateAdmission rejects inputs that scoring must never see.
func ValidateAdmission(in ScoreInput) error {
	if in.Age < 0 {
		return apperr.New(apperr.InvalidInput, "age must be >= 0, got %d", in.Age)
	}
	if in.Age > maxAge {
		return apperr.New(apperr.InvalidInput, "age must be <= %d, got %d", maxAge, in.Age)
	}
	if len(in.SymptomText) > maxSymptomText {
		return apperr.New(apperr.InvalidInput, "symptom text exceeds %d bytes", maxSymptomText)
	}
	return nil
}

// Score computes the priority of an entry at now. It depends only on the
// fields of in and the elapsed wait, so repeated calls agree.
func Score(in ScoreInput, now time.Time) ScoreResult {
	symptoms := strings.ToLower(in.SymptomText)
	var reasons []string
	score := baseStandard

	if containsAny(symptoms, criticalSymptoms) {
		score = baseCritical
		reasons = append(reasons, "Critical symptoms detected")
	} else {
		if containsAny(symptoms, highPrioritySymptoms) {
			score = baseHigh
			reasons = append(reasons, "High priority symptoms")
		}

		switch {
		case in.Age <= 2 || in.Age >= 75:
			score += 20
		case in.Age <= 12 || in.Age >= 65:
			score += 10
		}
		if in.Age >= 65 {
			reasons = append(reasons, fmt.Sprintf("Elderly patient (age %d)", in.Age))
		} else if in.Age <= 12 {
			reasons = append(reasons, fmt.Sprintf("Young child (age %d)", in.Age))
		}

		if in.Flags.IsPregnant {
			score += 15
			reasons = append(reasons, "Pregnancy")
		}
		if in.Flags.HasDisability {
			score += 10
			reasons = append(reasons, "Disability")
		}
	}

	if in.ManualEscalation {
		if score < escalatedFloor {
			score = escalatedFloor
		}
		reasons = append(reasons, "Manual escalation")
	}

	waited := ElapsedWaitMinutes(in.CreatedAt, now)
	if boost := TimeBoost(waited); boost > 0 {
		score += boost
		reasons = append(reasons, fmt.Sprintf("Waiting %d minutes", waited))
	}

	score = clamp(score, MinScore, MaxScore)
	return ScoreResult{
		Score:     score,
		Tier:      TierForScore(score),
		Escalated: in.ManualEscalation || score >= EscalationThreshold,
		Reasons:   reasons,
	}
}

func TimeBoost(waitedMinutes int) int {
	for _, b := range waitBoosts {
		if waitedMinutes >= b.minutes {
			return b.points
		}
	}
	return 0
}

func TierForScore(score int) models.Tier {
	switch {
	case score >= 90:
		return models.TierCritical
	case score >= 70:
		return models.TierHigh
	case score >= 50:
		return models.TierMedium
	case score >= 30:
		return models.TierStandard
	default:
		return models.TierLow
	}
}

// ElapsedWaitMinutes never goes negative, even with a clock behind createdAt.
func ElapsedWaitMinutes(createdAt, now time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt) / time.Minute)
}

func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

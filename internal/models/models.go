package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCalled     Status = "called"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusNoShow     Status = "no-show"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusWaiting:
		return StatusWaiting, nil
	case StatusCalled:
		return StatusCalled, nil
	case StatusInProgress, "in_progress", "inprogress":
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusNoShow, "no_show", "noshow":
		return StatusNoShow, nil
	default:
		return "", fmt.Errorf("invalid status: %q", s)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusNoShow
}

type Tier string

const (
	TierCritical Tier = "Critical"
	TierHigh     Tier = "High"
	TierMedium   Tier = "Medium"
	TierStandard Tier = "Standard"
	TierLow      Tier = "Low"
)

// Partition is the (hospital, department) scope of one queue.
type Partition struct {
	Hospital   string `json:"hospital"`
	Department string `json:"department"`
}

func (p Partition) String() string {
	return p.Hospital + "/" + p.Department
}

type Flags struct {
	IsPregnant    bool `json:"is_pregnant"`
	HasDisability bool `json:"has_disability"`
}

type QueueEntry struct {
	ID          string `json:"id"`
	TicketID    string `json:"ticket_id"`
	Hospital    string `json:"hospital"`
	Department  string `json:"department"`
	PatientRef  string `json:"patient_ref"`
	PatientName string `json:"patient_name,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Age         int    `json:"age"`
	SymptomText string `json:"symptom_text"`
	Flags       Flags  `json:"flags"`
	Status      Status `json:"status"`

	PriorityTier  Tier     `json:"priority_tier"`
	PriorityScore int      `json:"priority_score"`
	Reasons       []string `json:"reasons,omitempty"`
	// Escalated is derived: score reached the High threshold or ManualEscalation is set.
	Escalated bool `json:"escalated"`
	// ManualEscalation is the explicit operator override and an input to scoring.
	ManualEscalation bool `json:"manual_escalation"`

	CreatedAt            time.Time `json:"created_at"`
	CurrentPosition      int       `json:"current_position,omitempty"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	LastStatusChangeAt   time.Time `json:"last_status_change_at"`
}

func (e QueueEntry) Partition() Partition {
	return Partition{Hospital: e.Hospital, Department: e.Department}
}

// Snapshot is the waiting set of one partition as read from the store,
// together with the partition version it was read at.
type Snapshot struct {
	Partition Partition
	Version   int64
	Entries   []QueueEntry
}

type RankingUpdate struct {
	ID                   string `json:"id"`
	Position             int    `json:"position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	PriorityScore        int    `json:"priority_score"`
	PriorityTier         Tier   `json:"priority_tier"`
	Escalated            bool   `json:"escalated"`
}

type EventType string

const (
	EventPositionImproved  EventType = "position_improved"
	EventAlmostReady       EventType = "almost_ready"
	EventNextPatient       EventType = "next_patient"
	EventCalled            EventType = "called"
	EventCompleted         EventType = "completed"
	EventPriorityEscalated EventType = "priority_escalated"
	EventBroadcast         EventType = "broadcast"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
	SeveritySuccess Severity = "success"
)

type NotificationEvent struct {
	Type     EventType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

type AuditFact struct {
	EntryID   string    `json:"entry_id"`
	TicketID  string    `json:"ticket_id"`
	Action    string    `json:"action"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

type QueueStats struct {
	Partition  Partition      `json:"partition"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByTier     map[Tier]int   `json:"by_tier"`
	AvgWaitMin float64        `json:"avg_wait_minutes"`
}

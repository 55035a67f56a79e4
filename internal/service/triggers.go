package service

import (
	"fmt"

	"github.com/carequeue/backend/internal/models"
)

const almostReadyPosition = 3

// PositionState is what the notification rules look at for one entry.
// Position 0 means the entry had no position (new or not waiting).
type PositionState struct {
	Position  int
	Status    models.Status
	Escalated bool
}

func StateOf(e models.QueueEntry) PositionState {
	pos := e.CurrentPosition
	if e.Status != models.StatusWaiting {
		pos = 0
	}
	return PositionState{Position: pos, Status: e.Status, Escalated: e.Escalated}
}

// Diff returns the notifications implied by moving from prev to cur. Each
// rule fires at most once per call.
func Diff(prev, cur PositionState) []models.NotificationEvent {
	var out []models.NotificationEvent
	waiting := cur.Status == models.StatusWaiting && cur.Position > 0

	if waiting && prev.Status == models.StatusWaiting && prev.Position > 0 && cur.Position < prev.Position {
		out = append(out, models.NotificationEvent{
			Type:     models.EventPositionImproved,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Your position improved from %d to %d", prev.Position, cur.Position),
		})
	}
	if waiting && cur.Position <= almostReadyPosition && prev.Position > almostReadyPosition {
		out = append(out, models.NotificationEvent{
			Type:     models.EventAlmostReady,
			Severity: models.SeverityWarning,
			Message:  "You're almost next! Please be ready.",
		})
	}
	if waiting && cur.Position == 1 && prev.Position != 1 {
		out = append(out, models.NotificationEvent{
			Type:     models.EventNextPatient,
			Severity: models.SeverityUrgent,
			Message:  "You're next! Please proceed to the counter.",
		})
	}
	if cur.Status != prev.Status {
		switch cur.Status {
		case models.StatusCalled:
			out = append(out, models.NotificationEvent{
				Type:     models.EventCalled,
				Severity: models.SeverityUrgent,
				Message:  "Your queue number is now being called. Please proceed to the department.",
			})
		case models.StatusCompleted:
			out = append(out, models.NotificationEvent{
				Type:     models.EventCompleted,
				Severity: models.SeveritySuccess,
				Message:  "Your consultation is complete. We wish you a speedy recovery.",
			})
		}
	}
	if cur.Escalated && !prev.Escalated {
		out = append(out, models.NotificationEvent{
			Type:     models.EventPriorityEscalated,
			Severity: models.SeverityUrgent,
			Message:  "Your visit has been marked as priority. Please be ready for immediate consultation.",
		})
	}
	return out
}

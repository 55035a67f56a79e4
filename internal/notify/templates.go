package notify

import (
	"fmt"
	"strings"

	"github.com/carequeue/backend/internal/models"
)

var severityRank = map[models.Severity]int{
	models.SeverityUrgent:  4,
	models.SeverityWarning: 3,
	models.SeveritySuccess: 2,
	models.SeverityInfo:    1,
}

// Primary picks the event a single SMS should be about: the most severe one,
// first wins on ties.
func Primary(events []models.NotificationEvent) (models.NotificationEvent, bool) {
	if len(events) == 0 {
		return models.NotificationEvent{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if severityRank[ev.Severity] > severityRank[best.Severity] {
			best = ev
		}
	}
	return best, true
}

// Render builds the SMS body for ev about entry e.
func Render(e models.QueueEntry, ev models.NotificationEvent) string {
	name := e.PatientName
	if name == "" {
		name = "patient"
	}
	switch ev.Type {
	case models.EventCalled:
		return fmt.Sprintf("🏥 %s\nDear %s, please proceed to %s. Your queue number %s is now being called. Thank you for your patience.",
			e.Hospital, name, e.Department, e.TicketID)
	case models.EventPositionImproved:
		return fmt.Sprintf("🏥 %s\nHi %s, your current position in %s queue is %d. Estimated wait time: %d minutes. Queue ID: %s",
			e.Hospital, name, e.Department, e.CurrentPosition, e.EstimatedWaitMinutes, e.TicketID)
	case models.EventAlmostReady:
		return fmt.Sprintf("🏥 %s\nReminder: You are number %d in line for %s. Estimated wait: %d minutes. Queue ID: %s",
			e.Hospital, e.CurrentPosition, e.Department, e.EstimatedWaitMinutes, e.TicketID)
	case models.EventNextPatient:
		return fmt.Sprintf("🏥 %s\n%s, you're next in line for %s. Please be ready. Queue ID: %s",
			e.Hospital, name, e.Department, e.TicketID)
	case models.EventPriorityEscalated:
		return fmt.Sprintf("🚨 %s\nIMPORTANT: Your appointment has been marked as priority. Please be ready for immediate consultation at %s. Queue ID: %s",
			e.Hospital, e.Department, e.TicketID)
	case models.EventCompleted:
		return fmt.Sprintf("✅ %s\nThank you %s! Your consultation at %s is now complete. We hope you have a speedy recovery. Queue ID: %s",
			e.Hospital, name, e.Department, e.TicketID)
	case models.EventBroadcast:
		return fmt.Sprintf("📢 %s\n%s", e.Hospital, expandPlaceholders(ev.Message, e, name))
	default:
		return fmt.Sprintf("🏥 %s\nUpdate for %s: Your status in %s has been updated. Queue ID: %s",
			e.Hospital, name, e.Department, e.TicketID)
	}
}

// expandPlaceholders fills {name}, {queueId}, {hospital} and {department}
// in operator-written broadcast text.
func expandPlaceholders(msg string, e models.QueueEntry, name string) string {
	return strings.NewReplacer(
		"{name}", name,
		"{queueId}", e.TicketID,
		"{hospital}", e.Hospital,
		"{department}", e.Department,
	).Replace(msg)
}

package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/carequeue/backend/internal/models"
	"github.com/carequeue/backend/internal/utils"
)

var mockTips = []string{
	"Stay hydrated while you wait; small sips of water are best.",
	"If your symptoms get worse, tell the front desk right away.",
	"Keep a list of your current medications ready for the doctor.",
	"Take slow, deep breaths to stay calm and comfortable.",
	"Sit where you can hear your queue number being called.",
}

// MockAdvisor picks a tip deterministically from the ticket id.
type MockAdvisor struct {
	ModelVersion string
}

func (m MockAdvisor) HealthTip(ctx context.Context, e models.QueueEntry) (string, int64, error) {
	start := time.Now()
	tip := mockTips[utils.HashIndex(e.TicketID, len(mockTips))]
	if e.Department != "" {
		tip = fmt.Sprintf("%s (%s)", tip, e.Department)
	}
	return tip, time.Since(start).Milliseconds(), nil
}

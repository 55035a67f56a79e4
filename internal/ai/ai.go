package ai

import (
	"context"

	"github.com/carequeue/backend/internal/models"
)

// Advisor produces a short health tip for a patient while they wait.
// latencyMs is reported even on failure.
type Advisor interface {
	HealthTip(ctx context.Context, e models.QueueEntry) (tip string, latencyMs int64, err error)
}

package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carequeue/backend/internal/models"
)

// AssistantAdvisor asks a chat assistant for the tip.
type AssistantAdvisor struct {
	Assistant Assistant
}

func (a AssistantAdvisor) HealthTip(ctx context.Context, e models.QueueEntry) (string, int64, error) {
	start := time.Now()
	answer, err := a.Assistant.Ask(ctx, BuildTipPrompt(e), nil)
	if err != nil {
		return "", time.Since(start).Milliseconds(), err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", time.Since(start).Milliseconds(), fmt.Errorf("empty health tip")
	}
	return answer, time.Since(start).Milliseconds(), nil
}

// BuildTipPrompt never includes the patient's name or contact details.
func BuildTipPrompt(e models.QueueEntry) string {
	condition := strings.TrimSpace(e.SymptomText)
	if condition == "" {
		condition = "general health"
	}
	return fmt.Sprintf("Provide a short, friendly health tip for a patient waiting in %s with %s issues. Answer in two sentences at most.",
		strings.TrimSpace(e.Department), condition)
}

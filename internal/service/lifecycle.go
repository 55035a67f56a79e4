package service

import (
	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
)

var transitions = map[models.Status][]models.Status{
	models.StatusWaiting:    {models.StatusCalled, models.StatusNoShow},
	models.StatusCalled:     {models.StatusInProgress, models.StatusNoShow},
	models.StatusInProgress: {models.StatusCompleted},
}

func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to models.Status) error {
	if !CanTransition(from, to) {
		return apperr.New(apperr.InvalidTransition, "cannot move from %s to %s", from, to)
	}
	return nil
}

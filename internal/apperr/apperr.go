package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidInput               Code = "INVALID_INPUT"
	InvalidTransition          Code = "INVALID_TRANSITION"
	GenerationExhausted        Code = "GENERATION_EXHAUSTED"
	RankingConflict            Code = "RANKING_CONFLICT"
	NotificationDeliveryFailed Code = "NOTIFICATION_DELIVERY_FAILED"
	NotFound                   Code = "NOT_FOUND"
)

// Error is the single error type surfaced by the queue core. Two errors
// match under errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrInvalidInput               = &Error{Code: InvalidInput, Message: "invalid input"}
	ErrInvalidTransition          = &Error{Code: InvalidTransition, Message: "invalid status transition"}
	ErrGenerationExhausted        = &Error{Code: GenerationExhausted, Message: "ticket id generation exhausted"}
	ErrRankingConflict            = &Error{Code: RankingConflict, Message: "ranking snapshot is stale"}
	ErrNotificationDeliveryFailed = &Error{Code: NotificationDeliveryFailed, Message: "notification delivery failed"}
	ErrNotFound                   = &Error{Code: NotFound, Message: "not found"}
)

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

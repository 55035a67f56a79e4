package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
	"github.com/carequeue/backend/internal/notify"
	"github.com/carequeue/backend/internal/service"
	"github.com/carequeue/backend/internal/utils"
)

const (
	ActorHeader  = "X-Actor"
	defaultActor = "admin"
)

// QueueAPI is the part of the queue service the HTTP layer drives.
type QueueAPI interface {
	Admit(ctx context.Context, a service.Admission) (service.AdmissionResult, error)
	Transition(ctx context.Context, ticketID string, to models.Status, actor string) (models.QueueEntry, error)
	Escalate(ctx context.Context, ticketID string, actor string) (models.QueueEntry, error)
	Rerank(ctx context.Context, p models.Partition) ([]models.QueueEntry, error)
	Broadcast(ctx context.Context, p models.Partition, message string, actor string) (int, error)
	Get(ctx context.Context, ticketID string) (models.QueueEntry, error)
	List(ctx context.Context, p models.Partition) ([]models.QueueEntry, error)
	Stats(ctx context.Context, p models.Partition) (models.QueueStats, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// EntryLister backs the filtered history view of a partition.
type EntryLister interface {
	ListEntries(ctx context.Context, p models.Partition, status models.Status, limit, offset int) ([]models.QueueEntry, error)
}

type DeliveryStats interface {
	Stats(ctx context.Context) (notify.LedgerStats, error)
}

type Handler struct {
	Queue      QueueAPI
	Store      Pinger
	Entries    EntryLister
	Deliveries DeliveryStats
	Validator  *validator.Validate
	Logger     zerolog.Logger
}

// NewValidator returns a validator with the "phone" tag registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return utils.ValidPhone(fl.Field().String())
	})
	return v
}

type AdmissionRequest struct {
	PatientRef    string `json:"patient_ref" validate:"required,max=128"`
	PatientName   string `json:"patient_name" validate:"max=128"`
	Contact       string `json:"contact" validate:"omitempty,phone"`
	Age           int    `json:"age" validate:"min=0,max=130"`
	SymptomText   string `json:"symptom_text" validate:"max=2000"`
	IsPregnant    bool   `json:"is_pregnant"`
	HasDisability bool   `json:"has_disability"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type BroadcastRequest struct {
	Message string `json:"message" validate:"required,max=480"`
}

type AdmissionResponse struct {
	Entry     models.QueueEntry `json:"entry"`
	HealthTip string            `json:"health_tip,omitempty"`
	Warning   string            `json:"warning,omitempty"`
}

type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// writeAppError maps queue errors onto the error envelope. Errors without
// a code are internal and their text is only logged.
func (h *Handler) writeAppError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
		return
	}
	writeError(c, statusFor(appErr.Code), string(appErr.Code), appErr.Message, nil)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidTransition, apperr.GenerationExhausted, apperr.RankingConflict:
		return http.StatusConflict
	case apperr.NotificationDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func partitionParam(c *gin.Context) (models.Partition, bool) {
	p := models.Partition{
		Hospital:   strings.TrimSpace(c.Param("hospital")),
		Department: strings.TrimSpace(c.Param("department")),
	}
	if p.Hospital == "" || p.Department == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "hospital and department are required", nil)
		return models.Partition{}, false
	}
	return p, true
}

func actor(c *gin.Context) string {
	if a := strings.TrimSpace(c.GetHeader(ActorHeader)); a != "" {
		return a
	}
	return defaultActor
}

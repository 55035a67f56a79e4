package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carequeue/backend/internal/models"
	"github.com/carequeue/backend/internal/service"
)

// @Summary List a queue
// @Description Waiting patients in rank order. With ?status the partition history is filtered instead.
// @Tags queues
// @Produce json
// @Param hospital path string true "Hospital"
// @Param department path string true "Department"
// @Param status query string false "waiting|called|in-progress|completed|no-show"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} models.QueueEntry
// @Failure 400 {object} map[string]any
// @Router /api/queues/{hospital}/{department} [get]
func (h *Handler) QueueList(c *gin.Context) {
	p, ok := partitionParam(c)
	if !ok {
		return
	}

	raw := c.Query("status")
	if raw == "" || h.Entries == nil {
		entries, err := h.Queue.List(c.Request.Context(), p)
		if err != nil {
			h.writeAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
		return
	}

	status, err := models.ParseStatus(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", err.Error())
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, err := h.Entries.ListEntries(c.Request.Context(), p, status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list entries", err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

// @Summary Queue statistics
// @Tags queues
// @Produce json
// @Param hospital path string true "Hospital"
// @Param department path string true "Department"
// @Success 200 {object} models.QueueStats
// @Router /api/queues/{hospital}/{department}/stats [get]
func (h *Handler) QueueStats(c *gin.Context) {
	p, ok := partitionParam(c)
	if !ok {
		return
	}
	stats, err := h.Queue.Stats(c.Request.Context(), p)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Summary Ticket details
// @Tags tickets
// @Produce json
// @Param ticketId path string true "Ticket ID"
// @Success 200 {object} models.QueueEntry
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{ticketId} [get]
func (h *Handler) TicketDetails(c *gin.Context) {
	e, err := h.Queue.Get(c.Request.Context(), c.Param("ticketId"))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary Admit a patient
// @Tags queues
// @Accept json
// @Produce json
// @Param hospital path string true "Hospital"
// @Param department path string true "Department"
// @Param payload body AdmissionRequest true "Admission"
// @Success 201 {object} AdmissionResponse
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/queues/{hospital}/{department}/admissions [post]
func (h *Handler) Admit(c *gin.Context) {
	p, ok := partitionParam(c)
	if !ok {
		return
	}
	var req AdmissionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Queue.Admit(c.Request.Context(), service.Admission{
		Hospital:    p.Hospital,
		Department:  p.Department,
		PatientRef:  req.PatientRef,
		PatientName: req.PatientName,
		Contact:     req.Contact,
		Age:         req.Age,
		SymptomText: req.SymptomText,
		Flags:       models.Flags{IsPregnant: req.IsPregnant, HasDisability: req.HasDisability},
		Actor:       actor(c),
	})
	if err != nil && res.Entry.ID == "" {
		h.writeAppError(c, err)
		return
	}

	resp := AdmissionResponse{Entry: res.Entry, HealthTip: res.HealthTip}
	if err != nil {
		// The entry is stored; the periodic re-rank will place it.
		h.Logger.Warn().Err(err).Str("ticket_id", res.Entry.TicketID).Msg("admitted without rerank")
		resp.Warning = "ranking pending"
	}
	c.JSON(http.StatusCreated, resp)
}

// @Summary Change ticket status
// @Tags tickets
// @Accept json
// @Produce json
// @Param ticketId path string true "Ticket ID"
// @Param payload body StatusRequest true "Target status"
// @Success 200 {object} models.QueueEntry
// @Failure 409 {object} map[string]any
// @Router /api/tickets/{ticketId}/status [post]
func (h *Handler) TicketStatus(c *gin.Context) {
	var req StatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	to, err := models.ParseStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", err.Error())
		return
	}
	e, err := h.Queue.Transition(c.Request.Context(), c.Param("ticketId"), to, actor(c))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary Escalate a waiting ticket
// @Tags tickets
// @Produce json
// @Param ticketId path string true "Ticket ID"
// @Success 200 {object} models.QueueEntry
// @Failure 409 {object} map[string]any
// @Router /api/tickets/{ticketId}/escalate [post]
func (h *Handler) Escalate(c *gin.Context) {
	e, err := h.Queue.Escalate(c.Request.Context(), c.Param("ticketId"), actor(c))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary Re-rank a queue now
// @Tags queues
// @Produce json
// @Param hospital path string true "Hospital"
// @Param department path string true "Department"
// @Success 200 {array} models.QueueEntry
// @Failure 409 {object} map[string]any
// @Router /api/queues/{hospital}/{department}/rerank [post]
func (h *Handler) Rerank(c *gin.Context) {
	p, ok := partitionParam(c)
	if !ok {
		return
	}
	ranked, err := h.Queue.Rerank(c.Request.Context(), p)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranked)
}

// @Summary Broadcast to a queue
// @Description Sends one message to every waiting patient. {name}, {queueId} and {department} are expanded.
// @Tags queues
// @Accept json
// @Produce json
// @Param hospital path string true "Hospital"
// @Param department path string true "Department"
// @Param payload body BroadcastRequest true "Message"
// @Success 202 {object} BroadcastResponse
// @Router /api/queues/{hospital}/{department}/broadcast [post]
func (h *Handler) Broadcast(c *gin.Context) {
	p, ok := partitionParam(c)
	if !ok {
		return
	}
	var req BroadcastRequest
	if !h.bindJSON(c, &req) {
		return
	}
	n, err := h.Queue.Broadcast(c.Request.Context(), p, req.Message, actor(c))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, BroadcastResponse{Recipients: n})
}

// @Summary Notification delivery stats
// @Tags notifications
// @Produce json
// @Success 200 {object} notify.LedgerStats
// @Failure 503 {object} map[string]any
// @Router /api/notifications/stats [get]
func (h *Handler) NotificationStats(c *gin.Context) {
	if h.Deliveries == nil {
		writeError(c, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "Delivery ledger not configured", nil)
		return
	}
	stats, err := h.Deliveries.Stats(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to read delivery stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

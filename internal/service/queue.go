package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carequeue/backend/internal/ai"
	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
)

const (
	defaultRerankRetries = 3
	insertAttempts       = 3
	healthTipTimeout     = 5 * time.Second
)

type Store interface {
	ListWaiting(ctx context.Context, p models.Partition) (models.Snapshot, error)
	Get(ctx context.Context, ticketID string) (models.QueueEntry, error)
	TicketIDsForDay(ctx context.Context, p models.Partition, day time.Time) ([]string, error)
	Insert(ctx context.Context, e models.QueueEntry) error
	UpdateRanking(ctx context.Context, p models.Partition, version int64, updates []models.RankingUpdate) error
	UpdateStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error
	SetEscalated(ctx context.Context, id string) error
	ListPartitions(ctx context.Context) ([]models.Partition, error)
	Stats(ctx context.Context, p models.Partition) (models.QueueStats, error)
}

type AuditSink interface {
	Record(ctx context.Context, fact models.AuditFact) error
}

// Notifier delivers events to the patient behind an entry. Implementations
// must not block on delivery.
type Notifier interface {
	Send(ctx context.Context, e models.QueueEntry, events []models.NotificationEvent)
}

type EventPublisher interface {
	RankingChanged(ctx context.Context, p models.Partition, ranked []models.QueueEntry, at time.Time) error
	StatusChanged(ctx context.Context, e models.QueueEntry, old models.Status, at time.Time) error
}

type QueueService struct {
	Store         Store
	Audit         AuditSink
	Notifier      Notifier
	Events        EventPublisher
	Advisor       ai.Advisor
	Tickets       *TicketGenerator
	Logger        zerolog.Logger
	Now           func() time.Time
	RerankRetries int

	locks sync.Map
}

type Admission struct {
	Hospital    string
	Department  string
	PatientRef  string
	PatientName string
	Contact     string
	Age         int
	SymptomText string
	Flags       models.Flags
	Actor       string
}

type AdmissionResult struct {
	Entry     models.QueueEntry `json:"entry"`
	HealthTip string            `json:"health_tip,omitempty"`
}

// Admit scores, tickets and stores a new waiting entry, then re-ranks its
// partition. If the re-rank fails the entry is still stored and returned
// along with the error; the next re-rank will place it.
func (s *QueueService) Admit(ctx context.Context, a Admission) (AdmissionResult, error) {
	p := models.Partition{Hospital: strings.TrimSpace(a.Hospital), Department: strings.TrimSpace(a.Department)}
	if p.Hospital == "" || p.Department == "" {
		return AdmissionResult{}, apperr.New(apperr.InvalidInput, "hospital and department are required")
	}
	if strings.TrimSpace(a.PatientRef) == "" {
		return AdmissionResult{}, apperr.New(apperr.InvalidInput, "patient reference is required")
	}
	in := ScoreInput{Age: a.Age, SymptomText: a.SymptomText, Flags: a.Flags}
	if err := ValidateAdmission(in); err != nil {
		return AdmissionResult{}, err
	}

	unlock := s.lock(p)
	defer unlock()

	now := s.now()
	existing, err := s.Store.TicketIDsForDay(ctx, p, now)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("list ticket ids: %w", err)
	}

	in.CreatedAt = now
	score := Score(in, now)
	entry := models.QueueEntry{
		ID:                 uuid.NewString(),
		Hospital:           p.Hospital,
		Department:         p.Department,
		PatientRef:         strings.TrimSpace(a.PatientRef),
		PatientName:        strings.TrimSpace(a.PatientName),
		Contact:            strings.TrimSpace(a.Contact),
		Age:                a.Age,
		SymptomText:        a.SymptomText,
		Flags:              a.Flags,
		Status:             models.StatusWaiting,
		PriorityScore:      score.Score,
		PriorityTier:       score.Tier,
		Escalated:          score.Escalated,
		Reasons:            score.Reasons,
		CreatedAt:          now,
		LastStatusChangeAt: now,
	}
	if err := s.insertWithTicket(ctx, &entry, existing); err != nil {
		return AdmissionResult{}, err
	}
	s.audit(ctx, models.AuditFact{
		EntryID:   entry.ID,
		TicketID:  entry.TicketID,
		Action:    "admit",
		NewStatus: models.StatusWaiting,
		Actor:     a.Actor,
		At:        now,
	})

	s.Logger.Info().
		Str("ticket_id", entry.TicketID).
		Str("partition", p.String()).
		Int("score", entry.PriorityScore).
		Str("tier", string(entry.PriorityTier)).
		Msg("patient admitted")

	ranked, err := s.rerankLocked(ctx, p, nil)
	if err != nil {
		return AdmissionResult{Entry: entry}, err
	}
	if e, ok := findEntry(ranked, entry.ID); ok {
		entry = e
	}

	return AdmissionResult{Entry: entry, HealthTip: s.healthTip(ctx, entry)}, nil
}

// Transition moves an entry along the status machine. Leaving waiting
// re-ranks the partition; a failed re-rank does not undo the transition.
func (s *QueueService) Transition(ctx context.Context, ticketID string, to models.Status, actor string) (models.QueueEntry, error) {
	e, unlock, err := s.lockEntry(ctx, ticketID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer unlock()

	if err := ValidateTransition(e.Status, to); err != nil {
		return e, err
	}

	prev := StateOf(e)
	old := e.Status
	now := s.now()
	if err := s.Store.UpdateStatus(ctx, e.ID, old, to, now); err != nil {
		return e, fmt.Errorf("update status: %w", err)
	}
	e.Status = to
	e.LastStatusChangeAt = now
	if old == models.StatusWaiting {
		e.CurrentPosition = 0
		e.EstimatedWaitMinutes = 0
	}

	s.audit(ctx, models.AuditFact{
		EntryID:   e.ID,
		TicketID:  e.TicketID,
		Action:    "transition",
		OldStatus: old,
		NewStatus: to,
		Actor:     actor,
		At:        now,
	})
	if events := Diff(prev, StateOf(e)); len(events) > 0 {
		s.notify(ctx, e, events)
	}
	if err := s.events().StatusChanged(ctx, e, old, now); err != nil {
		s.Logger.Warn().Err(err).Str("ticket_id", e.TicketID).Msg("status event publish failed")
	}

	if old == models.StatusWaiting {
		if _, err := s.rerankLocked(ctx, e.Partition(), nil); err != nil {
			s.deferRanking(e, err)
		}
	}
	return e, nil
}

// Escalate sets the manual override on a waiting entry, rescoring and
// re-ranking its partition. The priority_escalated notification always
// fires for a first manual escalation.
func (s *QueueService) Escalate(ctx context.Context, ticketID string, actor string) (models.QueueEntry, error) {
	e, unlock, err := s.lockEntry(ctx, ticketID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer unlock()

	if e.Status != models.StatusWaiting {
		return e, apperr.New(apperr.InvalidTransition, "only waiting entries can be escalated, entry is %s", e.Status)
	}

	prev := StateOf(e)
	if !e.ManualEscalation {
		prev.Escalated = false
	}
	if err := s.Store.SetEscalated(ctx, e.ID); err != nil {
		return e, fmt.Errorf("set escalated: %w", err)
	}
	s.audit(ctx, models.AuditFact{
		EntryID:   e.ID,
		TicketID:  e.TicketID,
		Action:    "escalate",
		OldStatus: e.Status,
		NewStatus: e.Status,
		Actor:     actor,
		At:        s.now(),
	})

	ranked, err := s.rerankLocked(ctx, e.Partition(), map[string]PositionState{e.ID: prev})
	if err == nil {
		if updated, ok := findEntry(ranked, e.ID); ok {
			return updated, nil
		}
	}
	e.ManualEscalation = true
	e.Escalated = true
	if err != nil {
		s.deferRanking(e, err)
		if events := Diff(prev, StateOf(e)); len(events) > 0 {
			s.notify(ctx, e, events)
		}
	}
	return e, nil
}

func (s *QueueService) Rerank(ctx context.Context, p models.Partition) ([]models.QueueEntry, error) {
	unlock := s.lock(p)
	defer unlock()
	return s.rerankLocked(ctx, p, nil)
}

// RerankAll re-ranks every known partition; one failing partition does not
// stop the others.
func (s *QueueService) RerankAll(ctx context.Context) error {
	partitions, err := s.Store.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	var errs []error
	for _, p := range partitions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Rerank(ctx, p); err != nil {
			s.Logger.Error().Err(err).Str("partition", p.String()).Msg("rerank failed")
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Broadcast sends one operator message to every waiting patient of p and
// returns how many were addressed.
func (s *QueueService) Broadcast(ctx context.Context, p models.Partition, message string, actor string) (int, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return 0, apperr.New(apperr.InvalidInput, "broadcast message is required")
	}
	snap, err := s.Store.ListWaiting(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("list waiting: %w", err)
	}
	event := models.NotificationEvent{Type: models.EventBroadcast, Severity: models.SeverityWarning, Message: message}
	for _, e := range snap.Entries {
		s.notify(ctx, e, []models.NotificationEvent{event})
	}
	s.Logger.Info().Str("partition", p.String()).Str("actor", actor).Int("recipients", len(snap.Entries)).Msg("broadcast sent")
	return len(snap.Entries), nil
}

func (s *QueueService) Get(ctx context.Context, ticketID string) (models.QueueEntry, error) {
	return s.Store.Get(ctx, ticketID)
}

func (s *QueueService) List(ctx context.Context, p models.Partition) ([]models.QueueEntry, error) {
	snap, err := s.Store.ListWaiting(ctx, p)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

func (s *QueueService) Stats(ctx context.Context, p models.Partition) (models.QueueStats, error) {
	return s.Store.Stats(ctx, p)
}

// rerankLocked must be called with p's lock held. prevOverride replaces the
// "before" state of specific entries when diffing for notifications.
func (s *QueueService) rerankLocked(ctx context.Context, p models.Partition, prevOverride map[string]PositionState) ([]models.QueueEntry, error) {
	retries := s.RerankRetries
	if retries <= 0 {
		retries = defaultRerankRetries
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		snap, err := s.Store.ListWaiting(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list waiting: %w", err)
		}
		now := s.now()
		ranked := Rank(snap.Entries, now)

		err = s.Store.UpdateRanking(ctx, p, snap.Version, RankingUpdates(ranked))
		if errors.Is(err, apperr.ErrRankingConflict) {
			lastErr = err
			s.Logger.Debug().Str("partition", p.String()).Int("attempt", attempt).Msg("ranking snapshot stale, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update ranking: %w", err)
		}

		prev := make(map[string]PositionState, len(snap.Entries))
		for _, e := range snap.Entries {
			prev[e.ID] = StateOf(e)
		}
		for id, st := range prevOverride {
			prev[id] = st
		}
		for _, e := range ranked {
			if events := Diff(prev[e.ID], StateOf(e)); len(events) > 0 {
				s.notify(ctx, e, events)
			}
		}
		if err := s.events().RankingChanged(ctx, p, ranked, now); err != nil {
			s.Logger.Warn().Err(err).Str("partition", p.String()).Msg("ranking event publish failed")
		}
		return ranked, nil
	}
	return nil, apperr.Wrap(apperr.RankingConflict, lastErr, "partition %s still stale after %d attempts", p, retries)
}

// insertWithTicket issues a ticket id for e and stores it. An id taken
// concurrently by another partition is added to existing and a fresh one
// is drawn, up to insertAttempts times.
func (s *QueueService) insertWithTicket(ctx context.Context, e *models.QueueEntry, existing []string) error {
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		e.TicketID, err = s.tickets().GenerateAt(e.Hospital, e.Department, e.CreatedAt, existing)
		if err != nil {
			return err
		}
		err = s.Store.Insert(ctx, *e)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrGenerationExhausted) {
			return fmt.Errorf("insert entry: %w", err)
		}
		s.Logger.Debug().Str("ticket_id", e.TicketID).Int("attempt", attempt+1).Msg("ticket id taken concurrently, regenerating")
		existing = append(existing, e.TicketID)
	}
	return fmt.Errorf("insert entry: %w", err)
}

// deferRanking handles a re-rank that failed after the entry's own write
// committed. The write stands; the periodic re-rank places the partition.
func (s *QueueService) deferRanking(e models.QueueEntry, err error) {
	s.Logger.Warn().Err(err).
		Str("ticket_id", e.TicketID).
		Str("partition", e.Partition().String()).
		Msg("rerank deferred to worker")
}

func (s *QueueService) lockEntry(ctx context.Context, ticketID string) (models.QueueEntry, func(), error) {
	e, err := s.Store.Get(ctx, ticketID)
	if err != nil {
		return models.QueueEntry{}, nil, err
	}
	unlock := s.lock(e.Partition())
	// Re-read under the lock; the entry may have moved while we waited.
	e, err = s.Store.Get(ctx, ticketID)
	if err != nil {
		unlock()
		return models.QueueEntry{}, nil, err
	}
	return e, unlock, nil
}

func (s *QueueService) lock(p models.Partition) func() {
	v, _ := s.locks.LoadOrStore(p, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (s *QueueService) notify(ctx context.Context, e models.QueueEntry, events []models.NotificationEvent) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Send(ctx, e, events)
}

func (s *QueueService) audit(ctx context.Context, fact models.AuditFact) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, fact); err != nil {
		s.Logger.Warn().Err(err).Str("ticket_id", fact.TicketID).Str("action", fact.Action).Msg("audit record failed")
	}
}

func (s *QueueService) healthTip(ctx context.Context, e models.QueueEntry) string {
	if s.Advisor == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, healthTipTimeout)
	defer cancel()
	tip, latencyMs, err := s.Advisor.HealthTip(ctx, e)
	if err != nil {
		s.Logger.Warn().Err(err).Str("ticket_id", e.TicketID).Int64("latency_ms", latencyMs).Msg("health tip unavailable")
		return ""
	}
	return tip
}

func (s *QueueService) events() EventPublisher {
	if s.Events == nil {
		return nopEvents{}
	}
	return s.Events
}

var fallbackTickets = NewTicketGenerator(defaultTicketRetries)

func (s *QueueService) tickets() *TicketGenerator {
	if s.Tickets == nil {
		return fallbackTickets
	}
	return s.Tickets
}

func (s *QueueService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func findEntry(entries []models.QueueEntry, id string) (models.QueueEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return models.QueueEntry{}, false
}

type nopEvents struct{}

func (nopEvents) RankingChanged(context.Context, models.Partition, []models.QueueEntry, time.Time) error {
	return nil
}

func (nopEvents) StatusChanged(context.Context, models.QueueEntry, models.Status, time.Time) error {
	return nil
}

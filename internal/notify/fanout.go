package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
	"github.com/carequeue/backend/internal/utils"
)

const defaultDeliveryTimeout = 30 * time.Second

type DeliveryRecorder interface {
	Record(ctx context.Context, d Delivery) error
}

// LogDispatcher only logs. It stands in when no SMS provider is configured.
type LogDispatcher struct {
	Logger zerolog.Logger
}

func (l LogDispatcher) Dispatch(_ context.Context, m Message) (string, error) {
	id := "log-" + uuid.NewString()
	l.Logger.Info().Str("to", m.To).Str("message_id", id).Str("body", m.Body).Msg("sms (log only)")
	return id, nil
}

// Fanout delivers notifications in the background. A failed delivery is
// logged and recorded; it never reaches the caller.
type Fanout struct {
	Dispatcher Dispatcher
	Ledger     DeliveryRecorder
	Logger     zerolog.Logger
	Timeout    time.Duration

	wg sync.WaitGroup
}

func (f *Fanout) Send(ctx context.Context, e models.QueueEntry, events []models.NotificationEvent) {
	ev, ok := Primary(events)
	if !ok {
		return
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	// Delivery outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		f.deliver(ctx, e, ev, len(events))
	}()
}

// Wait blocks until every delivery started so far has finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, e models.QueueEntry, ev models.NotificationEvent, count int) {
	d := Delivery{
		TicketID:   e.TicketID,
		Hospital:   e.Hospital,
		Department: e.Department,
		EventType:  string(ev.Type),
		Events:     count,
		Recipient:  e.Contact,
		At:         time.Now().UTC(),
	}

	switch {
	case e.Contact == "" || !utils.ValidPhone(e.Contact):
		d.Status = DeliverySkipped
		d.Error = "no valid contact number"
		f.Logger.Debug().Str("ticket_id", e.TicketID).Str("event", d.EventType).Msg("notification skipped, no contact")
	case f.Dispatcher == nil:
		d.Status = DeliverySkipped
		d.Error = "no dispatcher configured"
	default:
		id, err := f.Dispatcher.Dispatch(ctx, Message{To: e.Contact, Body: Render(e, ev)})
		if err != nil {
			err = apperr.Wrap(apperr.NotificationDeliveryFailed, err, "deliver %s to ticket %s", ev.Type, e.TicketID)
			d.Status = DeliveryFailed
			d.Error = err.Error()
			f.Logger.Warn().Err(err).Str("code", string(apperr.NotificationDeliveryFailed)).
				Str("ticket_id", e.TicketID).Str("event", d.EventType).Msg("notification delivery failed")
		} else {
			d.Status = DeliverySent
			d.ProviderID = id
			f.Logger.Debug().Str("ticket_id", e.TicketID).Str("event", d.EventType).Str("provider_id", id).Msg("notification sent")
		}
	}

	if f.Ledger == nil {
		return
	}
	if err := f.Ledger.Record(ctx, d); err != nil {
		f.Logger.Warn().Err(err).Str("ticket_id", e.TicketID).Msg("delivery ledger write failed")
	}
}

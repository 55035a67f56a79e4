package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carequeue/backend/internal/models"
)

var sampleEntry = models.QueueEntry{
	TicketID:             "QCGCA-260302-0042",
	Hospital:             "City General",
	Department:           "Cardiology",
	PatientName:          "Asha",
	Contact:              "98765 43210",
	CurrentPosition:      3,
	EstimatedWaitMinutes: 40,
}

func TestRenderTemplates(t *testing.T) {
	called := Render(sampleEntry, models.NotificationEvent{Type: models.EventCalled})
	assert.Equal(t, "🏥 City General\nDear Asha, please proceed to Cardiology. Your queue number QCGCA-260302-0042 is now being called. Thank you for your patience.", called)

	reminder := Render(sampleEntry, models.NotificationEvent{Type: models.EventAlmostReady})
	assert.Contains(t, reminder, "You are number 3 in line for Cardiology. Estimated wait: 40 minutes.")

	escalated := Render(sampleEntry, models.NotificationEvent{Type: models.EventPriorityEscalated})
	assert.True(t, strings.HasPrefix(escalated, "🚨 City General\nIMPORTANT"))

	anon := sampleEntry
	anon.PatientName = ""
	assert.Contains(t, Render(anon, models.NotificationEvent{Type: models.EventCompleted}), "Thank you patient!")
}

func TestRenderBroadcastPlaceholders(t *testing.T) {
	got := Render(sampleEntry, models.NotificationEvent{Type: models.EventBroadcast, Message: "{name}, {department} is delayed. Keep {queueId} handy."})
	assert.Equal(t, "📢 City General\nAsha, Cardiology is delayed. Keep QCGCA-260302-0042 handy.", got)
}

func TestPrimaryPicksMostSevere(t *testing.T) {
	ev, ok := Primary([]models.NotificationEvent{
		{Type: models.EventPositionImproved, Severity: models.SeverityInfo},
		{Type: models.EventAlmostReady, Severity: models.SeverityWarning},
		{Type: models.EventNextPatient, Severity: models.SeverityUrgent},
		{Type: models.EventPriorityEscalated, Severity: models.SeverityUrgent},
	})
	require.True(t, ok)
	assert.Equal(t, models.EventNextPatient, ev.Type)

	_, ok = Primary(nil)
	assert.False(t, ok)
}

func TestTwilioDispatchSendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+919876543210", r.PostForm.Get("To"))
		assert.Equal(t, "+15005550006", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	d := &TwilioDispatcher{AccountSID: "AC123", AuthToken: "secret", From: "+15005550006", BaseURL: srv.URL, DefaultCountryCode: "91"}
	sid, err := d.Dispatch(context.Background(), Message{To: "98765-43210", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "SM1", sid)
}

func TestTwilioDispatchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM2"}`))
	}))
	defer srv.Close()

	d := &TwilioDispatcher{AccountSID: "AC1", BaseURL: srv.URL, RetryAttempts: 3, Backoff: func(int) time.Duration { return 0 }}
	sid, err := d.Dispatch(context.Background(), Message{To: "+14155550100", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "SM2", sid)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestTwilioDispatchDoesNotRetryRejections(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	d := &TwilioDispatcher{AccountSID: "AC1", BaseURL: srv.URL, RetryAttempts: 5, Backoff: func(int) time.Duration { return 0 }}
	_, err := d.Dispatch(context.Background(), Message{To: "+14155550100", Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid 'To' Phone Number")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTwilioDispatchRejectsBadPhone(t *testing.T) {
	d := &TwilioDispatcher{AccountSID: "AC1", BaseURL: "http://127.0.0.1:0"}
	_, err := d.Dispatch(context.Background(), Message{To: "call me", Body: "x"})
	assert.Error(t, err)
}

type stubDispatcher struct {
	mu   sync.Mutex
	err  error
	sent []Message
}

func (s *stubDispatcher) Dispatch(_ context.Context, m Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	if s.err != nil {
		return "", s.err
	}
	return "SM-test", nil
}

type memRecorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (m *memRecorder) Record(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func TestFanoutDeliversAndRecords(t *testing.T) {
	disp := &stubDispatcher{}
	rec := &memRecorder{}
	f := &Fanout{Dispatcher: disp, Ledger: rec, Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	f.Send(ctx, sampleEntry, []models.NotificationEvent{
		{Type: models.EventPositionImproved, Severity: models.SeverityInfo},
		{Type: models.EventAlmostReady, Severity: models.SeverityWarning},
	})
	// Cancelling the caller must not abort delivery.
	cancel()
	f.Wait()

	require.Len(t, disp.sent, 1)
	assert.Contains(t, disp.sent[0].Body, "Reminder: You are number 3")
	require.Len(t, rec.deliveries, 1)
	d := rec.deliveries[0]
	assert.Equal(t, DeliverySent, d.Status)
	assert.Equal(t, "almost_ready", d.EventType)
	assert.Equal(t, 2, d.Events)
	assert.Equal(t, "SM-test", d.ProviderID)
}

func TestFanoutRecordsFailureWithoutPanicking(t *testing.T) {
	disp := &stubDispatcher{err: errors.New("provider down")}
	rec := &memRecorder{}
	f := &Fanout{Dispatcher: disp, Ledger: rec, Logger: zerolog.Nop()}

	f.Send(context.Background(), sampleEntry, []models.NotificationEvent{{Type: models.EventCalled, Severity: models.SeverityUrgent}})
	f.Wait()

	require.Len(t, rec.deliveries, 1)
	assert.Equal(t, DeliveryFailed, rec.deliveries[0].Status)
	assert.Contains(t, rec.deliveries[0].Error, "NOTIFICATION_DELIVERY_FAILED")
}

func TestFanoutSkipsMissingContact(t *testing.T) {
	disp := &stubDispatcher{}
	rec := &memRecorder{}
	f := &Fanout{Dispatcher: disp, Ledger: rec, Logger: zerolog.Nop()}

	e := sampleEntry
	e.Contact = ""
	f.Send(context.Background(), e, []models.NotificationEvent{{Type: models.EventCalled, Severity: models.SeverityUrgent}})
	f.Send(context.Background(), e, nil)
	f.Wait()

	assert.Empty(t, disp.sent)
	require.Len(t, rec.deliveries, 1)
	assert.Equal(t, DeliverySkipped, rec.deliveries[0].Status)
}

func TestLedgerRecordWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO deliveries").
		WithArgs("QCGCA-260302-0042", "City General", "Cardiology", "called", 1, "98765 43210", "sent", "SM1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l := NewLedger(db)
	err = l.Record(context.Background(), Delivery{
		TicketID:   sampleEntry.TicketID,
		Hospital:   sampleEntry.Hospital,
		Department: sampleEntry.Department,
		EventType:  "called",
		Recipient:  sampleEntry.Contact,
		Status:     DeliverySent,
		ProviderID: "SM1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStatsWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM deliveries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM deliveries GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("sent", 2).AddRow("failed", 1))
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\) FROM deliveries GROUP BY event_type`).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).AddRow("called", 3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM deliveries WHERE status = \?`).
		WithArgs("sent", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	stats, err := NewLedger(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["sent"])
	assert.Equal(t, 3, stats.ByType["called"])
	assert.Equal(t, 2, stats.SentLast24h)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerSQLiteRoundTrip(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger", "notify.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, Delivery{TicketID: "T1", Hospital: "H", Department: "D", EventType: "called", Status: DeliverySent}))
	require.NoError(t, l.Record(ctx, Delivery{TicketID: "T2", Hospital: "H", Department: "D", EventType: "completed", Status: DeliveryFailed, Error: "boom"}))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["failed"])
	assert.Equal(t, 1, stats.SentLast24h)
}

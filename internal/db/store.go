package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carequeue/backend/internal/apperr"
	"github.com/carequeue/backend/internal/models"
)

//go:embed migrations/001_init.sql
var initSQL string

const uniqueViolation = "23505"

const entryColumns = `id, ticket_id, hospital, department, patient_ref, patient_name, contact, age, symptom_text,
	is_pregnant, has_disability, status, priority_tier, priority_score, reasons, escalated, manual_escalation,
	created_at, current_position, estimated_wait_minutes, last_status_change_at`

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, initSQL)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.withTx(ctx, pgx.TxOptions{}, fn)
}

func (s *Store) withTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListWaiting reads the waiting set and the partition version in one
// repeatable-read transaction so the two agree.
func (s *Store) ListWaiting(ctx context.Context, p models.Partition) (models.Snapshot, error) {
	snap := models.Snapshot{Partition: p}
	err := s.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT version FROM queue_partitions WHERE hospital = $1 AND department = $2`,
			p.Hospital, p.Department).Scan(&snap.Version)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+entryColumns+` FROM queue_entries
			WHERE hospital = $1 AND department = $2 AND status = $3
			ORDER BY current_position ASC NULLS LAST, created_at ASC, id ASC`,
			p.Hospital, p.Department, string(models.StatusWaiting))
		if err != nil {
			return err
		}
		snap.Entries, err = collectEntries(rows)
		return err
	})
	return snap, err
}

func (s *Store) Get(ctx context.Context, ticketID string) (models.QueueEntry, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE ticket_id = $1`, ticketID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, apperr.New(apperr.NotFound, "ticket %s not found", ticketID)
	}
	return e, err
}

// TicketIDsForDay returns every ticket id issued on the UTC day of day. Ids
// are unique across partitions, so all partitions are included.
func (s *Store) TicketIDsForDay(ctx context.Context, _ models.Partition, day time.Time) ([]string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.Pool.Query(ctx, `SELECT ticket_id FROM queue_entries WHERE created_at >= $1 AND created_at < $2`,
		start, start.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Insert(ctx context.Context, e models.QueueEntry) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := bumpVersion(ctx, tx, e.Partition()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO queue_entries (`+entryColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		`, e.ID, e.TicketID, e.Hospital, e.Department, e.PatientRef, e.PatientName, e.Contact, e.Age, e.SymptomText,
			e.Flags.IsPregnant, e.Flags.HasDisability, string(e.Status), string(e.PriorityTier), e.PriorityScore,
			nonNil(e.Reasons), e.Escalated, e.ManualEscalation, e.CreatedAt, nullablePosition(e.CurrentPosition),
			e.EstimatedWaitMinutes, e.LastStatusChangeAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.Wrap(apperr.GenerationExhausted, err, "ticket id %s issued concurrently", e.TicketID)
		}
		return err
	})
}

// UpdateRanking applies updates only if the partition is still at version.
func (s *Store) UpdateRanking(ctx context.Context, p models.Partition, version int64, updates []models.RankingUpdate) error {
	if version == 0 && len(updates) == 0 {
		// Partition never admitted anyone; nothing to write.
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE queue_partitions SET version = version + 1
			WHERE hospital = $1 AND department = $2 AND version = $3`, p.Hospital, p.Department, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.RankingConflict, "partition %s changed since version %d", p, version)
		}

		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE queue_entries
				SET current_position = $1, estimated_wait_minutes = $2, priority_score = $3, priority_tier = $4, escalated = $5
				WHERE id = $6 AND status = $7`,
				u.Position, u.EstimatedWaitMinutes, u.PriorityScore, string(u.PriorityTier), u.Escalated, u.ID, string(models.StatusWaiting))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var h, d string
		err := tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, last_status_change_at = $2,
				current_position = CASE WHEN $3::text = 'waiting' THEN NULL ELSE current_position END,
				estimated_wait_minutes = CASE WHEN $3::text = 'waiting' THEN 0 ELSE estimated_wait_minutes END
			WHERE id = $4 AND status = $3
			RETURNING hospital, department
		`, string(to), at, string(from), id).Scan(&h, &d)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.InvalidTransition, "entry %s is no longer %s", id, from)
		}
		if err != nil {
			return err
		}
		return bumpVersion(ctx, tx, models.Partition{Hospital: h, Department: d})
	})
}

func (s *Store) SetEscalated(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var h, d string
		err := tx.QueryRow(ctx, `UPDATE queue_entries SET manual_escalation = TRUE, escalated = TRUE
			WHERE id = $1 RETURNING hospital, department`, id).Scan(&h, &d)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.NotFound, "entry %s not found", id)
		}
		if err != nil {
			return err
		}
		return bumpVersion(ctx, tx, models.Partition{Hospital: h, Department: d})
	})
}

func (s *Store) ListPartitions(ctx context.Context) ([]models.Partition, error) {
	rows, err := s.Pool.Query(ctx, `SELECT hospital, department FROM queue_partitions ORDER BY hospital, department`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Partition, error) {
		var p models.Partition
		err := row.Scan(&p.Hospital, &p.Department)
		return p, err
	})
}

func (s *Store) Stats(ctx context.Context, p models.Partition) (models.QueueStats, error) {
	st := models.QueueStats{Partition: p, ByStatus: map[models.Status]int{}, ByTier: map[models.Tier]int{}}
	rows, err := s.Pool.Query(ctx, `SELECT status, priority_tier, COUNT(*) FROM queue_entries
		WHERE hospital = $1 AND department = $2 GROUP BY status, priority_tier`, p.Hospital, p.Department)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, tier string
			n            int
		)
		if err := rows.Scan(&status, &tier, &n); err != nil {
			return st, err
		}
		st.Total += n
		st.ByStatus[models.Status(status)] += n
		if models.Status(status) == models.StatusWaiting {
			st.ByTier[models.Tier(tier)] += n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	var avg *float64
	err = s.Pool.QueryRow(ctx, `SELECT AVG(estimated_wait_minutes)::float8 FROM queue_entries
		WHERE hospital = $1 AND department = $2 AND status = $3`, p.Hospital, p.Department, string(models.StatusWaiting)).Scan(&avg)
	if err != nil {
		return st, err
	}
	if avg != nil {
		st.AvgWaitMin = *avg
	}
	return st, nil
}

// ListEntries lists a partition's entries of any status, newest first.
// An empty status lists all.
func (s *Store) ListEntries(ctx context.Context, p models.Partition, status models.Status, limit, offset int) ([]models.QueueEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	args := []any{p.Hospital, p.Department}
	wheres := []string{"hospital = $1", "department = $2"}
	if status != "" {
		args = append(args, string(status))
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE ` + strings.Join(wheres, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// Record stores one audit fact.
func (s *Store) Record(ctx context.Context, f models.AuditFact) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO audit_log (entry_id, ticket_id, action, old_status, new_status, actor, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, f.EntryID, f.TicketID, f.Action, string(f.OldStatus), string(f.NewStatus), f.Actor, f.At)
	return err
}

func bumpVersion(ctx context.Context, tx pgx.Tx, p models.Partition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_partitions (hospital, department, version) VALUES ($1, $2, 1)
		ON CONFLICT (hospital, department) DO UPDATE SET version = queue_partitions.version + 1
	`, p.Hospital, p.Department)
	return err
}

func collectEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var out []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var (
		e            models.QueueEntry
		status, tier string
		position     *int
	)
	err := row.Scan(&e.ID, &e.TicketID, &e.Hospital, &e.Department, &e.PatientRef, &e.PatientName, &e.Contact,
		&e.Age, &e.SymptomText, &e.Flags.IsPregnant, &e.Flags.HasDisability, &status, &tier, &e.PriorityScore,
		&e.Reasons, &e.Escalated, &e.ManualEscalation, &e.CreatedAt, &position, &e.EstimatedWaitMinutes,
		&e.LastStatusChangeAt)
	if err != nil {
		return models.QueueEntry{}, err
	}
	e.Status = models.Status(status)
	e.PriorityTier = models.Tier(tier)
	if position != nil {
		e.CurrentPosition = *position
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastStatusChangeAt = e.LastStatusChangeAt.UTC()
	return e, nil
}

func nullablePosition(pos int) *int {
	if pos <= 0 {
		return nil
	}
	return &pos
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carequeue/backend/internal/models"
)

const (
	TypeRankingChanged = "ranking.changed"
	TypeStatusChanged  = "status.changed"

	defaultStreamMaxLen = 10000
)

type RankedTicket struct {
	TicketID             string      `json:"ticket_id"`
	Position             int         `json:"position"`
	EstimatedWaitMinutes int         `json:"estimated_wait_minutes"`
	PriorityScore        int         `json:"priority_score"`
	PriorityTier         models.Tier `json:"priority_tier"`
	Escalated            bool        `json:"escalated"`
}

// Event is the payload written to the partition stream and channel.
type Event struct {
	Type       string         `json:"type"`
	Hospital   string         `json:"hospital"`
	Department string         `json:"department"`
	At         time.Time      `json:"at"`
	Ranking    []RankedTicket `json:"ranking,omitempty"`
	TicketID   string         `json:"ticket_id,omitempty"`
	OldStatus  models.Status  `json:"old_status,omitempty"`
	NewStatus  models.Status  `json:"new_status,omitempty"`
}

func StreamKey(p models.Partition) string {
	return fmt.Sprintf("queue:%s:%s", p.Hospital, p.Department)
}

func ChannelKey(p models.Partition) string {
	return StreamKey(p) + ":updates"
}

// RedisPublisher appends every event to the partition's stream for replay
// and publishes it on the partition's channel for live listeners.
type RedisPublisher struct {
	Client redis.Cmdable
	MaxLen int64
}

func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{Client: client, MaxLen: defaultStreamMaxLen}
}

func (r *RedisPublisher) RankingChanged(ctx context.Context, p models.Partition, ranked []models.QueueEntry, at time.Time) error {
	ev := Event{
		Type:       TypeRankingChanged,
		Hospital:   p.Hospital,
		Department: p.Department,
		At:         at.UTC(),
		Ranking:    make([]RankedTicket, 0, len(ranked)),
	}
	for _, e := range ranked {
		ev.Ranking = append(ev.Ranking, RankedTicket{
			TicketID:             e.TicketID,
			Position:             e.CurrentPosition,
			EstimatedWaitMinutes: e.EstimatedWaitMinutes,
			PriorityScore:        e.PriorityScore,
			PriorityTier:         e.PriorityTier,
			Escalated:            e.Escalated,
		})
	}
	return r.publish(ctx, p, ev)
}

func (r *RedisPublisher) StatusChanged(ctx context.Context, e models.QueueEntry, old models.Status, at time.Time) error {
	return r.publish(ctx, e.Partition(), Event{
		Type:       TypeStatusChanged,
		Hospital:   e.Hospital,
		Department: e.Department,
		At:         at.UTC(),
		TicketID:   e.TicketID,
		OldStatus:  old,
		NewStatus:  e.Status,
	})
}

func (r *RedisPublisher) publish(ctx context.Context, p models.Partition, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.Client.XAdd(ctx, XAddArgs(p, ev.Type, payload, r.MaxLen)).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", StreamKey(p), err)
	}
	if err := r.Client.Publish(ctx, ChannelKey(p), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelKey(p), err)
	}
	return nil
}

// XAddArgs builds the stream append for one event. Values are a flat
// field/value list so the command is the same on every call.
func XAddArgs(p models.Partition, eventType string, payload []byte, maxLen int64) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: StreamKey(p),
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: []interface{}{"type", eventType, "payload", string(payload)},
	}
}

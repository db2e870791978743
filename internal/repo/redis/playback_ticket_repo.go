package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const ticketPrefix = "playback_ticket:"

// PlaybackTicketRepo stores the short-lived tickets issued after the
// playback gate allows a request. A ticket binds one user, course, and
// fingerprint for its TTL; the streaming edge validates it before
// serving segments.
type PlaybackTicketRepo struct {
	client *goredis.Client
}

type PlaybackTicketRecord struct {
	TicketID    string
	UserID      int64
	CourseID    int64
	Fingerprint string
	ExpiresAt   time.Time
}

func NewPlaybackTicketRepo(client *goredis.Client) *PlaybackTicketRepo {
	return &PlaybackTicketRepo{client: client}
}

func (r *PlaybackTicketRepo) Put(ctx context.Context, record PlaybackTicketRecord, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(record.TicketID) == "" || record.UserID <= 0 || record.CourseID <= 0 {
		return fmt.Errorf("invalid playback ticket payload")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid playback ticket ttl")
	}

	key := ticketKey(record.TicketID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     record.UserID,
		"course_id":   record.CourseID,
		"fingerprint": record.Fingerprint,
		"expires_at":  record.ExpiresAt.UTC().Unix(),
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store playback ticket: %w", err)
	}

	return nil
}

func (r *PlaybackTicketRepo) Get(ctx context.Context, ticketID string) (PlaybackTicketRecord, bool, error) {
	if r.client == nil {
		return PlaybackTicketRecord{}, false, fmt.Errorf("redis client is nil")
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return PlaybackTicketRecord{}, false, fmt.Errorf("invalid playback ticket id")
	}

	fields, err := r.client.HGetAll(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		return PlaybackTicketRecord{}, false, fmt.Errorf("load playback ticket: %w", err)
	}
	if len(fields) == 0 {
		return PlaybackTicketRecord{}, false, nil
	}

	record := PlaybackTicketRecord{
		TicketID:    ticketID,
		Fingerprint: fields["fingerprint"],
	}
	if record.UserID, err = strconv.ParseInt(fields["user_id"], 10, 64); err != nil {
		return PlaybackTicketRecord{}, false, fmt.Errorf("parse ticket user id: %w", err)
	}
	if record.CourseID, err = strconv.ParseInt(fields["course_id"], 10, 64); err != nil {
		return PlaybackTicketRecord{}, false, fmt.Errorf("parse ticket course id: %w", err)
	}
	if raw := fields["expires_at"]; raw != "" {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return PlaybackTicketRecord{}, false, fmt.Errorf("parse ticket expiry: %w", err)
		}
		record.ExpiresAt = time.Unix(unix, 0).UTC()
	}

	return record, true, nil
}

// Revoke removes a ticket before its TTL runs out, used when an
// enrollment is revoked mid-session.
func (r *PlaybackTicketRepo) Revoke(ctx context.Context, ticketID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return fmt.Errorf("invalid playback ticket id")
	}

	if err := r.client.Del(ctx, ticketKey(ticketID)).Err(); err != nil {
		return fmt.Errorf("revoke playback ticket: %w", err)
	}

	return nil
}

func ticketKey(ticketID string) string {
	return ticketPrefix + ticketID
}

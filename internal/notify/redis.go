package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenRedis connects and pings with a 5s budget.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Redis publishes each event on a channel for live subscribers and keeps
// the most recent ones in a capped list that acts as the admin inbox.
type Redis struct {
	Client    *redis.Client
	Channel   string
	Inbox     string
	InboxSize int
}

func (r Redis) Notify(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := r.Client.TxPipeline()
	if r.Channel != "" {
		pipe.Publish(ctx, r.Channel, data)
	}
	if r.Inbox != "" {
		pipe.LPush(ctx, r.Inbox, data)
		if r.InboxSize > 0 {
			pipe.LTrim(ctx, r.Inbox, 0, int64(r.InboxSize-1))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notify: %w", err)
	}
	return nil
}

// InboxEvents returns up to limit events, newest first.
func (r Redis) InboxEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = r.InboxSize
	}
	if limit <= 0 {
		limit = 50
	}
	raw, err := r.Client.LRange(ctx, r.Inbox, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var evt Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode inbox event: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}

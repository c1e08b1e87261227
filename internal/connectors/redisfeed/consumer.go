package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// ErrNoState is returned before the first snapshot was published.
var ErrNoState = errors.New("redisfeed: no state published")

// Event is one stream entry.
type Event struct {
	ID      string
	TopAgg  string
	Error   types.SwapsError
	Polling bool
	TsMs    int64
	State   types.State
}

type Consumer struct {
	rdb      *redis.Client
	stream   string
	stateKey string
	aggIndex string
}

func NewConsumer(cfg *config.Config) *Consumer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Consumer{
		rdb:      rdb,
		stream:   cfg.Redis.Stream,
		stateKey: cfg.Redis.StateKey,
		aggIndex: cfg.Redis.StateKey + ":aggs",
	}
}

func (c *Consumer) Close() error { return c.rdb.Close() }

// Latest reads the last published snapshot.
func (c *Consumer) Latest(ctx context.Context) (types.State, error) {
	raw, err := c.rdb.HGet(ctx, c.stateKey, FieldState).Result()
	if errors.Is(err, redis.Nil) {
		return types.State{}, ErrNoState
	}
	if err != nil {
		return types.State{}, fmt.Errorf("read state: %w", err)
	}
	var s types.State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return types.State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}

// RecentAggregators lists aggregators that quoted at or after sinceMs.
func (c *Consumer) RecentAggregators(ctx context.Context, sinceMs int64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, c.aggIndex, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
}

// Tail delivers stream entries after lastID ("$" for new ones only) until
// ctx is done.
func (c *Consumer) Tail(ctx context.Context, lastID string, out chan<- Event) error {
	for {
		streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, lastID},
			Count:   100,
			Block:   time.Second,
		}).Result()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			// пауза и повтор
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				lastID = m.ID
				ev, err := decodeEvent(m)
				if err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func decodeEvent(m redis.XMessage) (Event, error) {
	ev := Event{ID: m.ID}
	if v, ok := m.Values[FieldTopAgg].(string); ok {
		ev.TopAgg = v
	}
	if v, ok := m.Values[FieldError].(string); ok {
		ev.Error = types.SwapsError(v)
	}
	if v, ok := m.Values[FieldPolling].(string); ok {
		ev.Polling = v == "1" || v == "true"
	}
	if v, ok := m.Values[FieldTsMs].(string); ok {
		ev.TsMs, _ = strconv.ParseInt(v, 10, 64)
	}
	raw, ok := m.Values[FieldState].(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s has no state", m.ID)
	}
	if err := json.Unmarshal([]byte(raw), &ev.State); err != nil {
		return Event{}, fmt.Errorf("decode entry %s: %w", m.ID, err)
	}
	return ev, nil
}

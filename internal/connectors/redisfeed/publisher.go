// Package redisfeed mirrors controller snapshots into Redis: the latest state
// in a hash and every change as a stream entry.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// Hash fields of the latest-state key.
const (
	FieldState   = "state"
	FieldTopAgg  = "top_agg"
	FieldError   = "error"
	FieldPolling = "polling"
	FieldTsMs    = "ts_ms"
)

type Publisher struct {
	rdb      *redis.Client
	stream   string
	stateKey string
	aggIndex string
	maxLen   int64
	log      *zap.Logger
}

func NewPublisher(cfg *config.Config, log *zap.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Publisher{
		rdb:      rdb,
		stream:   cfg.Redis.Stream,
		stateKey: cfg.Redis.StateKey,
		aggIndex: cfg.Redis.StateKey + ":aggs",
		maxLen:   cfg.Redis.MaxLen,
		log:      log,
	}
}

func (p *Publisher) Close() error { return p.rdb.Close() }

// Publish stores s as the latest state and appends it to the stream.
// Aggregators that quoted are indexed by the fetch time.
func (p *Publisher) Publish(ctx context.Context, s types.State, tsMs int64) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	fields := map[string]interface{}{
		FieldState:   string(raw),
		FieldTopAgg:  s.TopAggID,
		FieldError:   string(s.ErrorKey),
		FieldPolling: s.IsInPolling,
		FieldTsMs:    tsMs,
	}

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, p.stateKey, fields)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	})
	if len(s.Quotes) > 0 && !s.QuotesLastFetched.IsZero() {
		score := float64(s.QuotesLastFetched.UnixMilli())
		zs := make([]redis.Z, 0, len(s.Quotes))
		for agg := range s.Quotes {
			zs = append(zs, redis.Z{Score: score, Member: agg})
		}
		pipe.ZAdd(ctx, p.aggIndex, zs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}

// Run publishes every snapshot from states until ctx is done or states is
// closed. Failures are logged and the next snapshot is tried.
func (p *Publisher) Run(ctx context.Context, states <-chan types.State, now func() int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := p.Publish(ctx, s, now()); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("redis feed publish failed", zap.Error(err))
			}
		}
	}
}

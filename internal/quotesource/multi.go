package quotesource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// Multi queries several sources in parallel and merges their quotes.
type Multi struct {
	sources []Source
	log     *zap.Logger
}

func NewMulti(sources []Source, log *zap.Logger) *Multi {
	return &Multi{sources: sources, log: log}
}

func (m *Multi) Name() string { return "multi" }

// FetchTrades merges results in source order; the first source to report an
// aggregator id keeps it. Failing sources are logged and skipped, and an
// error is returned only when every source failed.
func (m *Multi) FetchTrades(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
	switch len(m.sources) {
	case 0:
		return nil, errors.New("no quote sources configured")
	case 1:
		return m.sources[0].FetchTrades(ctx, p)
	}

	type result struct {
		quotes []types.Quote
		err    error
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]result, len(m.sources))
	)
	for i, src := range m.sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			q, err := src.FetchTrades(ctx, p)
			mu.Lock()
			results[i] = result{quotes: q, err: err}
			mu.Unlock()
			if err != nil {
				m.log.Warn("quote source failed", zap.String("source", src.Name()), zap.Error(err))
				return
			}
			m.log.Debug("quote source answered",
				zap.String("source", src.Name()),
				zap.Int("quotes", len(q)),
				zap.Duration("took", time.Since(start)))
		}()
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	var (
		out  []types.Quote
		seen = map[string]bool{}
		errs []error
	)
	for i, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.sources[i].Name(), r.err))
			continue
		}
		for _, q := range r.quotes {
			if seen[q.Aggregator] {
				continue
			}
			seen[q.Aggregator] = true
			out = append(out, q)
		}
	}
	if len(errs) == len(m.sources) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

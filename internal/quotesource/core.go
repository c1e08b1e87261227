// Package quotesource fans a quote request out to every configured backend.
package quotesource

import (
	"context"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

type SourceID string

// Source is one quote backend.
type Source interface {
	Name() string
	FetchTrades(ctx context.Context, p types.FetchParams) ([]types.Quote, error)
}

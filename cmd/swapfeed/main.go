// Command swapfeed prints what swapd publishes to Redis: the latest state,
// recently quoting aggregators and then every new snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/redisfeed"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

func main() {
	var cfgPath, from string
	var since time.Duration

	flag.StringVar(&cfgPath, "config", "./config.yaml", "путь к конфигу")
	flag.StringVar(&from, "from", "$", "stream id to read after ($ = only new entries, 0 = all)")
	flag.DurationVar(&since, "since", time.Hour, "окно для списка агрегаторов")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		fmt.Println("[sys] сигнал завершения, выходим…")
		cancel()
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if cfg.Redis.Addr == "" {
		fmt.Println("[redis] redis.addr не задан")
		os.Exit(2)
	}
	con := redisfeed.NewConsumer(cfg)
	defer con.Close()

	s, err := con.Latest(ctx)
	switch {
	case errors.Is(err, redisfeed.ErrNoState):
		fmt.Println("[state] состояние ещё не опубликовано")
	case err != nil:
		fmt.Printf("[redis] ошибка чтения состояния: %v\n", err)
		os.Exit(1)
	default:
		fmt.Println(describe(s))
		for _, line := range quoteLines(s) {
			fmt.Println(line)
		}
	}

	aggs, err := con.RecentAggregators(ctx, time.Now().Add(-since).UnixMilli())
	if err == nil && len(aggs) > 0 {
		sort.Strings(aggs)
		fmt.Printf("[aggs] за %s: %s\n", since, strings.Join(aggs, ", "))
	}

	events := make(chan redisfeed.Event, 64)
	go func() {
		if err := con.Tail(ctx, from, events); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("[redis] tail остановлен: %v\n", err)
		}
		close(events)
	}()
	for ev := range events {
		fmt.Printf("[%s] %s\n", ev.ID, describe(ev.State))
	}
}

func describe(s types.State) string {
	var b strings.Builder
	switch {
	case s.ErrorKey != "":
		fmt.Fprintf(&b, "stopped error=%s", s.ErrorKey)
	case s.IsInFetch:
		b.WriteString("fetching")
	case s.IsInPolling:
		b.WriteString("polling")
	default:
		b.WriteString("idle")
	}
	fmt.Fprintf(&b, " cycles_left=%d quotes=%d", s.PollingCyclesLeft, len(s.Quotes))
	if s.TopAggID != "" {
		fmt.Fprintf(&b, " top=%s", s.TopAggID)
	}
	if s.TopAggSavings != nil {
		fmt.Fprintf(&b, " savings_eth=%s", s.TopAggSavings.Total.StringFixed(6))
	}
	if n := len(s.BridgeStatus); n > 0 {
		fmt.Fprintf(&b, " bridge_open=%d", n)
	}
	return b.String()
}

// quoteLines renders one line per quote, best overall value first.
func quoteLines(s types.State) []string {
	aggs := make([]string, 0, len(s.QuoteValues))
	for agg := range s.QuoteValues {
		aggs = append(aggs, agg)
	}
	sort.Slice(aggs, func(i, j int) bool {
		return s.QuoteValues[aggs[i]].OverallValueOfQuote.GreaterThan(s.QuoteValues[aggs[j]].OverallValueOfQuote)
	})
	out := make([]string, 0, len(aggs))
	for _, agg := range aggs {
		v := s.QuoteValues[agg]
		out = append(out, fmt.Sprintf("[quote] %-12s overall=%s fee=%s",
			agg, v.OverallValueOfQuote.StringFixed(6), v.EthFee.StringFixed(6)))
	}
	return out
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/chain"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/apiclient"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/bridge"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/metaswap"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/redisfeed"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/dash"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/gas"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/metrics"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/quotesource"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/swaps"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

const bridgePollInterval = 30 * time.Second

type options struct {
	configPath   string
	src          common.Address
	dst          common.Address
	amount       decimal.Decimal
	wallet       common.Address
	slippage     decimal.Decimal
	gasPriceGwei string
	bridgeWallet string
	debug        bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("swapd", flag.ContinueOnError)
	var (
		o                                  options
		src, dst, amount, wallet, slippage string
	)
	fs.StringVar(&o.configPath, "config", "./config.yaml", "путь к конфигу")
	fs.StringVar(&src, "src", types.NativeToken.Hex(), "source token address (zero address = ETH)")
	fs.StringVar(&dst, "dst", "", "destination token address")
	fs.StringVar(&amount, "amount", "", "source amount in token units, e.g. 1.5")
	fs.StringVar(&wallet, "wallet", "", "wallet that would send the swap")
	fs.StringVar(&slippage, "slippage", "3", "max slippage, percent")
	fs.StringVar(&o.gasPriceGwei, "gas-price", "", "custom gas price in gwei")
	fs.StringVar(&o.bridgeWallet, "bridge-wallet", "", "track open bridge swaps of this wallet")
	fs.BoolVar(&o.debug, "debug", false, "debug logs")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	for name, v := range map[string]string{"src": src, "dst": dst, "wallet": wallet} {
		if !common.IsHexAddress(v) {
			return options{}, fmt.Errorf("-%s: %q is not an address", name, v)
		}
	}
	o.src, o.dst, o.wallet = common.HexToAddress(src), common.HexToAddress(dst), common.HexToAddress(wallet)
	if o.src == o.dst {
		return options{}, errors.New("-src and -dst are the same token")
	}

	var err error
	if o.amount, err = decimal.NewFromString(amount); err != nil || !o.amount.IsPositive() {
		return options{}, fmt.Errorf("-amount: %q is not a positive number", amount)
	}
	if o.slippage, err = decimal.NewFromString(slippage); err != nil || o.slippage.IsNegative() {
		return options{}, fmt.Errorf("-slippage: %q is not a valid percent", slippage)
	}
	return o, nil
}

// customGasPrice converts the -gas-price flag to wei; nil when unset.
func (o options) customGasPrice() (*decimal.Decimal, error) {
	if strings.TrimSpace(o.gasPriceGwei) == "" {
		return nil, nil
	}
	wei, err := units.GweiToWei(o.gasPriceGwei)
	if err != nil {
		return nil, fmt.Errorf("-gas-price: %w", err)
	}
	return &wei, nil
}

// newLogger writes JSON to stdout and, when lc.File is set, to a rotated file.
func newLogger(debug bool, lc config.LogCfg) (*zap.Logger, error) {
	level := func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		switch l {
		case zapcore.WarnLevel:
			enc.AppendString("warning")
		case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			enc.AppendString("fatality")
		default:
			enc.AppendString(l.String())
		}
	}
	ts := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	}

	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		lvl.SetLevel(zap.DebugLevel)
	}
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    level,
		EncodeTime:     ts,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	cfg := zap.Config{
		Level:            lvl,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil || lc.File == "" {
		return logger, err
	}

	// ротация файла логов
	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
	})
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(enc), file, lvl))
	})), nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(opts.debug, cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(opts, cfg, logger); err != nil {
		logger.Error("swapd остановлен с ошибкой", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(opts options, cfg *config.Config, logger *zap.Logger) error {
	custom, err := opts.customGasPrice()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			logger.Warn("получен сигнал, выходим…")
			cancel()
		case <-ctx.Done():
		}
	}()

	var healthy atomic.Bool
	metrics.Serve(ctx, cfg.Metrics.Addr, nil, healthy.Load, logger)

	rpc, closeRPC, err := chain.Dial(ctx, cfg.Chain.RPCHTTP, cfg.Chain.Multicall, logger)
	if err != nil {
		return err
	}
	defer closeRPC()

	api := apiclient.New(cfg.RequestTimeout(), cfg.RetryCount(), logger).
		WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst)
	ms := metaswap.NewClient(cfg, api, logger)

	reg := quotesource.NewRegistry()
	reg.Register(ms)
	sources := reg.Enabled(cfg.API.Sources)
	if len(sources) == 0 {
		return fmt.Errorf("no known quote source in %v", cfg.API.Sources)
	}

	deps := swaps.Deps{
		Quotes:    quotesource.NewMulti(sources, logger),
		Tokens:    ms,
		GasPrices: ms,
		Chain:     rpc,
		Gas:       gas.NewEstimator(rpc, cfg.Swaps.GasEstimateTimeout(), cfg.Swaps.MaxGasLimit, logger),
	}
	if cfg.API.BridgeURL != "" {
		deps.Bridge = bridge.NewClient(cfg, api, logger)
	}
	ctrl, err := swaps.New(cfg.Swaps, deps, logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	healthy.Store(true)
	defer healthy.Store(false)

	if cfg.Redis.Addr != "" {
		pub := redisfeed.NewPublisher(cfg, logger)
		defer pub.Close()
		states, unsubscribe := ctrl.Subscribe(16)
		defer unsubscribe()
		go pub.Run(ctx, states, func() int64 { return time.Now().UnixMilli() })
	}
	go dash.StartHTTP(ctx, ctrl, cfg.Dash.Addr, logger)

	if !ms.FeatureLive(ctx) {
		ctrl.Stop(types.ErrOfflineForMaintenance)
		return types.ErrOfflineForMaintenance
	}

	if err := ctrl.RefreshTokenCache(ctx); err != nil {
		logger.Warn("token list unavailable", zap.Error(err))
	}
	if aggs, err := ms.FetchAggregatorMetadata(ctx); err == nil {
		logger.Info("aggregators", zap.Int("count", len(aggs)))
	}
	if top, err := ms.FetchTopAssets(ctx); err == nil {
		logger.Debug("top assets", zap.Int("count", len(top)))
	}
	if deps.Bridge != nil {
		if err := ctrl.RefreshBridgeTokenCache(ctx); err != nil {
			logger.Warn("bridge token list unavailable", zap.Error(err))
		}
		if common.IsHexAddress(opts.bridgeWallet) {
			go trackBridgeSwaps(ctx, ctrl, opts.bridgeWallet, logger)
		}
	}

	params, meta, err := sessionParams(ctx, opts, ctrl, rpc, ms, logger)
	if err != nil {
		return err
	}

	// сессия закончилась, когда параметры сброшены с кодом ошибки
	states, unsubscribe := ctrl.Subscribe(4)
	defer unsubscribe()
	done := make(chan types.State, 1)
	go func() {
		for s := range states {
			if s.FetchParams == nil && s.ErrorKey != "" {
				done <- s
				return
			}
		}
	}()

	ctrl.Start(&params, &meta, custom)
	logger.Info("swapd запущен",
		zap.String("src", meta.SourceTokenInfo.Symbol),
		zap.String("dst", meta.DestinationTokenInfo.Symbol),
		zap.String("amount", opts.amount.String()),
		zap.Int("poll_limit", cfg.Swaps.PollCountLimit))

	select {
	case <-ctx.Done():
		return nil
	case s := <-done:
		if s.ErrorKey == types.ErrQuotesExpired {
			logger.Info("polling finished", zap.String("reason", string(s.ErrorKey)))
			return nil
		}
		return s.ErrorKey
	}
}

// sessionParams resolves token metadata and the conversion rate and builds
// the fetch params for the flags.
func sessionParams(ctx context.Context, opts options, ctrl *swaps.Controller, rpc *chain.Client,
	ms *metaswap.Client, logger *zap.Logger) (types.FetchParams, types.FetchParamsMetaData, error) {
	tokens := ctrl.State().Tokens
	resolve := func(addr common.Address) (types.Token, error) {
		if types.IsNative(addr) {
			return types.NativeTokenInfo, nil
		}
		for _, t := range tokens {
			if t.Address == addr {
				return t, nil
			}
		}
		dec, err := rpc.TokenDecimals(ctx, addr)
		if err != nil {
			return types.Token{}, fmt.Errorf("token %s: %w", addr.Hex(), err)
		}
		return types.Token{Address: addr, Decimals: dec}, nil
	}

	src, err := resolve(opts.src)
	if err != nil {
		return types.FetchParams{}, types.FetchParamsMetaData{}, err
	}
	dst, err := resolve(opts.dst)
	if err != nil {
		return types.FetchParams{}, types.FetchParamsMetaData{}, err
	}

	meta := types.FetchParamsMetaData{SourceTokenInfo: src, DestinationTokenInfo: dst}
	if !types.IsNative(dst.Address) {
		price, ok, err := ms.FetchTokenPrice(ctx, dst.Address)
		switch {
		case err != nil:
			logger.Warn("conversion rate unavailable", zap.Error(err))
		case ok:
			meta.DestinationTokenConversionRate = &price
		}
	}
	if types.IsNative(src.Address) {
		if bal, err := rpc.NativeBalance(ctx, opts.wallet); err == nil {
			meta.AccountBalance = bal.String()
		}
	}

	return types.FetchParams{
		Slippage:         opts.slippage,
		SourceToken:      src.Address,
		SourceAmount:     units.ToMinimalUnits(opts.amount, src.Decimals),
		DestinationToken: dst.Address,
		WalletAddress:    opts.wallet,
	}, meta, nil
}

// trackBridgeSwaps polls the open bridge swaps of wallet until they settle.
func trackBridgeSwaps(ctx context.Context, ctrl *swaps.Controller, wallet string, logger *zap.Logger) {
	found, err := ctrl.FindBridgeSwaps(ctx, types.BridgeFindParams{WalletAddress: wallet})
	if err != nil {
		logger.Warn("bridge history unavailable", zap.Error(err))
		return
	}
	open := map[string]bool{}
	for _, s := range found {
		if !s.Terminal() {
			open[s.ID] = true
		}
	}
	logger.Info("tracking bridge swaps", zap.Int("open", len(open)), zap.Int("total", len(found)))

	t := time.NewTicker(bridgePollInterval)
	defer t.Stop()
	for len(open) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for id := range open {
			s, err := ctrl.PollBridgeStatus(ctx, id)
			if err != nil {
				logger.Debug("bridge status", zap.String("id", id), zap.Error(err))
				continue
			}
			if s.Terminal() {
				delete(open, id)
			}
		}
	}
}

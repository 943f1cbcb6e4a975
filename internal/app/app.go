package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/alerts"
	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/feed"
	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/trade"
	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/ws"
	"github.com/darkweid/tg-trade-bot-websocket/internal/config"
	"github.com/darkweid/tg-trade-bot-websocket/internal/exec"
	"github.com/darkweid/tg-trade-bot-websocket/internal/journal"
	"github.com/darkweid/tg-trade-bot-websocket/internal/metrics"
	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"
	"github.com/darkweid/tg-trade-bot-websocket/internal/state"
	"github.com/darkweid/tg-trade-bot-websocket/internal/state/sqlite"
	"github.com/darkweid/tg-trade-bot-websocket/internal/trader"

	"go.uber.org/zap"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	cache    *quote.Cache
	feed     *feed.Feed
	gateway  *trade.Gateway
	executor *exec.Coordinator
	trader   *trader.Trader
	alerts   *alerts.Telegram
	prom     *metrics.Prometheus
	journal  *journal.Writer

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	apiKey := strings.TrimSpace(os.Getenv("API_KEY"))
	if apiKey == "" {
		return nil, errors.New("API_KEY is required")
	}
	apiSecret := strings.TrimSpace(os.Getenv("API_SECRET"))
	if apiSecret == "" {
		return nil, errors.New("API_SECRET is required")
	}
	if token := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	cache := quote.NewCache(log)
	publicWS := ws.New(cfg.Bybit.PublicWSURL, cfg.Bybit.ReconnectDelay, cfg.Bybit.PingInterval, log)
	marketFeed := feed.New(publicWS, cache, cfg.Strategy.Symbol, log)

	// The gateway pushes confirmations into the coordinator, and the
	// coordinator sends orders through the gateway. Late-bind the
	// coordinator side to break the construction cycle; the closure is
	// never invoked before Start.
	var coordinator *exec.Coordinator
	tradeWS := ws.New(cfg.Bybit.TradeWSURL, cfg.Bybit.ReconnectDelay, cfg.Bybit.PingInterval, log)
	gateway := trade.New(tradeWS, apiKey, apiSecret, cfg.Bybit.RecvWindow,
		func(conf exec.Confirmation) { coordinator.HandleConfirmation(conf) }, log)
	coordinator = exec.New(gateway, log)

	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	bot := trader.New(cfg.Strategy, cache, coordinator, alertsClient, log)

	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		bot.SetMetrics(prom.Metrics)
	}

	writer, err := journal.New(cfg.Journal, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bot.SetJournal(&tradeRecorder{store: store, writer: writer, log: log})

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		cache:    cache,
		feed:     marketFeed,
		gateway:  gateway,
		executor: coordinator,
		trader:   bot,
		alerts:   alertsClient,
		prom:     prom,
		journal:  writer,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.journal.Close()

	if err := a.gateway.Start(ctx); err != nil {
		return err
	}
	if err := a.feed.Start(ctx); err != nil {
		return err
	}
	a.journal.Start(ctx)
	if a.journal != nil {
		go a.journalQuotes(ctx)
	}
	if a.prom != nil {
		go a.serveMetrics(ctx)
	}
	a.startOperator(ctx)

	a.log.Info("trade bot running",
		zap.String("symbol", a.cfg.Strategy.Symbol),
		zap.Float64("quantity", a.cfg.Strategy.Quantity),
		zap.Float64("target_profit_percent", a.cfg.Strategy.TargetProfitPercent),
	)
	<-ctx.Done()
	return ctx.Err()
}

// journalQuotes mirrors every quote cache update into the journal. Runs
// only when the journal is enabled; lagging inserts drop ticks at the
// writer queue rather than backing up the feed.
func (a *App) journalQuotes(ctx context.Context) {
	for {
		q, err := a.cache.Await(ctx)
		if err != nil {
			return
		}
		a.journal.EnqueueQuote(journal.QuoteTick{
			Time:   q.Time,
			Symbol: a.cfg.Strategy.Symbol,
			Bid:    q.Bid,
			Ask:    q.Ask,
		})
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics server failed", zap.Error(err))
	}
}

// tradeRecorder fans a completed trade out to the TimescaleDB journal
// and to the sqlite last-trade snapshot. Either sink may be absent.
type tradeRecorder struct {
	store  state.Store
	writer *journal.Writer
	log    *zap.Logger
}

func (r *tradeRecorder) RecordTrade(closed trader.ClosedTrade) {
	r.writer.EnqueueTrade(journal.Trade{
		OpenedAt:      closed.OpenedAt,
		ClosedAt:      closed.ClosedAt,
		Symbol:        closed.Symbol,
		Quantity:      closed.Quantity,
		EntryPrice:    closed.EntryPrice,
		TargetPrice:   closed.TargetPrice,
		ExitPrice:     closed.ExitPrice,
		ProfitPercent: closed.ProfitPercent,
		OrderID:       closed.OrderID,
		CloseOrderID:  closed.CloseOrderID,
	})
	if r.store == nil {
		return
	}
	snapshot := state.TradeSnapshot{
		Symbol:        closed.Symbol,
		Quantity:      closed.Quantity,
		EntryPrice:    closed.EntryPrice,
		TargetPrice:   closed.TargetPrice,
		ExitPrice:     closed.ExitPrice,
		ProfitPercent: closed.ProfitPercent,
		OrderID:       closed.OrderID,
		CloseOrderID:  closed.CloseOrderID,
		OpenedAtMS:    closed.OpenedAt.UnixMilli(),
		ClosedAtMS:    closed.ClosedAt.UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := state.SaveTradeSnapshot(ctx, r.store, snapshot); err != nil && r.log != nil {
		r.log.Warn("trade snapshot save failed", zap.Error(err))
	}
}

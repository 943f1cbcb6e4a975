package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/config"
	"github.com/darkweid/tg-trade-bot-websocket/internal/exec"
	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"
	"github.com/darkweid/tg-trade-bot-websocket/internal/trader"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) hasAuditEntry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.data {
		if strings.HasPrefix(key, "ops:audit:") {
			return true
		}
	}
	return false
}

type stubQuotes struct {
	q  quote.Quote
	ok bool
}

func (s stubQuotes) Read() (quote.Quote, bool) {
	return s.q, s.ok
}

type stubExecutor struct {
	mu      sync.Mutex
	results []exec.Result
	calls   int
}

func (s *stubExecutor) Execute(ctx context.Context, side exec.Side, symbol string, quantity float64, timeout time.Duration) (exec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return exec.Result{Outcome: exec.OutcomeFilled, OrderID: "order-1"}, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

func newTestApp(store *memoryStore, quotes stubQuotes, executor *stubExecutor) *App {
	cfg := &config.Config{
		Strategy: config.StrategyConfig{
			Symbol:              "BTCUSDT",
			Quantity:            0.01,
			TargetProfitPercent: 1,
			OpenTimeout:         2 * time.Second,
			CloseTimeout:        10 * time.Second,
			PollInterval:        time.Hour,
		},
	}
	bot := trader.New(cfg.Strategy, quotes, executor, nil, zap.NewNop())
	return &App{
		cfg:    cfg,
		log:    zap.NewNop(),
		store:  store,
		trader: bot,
	}
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, ok := parseOperatorCommand("/status now")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "status" {
		t.Fatalf("expected status, got %s", cmd)
	}
	if cmd, ok := parseOperatorCommand("/trade@my_bot"); !ok || cmd != "trade" {
		t.Fatalf("expected trade from group form, got %q (ok=%v)", cmd, ok)
	}
	if _, ok := parseOperatorCommand("hello"); ok {
		t.Fatalf("plain text is not a command")
	}
	if _, ok := parseOperatorCommand("   "); ok {
		t.Fatalf("blank text is not a command")
	}
}

func TestOperatorTradeOpensPosition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &memoryStore{data: make(map[string]string)}
	executor := &stubExecutor{}
	app := newTestApp(store, stubQuotes{q: quote.Quote{Bid: 100, Ask: 101}, ok: true}, executor)

	resp := app.handleOperatorCommand(ctx, "trade", operatorMeta{UserID: 1, ChatID: 2, Raw: "/trade"})
	if !strings.Contains(resp, "Position opened") {
		t.Fatalf("unexpected trade response: %s", resp)
	}
	if !strings.Contains(resp, "Entry: 101") {
		t.Fatalf("expected entry price in response: %s", resp)
	}
	if !store.hasAuditEntry() {
		t.Fatalf("expected audit entry")
	}

	resp = app.handleOperatorCommand(ctx, "trade", operatorMeta{UserID: 1, ChatID: 2, Raw: "/trade"})
	if resp != "a position is already open" {
		t.Fatalf("unexpected second trade response: %s", resp)
	}
	if executor.calls != 1 {
		t.Fatalf("expected a single order, got %d", executor.calls)
	}
}

func TestOperatorTradeWithoutQuotes(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	app := newTestApp(store, stubQuotes{}, &stubExecutor{})

	resp := app.handleOperatorCommand(context.Background(), "trade", operatorMeta{Raw: "/trade"})
	if !strings.Contains(resp, "no market data") {
		t.Fatalf("unexpected response: %s", resp)
	}
}

func TestOperatorStatusAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &memoryStore{data: make(map[string]string)}
	executor := &stubExecutor{}
	app := newTestApp(store, stubQuotes{q: quote.Quote{Bid: 100, Ask: 101}, ok: true}, executor)

	resp := app.handleOperatorCommand(ctx, "status", operatorMeta{Raw: "/status"})
	if !strings.Contains(resp, "no open position") {
		t.Fatalf("unexpected idle status: %s", resp)
	}
	if resp := app.handleOperatorCommand(ctx, "close", operatorMeta{Raw: "/close"}); resp != "no open position" {
		t.Fatalf("unexpected close response: %s", resp)
	}

	if resp := app.handleOperatorCommand(ctx, "trade", operatorMeta{Raw: "/trade"}); !strings.Contains(resp, "Position opened") {
		t.Fatalf("unexpected trade response: %s", resp)
	}
	resp = app.handleOperatorCommand(ctx, "status", operatorMeta{Raw: "/status"})
	if !strings.Contains(resp, "pair: BTCUSDT") || !strings.Contains(resp, "profit:") {
		t.Fatalf("unexpected open status: %s", resp)
	}

	if resp := app.handleOperatorCommand(ctx, "close", operatorMeta{Raw: "/close"}); resp != "" {
		t.Fatalf("successful close should not reply separately, got: %s", resp)
	}
	resp = app.handleOperatorCommand(ctx, "status", operatorMeta{Raw: "/status"})
	if !strings.Contains(resp, "no open position") {
		t.Fatalf("expected idle after close: %s", resp)
	}
}

func TestOperatorHelpForUnknownCommand(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	app := newTestApp(store, stubQuotes{}, &stubExecutor{})
	resp := app.handleOperatorCommand(context.Background(), "bogus", operatorMeta{Raw: "/bogus"})
	if !strings.Contains(resp, "/trade") || !strings.Contains(resp, "/close") {
		t.Fatalf("expected help text, got: %s", resp)
	}
}

func TestOperatorOffsetRoundTrip(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	app := &App{store: store}
	ctx := context.Background()

	if got := app.loadOperatorOffset(ctx); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	app.saveOperatorOffset(ctx, 42)
	if got := app.loadOperatorOffset(ctx); got != 42 {
		t.Fatalf("expected offset 42, got %d", got)
	}
	store.data[operatorOffsetKey] = "not-a-number"
	if got := app.loadOperatorOffset(ctx); got != 0 {
		t.Fatalf("corrupt offset should reset to zero, got %d", got)
	}
}

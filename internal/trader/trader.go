package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/config"
	"github.com/darkweid/tg-trade-bot-websocket/internal/exec"
	"github.com/darkweid/tg-trade-bot-websocket/internal/metrics"
	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"

	"go.uber.org/zap"
)

var (
	ErrNoMarketData  = errors.New("no market data yet")
	ErrAlreadyActive = errors.New("a position is already active")
	ErrNoPosition    = errors.New("no open position")
)

// Position is a single open market exposure. At most one exists at a
// time; the Trader is its sole owner and writer.
type Position struct {
	OrderID     string
	Symbol      string
	Quantity    float64
	EntryPrice  float64
	TargetPrice float64
	OpenedAt    time.Time
}

// ClosedTrade is the history record emitted after a successful close.
type ClosedTrade struct {
	Symbol        string
	Quantity      float64
	EntryPrice    float64
	TargetPrice   float64
	ExitPrice     float64
	ProfitPercent float64
	OrderID       string
	CloseOrderID  string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

type Status struct {
	State         State
	Active        bool
	Symbol        string
	Quantity      float64
	EntryPrice    float64
	TargetPrice   float64
	CurrentBid    float64
	HasBid        bool
	ProfitPercent float64
}

type Executor interface {
	Execute(ctx context.Context, side exec.Side, symbol string, quantity float64, timeout time.Duration) (exec.Result, error)
}

type QuoteSource interface {
	Read() (quote.Quote, bool)
}

type Notifier interface {
	Send(ctx context.Context, text string) error
}

type Journal interface {
	RecordTrade(trade ClosedTrade)
}

// Trader drives the open -> monitor -> close lifecycle of the single
// position. All state mutation funnels through its guarded state machine.
type Trader struct {
	cfg      config.StrategyConfig
	quotes   QuoteSource
	executor Executor
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger

	machine *StateMachine
	journal Journal

	posMu    sync.RWMutex
	position *Position
}

func New(cfg config.StrategyConfig, quotes QuoteSource, executor Executor, notifier Notifier, log *zap.Logger) *Trader {
	return &Trader{
		cfg:      cfg,
		quotes:   quotes,
		executor: executor,
		notifier: notifier,
		metrics:  metrics.NewNoop(),
		log:      log,
		machine:  NewStateMachine(),
	}
}

func (t *Trader) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		t.metrics = m
	}
}

func (t *Trader) SetJournal(j Journal) {
	t.journal = j
}

// TargetPrice is the bid level at which a position entered at entryPrice
// becomes eligible to close for targetPercent profit. Computed once at
// position creation and never recomputed.
func TargetPrice(entryPrice, targetPercent float64) float64 {
	return entryPrice * (1 + targetPercent/100)
}

// ProfitPercent is the realized or unrealized return of entry vs exit.
func ProfitPercent(entryPrice, exitPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return (exitPrice/entryPrice - 1) * 100
}

// Open places a buy market order and, on fill, records the position and
// starts the monitoring loop. Valid only while no position is active.
// The entry reference is the ask observed before the order was sent, not
// the fill confirmation price.
func (t *Trader) Open(ctx context.Context) (Position, error) {
	if _, ok := t.machine.Apply(EventOpen); !ok {
		return Position{}, ErrAlreadyActive
	}
	q, ok := t.quotes.Read()
	if !ok || q.Ask <= 0 {
		t.machine.Apply(EventOpenFailed)
		return Position{}, ErrNoMarketData
	}

	t.metrics.OrdersPlaced.Inc()
	res, err := t.executor.Execute(ctx, exec.SideBuy, t.cfg.Symbol, t.cfg.Quantity, t.cfg.OpenTimeout)
	if err != nil {
		t.machine.Apply(EventOpenFailed)
		return Position{}, fmt.Errorf("open position: %w", err)
	}
	switch res.Outcome {
	case exec.OutcomeRejected:
		t.machine.Apply(EventOpenFailed)
		t.metrics.OrdersRejected.Inc()
		return Position{}, fmt.Errorf("%w: %s", exec.ErrGatewayRejected, res.Reason)
	case exec.OutcomeTimedOut:
		t.machine.Apply(EventOpenFailed)
		t.metrics.OrdersTimedOut.Inc()
		return Position{}, exec.ErrConfirmationTimeout
	}

	pos := Position{
		OrderID:     res.OrderID,
		Symbol:      t.cfg.Symbol,
		Quantity:    t.cfg.Quantity,
		EntryPrice:  q.Ask,
		TargetPrice: TargetPrice(q.Ask, t.cfg.TargetProfitPercent),
		OpenedAt:    time.Now().UTC(),
	}
	t.posMu.Lock()
	t.position = &pos
	t.posMu.Unlock()
	t.machine.Apply(EventOpened)
	t.metrics.PositionsOpened.Inc()
	t.log.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("order_id", pos.OrderID),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("target_price", pos.TargetPrice),
	)
	go t.monitor(ctx)
	return pos, nil
}

// Close places a sell market order for the open position. On fill the
// position is cleared and a notification is emitted; on failure the
// position stays open and the monitor loop re-attempts on the next tick.
func (t *Trader) Close(ctx context.Context) error {
	pos := t.Position()
	if pos == nil {
		return ErrNoPosition
	}
	if _, ok := t.machine.Apply(EventClose); !ok {
		return ErrNoPosition
	}
	// Exit reference is the bid observed before the close request.
	exitBid := 0.0
	if q, ok := t.quotes.Read(); ok {
		exitBid = q.Bid
	}

	t.metrics.OrdersPlaced.Inc()
	res, err := t.executor.Execute(ctx, exec.SideSell, pos.Symbol, pos.Quantity, t.cfg.CloseTimeout)
	if err != nil {
		t.machine.Apply(EventCloseFailed)
		t.metrics.CloseFailed.Inc()
		return fmt.Errorf("close position: %w", err)
	}
	switch res.Outcome {
	case exec.OutcomeRejected:
		t.machine.Apply(EventCloseFailed)
		t.metrics.OrdersRejected.Inc()
		t.metrics.CloseFailed.Inc()
		return fmt.Errorf("%w: %s", exec.ErrGatewayRejected, res.Reason)
	case exec.OutcomeTimedOut:
		t.machine.Apply(EventCloseFailed)
		t.metrics.OrdersTimedOut.Inc()
		t.metrics.CloseFailed.Inc()
		return exec.ErrConfirmationTimeout
	}

	profit := ProfitPercent(pos.EntryPrice, exitBid)
	closed := ClosedTrade{
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		TargetPrice:   pos.TargetPrice,
		ExitPrice:     exitBid,
		ProfitPercent: profit,
		OrderID:       pos.OrderID,
		CloseOrderID:  res.OrderID,
		OpenedAt:      pos.OpenedAt,
		ClosedAt:      time.Now().UTC(),
	}
	t.posMu.Lock()
	t.position = nil
	t.posMu.Unlock()
	t.machine.Apply(EventClosed)
	t.metrics.PositionsClosed.Inc()
	t.log.Info("position closed",
		zap.String("symbol", closed.Symbol),
		zap.Float64("exit_price", closed.ExitPrice),
		zap.Float64("profit_percent", closed.ProfitPercent),
	)
	if t.journal != nil {
		t.journal.RecordTrade(closed)
	}
	t.notify(ctx, fmt.Sprintf(
		"Position closed\nPair: %s\nProfit: %.2f%%\nEntry: %v\nTarget: %v\nExit: %v",
		closed.Symbol, closed.ProfitPercent, closed.EntryPrice, closed.TargetPrice, closed.ExitPrice,
	))
	return nil
}

// Status reports the current lifecycle state without mutating anything.
func (t *Trader) Status() Status {
	st := Status{State: t.machine.Current()}
	pos := t.Position()
	if pos == nil {
		return st
	}
	st.Active = true
	st.Symbol = pos.Symbol
	st.Quantity = pos.Quantity
	st.EntryPrice = pos.EntryPrice
	st.TargetPrice = pos.TargetPrice
	if q, ok := t.quotes.Read(); ok && q.Bid > 0 {
		st.CurrentBid = q.Bid
		st.HasBid = true
		st.ProfitPercent = ProfitPercent(pos.EntryPrice, q.Bid)
	}
	return st
}

// Position returns a copy of the active position, or nil.
func (t *Trader) Position() *Position {
	t.posMu.RLock()
	defer t.posMu.RUnlock()
	if t.position == nil {
		return nil
	}
	pos := *t.position
	return &pos
}

func (t *Trader) State() State {
	return t.machine.Current()
}

// monitor polls the quote cache while the position is open and triggers
// Close once the bid reaches the target. A missing quote or a failed
// close never terminates the loop; the condition is simply re-evaluated
// on the next tick.
func (t *Trader) monitor(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		switch t.machine.Current() {
		case StateIdle:
			return
		case StateOpen:
		default:
			continue
		}
		pos := t.Position()
		if pos == nil {
			return
		}
		q, ok := t.quotes.Read()
		if !ok || q.Bid <= 0 {
			t.log.Debug("no quote available for monitoring")
			continue
		}
		if q.Bid < pos.TargetPrice {
			continue
		}
		if err := t.Close(ctx); err != nil {
			if errors.Is(err, ErrNoPosition) {
				return
			}
			t.log.Warn("close failed, retrying on next tick", zap.Error(err))
		}
	}
}

func (t *Trader) notify(ctx context.Context, text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(ctx, text); err != nil {
		t.log.Warn("notification send failed", zap.Error(err))
	}
}

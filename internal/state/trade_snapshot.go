package state

import (
	"context"
	"encoding/json"
	"strings"
)

const LastTradeKey = "trades:last"

// TradeSnapshot is the history record of the most recently closed trade.
// It exists for operator inspection and audit, not for restoring state
// after a restart.
type TradeSnapshot struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	TargetPrice   float64 `json:"target_price"`
	ExitPrice     float64 `json:"exit_price"`
	ProfitPercent float64 `json:"profit_percent"`
	OrderID       string  `json:"order_id"`
	CloseOrderID  string  `json:"close_order_id"`
	OpenedAtMS    int64   `json:"opened_at_ms"`
	ClosedAtMS    int64   `json:"closed_at_ms"`
}

func LoadTradeSnapshot(ctx context.Context, store Store) (TradeSnapshot, bool, error) {
	if store == nil {
		return TradeSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, LastTradeKey)
	if err != nil {
		return TradeSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return TradeSnapshot{}, false, nil
	}
	var snapshot TradeSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return TradeSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveTradeSnapshot(ctx context.Context, store Store, snapshot TradeSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, LastTradeKey, string(payload))
}

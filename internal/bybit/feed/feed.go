package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/ws"
	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"

	"go.uber.org/zap"
)

// Feed subscribes to the public orderbook stream for one symbol and
// writes the best bid/ask of every push into the quote cache.
type Feed struct {
	ws     *ws.Client
	cache  *quote.Cache
	symbol string
	log    *zap.Logger
}

func New(wsClient *ws.Client, cache *quote.Cache, symbol string, log *zap.Logger) *Feed {
	return &Feed{
		ws:     wsClient,
		cache:  cache,
		symbol: symbol,
		log:    log,
	}
}

func (f *Feed) Start(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{
		"op":   "subscribe",
		"args": []string{"orderbook.50." + f.symbol},
	}
	if err := f.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		_ = f.ws.Run(ctx, f.handleMessage)
	}()
	return nil
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var push struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &push); err != nil {
		f.log.Debug("feed decode error", zap.Error(err))
		return
	}
	if !strings.HasPrefix(push.Topic, "orderbook.") {
		// Subscription acks and pongs arrive on the same stream.
		return
	}
	bid, ask, ok := bestBidAsk(push.Data.Bids, push.Data.Asks)
	if !ok {
		// Depth deltas can carry a single side; only a complete
		// top-of-book pair reaches the cache.
		f.log.Debug("incomplete orderbook push", zap.String("topic", push.Topic))
		return
	}
	f.cache.Update(bid, ask)
}

func bestBidAsk(bids, asks [][]string) (float64, float64, bool) {
	bid, ok := bestLevel(bids)
	if !ok {
		return 0, 0, false
	}
	ask, ok := bestLevel(asks)
	if !ok {
		return 0, 0, false
	}
	return bid, ask, true
}

func bestLevel(levels [][]string) (float64, bool) {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return 0, false
	}
	price, err := strconv.ParseFloat(levels[0][0], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

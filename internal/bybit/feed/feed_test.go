package feed

import (
	"encoding/json"
	"testing"

	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"

	"go.uber.org/zap"
)

func newTestFeed() (*Feed, *quote.Cache) {
	cache := quote.NewCache(zap.NewNop())
	return New(nil, cache, "BTCUSDT", zap.NewNop()), cache
}

func TestHandleOrderbookPush(t *testing.T) {
	feed, cache := newTestFeed()
	msg := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["100","1.5"],["99.5","2"]],"a":[["101","0.7"],["101.5","3"]]}}`
	feed.handleMessage(json.RawMessage(msg))

	q, ok := cache.Read()
	if !ok {
		t.Fatalf("expected cache to be set")
	}
	if q.Bid != 100 || q.Ask != 101 {
		t.Fatalf("expected best levels 100/101, got %v/%v", q.Bid, q.Ask)
	}
}

func TestHandleIncompletePush(t *testing.T) {
	feed, cache := newTestFeed()
	feed.handleMessage(json.RawMessage(`{"topic":"orderbook.50.BTCUSDT","data":{"s":"BTCUSDT","b":[["100","1.5"]],"a":[]}}`))
	if _, ok := cache.Read(); ok {
		t.Fatalf("one-sided push must not reach the cache")
	}

	// A later complete push must not be blocked by the discarded one.
	feed.handleMessage(json.RawMessage(`{"topic":"orderbook.50.BTCUSDT","data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","1"]]}}`))
	q, ok := cache.Read()
	if !ok || q.Bid != 100 || q.Ask != 101 {
		t.Fatalf("expected 100/101 after complete push, got %v/%v (set=%t)", q.Bid, q.Ask, ok)
	}
}

func TestHandleNonOrderbookMessages(t *testing.T) {
	feed, cache := newTestFeed()
	for _, msg := range []string{
		`{"success":true,"op":"subscribe","conn_id":"abc"}`,
		`{"op":"pong"}`,
		`not json`,
	} {
		feed.handleMessage(json.RawMessage(msg))
	}
	if _, ok := cache.Read(); ok {
		t.Fatalf("control messages must not touch the cache")
	}
}

func TestHandleMalformedPrice(t *testing.T) {
	feed, cache := newTestFeed()
	feed.handleMessage(json.RawMessage(`{"topic":"orderbook.50.BTCUSDT","data":{"b":[["abc","1"]],"a":[["101","1"]]}}`))
	if _, ok := cache.Read(); ok {
		t.Fatalf("unparsable price must be discarded")
	}
}

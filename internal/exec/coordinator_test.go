package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mockGateway struct {
	mu       sync.Mutex
	requests []Request
	respond  func(req Request)
	placeErr error
}

func (m *mockGateway) Place(ctx context.Context, req Request) error {
	_ = ctx
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	err := m.placeErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if respond != nil {
		go respond(req)
	}
	return nil
}

func (m *mockGateway) lastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}

func TestExecuteFilled(t *testing.T) {
	gateway := &mockGateway{}
	coord := New(gateway, zap.NewNop())
	gateway.respond = func(req Request) {
		coord.HandleConfirmation(Confirmation{RequestID: req.ID, OK: true, OrderID: "oid-1"})
	}

	res, err := coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0.01, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFilled {
		t.Fatalf("expected %s, got %s", OutcomeFilled, res.Outcome)
	}
	if res.OrderID != "oid-1" {
		t.Fatalf("expected order id oid-1, got %s", res.OrderID)
	}
	req := gateway.lastRequest()
	if req.Side != SideBuy || req.Symbol != "BTCUSDT" || req.Quantity != 0.01 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.ID == "" {
		t.Fatalf("expected a request id")
	}
}

func TestExecuteRejected(t *testing.T) {
	gateway := &mockGateway{}
	coord := New(gateway, zap.NewNop())
	gateway.respond = func(req Request) {
		coord.HandleConfirmation(Confirmation{RequestID: req.ID, OK: false, Reason: "insufficient balance"})
	}

	res, err := coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0.01, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("expected %s, got %s", OutcomeRejected, res.Outcome)
	}
	if res.Reason != "insufficient balance" {
		t.Fatalf("expected gateway reason, got %q", res.Reason)
	}
}

func TestExecuteTimeout(t *testing.T) {
	gateway := &mockGateway{}
	coord := New(gateway, zap.NewNop())

	res, err := coord.Execute(context.Background(), SideSell, "BTCUSDT", 0.01, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected %s, got %s", OutcomeTimedOut, res.Outcome)
	}
}

func TestExecutePlaceError(t *testing.T) {
	gateway := &mockGateway{placeErr: errors.New("ws closed")}
	coord := New(gateway, zap.NewNop())

	if _, err := coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0.01, time.Second); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestStaleConfirmationIgnored(t *testing.T) {
	gateway := &mockGateway{}
	coord := New(gateway, zap.NewNop())

	// First call times out; its confirmation arrives during the second call
	// and must not be mistaken for the second request's.
	res, err := coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0.01, 10*time.Millisecond)
	if err != nil || res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timeout, got %+v err=%v", res, err)
	}
	staleID := gateway.lastRequest().ID

	gateway.respond = func(req Request) {
		coord.HandleConfirmation(Confirmation{RequestID: staleID, OK: true, OrderID: "stale"})
		coord.HandleConfirmation(Confirmation{RequestID: req.ID, OK: true, OrderID: "fresh"})
	}
	res, err = coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0.01, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OrderID != "fresh" {
		t.Fatalf("expected fresh confirmation, got %q", res.OrderID)
	}
}

func TestExecuteInvalidQuantity(t *testing.T) {
	coord := New(&mockGateway{}, zap.NewNop())
	if _, err := coord.Execute(context.Background(), SideBuy, "BTCUSDT", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	gateway := &mockGateway{}
	coord := New(gateway, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coord.Execute(ctx, SideBuy, "BTCUSDT", 0.01, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

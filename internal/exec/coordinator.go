package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

type Outcome string

const (
	OutcomeFilled   Outcome = "FILLED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

var (
	ErrConfirmationTimeout = errors.New("order confirmation timed out")
	ErrGatewayRejected     = errors.New("order rejected by gateway")
)

// Request is a single market order, immutable once constructed. ID is
// unique per request and echoed back in the matching Confirmation.
type Request struct {
	ID       string
	Side     Side
	Symbol   string
	Quantity float64
}

// Confirmation is the gateway's asynchronous response to one Request.
type Confirmation struct {
	RequestID string
	OK        bool
	OrderID   string
	Reason    string
}

type Result struct {
	Outcome Outcome
	OrderID string
	Reason  string
}

type Gateway interface {
	Place(ctx context.Context, req Request) error
}

// Coordinator sends market orders through the gateway and blocks the
// caller until the matching confirmation arrives or the timeout elapses.
// Confirmations are correlated by request id, so a late response to a
// previous call can never satisfy the current one. Calls are serialized:
// at most one order is in flight at a time.
type Coordinator struct {
	gateway Gateway
	log     *zap.Logger

	mu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan Confirmation
}

func New(gateway Gateway, log *zap.Logger) *Coordinator {
	return &Coordinator{
		gateway: gateway,
		log:     log,
		pending: make(map[string]chan Confirmation),
	}
}

func (c *Coordinator) Execute(ctx context.Context, side Side, symbol string, quantity float64, timeout time.Duration) (Result, error) {
	if quantity <= 0 {
		return Result{}, errors.New("order quantity must be > 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	req := Request{
		ID:       uuid.NewString(),
		Side:     side,
		Symbol:   symbol,
		Quantity: quantity,
	}
	ch := c.register(req.ID)
	defer c.unregister(req.ID)

	if err := c.gateway.Place(ctx, req); err != nil {
		return Result{}, fmt.Errorf("place order: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case conf := <-ch:
		if !conf.OK {
			c.log.Warn("order rejected",
				zap.String("request_id", req.ID),
				zap.String("side", string(side)),
				zap.String("reason", conf.Reason),
			)
			return Result{Outcome: OutcomeRejected, OrderID: conf.OrderID, Reason: conf.Reason}, nil
		}
		return Result{Outcome: OutcomeFilled, OrderID: conf.OrderID}, nil
	case <-timer.C:
		// The wait is abandoned but the order is not cancelled: it may
		// still fill at the gateway with no local record. Known
		// limitation, surfaced to the caller as a distinct outcome.
		c.log.Warn("order confirmation timed out",
			zap.String("request_id", req.ID),
			zap.String("side", string(side)),
			zap.Duration("timeout", timeout),
		)
		return Result{Outcome: OutcomeTimedOut}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// HandleConfirmation routes a gateway response to the call waiting on it.
// Confirmations for unknown or already-finished requests are dropped.
func (c *Coordinator) HandleConfirmation(conf Confirmation) {
	c.pendMu.Lock()
	ch, ok := c.pending[conf.RequestID]
	c.pendMu.Unlock()
	if !ok {
		c.log.Debug("confirmation for unknown request", zap.String("request_id", conf.RequestID))
		return
	}
	select {
	case ch <- conf:
	default:
	}
}

func (c *Coordinator) register(id string) chan Confirmation {
	ch := make(chan Confirmation, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	return ch
}

func (c *Coordinator) unregister(id string) {
	c.pendMu.Lock()
	delete(c.pending, id)
	c.pendMu.Unlock()
}

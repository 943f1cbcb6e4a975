package trade

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/ws"
	"github.com/darkweid/tg-trade-bot-websocket/internal/exec"

	"go.uber.org/zap"
)

const authExpiryWindow = 10 * time.Second

type sender interface {
	Send(ctx context.Context, msg any) error
}

// Gateway places spot market orders over Bybit's private trade stream
// and routes order.create responses back to the coordinator by reqId.
type Gateway struct {
	ws         *ws.Client
	conn       sender
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	confirm    func(exec.Confirmation)
	log        *zap.Logger
	now        func() time.Time
}

func New(wsClient *ws.Client, apiKey, apiSecret string, recvWindow time.Duration, confirm func(exec.Confirmation), log *zap.Logger) *Gateway {
	g := newGateway(wsClient, apiKey, apiSecret, recvWindow, confirm, log)
	g.ws = wsClient
	wsClient.SetOnOpen(g.authenticate)
	return g
}

func newGateway(conn sender, apiKey, apiSecret string, recvWindow time.Duration, confirm func(exec.Confirmation), log *zap.Logger) *Gateway {
	return &Gateway{
		conn:       conn,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: recvWindow,
		confirm:    confirm,
		log:        log,
		now:        time.Now,
	}
}

// Start connects and launches the read loop. Authentication happens in
// the connection's on-open hook, so reconnects re-authenticate too.
func (g *Gateway) Start(ctx context.Context) error {
	if g.ws == nil {
		return errors.New("ws client is required")
	}
	if err := g.ws.Connect(ctx); err != nil {
		return err
	}
	go func() {
		_ = g.ws.Run(ctx, g.handleMessage)
	}()
	return nil
}

// Place sends exactly one order.create request. The confirmation arrives
// asynchronously through the read loop.
func (g *Gateway) Place(ctx context.Context, req exec.Request) error {
	if req.ID == "" {
		return errors.New("request id is required")
	}
	ts := g.now().UnixMilli()
	msg := map[string]any{
		"reqId": req.ID,
		"header": map[string]string{
			"X-BAPI-TIMESTAMP":   strconv.FormatInt(ts, 10),
			"X-BAPI-RECV-WINDOW": strconv.FormatInt(g.recvWindow.Milliseconds(), 10),
		},
		"op": "order.create",
		"args": []map[string]any{{
			"category":   "spot",
			"symbol":     req.Symbol,
			"side":       string(req.Side),
			"orderType":  "Market",
			"qty":        strconv.FormatFloat(req.Quantity, 'f', -1, 64),
			"marketUnit": "baseCoin",
		}},
	}
	return g.conn.Send(ctx, msg)
}

func (g *Gateway) authenticate(ctx context.Context) error {
	if g.apiKey == "" || g.apiSecret == "" {
		return errors.New("bybit api key and secret are required")
	}
	expires := g.now().Add(authExpiryWindow).UnixMilli()
	msg := map[string]any{
		"op":   "auth",
		"args": []any{g.apiKey, expires, signPayload(g.apiSecret, expires)},
	}
	return g.conn.Send(ctx, msg)
}

// signPayload produces the websocket auth signature:
// hex(HMAC-SHA256(secret, "GET/realtime" + expires)).
func signPayload(secret string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) handleMessage(msg json.RawMessage) {
	var resp struct {
		ReqID   string `json:"reqId"`
		Op      string `json:"op"`
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Data    struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		g.log.Debug("trade stream decode error", zap.Error(err))
		return
	}
	switch resp.Op {
	case "auth":
		if resp.RetCode != 0 {
			g.log.Error("trade stream auth failed", zap.Int("ret_code", resp.RetCode), zap.String("ret_msg", resp.RetMsg))
			return
		}
		g.log.Info("trade stream authenticated")
	case "order.create":
		if g.confirm == nil {
			return
		}
		g.confirm(exec.Confirmation{
			RequestID: resp.ReqID,
			OK:        resp.RetCode == 0,
			OrderID:   resp.Data.OrderID,
			Reason:    resp.RetMsg,
		})
	case "pong", "ping":
	default:
		g.log.Debug("unhandled trade stream message", zap.String("op", resp.Op))
	}
}

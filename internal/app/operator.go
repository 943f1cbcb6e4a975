package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/alerts"
	"github.com/darkweid/tg-trade-bot-websocket/internal/exec"
	"github.com/darkweid/tg-trade-bot-websocket/internal/trader"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID int64     `json:"update_id"`
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Command  string    `json:"command"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	ChatID   int64     `json:"chat_id"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.AllowedUsers))
	for _, id := range a.cfg.Telegram.AllowedUsers {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp := a.handleOperatorCommand(ctx, cmd, meta)
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Tolerate the "/cmd@botname" form used in group chats.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) string {
	switch cmd {
	case "start":
		return fmt.Sprintf("Trade bot for %s is running.\n%s", a.cfg.Strategy.Symbol, operatorHelpText())
	case "trade":
		return a.operatorTrade(ctx, meta)
	case "status":
		return a.operatorStatus()
	case "close":
		return a.operatorClose(ctx, meta)
	case "help":
		return operatorHelpText()
	default:
		return operatorHelpText()
	}
}

func (a *App) operatorTrade(ctx context.Context, meta operatorMeta) string {
	pos, err := a.trader.Open(ctx)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "trade",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		State:    string(a.trader.State()),
		Error:    errText(err),
	})
	if err != nil {
		switch {
		case errors.Is(err, trader.ErrAlreadyActive):
			return "a position is already open"
		case errors.Is(err, trader.ErrNoMarketData):
			return "no market data yet, try again shortly"
		case errors.Is(err, exec.ErrConfirmationTimeout):
			return "order sent but not confirmed in time; check the exchange before retrying"
		case errors.Is(err, exec.ErrGatewayRejected):
			return fmt.Sprintf("order rejected: %v", err)
		default:
			return fmt.Sprintf("failed to open position: %v", err)
		}
	}
	return fmt.Sprintf(
		"Position opened\nPair: %s\nQuantity: %v\nEntry: %v\nTarget: %v",
		pos.Symbol, pos.Quantity, pos.EntryPrice, pos.TargetPrice,
	)
}

func (a *App) operatorClose(ctx context.Context, meta operatorMeta) string {
	err := a.trader.Close(ctx)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "close",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		State:    string(a.trader.State()),
		Error:    errText(err),
	})
	if err != nil {
		switch {
		case errors.Is(err, trader.ErrNoPosition):
			return "no open position"
		case errors.Is(err, exec.ErrConfirmationTimeout):
			return "close order sent but not confirmed in time; the position is kept open"
		case errors.Is(err, exec.ErrGatewayRejected):
			return fmt.Sprintf("close rejected: %v", err)
		default:
			return fmt.Sprintf("failed to close position: %v", err)
		}
	}
	// The trader already sent the detailed close notification.
	return ""
}

func (a *App) operatorStatus() string {
	st := a.trader.Status()
	if !st.Active {
		return fmt.Sprintf("state: %s\nno open position", strings.ToLower(string(st.State)))
	}
	lines := []string{
		fmt.Sprintf("state: %s", strings.ToLower(string(st.State))),
		fmt.Sprintf("pair: %s", st.Symbol),
		fmt.Sprintf("quantity: %v", st.Quantity),
		fmt.Sprintf("entry: %v", st.EntryPrice),
		fmt.Sprintf("target: %v", st.TargetPrice),
	}
	if st.HasBid {
		lines = append(lines,
			fmt.Sprintf("bid: %v", st.CurrentBid),
			fmt.Sprintf("profit: %.2f%%", st.ProfitPercent),
		)
	} else {
		lines = append(lines, "bid: n/a")
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/trade - open a market buy position",
		"/status - current position and profit",
		"/close - close the open position now",
		"/help - this message",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

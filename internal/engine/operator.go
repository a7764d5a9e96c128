package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fry-engine/internal/alerts"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

// OperatorChannel is the chat surface operators use to inspect the engine and
// reset the breaker.
type OperatorChannel interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

func (m operatorMeta) actor() string {
	actor := "telegram:" + strconv.FormatInt(m.UserID, 10)
	if m.Username != "" {
		actor += ":" + m.Username
	}
	return actor
}

func (e *Engine) startOperator(ctx context.Context) {
	if e.operator == nil || !e.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(e.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		e.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := e.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(e.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range e.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go e.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (e *Engine) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := e.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := e.operator.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			e.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if e.operatorWarned {
			e.log.Info("telegram operator recovered")
			e.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				e.saveOperatorOffset(ctx, offset)
			}
			e.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (e *Engine) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
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
	cmd, args, ok := parseOperatorCommand(msg.Text)
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
	resp, err := e.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := e.operator.Send(ctx, resp); err != nil {
		e.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// group chats append the bot name: /status@fry_bot
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, fields[1:], true
}

func (e *Engine) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return e.operatorStatus(), nil
	case "reset":
		reason := strings.TrimSpace(strings.Join(args, " "))
		if reason == "" {
			return "", errors.New("reset requires a reason: /reset <reason>")
		}
		record, err := e.Reset(ctx, meta.actor(), reason)
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		e.auditLocked(ctx, auditRecord{
			Time:       e.now().UTC(),
			Action:     "operator_command",
			Actor:      record.Actor,
			Reason:     record.Reason,
			WasTripped: record.WasTripped,
			Command:    meta.Raw,
			UpdateID:   meta.UpdateID,
		})
		e.mu.Unlock()
		if !record.WasTripped {
			return "breaker was not tripped; window cleared", nil
		}
		return fmt.Sprintf("breaker reset (was %s)", record.PrevTrigger), nil
	case "securitize":
		results, err := e.SecuritizeCycle(ctx)
		if err != nil {
			return "", err
		}
		return describeCycle(results), nil
	case "events":
		n := 10
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return "", fmt.Errorf("invalid event count: %s", args[0])
			}
			n = parsed
		}
		return e.recentEvents(n), nil
	default:
		return operatorHelpText(), nil
	}
}

func (e *Engine) operatorStatus() string {
	st := e.Status()
	lines := []string{
		fmt.Sprintf("breaker: %s", st.Breaker.State),
	}
	if st.Breaker.Trigger != "" {
		lines = append(lines,
			fmt.Sprintf("trigger: %s", st.Breaker.Trigger),
			fmt.Sprintf("reason: %s", st.Breaker.Reason),
			fmt.Sprintf("tripped_at: %s", st.Breaker.TrippedAt.UTC().Format(time.RFC3339)),
		)
	}
	lines = append(lines,
		fmt.Sprintf("rate_per_min: %.2f (limit %.2f)", st.Breaker.RatePerMin, st.RateLimit),
		fmt.Sprintf("paradox_score: %.2f (drain %.4f, feedback %t)", st.Paradox.Score, st.Paradox.DrainFactor, st.Paradox.FeedbackActive),
		fmt.Sprintf("pool: %d events, %d assets", st.PoolSize, st.DistinctAssets),
		fmt.Sprintf("total_minted: %s", st.Ledger.TotalMinted.StringFixed(4)),
		fmt.Sprintf("total_swept_usd: %s", st.Ledger.TotalSweptUSD.StringFixed(2)),
		fmt.Sprintf("tranches: %d (%d sold, %d unsold)", st.Tranches, st.SoldTranches, st.ActiveTranches),
		fmt.Sprintf("buyer_capital_usd: %s", st.Buyers.CapitalUSD.StringFixed(2)),
		fmt.Sprintf("executed: %d blocked: %d failed: %d", st.Counts.Executed, st.Counts.Blocked, st.Counts.Failed),
	)
	return strings.Join(lines, "\n")
}

func (e *Engine) recentEvents(n int) string {
	events := e.Events()
	if len(events) == 0 {
		return "no events"
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("#%d %s %s", ev.Seq, ev.At.Format(time.RFC3339), ev.Kind))
	}
	return strings.Join(lines, "\n")
}

func describeCycle(results []CycleResult) string {
	if len(results) == 0 {
		return "no tranche could be formed"
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		line := fmt.Sprintf("%s %s value=%s", r.Rating, r.Tranche.ID, r.Tranche.TotalValueUSD.StringFixed(2))
		if r.Match != nil {
			line += " sold to " + r.Match.BuyerID
		} else {
			line += " unsold"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - breaker, ledger and tranche summary",
		"/reset <reason> - reset a tripped circuit breaker",
		"/securitize - run one securitization cycle now",
		"/events [n] - last n engine events (default 10)",
	}, "\n")
}

func (e *Engine) logOperatorError(err error) {
	if e.operatorWarned {
		return
	}
	e.operatorWarned = true
	e.log.Warn("telegram operator failed", zap.Error(err))
}

func (e *Engine) loadOperatorOffset(ctx context.Context) int64 {
	if e.store == nil {
		return 0
	}
	raw, ok, err := e.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (e *Engine) saveOperatorOffset(ctx context.Context, offset int64) {
	if e.store == nil {
		return
	}
	_ = e.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

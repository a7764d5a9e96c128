package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"fry-engine/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const telegramBaseURL = "https://api.telegram.org"

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
	limiter *rate.Limiter
	dropped atomic.Int64
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if cfg.AlertsPerMinute > 0 {
		limit = rate.Limit(cfg.AlertsPerMinute / 60)
		burst = max(1, int(cfg.AlertsPerMinute/4))
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

// Notify sends an alert unless the per-minute budget is spent, in which case
// the alert is dropped and counted.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if !t.limiter.Allow() {
		n := t.dropped.Add(1)
		t.log.Debug("telegram alert rate limited", zap.Int64("dropped", n))
		return nil
	}
	return t.Send(ctx, message)
}

func (t *Telegram) Dropped() int64 {
	return t.dropped.Load()
}

// Send delivers message immediately. Operator replies use it directly.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	var ignored json.RawMessage
	return t.do(req, &ignored)
}

// GetUpdates long-polls for operator messages starting at offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.Enabled() {
		return nil, errors.New("telegram disabled")
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(wait/time.Second)))
	q.Set("allowed_updates", `["message"]`)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := t.do(req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func (t *Telegram) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram request failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.OK {
		desc := strings.TrimSpace(result.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram request failed: %s", desc)
	}
	if len(result.Result) == 0 {
		return nil
	}
	return json.Unmarshal(result.Result, out)
}

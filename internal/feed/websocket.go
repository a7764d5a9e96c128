package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fry-engine/internal/config"

	"go.uber.org/zap"
)

const maxPending = 4096

type message struct {
	Channel     string       `json:"channel"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Liquidation *Liquidation `json:"liquidation,omitempty"`
}

// Websocket buffers pushed market data until the engine scans. Messages on
// unknown channels are ignored; when the buffer is full the oldest entries
// are dropped.
type Websocket struct {
	client *wsClient
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending Batch
	dropped int
}

func NewWebsocket(cfg config.FeedConfig, log *zap.Logger) *Websocket {
	if log == nil {
		log = zap.NewNop()
	}
	client := newWSClient(cfg.URL, cfg.ReconnectDelay, cfg.PingInterval, log)
	client.subscribe(map[string]any{"method": "subscribe", "channels": []string{"opportunities", "liquidations"}, "assets": cfg.Assets})
	return &Websocket{client: client, log: log, now: time.Now}
}

// Run blocks until ctx is cancelled, reconnecting as needed.
func (w *Websocket) Run(ctx context.Context) error {
	return w.client.run(ctx, w.handle)
}

func (w *Websocket) Scan(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = Batch{}
	if w.dropped > 0 {
		w.log.Warn("feed buffer overflowed", zap.Int("dropped", w.dropped))
		w.dropped = 0
	}
	return out, nil
}

func (w *Websocket) handle(raw json.RawMessage) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.log.Debug("feed message ignored", zap.Error(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch msg.Channel {
	case "opportunities":
		if msg.Opportunity == nil || msg.Opportunity.Asset == "" {
			return
		}
		opp := *msg.Opportunity
		if opp.ObservedAt.IsZero() {
			opp.ObservedAt = w.now()
		}
		if opp.Profile.Asset == "" {
			opp.Profile.Asset = opp.Asset
		}
		w.pending.Opportunities = append(w.pending.Opportunities, opp)
		if n := len(w.pending.Opportunities); n > maxPending {
			w.pending.Opportunities = w.pending.Opportunities[n-maxPending:]
			w.dropped++
		}
	case "liquidations":
		if msg.Liquidation == nil || msg.Liquidation.Asset == "" {
			return
		}
		liq := *msg.Liquidation
		if liq.ObservedAt.IsZero() {
			liq.ObservedAt = w.now()
		}
		w.pending.Liquidations = append(w.pending.Liquidations, liq)
		if n := len(w.pending.Liquidations); n > maxPending {
			w.pending.Liquidations = w.pending.Liquidations[n-maxPending:]
			w.dropped++
		}
	}
}

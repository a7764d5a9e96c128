package state

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fry-engine/internal/breaker"
	"fry-engine/internal/buyers"
	"fry-engine/internal/ledger"
	"fry-engine/internal/securitize"

	"lukechampine.com/blake3"
)

const (
	EngineSnapshotKey     = "engine:last_snapshot"
	engineSnapshotVersion = 1
)

var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

type EngineSnapshot struct {
	Ledger    ledger.Snapshot      `json:"ledger"`
	Tranches  []securitize.Tranche `json:"tranches"`
	Buyers    []buyers.Profile     `json:"buyers"`
	Breaker   breaker.Status       `json:"breaker"`
	EventSeq  int64                `json:"event_seq"`
	SavedAtMS int64                `json:"saved_at_ms"`
}

type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

func Checksum(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func MarshalEngineSnapshot(snapshot EngineSnapshot) ([]byte, error) {
	if snapshot.SavedAtMS == 0 {
		snapshot.SavedAtMS = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Version:  engineSnapshotVersion,
		Checksum: Checksum(payload),
		Payload:  payload,
	})
}

func UnmarshalEngineSnapshot(raw []byte) (EngineSnapshot, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return EngineSnapshot{}, err
	}
	if env.Version != engineSnapshotVersion {
		return EngineSnapshot{}, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	if got := Checksum(env.Payload); got != env.Checksum {
		return EngineSnapshot{}, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, env.Checksum, got)
	}
	var snapshot EngineSnapshot
	if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
		return EngineSnapshot{}, err
	}
	return snapshot, nil
}

func LoadEngineSnapshot(ctx context.Context, store Store) (EngineSnapshot, bool, error) {
	if store == nil {
		return EngineSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, EngineSnapshotKey)
	if err != nil {
		return EngineSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return EngineSnapshot{}, false, nil
	}
	snapshot, err := UnmarshalEngineSnapshot([]byte(raw))
	if err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveEngineSnapshot(ctx context.Context, store Store, snapshot EngineSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := MarshalEngineSnapshot(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, EngineSnapshotKey, string(payload))
}

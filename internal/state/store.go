package state

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// JournalEntry is one row of the append-only engine event journal. Payload is
// msgpack encoded.
type JournalEntry struct {
	Seq     int64
	Kind    string
	At      time.Time
	Payload []byte
}

type Journal interface {
	AppendJournal(ctx context.Context, entry JournalEntry) error
	ReadJournal(ctx context.Context, afterSeq int64, limit int) ([]JournalEntry, error)
}

package state

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func AppendJournal(ctx context.Context, journal Journal, seq int64, kind string, at time.Time, v any) error {
	if journal == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return journal.AppendJournal(ctx, JournalEntry{Seq: seq, Kind: kind, At: at.UTC(), Payload: payload})
}

func DecodeJournal(entry JournalEntry, v any) error {
	return msgpack.Unmarshal(entry.Payload, v)
}

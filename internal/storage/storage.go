package storage

import (
	"context"

	"burnScope/internal/model"
)

// RecordOutcome names the result of an idempotent insert. A pre-existing key is
// a normal outcome under at-least-once delivery, not an error.
type RecordOutcome int

const (
	Inserted RecordOutcome = iota
	AlreadyPresent
)

func (o RecordOutcome) String() string {
	if o == AlreadyPresent {
		return "already_present"
	}
	return "inserted"
}

// EventSink persists burn records keyed by (tx_hash, log_index).
// Implementations must absorb duplicate keys and report AlreadyPresent;
// genuine storage failures remain errors.
type EventSink interface {
	RecordIfAbsent(ctx context.Context, rec model.BurnRecord) (RecordOutcome, error)
}

// CheckpointStore is the durable last-fully-processed height per watched token.
// SetCheckpoint must be monotonic: a lower height never overwrites a higher one.
type CheckpointStore interface {
	Checkpoint(ctx context.Context, token string) (uint64, bool, error)
	SetCheckpoint(ctx context.Context, token string, height uint64) error
}

// Store combines the sink and checkpoint capabilities of one backend.
type Store interface {
	EventSink
	CheckpointStore
}

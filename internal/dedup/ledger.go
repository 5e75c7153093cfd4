// Package dedup records which messages have already had their effects applied.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/stockledger/internal/events"
)

// UnknownTopic stands in for a missing topic on business-id markers.
const UnknownTopic = "unknown"

// ErrDuplicateMarker is returned by a MarkerStore when the key already exists.
var ErrDuplicateMarker = errors.New("processed marker already exists")

// Key identifies one processed message. Coordinate keys leave EventID empty;
// business-id keys carry the id verbatim with a zero partition and offset.
type Key struct {
	Topic     string
	Partition int32
	Offset    int64
	EventID   string
}

func (k Key) String() string {
	if k.EventID != "" {
		return fmt.Sprintf("%s/event:%s", k.Topic, k.EventID)
	}
	return fmt.Sprintf("%s/%d/%d", k.Topic, k.Partition, k.Offset)
}

// MarkerStore persists processed markers. Insert must return ErrDuplicateMarker
// (or a wrapped uniqueness violation) when the key is already present.
type MarkerStore interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Insert(ctx context.Context, key Key, at time.Time) error
}

// Ledger is the single source of truth for "have I applied this message".
type Ledger struct {
	store MarkerStore
	now   func() time.Time
}

// NewLedger builds a ledger on top of the given marker store.
func NewLedger(store MarkerStore) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("marker store is required")
	}
	return &Ledger{store: store, now: time.Now}, nil
}

// KeyFor derives the marker key for an event. ok is false when the message
// carries no coordinates at all and therefore cannot be deduplicated.
func KeyFor(eventID *string, coords events.Coordinates) (Key, bool) {
	if coords.Absent() {
		return Key{}, false
	}
	if events.HasText(eventID) {
		topic := events.Deref(coords.Topic)
		if topic == "" {
			topic = UnknownTopic
		}
		return Key{Topic: topic, EventID: *eventID}, true
	}
	return Key{
		Topic:     events.Deref(coords.Topic),
		Partition: events.Deref(coords.Partition),
		Offset:    events.Deref(coords.Offset),
	}, true
}

// MarkProcessed returns true when the caller is the first to see the message
// and must apply its effects, false when it is a duplicate. Messages without
// any coordinates are always reported as new and nothing is stored.
//
// The existence check is a fast path; the store's uniqueness guarantee decides
// races, and a lost race is reported as a duplicate rather than an error.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID *string, coords events.Coordinates) (bool, error) {
	key, ok := KeyFor(eventID, coords)
	if !ok {
		return true, nil
	}

	exists, err := l.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check processed marker %s: %w", key, err)
	}
	if exists {
		return false, nil
	}

	if err := l.store.Insert(ctx, key, l.now().UTC()); err != nil {
		if errors.Is(err, ErrDuplicateMarker) {
			return false, nil
		}
		return false, fmt.Errorf("insert processed marker %s: %w", key, err)
	}
	return true, nil
}

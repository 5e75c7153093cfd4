// Package envelope is the wire format stock events travel in.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
)

// CurrentVersion is the payload version Encode emits.
const CurrentVersion = 1

// Envelope is the stable JSON structure published on every transport.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId,omitempty"`
	EventType  enums.EventType `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Parse reads an envelope from raw message bytes.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, pkgerrors.Wrap(pkgerrors.CodeDecode, err, "invalid envelope")
	}
	if !env.EventType.IsValid() {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeDecode, fmt.Sprintf("unknown event type %q", env.EventType))
	}
	if env.Version == 0 {
		env.Version = CurrentVersion
	}
	return env, nil
}

// Encode wraps event in a current-version envelope. A non-empty eventID is
// copied into the payload when the event does not carry one already.
func Encode(event events.Event, eventID string, occurredAt time.Time) ([]byte, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if eventID == "" {
		eventID = events.Deref(event.ID())
	}
	data, err := json.Marshal(withEventID(event, eventID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal event payload")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return json.Marshal(Envelope{
		Version:    CurrentVersion,
		EventID:    eventID,
		EventType:  event.Type(),
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	})
}

func withEventID(event events.Event, eventID string) events.Event {
	if eventID == "" || events.HasText(event.ID()) {
		return event
	}
	id := events.Ptr(eventID)
	switch e := event.(type) {
	case events.ProductEvent:
		e.EventID = id
		return e
	case events.StoreEvent:
		e.EventID = id
		return e
	case events.SalesEvent:
		e.EventID = id
		return e
	case events.StockAdjustmentEvent:
		e.EventID = id
		return e
	}
	return event
}

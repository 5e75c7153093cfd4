package envelope

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
)

// DecoderFunc turns an envelope payload into an event variant.
type DecoderFunc func(payload json.RawMessage) (events.Event, error)

type registryKey struct {
	eventType enums.EventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// NewDefaultRegistry registers v1 decoders for every event type.
func NewDefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.EventTypeProduct, 1, jsonDecoder[events.ProductEvent]())
	r.Register(enums.EventTypeStore, 1, jsonDecoder[events.StoreEvent]())
	r.Register(enums.EventTypeSales, 1, jsonDecoder[events.SalesEvent]())
	r.Register(enums.EventTypeStockAdjustment, 1, jsonDecoder[events.StockAdjustmentEvent]())
	return r
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.EventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the envelope's type and version. The
// envelope's eventId fills in a payload that carries none.
func (r *DecoderRegistry) Decode(env Envelope) (events.Event, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: env.EventType, version: env.Version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDecode, fmt.Sprintf("decoder not registered for %s@v%d", env.EventType, env.Version))
	}
	event, err := decoder(env.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDecode, err, fmt.Sprintf("decode %s@v%d", env.EventType, env.Version))
	}
	return withEventID(event, env.EventID), nil
}

// DecodeBytes parses raw bytes and decodes the payload in one step.
func (r *DecoderRegistry) DecodeBytes(raw []byte) (Envelope, events.Event, error) {
	env, err := Parse(raw)
	if err != nil {
		return Envelope{}, nil, err
	}
	event, err := r.Decode(env)
	if err != nil {
		return env, nil, err
	}
	return env, event, nil
}

func jsonDecoder[T events.Event]() DecoderFunc {
	return func(payload json.RawMessage) (events.Event, error) {
		var out T
		if len(payload) == 0 || string(payload) == "null" {
			return nil, fmt.Errorf("empty payload")
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

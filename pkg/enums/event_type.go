package enums

import "fmt"

// EventType identifies the category of an inbound stock event.
type EventType string

const (
	EventTypeProduct         EventType = "product"
	EventTypeStore           EventType = "store"
	EventTypeSales           EventType = "sales"
	EventTypeStockAdjustment EventType = "stock_adjustment"
)

var validEventTypes = []EventType{
	EventTypeProduct,
	EventTypeStore,
	EventTypeSales,
	EventTypeStockAdjustment,
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known EventType.
func (t EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

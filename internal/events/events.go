// Package events defines the closed set of inbound stock events and the
// transport coordinates that accompany them.
package events

import (
	"strings"
	"time"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// Event is implemented only by the four variants in this package, so a type
// switch over them is exhaustive.
type Event interface {
	Type() enums.EventType
	ID() *string
	isEvent()
}

// ProductEvent creates or updates a catalog product.
type ProductEvent struct {
	EventID *string `json:"eventId"`
	SKU     *string `json:"sku"`
	Name    string  `json:"name,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

// StoreEvent creates or updates a store.
type StoreEvent struct {
	EventID   *string `json:"eventId"`
	StoreCode *string `json:"storeCode"`
	Name      string  `json:"name,omitempty"`
}

// SalesItem is one line of a sale.
type SalesItem struct {
	SKU      *string `json:"sku"`
	Quantity *int32  `json:"quantity"`
}

// SalesEvent consumes stock for every valid item of a sale.
type SalesEvent struct {
	EventID   *string      `json:"eventId"`
	StoreCode *string      `json:"storeCode"`
	Items     []*SalesItem `json:"items"`
}

// StockAdjustmentEvent is a manual signed correction of a stock line.
type StockAdjustmentEvent struct {
	EventID   *string    `json:"eventId"`
	StoreCode *string    `json:"storeCode"`
	SKU       *string    `json:"sku"`
	Delta     int32      `json:"delta"`
	Reason    string     `json:"reason"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (ProductEvent) Type() enums.EventType         { return enums.EventTypeProduct }
func (StoreEvent) Type() enums.EventType           { return enums.EventTypeStore }
func (SalesEvent) Type() enums.EventType           { return enums.EventTypeSales }
func (StockAdjustmentEvent) Type() enums.EventType { return enums.EventTypeStockAdjustment }

func (e ProductEvent) ID() *string         { return e.EventID }
func (e StoreEvent) ID() *string           { return e.EventID }
func (e SalesEvent) ID() *string           { return e.EventID }
func (e StockAdjustmentEvent) ID() *string { return e.EventID }

func (ProductEvent) isEvent()         {}
func (StoreEvent) isEvent()           {}
func (SalesEvent) isEvent()           {}
func (StockAdjustmentEvent) isEvent() {}

// Coordinates locate a message in its transport. Any of them may be absent:
// Pub/Sub deliveries carry only a topic, replays may carry nothing.
type Coordinates struct {
	Topic     *string
	Partition *int32
	Offset    *int64
}

// At builds fully populated coordinates.
func At(topic string, partition int32, offset int64) Coordinates {
	return Coordinates{Topic: &topic, Partition: &partition, Offset: &offset}
}

// Absent reports whether no coordinate was supplied at all.
func (c Coordinates) Absent() bool {
	return c.Topic == nil && c.Partition == nil && c.Offset == nil
}

// Deref returns a pointer's value or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// HasText reports whether s is present and not blank.
func HasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

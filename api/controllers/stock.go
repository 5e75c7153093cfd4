package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger/api/responses"
	"github.com/angelmondragon/stockledger/api/validators"
	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/internal/stock"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/envelope"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/pagination"
)

const (
	maxCodeLength   = 64
	maxReasonLength = 256
)

// StockReader serves the read side of the stock ledger.
type StockReader interface {
	Quantity(ctx context.Context, storeCode, sku string) (int32, error)
	ListAdjustments(ctx context.Context, filter stock.AdjustmentFilter) ([]models.StockAdjustment, error)
}

// StoreLookup reports whether a store is known to the catalog.
type StoreLookup interface {
	StoreExists(ctx context.Context, storeCode string) (bool, error)
}

// EventPublisher hands an encoded envelope to the event transport.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type stockLineResponse struct {
	StoreCode string `json:"store_code"`
	SKU       string `json:"sku"`
	Quantity  int32  `json:"quantity"`
}

type adjustmentResponse struct {
	ID         string    `json:"id"`
	StoreCode  string    `json:"store_code"`
	SKU        string    `json:"sku"`
	Delta      int32     `json:"delta"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

type adjustmentListResponse struct {
	Items      []adjustmentResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// StockLine returns the on-hand quantity for a store/SKU pair. Unknown stores
// are 404; a known store without a line reports zero.
func StockLine(reader StockReader, stores StoreLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeCode, err := validators.PathParam(r, "storeCode", maxCodeLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sku, err := validators.PathParam(r, "sku", maxCodeLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithStoreCode(ctx, storeCode)
		}

		if err := requireStore(ctx, stores, storeCode); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		qty, err := reader.Quantity(ctx, storeCode, sku)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock line"))
			return
		}

		responses.WriteSuccess(w, stockLineResponse{StoreCode: storeCode, SKU: sku, Quantity: qty})
	}
}

// ListAdjustments returns the newest audit entries for a store, optionally
// narrowed to one SKU. next_cursor is set when another page exists.
func ListAdjustments(reader StockReader, stores StoreLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeCode, err := validators.PathParam(r, "storeCode", maxCodeLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		after, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").
				WithDetails(map[string]string{"cursor": "is malformed"}))
			return
		}
		sku, err := validators.QueryParam(r, "sku", maxCodeLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := requireStore(ctx, stores, storeCode); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := reader.ListAdjustments(ctx, stock.AdjustmentFilter{
			StoreCode: storeCode,
			SKU:       sku,
			Limit:     pagination.LimitWithBuffer(limit),
			After:     after,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list adjustments"))
			return
		}
		rows, more := pagination.Trim(rows, limit)

		items := make([]adjustmentResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, adjustmentResponse{
				ID:         row.ID.String(),
				StoreCode:  row.StoreCode,
				SKU:        row.SKU,
				Delta:      row.Delta,
				Reason:     row.Reason,
				OccurredAt: row.OccurredAt,
				RecordedAt: row.CreatedAt,
			})
		}
		resp := adjustmentListResponse{Items: items}
		if more {
			last := rows[len(rows)-1]
			resp.NextCursor = pagination.EncodeCursor(pagination.Cursor{At: last.OccurredAt, ID: last.ID})
		}
		responses.WriteSuccess(w, resp)
	}
}

type submitAdjustmentRequest struct {
	EventID    string     `json:"event_id" validate:"omitempty,max=128,token"`
	SKU        string     `json:"sku" validate:"required,max=64"`
	Delta      *int32     `json:"delta" validate:"required"`
	Reason     string     `json:"reason" validate:"max=256"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type submitAdjustmentResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// SubmitAdjustment publishes a stock_adjustment event for asynchronous
// application by the worker. Callers may supply event_id to make retries
// idempotent; otherwise one is generated. Responds 202 with the event id.
func SubmitAdjustment(publisher EventPublisher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeCode, err := validators.PathParam(r, "storeCode", maxCodeLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req submitAdjustmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sku := strings.TrimSpace(req.SKU)
		if sku == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sku must not be blank").
				WithDetails(map[string]string{"sku": "is required"}))
			return
		}

		eventID := strings.TrimSpace(req.EventID)
		if eventID == "" {
			eventID = uuid.NewString()
		}

		occurredAt := time.Now().UTC()
		if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
			occurredAt = req.OccurredAt.UTC()
		}

		event := events.StockAdjustmentEvent{
			EventID:   events.Ptr(eventID),
			StoreCode: events.Ptr(storeCode),
			SKU:       events.Ptr(sku),
			Delta:     *req.Delta,
			Reason:    validators.SanitizeString(req.Reason, maxReasonLength),
			Timestamp: req.OccurredAt,
		}
		payload, err := envelope.Encode(event, eventID, occurredAt)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(logg.WithStoreCode(ctx, storeCode), eventID)
		}
		if err := publisher.Publish(ctx, partitionKey(storeCode, sku), payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish adjustment"))
			return
		}
		if logg != nil {
			logg.Info(ctx, "adjustment.submitted")
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, submitAdjustmentResponse{EventID: eventID, Status: "accepted"})
	}
}

// partitionKey keeps every event for one stock line on the same partition.
func partitionKey(storeCode, sku string) string {
	return storeCode + ":" + sku
}

func requireStore(ctx context.Context, stores StoreLookup, storeCode string) error {
	if stores == nil {
		return nil
	}
	ok, err := stores.StoreExists(ctx, storeCode)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup store")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "store not found").WithDetails(map[string]any{"store_code": storeCode})
	}
	return nil
}

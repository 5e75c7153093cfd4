// Package pipeline applies decoded stock events: dedup, validation gates, then
// the stock or catalog mutation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/internal/stock"
	"github.com/angelmondragon/stockledger/internal/validation"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

const tracerName = "github.com/angelmondragon/stockledger/internal/pipeline"

type deduper interface {
	MarkProcessed(ctx context.Context, eventID *string, coords events.Coordinates) (bool, error)
}

type validator interface {
	StoreExists(ctx context.Context, storeCode string) (bool, error)
	ProductExists(ctx context.Context, sku string) (bool, error)
	IsActiveProduct(ctx context.Context, sku string) (bool, error)
}

type stockAccessor interface {
	AdjustStock(ctx context.Context, storeCode, sku string, delta int32, allowZeroDelta bool) (stock.AdjustResult, error)
	RecordAdjustment(ctx context.Context, storeCode, sku string, delta int32, reason string, occurredAt *time.Time) error
}

type catalogWriter interface {
	UpsertProduct(ctx context.Context, sku, name string, active *bool) error
	UpsertStore(ctx context.Context, storeCode, name string) error
}

// Deps are the collaborators an Orchestrator needs. Metrics and Tracer are optional.
type Deps struct {
	Dedup     deduper
	Validator validator
	Stock     stockAccessor
	Catalog   catalogWriter
	Logger    *logger.Logger
	Metrics   *metrics.PipelineMetrics
	Tracer    trace.Tracer
}

// Orchestrator runs one pipeline per event category. Every handler returns a
// terminal Outcome; an error is returned only for storage faults, which the
// transport decides whether to redeliver.
type Orchestrator struct {
	dedup     deduper
	validator validator
	stock     stockAccessor
	catalog   catalogWriter
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Dedup == nil {
		return nil, errors.New("dedup ledger required")
	}
	if deps.Validator == nil {
		return nil, errors.New("validator required")
	}
	if deps.Stock == nil {
		return nil, errors.New("stock accessor required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog writer required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		dedup:     deps.Dedup,
		validator: deps.Validator,
		stock:     deps.Stock,
		catalog:   deps.Catalog,
		logg:      deps.Logger,
		metrics:   deps.Metrics,
		tracer:    tracer,
		now:       time.Now,
	}, nil
}

// Route dispatches event to its category pipeline.
func (o *Orchestrator) Route(ctx context.Context, event events.Event, coords events.Coordinates) (enums.Outcome, error) {
	switch e := event.(type) {
	case events.ProductEvent:
		return o.HandleProduct(ctx, e, coords)
	case events.StoreEvent:
		return o.HandleStore(ctx, e, coords)
	case events.SalesEvent:
		return o.HandleSales(ctx, e, coords)
	case events.StockAdjustmentEvent:
		return o.HandleStockAdjustment(ctx, e, coords)
	case nil:
		return "", pkgerrors.New(pkgerrors.CodeDecode, "event is required")
	default:
		return "", pkgerrors.New(pkgerrors.CodeDecode, fmt.Sprintf("unsupported event %T", event))
	}
}

// HandleProduct upserts the catalog product once its SKU is present. Unknown
// SKUs are accepted so out-of-order create/update messages still land.
func (o *Orchestrator) HandleProduct(ctx context.Context, e events.ProductEvent, coords events.Coordinates) (enums.Outcome, error) {
	return o.run(ctx, e, coords, func(ctx context.Context) (enums.Outcome, error) {
		if !validation.ValidateProductEvent(e.SKU) {
			o.logg.Warn(ctx, "product event rejected: sku missing")
			return enums.OutcomeValidationRejected, nil
		}
		if err := o.catalog.UpsertProduct(ctx, *e.SKU, e.Name, e.Active); err != nil {
			return "", dependency(err, "upsert product")
		}
		o.logg.Info(o.logg.WithField(ctx, "sku", *e.SKU), "product upserted")
		return enums.OutcomeApplied, nil
	})
}

// HandleStore upserts the catalog store once its code is present.
func (o *Orchestrator) HandleStore(ctx context.Context, e events.StoreEvent, coords events.Coordinates) (enums.Outcome, error) {
	return o.run(ctx, e, coords, func(ctx context.Context) (enums.Outcome, error) {
		if !validation.ValidateStoreEvent(e.StoreCode) {
			o.logg.Warn(ctx, "store event rejected: store code missing")
			return enums.OutcomeValidationRejected, nil
		}
		if err := o.catalog.UpsertStore(ctx, *e.StoreCode, e.Name); err != nil {
			return "", dependency(err, "upsert store")
		}
		o.logg.Info(o.logg.WithStoreCode(ctx, *e.StoreCode), "store upserted")
		return enums.OutcomeApplied, nil
	})
}

// HandleSales consumes stock for every item that passes validation. Items are
// judged independently, so one bad line does not block its siblings.
func (o *Orchestrator) HandleSales(ctx context.Context, e events.SalesEvent, coords events.Coordinates) (enums.Outcome, error) {
	return o.run(ctx, e, coords, func(ctx context.Context) (enums.Outcome, error) {
		if !validation.ValidateSalesEvent(&e) {
			o.logg.Warn(ctx, "sales event rejected: store code or items missing")
			return enums.OutcomeValidationRejected, nil
		}
		storeCode := *e.StoreCode
		ctx = o.logg.WithStoreCode(ctx, storeCode)

		ok, err := o.validator.StoreExists(ctx, storeCode)
		if err != nil {
			return "", dependency(err, "lookup store")
		}
		if !ok {
			o.logg.Warn(ctx, "sales event rejected: unknown store")
			return enums.OutcomeValidationRejected, nil
		}

		var applied, rejected int
		for i, item := range e.Items {
			itemCtx := o.logg.WithField(ctx, "item_index", i)
			if !validation.ValidateSalesItem(item) {
				o.logg.Warn(itemCtx, "sales item skipped: malformed")
				continue
			}
			itemCtx = o.logg.WithField(itemCtx, "sku", *item.SKU)
			active, err := o.validator.IsActiveProduct(ctx, *item.SKU)
			if err != nil {
				return "", dependency(err, "lookup product")
			}
			if !active {
				o.logg.Warn(itemCtx, "sales item skipped: product inactive or unknown")
				continue
			}

			res, err := o.stock.AdjustStock(ctx, storeCode, *item.SKU, -*item.Quantity, false)
			if err != nil {
				return "", dependency(err, "adjust stock")
			}
			o.metrics.IncAdjustment(res.String())
			switch res {
			case stock.AdjustPolicyRejected:
				rejected++
				o.logg.Warn(itemCtx, "sales item not applied: stock would go negative")
			case stock.AdjustOutOfRange:
				rejected++
				o.logg.Warn(itemCtx, "sales item not applied: quantity would leave the int32 range")
			default:
				applied++
			}
		}

		switch {
		case applied > 0:
			return enums.OutcomeApplied, nil
		case rejected > 0:
			return enums.OutcomePolicyRejected, nil
		default:
			o.logg.Warn(ctx, "sales event rejected: no valid items")
			return enums.OutcomeValidationRejected, nil
		}
	})
}

// HandleStockAdjustment records the adjustment and applies its delta. The
// audit row is written even for a zero delta or a delta the policy rejects.
func (o *Orchestrator) HandleStockAdjustment(ctx context.Context, e events.StockAdjustmentEvent, coords events.Coordinates) (enums.Outcome, error) {
	return o.run(ctx, e, coords, func(ctx context.Context) (enums.Outcome, error) {
		storeCode, sku := events.Deref(e.StoreCode), events.Deref(e.SKU)
		if e.StoreCode == nil || e.SKU == nil {
			o.logg.Warn(ctx, "stock adjustment rejected: store code or sku missing")
			return enums.OutcomeValidationRejected, nil
		}
		ctx = o.logg.WithFields(ctx, map[string]any{"store_code": storeCode, "sku": sku, "delta": e.Delta})

		storeOK, err := o.validator.StoreExists(ctx, storeCode)
		if err != nil {
			return "", dependency(err, "lookup store")
		}
		productOK, err := o.validator.ProductExists(ctx, sku)
		if err != nil {
			return "", dependency(err, "lookup product")
		}
		activeOK, err := o.validator.IsActiveProduct(ctx, sku)
		if err != nil {
			return "", dependency(err, "lookup product")
		}
		if !storeOK || !productOK || !activeOK {
			o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
				"store_exists":   storeOK,
				"product_exists": productOK,
				"product_active": activeOK,
			}), "stock adjustment rejected")
			return enums.OutcomeValidationRejected, nil
		}

		occurredAt := e.Timestamp
		if occurredAt == nil {
			now := o.now()
			occurredAt = &now
		}
		if err := o.stock.RecordAdjustment(ctx, storeCode, sku, e.Delta, e.Reason, occurredAt); err != nil {
			return "", dependency(err, "record adjustment")
		}

		res, err := o.stock.AdjustStock(ctx, storeCode, sku, e.Delta, true)
		if err != nil {
			return "", dependency(err, "adjust stock")
		}
		o.metrics.IncAdjustment(res.String())
		switch res {
		case stock.AdjustPolicyRejected:
			o.logg.Warn(ctx, "stock adjustment recorded but not applied: stock would go negative")
			return enums.OutcomePolicyRejected, nil
		case stock.AdjustOutOfRange:
			o.logg.Warn(ctx, "stock adjustment recorded but not applied: quantity would leave the int32 range")
			return enums.OutcomePolicyRejected, nil
		}
		o.logg.Info(ctx, "stock adjusted")
		return enums.OutcomeApplied, nil
	})
}

// run wraps a category pipeline with the dedup gate, a span, logging and metrics.
func (o *Orchestrator) run(ctx context.Context, event events.Event, coords events.Coordinates, apply func(context.Context) (enums.Outcome, error)) (enums.Outcome, error) {
	started := o.now()
	category := event.Type().String()

	ctx, span := o.tracer.Start(ctx, "pipeline."+category)
	defer span.End()
	span.SetAttributes(coordinateAttributes(event, coords)...)

	ctx = o.logg.WithField(o.logg.WithTrace(ctx), "event_type", category)
	ctx = o.logg.WithEventCoordinates(ctx, coords.Topic, coords.Partition, coords.Offset)
	if id := event.ID(); events.HasText(id) {
		ctx = o.logg.WithEventID(ctx, *id)
	}

	outcome, err := o.gate(ctx, event, coords, apply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logg.Error(ctx, "event handling failed", err)
		o.metrics.ObserveEvent(category, "error", o.now().Sub(started))
		return "", err
	}

	span.SetAttributes(attribute.String("stockledger.outcome", outcome.String()))
	o.metrics.ObserveEvent(category, outcome.String(), o.now().Sub(started))
	return outcome, nil
}

func (o *Orchestrator) gate(ctx context.Context, event events.Event, coords events.Coordinates, apply func(context.Context) (enums.Outcome, error)) (enums.Outcome, error) {
	first, err := o.dedup.MarkProcessed(ctx, event.ID(), coords)
	if err != nil {
		return "", dependency(err, "mark processed")
	}
	if !first {
		o.logg.Info(ctx, "duplicate event skipped")
		return enums.OutcomeDuplicateSkipped, nil
	}
	outcome, err := apply(ctx)
	if err != nil {
		// The marker is already committed, so a redelivery will be skipped.
		o.logg.Error(ctx, "event marked processed but not fully applied; redelivery will skip it", err)
	}
	return outcome, err
}

func coordinateAttributes(event events.Event, coords events.Coordinates) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("stockledger.event_type", event.Type().String())}
	if coords.Topic != nil {
		attrs = append(attrs, attribute.String("messaging.destination.name", *coords.Topic))
	}
	if coords.Partition != nil {
		attrs = append(attrs, attribute.Int("messaging.kafka.destination.partition", int(*coords.Partition)))
	}
	if coords.Offset != nil {
		attrs = append(attrs, attribute.Int64("messaging.kafka.message.offset", *coords.Offset))
	}
	if id := event.ID(); events.HasText(id) {
		attrs = append(attrs, attribute.String("messaging.message.id", *id))
	}
	return attrs
}

func dependency(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

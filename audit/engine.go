package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juanbarco92/delta/core"
)

// MarketplaceSource is the slice of the marketplace API an audit run needs.
type MarketplaceSource interface {
	Me(ctx context.Context) (core.SellerIdentity, error)
	SearchOrders(ctx context.Context, sellerID int64, limit int) (core.OrderSearch, error)
	Shipment(ctx context.Context, shipmentID string) (core.Shipment, error)
}

const (
	SkipNoShipment = "no_shipment"
	SkipNoSKU      = "no_sku"
	SkipUnknownSKU = "unknown_sku"
)

type RunStats struct {
	Orders            int
	Records           int
	SkippedNoShipment int
	SkippedNoSKU      int
	SkippedUnknownSKU int
	FailedOrders      int
}

type Report struct {
	Seller  core.SellerIdentity
	Records []core.AuditRecord
	Stats   RunStats
}

type Engine struct {
	source   MarketplaceSource
	truth    *TruthTable
	costs    CostModel
	observer *core.Observer
}

type engineBuilder struct {
	costs          CostModel
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

type Option func(*engineBuilder)

func WithCostModel(model CostModel) Option {
	return func(b *engineBuilder) {
		b.costs = model
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metrics = recorder
	}
}

func NewEngine(source MarketplaceSource, truth *TruthTable, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("audit: marketplace source is required")
	}
	if truth == nil {
		return nil, fmt.Errorf("audit: truth table is required")
	}
	builder := engineBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	costs := builder.costs
	if costs == nil {
		costs = UnestimatedCostModel{}
	}
	return &Engine{
		source:   source,
		truth:    truth,
		costs:    costs,
		observer: core.NewObserver("delta.audit", builder.loggerProvider, builder.logger, builder.metrics),
	}, nil
}

// AuditOrders joins the seller's most recent orders with their shipments
// and the truth table, one record per matched line item. Failing to
// resolve the seller aborts the run; a failing order is logged and
// skipped. Authentication failures and cancellation stop the run and
// return the records gathered so far.
func (e *Engine) AuditOrders(ctx context.Context, limit int) (report Report, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = core.DefaultOrderLimit
	}
	startedAt := time.Now()
	defer func() {
		e.observer.ObserveOperation(ctx, startedAt, "run", err, map[string]any{"seller_id": report.Seller.ID})
	}()

	seller, err := e.source.Me(ctx)
	if err != nil {
		return report, fmt.Errorf("audit: resolve seller identity: %w", err)
	}
	report.Seller = seller
	e.observer.Info(ctx, "audit run started", map[string]any{
		"seller_id":  seller.ID,
		"limit":      limit,
		"truth_skus": e.truth.Len(),
	})

	search, err := e.source.SearchOrders(ctx, seller.ID, limit)
	if err != nil {
		return report, fmt.Errorf("audit: search orders: %w", err)
	}
	for _, malformed := range search.Malformed {
		report.Stats.Orders++
		e.orderFailed(ctx, 0, "", malformed, &report.Stats)
	}

	for _, order := range search.Orders {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Stats.Records = len(report.Records)
			e.summarize(ctx, report)
			return report, fmt.Errorf("audit: stopped after %d orders: %w", report.Stats.Orders, ctxErr)
		}
		report.Stats.Orders++

		records, orderErr := e.auditOrder(ctx, order, &report.Stats)
		if orderErr != nil {
			if abortsRun(orderErr) {
				report.Stats.Records = len(report.Records)
				e.summarize(ctx, report)
				return report, fmt.Errorf("audit: order %d: %w", order.ID, orderErr)
			}
			e.orderFailed(ctx, order.ID, order.ShippingID, orderErr, &report.Stats)
			continue
		}
		report.Records = append(report.Records, records...)
	}

	report.Stats.Records = len(report.Records)
	e.summarize(ctx, report)
	return report, nil
}

func (e *Engine) auditOrder(ctx context.Context, order core.Order, stats *RunStats) ([]core.AuditRecord, error) {
	if !order.HasShipment() {
		stats.SkippedNoShipment++
		e.skip(ctx, order, "", SkipNoShipment)
		return nil, nil
	}
	shipment, err := e.source.Shipment(ctx, order.ShippingID)
	if err != nil {
		return nil, err
	}

	var records []core.AuditRecord
	for _, line := range order.LineItems {
		if line.SKU == "" {
			stats.SkippedNoSKU++
			e.skip(ctx, order, line.ItemID, SkipNoSKU)
			continue
		}
		truth, ok := e.truth.Lookup(line.SKU)
		if !ok {
			stats.SkippedUnknownSKU++
			e.skip(ctx, order, line.SKU, SkipUnknownSKU)
			continue
		}

		estimate, estimateErr := e.costs.Estimate(ctx, EstimateInput{
			Order:    order,
			Line:     line,
			Shipment: shipment,
			Truth:    truth,
		})
		if estimateErr != nil {
			e.observer.Warn(ctx, "cost estimate failed; recording as unestimated", map[string]any{
				"order_id": order.ID,
				"sku":      line.SKU,
				"error":    estimateErr.Error(),
			})
			estimate = core.Unestimated()
		}

		records = append(records, core.AuditRecord{
			OrderID:        order.ID,
			ShipmentID:     order.ShippingID,
			SKU:            line.SKU,
			Quantity:       line.Quantity,
			BilledCost:     shipment.BilledCost,
			TruthWeight:    truth.WeightKG,
			TruthVolume:    truth.Volume(),
			ShipmentStatus: shipment.Status,
			Discrepancy:    estimate,
		})
		e.observer.Counter(ctx, "records.total", 1, nil)
	}
	return records, nil
}

func (e *Engine) orderFailed(ctx context.Context, orderID int64, shipmentID string, err error, stats *RunStats) {
	stats.FailedOrders++
	fields := map[string]any{"error": err.Error()}
	if orderID != 0 {
		fields["order_id"] = orderID
		fields["shipment_id"] = shipmentID
	}
	e.observer.Error(ctx, "order audit failed", fields)
	e.observer.Counter(ctx, "orders.failed.total", 1, nil)
}

func (e *Engine) skip(ctx context.Context, order core.Order, subject string, reason string) {
	e.observer.Debug(ctx, "order line skipped", map[string]any{
		"order_id": order.ID,
		"subject":  subject,
		"reason":   reason,
	})
	e.observer.Counter(ctx, "orders.skipped.total", 1, map[string]string{"reason": reason})
}

func (e *Engine) summarize(ctx context.Context, report Report) {
	stats := report.Stats
	e.observer.Info(ctx, "audit run finished", map[string]any{
		"seller_id":           report.Seller.ID,
		"orders":              stats.Orders,
		"records":             stats.Records,
		"skipped_no_shipment": stats.SkippedNoShipment,
		"skipped_no_sku":      stats.SkippedNoSKU,
		"skipped_unknown_sku": stats.SkippedUnknownSKU,
		"failed_orders":       stats.FailedOrders,
	})
}

// abortsRun reports failures that would repeat for every remaining order.
func abortsRun(err error) bool {
	if core.IsAuthError(err) || core.IsUnauthorized(err) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

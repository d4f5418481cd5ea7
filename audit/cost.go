package audit

import (
	"context"

	"github.com/juanbarco92/delta/core"
)

type EstimateInput struct {
	Order    core.Order
	Line     core.LineItem
	Shipment core.Shipment
	Truth    core.TruthRecord
}

// CostModel estimates how much of the billed shipping cost is not explained
// by the verified package attributes.
type CostModel interface {
	Estimate(ctx context.Context, input EstimateInput) (core.DiscrepancyEstimate, error)
}

// UnestimatedCostModel is the placeholder used until a rate calculator is
// available: every line is reported as unestimated.
type UnestimatedCostModel struct{}

func (UnestimatedCostModel) Estimate(context.Context, EstimateInput) (core.DiscrepancyEstimate, error) {
	return core.Unestimated(), nil
}

type CostModelFunc func(ctx context.Context, input EstimateInput) (core.DiscrepancyEstimate, error)

func (f CostModelFunc) Estimate(ctx context.Context, input EstimateInput) (core.DiscrepancyEstimate, error) {
	return f(ctx, input)
}

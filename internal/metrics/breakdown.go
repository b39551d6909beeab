package metrics

import "context"

// DocumentCost returns the total cost for a document.
func (q *Query) DocumentCost(ctx context.Context, documentID string) (float64, error) {
	return q.TotalCost(ctx, Filter{DocumentID: documentID})
}

// StageCost returns the total cost for a stage (across all documents).
func (q *Query) StageCost(ctx context.Context, stage string) (float64, error) {
	return q.TotalCost(ctx, Filter{Stage: stage})
}

// DocumentStageCost returns the total cost for a specific document and stage.
func (q *Query) DocumentStageCost(ctx context.Context, documentID, stage string) (float64, error) {
	return q.TotalCost(ctx, Filter{DocumentID: documentID, Stage: stage})
}

// DocumentStageBreakdown returns cost breakdown by stage for a document.
func (q *Query) DocumentStageBreakdown(ctx context.Context, documentID string) (map[string]float64, error) {
	metrics, err := q.List(ctx, Filter{DocumentID: documentID}, 0)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]float64)
	for _, m := range metrics {
		breakdown[m.Stage] += m.CostUSD
	}
	return breakdown, nil
}

// CostByModel returns cost breakdown by model.
func (q *Query) CostByModel(ctx context.Context, f Filter) (map[string]float64, error) {
	metrics, err := q.List(ctx, f, 0)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]float64)
	for _, m := range metrics {
		breakdown[m.Model] += m.CostUSD
	}
	return breakdown, nil
}

// CostByProvider returns cost breakdown by provider.
func (q *Query) CostByProvider(ctx context.Context, f Filter) (map[string]float64, error) {
	metrics, err := q.List(ctx, f, 0)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]float64)
	for _, m := range metrics {
		breakdown[m.Provider] += m.CostUSD
	}
	return breakdown, nil
}

// MetricForOutput returns the metric that produced a specific output artifact.
func (q *Query) MetricForOutput(ctx context.Context, outputRef string) (*Metric, error) {
	metrics, err := q.List(ctx, Filter{OutputRef: outputRef}, 1)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, nil
	}
	return &metrics[0], nil
}

package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	VerifiedRequests           int64   `json:"verified_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	VerificationRate           float64 `json:"verification_rate"`
	AverageDistance            float64 `json:"average_distance"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
// VerificationRate is verified comparisons over comparisons that produced a verdict.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		VerifiedRequests:           aggregation.VerifiedCount,
		FailedRequests:             aggregation.FailureCount,
		AverageDistance:            aggregation.AverageDistance,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if compared := aggregation.TotalCount - aggregation.FailureCount; compared > 0 {
		summary.VerificationRate = float64(aggregation.VerifiedCount) / float64(compared)
	}

	return summary, nil
}

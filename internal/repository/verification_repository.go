package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-verify/internal/retry"
)

// VerificationLog is the audit record of one verification request. Image
// bytes are never stored, only their SHA-1 digests.
type VerificationLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	Verified            bool      `gorm:"column:verified"`
	Distance            float64   `gorm:"column:distance"`
	Threshold           float64   `gorm:"column:threshold"`
	Confidence          float64   `gorm:"column:confidence"`
	Model               string    `gorm:"column:model;size:32"`
	DistanceMetric      string    `gorm:"column:distance_metric;size:32"`
	ErrorCode           string    `gorm:"column:error_code;size:32"`
	IDImageSHA1         string    `gorm:"column:id_image_sha1;size:40;index"`
	SelfieImageSHA1     string    `gorm:"column:selfie_image_sha1;size:40"`
	IDFilename          string    `gorm:"column:id_filename;size:255"`
	SelfieFilename      string    `gorm:"column:selfie_filename;size:255"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation holds raw aggregates over all verification logs.
type MetricsAggregation struct {
	TotalCount                 int64
	VerifiedCount              int64
	FailureCount               int64
	AverageDistance            float64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger.Named("verification_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
	})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a verification log matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes totals and averages over every stored log.
// Distance and confidence averages only include successful comparisons.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0) AS verified_count, " +
				"COALESCE(SUM(CASE WHEN error_code <> '' THEN 1 ELSE 0 END), 0) AS failure_count, " +
				"COALESCE(AVG(CASE WHEN error_code = '' THEN distance END), 0) AS average_distance, " +
				"COALESCE(AVG(CASE WHEN error_code = '' THEN confidence END), 0) AS average_confidence, " +
				"COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, requestID, fn)
}

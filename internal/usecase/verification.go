package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/example/face-verify/internal/faceoracle"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/retry"
	"github.com/example/face-verify/internal/uploads"
	"github.com/example/face-verify/internal/workerpool"
)

// Status values stored in the result cache.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const statusTTL = time.Minute

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Image is one uploaded file.
type Image struct {
	Filename string
	Data     []byte
}

// Verdict is the successful outcome of a comparison.
type Verdict struct {
	Verified       bool    `cbor:"verified"`
	Distance       float64 `cbor:"distance"`
	Threshold      float64 `cbor:"threshold"`
	Confidence     float64 `cbor:"confidence"`
	Model          string  `cbor:"model"`
	DistanceMetric string  `cbor:"distance_metric"`
}

// VerifyResult is returned by VerifyImages on success.
type VerifyResult struct {
	RequestID string
	Verdict   Verdict
	// Cached is set when the verdict came from an earlier identical request.
	Cached bool
}

// Record is the stored state of one request as returned by GetResult.
type Record struct {
	RequestID string    `cbor:"request_id"`
	UserID    string    `cbor:"user_id"`
	Status    string    `cbor:"status"`
	Verdict   *Verdict  `cbor:"verdict,omitempty"`
	ErrorCode Code      `cbor:"error_code,omitempty"`
	CreatedAt time.Time `cbor:"created_at"`
}

// Options are the fixed comparison settings and limits.
type Options struct {
	Model            string
	DistanceMetric   string
	EnforceDetection bool
	OracleTimeout    time.Duration
	ResultTTL        time.Duration
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo   VerificationRepository
	cache  Cache
	oracle faceoracle.Oracle
	store  *uploads.Store
	pool   *workerpool.Pool
	opts   Options
	logger *zap.Logger
	policy retry.Policy
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, oracle faceoracle.Oracle, store *uploads.Store, pool *workerpool.Pool, opts Options, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:   repo,
		cache:  cache,
		oracle: oracle,
		store:  store,
		pool:   pool,
		opts:   opts,
		logger: logger.Named("verification_usecase"),
		policy: retry.DefaultPolicy,
	}
}

// Confidence derives the display confidence from a distance:
// (1 - distance) * 100 rounded to two decimals.
func Confidence(distance float64) float64 {
	return math.Round((1-distance)*100*100) / 100
}

// VerifyImages compares an ID image with a selfie. Failures to produce a
// verdict are returned as *ProcessingError.
func (uc *VerificationUseCase) VerifyImages(ctx context.Context, userID string, idImage, selfieImage Image) (*VerifyResult, error) {
	requestID := uuid.NewString()
	start := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_images", requestID).With(
		zap.String("id_filename", uploads.SanitizeFilename(idImage.Filename)),
		zap.String("selfie_filename", uploads.SanitizeFilename(selfieImage.Filename)),
	)
	// Bookkeeping writes outlive a disconnected client.
	bgCtx := context.WithoutCancel(ctx)

	uc.setRecord(bgCtx, &Record{RequestID: requestID, UserID: userID, Status: StatusProcessing, CreatedAt: start.UTC()}, statusTTL)

	idHash, selfieHash := digest(idImage.Data), digest(selfieImage.Data)
	pairKey := uc.pairKey(idHash, selfieHash)

	verdict, cached := uc.lookupPair(ctx, requestID, pairKey)
	var procErr *ProcessingError
	if !cached {
		result, err := uc.compare(ctx, requestID, idImage.Data, selfieImage.Data)
		if err != nil {
			procErr = &ProcessingError{Code: classify(err), RequestID: requestID, Err: err}
			opLogger.Warn("verification failed",
				zap.String("code", string(procErr.Code)),
				zap.String("failed_operation", logging.FailedOperation(err)),
				zap.Error(err),
			)
		} else {
			verdict = Verdict{
				Verified:       result.Verified,
				Distance:       result.Distance,
				Threshold:      result.Threshold,
				Confidence:     Confidence(result.Distance),
				Model:          result.Model,
				DistanceMetric: result.DistanceMetric,
			}
			uc.storePair(bgCtx, requestID, pairKey, verdict)
		}
	}

	latency := time.Since(start)
	record := &Record{RequestID: requestID, UserID: userID, Status: StatusCompleted, CreatedAt: start.UTC()}
	log := &repository.VerificationLog{
		RequestID:           requestID,
		UserID:              userID,
		Model:               uc.opts.Model,
		DistanceMetric:      uc.opts.DistanceMetric,
		IDImageSHA1:         idHash,
		SelfieImageSHA1:     selfieHash,
		IDFilename:          uploads.SanitizeFilename(idImage.Filename),
		SelfieFilename:      uploads.SanitizeFilename(selfieImage.Filename),
		ProcessingLatencyMs: latency.Milliseconds(),
		CreatedAt:           start.UTC(),
	}
	if procErr != nil {
		record.Status = StatusFailed
		record.ErrorCode = procErr.Code
		log.ErrorCode = string(procErr.Code)
	} else {
		record.Verdict = &verdict
		log.Verified = verdict.Verified
		log.Distance = verdict.Distance
		log.Threshold = verdict.Threshold
		log.Confidence = verdict.Confidence
		log.Model = verdict.Model
		log.DistanceMetric = verdict.DistanceMetric
	}

	uc.setRecord(bgCtx, record, uc.opts.ResultTTL)
	if err := uc.repo.SaveLog(bgCtx, log); err != nil {
		opLogger.Error("failed to persist verification log", zap.Error(err))
	}

	if procErr != nil {
		return nil, procErr
	}

	opLogger.Info("verification completed",
		zap.Bool("verified", verdict.Verified),
		zap.Float64("distance", verdict.Distance),
		zap.Bool("cached", cached),
		zap.Duration("latency", latency),
	)
	return &VerifyResult{RequestID: requestID, Verdict: verdict, Cached: cached}, nil
}

// compare runs save, oracle call and cleanup as one pool job so the temporary
// files are removed even when the caller stops waiting.
func (uc *VerificationUseCase) compare(ctx context.Context, requestID string, idData, selfieData []byte) (*faceoracle.Result, error) {
	var result *faceoracle.Result
	err := uc.pool.Do(ctx, func(jobCtx context.Context) error {
		jobCtx, cancel := context.WithTimeout(jobCtx, uc.opts.OracleTimeout)
		defer cancel()

		var idPath, selfiePath string
		defer func() {
			uc.remove(requestID, idPath)
			uc.remove(requestID, selfiePath)
		}()

		g, gctx := errgroup.WithContext(jobCtx)
		g.Go(func() error {
			path, err := uc.store.Save(gctx, idData)
			idPath = path
			return logging.NewOperationError("uploads.save_id_image", requestID, err)
		})
		g.Go(func() error {
			path, err := uc.store.Save(gctx, selfieData)
			selfiePath = path
			return logging.NewOperationError("uploads.save_selfie_image", requestID, err)
		})
		if err := g.Wait(); err != nil {
			return err
		}

		res, err := uc.oracle.Verify(jobCtx, faceoracle.Request{
			IDImagePath:      idPath,
			SelfieImagePath:  selfiePath,
			Model:            uc.opts.Model,
			DistanceMetric:   uc.opts.DistanceMetric,
			EnforceDetection: uc.opts.EnforceDetection,
		})
		if err != nil {
			return logging.NewOperationError("oracle.verify", requestID, err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *VerificationUseCase) remove(requestID, path string) {
	if err := uc.store.Remove(path); err != nil {
		logging.WithOperation(uc.logger, "uploads.remove", requestID).Error("failed to remove temporary file", zap.String("path", path), zap.Error(err))
	}
}

func (uc *VerificationUseCase) pairKey(idHash, selfieHash string) string {
	return fmt.Sprintf("verification:pair:%s:%s:%t:%s:%s", uc.opts.Model, uc.opts.DistanceMetric, uc.opts.EnforceDetection, idHash, selfieHash)
}

func (uc *VerificationUseCase) lookupPair(ctx context.Context, requestID, key string) (Verdict, bool) {
	var verdict Verdict
	raw, err := uc.withRedisGet(ctx, requestID, "cache.get.pair", key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "cache.get.pair", requestID).Warn("failed to read pair cache", zap.Error(err))
		}
		return verdict, false
	}
	if err := cbor.Unmarshal([]byte(raw), &verdict); err != nil {
		logging.WithOperation(uc.logger, "cache.get.pair", requestID).Warn("failed to decode cached verdict", zap.Error(err))
		return verdict, false
	}
	return verdict, true
}

func (uc *VerificationUseCase) storePair(ctx context.Context, requestID, key string, verdict Verdict) {
	encoded, err := cbor.Marshal(verdict)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.pair", requestID).Error("failed to encode verdict", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.pair", func() error {
		return uc.cache.Set(ctx, key, encoded, uc.opts.ResultTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.pair", requestID).Warn("failed to cache verdict", zap.Error(err))
	}
}

func (uc *VerificationUseCase) setRecord(ctx context.Context, record *Record, ttl time.Duration) {
	encoded, err := cbor.Marshal(record)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.result", record.RequestID).Error("failed to encode record", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, record.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(record.RequestID), encoded, ttl)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.result", record.RequestID).Warn("failed to cache verification status", zap.String("status", record.Status), zap.Error(err))
	}
}

// GetResult retrieves a cached verification outcome or loads it from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*Record, error) {
	if raw, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var record Record
		if err := cbor.Unmarshal([]byte(raw), &record); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			if record.UserID != userID {
				return nil, ErrResultNotFound
			}
			return &record, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrResultNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return recordFromLog(log), nil
}

// OracleHealth reports whether the face oracle is reachable.
func (uc *VerificationUseCase) OracleHealth(ctx context.Context) error {
	return uc.oracle.HealthCheck(ctx)
}

func recordFromLog(log *repository.VerificationLog) *Record {
	record := &Record{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		Status:    StatusCompleted,
		CreatedAt: log.CreatedAt,
	}
	if log.ErrorCode != "" {
		record.Status = StatusFailed
		record.ErrorCode = Code(log.ErrorCode)
		return record
	}
	record.Verdict = &Verdict{
		Verified:       log.Verified,
		Distance:       log.Distance,
		Threshold:      log.Threshold,
		Confidence:     log.Confidence,
		Model:          log.Model,
		DistanceMetric: log.DistanceMetric,
	}
	return record
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.policy, uc.logger, operation, requestID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var (
		result string
		miss   bool
	)
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}

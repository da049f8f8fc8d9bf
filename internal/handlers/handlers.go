package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/auth"
	"github.com/example/face-verify/internal/usecase"
)

// MaxUploadSize is the default per-file upload limit.
const MaxUploadSize = 10 << 20

const (
	idImageField     = "id_image"
	selfieImageField = "selfie_image"

	requestIDKey = "request_id"

	// multipartOverhead allows for boundaries and part headers on top of two full-size files.
	multipartOverhead = 1 << 20
)

const errMissingImages = "Both ID image and selfie image are required"

type handler struct {
	uc        *usecase.VerificationUseCase
	logger    *zap.Logger
	maxUpload int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware serves every route anonymously. maxUpload <= 0 selects MaxUploadSize.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc, maxUpload int64, logger *zap.Logger) {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	h := &handler{uc: uc, logger: logger.Named("handlers"), maxUpload: maxUpload}

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Face Verification API is running!")
	})
	router.GET("/health", h.health)

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}
	protected.POST("/verify", h.verify)
	protected.GET("/result/:id", h.result)
	protected.GET("/metrics/summary", h.metricsSummary)
}

func (h *handler) health(c *gin.Context) {
	if err := h.uc.OracleHealth(c.Request.Context()); err != nil {
		h.logger.Warn("oracle health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "oracle": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "oracle": "ok"})
}

func (h *handler) verify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxUpload+multipartOverhead)
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingImages})
		return
	}

	idHeader, idErr := c.FormFile(idImageField)
	selfieHeader, selfieErr := c.FormFile(selfieImageField)
	if idErr != nil || selfieErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingImages})
		return
	}

	for _, fh := range []*multipart.FileHeader{idHeader, selfieHeader} {
		if fh.Size > h.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("%s exceeds %d bytes", fh.Filename, h.maxUpload)})
			return
		}
		if !isImageContentType(fh.Header.Get("Content-Type")) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}
	}

	idImage, err := readImage(idHeader)
	if err != nil {
		h.logger.Error("failed to read upload", zap.String("field", idImageField), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image"})
		return
	}
	selfieImage, err := readImage(selfieHeader)
	if err != nil {
		h.logger.Error("failed to read upload", zap.String("field", selfieImageField), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image"})
		return
	}

	result, err := h.uc.VerifyImages(c.Request.Context(), auth.UserID(c), idImage, selfieImage)
	if err != nil {
		var procErr *usecase.ProcessingError
		if !errors.As(err, &procErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set(requestIDKey, procErr.RequestID)
		c.JSON(http.StatusOK, gin.H{
			"error":      procErr.PublicMessage(),
			"code":       procErr.Code,
			"request_id": procErr.RequestID,
		})
		return
	}

	c.Set(requestIDKey, result.RequestID)
	c.JSON(http.StatusOK, gin.H{
		"verified":   result.Verdict.Verified,
		"distance":   result.Verdict.Distance,
		"threshold":  result.Verdict.Threshold,
		"confidence": result.Verdict.Confidence,
		"request_id": result.RequestID,
	})
}

func (h *handler) result(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	record, err := h.uc.GetResult(c.Request.Context(), auth.UserID(c), requestID)
	if err != nil {
		if !errors.Is(err, usecase.ErrResultNotFound) {
			h.logger.Error("result lookup failed", zap.String("request_id", requestID), zap.Error(err))
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	body := gin.H{
		"request_id": record.RequestID,
		"status":     record.Status,
		"created_at": record.CreatedAt,
	}
	if record.Verdict != nil {
		body["verified"] = record.Verdict.Verified
		body["distance"] = record.Verdict.Distance
		body["threshold"] = record.Verdict.Threshold
		body["confidence"] = record.Verdict.Confidence
		body["model"] = record.Verdict.Model
		body["distance_metric"] = record.Verdict.DistanceMetric
	}
	if record.ErrorCode != "" {
		body["code"] = record.ErrorCode
		body["error"] = (&usecase.ProcessingError{Code: record.ErrorCode}).PublicMessage()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrAuditDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics are unavailable without a database"})
			return
		}
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func readImage(fh *multipart.FileHeader) (usecase.Image, error) {
	src, err := fh.Open()
	if err != nil {
		return usecase.Image{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return usecase.Image{}, err
	}
	return usecase.Image{Filename: fh.Filename, Data: data}, nil
}

// isImageContentType accepts image/* and application/octet-stream. A missing
// header counts as octet-stream.
func isImageContentType(value string) bool {
	if value == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

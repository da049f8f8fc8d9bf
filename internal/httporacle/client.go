// Package httporacle talks to a DeepFace-compatible REST service.
package httporacle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/faceoracle"
)

const defaultTimeout = 30 * time.Second

// Client implements faceoracle.Oracle over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the service at baseURL. A zero timeout uses 30s.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("http_oracle"),
	}
}

type verifyRequest struct {
	Img1             string `json:"img1"`
	Img2             string `json:"img2"`
	ModelName        string `json:"model_name"`
	DistanceMetric   string `json:"distance_metric"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type verifyResponse struct {
	Verified       bool    `json:"verified"`
	Distance       float64 `json:"distance"`
	Threshold      float64 `json:"threshold"`
	Model          string  `json:"model"`
	DistanceMetric string  `json:"distance_metric"`
	Error          string  `json:"error"`
	Exception      string  `json:"exception"`
}

func (r verifyResponse) failure() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Exception
}

// Verify uploads both images inline as data URIs and returns the verdict.
func (c *Client) Verify(ctx context.Context, req faceoracle.Request) (*faceoracle.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	img1, err := dataURI(req.IDImagePath)
	if err != nil {
		return nil, err
	}
	img2, err := dataURI(req.SelfieImagePath)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(verifyRequest{
		Img1:             img1,
		Img2:             img2,
		ModelName:        req.Model,
		DistanceMetric:   req.DistanceMetric,
		EnforceDetection: req.EnforceDetection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read verify response: %v", faceoracle.ErrUnavailable, err)
	}

	var decoded verifyResponse
	decodeErr := json.Unmarshal(body, &decoded)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError && decoded.failure() == "":
		return nil, fmt.Errorf("%w: verify failed with status %d: %s", faceoracle.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK || decoded.failure() != "":
		msg := decoded.failure()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, faceoracle.FromMessage(msg)
	case decodeErr != nil:
		return nil, fmt.Errorf("failed to decode verify response: %w", decodeErr)
	}

	c.logger.Debug("face verification completed",
		zap.Bool("verified", decoded.Verified),
		zap.Float64("distance", decoded.Distance),
		zap.Duration("elapsed", time.Since(start)),
	)

	result := &faceoracle.Result{
		Verified:       decoded.Verified,
		Distance:       decoded.Distance,
		Threshold:      decoded.Threshold,
		Model:          decoded.Model,
		DistanceMetric: decoded.DistanceMetric,
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	if result.DistanceMetric == "" {
		result.DistanceMetric = req.DistanceMetric
	}
	return result, nil
}

// HealthCheck verifies the service answers on its root path.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check failed with status %d", faceoracle.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %v", faceoracle.ErrUnavailable, err)
}

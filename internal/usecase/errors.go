package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-verify/internal/faceoracle"
	"github.com/example/face-verify/internal/uploads"
	"github.com/example/face-verify/internal/workerpool"
)

// Code classifies why a verification could not produce a verdict.
type Code string

const (
	CodeFaceNotDetected   Code = "face_not_detected"
	CodeInvalidImage      Code = "invalid_image"
	CodeOracleUnavailable Code = "oracle_unavailable"
	CodeTimeout           Code = "timeout"
	CodeBusy              Code = "busy"
	CodeCanceled          Code = "canceled"
	CodeInternal          Code = "internal"
)

var publicMessages = map[Code]string{
	CodeFaceNotDetected:   "Face could not be detected in one or both images",
	CodeInvalidImage:      "Image could not be decoded",
	CodeOracleUnavailable: "Face verification service is unavailable",
	CodeTimeout:           "Face verification timed out",
	CodeBusy:              "Face verification service is busy, try again later",
	CodeCanceled:          "Request was canceled",
	CodeInternal:          "Face verification failed",
}

// ProcessingError is returned by VerifyImages when no verdict was produced.
// Err keeps the detailed cause for server logs; PublicMessage is safe to show clients.
type ProcessingError struct {
	Code      Code
	RequestID string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s (request_id=%s): %v", e.Code, e.RequestID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// PublicMessage returns the generic client facing message for the error code.
func (e *ProcessingError) PublicMessage() string {
	if msg, ok := publicMessages[e.Code]; ok {
		return msg
	}
	return publicMessages[CodeInternal]
}

func classify(err error) Code {
	switch {
	case errors.Is(err, faceoracle.ErrFaceNotDetected):
		return CodeFaceNotDetected
	case errors.Is(err, faceoracle.ErrInvalidImage), errors.Is(err, uploads.ErrInvalidImage):
		return CodeInvalidImage
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrClosed):
		return CodeBusy
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, faceoracle.ErrUnavailable):
		return CodeOracleUnavailable
	default:
		return CodeInternal
	}
}

// ErrResultNotFound is returned by GetResult for unknown or foreign request ids.
var ErrResultNotFound = errors.New("verification result not found")

// ErrAuditDisabled is returned by GetMetricsSummary when no database is configured.
var ErrAuditDisabled = errors.New("verification audit log is disabled")

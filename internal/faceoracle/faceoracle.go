// Package faceoracle defines the contract with the external face-verification
// service that compares two face images.
package faceoracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request describes one comparison between two image files on local disk.
type Request struct {
	IDImagePath      string
	SelfieImagePath  string
	Model            string
	DistanceMetric   string
	EnforceDetection bool
}

// Result contains the outcome returned by the oracle.
type Result struct {
	Verified       bool
	Distance       float64
	Threshold      float64
	Model          string
	DistanceMetric string
}

// Oracle compares two face images. Implementations must be safe for concurrent use.
type Oracle interface {
	Verify(ctx context.Context, req Request) (*Result, error)
	HealthCheck(ctx context.Context) error
}

var (
	// ErrFaceNotDetected is returned when enforce detection is on and an image has no face.
	ErrFaceNotDetected = errors.New("face not detected")
	// ErrInvalidImage is returned when the oracle cannot read an image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrUnavailable is returned when the oracle cannot be reached.
	ErrUnavailable = errors.New("oracle unavailable")
)

var messageKinds = []struct {
	fragment string
	err      error
}{
	{"face could not be detected", ErrFaceNotDetected},
	{"no face detected", ErrFaceNotDetected},
	{"could not be loaded", ErrInvalidImage},
	{"unsupported image", ErrInvalidImage},
	{"invalid image", ErrInvalidImage},
	{"cannot identify image", ErrInvalidImage},
	{"exception while loading", ErrInvalidImage},
}

// FromMessage turns a raw oracle error message into an error wrapping the
// matching sentinel. Unknown messages yield a plain error.
func FromMessage(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "oracle returned an empty error"
	}
	lower := strings.ToLower(msg)
	for _, k := range messageKinds {
		if strings.Contains(lower, k.fragment) {
			return fmt.Errorf("%w: %s", k.err, msg)
		}
	}
	return errors.New(msg)
}

// Validate checks that a request names both images and the comparison settings.
func (r Request) Validate() error {
	if r.IDImagePath == "" || r.SelfieImagePath == "" {
		return errors.New("faceoracle: both image paths are required")
	}
	if r.Model == "" || r.DistanceMetric == "" {
		return errors.New("faceoracle: model and distance metric are required")
	}
	return nil
}

package faceoracle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{
			name: "deepface detection failure",
			msg:  "Face could not be detected in numpy array.Please confirm that the picture is a face photo or consider to set enforce_detection param to False.",
			want: ErrFaceNotDetected,
		},
		{name: "short detection failure", msg: "No face detected in second image", want: ErrFaceNotDetected},
		{name: "unreadable file", msg: "Confirm that uploads/x.jpg exists or could not be loaded", want: ErrInvalidImage},
		{name: "pil failure", msg: "cannot identify image file", want: ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromMessage(tt.msg)
			require.ErrorIs(t, err, tt.want)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFromMessageUnknown(t *testing.T) {
	err := FromMessage("model weights missing")
	require.EqualError(t, err, "model weights missing")
	require.False(t, errors.Is(err, ErrFaceNotDetected))
	require.False(t, errors.Is(err, ErrInvalidImage))

	require.EqualError(t, FromMessage("  "), "oracle returned an empty error")
}

func TestRequestValidate(t *testing.T) {
	req := Request{IDImagePath: "a.jpeg", SelfieImagePath: "b.jpeg", Model: "ArcFace", DistanceMetric: "cosine"}
	require.NoError(t, req.Validate())

	req.SelfieImagePath = ""
	require.Error(t, req.Validate())

	req.SelfieImagePath = "b.jpeg"
	req.Model = ""
	require.Error(t, req.Validate())
}

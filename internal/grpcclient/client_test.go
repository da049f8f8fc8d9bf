package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-verify/internal/faceoracle"
)

type verifyFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func startOracle(t *testing.T, verify verifyFunc, serving healthpb.HealthCheckResponse_ServingStatus) faceoracle.Oracle {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Verify",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return verify(ctx, in)
			},
		}},
	}, struct{}{})

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, serving)
	healthpb.RegisterHealthServer(server, healthServer)

	go server.Serve(listener)
	t.Cleanup(server.Stop)

	oracle, conn, err := DialOracle(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("failed to dial oracle: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return oracle
}

func testRequest(t *testing.T) faceoracle.Request {
	t.Helper()
	dir := t.TempDir()
	id := filepath.Join(dir, "id.jpeg")
	selfie := filepath.Join(dir, "selfie.jpeg")
	if err := os.WriteFile(id, []byte("id-bytes"), 0o600); err != nil {
		t.Fatalf("write id: %v", err)
	}
	if err := os.WriteFile(selfie, []byte("selfie-bytes"), 0o600); err != nil {
		t.Fatalf("write selfie: %v", err)
	}
	return faceoracle.Request{
		IDImagePath:      id,
		SelfieImagePath:  selfie,
		Model:            "ArcFace",
		DistanceMetric:   "cosine",
		EnforceDetection: true,
	}
}

func TestVerifySendsImagesAndDecodesResult(t *testing.T) {
	oracle := startOracle(t, func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		fields := in.GetFields()
		if got := fields["img1"].GetStringValue(); got != base64.StdEncoding.EncodeToString([]byte("id-bytes")) {
			t.Errorf("unexpected img1: %s", got)
		}
		if !fields["enforce_detection"].GetBoolValue() {
			t.Error("expected enforce_detection to be true")
		}
		return structpb.NewStruct(map[string]interface{}{
			"verified":  true,
			"distance":  0.3,
			"threshold": 0.68,
		})
	}, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := oracle.Verify(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Verified || result.Distance != 0.3 || result.Threshold != 0.68 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Model != "ArcFace" || result.DistanceMetric != "cosine" {
		t.Fatalf("expected request settings to be echoed, got %+v", result)
	}
}

func TestVerifyMapsInvalidArgumentToFaceNotDetected(t *testing.T) {
	oracle := startOracle(t, func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "Face could not be detected in img2")
	}, healthpb.HealthCheckResponse_SERVING)

	_, err := oracle.Verify(context.Background(), testRequest(t))
	if !errors.Is(err, faceoracle.ErrFaceNotDetected) {
		t.Fatalf("expected ErrFaceNotDetected, got %v", err)
	}
}

func TestVerifyMapsUnavailable(t *testing.T) {
	oracle := startOracle(t, func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model loading")
	}, healthpb.HealthCheckResponse_SERVING)

	_, err := oracle.Verify(context.Background(), testRequest(t))
	if !errors.Is(err, faceoracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestVerifyReadsErrorField(t *testing.T) {
	oracle := startOracle(t, func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]interface{}{"error": "cannot identify image file"})
	}, healthpb.HealthCheckResponse_SERVING)

	_, err := oracle.Verify(context.Background(), testRequest(t))
	if !errors.Is(err, faceoracle.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	noop := func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	}

	serving := startOracle(t, noop, healthpb.HealthCheckResponse_SERVING)
	if err := serving.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy oracle, got %v", err)
	}

	notServing := startOracle(t, noop, healthpb.HealthCheckResponse_NOT_SERVING)
	if err := notServing.HealthCheck(context.Background()); !errors.Is(err, faceoracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

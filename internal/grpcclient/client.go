package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-verify/internal/faceoracle"
	"github.com/example/face-verify/internal/logging"
)

const (
	// ServiceName is the fully qualified gRPC service of the face oracle.
	ServiceName  = "faceoracle.v1.FaceOracle"
	verifyMethod = "/" + ServiceName + "/Verify"
)

// DialOracle returns a ready-to-use gRPC face oracle. Extra options are
// appended to the defaults (insecure transport, blocking dial).
func DialOracle(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (faceoracle.Oracle, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_oracle", "", err)
		logger.Error("failed to dial face oracle", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewOracle(conn, logger), conn, nil
}

// NewOracle wraps an existing connection.
func NewOracle(conn grpc.ClientConnInterface, logger *zap.Logger) faceoracle.Oracle {
	return &grpcOracle{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.Named("grpc_oracle"),
	}
}

type grpcOracle struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
	logger *zap.Logger
}

func (g *grpcOracle) Verify(ctx context.Context, req faceoracle.Request) (*faceoracle.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	img1, err := readBase64(req.IDImagePath)
	if err != nil {
		return nil, err
	}
	img2, err := readBase64(req.SelfieImagePath)
	if err != nil {
		return nil, err
	}

	in, err := structpb.NewStruct(map[string]interface{}{
		"img1":              img1,
		"img2":              img2,
		"model_name":        req.Model,
		"distance_metric":   req.DistanceMetric,
		"enforce_detection": req.EnforceDetection,
	})
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, verifyMethod, in, out); err != nil {
		mapped := mapStatus(err)
		g.logger.Warn("face oracle call failed", zap.Error(err))
		return nil, mapped
	}

	fields := out.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, faceoracle.FromMessage(msg)
	}
	result := &faceoracle.Result{
		Verified:       fields["verified"].GetBoolValue(),
		Distance:       fields["distance"].GetNumberValue(),
		Threshold:      fields["threshold"].GetNumberValue(),
		Model:          fields["model"].GetStringValue(),
		DistanceMetric: fields["distance_metric"].GetStringValue(),
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	if result.DistanceMetric == "" {
		result.DistanceMetric = req.DistanceMetric
	}
	return result, nil
}

// HealthCheck uses the standard gRPC health protocol.
func (g *grpcOracle) HealthCheck(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return mapStatus(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: health status %s", faceoracle.ErrUnavailable, resp.GetStatus())
	}
	return nil
}

func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return faceoracle.FromMessage(st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", faceoracle.ErrUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return err
	}
}

func readBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

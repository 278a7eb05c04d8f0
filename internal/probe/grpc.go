package probe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"region-latency/internal/core"
)

// HealthInvoker times a gRPC health check round trip.
type HealthInvoker struct {
	client  healthpb.HealthClient
	service string
}

func NewHealthInvoker(conn grpc.ClientConnInterface, service string) *HealthInvoker {
	return &HealthInvoker{client: healthpb.NewHealthClient(conn), service: service}
}

// Dial opens a plaintext client connection to target.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return conn, nil
}

func (h *HealthInvoker) Invoke(ctx context.Context) (core.Response, error) {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		return core.Response{}, fmt.Errorf("health check %q: %w", h.service, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return core.Response{}, fmt.Errorf("health check %q: status %s", h.service, resp.GetStatus())
	}
	return core.Response{Status: int(resp.GetStatus())}, nil
}

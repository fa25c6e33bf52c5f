package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthProbeTimeout    = time.Second
	healthInitialInterval = 100 * time.Millisecond
	healthMaxInterval     = time.Second
)

// WaitForHealth polls the health service of conn until backend reports
// SERVING. An empty backend asks for the server as a whole. It fails with
// NETWORK once ctx ends.
func WaitForHealth(ctx context.Context, conn gogrpc.ClientConnInterface, backend string, logf func(string, ...any)) error {
	if conn == nil {
		return apperrors.New(apperrors.CodeValidation, "gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := grpc_health_v1.NewHealthClient(conn)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = healthInitialInterval
	policy.MaxInterval = healthMaxInterval
	policy.RandomizationFactor = 0

	probes := 0
	probe := func() (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
		probes++
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		resp, err := client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{Service: backend})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
		}
		if s := resp.GetStatus(); s != grpc_health_v1.HealthCheckResponse_SERVING {
			return s, fmt.Errorf("%q is %s", backend, s)
		}
		return resp.GetStatus(), nil
	}
	notify := func(err error, wait time.Duration) {
		if logf != nil {
			logf("backend %q not ready, retrying in %s: %v", backend, wait, err)
		}
	}

	if _, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	); err != nil {
		return apperrors.Wrap(apperrors.CodeNetwork, fmt.Sprintf("backend %q not serving after %d probes", backend, probes), err)
	}
	if logf != nil {
		logf("backend %q is serving", backend)
	}
	return nil
}

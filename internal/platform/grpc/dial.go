package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer opens client connections. Tests substitute in-memory dialers.
type Dialer interface {
	DialContext(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)
}

// DialerFunc adapts a dial function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// DialContext implements Dialer for DialerFunc.
func (fn DialerFunc) DialContext(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	return fn(ctx, addr, opts...)
}

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	DialStageCredentials DialStage = "credentials"
	DialStageConnect     DialStage = "connect"
	DialStageHealth      DialStage = "health"
)

// DialError reports the address and stage of a failed dial.
type DialError struct {
	Addr  string
	Stage DialStage
	Err   error
}

func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	if e.Addr == "" {
		return fmt.Sprintf("gRPC %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gRPC %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Code classifies the failure: bad trust material is a caller mistake,
// anything later is a network condition.
func (e *DialError) Code() apperrors.Code {
	if e != nil && e.Stage == DialStageCredentials {
		return apperrors.CodeValidation
	}
	return apperrors.CodeNetwork
}

// TrustConfig carries the trust parameters of a connection context. An
// empty CAFile selects plaintext transport, used for local backends and tests.
type TrustConfig struct {
	CAFile     string
	ServerName string
}

// TransportCredentials resolves the credentials described by cfg.
func (cfg TrustConfig) TransportCredentials() (credentials.TransportCredentials, error) {
	caFile := strings.TrimSpace(cfg.CAFile)
	if caFile == "" {
		return insecure.NewCredentials(), nil
	}
	creds, err := credentials.NewClientTLSFromFile(caFile, strings.TrimSpace(cfg.ServerName))
	if err != nil {
		return nil, &DialError{Stage: DialStageCredentials, Err: err}
	}
	return creds, nil
}

// ClientDialOptions returns the dial options for backend clients: trust from
// cfg, the otelgrpc stats handler, then interceptors in order.
func ClientDialOptions(trust TrustConfig, interceptors ...gogrpc.UnaryClientInterceptor) ([]gogrpc.DialOption, error) {
	creds, err := trust.TransportCredentials()
	if err != nil {
		return nil, err
	}
	opts := []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(creds),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	if len(interceptors) > 0 {
		opts = append(opts, gogrpc.WithChainUnaryInterceptor(interceptors...))
	}
	return opts, nil
}

// Target describes one backend connection.
type Target struct {
	Addr string
	// Timeout bounds the dial and the health wait together.
	Timeout time.Duration
	// CheckHealth waits for HealthService to report SERVING.
	CheckHealth   bool
	HealthService string
	Logf          func(string, ...any)
}

// Dial connects to target through dialer, or grpc.NewClient when dialer is
// nil. A connection that fails its health check is closed.
func Dial(ctx context.Context, dialer Dialer, target Target, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(target.Addr) == "" {
		return nil, &DialError{Stage: DialStageConnect, Err: fmt.Errorf("address is required")}
	}
	if dialer == nil {
		dialer = DialerFunc(func(_ context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
			return gogrpc.NewClient(addr, opts...)
		})
	}

	dialCtx := ctx
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	conn, err := dialer.DialContext(dialCtx, target.Addr, opts...)
	if err != nil {
		return nil, &DialError{Addr: target.Addr, Stage: DialStageConnect, Err: err}
	}
	if !target.CheckHealth {
		return conn, nil
	}
	if err := WaitForHealth(dialCtx, conn, target.HealthService, target.Logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Addr: target.Addr, Stage: DialStageHealth, Err: err}
	}
	return conn, nil
}

package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func plaintextOptions(t *testing.T) []gogrpc.DialOption {
	t.Helper()
	opts, err := ClientDialOptions(TrustConfig{})
	if err != nil {
		t.Fatalf("dial options: %v", err)
	}
	return opts
}

func TestDialChecksHealth(t *testing.T) {
	tests := []struct {
		name      string
		status    grpc_health_v1.HealthCheckResponse_ServingStatus
		check     bool
		wantStage DialStage
	}{
		{name: "serving", status: grpc_health_v1.HealthCheckResponse_SERVING, check: true},
		{name: "not serving", status: grpc_health_v1.HealthCheckResponse_NOT_SERVING, check: true, wantStage: DialStageHealth},
		{name: "check disabled", status: grpc_health_v1.HealthCheckResponse_NOT_SERVING, check: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newHealthBackend(t)
			b.health.SetServingStatus("ledger", tt.status)

			conn, err := Dial(context.Background(), b.dialer(), Target{
				Addr:          "ledger.internal:443",
				Timeout:       250 * time.Millisecond,
				CheckHealth:   tt.check,
				HealthService: "ledger",
			}, plaintextOptions(t)...)
			if tt.wantStage == "" {
				if err != nil {
					t.Fatalf("Dial() = %v, want nil", err)
				}
				_ = conn.Close()
				return
			}
			var dialErr *DialError
			if !errors.As(err, &dialErr) || dialErr.Stage != tt.wantStage {
				t.Fatalf("Dial() = %v, want %s stage error", err, tt.wantStage)
			}
			if conn != nil {
				t.Fatal("Dial() returned a connection with its error")
			}
		})
	}
}

func TestDialTimeoutBoundsHealthWait(t *testing.T) {
	b := newHealthBackend(t)
	b.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	start := time.Now()
	_, err := Dial(context.Background(), b.dialer(), Target{Addr: "bufnet", Timeout: 150 * time.Millisecond, CheckHealth: true}, plaintextOptions(t)...)
	if err == nil {
		t.Fatal("Dial() = nil, want health error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Dial() took %v, want it bounded by the timeout", elapsed)
	}
}

func TestDialErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Code
	}{
		{
			name: "connect",
			err: func() error {
				dialer := DialerFunc(func(context.Context, string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
					return nil, fmt.Errorf("refused")
				})
				_, err := Dial(context.Background(), dialer, Target{Addr: "nft:1"})
				return err
			}(),
			want: apperrors.CodeNetwork,
		},
		{
			name: "missing address",
			err: func() error {
				_, err := Dial(context.Background(), nil, Target{})
				return err
			}(),
			want: apperrors.CodeNetwork,
		},
		{
			name: "credentials",
			err: func() error {
				_, err := TrustConfig{CAFile: "/does/not/exist.pem"}.TransportCredentials()
				return err
			}(),
			want: apperrors.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dialErr *DialError
			if !errors.As(tt.err, &dialErr) {
				t.Fatalf("error = %T %v, want *DialError", tt.err, tt.err)
			}
			if got := dialErr.Code(); got != tt.want {
				t.Fatalf("Code() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDialErrorFormatting(t *testing.T) {
	err := &DialError{Addr: "forums:9000", Stage: DialStageConnect, Err: fmt.Errorf("boom")}
	if got := err.Error(); !strings.Contains(got, "connect forums:9000") {
		t.Fatalf("Error() = %q, want stage and address", got)
	}
	var nilErr *DialError
	if nilErr.Error() == "" || nilErr.Unwrap() != nil {
		t.Fatal("nil DialError should format and unwrap to nil")
	}
}

func TestTrustConfigPlaintext(t *testing.T) {
	creds, err := TrustConfig{}.TransportCredentials()
	if err != nil {
		t.Fatalf("plaintext credentials: %v", err)
	}
	if got := creds.Info().SecurityProtocol; got != "insecure" {
		t.Fatalf("SecurityProtocol = %q, want insecure", got)
	}
}

func TestClientDialOptionsAppendsInterceptors(t *testing.T) {
	noop := func(ctx context.Context, method string, req, reply any, cc *gogrpc.ClientConn, invoker gogrpc.UnaryInvoker, opts ...gogrpc.CallOption) error {
		return invoker(ctx, method, req, reply, cc, opts...)
	}
	base := plaintextOptions(t)
	withInterceptor, err := ClientDialOptions(TrustConfig{}, noop)
	if err != nil {
		t.Fatalf("dial options: %v", err)
	}
	if len(withInterceptor) != len(base)+1 {
		t.Fatalf("len(options) = %d, want %d", len(withInterceptor), len(base)+1)
	}
}

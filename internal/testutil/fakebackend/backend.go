// Package fakebackend serves arbitrary /service/method calls in process for
// tests, decoding positional structpb arguments and verifying the caller's
// identity metadata the way a real backend would.
package fakebackend

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1 << 20

// Call describes one request received by the backend.
type Call struct {
	Service string
	Method  string
	Args    []*structpb.Value
	Caller  marshal.Principal
}

// Handler answers one call. Returning an *apperrors.Error sends its gRPC
// status equivalent.
type Handler func(ctx context.Context, call Call) (*structpb.Value, error)

// Backend is an in-process gRPC server.
type Backend struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	callers  map[string][]marshal.Principal

	listener *bufconn.Listener
	server   *grpc.Server
}

// New starts a backend and stops it when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		handlers: map[string]Handler{},
		calls:    map[string]int{},
		callers:  map[string][]marshal.Principal{},
		listener: bufconn.Listen(bufSize),
	}
	b.server = grpc.NewServer(grpc.UnknownServiceHandler(b.serve))
	grpc_health_v1.RegisterHealthServer(b.server, health.NewServer())
	go func() {
		if err := b.server.Serve(b.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("fake backend stopped: %v", err)
		}
	}()
	t.Cleanup(b.server.Stop)
	return b
}

// Handle registers h for service/method, replacing any previous handler.
func (b *Backend) Handle(service, method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[transport.FullMethod(service, method)] = h
}

// Calls returns how many times service/method was invoked.
func (b *Backend) Calls(service, method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[transport.FullMethod(service, method)]
}

// Callers returns the authenticated principals of each call to service/method.
func (b *Backend) Callers(service, method string) []marshal.Principal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]marshal.Principal(nil), b.callers[transport.FullMethod(service, method)]...)
}

// DialContext dials the backend. It satisfies platform/grpc.Dialer; the
// address is ignored.
func (b *Backend) DialContext(_ context.Context, _ string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return b.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	return grpc.NewClient("passthrough:///bufnet", opts...)
}

// Dial returns a client connection closed when the test ends.
func (b *Backend) Dial(t testing.TB) *grpc.ClientConn {
	t.Helper()
	conn, err := b.DialContext(context.Background(), "")
	if err != nil {
		t.Fatalf("dial fake backend: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (b *Backend) serve(_ any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "missing method")
	}
	args := &structpb.ListValue{}
	if err := stream.RecvMsg(args); err != nil {
		return err
	}
	body, err := proto.MarshalOptions{Deterministic: true}.Marshal(args)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	caller, err := transport.CallerFromIncoming(stream.Context(), fullMethod, body)
	if err != nil {
		return toStatus(err)
	}

	b.mu.Lock()
	h, ok := b.handlers[fullMethod]
	b.calls[fullMethod]++
	b.callers[fullMethod] = append(b.callers[fullMethod], caller)
	b.mu.Unlock()
	if !ok {
		return status.Errorf(codes.Unimplemented, "no handler for %s", fullMethod)
	}

	service, method := splitMethod(fullMethod)
	reply, err := h(stream.Context(), Call{Service: service, Method: method, Args: args.GetValues(), Caller: caller})
	if err != nil {
		return toStatus(err)
	}
	if reply == nil {
		reply = structpb.NewNullValue()
	}
	return stream.SendMsg(reply)
}

func toStatus(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.ToGRPCStatus()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

func splitMethod(fullMethod string) (string, string) {
	for i := 1; i < len(fullMethod); i++ {
		if fullMethod[i] == '/' {
			return fullMethod[1:i], fullMethod[i+1:]
		}
	}
	return "", fullMethod
}

// Ok wraps v in a success result.
func Ok(v *structpb.Value) *structpb.Value {
	if v == nil {
		v = structpb.NewNullValue()
	}
	return marshal.Struct(map[string]*structpb.Value{"ok": v})
}

// Err wraps reason in a failure result.
func Err(reason *structpb.Value) *structpb.Value {
	return marshal.Struct(map[string]*structpb.Value{"err": reason})
}

// Reply returns a handler that always answers v.
func Reply(v *structpb.Value) Handler {
	return func(context.Context, Call) (*structpb.Value, error) { return v, nil }
}

// Package transport issues one remote method call per invocation over a
// gRPC connection, signing it with the session identity and classifying
// failures into the client's error taxonomy.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/louisbranch/ledgerlink/internal/identity"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/timeouts"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Caller issues a remote method call with positional arguments.
type Caller interface {
	Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error)

// Call implements Caller.
func (fn CallerFunc) Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error) {
	return fn(ctx, method, args)
}

// Options tunes a Client.
type Options struct {
	// CallTimeout bounds each call. Defaults to timeouts.RemoteCall.
	CallTimeout time.Duration
	// Limiter throttles outgoing calls when set.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Client calls methods of one remote service.
type Client struct {
	conn    grpc.ClientConnInterface
	service string
	signer  *identity.Identity
	opts    Options
}

// NewClient binds conn to service. A nil signer issues anonymous calls.
func NewClient(conn grpc.ClientConnInterface, service string, signer *identity.Identity, opts Options) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = timeouts.RemoteCall
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{conn: conn, service: service, signer: signer, opts: opts}
}

// Service returns the remote service name.
func (c *Client) Service() string {
	return c.service
}

// FullMethod returns the gRPC method name for method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// Call implements Caller. Timeouts and transport failures are returned as
// CodeNetwork; backend refusals as CodeRemote.
func (c *Client) Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error) {
	if c == nil || c.conn == nil {
		return nil, apperrors.New(apperrors.CodeNetwork, "transport is not connected")
	}
	fullMethod := FullMethod(c.service, method)
	if args == nil {
		args = &structpb.ListValue{}
	}
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeNetwork, "call throttled", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	if c.signer != nil {
		body, err := proto.MarshalOptions{Deterministic: true}.Marshal(args)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeValidation, "marshal request", err)
		}
		callCtx = WithIdentity(callCtx, c.signer, fullMethod, body)
	}

	reply := &structpb.Value{}
	if err := c.conn.Invoke(callCtx, fullMethod, args, reply); err != nil {
		classified := apperrors.FromStatus(err)
		c.opts.Logger.Debug("remote call failed",
			"method", fullMethod,
			"code", apperrors.CodeOf(classified),
			"error", err,
		)
		return nil, withMethod(classified, fullMethod)
	}
	return reply, nil
}

func withMethod(err error, fullMethod string) error {
	appErr, ok := err.(*apperrors.Error)
	if !ok {
		return fmt.Errorf("%s: %w", fullMethod, err)
	}
	if appErr.Metadata == nil {
		appErr.Metadata = map[string]string{}
	}
	appErr.Metadata["method"] = fullMethod
	return appErr
}

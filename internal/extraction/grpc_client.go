package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExtractMethod is the unary RPC a remote extraction service exposes. Both
// request and response are google.protobuf.Struct messages.
const ExtractMethod = "/heavyhunt.extraction.v1.ExtractionService/Extract"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// invoker is the slice of grpc.ClientConn the client uses.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// GrpcClientConfig holds configuration for the gRPC extraction client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient delegates extraction to a remote service over gRPC.
type GrpcClient struct {
	conn    *grpc.ClientConn
	invoker invoker
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcClient connects to the extraction service and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to extraction service at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first visitor message.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("extraction service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to extraction service", "address", cfg.Address)

	return &GrpcClient{
		conn:    conn,
		invoker: conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Extract implements Extractor.
func (c *GrpcClient) Extract(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := structpb.NewStruct(requestMap(req))
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.invoker.Invoke(ctx, ExtractMethod, in, out); err != nil {
		c.logger.Warn("Extraction RPC failed", "session_id", req.SessionID, "address", c.addr, "error", err)
		return nil, fmt.Errorf("extract request failed: %w", err)
	}
	return parseResponseMap(out.AsMap())
}

func requestMap(req Request) map[string]any {
	timeline := make([]any, 0, len(req.Timeline))
	for _, m := range req.Timeline {
		timeline = append(timeline, map[string]any{
			"id":         m.ID,
			"speaker":    string(m.Speaker),
			"text":       m.Text,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	leadContext := make(map[string]any, len(req.Context))
	for f, v := range req.Context {
		leadContext[string(f)] = v
	}

	required := make([]any, 0, len(req.RequiredFields))
	for _, f := range req.RequiredFields {
		required = append(required, string(f))
	}

	return map[string]any{
		"sessionId":      req.SessionID,
		"message":        req.LatestUserText,
		"messageHistory": timeline,
		"leadContext":    leadContext,
		"requiredFields": required,
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close extraction connection: %w", err)
	}
	return nil
}

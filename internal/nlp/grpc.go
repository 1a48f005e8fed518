package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/intent"
)

// Full method names on the remote language service. Requests and responses
// are google.protobuf.Struct carrying the same JSON shapes the chat model
// produces.
const (
	ServiceName             = "calgenie.nlp.v1.Language"
	ExtractIntentMethod     = "/" + ServiceName + "/ExtractIntent"
	SynthesizeMeetingMethod = "/" + ServiceName + "/SynthesizeMeeting"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCClient calls a remote language service.
type GRPCClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCClient connects to the language service and waits until the
// connection is ready so bad endpoints fail at startup.
func NewGRPCClient(cfg GRPCConfig, logger *slog.Logger) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("grpc provider requires an address")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create language service client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("language service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to language service", "address", cfg.Address)
	return &GRPCClient{conn: conn, addr: cfg.Address, logger: logger}, nil
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

// Close closes the gRPC connection.
func (c *GRPCClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

type extractIntentRequest struct {
	Query string `json:"query"`
	Now   string `json:"now"`
}

type synthesizeRequest struct {
	Query     string             `json:"query"`
	TimeSlot  intent.RawSlot     `json:"time_slot"`
	Hints     domain.Hints       `json:"mentioned_details"`
	Template  *domain.Meeting    `json:"template,omitempty"`
	Requester domain.Participant `json:"requester"`
}

// ExtractIntent implements intent.Extractor.
func (c *GRPCClient) ExtractIntent(ctx context.Context, query string, now time.Time) (ex intent.Extraction, err error) {
	ctx, span := startSpan(ctx, "extract_intent", "grpc")
	defer func() { endSpan(span, err) }()

	err = c.invoke(ctx, ExtractIntentMethod, extractIntentRequest{
		Query: query,
		Now:   domain.FormatTimestamp(now),
	}, &ex)
	return ex, err
}

// SynthesizeMeeting implements details.Synthesizer.
func (c *GRPCClient) SynthesizeMeeting(ctx context.Context, req details.Request) (m domain.Meeting, err error) {
	ctx, span := startSpan(ctx, "synthesize_meeting", "grpc")
	defer func() { endSpan(span, err) }()

	err = c.invoke(ctx, SynthesizeMeetingMethod, synthesizeRequest{
		Query:     req.Query,
		TimeSlot:  intent.RawSlot{Start: req.Slot.WireStart(), End: req.Slot.WireEnd()},
		Hints:     req.Hints,
		Template:  req.Template,
		Requester: req.Requester,
	}, &m)
	return m, err
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, method, err)
	}
	return fromStruct(resp, out)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("convert request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

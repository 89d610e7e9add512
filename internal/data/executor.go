package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	MetadataRequestID      = "x-takasho-request-id"
	MetadataIdempotencyKey = "x-takasho-idempotency-key"

	defaultMethodPrefix = "/takasho.schema.lettuce_server.player_api."
)

// Reply is one finished round trip.
type Reply struct {
	Body    []byte
	Headers metadata.MD
}

// RoundTripError carries the slot and metadata of a failed call so the retry
// policy can classify it and close the slot when needed.
type RoundTripError struct {
	Method string
	Proxy  string
	Header metadata.MD
	Err    error

	slot *Slot
}

func (e *RoundTripError) Error() string {
	return fmt.Sprintf("%s via %s: %v", e.Method, describe(e.Proxy), e.Err)
}

func (e *RoundTripError) Unwrap() error { return e.Err }

// Code is the grpc status code of the failure.
func (e *RoundTripError) Code() codes.Code {
	return status.Code(e.Err)
}

// rawCodec passes already sealed bytes through grpc untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case *[]byte:
		return *b, nil
	case []byte:
		return b, nil
	default:
		return nil, fmt.Errorf("raw codec: unexpected %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unexpected %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// Executor performs exactly one sealed round trip over the current slot.
type Executor struct {
	codec   Codec
	pool    *ConnPool
	prefix  string
	base    metadata.MD
	timeout time.Duration
	log     *log.Helper
}

// NewExecutor .
func NewExecutor(c *conf.Transport, codec Codec, pool *ConnPool, logger log.Logger) *Executor {
	prefix := c.MethodPrefix
	if prefix == "" {
		prefix = defaultMethodPrefix
	}
	base := metadata.MD{}
	for k, v := range c.Headers {
		base.Set(k, v)
	}
	return &Executor{
		codec:   codec,
		pool:    pool,
		prefix:  prefix,
		base:    base,
		timeout: c.CallTimeout.Or(30 * time.Second),
		log:     log.NewHelper(log.With(logger, "module", "data/executor")),
	}
}

// FullMethod expands "Service/MethodV1" to the grpc method path.
func (e *Executor) FullMethod(method string) string {
	if strings.HasPrefix(method, "/") {
		return method
	}
	return e.prefix + method
}

// Execute seals body, sends it and opens the reply unless needResponse is
// false, in which case the reply body is returned as received.
func (e *Executor) Execute(ctx context.Context, method string, headers map[string]string, body []byte, needResponse bool) (*Reply, error) {
	sealed, err := e.codec.Seal(body)
	if err != nil {
		return nil, err
	}

	md := e.base.Copy()
	for k, v := range headers {
		md.Set(k, v)
	}
	md.Set(MetadataRequestID, uuid.NewString())
	md.Set(MetadataIdempotencyKey, uuid.NewString())

	full := e.FullMethod(method)
	slot, err := e.pool.Current()
	if err != nil {
		return nil, &RoundTripError{Method: full, Err: status.Error(codes.Unavailable, err.Error())}
	}
	conn := slot.Conn()
	if conn == nil {
		return nil, &RoundTripError{Method: full, Proxy: slot.Proxy, slot: slot, Err: status.Error(codes.Unavailable, "slot closed")}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	var (
		reply  []byte
		header metadata.MD
	)
	err = conn.Invoke(ctx, full, &sealed, &reply, grpc.ForceCodec(rawCodec{}), grpc.Header(&header))
	if err != nil {
		return nil, &RoundTripError{Method: full, Proxy: slot.Proxy, Header: header, slot: slot, Err: err}
	}
	e.log.Debugf("%s ok via %s request_id=%s", full, describe(slot.Proxy), md.Get(MetadataRequestID)[0])

	if !needResponse {
		return &Reply{Body: reply, Headers: header}, nil
	}
	opened, err := e.codec.Open(reply)
	if err != nil {
		return nil, err
	}
	return &Reply{Body: opened, Headers: header}, nil
}

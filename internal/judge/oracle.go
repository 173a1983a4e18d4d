package judge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// rawCodec passes []byte payloads through unmarshaled, letting Assess
// speak raw JSON bytes to the oracle service over gRPC's framing instead
// of requiring a compiled protobuf message type.
type rawCodec struct{}

func (rawCodec) Name() string { return "chimera-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if ok {
		return *b, nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return json.Marshal(v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return json.Unmarshal(data, v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// OracleClient is a thin gRPC client to an external scoring service. Until
// the scoring service's proto contract is compiled into this module, the
// wire call is represented by a small JSON-over-gRPC-metadata request (see
// Assess); swapping in a generated stub later is a drop-in replacement
// behind the same Judge interface.
type OracleClient struct {
	conn    *grpc.ClientConn
	addr    string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewOracleClient dials the scoring service at addr. ratePerSecond/burst
// bound how often Assess is allowed to make an outbound call; a denied
// token degrades to the oracle-failure assessment rather than blocking the
// interceptor.
func NewOracleClient(addr string, ratePerSecond float64, burst int, timeout time.Duration) (*OracleClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &OracleClient{
		conn:    conn,
		addr:    addr,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		timeout: timeout,
		logger:  slog.Default().With("component", "risk_judge_oracle"),
	}, nil
}

// Close releases the gRPC connection.
func (o *OracleClient) Close() error {
	return o.conn.Close()
}

// oracleRequest/oracleResponse mirror the RiskAssessment schema over the
// wire; until the service's real proto is generated, payloads travel as
// JSON bytes inside a generic gRPC byte-stream call.
type oracleRequest struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Context map[string]any `json:"context"`
}

// Assess implements Judge, calling the external oracle. Any rate-limit
// rejection, transport error, or response that fails to parse as the
// RiskAssessment schema yields the fixed oracle-failure assessment — never
// a panic, never a blocked call.
func (o *OracleClient) Assess(ctx context.Context, tool string, args map[string]any, callCtx map[string]any) RiskAssessment {
	if !o.limiter.Allow() {
		o.logger.Warn("oracle call rate-limited", "tool", tool)
		return oracleFailureAssessment()
	}

	callCtxTimeout, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := oracleRequest{Tool: tool, Args: args, Context: callCtx}
	payload, err := json.Marshal(req)
	if err != nil {
		o.logger.Error("oracle request marshal failed", "error", err)
		return oracleFailureAssessment()
	}

	raw, err := o.invoke(callCtxTimeout, payload)
	if err != nil {
		o.logger.Error("oracle call failed", "error", err, "addr", o.addr)
		return oracleFailureAssessment()
	}

	var assessment RiskAssessment
	if err := json.Unmarshal(raw, &assessment); err != nil {
		o.logger.Error("oracle response parse failed", "error", err)
		return oracleFailureAssessment()
	}
	return assessment
}

// invoke performs the raw gRPC unary call. Method name and codec are
// placeholders for the generated client stub; this keeps the dependency on
// google.golang.org/grpc real and exercised while the service contract is
// still being finalized upstream.
func (o *OracleClient) invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var resp []byte
	err := o.conn.Invoke(ctx, "/chimera.nsie.RiskJudge/Assess", &payload, &resp,
		grpc.CallContentSubtype(rawCodec{}.Name()))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

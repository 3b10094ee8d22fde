package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/rpc"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCValidator submits pipelines to a remote ValidatorService.
type GRPCValidator struct {
	conn   *grpc.ClientConn
	client *rpc.ValidatorClient
	token  string
}

// NewGRPCValidator connects to the gRPC validator at addr.
func NewGRPCValidator(addr, token string) (*GRPCValidator, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCValidator{conn: conn, client: rpc.NewValidatorClient(conn), token: token}, nil
}

// NewGRPCValidatorConn wraps an existing connection. The validator takes
// ownership of conn.
func NewGRPCValidatorConn(conn *grpc.ClientConn, token string) *GRPCValidator {
	return &GRPCValidator{conn: conn, client: rpc.NewValidatorClient(conn), token: token}
}

// Close closes the underlying connection.
func (v *GRPCValidator) Close() error {
	return v.conn.Close()
}

// Validate calls ValidatorService/Validate.
func (v *GRPCValidator) Validate(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error) {
	in, err := rpc.RequestToStruct(req)
	if err != nil {
		return model.Verdict{}, err
	}
	md := []string{"x-request-id", uuid.NewString()}
	if v.token != "" {
		md = append(md, "authorization", "Bearer "+v.token)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, md...)

	out, err := v.client.Validate(ctx, in)
	if err != nil {
		st, _ := status.FromError(err)
		switch st.Code() {
		case codes.DeadlineExceeded:
			return model.Verdict{}, fmt.Errorf("rpc: %w", context.DeadlineExceeded)
		case codes.Canceled:
			return model.Verdict{}, fmt.Errorf("rpc: %w", context.Canceled)
		case codes.Unavailable:
			return model.Verdict{}, fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
		default:
			return model.Verdict{}, &ServerError{StatusCode: httpStatus(st.Code()), Body: st.Message()}
		}
	}
	return verdictFromMap(out.AsMap())
}

// httpStatus maps a gRPC code onto the HTTP status a REST validator would
// have answered with, so ServerError reads the same for both transports.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

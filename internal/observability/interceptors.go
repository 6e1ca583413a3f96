package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"transcription-stream-service/internal/observability/metrics"
)

// SessionIDHeader is the incoming metadata key that correlates a gRPC call
// with a transcription session in the logs.
const SessionIDHeader = "x-session-id"

// callLogger returns the gRPC component logger enriched with whatever the
// caller identified itself with.
func callLogger(ctx context.Context, method string) zerolog.Logger {
	lc := log.With().Str("component", "grpc").Str("method", method)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		lc = lc.Str("peer", p.Addr.String())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(SessionIDHeader); len(v) > 0 && v[0] != "" {
			lc = lc.Str("sessionId", v[0])
		}
	}
	return lc.Logger()
}

// callEvent picks the level for a finished call: failures the server owns are
// errors, everything else stays quiet.
func callEvent(l *zerolog.Logger, code codes.Code) *zerolog.Event {
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound, codes.Unimplemented:
		return l.Debug()
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return l.Error()
	default:
		return l.Warn()
	}
}

// UnaryServerInterceptor counts every unary call by method and status code
// and logs it with the caller's peer address and session id.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		m.RecordGRPCRequest(info.FullMethod, code.String())

		l := callLogger(ctx, info.FullMethod)
		callEvent(&l, code).
			Err(err).
			Str("code", code.String()).
			Dur("elapsed", time.Since(start)).
			Msg("Unary call finished")
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as health
// Watch.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := context.Background()
		if ss != nil {
			ctx = ss.Context()
		}
		start := time.Now()
		err := handler(srv, ss)

		code := status.Code(err)
		m.RecordGRPCRequest(info.FullMethod, code.String())

		l := callLogger(ctx, info.FullMethod)
		callEvent(&l, code).
			Err(err).
			Str("code", code.String()).
			Dur("elapsed", time.Since(start)).
			Bool("serverStream", info.IsServerStream).
			Msg("Stream call finished")
		return err
	}
}

package transport

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

// NewHandler serves svc. It returns the path prefix to mount the handler on
// and the handler itself.
func NewHandler(svc Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	unary(mux, GetDevicesProcedure, opts, func(ctx context.Context, _ *GetDevicesRequest) (*GetDevicesResponse, error) {
		devices, err := svc.GetDevices(ctx)
		return &GetDevicesResponse{Devices: devices}, err
	})
	unary(mux, GetProcessesProcedure, opts, func(ctx context.Context, req *GetProcessesRequest) (*GetProcessesResponse, error) {
		procs, err := svc.GetProcesses(ctx, req.DeviceID)
		return &GetProcessesResponse{Processes: procs}, err
	})
	unary(mux, BeginSessionProcedure, opts, func(ctx context.Context, req *BeginSessionRequest) (*BeginSessionResponse, error) {
		if req.DeviceID == 0 || req.PID == 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("device_id and pid are required"))
		}
		s, err := svc.BeginSession(ctx, req.DeviceID, req.PID, req.SessionName, req.AgentConfig)
		return &BeginSessionResponse{Session: s}, err
	})
	unary(mux, EndSessionProcedure, opts, func(ctx context.Context, req *EndSessionRequest) (*EndSessionResponse, error) {
		s, err := svc.EndSession(ctx, req.SessionID)
		return &EndSessionResponse{Session: s}, err
	})
	unary(mux, GetSessionsProcedure, opts, func(ctx context.Context, _ *GetSessionsRequest) (*GetSessionsResponse, error) {
		sessions, err := svc.GetSessions(ctx)
		return &GetSessionsResponse{Sessions: sessions}, err
	})
	unary(mux, GetSessionMetaDataProcedure, opts, func(ctx context.Context, req *GetSessionMetaDataRequest) (*GetSessionMetaDataResponse, error) {
		meta, err := svc.GetSessionMetaData(ctx, req.SessionID)
		return &GetSessionMetaDataResponse{MetaData: meta}, err
	})
	unary(mux, ImportSessionProcedure, opts, func(ctx context.Context, req *ImportSessionRequest) (*ImportSessionResponse, error) {
		if req.Session.IsZero() {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session is required"))
		}
		return &ImportSessionResponse{}, svc.ImportSession(ctx, req.Session, req.Name, req.Type)
	})
	unary(mux, GetAgentStatusProcedure, opts, func(ctx context.Context, req *GetAgentStatusRequest) (*GetAgentStatusResponse, error) {
		status, err := svc.GetAgentStatus(ctx, req.DeviceID, req.PID)
		return &GetAgentStatusResponse{Status: status}, err
	})
	unary(mux, GetCurrentTimeProcedure, opts, func(ctx context.Context, req *GetCurrentTimeRequest) (*GetCurrentTimeResponse, error) {
		ts, err := svc.GetCurrentTime(ctx, req.DeviceID)
		return &GetCurrentTimeResponse{TimestampNs: ts}, err
	})

	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](
	mux *http.ServeMux,
	procedure string,
	opts []connect.HandlerOption,
	fn func(context.Context, *Req) (*Res, error),
) {
	mux.Handle(procedure, connect.NewUnaryHandler(
		procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, toConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}

// NewLoggingInterceptor logs every served call at debug level and failed
// calls at warn level.
func NewLoggingInterceptor(logger zerolog.Logger) connect.UnaryInterceptorFunc {
	logger = logger.With().Str("component", "transport_server").Logger()
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("procedure", req.Spec().Procedure).
					Stringer("code", connect.CodeOf(err)).
					Msg("RPC failed")
				return res, err
			}
			logger.Debug().
				Str("procedure", req.Spec().Procedure).
				Dur("elapsed", time.Since(start)).
				Msg("RPC served")
			return res, nil
		}
	}
}

// NewAuthInterceptor rejects calls that do not carry token as a bearer
// token. An empty token disables the check.
func NewAuthInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token == "" {
				return next(ctx, req)
			}
			got, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid or missing bearer token"))
			}
			return next(ctx, req)
		}
	}
}

package transport

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/retry"
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	retry     retry.Config
	logger    zerolog.Logger
	token     string
	userAgent string
}

// WithRetry sets the backoff used for idempotent reads.
func WithRetry(cfg retry.Config) ClientOption {
	return func(o *clientOptions) { o.retry = cfg.Normalize() }
}

// WithLogger sets the logger used to report retried calls.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithBearerToken sends token in the Authorization header of every call.
func WithBearerToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// WithUserAgent replaces the default connect User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(o *clientOptions) { o.userAgent = ua }
}

// Client talks to a profiler service over connect. Reads are retried on
// ErrUnavailable; session mutations are sent once.
type Client struct {
	logger zerolog.Logger
	retry  retry.Config

	getDevices         *connect.Client[GetDevicesRequest, GetDevicesResponse]
	getProcesses       *connect.Client[GetProcessesRequest, GetProcessesResponse]
	beginSession       *connect.Client[BeginSessionRequest, BeginSessionResponse]
	endSession         *connect.Client[EndSessionRequest, EndSessionResponse]
	getSessions        *connect.Client[GetSessionsRequest, GetSessionsResponse]
	getSessionMetaData *connect.Client[GetSessionMetaDataRequest, GetSessionMetaDataResponse]
	importSession      *connect.Client[ImportSessionRequest, ImportSessionResponse]
	getAgentStatus     *connect.Client[GetAgentStatusRequest, GetAgentStatusResponse]
	getCurrentTime     *connect.Client[GetCurrentTimeRequest, GetCurrentTimeResponse]
}

var _ Service = (*Client)(nil)

// NewClient creates a client for the service at baseURL, for example
// http://localhost:9300.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...ClientOption) *Client {
	o := clientOptions{retry: retry.DefaultConfig(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	copts := []connect.ClientOption{connect.WithCodec(jsonCodec{})}
	if o.token != "" || o.userAgent != "" {
		copts = append(copts, connect.WithInterceptors(headerInterceptor(o.token, o.userAgent)))
	}

	return &Client{
		logger:             o.logger.With().Str("component", "transport_client").Logger(),
		retry:              o.retry,
		getDevices:         connect.NewClient[GetDevicesRequest, GetDevicesResponse](httpClient, baseURL+GetDevicesProcedure, copts...),
		getProcesses:       connect.NewClient[GetProcessesRequest, GetProcessesResponse](httpClient, baseURL+GetProcessesProcedure, copts...),
		beginSession:       connect.NewClient[BeginSessionRequest, BeginSessionResponse](httpClient, baseURL+BeginSessionProcedure, copts...),
		endSession:         connect.NewClient[EndSessionRequest, EndSessionResponse](httpClient, baseURL+EndSessionProcedure, copts...),
		getSessions:        connect.NewClient[GetSessionsRequest, GetSessionsResponse](httpClient, baseURL+GetSessionsProcedure, copts...),
		getSessionMetaData: connect.NewClient[GetSessionMetaDataRequest, GetSessionMetaDataResponse](httpClient, baseURL+GetSessionMetaDataProcedure, copts...),
		importSession:      connect.NewClient[ImportSessionRequest, ImportSessionResponse](httpClient, baseURL+ImportSessionProcedure, copts...),
		getAgentStatus:     connect.NewClient[GetAgentStatusRequest, GetAgentStatusResponse](httpClient, baseURL+GetAgentStatusProcedure, copts...),
		getCurrentTime:     connect.NewClient[GetCurrentTimeRequest, GetCurrentTimeResponse](httpClient, baseURL+GetCurrentTimeProcedure, copts...),
	}
}

func (c *Client) GetDevices(ctx context.Context) ([]model.Device, error) {
	res, err := read(ctx, c, c.getDevices, &GetDevicesRequest{})
	if err != nil {
		return nil, err
	}
	return res.Devices, nil
}

func (c *Client) GetProcesses(ctx context.Context, deviceID int64) ([]model.Process, error) {
	res, err := read(ctx, c, c.getProcesses, &GetProcessesRequest{DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	return res.Processes, nil
}

func (c *Client) BeginSession(ctx context.Context, deviceID int64, pid int32, name string, cfg model.AgentConfig) (model.Session, error) {
	res, err := call(ctx, c.beginSession, &BeginSessionRequest{
		DeviceID:    deviceID,
		PID:         pid,
		SessionName: name,
		AgentConfig: cfg,
	})
	if err != nil {
		return model.Session{}, err
	}
	return res.Session, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID int64) (model.Session, error) {
	res, err := call(ctx, c.endSession, &EndSessionRequest{SessionID: sessionID})
	if err != nil {
		return model.Session{}, err
	}
	return res.Session, nil
}

func (c *Client) GetSessions(ctx context.Context) ([]model.Session, error) {
	res, err := read(ctx, c, c.getSessions, &GetSessionsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) GetSessionMetaData(ctx context.Context, sessionID int64) (model.SessionMetaData, error) {
	res, err := read(ctx, c, c.getSessionMetaData, &GetSessionMetaDataRequest{SessionID: sessionID})
	if err != nil {
		return model.SessionMetaData{}, err
	}
	return res.MetaData, nil
}

func (c *Client) ImportSession(ctx context.Context, s model.Session, name string, typ model.SessionType) error {
	_, err := call(ctx, c.importSession, &ImportSessionRequest{Session: s, Name: name, Type: typ})
	return err
}

func (c *Client) GetAgentStatus(ctx context.Context, deviceID int64, pid int32) (model.AgentStatus, error) {
	res, err := read(ctx, c, c.getAgentStatus, &GetAgentStatusRequest{DeviceID: deviceID, PID: pid})
	if err != nil {
		return model.AgentUnspecified, err
	}
	return res.Status, nil
}

func (c *Client) GetCurrentTime(ctx context.Context, deviceID int64) (int64, error) {
	res, err := read(ctx, c, c.getCurrentTime, &GetCurrentTimeRequest{DeviceID: deviceID})
	if err != nil {
		return 0, err
	}
	return res.TimestampNs, nil
}

func call[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

// read is call for idempotent procedures.
func read[Req, Res any](ctx context.Context, c *Client, client *connect.Client[Req, Res], req *Req) (*Res, error) {
	var res *Res
	attempt := 0
	err := retry.Do(ctx, c.retry, func() error {
		attempt++
		var err error
		res, err = call(ctx, client, req)
		if err != nil && attempt < c.retry.MaxRetries && isTransient(err) {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Retrying read")
		}
		return err
	}, isTransient)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func headerInterceptor(token, userAgent string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			if userAgent != "" {
				req.Header().Set("User-Agent", userAgent)
			}
			return next(ctx, req)
		}
	}
}

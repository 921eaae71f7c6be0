// Package transport carries the profiler service over connect RPC. Messages
// are plain Go structs encoded as JSON.
package transport

import (
	"context"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

// ServiceName is the fully qualified RPC service name.
const ServiceName = "coral.profiler.v1.TransportService"

// Procedure paths.
const (
	GetDevicesProcedure         = "/" + ServiceName + "/GetDevices"
	GetProcessesProcedure       = "/" + ServiceName + "/GetProcesses"
	BeginSessionProcedure       = "/" + ServiceName + "/BeginSession"
	EndSessionProcedure         = "/" + ServiceName + "/EndSession"
	GetSessionsProcedure        = "/" + ServiceName + "/GetSessions"
	GetSessionMetaDataProcedure = "/" + ServiceName + "/GetSessionMetaData"
	ImportSessionProcedure      = "/" + ServiceName + "/ImportSession"
	GetAgentStatusProcedure     = "/" + ServiceName + "/GetAgentStatus"
	GetCurrentTimeProcedure     = "/" + ServiceName + "/GetCurrentTime"
)

// Service is the profiler service served by NewHandler and consumed through
// Client.
type Service interface {
	GetDevices(ctx context.Context) ([]model.Device, error)
	GetProcesses(ctx context.Context, deviceID int64) ([]model.Process, error)
	BeginSession(ctx context.Context, deviceID int64, pid int32, name string, cfg model.AgentConfig) (model.Session, error)
	EndSession(ctx context.Context, sessionID int64) (model.Session, error)
	GetSessions(ctx context.Context) ([]model.Session, error)
	GetSessionMetaData(ctx context.Context, sessionID int64) (model.SessionMetaData, error)
	ImportSession(ctx context.Context, s model.Session, name string, typ model.SessionType) error
	GetAgentStatus(ctx context.Context, deviceID int64, pid int32) (model.AgentStatus, error)
	GetCurrentTime(ctx context.Context, deviceID int64) (int64, error)
}

type GetDevicesRequest struct{}

type GetDevicesResponse struct {
	Devices []model.Device `json:"devices"`
}

type GetProcessesRequest struct {
	DeviceID int64 `json:"device_id"`
}

type GetProcessesResponse struct {
	Processes []model.Process `json:"processes"`
}

type BeginSessionRequest struct {
	DeviceID    int64             `json:"device_id"`
	PID         int32             `json:"pid"`
	SessionName string            `json:"session_name"`
	AgentConfig model.AgentConfig `json:"agent_config"`
}

type BeginSessionResponse struct {
	Session model.Session `json:"session"`
}

type EndSessionRequest struct {
	SessionID int64 `json:"session_id"`
}

type EndSessionResponse struct {
	Session model.Session `json:"session"`
}

type GetSessionsRequest struct{}

type GetSessionsResponse struct {
	Sessions []model.Session `json:"sessions"`
}

type GetSessionMetaDataRequest struct {
	SessionID int64 `json:"session_id"`
}

type GetSessionMetaDataResponse struct {
	MetaData model.SessionMetaData `json:"metadata"`
}

type ImportSessionRequest struct {
	Session model.Session     `json:"session"`
	Name    string            `json:"name"`
	Type    model.SessionType `json:"type"`
}

type ImportSessionResponse struct{}

type GetAgentStatusRequest struct {
	DeviceID int64 `json:"device_id"`
	PID      int32 `json:"pid"`
}

type GetAgentStatusResponse struct {
	Status model.AgentStatus `json:"status"`
}

type GetCurrentTimeRequest struct {
	DeviceID int64 `json:"device_id"`
}

type GetCurrentTimeResponse struct {
	TimestampNs int64 `json:"timestamp_ns"`
}

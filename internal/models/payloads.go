package models

import (
	"encoding/json"
	"time"
)

// These structs define the JSON payloads exchanged on the control channel
// between the front end and the running service.

// Command types.
const (
	CommandPing   = "ping"
	CommandReload = "reload_configuration"
	CommandStatus = "status"
)

// Response status values.
const (
	ResponseSuccess = "success"
	ResponseError   = "error"
)

// Command is a single control-plane request.
type Command struct {
	Type string `json:"type"`
}

// Response answers exactly one Command.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func Success(message string) Response { return Response{Status: ResponseSuccess, Message: message} }

func Failure(message string) Response { return Response{Status: ResponseError, Message: message} }

// WorkerState is the lifecycle state of one hotfolder worker.
type WorkerState string

const (
	WorkerIdle       WorkerState = "idle"
	WorkerProcessing WorkerState = "processing"
	WorkerDisabled   WorkerState = "disabled"
	WorkerFailed     WorkerState = "failed"
	WorkerStopped    WorkerState = "stopped"
)

// WorkerStatus is reported by the status command and the HTTP endpoint.
type WorkerStatus struct {
	HotfolderID string      `json:"hotfolderId"`
	Name        string      `json:"name"`
	InputPath   string      `json:"inputPath"`
	State       WorkerState `json:"state"`
	Current     string      `json:"current,omitempty"`
	Queued      int         `json:"queued"`
	Processed   int64       `json:"processed"`
	Failed      int64       `json:"failed"`
	LastError   string      `json:"lastError,omitempty"`
	Since       time.Time   `json:"since"`
}

// ServiceStatus aggregates all workers.
type ServiceStatus struct {
	StartedAt    time.Time      `json:"startedAt"`
	ConfigLoaded time.Time      `json:"configLoaded"`
	Workers      []WorkerStatus `json:"workers"`
}

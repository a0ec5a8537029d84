// Package rooms holds the registry record types shared by every provider
// backend and the session server.
package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusCreating   Status = "creating"
	StatusRunning    Status = "running"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

// CanTransition reports whether moving to next is a legal lifecycle step.
// The only forward path is creating → running → terminated; error is
// reachable from any state.
func (s Status) CanTransition(next Status) bool {
	if next == StatusError {
		return true
	}
	switch s {
	case StatusCreating:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusTerminated
	default:
		return false
	}
}

type ProviderKind string

const (
	ProviderCluster    ProviderKind = "cluster"
	ProviderDocker     ProviderKind = "docker"
	ProviderKubernetes ProviderKind = "kubernetes"
)

var ErrUnknownProvider = errors.New("unknown provider")

func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(s) {
	case ProviderCluster, ProviderDocker, ProviderKubernetes:
		return ProviderKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// ContainerStatus mirrors the docker daemon's view of the room container.
type ContainerStatus struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// DeploymentStatus mirrors the scheduler's view of the room deployment.
type DeploymentStatus struct {
	AvailableReplicas int32 `json:"availableReplicas"`
	ReadyReplicas     int32 `json:"readyReplicas"`
	Replicas          int32 `json:"replicas"`
}

// RoomInfo is the registry record for one live room, keyed room:<roomId>.
// The base fields are shared by every backend; the rest belong to the
// backend named in Provider and stay empty elsewhere.
type RoomInfo struct {
	RoomID     string       `json:"roomId"`
	Status     Status       `json:"status"`
	Provider   ProviderKind `json:"provider"`
	CreatedAt  time.Time    `json:"createdAt"`
	LastUpdate *time.Time   `json:"lastUpdate,omitempty"`
	Error      string       `json:"error,omitempty"`

	// cluster
	WorkerID *int `json:"workerId,omitempty"`
	PID      *int `json:"pid,omitempty"`

	// docker
	ContainerID     string           `json:"containerId,omitempty"`
	ContainerIP     string           `json:"containerIp,omitempty"`
	ContainerStatus *ContainerStatus `json:"containerStatus,omitempty"`

	// kubernetes
	DeploymentName   string            `json:"deploymentName,omitempty"`
	Namespace        string            `json:"namespace,omitempty"`
	DeploymentStatus *DeploymentStatus `json:"deploymentStatus,omitempty"`
}

func (r RoomInfo) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *RoomInfo) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Touched returns the record's freshest timestamp: LastUpdate when set,
// CreatedAt otherwise.
func (r *RoomInfo) Touched() time.Time {
	if r.LastUpdate != nil {
		return *r.LastUpdate
	}
	return r.CreatedAt
}

// Stale reports whether the owning execution unit missed its heartbeat
// window and the record is eligible for reclamation.
func (r *RoomInfo) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.Touched()) > threshold
}

// Patch is a partial RoomInfo update; nil fields are left untouched.
type Patch struct {
	Status           *Status           `json:"status,omitempty"`
	LastUpdate       *time.Time        `json:"lastUpdate,omitempty"`
	Error            *string           `json:"error,omitempty"`
	WorkerID         *int              `json:"workerId,omitempty"`
	PID              *int              `json:"pid,omitempty"`
	ContainerID      *string           `json:"containerId,omitempty"`
	ContainerIP      *string           `json:"containerIp,omitempty"`
	ContainerStatus  *ContainerStatus  `json:"containerStatus,omitempty"`
	DeploymentName   *string           `json:"deploymentName,omitempty"`
	Namespace        *string           `json:"namespace,omitempty"`
	DeploymentStatus *DeploymentStatus `json:"deploymentStatus,omitempty"`
}

// Merge applies the non-nil fields of p onto the record. It does not touch
// LastUpdate on its own; callers that want a heartbeat set it explicitly.
func (r *RoomInfo) Merge(p Patch) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.LastUpdate != nil {
		r.LastUpdate = p.LastUpdate
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.WorkerID != nil {
		r.WorkerID = p.WorkerID
	}
	if p.PID != nil {
		r.PID = p.PID
	}
	if p.ContainerID != nil {
		r.ContainerID = *p.ContainerID
	}
	if p.ContainerIP != nil {
		r.ContainerIP = *p.ContainerIP
	}
	if p.ContainerStatus != nil {
		r.ContainerStatus = p.ContainerStatus
	}
	if p.DeploymentName != nil {
		r.DeploymentName = *p.DeploymentName
	}
	if p.Namespace != nil {
		r.Namespace = *p.Namespace
	}
	if p.DeploymentStatus != nil {
		r.DeploymentStatus = p.DeploymentStatus
	}
}

// Options are caller-supplied knobs for CreateRoom.
type Options struct {
	RoomID   string            `json:"roomId,omitempty"`
	MaxUsers int               `json:"maxUsers,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

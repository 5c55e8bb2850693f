// Package instancepb defines the wire types and RPC plumbing for the
// instance manager protocol. Messages travel over gRPC using a JSON codec
// (content-type application/grpc+json); field presence is expressed with
// pointers and omitempty tags, which is what the registry's shape
// validation keys on.
package instancepb

// InstanceType identifies the kind of worker an instance runs.
type InstanceType string

const (
	TypeChromeBrowser       InstanceType = "chrome-browser"
	TypeAgent               InstanceType = "agent"
	TypeWarmpoolChromeProxy InstanceType = "warmpool-chrome-proxy"
	TypeFakeInstance        InstanceType = "fake-instance"
)

// Valid reports whether t is a known instance type.
func (t InstanceType) Valid() bool {
	switch t {
	case TypeChromeBrowser, TypeAgent, TypeWarmpoolChromeProxy, TypeFakeInstance:
		return true
	}
	return false
}

// KillReason records why an instance was killed.
type KillReason string

const (
	KillReasonUnspecified       KillReason = "unspecified"
	KillReasonTimeout           KillReason = "timeout"
	KillReasonHealthCheckFailed KillReason = "health-check-failed"
	KillReasonKilled            KillReason = "killed"
	KillReasonParentDead        KillReason = "parent-dead"
)

// Services lists the backend endpoints an instance exposes, as "host:port".
type Services struct {
	TimestampMs int64  `json:"timestamp_ms,omitempty"`
	ChromeDebug string `json:"chrome_debug,omitempty"`
	Automation  string `json:"automation,omitempty"`
}

// HealthCheck is a heartbeat marker. The timestamp is stamped by the
// registry, never by the sender.
type HealthCheck struct {
	TimestampMs int64 `json:"timestamp_ms,omitempty"`
}

// Relationship links one instance to another (parent or child edge).
type Relationship struct {
	InstanceID  string `json:"instance_id"`
	TimestampMs int64  `json:"timestamp_ms,omitempty"`
}

// KillRequest is the terminal marker on an instance. Once present no
// further lifecycle mutation is accepted.
type KillRequest struct {
	Reason      KillReason `json:"reason,omitempty"`
	TimestampMs int64      `json:"timestamp_ms,omitempty"`
}

// ProxyMetrics reports gateway traffic counters.
type ProxyMetrics struct {
	TimestampMs         int64 `json:"timestamp_ms,omitempty"`
	NumConnections      int64 `json:"num_connections,omitempty"`
	ActiveConnections   int64 `json:"active_connections,omitempty"`
	ClientToServerBytes int64 `json:"client_to_server_bytes,omitempty"`
	ServerToClientBytes int64 `json:"server_to_client_bytes,omitempty"`
}

// SystemMetrics reports container memory usage.
type SystemMetrics struct {
	TimestampMs      int64  `json:"timestamp_ms,omitempty"`
	UsedMemoryBytes  uint64 `json:"used_memory_bytes,omitempty"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes,omitempty"`
}

// GpuMetrics reports GPU memory usage for instances that have one.
type GpuMetrics struct {
	TimestampMs      int64  `json:"timestamp_ms,omitempty"`
	UsedMemoryBytes  uint64 `json:"used_memory_bytes,omitempty"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes,omitempty"`
}

// LlmMetrics reports model-serving counters for agent instances.
type LlmMetrics struct {
	TimestampMs     int64 `json:"timestamp_ms,omitempty"`
	RequestsTotal   int64 `json:"requests_total,omitempty"`
	TokensGenerated int64 `json:"tokens_generated,omitempty"`
}

// InstanceDescription is the authoritative record for one instance. Every
// RPC carries a (usually sparse) description; the registry merges the
// present fields into its copy.
type InstanceDescription struct {
	InstanceID         string         `json:"instance_id,omitempty"`
	InstanceType       InstanceType   `json:"instance_type,omitempty"`
	CreatedTimestampMs int64          `json:"created_timestamp_ms,omitempty"`
	Services           *Services      `json:"services,omitempty"`
	HealthCheck        *HealthCheck   `json:"health_check,omitempty"`
	Parent             *Relationship  `json:"parent,omitempty"`
	Children           []Relationship `json:"children,omitempty"`
	KillRequest        *KillRequest   `json:"kill_instance_request,omitempty"`
	ProxyMetrics       *ProxyMetrics  `json:"proxy_metrics,omitempty"`
	SystemMetrics      *SystemMetrics `json:"system_metrics,omitempty"`
	GpuMetrics         *GpuMetrics    `json:"gpu_metrics,omitempty"`
	LlmMetrics         *LlmMetrics    `json:"llm_metrics,omitempty"`
}

// Clone returns a deep copy. The registry owns its descriptions
// exclusively; readers always get copies.
func (d *InstanceDescription) Clone() *InstanceDescription {
	if d == nil {
		return nil
	}
	out := *d
	if d.Services != nil {
		s := *d.Services
		out.Services = &s
	}
	if d.HealthCheck != nil {
		h := *d.HealthCheck
		out.HealthCheck = &h
	}
	if d.Parent != nil {
		p := *d.Parent
		out.Parent = &p
	}
	if d.Children != nil {
		out.Children = append([]Relationship(nil), d.Children...)
	}
	if d.KillRequest != nil {
		k := *d.KillRequest
		out.KillRequest = &k
	}
	if d.ProxyMetrics != nil {
		m := *d.ProxyMetrics
		out.ProxyMetrics = &m
	}
	if d.SystemMetrics != nil {
		m := *d.SystemMetrics
		out.SystemMetrics = &m
	}
	if d.GpuMetrics != nil {
		m := *d.GpuMetrics
		out.GpuMetrics = &m
	}
	if d.LlmMetrics != nil {
		m := *d.LlmMetrics
		out.LlmMetrics = &m
	}
	return &out
}

// Alive reports whether the instance has no kill request recorded.
func (d *InstanceDescription) Alive() bool {
	return d.KillRequest == nil
}

// InstanceRef names one instance by id.
type InstanceRef struct {
	InstanceID string `json:"instance_id"`
}

// AllInstancesQuery selects instances by type.
type AllInstancesQuery struct {
	InstanceType InstanceType `json:"instance_type"`
}

// AllInstancesResponse lists matching instance ids.
type AllInstancesResponse struct {
	InstanceIDs []string `json:"instance_ids"`
}

// BoolValue is the conditional-mutation result: true means the mutation
// was applied, false means its precondition failed.
type BoolValue struct {
	Value bool `json:"value"`
}

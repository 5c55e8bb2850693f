// Package registry holds the authoritative in-memory state of every
// instance in the fleet: one record per instance id, guarded by a single
// mutex so conditional writes are linearizable. Conditional mutations
// report failure as a false result; errors are reserved for malformed or
// unresolvable requests.
package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// ErrNotFound is returned when a request names an instance id that is not
// registered.
var ErrNotFound = errors.New("instance not found")

// ErrSelfRelationship is returned when a parent or child write names the
// instance itself.
var ErrSelfRelationship = errors.New("instance cannot be its own relative")

// Store owns the instance map. Every timestamp stored in it comes from the
// store's clock, never from the caller.
type Store struct {
	mu        sync.Mutex
	instances map[string]*instancepb.InstanceDescription

	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates an empty store. The clock is injectable for tests; pass
// nil for time.Now.
func NewStore(now func() time.Time, logger *zap.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		instances: make(map[string]*instancepb.InstanceDescription),
		now:       now,
		logger:    logger,
	}
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// Add registers a new instance. The description must carry id and type;
// optional services and relationship fields are applied through the same
// path as updates, and the insert is rolled back if that application fails
// or reports false. A duplicate id is a false result.
func (s *Store) Add(desc *instancepb.InstanceDescription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[desc.InstanceID]; exists {
		return false, nil
	}

	s.instances[desc.InstanceID] = &instancepb.InstanceDescription{
		InstanceID:         desc.InstanceID,
		InstanceType:       desc.InstanceType,
		CreatedTimestampMs: s.nowMs(),
	}

	if desc.Services != nil || desc.Parent != nil || len(desc.Children) > 0 {
		rest := &instancepb.InstanceDescription{
			InstanceID: desc.InstanceID,
			Services:   desc.Services,
			Parent:     desc.Parent,
			Children:   desc.Children,
		}
		ok, err := s.applyLocked(rest)
		if err != nil || !ok {
			delete(s.instances, desc.InstanceID)
			return ok, err
		}
	}

	s.logger.Info("Instance registered",
		zap.String("instance_id", desc.InstanceID),
		zap.String("instance_type", string(desc.InstanceType)),
	)
	return true, nil
}

// Apply merges the present fields of desc into the registered instance.
// Missing target is ErrNotFound; a target that already has a kill request
// is a false result. Parent and child edges are validated before anything
// is mutated, so a rejected write leaves no partial state.
func (s *Store) Apply(desc *instancepb.InstanceDescription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(desc)
}

func (s *Store) applyLocked(desc *instancepb.InstanceDescription) (bool, error) {
	target, exists := s.instances[desc.InstanceID]
	if !exists {
		return false, ErrNotFound
	}
	if target.KillRequest != nil {
		return false, nil
	}

	// Validate relationship writes up front.
	if desc.Parent != nil {
		if desc.Parent.InstanceID == desc.InstanceID {
			return false, ErrSelfRelationship
		}
		parent, ok := s.instances[desc.Parent.InstanceID]
		if !ok {
			return false, ErrNotFound
		}
		if parent.KillRequest != nil || target.Parent != nil {
			return false, nil
		}
	}
	for _, c := range desc.Children {
		if c.InstanceID == desc.InstanceID {
			return false, ErrSelfRelationship
		}
		child, ok := s.instances[c.InstanceID]
		if !ok {
			return false, ErrNotFound
		}
		if child.KillRequest != nil || child.Parent != nil {
			return false, nil
		}
	}

	ts := s.nowMs()

	if desc.Services != nil {
		svc := *desc.Services
		svc.TimestampMs = ts
		target.Services = &svc
	}
	if desc.HealthCheck != nil {
		target.HealthCheck = &instancepb.HealthCheck{TimestampMs: ts}
	}
	if desc.Parent != nil {
		parent := s.instances[desc.Parent.InstanceID]
		target.Parent = &instancepb.Relationship{InstanceID: parent.InstanceID, TimestampMs: ts}
		parent.Children = append(parent.Children, instancepb.Relationship{
			InstanceID: target.InstanceID, TimestampMs: ts,
		})
	}
	for _, c := range desc.Children {
		child := s.instances[c.InstanceID]
		child.Parent = &instancepb.Relationship{InstanceID: target.InstanceID, TimestampMs: ts}
		target.Children = append(target.Children, instancepb.Relationship{
			InstanceID: child.InstanceID, TimestampMs: ts,
		})
	}
	if desc.ProxyMetrics != nil {
		m := *desc.ProxyMetrics
		m.TimestampMs = ts
		target.ProxyMetrics = &m
	}
	if desc.SystemMetrics != nil {
		m := *desc.SystemMetrics
		m.TimestampMs = ts
		target.SystemMetrics = &m
	}
	if desc.GpuMetrics != nil {
		m := *desc.GpuMetrics
		m.TimestampMs = ts
		target.GpuMetrics = &m
	}
	if desc.LlmMetrics != nil {
		m := *desc.LlmMetrics
		m.TimestampMs = ts
		target.LlmMetrics = &m
	}
	if desc.KillRequest != nil {
		target.KillRequest = &instancepb.KillRequest{
			Reason:      desc.KillRequest.Reason,
			TimestampMs: ts,
		}
		s.logger.Info("Instance killed",
			zap.String("instance_id", target.InstanceID),
			zap.String("reason", string(desc.KillRequest.Reason)),
		)
		s.cascadeKillLocked(target, ts)
	}

	return true, nil
}

// cascadeKillLocked kills every live descendant of victim with reason
// parent-dead. Runs under the store lock so the whole subtree dies in one
// critical section.
func (s *Store) cascadeKillLocked(victim *instancepb.InstanceDescription, ts int64) {
	work := append([]instancepb.Relationship(nil), victim.Children...)
	for len(work) > 0 {
		next := work[0]
		work = work[1:]
		child, ok := s.instances[next.InstanceID]
		if !ok || child.KillRequest != nil {
			continue
		}
		child.KillRequest = &instancepb.KillRequest{
			Reason:      instancepb.KillReasonParentDead,
			TimestampMs: ts,
		}
		s.logger.Info("Instance killed",
			zap.String("instance_id", child.InstanceID),
			zap.String("reason", string(instancepb.KillReasonParentDead)),
		)
		work = append(work, child.Children...)
	}
}

// Get returns a deep copy of one instance, or ErrNotFound.
func (s *Store) Get(id string) (*instancepb.InstanceDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// ListIDs returns the ids of instances of the given type that have
// reported at least one heartbeat and have no kill request.
func (s *Store) ListIDs(t instancepb.InstanceType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, d := range s.instances {
		if d.InstanceType == t && d.HealthCheck != nil && d.KillRequest == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns deep copies of every registered instance, including
// killed ones. Used by the reaper and the status page.
func (s *Store) Snapshot() []*instancepb.InstanceDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*instancepb.InstanceDescription, 0, len(s.instances))
	for _, d := range s.instances {
		out = append(out, d.Clone())
	}
	return out
}

// Len returns the number of registered instances, killed included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

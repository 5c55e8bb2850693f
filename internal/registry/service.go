package registry

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// Service exposes the store over the three RPC surfaces. Each surface
// accepts a different subset of InstanceDescription fields; anything
// outside its subset is rejected with InvalidArgument before the store is
// touched.
type Service struct {
	store *Store
}

// NewService wraps a store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

var (
	_ instancepb.TryServer  = (*Service)(nil)
	_ instancepb.PostServer = (*Service)(nil)
	_ instancepb.GetServer  = (*Service)(nil)
)

// TryAddInstance registers a new instance. Only id, type, services and
// relationship fields may be supplied; created timestamp, heartbeat, kill
// and metrics are registry-owned.
func (s *Service) TryAddInstance(ctx context.Context, desc *instancepb.InstanceDescription) (*instancepb.BoolValue, error) {
	if desc.InstanceID == "" {
		return nil, status.Error(codes.InvalidArgument, "instance_id is required")
	}
	if !desc.InstanceType.Valid() {
		return nil, status.Error(codes.InvalidArgument, "instance_type is required")
	}
	if desc.CreatedTimestampMs != 0 {
		return nil, status.Error(codes.InvalidArgument, "created_timestamp_ms is registry-assigned")
	}
	if desc.HealthCheck != nil {
		return nil, status.Error(codes.InvalidArgument, "health_check not allowed on add")
	}
	if desc.KillRequest != nil {
		return nil, status.Error(codes.InvalidArgument, "kill_instance_request not allowed on add")
	}
	if err := rejectMetrics(desc); err != nil {
		return nil, err
	}

	ok, err := s.store.Add(desc)
	if err != nil {
		return nil, rpcError(err)
	}
	return &instancepb.BoolValue{Value: ok}, nil
}

// TryUpdateInstanceDescription applies a sparse lifecycle update. Type and
// created timestamp are immutable; metrics belong to the post surface.
func (s *Service) TryUpdateInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription) (*instancepb.BoolValue, error) {
	if desc.InstanceID == "" {
		return nil, status.Error(codes.InvalidArgument, "instance_id is required")
	}
	if desc.InstanceType != "" {
		return nil, status.Error(codes.InvalidArgument, "instance_type is immutable")
	}
	if desc.CreatedTimestampMs != 0 {
		return nil, status.Error(codes.InvalidArgument, "created_timestamp_ms is immutable")
	}
	if err := rejectMetrics(desc); err != nil {
		return nil, err
	}

	ok, err := s.store.Apply(desc)
	if err != nil {
		return nil, rpcError(err)
	}
	return &instancepb.BoolValue{Value: ok}, nil
}

// PostInstanceDescription accepts metrics only.
func (s *Service) PostInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription) (*instancepb.BoolValue, error) {
	if desc.InstanceID == "" {
		return nil, status.Error(codes.InvalidArgument, "instance_id is required")
	}
	if desc.InstanceType != "" || desc.CreatedTimestampMs != 0 ||
		desc.Services != nil || desc.HealthCheck != nil ||
		desc.Parent != nil || len(desc.Children) > 0 || desc.KillRequest != nil {
		return nil, status.Error(codes.InvalidArgument, "only metrics may be posted")
	}

	ok, err := s.store.Apply(desc)
	if err != nil {
		return nil, rpcError(err)
	}
	return &instancepb.BoolValue{Value: ok}, nil
}

// GetAllInstances lists the ids of live, heartbeating instances of one
// type.
func (s *Service) GetAllInstances(ctx context.Context, q *instancepb.AllInstancesQuery) (*instancepb.AllInstancesResponse, error) {
	if !q.InstanceType.Valid() {
		return nil, status.Error(codes.InvalidArgument, "instance_type is required")
	}
	return &instancepb.AllInstancesResponse{InstanceIDs: s.store.ListIDs(q.InstanceType)}, nil
}

// GetInstance returns the full record of one instance.
func (s *Service) GetInstance(ctx context.Context, ref *instancepb.InstanceRef) (*instancepb.InstanceDescription, error) {
	if ref.InstanceID == "" {
		return nil, status.Error(codes.InvalidArgument, "instance_id is required")
	}
	d, err := s.store.Get(ref.InstanceID)
	if err != nil {
		return nil, rpcError(err)
	}
	return d, nil
}

func rejectMetrics(desc *instancepb.InstanceDescription) error {
	if desc.ProxyMetrics != nil || desc.SystemMetrics != nil ||
		desc.GpuMetrics != nil || desc.LlmMetrics != nil {
		return status.Error(codes.InvalidArgument, "metrics must go through the post surface")
	}
	return nil
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrSelfRelationship):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

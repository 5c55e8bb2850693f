package instancepb

import (
	"context"

	"google.golang.org/grpc"
)

// callOpts forces the JSON codec on every call so both peers frame
// messages the same way regardless of the connection's default codec.
func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
}

// TryClient issues conditional mutations against the registry.
type TryClient struct {
	cc grpc.ClientConnInterface
}

func NewTryClient(cc grpc.ClientConnInterface) *TryClient {
	return &TryClient{cc: cc}
}

// TryAddInstance registers a new instance. A false return means the
// precondition failed (for example the id already exists).
func (c *TryClient) TryAddInstance(ctx context.Context, desc *InstanceDescription, opts ...grpc.CallOption) (bool, error) {
	out := new(BoolValue)
	if err := c.cc.Invoke(ctx, MethodTryAddInstance, desc, out, callOpts(opts)...); err != nil {
		return false, err
	}
	return out.Value, nil
}

// TryUpdateInstanceDescription applies a sparse update to an existing
// instance. A false return means a precondition failed (instance killed,
// parent conflict, and so on).
func (c *TryClient) TryUpdateInstanceDescription(ctx context.Context, desc *InstanceDescription, opts ...grpc.CallOption) (bool, error) {
	out := new(BoolValue)
	if err := c.cc.Invoke(ctx, MethodTryUpdateInstanceDescription, desc, out, callOpts(opts)...); err != nil {
		return false, err
	}
	return out.Value, nil
}

// PostClient pushes best-effort metrics to the registry.
type PostClient struct {
	cc grpc.ClientConnInterface
}

func NewPostClient(cc grpc.ClientConnInterface) *PostClient {
	return &PostClient{cc: cc}
}

func (c *PostClient) PostInstanceDescription(ctx context.Context, desc *InstanceDescription, opts ...grpc.CallOption) (bool, error) {
	out := new(BoolValue)
	if err := c.cc.Invoke(ctx, MethodPostInstanceDescription, desc, out, callOpts(opts)...); err != nil {
		return false, err
	}
	return out.Value, nil
}

// GetClient reads registry state.
type GetClient struct {
	cc grpc.ClientConnInterface
}

func NewGetClient(cc grpc.ClientConnInterface) *GetClient {
	return &GetClient{cc: cc}
}

func (c *GetClient) GetAllInstances(ctx context.Context, q *AllInstancesQuery, opts ...grpc.CallOption) (*AllInstancesResponse, error) {
	out := new(AllInstancesResponse)
	if err := c.cc.Invoke(ctx, MethodGetAllInstances, q, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GetClient) GetInstance(ctx context.Context, ref *InstanceRef, opts ...grpc.CallOption) (*InstanceDescription, error) {
	out := new(InstanceDescription)
	if err := c.cc.Invoke(ctx, MethodGetInstance, ref, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

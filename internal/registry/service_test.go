package registry

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tzafon/warmpool/internal/instancepb"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewStore(newTestClock().now, nil))
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error %v is not a status error", err)
	}
	if st.Code() != want {
		t.Fatalf("status = %v (%s), want %v", st.Code(), st.Message(), want)
	}
}

func TestTryAddShapeValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		desc *instancepb.InstanceDescription
	}{
		{"missing id", &instancepb.InstanceDescription{
			InstanceType: instancepb.TypeChromeBrowser,
		}},
		{"missing type", &instancepb.InstanceDescription{
			InstanceID: "browser-1",
		}},
		{"unknown type", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: "toaster",
		}},
		{"caller-set created timestamp", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
			CreatedTimestampMs: 42,
		}},
		{"health check on add", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
			HealthCheck: &instancepb.HealthCheck{},
		}},
		{"kill on add", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
			KillRequest: &instancepb.KillRequest{Reason: instancepb.KillReasonKilled},
		}},
		{"metrics on add", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
			SystemMetrics: &instancepb.SystemMetrics{UsedMemoryBytes: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TryAddInstance(ctx, tt.desc)
			wantCode(t, err, codes.InvalidArgument)
		})
	}

	// Services are allowed on add.
	resp, err := svc.TryAddInstance(ctx, &instancepb.InstanceDescription{
		InstanceID:   "browser-1",
		InstanceType: instancepb.TypeChromeBrowser,
		Services:     &instancepb.Services{ChromeDebug: "127.0.0.1:9222"},
	})
	if err != nil {
		t.Fatalf("add with services: %v", err)
	}
	if !resp.Value {
		t.Error("add with services = false, want true")
	}
}

func TestTryUpdateShapeValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.TryAddInstance(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
	}); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	tests := []struct {
		name string
		desc *instancepb.InstanceDescription
	}{
		{"missing id", &instancepb.InstanceDescription{
			HealthCheck: &instancepb.HealthCheck{},
		}},
		{"type change", &instancepb.InstanceDescription{
			InstanceID: "browser-1", InstanceType: instancepb.TypeAgent,
		}},
		{"created change", &instancepb.InstanceDescription{
			InstanceID: "browser-1", CreatedTimestampMs: 42,
		}},
		{"metrics on update", &instancepb.InstanceDescription{
			InstanceID:   "browser-1",
			ProxyMetrics: &instancepb.ProxyMetrics{NumConnections: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TryUpdateInstanceDescription(ctx, tt.desc)
			wantCode(t, err, codes.InvalidArgument)
		})
	}

	resp, err := svc.TryUpdateInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID:  "browser-1",
		HealthCheck: &instancepb.HealthCheck{},
	})
	if err != nil {
		t.Fatalf("heartbeat update: %v", err)
	}
	if !resp.Value {
		t.Error("heartbeat update = false, want true")
	}
}

func TestPostShapeValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.TryAddInstance(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
	}); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	_, err := svc.PostInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID:  "browser-1",
		HealthCheck: &instancepb.HealthCheck{},
	})
	wantCode(t, err, codes.InvalidArgument)

	resp, err := svc.PostInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID:    "browser-1",
		SystemMetrics: &instancepb.SystemMetrics{UsedMemoryBytes: 1 << 20},
	})
	if err != nil {
		t.Fatalf("post metrics: %v", err)
	}
	if !resp.Value {
		t.Error("post metrics = false, want true")
	}

	_, err = svc.PostInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID:    "ghost",
		SystemMetrics: &instancepb.SystemMetrics{UsedMemoryBytes: 1},
	})
	wantCode(t, err, codes.NotFound)
}

func TestGetSurface(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetInstance(ctx, &instancepb.InstanceRef{InstanceID: "ghost"})
	wantCode(t, err, codes.NotFound)

	_, err = svc.GetAllInstances(ctx, &instancepb.AllInstancesQuery{InstanceType: "toaster"})
	wantCode(t, err, codes.InvalidArgument)

	if _, err := svc.TryAddInstance(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
	}); err != nil {
		t.Fatalf("seed add: %v", err)
	}
	if _, err := svc.TryUpdateInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1", HealthCheck: &instancepb.HealthCheck{},
	}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	resp, err := svc.GetAllInstances(ctx, &instancepb.AllInstancesQuery{
		InstanceType: instancepb.TypeChromeBrowser,
	})
	if err != nil {
		t.Fatalf("GetAllInstances: %v", err)
	}
	if len(resp.InstanceIDs) != 1 || resp.InstanceIDs[0] != "browser-1" {
		t.Errorf("instance_ids = %v, want [browser-1]", resp.InstanceIDs)
	}

	d, err := svc.GetInstance(ctx, &instancepb.InstanceRef{InstanceID: "browser-1"})
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if d.InstanceType != instancepb.TypeChromeBrowser {
		t.Errorf("instance_type = %s, want chrome-browser", d.InstanceType)
	}
}

func TestSelfParentIsInvalidArgument(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.TryAddInstance(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1", InstanceType: instancepb.TypeChromeBrowser,
	}); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	_, err := svc.TryUpdateInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID: "browser-1",
		Parent:     &instancepb.Relationship{InstanceID: "browser-1"},
	})
	wantCode(t, err, codes.InvalidArgument)
}

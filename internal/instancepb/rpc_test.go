package instancepb

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type recordingTryServer struct {
	lastAdd *InstanceDescription
}

func (s *recordingTryServer) TryAddInstance(ctx context.Context, desc *InstanceDescription) (*BoolValue, error) {
	s.lastAdd = desc
	return &BoolValue{Value: true}, nil
}

func (s *recordingTryServer) TryUpdateInstanceDescription(ctx context.Context, desc *InstanceDescription) (*BoolValue, error) {
	return &BoolValue{Value: false}, nil
}

func startServer(t *testing.T, impl TryServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.ChainUnaryInterceptor(ServerVersionInterceptor()),
	)
	RegisterTryServer(srv, impl)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestRoundTripWithVersion(t *testing.T) {
	impl := &recordingTryServer{}
	addr := startServer(t, impl)

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(ClientVersionInterceptor()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := NewTryClient(conn).TryAddInstance(ctx, &InstanceDescription{
		InstanceID:   "browser-1",
		InstanceType: TypeChromeBrowser,
		Services:     &Services{ChromeDebug: "127.0.0.1:9222"},
	})
	if err != nil {
		t.Fatalf("TryAddInstance: %v", err)
	}
	if !ok {
		t.Error("TryAddInstance = false, want true")
	}

	got := impl.lastAdd
	if got == nil {
		t.Fatal("server did not receive the request")
	}
	if got.InstanceID != "browser-1" || got.InstanceType != TypeChromeBrowser {
		t.Errorf("received %+v, want browser-1/chrome-browser", got)
	}
	if got.Services == nil || got.Services.ChromeDebug != "127.0.0.1:9222" {
		t.Errorf("services did not survive the codec: %+v", got.Services)
	}
	if got.HealthCheck != nil || got.KillRequest != nil {
		t.Error("absent fields decoded as present")
	}
}

func TestMissingVersionRejected(t *testing.T) {
	addr := startServer(t, &recordingTryServer{})

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = NewTryClient(conn).TryAddInstance(ctx, &InstanceDescription{InstanceID: "x"})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		t.Fatalf("err = %v, want FailedPrecondition", err)
	}
	if got, want := st.Message(), "No version supplied"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestWrongVersionRejected(t *testing.T) {
	addr := startServer(t, &recordingTryServer{})

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, versionHeader, "warmpool.v0")

	_, err = NewTryClient(conn).TryAddInstance(ctx, &InstanceDescription{InstanceID: "x"})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		t.Fatalf("err = %v, want FailedPrecondition", err)
	}
	if got, want := st.Message(), "Wrong protocol versions"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

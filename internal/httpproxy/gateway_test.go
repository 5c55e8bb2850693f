package httpproxy

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// startEchoUpstream starts a server that reads one request head, reports
// it on headCh, answers 200 and then echoes every byte it receives.
func startEchoUpstream(t *testing.T) (addr string, headCh chan *Request) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	headCh = make(chan *Request, 1)
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				req, err := ReadRequest(conn)
				if err != nil {
					return
				}
				headCh <- req
				conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
				io.Copy(conn, conn)
			}(conn)
		}
	}()
	return lis.Addr().String(), headCh
}

func startGateway(t *testing.T, backend Backend) (*Gateway, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen gateway: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	g := NewGateway(addr, backend, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.Run(ctx)

	// Wait for the listener to come up.
	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return g, addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("gateway on %s never came up", addr)
	return nil, ""
}

func TestGatewayEndToEnd(t *testing.T) {
	upstreamAddr, headCh := startEchoUpstream(t)

	g, addr := startGateway(t, &StaticBackend{
		Addr:    upstreamAddr,
		Rewrite: HostRewrite(upstreamAddr, "/json/version"),
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	head := "GET / HTTP/1.1\r\nHost: front.example\r\nUpgrade: websocket\r\n\r\n"
	if _, err := conn.Write([]byte(head + "ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "HTTP/1.1 200 OK\r\n\r\nping"; string(got) != want {
		t.Errorf("client received %q, want %q", got, want)
	}

	select {
	case req := <-headCh:
		if req.Path != "/json/version" {
			t.Errorf("upstream path = %q, want rewritten /json/version", req.Path)
		}
		if v, _ := req.HeaderValue("Host"); v != upstreamAddr {
			t.Errorf("upstream Host = %q, want %q", v, upstreamAddr)
		}
		if v, _ := req.HeaderValue("Upgrade"); v != "websocket" {
			t.Errorf("Upgrade header lost: %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received the request head")
	}

	m := g.Metrics().Snapshot()
	if m.NumConnections != 1 {
		t.Errorf("num_connections = %d, want 1", m.NumConnections)
	}
	if m.ClientToServerBytes != int64(len("ping")) {
		t.Errorf("client_to_server_bytes = %d, want %d", m.ClientToServerBytes, len("ping"))
	}
	if m.ServerToClientBytes != int64(len("HTTP/1.1 200 OK\r\n\r\nping")) {
		t.Errorf("server_to_client_bytes = %d", m.ServerToClientBytes)
	}
}

func TestGatewayDropsMalformedClient(t *testing.T) {
	upstreamAddr, _ := startEchoUpstream(t)
	_, addr := startGateway(t, &StaticBackend{Addr: upstreamAddr})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	// No spaces in the request line: unparseable.
	conn.Write([]byte("NONSENSE\r\n\r\n"))
	conn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("read after malformed head = %v, want EOF", err)
	}
}

func TestGatewaySurvivesUnreachableUpstream(t *testing.T) {
	// Backend pointing at a dead port: the client connection must fail
	// without taking the gateway down.
	deadLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := deadLis.Addr().String()
	deadLis.Close()

	_, addr := startGateway(t, &StaticBackend{Addr: deadAddr, DialTimeout: time.Second})

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial gateway (attempt %d): %v", i, err)
		}
		conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadAll(conn); err != nil && !strings.Contains(err.Error(), "closed") {
			t.Logf("attempt %d read error: %v", i, err)
		}
		conn.Close()
	}
}

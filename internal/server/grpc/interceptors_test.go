package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/linkauth.v1.Commands/CreateSession"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	internal := status.Error(codes.Internal, "storage down")
	hInternal := func(ctx context.Context, req any) (any, error) { return nil, internal }
	if _, err = ic(ctx, "req", info, hInternal); err != internal {
		t.Fatalf("want status error passed through, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/linkauth.v1.Commands/HandleCallback"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/linkauth.v1.Commands/GetSession"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/linkauth.v1.Commands/ClearAllSessions"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

type namedAddr struct{ network, addr string }

func (a namedAddr) Network() string { return a.network }
func (a namedAddr) String() string  { return a.addr }

func TestLocalOnlyUnary(t *testing.T) {
	t.Parallel()

	ic := LocalOnlyUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/linkauth.v1.Commands/CreateSession"}
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	tests := []struct {
		name string
		addr net.Addr
		ok   bool
	}{
		{"loopback v4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, true},
		{"loopback v6", &net.TCPAddr{IP: net.IPv6loopback, Port: 1}, true},
		{"lan", &net.TCPAddr{IP: net.IPv4(192, 168, 1, 5), Port: 1}, false},
		{"unix", &net.UnixAddr{Name: "/run/linkauth.sock", Net: "unix"}, true},
		{"bufconn", namedAddr{"bufconn", "bufconn"}, true},
		{"string loopback", fakeAddr{}, true},
		{"string remote", namedAddr{"tcp", "10.0.0.1:443"}, false},
		{"garbage", namedAddr{"tcp", "nonsense"}, false},
	}
	for _, tt := range tests {
		ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: tt.addr})
		_, err := ic(ctx, "req", info, h)
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected err: %v", tt.name, err)
		}
		if !tt.ok && status.Code(err) != codes.PermissionDenied {
			t.Fatalf("%s: want PermissionDenied, got %v", tt.name, err)
		}
	}

	if _, err := ic(context.Background(), "req", info, h); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("want PermissionDenied without peer, got %v", err)
	}
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

func TestStreamInterceptors(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	info := &grpc.StreamServerInfo{FullMethod: "/linkauth.v1.Commands/SubscribeEvents", IsServerStream: true}
	local := ctxStream{ctx: peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})}
	remote := ctxStream{ctx: peer.NewContext(context.Background(), &peer.Peer{Addr: namedAddr{"tcp", "10.0.0.1:443"}})}

	called := false
	h := func(any, grpc.ServerStream) error { called = true; return nil }

	if err := LocalOnlyStream()(nil, remote, info, h); status.Code(err) != codes.PermissionDenied || called {
		t.Fatalf("remote stream: err=%v called=%v", err, called)
	}
	if err := LocalOnlyStream()(nil, local, info, h); err != nil || !called {
		t.Fatalf("local stream: err=%v called=%v", err, called)
	}

	panicH := func(any, grpc.ServerStream) error { panic("oh no") }
	if err := RecoverStream(log)(nil, local, info, panicH); status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	failH := func(any, grpc.ServerStream) error { return status.Error(codes.Unavailable, "event bus closed") }
	if err := LoggingStream(log)(nil, local, info, failH); status.Code(err) != codes.Unavailable {
		t.Fatalf("logging changed the error: %v", err)
	}
}

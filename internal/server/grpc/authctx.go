package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// isLocalPeer reports whether the caller is on this machine: a loopback TCP address,
// a unix socket or an in-process pipe.
func isLocalPeer(ctx context.Context) bool {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return false
	}
	switch a := p.Addr.(type) {
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	case *net.UnixAddr:
		return true
	}
	if p.Addr.Network() == "pipe" || p.Addr.Network() == "bufconn" {
		return true
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LocalOnlyUnary rejects callers that are not on this machine.
func LocalOnlyUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !isLocalPeer(ctx) {
			return nil, status.Error(codes.PermissionDenied, "local callers only")
		}
		return next(ctx, req)
	}
}

// LocalOnlyStream is LocalOnlyUnary for streaming calls.
func LocalOnlyStream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if !isLocalPeer(ss.Context()) {
			return status.Error(codes.PermissionDenied, "local callers only")
		}
		return next(srv, ss)
	}
}

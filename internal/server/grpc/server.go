// Package grpcserver exposes the linkauth command API to the UI over loopback gRPC.
package grpcserver

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/and161185/linkauth/internal/api"
	"github.com/and161185/linkauth/internal/deeplink"
	"github.com/and161185/linkauth/internal/model"
	"github.com/and161185/linkauth/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DeepLinks is the deep-link router as seen by the command surface.
type DeepLinks interface {
	Deliver(url string) error
	CurrentDeepLink() (string, bool)
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// URLOpener opens validated auth URLs in the browser.
type URLOpener interface {
	OpenAuthURL(ctx context.Context, url string) error
}

// AuthURLBuilder builds the provider authorization URL for a fresh session.
type AuthURLBuilder interface {
	AuthorizeURL(state, challenge string) (string, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	sessions service.AuthSessionManager
	links    DeepLinks
	opener   URLOpener
	authURL  AuthURLBuilder
}

var _ api.CommandsServer = (*Server)(nil)

// New constructs a gRPC server with injected services. authURL may be nil.
func New(sessions service.AuthSessionManager, links DeepLinks, opener URLOpener, authURL AuthURLBuilder) *Server {
	return &Server{sessions: sessions, links: links, opener: opener, authURL: authURL}
}

// CreateSession starts a login attempt for the calling device.
func (s *Server) CreateSession(ctx context.Context, req *api.CreateSessionRequest) (*api.CreateSessionResponse, error) {
	if strings.TrimSpace(req.Device.DeviceID) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty device_id")
	}
	sess, err := s.sessions.GenerateAuthSession(ctx, req.Device)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.CreateSessionResponse{Session: api.NewSessionView(sess)}
	if s.authURL != nil && sess.PKCE != nil {
		u, err := s.authURL.AuthorizeURL(sess.State, sess.PKCE.Challenge)
		if err != nil {
			return nil, toStatus(err)
		}
		resp.AuthURL = u
	}
	return resp, nil
}

// HandleCallback completes a login attempt from a redirect URL.
func (s *Server) HandleCallback(ctx context.Context, req *api.HandleCallbackRequest) (*api.HandleCallbackResponse, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty url")
	}
	sess, err := s.sessions.HandleAuthCallback(ctx, req.URL)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.HandleCallbackResponse{Session: api.NewSessionView(sess)}, nil
}

// ClearSession removes one session.
func (s *Server) ClearSession(ctx context.Context, req *api.ClearSessionRequest) (*api.Empty, error) {
	if err := s.sessions.ClearAuthSession(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

// ClearAllSessions removes every session.
func (s *Server) ClearAllSessions(ctx context.Context, _ *api.Empty) (*api.Empty, error) {
	if err := s.sessions.ClearAllAuthSessions(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

// GetSession loads a live session. Absent and expired sessions are reported as not found.
func (s *Server) GetSession(ctx context.Context, req *api.GetSessionRequest) (*api.GetSessionResponse, error) {
	if req.SessionID == "" || req.DeviceID == "" || req.State == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id, device_id and state are required")
	}
	sess, err := s.sessions.GetAuthSession(ctx, req.SessionID, req.DeviceID, req.State)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.GetSessionResponse{Session: api.NewSessionView(sess), Found: sess != nil}, nil
}

// OpenAuthURL opens an https (or loopback http) URL in the system browser.
func (s *Server) OpenAuthURL(ctx context.Context, req *api.OpenAuthURLRequest) (*api.Empty, error) {
	if err := s.opener.OpenAuthURL(ctx, req.URL); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

// DeliverDeepLink hands a URL received by the OS scheme handler to the router.
func (s *Server) DeliverDeepLink(_ context.Context, req *api.DeliverDeepLinkRequest) (*api.Empty, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty url")
	}
	if err := s.links.Deliver(req.URL); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

// CurrentDeepLink returns the last URL the router received.
func (s *Server) CurrentDeepLink(context.Context, *api.Empty) (*api.CurrentDeepLinkResponse, error) {
	u, ok := s.links.CurrentDeepLink()
	return &api.CurrentDeepLinkResponse{URL: u, Found: ok}, nil
}

type topicMessage struct {
	topic string
	msg   *message.Message
}

// SubscribeEvents streams router events to the UI until the client leaves or the event bus closes.
func (s *Server) SubscribeEvents(req *api.SubscribeEventsRequest, stream grpc.ServerStreamingServer[api.Event]) error {
	topics := req.Topics
	if len(topics) == 0 {
		topics = deeplink.Topics
	}
	for _, t := range topics {
		if !slices.Contains(deeplink.Topics, t) {
			return status.Errorf(codes.InvalidArgument, "unknown topic %q", t)
		}
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	in := make(chan topicMessage)
	var wg sync.WaitGroup
	for _, t := range slices.Compact(slices.Sorted(slices.Values(topics))) {
		msgs, err := s.links.Subscribe(ctx, t)
		if err != nil {
			return toStatus(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgs {
				select {
				case in <- topicMessage{topic: t, msg: m}:
				case <-ctx.Done():
					m.Nack()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(in)
	}()

	if err := stream.Send(&api.Event{Topic: api.TopicReady}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case tm, ok := <-in:
			if !ok {
				return status.Error(codes.Unavailable, "event bus closed")
			}
			ev, err := decodeEvent(tm.topic, tm.msg.Payload)
			tm.msg.Ack()
			if err != nil {
				return status.Errorf(codes.Internal, "decode %s event: %v", tm.topic, err)
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}

func decodeEvent(topic string, payload []byte) (*api.Event, error) {
	ev := &api.Event{Topic: topic}
	var dst any
	switch topic {
	case deeplink.TopicDeepLink:
		ev.DeepLink = new(model.DeepLinkEvent)
		dst = ev.DeepLink
	case deeplink.TopicAuthCallback:
		ev.Callback = new(model.CallbackData)
		dst = ev.Callback
	default:
		ev.Outcome = new(model.AuthOutcome)
		dst = ev.Outcome
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return nil, err
	}
	return ev, nil
}

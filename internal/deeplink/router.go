package deeplink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/and161185/linkauth/internal/errs"
	"go.uber.org/zap"
)

// DefaultBuffer is the number of undelivered URLs Deliver accepts before refusing.
const DefaultBuffer = 64

// PubSub carries router events.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

// NewPubSub returns the in-process pub/sub used by the daemon.
func NewPubSub(log *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: DefaultBuffer}, NewZapLogger(log))
}

// Router accepts URLs from the OS and republishes them as events from a single consumer goroutine.
type Router struct {
	log *zap.Logger
	ps  PubSub
	now func() time.Time

	mu      sync.Mutex
	in      chan string
	closed  bool
	current string
}

// NewRouter constructs a Router with room for buffer pending URLs.
func NewRouter(ps PubSub, log *zap.Logger, buffer int) *Router {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Router{
		log: log,
		ps:  ps,
		now: func() time.Time { return time.Now().UTC() },
		in:  make(chan string, buffer),
	}
}

// Deliver queues raw for the consumer and returns immediately.
func (r *Router) Deliver(raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%w: router closed", errs.ErrDeepLink)
	}
	select {
	case r.in <- raw:
		r.current = raw
		return nil
	default:
		return fmt.Errorf("%w: delivery buffer full", errs.ErrDeepLink)
	}
}

// CurrentDeepLink returns the URL that launched the process or arrived last.
func (r *Router) CurrentDeepLink() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// Close stops accepting URLs. Run drains what is queued and returns.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.in)
	}
}

// Run consumes queued URLs until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-r.in:
			if !ok {
				return nil
			}
			r.handle(raw)
		}
	}
}

func (r *Router) handle(raw string) {
	ev, cb, err := parseAt(raw, r.now())
	if err != nil {
		// The URL may carry a live code and state, so neither it nor the parse error is logged.
		r.log.Warn("drop malformed deep link", zap.Int("length", len(raw)))
		return
	}
	if cb != nil {
		r.publish(TopicAuthCallback, cb)
	}
	r.publish(TopicDeepLink, ev)
}

func (r *Router) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.Error("marshal event", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := r.ps.Publish(topic, msg); err != nil {
		r.log.Error("publish event", zap.String("topic", topic), zap.Error(err))
		return
	}
	r.log.Debug("event published", zap.String("topic", topic), zap.String("msg_id", msg.UUID))
}

// Subscribe returns a stream of events on topic. Each message must be acked.
func (r *Router) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := r.ps.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", errs.ErrDeepLink, topic, err)
	}
	return ch, nil
}

package deeplink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/and161185/linkauth/internal/model"
	"go.uber.org/zap"
)

// CallbackCompleter finishes an auth flow from callback data.
type CallbackCompleter interface {
	CompleteCallback(ctx context.Context, cb model.CallbackData) (*model.AuthSession, error)
}

// CallbackConsumer forwards auth_callback events to the session manager
// and publishes each outcome on auth_result.
type CallbackConsumer struct {
	router    *Router
	completer CallbackCompleter
	log       *zap.Logger
	results   chan<- CallbackResult
}

// CallbackResult reports the outcome of one forwarded callback.
type CallbackResult struct {
	Session *model.AuthSession
	Err     error
}

// NewCallbackConsumer constructs a consumer. results may be nil.
func NewCallbackConsumer(r *Router, c CallbackCompleter, log *zap.Logger, results chan<- CallbackResult) *CallbackConsumer {
	return &CallbackConsumer{router: r, completer: c, log: log, results: results}
}

// Run subscribes and processes callbacks until ctx is done.
func (c *CallbackConsumer) Run(ctx context.Context) error {
	msgs, err := c.router.Subscribe(ctx, TopicAuthCallback)
	if err != nil {
		return err
	}
	return c.consume(ctx, msgs)
}

// Start subscribes before returning, so callbacks published afterwards are not lost,
// and consumes in the background. The returned channel closes when consumption stops.
func (c *CallbackConsumer) Start(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := c.router.Subscribe(ctx, TopicAuthCallback)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.consume(ctx, msgs)
	}()
	return done, nil
}

func (c *CallbackConsumer) consume(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, msg.Payload)
			msg.Ack()
		}
	}
}

func (c *CallbackConsumer) handle(ctx context.Context, payload []byte) {
	var cb model.CallbackData
	if err := json.Unmarshal(payload, &cb); err != nil {
		c.log.Error("decode auth callback", zap.Error(err))
		return
	}
	sess, err := c.completer.CompleteCallback(ctx, cb)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		c.log.Info("auth callback interrupted")
	case err != nil:
		c.log.Warn("auth callback rejected", zap.Error(err))
	default:
		c.log.Info("auth session authenticated", zap.String("session_id", sess.ID))
	}
	c.router.publish(TopicAuthResult, outcome(sess, err, c.router.now()))
	if c.results != nil {
		select {
		case c.results <- CallbackResult{Session: sess, Err: err}:
		case <-ctx.Done():
		}
	}
}

func outcome(sess *model.AuthSession, err error, now time.Time) model.AuthOutcome {
	o := model.AuthOutcome{Timestamp: now}
	if sess != nil {
		o.SessionID = sess.ID
		o.Status = sess.Status
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

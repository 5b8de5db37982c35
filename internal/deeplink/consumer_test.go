package deeplink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCompleter struct {
	mu   sync.Mutex
	seen []model.CallbackData
	err  error
}

func (f *fakeCompleter) CompleteCallback(_ context.Context, cb model.CallbackData) (*model.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, cb)
	if f.err != nil {
		return nil, f.err
	}
	return &model.AuthSession{ID: "s-1", Status: model.StatusAuthenticated}, nil
}

func TestCallbackConsumer_ForwardsCallbacks(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 4)
	fc := &fakeCompleter{}
	results := make(chan CallbackResult, 2)
	c := NewCallbackConsumer(r, fc, log, results)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.Run(ctx) }()
	// gochannel drops messages published before the consumer subscribes.
	time.Sleep(50 * time.Millisecond)
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, r.Deliver("linkauth://settings"))
	require.NoError(t, r.Deliver("linkauth://auth/callback?code=abc&state=xyz"))

	select {
	case res := <-results:
		require.NoError(t, res.Err)
		require.Equal(t, "s-1", res.Session.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not forwarded")
	}

	fc.mu.Lock()
	require.Len(t, fc.seen, 1)
	require.Equal(t, "abc", *fc.seen[0].Code)
	fc.mu.Unlock()

	fc.mu.Lock()
	fc.err = errs.ErrInvalidCode
	fc.mu.Unlock()
	require.NoError(t, r.Deliver("linkauth://auth/callback?code=def&state=xyz"))
	select {
	case res := <-results:
		require.ErrorIs(t, res.Err, errs.ErrInvalidCode)
		require.Nil(t, res.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not forwarded")
	}
}

func TestCallbackConsumer_StartSubscribesBeforeReturning(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 4)
	results := make(chan CallbackResult, 1)
	c := NewCallbackConsumer(r, &fakeCompleter{}, log, results)

	ctx, cancel := context.WithCancel(context.Background())

	done, err := c.Start(ctx)
	require.NoError(t, err)
	go func() { _ = r.Run(ctx) }()
	require.NoError(t, r.Deliver("linkauth://auth/callback?code=abc&state=xyz"))

	select {
	case res := <-results:
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not forwarded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestCallbackConsumer_PublishesOutcomes(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 4)
	fc := &fakeCompleter{}
	c := NewCallbackConsumer(r, fc, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	outcomes, err := r.Subscribe(ctx, TopicAuthResult)
	require.NoError(t, err)
	_, err = c.Start(ctx)
	require.NoError(t, err)
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, r.Deliver("linkauth://auth/callback?code=abc&state=xyz"))
	var o model.AuthOutcome
	require.NoError(t, json.Unmarshal(next(t, outcomes).Payload, &o))
	require.Equal(t, "s-1", o.SessionID)
	require.Equal(t, model.StatusAuthenticated, o.Status)
	require.Empty(t, o.Error)
	require.False(t, o.Timestamp.IsZero())

	fc.mu.Lock()
	fc.err = errs.ErrExpiredCode
	fc.mu.Unlock()
	require.NoError(t, r.Deliver("linkauth://auth/callback?code=def&state=xyz"))
	o = model.AuthOutcome{}
	require.NoError(t, json.Unmarshal(next(t, outcomes).Payload, &o))
	require.Empty(t, o.SessionID)
	require.Contains(t, o.Error, errs.ErrExpiredCode.Error())
}

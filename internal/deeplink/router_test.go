package deeplink

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func next(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m := <-ch:
		m.Ack()
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return nil
	}
}

func none(t *testing.T, ch <-chan *message.Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %s", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouter_PublishesEvents(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cbs, err := r.Subscribe(ctx, TopicAuthCallback)
	require.NoError(t, err)
	links, err := r.Subscribe(ctx, TopicDeepLink)
	require.NoError(t, err)
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, r.Deliver("linkauth://auth/callback?code=abc&state=xyz"))

	var cb model.CallbackData
	require.NoError(t, json.Unmarshal(next(t, cbs).Payload, &cb))
	require.Equal(t, "abc", *cb.Code)
	require.Equal(t, "xyz", *cb.State)

	var ev model.DeepLinkEvent
	require.NoError(t, json.Unmarshal(next(t, links).Payload, &ev))
	require.Equal(t, "linkauth://auth/callback?code=abc&state=xyz", ev.URL)
	require.Equal(t, "abc", ev.ParsedParams["code"])

	require.NoError(t, r.Deliver("not a url"))
	require.NoError(t, r.Deliver("linkauth://settings?tab=2"))

	require.NoError(t, json.Unmarshal(next(t, links).Payload, &ev))
	require.Equal(t, "linkauth://settings?tab=2", ev.URL)
	none(t, cbs)

	cur, ok := r.CurrentDeepLink()
	require.True(t, ok)
	require.Equal(t, "linkauth://settings?tab=2", cur)
}

func TestRouter_DeliverBackpressureAndClose(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 1)

	_, ok := r.CurrentDeepLink()
	require.False(t, ok)

	require.NoError(t, r.Deliver("linkauth://a"))
	require.ErrorIs(t, r.Deliver("linkauth://b"), errs.ErrDeepLink)
	cur, ok := r.CurrentDeepLink()
	require.True(t, ok)
	require.Equal(t, "linkauth://a", cur, "refused link must not become current")

	r.Close()
	r.Close()
	require.ErrorIs(t, r.Deliver("linkauth://c"), errs.ErrDeepLink)
	cur, _ = r.CurrentDeepLink()
	require.Equal(t, "linkauth://a", cur)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRouter_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	ps := NewPubSub(log)
	defer ps.Close()
	r := NewRouter(ps, log, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestRouter_MalformedLinkLogRedacted(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	ps := NewPubSub(zaptest.NewLogger(t))
	defer ps.Close()
	r := NewRouter(ps, log, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	links, err := r.Subscribe(ctx, TopicDeepLink)
	require.NoError(t, err)
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, r.Deliver("http://[::1/auth/callback?code=SECRETCODE&state=SECRETSTATE"))
	require.NoError(t, r.Deliver("linkauth://settings"))
	next(t, links)

	dropped := logs.FilterMessage("drop malformed deep link").All()
	require.Len(t, dropped, 1)
	for _, e := range logs.All() {
		require.NotContains(t, e.Message, "SECRET")
		for k, v := range e.ContextMap() {
			require.NotContains(t, fmt.Sprint(v), "SECRET", "field %s", k)
		}
	}
}

package loopback

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeDeliverer struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeDeliverer) Deliver(u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, u)
	return nil
}

func TestCallback_Delivers(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	r := SetupRouter(d, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:53682/auth/callback?code=abc&state=xyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "close this window")
	require.Equal(t, []string{"http://127.0.0.1:53682/auth/callback?code=abc&state=xyz"}, d.urls)
}

func TestCallback_DeliverFailure(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{err: errs.ErrDeepLink}
	r := SetupRouter(d, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_UnknownPathAndHealth(t *testing.T) {
	t.Parallel()
	r := SetupRouter(&fakeDeliverer{}, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	log := zaptest.NewLogger(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(SetupRouter(d, log), log).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/auth/callback?code=abc&state=xyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d.mu.Lock()
	require.Len(t, d.urls, 1)
	require.True(t, strings.HasSuffix(d.urls[0], "/auth/callback?code=abc&state=xyz"))
	d.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

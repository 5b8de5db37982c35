// Package loopback serves the redirect_uri on 127.0.0.1 and feeds callbacks into the deep-link router.
package loopback

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackPath is the redirect path registered with the provider.
const CallbackPath = "/auth/callback"

const donePage = `<!doctype html><html><body><p>Sign-in received. You can close this window.</p></body></html>`

// Deliverer accepts a redirect URL for asynchronous processing.
type Deliverer interface {
	Deliver(url string) error
}

// SetupRouter builds the gin engine for the loopback listener.
func SetupRouter(d Deliverer, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET(CallbackPath, func(c *gin.Context) {
		u := "http://" + c.Request.Host + c.Request.URL.RequestURI()
		if err := d.Deliver(u); err != nil {
			log.Warn("deliver loopback callback", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "callback not accepted, retry sign-in"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(donePage))
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// requestLogger logs method, path and status. The query carries the code and state and is never logged.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("loopback request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}

// Server runs the loopback listener.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer wraps handler in an http.Server.
func NewServer(handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.log.Info("loopback listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shCtx); err != nil {
			return err
		}
		return nil
	}
}

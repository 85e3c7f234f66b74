package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPService serves an http.Handler as a lifecycle Service. WebSocket
// upgrades and the control surface share its listener.
type HTTPService struct {
	srv    *http.Server
	logger *zap.Logger

	mu   sync.Mutex
	addr net.Addr
	up   chan struct{}
}

// NewHTTPService creates an HTTPService.
//
// Precondition: addr must be a "host:port" listen address; handler and logger must be non-nil.
func NewHTTPService(addr string, handler http.Handler, logger *zap.Logger) *HTTPService {
	return &HTTPService{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
		},
		logger: logger,
		up:     make(chan struct{}),
	}
}

// Start listens and serves until Stop. A graceful stop is not an error.
func (h *HTTPService) Start() error {
	lis, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.srv.Addr, err)
	}
	h.mu.Lock()
	h.addr = lis.Addr()
	h.mu.Unlock()
	close(h.up)
	h.logger.Info("HTTP listening", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections and waits for in-flight requests until ctx
// expires. Hijacked WebSocket connections are not tracked here.
func (h *HTTPService) Stop(ctx context.Context) error {
	if err := h.srv.Shutdown(ctx); err != nil {
		return h.srv.Close()
	}
	return nil
}

// Addr blocks until the listener is bound or ctx ends, then returns its address.
func (h *HTTPService) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-h.up:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr, nil
}

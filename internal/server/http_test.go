package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPService_ServesUntilStopped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	h := NewHTTPService("127.0.0.1:0", mux, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- h.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addr, err := h.Addr(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, h.Stop(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Start did not return after Stop")
	}
}

func TestHTTPService_ListenFailure(t *testing.T) {
	h := NewHTTPService("256.0.0.1:bad", http.NewServeMux(), zaptest.NewLogger(t))
	assert.Error(t, h.Start())
}

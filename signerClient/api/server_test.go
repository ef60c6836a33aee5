package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestNewServer(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	server := NewServer(&mockNode{}, nil, logger, 8080)

	require.NotNil(t, server)
	require.NotNil(t, server.server)
	assert.Equal(t, ":8080", server.server.Addr)
	assert.NotNil(t, server.Handler())
}

func TestServerStartStop(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	port := freePort(t)
	server := NewServer(&mockNode{}, nil, logger, port)

	require.NoError(t, server.Start())

	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	t.Run("second server on the same port fails to start", func(t *testing.T) {
		other := NewServer(&mockNode{}, nil, logger, port)
		err := other.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind")
	})

	require.NoError(t, server.Stop())
	_, err = client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	assert.Error(t, err)
}

func TestStopWithoutServer(t *testing.T) {
	server := &Server{}
	assert.NoError(t, server.Stop())
	assert.Error(t, server.Start())
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "psigner_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	t.Run("served when a gatherer is set", func(t *testing.T) {
		server := NewServer(&mockNode{}, reg, zerolog.Nop(), 0)
		w := do(t, server, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "psigner_test_total 1")
	})

	t.Run("absent without a gatherer", func(t *testing.T) {
		server := NewServer(&mockNode{}, nil, zerolog.Nop(), 0)
		w := do(t, server, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnknownRoute(t *testing.T) {
	w := do(t, newTestServer(t, &mockNode{}), http.MethodGet, "/api/v1/chains", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

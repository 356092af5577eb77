package log

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLokiWriterDefaults(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{
		Endpoint: "http://localhost:3100/loki/api/v1/push",
		Labels:   map[string]string{"service": "test"},
	})
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, 100, lw.batchSize)
	assert.Equal(t, 5*time.Second, lw.flushInterval)
	assert.Equal(t, uint(3), lw.maxTries)
	assert.Equal(t, "flowscope", lw.labels["job"])
	assert.Equal(t, "test", lw.labels["service"])
}

func TestNewLokiWriterInvalid(t *testing.T) {
	_, err := NewLokiWriter(LokiConfig{})
	assert.Error(t, err)

	_, err = NewLokiWriter(LokiConfig{Endpoint: "http://x", FlushInterval: -time.Second})
	assert.Error(t, err)
}

func TestLokiWriterWriteAfterClose(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100/loki/api/v1/push"})
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	_, err = lw.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.NoError(t, lw.Close())
}

func TestLokiWriterBatchFlush(t *testing.T) {
	bodies := make(chan lokiPushRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req lokiPushRequest
		body, _ := io.ReadAll(r.Body)
		if assert.NoError(t, json.Unmarshal(body, &req)) {
			bodies <- req
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:      server.URL,
		Labels:        map[string]string{"env": "dev"},
		BatchSize:     3,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer lw.Close()

	for i := 0; i < 3; i++ {
		n, err := lw.Write([]byte(fmt.Sprintf("line %d\n", i)))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	}

	select {
	case req := <-bodies:
		require.Len(t, req.Streams, 1)
		s := req.Streams[0]
		assert.Equal(t, "dev", s.Stream["env"])
		assert.Equal(t, "flowscope", s.Stream["job"])
		require.Len(t, s.Values, 3)
		assert.Equal(t, "line 0\n", s.Values[0][1])
		assert.Equal(t, "line 2\n", s.Values[2][1])
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not pushed")
	}
}

func TestLokiWriterPeriodicFlush(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 100, FlushInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("single\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return requests.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLokiWriterCloseFlush(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 100, FlushInterval: time.Hour})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := lw.Write([]byte("queued\n"))
		require.NoError(t, err)
	}
	require.NoError(t, lw.Close())
	assert.Equal(t, int32(1), requests.Load())
}

func TestLokiWriterRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 100, FlushInterval: time.Hour})
	require.NoError(t, err)
	_, err = lw.Write([]byte("retry me\n"))
	require.NoError(t, err)

	require.NoError(t, lw.Close())
	assert.Equal(t, int32(2), attempts.Load())
	assert.Zero(t, lw.Dropped())
}

func TestLokiWriterClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 100, FlushInterval: time.Hour})
	require.NoError(t, err)
	_, err = lw.Write([]byte("rejected\n"))
	require.NoError(t, err)

	err = lw.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, uint64(1), lw.Dropped())
}

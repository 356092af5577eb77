package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("loki writer is closed")

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // push endpoint URL
	Labels        map[string]string // stream labels
	BatchSize     int               // lines per push
	FlushInterval time.Duration
	MaxTries      uint // push attempts per batch, including the first
}

// LokiWriter implements io.Writer and ships lines to Grafana Loki in
// batches. Pushes run on a background goroutine so Write never blocks on
// the network.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	maxTries      uint
	httpClient    *http.Client

	mu     sync.Mutex
	batch  []logEntry
	closed bool

	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type logEntry struct {
	timestamp time.Time
	line      string
}

// lokiPushRequest is the Loki push API body.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a writer and starts its flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki endpoint is required")
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("invalid flush interval: %v", cfg.FlushInterval)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "flowscope"
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		maxTries:      cfg.MaxTries,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		batch:         make([]logEntry, 0, cfg.BatchSize),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	lw.wg.Add(1)
	go lw.flusher()
	return lw, nil
}

// Write queues one line. A full batch wakes the flusher.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return 0, ErrWriterClosed
	}
	lw.batch = append(lw.batch, logEntry{timestamp: time.Now(), line: string(p)})
	full := len(lw.batch) >= lw.batchSize
	lw.mu.Unlock()

	if full {
		select {
		case lw.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Dropped returns how many lines were lost because every push attempt for
// their batch failed.
func (lw *LokiWriter) Dropped() uint64 { return lw.dropped.Load() }

// Close stops the flusher and pushes whatever is still queued.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	lw.mu.Unlock()

	close(lw.done)
	lw.wg.Wait()
	return lw.push(lw.take())
}

func (lw *LokiWriter) flusher() {
	defer lw.wg.Done()

	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-lw.kick:
		case <-lw.done:
			return
		}
		// Failures are counted in dropped; there is nowhere to log them.
		_ = lw.push(lw.take())
	}
}

// take detaches the current batch.
func (lw *LokiWriter) take() []logEntry {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.batch) == 0 {
		return nil
	}
	entries := lw.batch
	lw.batch = make([]logEntry, 0, lw.batchSize)
	return entries
}

func (lw *LokiWriter) push(entries []logEntry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([][]string, len(entries))
	for i, e := range entries {
		values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
	}
	data, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		lw.dropped.Add(uint64(len(entries)))
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err = backoff.Retry(context.Background(), func() (struct{}, error) {
		return struct{}{}, lw.send(data)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(lw.maxTries))
	if err != nil {
		lw.dropped.Add(uint64(len(entries)))
		return fmt.Errorf("loki push failed: %w", err)
	}
	return nil
}

// send performs one push. Client errors other than 429 are not retried.
func (lw *LokiWriter) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("loki push failed with status %d: %s", resp.StatusCode, body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

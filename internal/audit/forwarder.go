package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/diyartec/calassist/internal/logging"
)

// forwardQueueSize is the bounded channel capacity for outbound records.
const forwardQueueSize = 1024

// Forwarder POSTs records to an external endpoint from a background
// goroutine. When the queue is full records are dropped.
type Forwarder struct {
	url    string
	client *http.Client
	logger *slog.Logger
	queue  chan Record
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewForwarder creates a forwarder and starts its delivery loop.
func NewForwarder(url string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logging.WithComponent(logger, "audit_forwarder"),
		queue:  make(chan Record, forwardQueueSize),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

// Enqueue schedules rec for delivery without blocking. Records enqueued
// after Close are dropped.
func (f *Forwarder) Enqueue(rec Record) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.logger.Debug("forwarder closed, dropping record", slog.String("event", rec.Event))
		return
	}
	select {
	case f.queue <- rec:
	default:
		f.logger.Warn("queue full, dropping record", slog.String("event", rec.Event))
	}
}

// Close stops accepting records and waits for the queue to drain.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Forwarder) loop() {
	defer f.wg.Done()
	for rec := range f.queue {
		f.send(rec)
	}
}

// send makes a single attempt; failures are logged and swallowed.
func (f *Forwarder) send(rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		f.logger.Warn("marshal failed", logging.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("request creation failed", logging.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("forward failed", logging.Err(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.logger.Debug("forward rejected", slog.Int(logging.KeyStatus, resp.StatusCode))
	}
}

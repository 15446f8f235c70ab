// Package dispatch delivers transformed event batches to the destination
// ingestion endpoint with bounded retry and jittered exponential backoff.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
	"github.com/gyaneshwarpardhi/eventshift/internal/metrics"
)

// retryableStatuses are the destination responses worth another attempt:
// request timeout, rate limiting and the transient 5xx family. Everything
// else is fatal.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// EndpointForRegion returns the batch ingestion URL for a destination region.
func EndpointForRegion(region string) string {
	if strings.ToUpper(region) == "EU" {
		return "https://api.eu.amplitude.com/batch"
	}
	return "https://api2.amplitude.com/batch"
}

// StatusError is the fatal outcome of a batch delivery: a non-retryable
// status, or a retryable one after the attempt budget ran out.
type StatusError struct {
	Status   int
	Body     string
	Attempts int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("batch failed with status %d after %d attempt(s): %s", e.Status, e.Attempts, e.Body)
}

// Ack is the destination's parsed acknowledgment body.
type Ack map[string]any

// Config tunes one Dispatcher.
type Config struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase float64 // seconds; delay = base**attempt + uniform(0,1)
}

// Dispatcher sends batches synchronously. Sleep and jitter are injectable so
// retry behaviour is testable without waiting.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	sleep  func(time.Duration)
	jitter func() float64
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  time.Sleep,
		jitter: rand.Float64,
	}
}

// WithSleep replaces the backoff sleep, for tests.
func (d *Dispatcher) WithSleep(fn func(time.Duration)) *Dispatcher {
	d.sleep = fn
	return d
}

// WithJitter replaces the jitter source, for tests.
func (d *Dispatcher) WithJitter(fn func() float64) *Dispatcher {
	d.jitter = fn
	return d
}

type batchPayload struct {
	APIKey string                    `json:"api_key"`
	Events []*event.TransformedEvent `json:"events"`
}

// Send delivers one batch. Retryable statuses are retried with backoff delay
// base**attempt plus uniform(0,1) seconds of jitter, up to MaxRetries
// attempts in total; anything else returns an error and the caller is
// expected to abort the run. On success the parsed acknowledgment is
// returned.
func (d *Dispatcher) Send(ctx context.Context, events []*event.TransformedEvent) (Ack, error) {
	body, err := json.Marshal(batchPayload{APIKey: d.cfg.APIKey, Events: events})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	tries := 0
	for {
		tries++
		status, respBody, err := d.post(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("send batch: %w", err)
		}
		if status >= 200 && status < 300 {
			var ack Ack
			if err := json.Unmarshal(respBody, &ack); err != nil {
				// A malformed success body is still a success.
				ack = Ack{}
			}
			return ack, nil
		}
		if retryableStatuses[status] && tries < d.cfg.MaxRetries {
			metrics.SendRetries.Inc()
			delay := d.backoff(tries)
			slog.Warn("batch retry", "attempt", tries, "status", status, "sleep", delay)
			d.sleep(delay)
			continue
		}
		return nil, &StatusError{Status: status, Body: truncate(string(respBody), 400), Attempts: tries}
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	seconds := math.Pow(d.cfg.BackoffBase, float64(attempt)) + d.jitter()
	return time.Duration(seconds * float64(time.Second))
}

func (d *Dispatcher) post(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

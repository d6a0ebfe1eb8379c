// Package notify posts search progress to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwbudde/bctune/internal/progress"
)

// DefaultInterval spaces periodic updates.
const DefaultInterval = 10 * time.Minute

const queueSize = 64

// Webhook sends progress messages as {"content": "..."} JSON posts.
//
// Start, parameter updates, completed iterations and the end of the run are
// always sent. Per-evaluation updates are throttled to one per interval.
// Delivery happens on a background goroutine; failures are logged only.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	queue chan string
	wg    sync.WaitGroup
	once  sync.Once
}

// NewWebhook starts a notifier posting to url.
func NewWebhook(url string, interval time.Duration, logger *slog.Logger) *Webhook {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
		queue:   make(chan string, queueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify implements progress.Observer.
func (w *Webhook) Notify(e progress.Event) {
	msg, forced := Format(e)
	if msg == "" {
		return
	}
	if !forced && !w.limiter.Allow() {
		return
	}
	select {
	case w.queue <- msg:
	default:
		w.logger.Warn("notification queue full, dropping message", "kind", e.Kind)
	}
}

// Close delivers queued messages and stops the notifier.
func (w *Webhook) Close() {
	w.once.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for msg := range w.queue {
		if err := w.send(context.Background(), msg); err != nil {
			w.logger.Warn("failed to send notification", "error", err)
		}
	}
}

func (w *Webhook) send(ctx context.Context, msg string) error {
	body, err := json.Marshal(map[string]string{"content": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Format renders an event. forced reports whether the message bypasses the
// throttle. Events that are never announced return an empty message.
func Format(e progress.Event) (msg string, forced bool) {
	best := "none"
	if e.BestScore != nil {
		best = fmt.Sprintf("%.2f%%", *e.BestScore)
	}

	switch e.Kind {
	case progress.EventStart:
		return fmt.Sprintf("Starting %s search", e.Strategy), true
	case progress.EventParameterUpdated:
		return fmt.Sprintf("Updated %s: %d -> %d (score %.2f%%)", e.Param, e.From, e.Value, e.Score), true
	case progress.EventIterationComplete:
		return fmt.Sprintf("Iteration %d complete: %d evaluations, best %s", e.Iteration, e.Evaluations, best), true
	case progress.EventEvaluation:
		return fmt.Sprintf("Progress: iteration %d, %d evaluations, best %s", e.Iteration, e.Evaluations, best), false
	case progress.EventEnd:
		if e.Error != "" {
			return fmt.Sprintf("Search stopped after %d evaluations (%s), best %s", e.Evaluations, e.Error, best), true
		}
		return fmt.Sprintf("Search finished after %d evaluations, best %s", e.Evaluations, best), true
	default:
		return "", false
	}
}

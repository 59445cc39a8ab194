// Package webhook delivers navigation lifecycle events to an external
// HTTP endpoint, for hosts that want to observe navigations outside
// the process (analytics, audit logging) without subscribing their
// own code to the pub/sub dispatcher.
//
// Delivery is serialized through the framework's internal/queue
// Manager rather than fired off as a bare goroutine per event: a slow
// or unreachable endpoint then queues its retries behind the same key
// instead of piling up unbounded in-flight goroutines, and a retry's
// delay is just another queued task's delay, the same mechanism the
// applier uses to gate fragment scripts.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/spfgo/internal/navigation"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
)

// maxAttempts bounds retries; delivery gives up and logs after this many.
const maxAttempts = 5

// payload is the wire shape POSTed to the endpoint. type is the typed
// pubsub.Kind's own topic name, so a subscriber sees the same
// vocabulary a Go host would get from Framework.Subscribe.
type payload struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Notifier delivers pub/sub lifecycle events to one HTTP endpoint.
type Notifier struct {
	url      string
	secret   string
	client   *http.Client
	queue    *queue.Manager
	queueKey string
}

// NewNotifier builds a Notifier that queues its deliveries (and
// retries) under qm, keyed to url so two Notifiers pointed at
// different endpoints never block each other.
func NewNotifier(qm *queue.Manager, url, secret string) *Notifier {
	return &Notifier{
		url:      url,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    qm,
		queueKey: "webhook:" + url,
	}
}

// Subscribe attaches the notifier to topics' completion and error
// lifecycle events, the optional external-notification collaborator
// spec.md §1 lists alongside debug logging.
func (n *Notifier) Subscribe(topics *pubsub.Dispatcher) {
	topics.Subscribe(pubsub.KindDone.String(), func(args ...any) {
		if url, ok := firstString(args); ok {
			n.enqueue(pubsub.KindDone, url, nil)
		}
	})
	topics.Subscribe(pubsub.KindError.String(), func(args ...any) {
		if len(args) == 0 {
			return
		}
		navErr, ok := args[0].(*navigation.Error)
		if !ok {
			return
		}
		n.enqueue(pubsub.KindError, navErr.URL, navErr)
	})
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// enqueue schedules the first delivery attempt for immediate draining.
func (n *Notifier) enqueue(kind pubsub.Kind, pageURL string, cause *navigation.Error) {
	n.schedule(kind, pageURL, cause, 1)
}

// schedule queues attempt as a delayed task on the endpoint's own
// queue; on failure it re-schedules itself at the next backoff step
// rather than looping inline, so a slow endpoint never holds a
// goroutine sleeping.
func (n *Notifier) schedule(kind pubsub.Kind, pageURL string, cause *navigation.Error, attempt int) {
	n.queue.Add(n.queueKey, func() {
		err := n.deliver(kind, pageURL, cause)
		if err == nil {
			slog.Info("webhook delivered", "endpoint", n.url, "kind", kind.String(), "page_url", pageURL, "attempt", attempt)
			return
		}
		if attempt >= maxAttempts {
			slog.Error("webhook delivery exhausted retries", "endpoint", n.url, "kind", kind.String(), "page_url", pageURL, "attempts", attempt, "error", err)
			return
		}
		slog.Warn("webhook delivery failed, retrying", "endpoint", n.url, "kind", kind.String(), "page_url", pageURL, "attempt", attempt, "error", err)
		n.schedule(kind, pageURL, cause, attempt+1)
	}, backoff(attempt))
	n.queue.Run(n.queueKey, false)
}

// backoff grows the retry delay exponentially from a 500ms step,
// capped at 4s; the first attempt (attempt==1) runs immediately.
func backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	const step = 500 * time.Millisecond
	const ceiling = 4 * time.Second
	d := step << uint(attempt-2)
	if d > ceiling {
		return ceiling
	}
	return d
}

func (n *Notifier) deliver(kind pubsub.Kind, pageURL string, cause *navigation.Error) error {
	p := payload{Type: kind.String(), URL: pageURL, Timestamp: time.Now().Unix()}
	if cause != nil {
		p.Error = cause.Error()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "spfgo-webhook/1")
	if n.secret != "" {
		mac := hmac.New(sha256.New, []byte(n.secret))
		mac.Write(body)
		req.Header.Set("X-Spf-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

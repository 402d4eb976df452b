// Package notify delivers best-effort update notifications to the
// device-facing control plane.
//
// A notification tells the control plane which devices should check
// for a new release, addressed by a filter expression rather than an
// id list so the control plane can resolve membership itself. Delivery
// is fire-and-forget: it happens after the owning transaction commits,
// failures are captured by the error reporting sink, and nothing is
// retried - the reconciliation is already durable by the time a
// notification exists.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/report"
)

// Notification is one pending update signal.
type Notification struct {
	// Token correlates the notification with the mutation that caused
	// it in logs on both sides.
	Token string

	// Actor is the execution context the control plane should evaluate
	// the filter under. Pin-change notifications carry the root actor
	// because they address devices across the whole fleet.
	Actor model.Actor

	// Devices selects the devices that should check for an update.
	Devices filter.Expr
}

// TokenGenerator generates correlation tokens for notifications.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// DefaultTimeout bounds one delivery attempt. A slow control plane
// must not back up the queue indefinitely.
const DefaultTimeout = 10 * time.Second

// Notifier queues update notifications and delivers them from a single
// worker goroutine.
type Notifier struct {
	endpoint string
	client   *http.Client
	reporter report.Reporter
	tokens   TokenGenerator
	queue    *notificationQueue
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		n.client = c
	}
}

// WithTokenGenerator overrides the correlation token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(n *Notifier) {
		n.tokens = g
	}
}

// New creates a Notifier that POSTs to endpoint. The reporter receives
// every delivery failure.
func New(endpoint string, reporter report.Reporter, opts ...Option) *Notifier {
	n := &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		reporter: reporter,
		tokens:   UUIDv7Generator{},
		queue:    newNotificationQueue(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// DevicesShouldUpdate queues a notification for the devices matching
// the filter. Non-blocking and safe from any goroutine; intended to be
// called from post-commit callbacks. Returns immediately even if the
// notifier has been stopped (the notification is silently dropped -
// it is advisory by contract).
func (n *Notifier) DevicesShouldUpdate(actor model.Actor, devices filter.Expr) {
	notification := Notification{
		Token:   n.tokens.Generate(),
		Actor:   actor,
		Devices: devices,
	}

	if !n.queue.Enqueue(notification) {
		slog.Debug("notifier stopped, dropping notification", "token", notification.Token)
		return
	}

	slog.Debug("update notification queued", "token", notification.Token)
}

// Run starts the delivery loop. Blocks until the context is cancelled
// or Stop is called. Delivery failures are captured and never abort
// the loop.
func (n *Notifier) Run(ctx context.Context) error {
	slog.Info("notifier starting", "endpoint", n.endpoint)

	for {
		notification, ok := n.queue.TryDequeue()
		if ok {
			n.deliver(ctx, notification)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("notifier stopping: context cancelled")
			n.queue.Close()
			return ctx.Err()

		case <-n.queue.Wait():
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately.
			if n.queue.Len() == 0 {
				slog.Info("notifier stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the notifier.
// Closes the queue, which will cause Run to return once drained.
func (n *Notifier) Stop() {
	n.queue.Close()
}

// QueueLen returns the number of pending notifications.
// Useful for monitoring and testing.
func (n *Notifier) QueueLen() int {
	return n.queue.Len()
}

// updateRequest is the wire payload the control plane accepts.
type updateRequest struct {
	Token   string          `json:"token"`
	Actor   string          `json:"actor"`
	Devices json.RawMessage `json:"devices"`
}

// deliver POSTs one notification. Errors are captured, not returned.
func (n *Notifier) deliver(ctx context.Context, notification Notification) {
	if err := n.send(ctx, notification); err != nil {
		n.reporter.Capture(err, fmt.Sprintf("delivering update notification %s", notification.Token))
		return
	}
	slog.Debug("update notification delivered", "token", notification.Token)
}

func (n *Notifier) send(ctx context.Context, notification Notification) error {
	deviceFilter, err := filter.Marshal(notification.Devices)
	if err != nil {
		return fmt.Errorf("marshal device filter: %w", err)
	}

	actor := fmt.Sprintf("%d", notification.Actor.ID)
	if notification.Actor.Root {
		actor = "root"
	}

	body, err := json.Marshal(updateRequest{
		Token:   notification.Token,
		Actor:   actor,
		Devices: deviceFilter,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned %s", resp.Status)
	}
	return nil
}

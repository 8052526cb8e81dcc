// Package notifier delivers run notifications to operators. A run produces a
// batch of human-readable lines (stake decisions, warnings, failures) and
// hands them to a Notifier; delivery failures are reported to the caller but
// are never fatal to the run.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers a batch of notification lines.
type Notifier interface {
	Send(ctx context.Context, lines []string) error
}

// logNotifier writes each line to the process log.
type logNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) (Notifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &logNotifier{logger: logger}, nil
}

func (n *logNotifier) Send(_ context.Context, lines []string) error {
	for _, line := range lines {
		n.logger.Sugar().Infow("notification", "message", line)
	}
	return nil
}

// webhookNotifier posts each line to an HTTP webhook as {"text": line}.
type webhookNotifier struct {
	logger *zap.Logger
	client *http.Client
	url    string
}

func NewWebhookNotifier(logger *zap.Logger, url string, timeout time.Duration) (Notifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if url == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &webhookNotifier{
		logger: logger,
		client: &http.Client{Timeout: timeout},
		url:    url,
	}, nil
}

func (n *webhookNotifier) Send(ctx context.Context, lines []string) error {
	failed := 0
	var lastErr error
	for _, line := range lines {
		if err := n.post(ctx, line); err != nil {
			failed++
			lastErr = err
			n.logger.Sugar().Warnw("failed to deliver webhook notification",
				"error", err.Error(),
			)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to deliver %d of %d notifications: %w", failed, len(lines), lastErr)
	}
	return nil
}

func (n *webhookNotifier) post(ctx context.Context, line string) error {
	body, err := json.Marshal(map[string]string{"text": line})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", res.StatusCode)
	}
	return nil
}

// multiNotifier fans one batch out to several notifiers. Every notifier sees
// the full batch even when an earlier one fails.
type multiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) Notifier {
	return &multiNotifier{notifiers: notifiers}
}

func (n *multiNotifier) Send(ctx context.Context, lines []string) error {
	failed := 0
	var lastErr error
	for _, notifier := range n.notifiers {
		if err := notifier.Send(ctx, lines); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d notifiers failed: %w", failed, len(n.notifiers), lastErr)
	}
	return nil
}

// prefixNotifier tags every line before delegating. Dry runs wrap their
// notifier with a "[DRYRUN]" prefix so delivered messages cannot be mistaken
// for applied changes.
type prefixNotifier struct {
	inner  Notifier
	prefix string
}

func WithPrefix(inner Notifier, prefix string) Notifier {
	if prefix == "" {
		return inner
	}
	return &prefixNotifier{inner: inner, prefix: prefix}
}

func (n *prefixNotifier) Send(ctx context.Context, lines []string) error {
	prefixed := make([]string, 0, len(lines))
	for _, line := range lines {
		prefixed = append(prefixed, fmt.Sprintf("%s %s", n.prefix, line))
	}
	return n.inner.Send(ctx, prefixed)
}

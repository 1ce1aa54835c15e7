// Package notify delivers operator notifications, such as an entity whose
// retries are exhausted. Delivery is best effort: callers log errors and
// never fail pipeline work because a notification could not be sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Notifier delivers a notification to an audience.
type Notifier interface {
	Notify(ctx context.Context, audience, title string, metadata map[string]any) error
}

// Event is the serialized form of a notification.
type Event struct {
	Audience string         `json:"audience"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// LogNotifier writes notifications to a logger. It is the fallback when no
// external sink is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	args := []any{"audience", audience, "title", title}
	for _, k := range sortedKeys(metadata) {
		args = append(args, k, metadata[k])
	}
	n.logger.Warn("notification", args...)
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// tried; the errors of the ones that failed are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, audience, title, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// formatBody renders a plain-text body listing the metadata in key order.
func formatBody(title string, metadata map[string]any) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, k := range sortedKeys(metadata) {
		fmt.Fprintf(&b, "%s: %v\n", k, metadata[k])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package notify delivers alert notifications over pluggable channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Notifier delivers one alert to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert *task.Alert) error
}

// MultiNotifier fans an alert out to every channel concurrently. A failing
// channel does not block the others; the joined error reports all
// failures.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMultiNotifier combines the given channels.
func NewMultiNotifier(logger *slog.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, logger: logger}
}

func (m *MultiNotifier) Name() string { return "multi" }

func (m *MultiNotifier) Send(ctx context.Context, alert *task.Alert) error {
	// plain Group: one failing channel must not cancel the others
	var g errgroup.Group
	for _, n := range m.notifiers {
		g.Go(func() error {
			if err := n.Send(ctx, alert); err != nil {
				m.logger.Error("notification failed", "channel", n.Name(), "alert_id", alert.ID, "err", err)
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// NoOpNotifier drops every alert.
type NoOpNotifier struct{}

func (NoOpNotifier) Name() string { return "noop" }

func (NoOpNotifier) Send(ctx context.Context, alert *task.Alert) error { return nil }

// Package system assembles the scheduler, history, monitor, archive and
// notification channels into one running unit.
package system

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mengguiyouziyi/social-auto-upload/internal/config"
	"github.com/mengguiyouziyi/social-auto-upload/internal/engine"
	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/history"
	"github.com/mengguiyouziyi/social-auto-upload/internal/metrics"
	"github.com/mengguiyouziyi/social-auto-upload/internal/monitor"
	"github.com/mengguiyouziyi/social-auto-upload/internal/notify"
	"github.com/mengguiyouziyi/social-auto-upload/internal/store"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

const archiveWriteTimeout = 5 * time.Second

// System wires all components together. Archive is nil when no state
// directory is configured.
type System struct {
	Scheduler *engine.Scheduler
	History   *history.Store
	Monitor   *monitor.Monitor
	Emitter   *events.Emitter
	Notifier  notify.Notifier
	Archive   *store.Store
	Metrics   *metrics.Metrics

	logger *slog.Logger
}

// Options tunes the wiring. Registerer defaults to the global Prometheus
// registry; Archive stays nil when StateDir is empty.
type Options struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// New builds and wires the system. The scheduler and monitor are not
// started; call Start.
func New(ctx context.Context, opts Options) (*System, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	emitter := events.NewEmitter(logger)

	scheduler := engine.New(engine.Options{
		Logger:        logger,
		Emitter:       emitter,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Tick:          cfg.Scheduler.Tick,
	})

	hist := history.New()
	notifier := buildNotifier(cfg.Notification, logger)

	mon := monitor.New(monitor.Options{
		Logger:   logger,
		Source:   func() []*task.Task { return scheduler.Tasks(engine.Filter{}) },
		Notifier: notifier,
		Emitter:  emitter,
		Interval: cfg.Monitor.Interval,
	})

	var archive *store.Store
	if cfg.StateDir != "" {
		var err error
		archive, err = store.Open(ctx, cfg.StateDir)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New(registerer)
	m.Observe(emitter, func() int { return scheduler.TaskCounts().Total })

	sys := &System{
		Scheduler: scheduler,
		History:   hist,
		Monitor:   mon,
		Emitter:   emitter,
		Notifier:  notifier,
		Archive:   archive,
		Metrics:   m,
		logger:    logger,
	}
	sys.subscribe()
	return sys, nil
}

// buildNotifier assembles the enabled channels, each behind a retry and
// circuit-breaker wrapper.
func buildNotifier(cfg config.NotificationConfig, logger *slog.Logger) notify.Notifier {
	var channels []notify.Notifier
	wrap := func(n notify.Notifier) notify.Notifier {
		return notify.NewResilientNotifier(n, notify.DefaultRetryConfig(), logger)
	}

	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		channels = append(channels, wrap(notify.NewWebhookNotifier(cfg.Webhook.URL, "", nil)))
	}
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		channels = append(channels, wrap(notify.NewSlackNotifier(cfg.Slack.WebhookURL)))
	}
	if cfg.Bark.Enabled && cfg.Bark.URL != "" {
		channels = append(channels, wrap(notify.NewBarkNotifier(cfg.Bark.URL, cfg.Bark.DeviceKey)))
	}
	if cfg.Email.Enabled && cfg.Email.Host != "" {
		channels = append(channels, wrap(notify.NewEmailNotifier(notify.EmailConfig{
			Host:       cfg.Email.Host,
			Port:       cfg.Email.Port,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
		})))
	}

	if len(channels) == 0 {
		return notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(logger, channels...)
}

// subscribe routes scheduler and monitor events into the history store,
// the monitor's watch set and the archive.
func (s *System) subscribe() {
	record := func(ev events.Event) {
		if ev.Execution == nil {
			return
		}
		s.History.Record(ev.Execution)
		s.archiveExecution(ev.Execution)
	}
	s.Emitter.On(events.TaskCompleted, record)
	s.Emitter.On(events.TaskFailed, record)
	s.Emitter.On(events.TaskStopped, record)

	s.Emitter.On(events.TaskAdded, func(ev events.Event) {
		s.Monitor.Watch(ev.TaskID)
	})
	s.Emitter.On(events.TaskDeleted, func(ev events.Event) {
		s.Monitor.Unwatch(ev.TaskID)
	})

	s.Emitter.On(events.AlertRaised, func(ev events.Event) {
		if ev.Alert == nil || s.Archive == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		defer cancel()
		if err := s.Archive.InsertAlert(ctx, ev.Alert); err != nil {
			s.logger.Error("archive alert", "alert_id", ev.Alert.ID, "err", err)
		}
	})
}

func (s *System) archiveExecution(exec *task.Execution) {
	if s.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := s.Archive.InsertExecution(ctx, exec); err != nil {
		s.logger.Error("archive execution", "execution_id", exec.ID, "err", err)
	}
}

// Start launches the scheduler and the monitor loops.
func (s *System) Start(ctx context.Context) {
	s.Scheduler.Start(ctx)
	s.Monitor.Start(ctx)
}

// Stop halts the loops and closes the archive.
func (s *System) Stop() {
	s.Monitor.Stop()
	s.Scheduler.Stop()
	if s.Archive != nil {
		if err := s.Archive.Close(); err != nil {
			s.logger.Error("close archive", "err", err)
		}
	}
}

// Overview is a combined status snapshot for the dashboard landing page.
type Overview struct {
	Tasks     engine.Counts      `json:"tasks"`
	History   history.Statistics `json:"history"`
	Health    monitor.Health     `json:"health"`
	Monitor   monitor.Status     `json:"monitor"`
	Timestamp time.Time          `json:"timestamp"`
}

// Snapshot composes the current state of all components.
func (s *System) Snapshot() Overview {
	return Overview{
		Tasks:     s.Scheduler.TaskCounts(),
		History:   s.History.Statistics("", time.Time{}, time.Time{}),
		Health:    s.Monitor.SystemHealth(),
		Monitor:   s.Monitor.Status(),
		Timestamp: time.Now(),
	}
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/harunnryd/heike/internal/config"
	heikeErrors "github.com/harunnryd/heike/internal/errors"
)

type Component interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
}

// TaskSubmitter is how a fired reminder re-enters the agent loop: the
// scheduler only ever calls Submit, never the Task Orchestrator
// directly, the same narrow seam the teacher used for its ingress
// pipeline.
type TaskSubmitter interface {
	Submit(ctx context.Context, workspaceID, instruction string) error
}

// Scheduler runs the reminder engine behind set_reminder,
// cancel_reminder and list_reminders (§6.2): recurring reminders are
// cron specs re-armed on every fire, one-shot reminders are removed
// from the store once submitted.
type Scheduler struct {
	store     *Store
	submitter TaskSubmitter

	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	ticker        *time.Ticker
	inFlightTasks uint

	tickInterval         time.Duration
	shutdownTimeout      time.Duration
	leaseDuration        time.Duration
	maxCatchupRuns       int
	inFlightPollInterval time.Duration
}

func NewScheduler(store *Store, submitter TaskSubmitter, cfg config.SchedulerConfig) (*Scheduler, error) {
	tickInterval, err := config.DurationOrDefault(cfg.TickInterval, config.DefaultSchedulerTickInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler tick interval: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	leaseDuration, err := config.DurationOrDefault(cfg.LeaseDuration, config.DefaultSchedulerLeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler lease duration: %w", err)
	}

	inFlightPollInterval, err := config.DurationOrDefault(cfg.InFlightPollInterval, config.DefaultSchedulerInFlightPollInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler in-flight poll interval: %w", err)
	}

	maxCatchupRuns := cfg.MaxCatchupRuns
	if maxCatchupRuns <= 0 {
		maxCatchupRuns = config.DefaultSchedulerMaxCatchupRuns
	}

	return &Scheduler{
		store:                store,
		submitter:            submitter,
		tickInterval:         tickInterval,
		shutdownTimeout:      shutdownTimeout,
		leaseDuration:        leaseDuration,
		maxCatchupRuns:       maxCatchupRuns,
		inFlightPollInterval: inFlightPollInterval,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	slog.Info("Scheduler initialized")
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.recoverExpiredLeases(ctx)
	s.processCatchUp(ctx)

	s.ticker = time.NewTicker(s.tickInterval)

	go s.run(ctx)

	slog.Info("Scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.waitForInFlightTasks()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return heikeErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	if s.ctx == nil {
		return heikeErrors.Internal("scheduler not initialized")
	}

	if !s.IsRunning() {
		return heikeErrors.Internal("scheduler not running")
	}

	if _, err := s.store.LoadTasks(); err != nil {
		return fmt.Errorf("load tasks: %w", heikeErrors.ErrTransient)
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.processDueReminders(ctx)
		case <-s.ctx.Done():
			slog.Info("Scheduler run loop stopped")
			return
		}
	}
}

func (s *Scheduler) processDueReminders(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load reminders", "error", err)
		return
	}

	now := time.Now()
	for _, task := range tasks {
		if task.NextRun.IsZero() || task.NextRun.After(now) {
			continue
		}
		s.fireReminder(ctx, task)
	}
}

func (s *Scheduler) fireReminder(ctx context.Context, task Task) {
	s.mu.Lock()
	s.inFlightTasks++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlightTasks--
		s.mu.Unlock()
	}()

	runID := ulid.Make().String()
	leaseExpiresAt := time.Now().Add(s.leaseDuration)

	if err := s.store.AcquireLease(task.ID, runID, leaseExpiresAt); err != nil {
		slog.Warn("Failed to acquire reminder lease, skipping", "task", task.ID, "error", err)
		return
	}

	if err := s.submitter.Submit(ctx, task.WorkspaceID, task.Content); err != nil {
		slog.Error("Failed to submit reminder", "task", task.ID, "error", err)
		return
	}

	if task.Schedule == "" {
		if err := s.store.DeleteTask(task.ID); err != nil {
			slog.Error("Failed to remove fired one-shot reminder", "task", task.ID, "error", err)
		}
		return
	}

	if err := s.store.MarkTaskDone(task.ID, runID); err != nil {
		slog.Error("Failed to reschedule recurring reminder", "task", task.ID, "error", err)
	}
}

func (s *Scheduler) recoverExpiredLeases(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load reminders for lease recovery", "error", err)
		return
	}

	recovered := 0
	for _, task := range tasks {
		lease, err := s.store.GetLease(task.ID)
		if err != nil {
			slog.Warn("Failed to get lease", "task", task.ID, "error", err)
			continue
		}

		if lease != nil && time.Now().After(lease.ExpiresAt) {
			slog.Info("Recovering expired reminder lease", "task", task.ID, "run_id", lease.RunID)
			recovered++
		}
	}

	if recovered > 0 {
		slog.Info("Recovered expired reminder leases", "count", recovered)
	}
}

func (s *Scheduler) processCatchUp(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load reminders for catch-up", "error", err)
		return
	}

	missed := 0
	now := time.Now()
	for _, task := range tasks {
		if !task.NextRun.IsZero() && task.NextRun.Before(now) {
			missed++
		}
	}

	if missed > s.maxCatchupRuns {
		slog.Warn("Too many missed reminder runs, letting the next tick drain them gradually", "missed", missed, "max", s.maxCatchupRuns)
	}
}

func (s *Scheduler) waitForInFlightTasks() {
	ticker := time.NewTicker(s.inFlightPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			count := s.inFlightTasks
			s.mu.RUnlock()

			if count == 0 {
				return
			}
			slog.Info("Waiting for in-flight reminders", "count", count)
		case <-s.ctx.Done():
			return
		}
	}
}

// CreateReminder stores a reminder that fires once at fireAt, or
// repeatedly per cronSchedule when cronSchedule is non-empty (fireAt
// is then only used to seed the first run). It is the backing call for
// the set_reminder step type.
func (s *Scheduler) CreateReminder(workspaceID, message, cronSchedule string, fireAt time.Time) (string, error) {
	id := ulid.Make().String()

	nextRun := fireAt
	if cronSchedule != "" {
		schedule, err := cron.ParseStandard(cronSchedule)
		if err != nil {
			return "", heikeErrors.InvalidInput(fmt.Sprintf("invalid reminder schedule: %v", err))
		}
		if nextRun.IsZero() {
			nextRun = schedule.Next(time.Now())
		}
	}
	if nextRun.IsZero() {
		return "", heikeErrors.InvalidInput("reminder needs either a fire time or a recurring schedule")
	}

	task := &Task{
		ID:          id,
		WorkspaceID: workspaceID,
		Schedule:    cronSchedule,
		Description: message,
		Content:     message,
		NextRun:     nextRun,
	}
	if err := s.store.UpdateTask(task); err != nil {
		return "", fmt.Errorf("store reminder: %w", err)
	}
	return id, nil
}

// CancelReminder is the backing call for cancel_reminder.
func (s *Scheduler) CancelReminder(id string) error {
	if err := s.store.DeleteTask(id); err != nil {
		return heikeErrors.NotFound(fmt.Sprintf("reminder %s not found", id))
	}
	return nil
}

// ListReminders is the backing call for list_reminders.
func (s *Scheduler) ListReminders(workspaceID string) []*Task {
	return s.store.ListByWorkspace(workspaceID)
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/heike/internal/config"
)

type mockSubmitter struct {
	submitted []string
}

func (m *mockSubmitter) Submit(ctx context.Context, workspaceID, instruction string) error {
	m.submitted = append(m.submitted, instruction)
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *mockSubmitter) {
	t.Helper()
	store, err := NewStore(t.TempDir() + "/scheduler.json")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	cfg := config.SchedulerConfig{}
	submitter := &mockSubmitter{}
	sched, err := NewScheduler(store, submitter, cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return sched, submitter
}

func TestScheduler_NewScheduler(t *testing.T) {
	sched, submitter := newTestScheduler(t)

	if sched == nil {
		t.Fatal("Scheduler should not be nil")
	}
	if sched.submitter != submitter {
		t.Error("TaskSubmitter not set correctly")
	}
}

func TestScheduler_ComponentLifecycle(t *testing.T) {
	sched, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if sched.ctx == nil {
		t.Error("Context should be set after Init")
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}

	if err := sched.Health(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}

	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestScheduler_GracefulShutdown(t *testing.T) {
	sched, _ := newTestScheduler(t)
	ctx := context.Background()
	sched.Init(ctx)
	sched.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- sched.Stop(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-shutdownCtx.Done():
		t.Error("Stop timed out")
	}

	if sched.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestScheduler_HealthCheck(t *testing.T) {
	sched, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.Health(ctx); err == nil {
		t.Error("Health should fail when not initialized")
	}

	sched.Init(ctx)
	sched.Start(ctx)

	if err := sched.Health(ctx); err != nil {
		t.Errorf("Health should pass after Start: %v", err)
	}

	sched.Stop(ctx)

	if err := sched.Health(ctx); err == nil {
		t.Error("Health should fail after Stop")
	}
}

func TestScheduler_CreateCancelListReminder(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.CreateReminder("ws1", "take a break", "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty reminder id")
	}

	reminders := sched.ListReminders("ws1")
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}

	if err := sched.CancelReminder(id); err != nil {
		t.Fatalf("CancelReminder failed: %v", err)
	}
	if len(sched.ListReminders("ws1")) != 0 {
		t.Error("expected reminder to be gone after cancel")
	}
}

func TestScheduler_CreateReminderRequiresTimeOrSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t)

	if _, err := sched.CreateReminder("ws1", "nothing to go on", "", time.Time{}); err == nil {
		t.Error("expected an error when neither a fire time nor a schedule is given")
	}
}

func TestScheduler_FiresDueOneShotReminder(t *testing.T) {
	sched, submitter := newTestScheduler(t)
	ctx := context.Background()

	if _, err := sched.CreateReminder("ws1", "ping", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}

	sched.processDueReminders(ctx)

	if len(submitter.submitted) != 1 || submitter.submitted[0] != "ping" {
		t.Fatalf("expected reminder to be submitted once, got %v", submitter.submitted)
	}
	if len(sched.ListReminders("ws1")) != 0 {
		t.Error("one-shot reminder should be removed after firing")
	}
}

package adapter

import (
	"context"
	"testing"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/policy"
)

type stubStepAdapter struct {
	result plan.StepResult
	calls  int
}

func (s *stubStepAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	s.calls++
	return s.result
}

type fakeAuditLogger struct {
	entries []*policy.AuditEntry
}

func (f *fakeAuditLogger) Log(ctx context.Context, entry *policy.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditLogger) Query(ctx context.Context, filter *policy.AuditFilter) ([]*policy.AuditEntry, error) {
	return f.entries, nil
}

func TestGovernPassesThroughWhenNothingConfigured(t *testing.T) {
	inner := &stubStepAdapter{result: plan.StepResult{Success: true}}
	governed := Govern(inner, "file_read", nil, nil)
	if governed != cognitive.Adapter(inner) {
		t.Fatalf("expected Govern to return inner unchanged when policy and audit are both nil")
	}
}

func TestGovernedAdapterLogsAudit(t *testing.T) {
	inner := &stubStepAdapter{result: plan.StepResult{Success: true, Message: "done"}}
	audit := &fakeAuditLogger{}
	governed := Govern(inner, "file_read", nil, audit)

	res := governed.Execute(context.Background(), plan.Step{Action: "read"}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner adapter called once, got %d", inner.calls)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
	if audit.entries[0].Status != "success" {
		t.Fatalf("expected status success, got %s", audit.entries[0].Status)
	}
}

func TestGovernedAdapterQuotaExhaustion(t *testing.T) {
	root := t.TempDir()
	eng, err := policy.NewEngine(config.GovernanceConfig{DailyToolLimit: 1}, "ws", root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	inner := &stubStepAdapter{result: plan.StepResult{Success: true}}
	audit := &fakeAuditLogger{}
	governed := Govern(inner, "file_read", eng, audit)

	first := governed.Execute(context.Background(), plan.Step{Action: "read"}, nil)
	if !first.Success {
		t.Fatalf("expected first call to succeed, got %+v", first)
	}

	second := governed.Execute(context.Background(), plan.Step{Action: "read"}, nil)
	if second.Success {
		t.Fatalf("expected second call to fail on quota exhaustion")
	}
	if req, _ := second.Data["requires_user_action"].(bool); !req {
		t.Fatalf("expected requires_user_action true, got %+v", second.Data)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner adapter only called once (quota blocked the second), got %d", inner.calls)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("expected both calls audited (including the quota-blocked one), got %d", len(audit.entries))
	}
	if audit.entries[1].Status != "failure" {
		t.Fatalf("expected second entry status failure, got %s", audit.entries[1].Status)
	}
}

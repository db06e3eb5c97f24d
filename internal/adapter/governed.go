package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/logger"
	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/policy"
)

// GovernedAdapter wraps a concrete cognitive.Adapter with the daily
// tool-call budget and audit trail supplemented features: quota
// exhaustion short-circuits to a non-retryable requires_user_action
// failure, and every dispatch (success or failure) is written to the
// audit log regardless.
type GovernedAdapter struct {
	Inner    cognitive.Adapter
	StepType string
	Policy   *policy.Engine
	Audit    policy.AuditLogger
}

func Govern(inner cognitive.Adapter, stepType string, eng *policy.Engine, audit policy.AuditLogger) cognitive.Adapter {
	if eng == nil && audit == nil {
		return inner
	}
	return &GovernedAdapter{Inner: inner, StepType: stepType, Policy: eng, Audit: audit}
}

func (g *GovernedAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if g.Policy != nil {
		if err := g.Policy.ConsumeQuota(g.StepType); err != nil {
			result := plan.StepResult{
				Success: false,
				Message: "daily tool-call budget exhausted: " + err.Error(),
				Data:    map[string]any{"requires_user_action": true},
			}
			g.logAudit(ctx, step, result, 0)
			return result
		}
	}

	start := time.Now()
	result := g.Inner.Execute(ctx, step, pctx)
	g.logAudit(ctx, step, result, time.Since(start))
	return result
}

func (g *GovernedAdapter) logAudit(ctx context.Context, step plan.Step, result plan.StepResult, dur time.Duration) {
	if g.Audit == nil {
		return
	}
	input, _ := json.Marshal(step.Params)
	output, _ := json.Marshal(result.Data)
	status := "success"
	if !result.Success {
		status = "failure"
	}
	entry := &policy.AuditEntry{
		Timestamp:   time.Now(),
		TraceID:     logger.GetTraceID(ctx),
		WorkspaceID: "default",
		ToolName:    g.StepType,
		Action:      step.Action,
		Status:      status,
		Input:       input,
		Output:      output,
		Duration:    dur,
		Error:       result.Error,
	}
	if err := g.Audit.Log(ctx, entry); err != nil {
		return
	}
}

package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/plan"
)

// UnifiedReflector is the Reflector implementation (§4.6): given a
// failed Step and its error text, it asks the LLM to classify the
// error and either declare it non-retryable or return a fully-formed
// corrected Step.
type UnifiedReflector struct {
	llm       LLMClient
	promptCfg ReflectorPromptConfig
	retryMax  int
}

type ReflectorPromptConfig struct {
	System     string
	Guidelines string
}

func NewReflector(llm LLMClient, promptCfg ReflectorPromptConfig, structuredRetryMax int) *UnifiedReflector {
	if strings.TrimSpace(promptCfg.System) == "" {
		promptCfg.System = config.DefaultReflectorSystemPrompt
	}
	if strings.TrimSpace(promptCfg.Guidelines) == "" {
		promptCfg.Guidelines = config.DefaultReflectorGuidelinesPrompt
	}
	if structuredRetryMax < 0 {
		structuredRetryMax = 0
	}
	return &UnifiedReflector{llm: llm, promptCfg: promptCfg, retryMax: structuredRetryMax}
}

var _ Reflector = (*UnifiedReflector)(nil)

// AnalyzeFailure never returns an error to the caller for malformed LLM
// output: per §4.6, "if parsing fails or the object is malformed,
// return {is_retryable: false, modified_step: null, reason: 'reflector
// error: ...'}" so the executor can surface the underlying failure
// instead of stalling on a reflector bug.
func (r *UnifiedReflector) AnalyzeFailure(ctx context.Context, step plan.Step, errorMessage string, contextSummary string) (*plan.ReflectionVerdict, error) {
	slog.Info("reflector: analyzing failure", "step_type", step.Type, "error", errorMessage)

	prompt := r.buildPrompt(step, errorMessage, contextSummary)

	var lastErr error
	for attempt := 0; attempt <= r.retryMax; attempt++ {
		response, err := r.llm.Complete(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		verdict, ok := plan.ExtractReflectionVerdict(response)
		if !ok {
			lastErr = fmt.Errorf("reflector response did not parse as a verdict object")
			continue
		}

		if verdict.IsRetryable {
			if verdict.ModifiedStep == nil {
				lastErr = fmt.Errorf("reflector marked retryable but returned no modified_step")
				continue
			}
			if err := plan.ValidateStep(*verdict.ModifiedStep); err != nil {
				lastErr = fmt.Errorf("reflector modified_step invalid: %w", err)
				continue
			}
			if verdict.ModifiedStep.Type != step.Type {
				slog.Debug("reflector changed step type", "from", step.Type, "to", verdict.ModifiedStep.Type)
			}
		}

		return verdict, nil
	}

	reason := "reflector error: unable to obtain a valid verdict"
	if lastErr != nil {
		reason = fmt.Sprintf("reflector error: %v", lastErr)
	}
	return &plan.ReflectionVerdict{IsRetryable: false, ModifiedStep: nil, Reason: reason}, nil
}

func (r *UnifiedReflector) buildPrompt(step plan.Step, errorMessage string, contextSummary string) string {
	var sb strings.Builder
	sb.WriteString(r.promptCfg.System + "\n")
	sb.WriteString(fmt.Sprintf("\nFAILED STEP: type=%s action=%q params=%v\n", step.Type, step.Action, step.Params))
	sb.WriteString(fmt.Sprintf("ERROR: %s\n", errorMessage))
	if contextSummary != "" {
		sb.WriteString(fmt.Sprintf("TASK CONTEXT: %s\n", contextSummary))
	}
	sb.WriteString("\n" + r.promptCfg.Guidelines + "\n")
	return sb.String()
}

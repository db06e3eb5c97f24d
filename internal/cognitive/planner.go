package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/heike/internal/config"
	heikeErrors "github.com/harunnryd/heike/internal/errors"
	"github.com/harunnryd/heike/internal/plan"
)

// disallowedStepTypes are types the planner must never emit directly;
// they only ever appear as reflector-confused aliases resolved by
// plan.NormalizeStepType before dispatch (§4.5 step 5, §4.7).
var disallowedStepTypes = map[string]struct{}{
	"file_manager": {}, "app_control": {}, "file_operation": {}, "shell": {},
}

// vagueReferents are the phrases the grounding heuristic looks for
// alongside a file-operation keyword (§4.5 step 2).
var vagueReferents = []string{"that file", "the last one", "最后一个", "那个文件", "这个文件"}

var fileOpKeywords = []string{"move", "copy", "delete", "rename", "open", "移动", "复制", "删除", "重命名", "打开"}

// directoryKeywords maps a location keyword found in the instruction to
// the directory the grounding step should list.
var directoryKeywords = map[string]string{
	"desktop": "~/Desktop",
	"桌面":      "~/Desktop",
	"downloads": "~/Downloads",
	"下载":      "~/Downloads",
	"documents": "~/Documents",
	"文档":      "~/Documents",
}

// UnifiedPlanner is the Planner implementation (§4.5): it injects
// current_time/memory_context into the prompt, applies the grounding
// heuristic, calls the LLM, parses the response with the tolerant
// extractor, validates/auto-rewrites steps, retries once for format
// repair, and finally applies tool-preference post-processing.
type UnifiedPlanner struct {
	llm       LLMClient
	promptCfg PlannerPromptConfig
	retryMax  int
}

type PlannerPromptConfig struct {
	System string
	Output string
}

func NewPlanner(llm LLMClient, promptCfg PlannerPromptConfig, structuredRetryMax int) *UnifiedPlanner {
	if strings.TrimSpace(promptCfg.System) == "" {
		promptCfg.System = config.DefaultPlannerSystemPrompt
	}
	if strings.TrimSpace(promptCfg.Output) == "" {
		promptCfg.Output = config.DefaultPlannerOutputPrompt
	}
	if structuredRetryMax < 0 {
		structuredRetryMax = 0
	}
	return &UnifiedPlanner{llm: llm, promptCfg: promptCfg, retryMax: structuredRetryMax}
}

var _ Planner = (*UnifiedPlanner)(nil)

func (p *UnifiedPlanner) Plan(ctx context.Context, instruction string, pctx *plan.Context) (plan.Plan, error) {
	slog.Info("planner: planning", "instruction", instruction)

	prompt := p.buildPrompt(instruction, pctx)

	steps, err := p.callAndParse(ctx, prompt)
	if err != nil {
		// One repair-only retry, asking only for format correction
		// (§4.5 step 5: "a second LLM call asking only for format
		// repair; a second failure ⇒ PlannerError").
		repairPrompt := p.buildRepairPrompt(prompt)
		steps, err = p.callAndParse(ctx, repairPrompt)
		if err != nil {
			return nil, fmt.Errorf("planning failed: %w", err)
		}
	}

	steps = applyGroundingHeuristic(instruction, pctx, steps)
	steps = p.validateAndRewrite(steps)
	steps = applyToolPreferences(instruction, steps)

	return steps, nil
}

func (p *UnifiedPlanner) callAndParse(ctx context.Context, prompt string) (plan.Plan, error) {
	response, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	steps, mode, ok := plan.ExtractPlan(response)
	if !ok {
		return nil, heikeErrors.InvalidModelOutput("planner response did not contain a parseable plan")
	}
	slog.Debug("planner: extracted plan", "mode", mode, "steps", len(steps))

	for _, s := range steps {
		if _, bad := disallowedStepTypes[s.Type]; bad {
			return nil, heikeErrors.InvalidModelOutput("planner emitted disallowed step type: " + s.Type)
		}
	}
	if err := plan.ValidatePlan(steps); err != nil {
		return nil, heikeErrors.InvalidModelOutput(err.Error())
	}

	return steps, nil
}

func (p *UnifiedPlanner) buildPrompt(instruction string, pctx *plan.Context) string {
	var sb strings.Builder
	sb.WriteString(p.promptCfg.System + "\n")

	if pctx != nil {
		if pctx.CurrentTime != "" {
			sb.WriteString(fmt.Sprintf("\nCURRENT TIME: %s\n", pctx.CurrentTime))
		}
		if pctx.MemoryContext != "" {
			sb.WriteString(fmt.Sprintf("\nMEMORY CONTEXT:\n%s\n", pctx.MemoryContext))
		}
	}

	sb.WriteString(fmt.Sprintf("\nINSTRUCTION: %s\n", instruction))
	sb.WriteString("\n" + p.promptCfg.Output)
	return sb.String()
}

func (p *UnifiedPlanner) buildRepairPrompt(original string) string {
	return original + "\n\nYour previous response could not be parsed as the required JSON shape. " +
		"Reply again with ONLY a valid JSON array of step objects, no prose, no markdown fences."
}

// applyGroundingHeuristic inserts an explicit list_files step as step 0
// when the instruction references a file operation combined with a
// vague referent, resolving an inferred directory from keywords or
// context.attached_path (§4.5 step 2, GLOSSARY "Grounding step").
func applyGroundingHeuristic(instruction string, pctx *plan.Context, steps plan.Plan) plan.Plan {
	lower := strings.ToLower(instruction)

	hasFileOp := containsAny(lower, fileOpKeywords)
	hasVagueReferent := containsAny(lower, vagueReferents)
	if !hasFileOp || !hasVagueReferent {
		return steps
	}

	dir := ""
	for keyword, path := range directoryKeywords {
		if strings.Contains(lower, keyword) {
			dir = path
			break
		}
	}
	if dir == "" && pctx != nil {
		if attached, ok := pctx.Get("attached_path"); ok {
			if s, ok := attached.(string); ok && s != "" {
				dir = s
			}
		}
	}
	if dir == "" {
		// Nothing to ground on; leave the plan untouched rather than
		// guess a directory.
		return steps
	}

	grounding := plan.Step{
		Type:        "list_files",
		Action:      "list files to resolve vague reference",
		Params:      map[string]any{"directory": dir},
		Description: "grounding step: resolve vague file reference before continuing",
	}
	return append(plan.Plan{grounding}, steps...)
}

// validateAndRewrite applies the "auto-rewrite common mistakes" pass
// from §4.5 step 5: e.g. a file_move with no target_dir and a
// delete-ish action text is really a file_delete.
func (p *UnifiedPlanner) validateAndRewrite(steps plan.Plan) plan.Plan {
	out := make(plan.Plan, 0, len(steps))
	for _, s := range steps {
		if s.Type == "file_move" {
			_, hasTarget := s.Params["target_dir"]
			if !hasTarget && containsAny(strings.ToLower(s.Action), []string{"delete", "删除"}) {
				s.Type = "file_delete"
			}
		}
		out = append(out, s)
	}
	return out
}

// applyToolPreferences post-processes for known tool-preference rules
// (§4.5 step 6): a screenshot step whose instruction says "save to
// desktop" but omits save_path gets it injected.
func applyToolPreferences(instruction string, steps plan.Plan) plan.Plan {
	lower := strings.ToLower(instruction)
	wantsDesktopSave := strings.Contains(lower, "save to desktop") || strings.Contains(lower, "保存到桌面")
	if !wantsDesktopSave {
		return steps
	}

	for i, s := range steps {
		if s.Type != "screenshot_desktop" && s.Type != "browser_screenshot" {
			continue
		}
		if _, hasSavePath := s.Params["save_path"]; hasSavePath {
			continue
		}
		if s.Params == nil {
			s.Params = map[string]any{}
		}
		s.Params["save_path"] = "~/Desktop/screenshot.png"
		steps[i] = s
	}
	return steps
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

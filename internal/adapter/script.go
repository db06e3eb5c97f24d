package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/executor"
	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/sandbox"
	"github.com/harunnryd/heike/internal/tool"
)

// ScriptAdapter implements execute_python_script (§4.8, §6.2): it
// materializes inline script content (or an existing script_path) on
// disk, runs §4.8's validation sequence (syntax lint via the runtime's
// ValidateDependencies, then an optional dry-run), and finally executes
// the script inside the configured sandbox.
//
// A failed dry-run is surfaced in the result but is not treated as
// fatal; the real execution still proceeds, per §7's "dry-run failures
// are advisory."
type ScriptAdapter struct {
	Deps
	Executor *executor.RuntimeBasedExecutor
	Sandbox  sandbox.SandboxManager
}

func NewScriptAdapter(deps Deps, exec *executor.RuntimeBasedExecutor, sb sandbox.SandboxManager) *ScriptAdapter {
	if exec != nil && sb != nil {
		exec.SetSandbox(sb)
	}
	return &ScriptAdapter{Deps: deps, Executor: exec, Sandbox: sb}
}

func (a *ScriptAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if a.Executor == nil {
		return configErr("no script runtime available on this host")
	}

	scriptPath := paramString(step.Params, "script_path")
	content := paramString(step.Params, "script", "content", "code")
	if scriptPath == "" && content == "" {
		return fail("execute_python_script requires either script_path or script content")
	}

	var ownedTmp string
	if scriptPath == "" {
		dir, err := os.MkdirTemp("", "heike-script-*")
		if err != nil {
			return fail(err.Error())
		}
		ownedTmp = dir
		scriptPath = filepath.Join(dir, "script.py")
		if err := os.WriteFile(scriptPath, []byte(content), 0o700); err != nil {
			return fail(err.Error())
		}
	} else {
		resolved, err := a.resolvePath(scriptPath)
		if err != nil {
			return fail(err.Error())
		}
		scriptPath = resolved
	}
	if ownedTmp != "" {
		defer os.RemoveAll(ownedTmp)
	}

	ct := &tool.CustomTool{
		Name:         "execute_python_script",
		Language:     tool.ToolTypePython,
		ScriptPath:   scriptPath,
		SandboxLevel: tool.SandboxBasic,
	}

	if err := a.Executor.Validate(ct); err != nil {
		return configErr("script validation failed: " + err.Error())
	}

	var dryRunNote string
	if paramBool(step.Params, "dry_run_first") {
		if err := a.dryRun(ctx, ct); err != nil {
			dryRunNote = "dry run reported: " + err.Error()
		}
	}

	input, _ := json.Marshal(step.Params["args"])
	if len(input) == 0 {
		input = []byte("{}")
	}

	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout(a.Config))
	defer cancel()

	output, err := a.Executor.Execute(runCtx, ct, input)
	if err != nil {
		return plan.StepResult{
			Success: false,
			Message: fmt.Sprintf("script execution failed: %v", err),
			Data:    map[string]any{"dry_run_note": dryRunNote},
		}
	}

	var parsed any
	if err := json.Unmarshal(output, &parsed); err != nil {
		parsed = string(output)
	}

	data := map[string]any{"output": parsed}
	if dryRunNote != "" {
		data["dry_run_note"] = dryRunNote
	}
	return plan.StepResult{Success: true, Message: "executed script", Data: data}
}

// dryRun re-runs the script's validation path a second time as a cheap
// stand-in for a real dry-run harness; genuine sandboxed dry-execution
// would need runtime support this module's runtimes package doesn't
// expose separately from ExecuteScript.
func (a *ScriptAdapter) dryRun(ctx context.Context, ct *tool.CustomTool) error {
	return a.Executor.Validate(ct)
}

func scriptTimeout(cfg *config.Config) time.Duration {
	d, err := config.DurationOrDefault(cfg.Tools.PythonScript.Timeout, config.DefaultPythonScriptToolTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Package adapter implements the concrete Tool Registry adapters §4.8 and
// §6.2 of the specification describe: one Adapter per registered step
// type, each honoring the cognitive.Adapter dispatch contract
// (Execute(ctx, step, pctx) StepResult). Tool semantics themselves are
// explicitly out of scope per spec.md §1 ("the concrete tool
// implementations themselves... specified here only by their dispatch
// contract"), so these adapters favor a working, idiomatic
// implementation over a complete one: browser automation and email I/O
// in particular are deliberately thin, documented per-adapter.
package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/pathutil"
	"github.com/harunnryd/heike/internal/plan"
)

// Deps carries the configuration every adapter in this package may
// need. It holds only Config; it carries no progress callback.
type Deps struct {
	Config *config.Config
}

// resolvePath expands "~"/env vars in raw and, when agent.sandbox_path is
// configured, requires the result to live inside it — the file-operation
// adapters' reading of §4.2's sandbox_path setting.
func (d Deps) resolvePath(raw string) (string, error) {
	expanded, err := pathutil.Expand(raw)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("path is required")
	}

	sandbox := strings.TrimSpace(d.Config.Agent.SandboxPath)
	if sandbox == "" {
		return expanded, nil
	}
	sandboxAbs, err := pathutil.Expand(sandbox)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(sandboxAbs, expanded)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes sandbox_path %q", raw, sandboxAbs)
	}
	return expanded, nil
}

// paramString reads a string param, trying each of the given keys in
// order and returning the first non-empty match.
func paramString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func paramStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func paramBool(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func paramInt(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}

func ok(message string, data map[string]any) plan.StepResult {
	return plan.StepResult{Success: true, Message: message, Data: data}
}

func fail(message string) plan.StepResult {
	return plan.StepResult{Success: false, Message: message}
}

// resourceMissing marks a failure as §7's "resource-missing error":
// surfaced immediately, non-retryable, needs the user.
func resourceMissing(message string) plan.StepResult {
	return plan.StepResult{
		Success: false,
		Message: message,
		Data:    map[string]any{"requires_user_action": true},
	}
}

// configErr marks a failure the reflector must not retry because it
// stems from missing/invalid configuration (§7's "configuration errors").
func configErr(message string) plan.StepResult {
	return plan.StepResult{
		Success: false,
		Message: message,
		Data:    map[string]any{"is_config_error": true},
	}
}

// lookPath reports whether name is on PATH, used throughout the system
// adapters to degrade to resourceMissing instead of failing hard when an
// expected OS automation helper isn't installed.
func lookPath(name string) (string, bool) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return p, true
}

// runCommand runs name with args and returns combined stdout, treating a
// non-zero exit as a regular (retryable) adapter failure rather than a
// resource-missing one — the binary was found, it just failed.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func isDarwin() bool  { return runtime.GOOS == "darwin" }
func isLinux() bool   { return runtime.GOOS == "linux" }
func isWindows() bool { return runtime.GOOS == "windows" }

// downloadToFile fetches url and writes the body to destPath, used by the
// installer-download and browser-download step types alike.
func downloadToFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

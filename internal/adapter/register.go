package adapter

import (
	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/executor"
	"github.com/harunnryd/heike/internal/policy"
	"github.com/harunnryd/heike/internal/sandbox"
	"github.com/harunnryd/heike/internal/scheduler"
	"github.com/harunnryd/heike/internal/structuredmemory"
	"github.com/harunnryd/heike/internal/workflow"
)

// Registrations bundles every collaborator RegisterAll needs to wire
// the full §6.2 closed set into a cognitive.AdapterRegistry. Any
// collaborator other than Config left nil degrades the step types
// depending on it to a configuration-error result rather than a nil
// pointer panic. Config must be set: the file and email adapters read
// it without a nil check.
type Registrations struct {
	Config           *config.Config
	ScriptExecutor   *executor.RuntimeBasedExecutor
	Sandbox          sandbox.SandboxManager
	Scheduler        *scheduler.Scheduler
	StructuredMemory *structuredmemory.Store
	Workflows        *workflow.Store
	Policy           *policy.Engine
	Audit            policy.AuditLogger
}

var fileOps = []string{
	"file_read", "file_write", "file_create", "file_delete", "file_rename",
	"file_move", "file_copy", "file_organize", "file_classify",
	"file_batch_rename", "file_batch_copy", "file_batch_organize", "list_files",
}

var systemOps = []string{
	"screenshot_desktop", "open_file", "open_folder", "open_app", "close_app",
	"set_volume", "set_brightness", "send_notification", "speak",
	"clipboard_read", "clipboard_write", "keyboard_type", "keyboard_shortcut",
	"mouse_click", "mouse_move", "window_minimize", "window_maximize", "window_close",
	"get_system_info", "image_process", "download_latest_python_installer", "text_process",
}

var browserOps = []string{
	"browser_navigate", "browser_click", "browser_fill", "browser_wait",
	"browser_check_element", "browser_screenshot", "download_file",
	"request_login", "request_qr_login", "request_captcha", "fill_login", "fill_captcha",
}

var emailOps = []string{
	"send_email", "search_emails", "get_email_details", "download_attachments",
	"manage_emails", "compress_files",
}

var reminderOps = []string{"set_reminder", "list_reminders", "cancel_reminder"}

var historyOps = []string{
	"get_task_history", "search_history", "add_favorite", "list_favorites", "remove_favorite",
}

var workflowOps = []string{"create_workflow", "list_workflows", "delete_workflow"}

// RegisterAll binds every canonical step type in §6.2 to its concrete
// adapter, wrapping each in GovernedAdapter so the daily tool-call
// budget and audit trail apply uniformly regardless of category.
func RegisterAll(registry *cognitive.AdapterRegistry, r Registrations) {
	deps := Deps{Config: r.Config}

	for _, op := range fileOps {
		register(registry, r, op, NewFileAdapter(deps, op))
	}
	for _, op := range systemOps {
		register(registry, r, op, NewSystemAdapter(deps, op))
	}
	for _, op := range browserOps {
		register(registry, r, op, NewBrowserAdapter(deps, op))
	}
	for _, op := range emailOps {
		register(registry, r, op, NewEmailAdapter(deps, op))
	}
	for _, op := range reminderOps {
		register(registry, r, op, NewReminderAdapter(deps, op, r.Scheduler))
	}
	for _, op := range historyOps {
		register(registry, r, op, NewHistoryAdapter(deps, op, r.StructuredMemory))
	}
	for _, op := range workflowOps {
		register(registry, r, op, NewWorkflowTemplateAdapter(deps, op, r.Workflows))
	}
	register(registry, r, "execute_python_script", NewScriptAdapter(deps, r.ScriptExecutor, r.Sandbox))
}

func register(registry *cognitive.AdapterRegistry, r Registrations, stepType string, inner cognitive.Adapter) {
	registry.Register(stepType, Govern(inner, stepType, r.Policy, r.Audit))
}

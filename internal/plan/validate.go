package plan

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches bracketed stand-ins like "[FILE_PATH]" that
// a model sometimes emits instead of a literal value.
var placeholderPattern = regexp.MustCompile(`\[[A-Z_]+\]`)

var placeholderLiterals = []string{"TODO", "FIXME", "extract_from_context_or_ask_user"}

// ContainsPlaceholder reports whether s looks like an unresolved
// placeholder token rather than a literal value (§3, §8).
func ContainsPlaceholder(s string) bool {
	if placeholderPattern.MatchString(s) {
		return true
	}
	for _, lit := range placeholderLiterals {
		if strings.Contains(s, lit) {
			return true
		}
	}
	return false
}

// ValidateStep checks the structural invariants §3 requires of a Step
// before it may be accepted by the executor: type/action non-empty,
// params present, and no placeholder tokens anywhere in params values.
func ValidateStep(s Step) error {
	if strings.TrimSpace(s.Type) == "" {
		return errf("step type must not be empty")
	}
	if strings.TrimSpace(s.Action) == "" {
		return errf("step action must not be empty")
	}
	if s.Params == nil {
		return errf("step params must be a map, got nil")
	}
	for key, value := range s.Params {
		if err := validateParamValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateParamValue(key string, value any) error {
	switch v := value.(type) {
	case string:
		if ContainsPlaceholder(v) {
			return errf("step param %q contains a placeholder token: %q", key, v)
		}
	case []any:
		for _, item := range v {
			if err := validateParamValue(key, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePlan validates every step in a plan; the first violation is
// returned.
func ValidatePlan(p Plan) error {
	for i, step := range p {
		if err := ValidateStep(step); err != nil {
			return errf("step %d: %v", i, err)
		}
	}
	return nil
}

// canonicalStepTypes is the closed set registered in §6.2. Anything not
// in this set must be resolved to a member via alias normalization
// before dispatch, or the step fails.
var canonicalStepTypes = buildSet(
	// Browser
	"browser_navigate", "browser_click", "browser_fill", "browser_wait",
	"browser_check_element", "browser_screenshot", "download_file",
	"request_login", "request_qr_login", "request_captcha", "fill_login", "fill_captcha",
	// File
	"file_read", "file_write", "file_create", "file_delete", "file_rename",
	"file_move", "file_copy", "file_organize", "file_classify",
	"file_batch_rename", "file_batch_copy", "file_batch_organize", "list_files",
	// System
	"screenshot_desktop", "open_file", "open_folder", "open_app", "close_app",
	"set_volume", "set_brightness", "send_notification", "speak",
	"clipboard_read", "clipboard_write", "keyboard_type", "keyboard_shortcut",
	"mouse_click", "mouse_move", "window_minimize", "window_maximize", "window_close",
	"get_system_info", "image_process", "download_latest_python_installer",
	"execute_python_script", "text_process",
	// Email
	"send_email", "search_emails", "get_email_details", "download_attachments",
	"manage_emails", "compress_files",
	// Reminder / workflow / history
	"set_reminder", "list_reminders", "cancel_reminder", "create_workflow",
	"list_workflows", "delete_workflow", "get_task_history", "search_history",
	"add_favorite", "list_favorites", "remove_favorite",
)

func buildSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// IsCanonicalStepType reports whether t is already a member of the
// registered closed set.
func IsCanonicalStepType(t string) bool {
	_, ok := canonicalStepTypes[t]
	return ok
}

// aliasSynonyms are the confused-reflector spellings §4.7 calls out by
// name; they need action-text inspection to resolve, not a 1:1 table.
var aliasSynonyms = buildSet("file_manager", "FileManager", "file_operation", "app_control", "shell")

// deleteKeywords trigger a file_delete resolution for file-ish aliases.
var deleteKeywords = []string{"删除", "delete", "remove", "trash"}

// closeKeywords trigger close_app for the app_control alias.
var closeKeywords = []string{"关闭", "close", "quit", "exit", "stop"}

// NormalizeStepType resolves a possibly-aliased step to its canonical
// type, inspecting the action text as §4.7/§8 describe. Steps already
// in the closed set pass through unchanged.
func NormalizeStepType(s Step) Step {
	if IsCanonicalStepType(s.Type) {
		return s
	}

	actionLower := strings.ToLower(s.Action)
	_, isAlias := aliasSynonyms[s.Type]
	isAliasCI := isAlias || strings.EqualFold(s.Type, "file_manager") ||
		strings.EqualFold(s.Type, "file_operation") || strings.EqualFold(s.Type, "shell")

	switch {
	case strings.EqualFold(s.Type, "app_control"):
		if containsAny(actionLower, closeKeywords...) || containsAny(s.Action, closeKeywords...) {
			s.Type = "close_app"
		} else {
			s.Type = "open_app"
		}
		return s
	case isAliasCI:
		if containsAny(actionLower, deleteKeywords...) || containsAny(s.Action, deleteKeywords...) {
			s.Type = "file_delete"
		} else {
			s.Type = "file_write"
		}
		return s
	case strings.EqualFold(s.Type, "file_move"):
		if containsAny(actionLower, deleteKeywords...) {
			s.Type = "file_delete"
		}
		return s
	default:
		return s
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

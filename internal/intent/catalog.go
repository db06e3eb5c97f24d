package intent

// DefaultCatalog is the built-in set of fast-path intents for the
// handful of instructions common enough to deserve a single-step plan
// without an LLM round-trip. Hosts may extend this with
// deployment-specific phrasing through New's catalog parameter.
func DefaultCatalog() []Intent {
	return []Intent{
		{
			Type: "screenshot",
			Examples: []string{
				"take a screenshot",
				"screenshot my screen",
				"截个屏",
				"截图",
				"capture my desktop",
			},
			Metadata: map[string]any{
				"step_type": "screenshot_desktop",
				"action":    "capture screen",
			},
		},
		{
			Type: "app_open",
			Examples: []string{
				"open chrome",
				"launch spotify",
				"打开微信",
				"start notepad",
			},
			Metadata: map[string]any{
				"step_type": "open_app",
				"action":    "open application",
				"verbs":     []string{"open", "launch", "start", "打开", "启动"},
			},
		},
		{
			Type: "app_close",
			Examples: []string{
				"close chrome",
				"quit spotify",
				"关闭微信",
				"exit notepad",
			},
			Metadata: map[string]any{
				"step_type": "close_app",
				"action":    "close application",
				"verbs":     []string{"close", "quit", "exit", "关闭", "退出"},
			},
		},
		{
			Type: "clipboard_read",
			Examples: []string{
				"what's in my clipboard",
				"read the clipboard",
				"看看剪贴板里有什么",
			},
			Metadata: map[string]any{
				"step_type": "clipboard_read",
				"action":    "read clipboard",
			},
		},
		{
			Type: "system_info",
			Examples: []string{
				"what's my system info",
				"show system information",
				"how much disk space do I have",
			},
			Metadata: map[string]any{
				"step_type": "get_system_info",
				"action":    "get system info",
			},
		},
	}
}

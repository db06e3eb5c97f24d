package adapter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/heike/internal/plan"
)

// SystemAdapter dispatches the desktop-control step types in §6.2's
// System group. Most operations shell out to the platform-native
// automation helper the OS ships or commonly has installed
// (osascript/xdotool/…); when the helper isn't on PATH the adapter
// degrades to a resource-missing result per §7 rather than failing the
// retry loop pointlessly.
type SystemAdapter struct {
	Deps
	Op string
}

func NewSystemAdapter(deps Deps, op string) *SystemAdapter {
	return &SystemAdapter{Deps: deps, Op: op}
}

func (a *SystemAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	switch a.Op {
	case "screenshot_desktop":
		return a.screenshot(ctx, step)
	case "open_file":
		return a.openPath(ctx, paramString(step.Params, "path", "file_path"))
	case "open_folder":
		return a.openPath(ctx, paramString(step.Params, "path", "folder_path", "directory"))
	case "open_app":
		return a.openApp(ctx, step)
	case "close_app":
		return a.closeApp(ctx, step)
	case "set_volume":
		return a.setVolume(ctx, step)
	case "set_brightness":
		return a.setBrightness(ctx, step)
	case "send_notification":
		return a.sendNotification(ctx, step)
	case "speak":
		return a.speak(ctx, step)
	case "clipboard_read":
		return a.clipboardRead(ctx)
	case "clipboard_write":
		return a.clipboardWrite(ctx, step)
	case "keyboard_type", "keyboard_shortcut", "mouse_click", "mouse_move",
		"window_minimize", "window_maximize", "window_close":
		return a.guiAutomation(ctx, step)
	case "get_system_info":
		return a.systemInfo()
	case "image_process":
		return a.imageProcess(step)
	case "download_latest_python_installer":
		return a.downloadPythonInstaller(ctx, step)
	case "text_process":
		return a.textProcess(step)
	default:
		return fail("system adapter: unrecognized operation " + a.Op)
	}
}

func (a *SystemAdapter) screenshot(ctx context.Context, step plan.Step) plan.StepResult {
	savePath := paramString(step.Params, "save_path", "path")
	if savePath == "" {
		savePath = filepath.Join(os.TempDir(), fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano()))
	} else if resolved, err := a.resolvePath(savePath); err == nil {
		savePath = resolved
	}

	var cmd string
	var args []string
	switch {
	case isDarwin():
		cmd, args = "screencapture", []string{"-x", savePath}
	case isLinux():
		if _, found := lookPath("scrot"); found {
			cmd, args = "scrot", []string{savePath}
		} else if _, found := lookPath("import"); found {
			cmd, args = "import", []string{"-window", "root", savePath}
		}
	}
	if cmd == "" {
		return resourceMissing("no screenshot utility available on this platform (expected screencapture/scrot/import)")
	}
	if _, err := runCommand(ctx, cmd, args...); err != nil {
		return fail(err.Error())
	}
	return plan.StepResult{
		Success: true,
		Message: "captured screenshot to " + savePath,
		Data:    map[string]any{"path": savePath},
		Images:  []string{savePath},
	}
}

func (a *SystemAdapter) openPath(ctx context.Context, raw string) plan.StepResult {
	if raw == "" {
		return fail("a path is required")
	}
	path, err := a.resolvePath(raw)
	if err != nil {
		return fail(err.Error())
	}
	cmd, args := openerCommand(path)
	if cmd == "" {
		return resourceMissing("no file opener available on this platform")
	}
	if _, err := runCommand(ctx, cmd, args...); err != nil {
		return fail(err.Error())
	}
	return ok("opened "+path, map[string]any{"path": path})
}

func openerCommand(target string) (string, []string) {
	switch {
	case isDarwin():
		return "open", []string{target}
	case isWindows():
		return "cmd", []string{"/c", "start", "", target}
	case isLinux():
		if _, found := lookPath("xdg-open"); found {
			return "xdg-open", []string{target}
		}
	}
	return "", nil
}

func (a *SystemAdapter) openApp(ctx context.Context, step plan.Step) plan.StepResult {
	name := paramString(step.Params, "app_name", "name", "application")
	if name == "" {
		return fail("open_app requires app_name")
	}
	switch {
	case isDarwin():
		if _, err := runCommand(ctx, "open", "-a", name); err != nil {
			return fail(err.Error())
		}
	case isLinux():
		if _, found := lookPath(strings.ToLower(name)); !found {
			return resourceMissing(fmt.Sprintf("application %q not found on PATH", name))
		}
		cmd := exec.CommandContext(ctx, strings.ToLower(name))
		if err := cmd.Start(); err != nil {
			return fail(err.Error())
		}
	case isWindows():
		if _, err := runCommand(ctx, "cmd", "/c", "start", "", name); err != nil {
			return fail(err.Error())
		}
	default:
		return resourceMissing("unsupported platform for open_app: " + runtime.GOOS)
	}
	return ok("opened application "+name, map[string]any{"app_name": name})
}

func (a *SystemAdapter) closeApp(ctx context.Context, step plan.Step) plan.StepResult {
	name := paramString(step.Params, "app_name", "name", "application")
	if name == "" {
		return fail("close_app requires app_name")
	}
	switch {
	case isDarwin():
		if _, err := runCommand(ctx, "osascript", "-e", fmt.Sprintf(`quit app "%s"`, name)); err != nil {
			return fail(err.Error())
		}
	case isLinux():
		if _, found := lookPath("pkill"); !found {
			return resourceMissing("pkill not available to close applications")
		}
		if _, err := runCommand(ctx, "pkill", "-f", name); err != nil {
			return fail(err.Error())
		}
	case isWindows():
		if _, err := runCommand(ctx, "taskkill", "/IM", name, "/F"); err != nil {
			return fail(err.Error())
		}
	default:
		return resourceMissing("unsupported platform for close_app: " + runtime.GOOS)
	}
	return ok("closed application "+name, map[string]any{"app_name": name})
}

func (a *SystemAdapter) setVolume(ctx context.Context, step plan.Step) plan.StepResult {
	level := paramInt(step.Params, "level", -1)
	if level < 0 || level > 100 {
		return fail("set_volume requires an integer level 0-100")
	}
	switch {
	case isDarwin():
		if _, err := runCommand(ctx, "osascript", "-e", fmt.Sprintf("set volume output volume %d", level)); err != nil {
			return fail(err.Error())
		}
	case isLinux():
		if _, found := lookPath("amixer"); !found {
			return resourceMissing("amixer not available to set volume")
		}
		if _, err := runCommand(ctx, "amixer", "set", "Master", fmt.Sprintf("%d%%", level)); err != nil {
			return fail(err.Error())
		}
	default:
		return resourceMissing("unsupported platform for set_volume: " + runtime.GOOS)
	}
	return ok(fmt.Sprintf("set volume to %d", level), map[string]any{"level": level})
}

func (a *SystemAdapter) setBrightness(ctx context.Context, step plan.Step) plan.StepResult {
	level := paramInt(step.Params, "level", -1)
	if level < 0 || level > 100 {
		return fail("set_brightness requires an integer level 0-100")
	}
	if isLinux() {
		if _, found := lookPath("light"); found {
			if _, err := runCommand(ctx, "light", "-S", fmt.Sprint(level)); err != nil {
				return fail(err.Error())
			}
			return ok(fmt.Sprintf("set brightness to %d", level), map[string]any{"level": level})
		}
	}
	return resourceMissing("no brightness control utility available on this platform")
}

func (a *SystemAdapter) sendNotification(ctx context.Context, step plan.Step) plan.StepResult {
	title := paramString(step.Params, "title")
	message := paramString(step.Params, "message", "body")
	if message == "" {
		return fail("send_notification requires message")
	}
	switch {
	case isDarwin():
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(message), escapeAppleScript(title))
		if _, err := runCommand(ctx, "osascript", "-e", script); err != nil {
			return fail(err.Error())
		}
	case isLinux():
		if _, found := lookPath("notify-send"); !found {
			return resourceMissing("notify-send not available to send desktop notifications")
		}
		if _, err := runCommand(ctx, "notify-send", title, message); err != nil {
			return fail(err.Error())
		}
	default:
		return resourceMissing("unsupported platform for send_notification: " + runtime.GOOS)
	}
	return ok("sent notification", map[string]any{"title": title, "message": message})
}

func escapeAppleScript(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
}

func (a *SystemAdapter) speak(ctx context.Context, step plan.Step) plan.StepResult {
	text := paramString(step.Params, "text", "message")
	if text == "" {
		return fail("speak requires text")
	}
	switch {
	case isDarwin():
		if _, err := runCommand(ctx, "say", text); err != nil {
			return fail(err.Error())
		}
	case isLinux():
		if _, found := lookPath("espeak"); found {
			if _, err := runCommand(ctx, "espeak", text); err != nil {
				return fail(err.Error())
			}
		} else if _, found := lookPath("spd-say"); found {
			if _, err := runCommand(ctx, "spd-say", text); err != nil {
				return fail(err.Error())
			}
		} else {
			return resourceMissing("no text-to-speech utility available (expected espeak/spd-say)")
		}
	default:
		return resourceMissing("unsupported platform for speak: " + runtime.GOOS)
	}
	return ok("spoke text", map[string]any{"text": text})
}

func (a *SystemAdapter) clipboardRead(ctx context.Context) plan.StepResult {
	var cmd string
	var args []string
	switch {
	case isDarwin():
		cmd = "pbpaste"
	case isLinux():
		if _, found := lookPath("xclip"); found {
			cmd, args = "xclip", []string{"-selection", "clipboard", "-o"}
		} else if _, found := lookPath("xsel"); found {
			cmd, args = "xsel", []string{"--clipboard", "--output"}
		}
	}
	if cmd == "" {
		return resourceMissing("no clipboard utility available on this platform")
	}
	out, err := runCommand(ctx, cmd, args...)
	if err != nil {
		return fail(err.Error())
	}
	return ok("read clipboard", map[string]any{"content": out})
}

func (a *SystemAdapter) clipboardWrite(ctx context.Context, step plan.Step) plan.StepResult {
	content := paramString(step.Params, "content", "text")
	var cmd string
	var args []string
	switch {
	case isDarwin():
		cmd = "pbcopy"
	case isLinux():
		if _, found := lookPath("xclip"); found {
			cmd, args = "xclip", []string{"-selection", "clipboard"}
		} else if _, found := lookPath("xsel"); found {
			cmd, args = "xsel", []string{"--clipboard", "--input"}
		}
	}
	if cmd == "" {
		return resourceMissing("no clipboard utility available on this platform")
	}
	c := exec.CommandContext(ctx, cmd, args...)
	c.Stdin = strings.NewReader(content)
	if out, err := c.CombinedOutput(); err != nil {
		return fail(fmt.Sprintf("%s: %v: %s", cmd, err, out))
	}
	return ok("wrote clipboard", map[string]any{"content": content})
}

// guiAutomation covers keyboard/mouse/window control, which on Linux
// maps onto xdotool and on macOS onto System Events via osascript; with
// neither present this is a resource-missing failure, not a crash.
func (a *SystemAdapter) guiAutomation(ctx context.Context, step plan.Step) plan.StepResult {
	if isLinux() {
		if _, found := lookPath("xdotool"); found {
			args := xdotoolArgs(a.Op, step.Params)
			if args == nil {
				return fail("unsupported gui automation params for " + a.Op)
			}
			if _, err := runCommand(ctx, "xdotool", args...); err != nil {
				return fail(err.Error())
			}
			return ok("performed "+a.Op, map[string]any{"op": a.Op})
		}
	}
	if isDarwin() {
		if _, found := lookPath("osascript"); found {
			return resourceMissing("GUI automation via System Events requires Accessibility permissions; not attempted headlessly")
		}
	}
	return resourceMissing("no GUI automation utility available for " + a.Op)
}

func xdotoolArgs(op string, params map[string]any) []string {
	switch op {
	case "keyboard_type":
		text := paramString(params, "text")
		if text == "" {
			return nil
		}
		return []string{"type", text}
	case "keyboard_shortcut":
		keys := paramString(params, "keys", "shortcut")
		if keys == "" {
			return nil
		}
		return []string{"key", keys}
	case "mouse_click":
		return []string{"click", "1"}
	case "mouse_move":
		x := paramInt(params, "x", 0)
		y := paramInt(params, "y", 0)
		return []string{"mousemove", fmt.Sprint(x), fmt.Sprint(y)}
	case "window_minimize":
		return []string{"getactivewindow", "windowminimize"}
	case "window_maximize":
		return []string{"getactivewindow", "windowsize", "100%", "100%"}
	case "window_close":
		return []string{"getactivewindow", "windowclose"}
	}
	return nil
}

func (a *SystemAdapter) systemInfo() plan.StepResult {
	hostname, _ := os.Hostname()
	return ok("collected system info", map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"hostname":   hostname,
		"num_cpu":    runtime.NumCPU(),
		"go_version": runtime.Version(),
	})
}

func (a *SystemAdapter) imageProcess(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	info, err := os.Stat(path)
	if err != nil {
		return fail(fmt.Sprintf("stat %s: %v", path, err))
	}
	f, err := os.Open(path)
	if err != nil {
		return fail(err.Error())
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)
	contentType := detectImageType(head[:n])
	return ok("processed image metadata for "+path, map[string]any{
		"path":      path,
		"size":      info.Size(),
		"mime_type": contentType,
	})
}

func detectImageType(head []byte) string {
	switch {
	case len(head) >= 8 && string(head[1:4]) == "PNG":
		return "image/png"
	case len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8:
		return "image/jpeg"
	case len(head) >= 6 && (string(head[:6]) == "GIF87a" || string(head[:6]) == "GIF89a"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func (a *SystemAdapter) downloadPythonInstaller(ctx context.Context, step plan.Step) plan.StepResult {
	url := paramString(step.Params, "url")
	if url == "" {
		switch runtime.GOOS {
		case "darwin":
			url = "https://www.python.org/ftp/python/3.12.3/python-3.12.3-macos11.pkg"
		case "windows":
			url = "https://www.python.org/ftp/python/3.12.3/python-3.12.3-amd64.exe"
		default:
			return resourceMissing("no default Python installer URL for platform " + runtime.GOOS + "; install python3 via the system package manager instead")
		}
	}
	savePath := paramString(step.Params, "save_path")
	if savePath == "" {
		savePath = filepath.Join(os.TempDir(), filepath.Base(url))
	} else if resolved, err := a.resolvePath(savePath); err == nil {
		savePath = resolved
	}
	if err := downloadToFile(ctx, url, savePath); err != nil {
		return fail(err.Error())
	}
	return ok("downloaded python installer to "+savePath, map[string]any{"path": savePath, "url": url})
}

func (a *SystemAdapter) textProcess(step plan.Step) plan.StepResult {
	text := paramString(step.Params, "text", "content")
	operation := strings.ToLower(paramString(step.Params, "operation"))
	switch operation {
	case "uppercase":
		return ok("uppercased text", map[string]any{"result": strings.ToUpper(text)})
	case "lowercase":
		return ok("lowercased text", map[string]any{"result": strings.ToLower(text)})
	case "trim":
		return ok("trimmed text", map[string]any{"result": strings.TrimSpace(text)})
	case "word_count":
		count := len(strings.Fields(text))
		return ok("counted words", map[string]any{"result": count})
	case "replace":
		from := paramString(step.Params, "from")
		to := paramString(step.Params, "to")
		return ok("replaced text", map[string]any{"result": strings.ReplaceAll(text, from, to)})
	case "", "identity":
		return ok("processed text", map[string]any{"result": text})
	default:
		return fail("unsupported text_process operation: " + operation)
	}
}

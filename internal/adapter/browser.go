package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/heike/internal/plan"
)

// BrowserAdapter covers the browser_* and request_* interactive step
// types of §6.2. No headless-browser engine is anywhere in this
// module's dependency graph, so the browser steps are deliberately
// thin: navigate performs a GET, records the page's URL and HTML in the
// task context and reports the page title, and check_element searches
// that last fetched HTML. browser_click, browser_fill and
// browser_screenshot need a live DOM or a renderer and return a
// resource-missing result; no form is ever submitted. This satisfies
// the dispatch contract without fabricating a browser-automation
// dependency the example pack never carries.
type BrowserAdapter struct {
	Deps
	Op     string
	Client *http.Client
}

func NewBrowserAdapter(deps Deps, op string) *BrowserAdapter {
	return &BrowserAdapter{Deps: deps, Op: op, Client: &http.Client{Timeout: 20 * time.Second}}
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func (a *BrowserAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	switch a.Op {
	case "browser_navigate":
		return a.navigate(ctx, step, pctx)
	case "browser_screenshot":
		return resourceMissing("browser_screenshot requires a rendering engine not available in this build; use screenshot_desktop instead")
	case "browser_wait":
		return a.wait(ctx, step)
	case "browser_check_element":
		return a.checkElement(step, pctx)
	case "browser_click", "browser_fill":
		return resourceMissing(a.Op + " requires a live DOM session not available without a browser-automation engine")
	case "download_file":
		return a.download(ctx, step)
	case "request_login", "request_qr_login", "request_captcha", "fill_login", "fill_captcha":
		return a.requestInput(ctx, step, pctx)
	default:
		return fail("browser adapter: unrecognized operation " + a.Op)
	}
}

func (a *BrowserAdapter) navigate(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	target := paramString(step.Params, "url")
	if target == "" {
		return fail("browser_navigate requires url")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return fail("invalid url: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fail(err.Error())
	}
	req.Header.Set("User-Agent", "heike-agent/1.0")

	resp, err := a.Client.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("navigate to %s: %v", target, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fail(err.Error())
	}
	html := string(body)
	title := ""
	if m := titleRe.FindStringSubmatch(html); len(m) == 2 {
		title = strings.TrimSpace(stripTags(m[1]))
	}

	if pctx != nil {
		pctx.Set("last_page_url", target)
		pctx.Set("last_page_html", html)
	}

	return ok("navigated to "+target, map[string]any{
		"url":         target,
		"status_code": resp.StatusCode,
		"title":       title,
	})
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (a *BrowserAdapter) wait(ctx context.Context, step plan.Step) plan.StepResult {
	seconds := paramInt(step.Params, "seconds", 1)
	if seconds < 0 {
		seconds = 0
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return ok(fmt.Sprintf("waited %ds", seconds), map[string]any{"seconds": seconds})
	case <-ctx.Done():
		return fail(ctx.Err().Error())
	}
}

func (a *BrowserAdapter) checkElement(step plan.Step, pctx *plan.Context) plan.StepResult {
	selector := paramString(step.Params, "selector", "text")
	if selector == "" {
		return fail("browser_check_element requires selector or text")
	}
	html := ""
	if pctx != nil {
		if v, found := pctx.Get("last_page_html"); found {
			if s, ok := v.(string); ok {
				html = s
			}
		}
	}
	present := html != "" && strings.Contains(html, selector)
	return ok(fmt.Sprintf("checked for %q", selector), map[string]any{"present": present})
}

func (a *BrowserAdapter) download(ctx context.Context, step plan.Step) plan.StepResult {
	target := paramString(step.Params, "url")
	if target == "" {
		return fail("download_file requires url")
	}
	savePath := paramString(step.Params, "save_path", "path")
	if savePath == "" {
		u, err := url.Parse(target)
		if err != nil {
			return fail(err.Error())
		}
		savePath = filepath.Join(os.TempDir(), filepath.Base(u.Path))
	} else if resolved, err := a.resolvePath(savePath); err == nil {
		savePath = resolved
	}
	if err := downloadToFile(ctx, target, savePath); err != nil {
		return fail(err.Error())
	}
	return ok("downloaded "+target+" to "+savePath, map[string]any{"path": savePath, "url": target})
}

// requestInput bridges the login/CAPTCHA/QR interactive step types onto
// §4.8's request_input side channel: it blocks on pctx.RequestInput,
// which the orchestrator's input broker services by emitting
// request_input/waiting_for_input events and polling for a response.
func (a *BrowserAdapter) requestInput(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if pctx == nil || pctx.RequestInput == nil {
		return configErr("no request_input channel is wired for this task")
	}
	spec := map[string]any{}
	for k, v := range step.Params {
		spec[k] = v
	}
	values, err := pctx.RequestInput(ctx, a.Op, spec)
	if err != nil {
		return plan.StepResult{
			Success: false,
			Message: "request_input failed: " + err.Error(),
			Data:    map[string]any{"requires_user_action": true},
		}
	}
	if values == nil {
		return plan.StepResult{
			Success: false,
			Message: a.Op + " was not answered before the timeout",
			Data:    map[string]any{"requires_user_action": true},
		}
	}
	data := map[string]any{}
	for k, v := range values {
		data[k] = v
	}
	return plan.StepResult{Success: true, Message: a.Op + " received", Data: data}
}

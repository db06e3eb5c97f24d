package adapter

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/heike/internal/plan"
)

// EmailAdapter covers the email step types of §6.2. Sending is a real
// net/smtp submission against agent.smtp_*; reading is deliberately
// thin because no IMAP client exists anywhere in this module's
// dependency graph and adding one would mean fabricating a dependency
// the pack never carries — search/get/download/manage all degrade to
// a resource-missing result documenting the gap rather than silently
// doing nothing.
type EmailAdapter struct {
	Deps
	Op string
}

func NewEmailAdapter(deps Deps, op string) *EmailAdapter {
	return &EmailAdapter{Deps: deps, Op: op}
}

func (a *EmailAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	switch a.Op {
	case "send_email":
		return a.send(step)
	case "search_emails", "get_email_details", "download_attachments", "manage_emails":
		return resourceMissing(a.Op + " requires an IMAP client not available in this build")
	case "compress_files":
		return a.compress(step)
	default:
		return fail("email adapter: unrecognized operation " + a.Op)
	}
}

func (a *EmailAdapter) send(step plan.Step) plan.StepResult {
	cfg := a.Config.Agent
	if cfg.SMTPHost == "" {
		return configErr("agent.smtp_host is not configured")
	}

	to := paramStringSlice(step.Params, "to")
	if len(to) == 0 {
		if single := paramString(step.Params, "to"); single != "" {
			to = []string{single}
		}
	}
	if len(to) == 0 {
		return fail("send_email requires at least one recipient")
	}
	subject := paramString(step.Params, "subject")
	body := paramString(step.Params, "body", "content")

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.SMTPUser)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, cfg.SMTPUser, to, []byte(msg.String())); err != nil {
		return fail(fmt.Sprintf("send email: %v", err))
	}
	return ok("sent email to "+strings.Join(to, ", "), map[string]any{"to": to, "subject": subject})
}

func (a *EmailAdapter) compress(step plan.Step) plan.StepResult {
	files := paramStringSlice(step.Params, "files")
	if len(files) == 0 {
		return fail("compress_files requires files")
	}
	archivePath := paramString(step.Params, "archive_path", "output_path")
	if archivePath == "" {
		return fail("compress_files requires archive_path")
	}
	archivePath, err := a.resolvePath(archivePath)
	if err != nil {
		return fail(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fail(err.Error())
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fail(err.Error())
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	var included []string
	for _, rawPath := range files {
		src, err := a.resolvePath(rawPath)
		if err != nil {
			zw.Close()
			return fail(err.Error())
		}
		if err := addFileToZip(zw, src); err != nil {
			zw.Close()
			return fail(err.Error())
		}
		included = append(included, src)
	}
	if err := zw.Close(); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("compressed %d files into %s", len(included), archivePath), map[string]any{
		"archive_path": archivePath, "files": included,
	})
}

func addFileToZip(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	defer in.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

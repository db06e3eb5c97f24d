package adapter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harunnryd/heike/internal/plan"
)

// FileAdapter dispatches every File step type in §6.2's closed set
// (file_read, file_write, ..., list_files) against the local filesystem,
// honoring agent.sandbox_path when configured (Deps.resolvePath).
type FileAdapter struct {
	Deps
	Op string
}

func NewFileAdapter(deps Deps, op string) *FileAdapter {
	return &FileAdapter{Deps: deps, Op: op}
}

func (a *FileAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	switch a.Op {
	case "file_read":
		return a.read(step)
	case "file_write":
		return a.write(step)
	case "file_create":
		return a.create(step)
	case "file_delete":
		return a.delete(step)
	case "file_rename":
		return a.rename(step)
	case "file_move":
		return a.move(step)
	case "file_copy":
		return a.copy(step)
	case "file_organize":
		return a.organize(step, pctx)
	case "file_classify":
		return a.classify(step)
	case "file_batch_rename":
		return a.batchRename(step)
	case "file_batch_copy":
		return a.batchCopy(step)
	case "file_batch_organize":
		return a.batchOrganize(step, pctx)
	case "list_files":
		return a.list(step, pctx)
	default:
		return fail("file adapter: unrecognized operation " + a.Op)
	}
}

func (a *FileAdapter) read(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Sprintf("read %s: %v", path, err))
	}
	return ok("read "+path, map[string]any{"path": path, "content": string(content), "size": len(content)})
}

func (a *FileAdapter) write(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	content := paramString(step.Params, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fail(fmt.Sprintf("write %s: %v", path, err))
	}
	return ok("wrote "+path, map[string]any{"path": path, "bytes_written": len(content)})
}

func (a *FileAdapter) create(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return fail(fmt.Sprintf("%s already exists", path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(err.Error())
	}
	content := paramString(step.Params, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fail(fmt.Sprintf("create %s: %v", path, err))
	}
	return ok("created "+path, map[string]any{"path": path})
}

func (a *FileAdapter) delete(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	if err := os.RemoveAll(path); err != nil {
		return fail(fmt.Sprintf("delete %s: %v", path, err))
	}
	return ok("deleted "+path, map[string]any{"path": path})
}

func (a *FileAdapter) rename(step plan.Step) plan.StepResult {
	src, err := a.resolvePath(paramString(step.Params, "path", "file_path", "source"))
	if err != nil {
		return fail(err.Error())
	}
	newName := paramString(step.Params, "new_name", "name")
	if newName == "" {
		return fail("file_rename requires new_name")
	}
	dst := filepath.Join(filepath.Dir(src), newName)
	if err := os.Rename(src, dst); err != nil {
		return fail(fmt.Sprintf("rename %s -> %s: %v", src, dst, err))
	}
	return ok("renamed "+src+" to "+dst, map[string]any{"path": dst, "previous_path": src})
}

func (a *FileAdapter) move(step plan.Step) plan.StepResult {
	src, dst, err := a.sourceAndDest(step)
	if err != nil {
		return fail(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fail(err.Error())
	}
	if err := os.Rename(src, dst); err != nil {
		return fail(fmt.Sprintf("move %s -> %s: %v", src, dst, err))
	}
	return ok("moved "+src+" to "+dst, map[string]any{"path": dst, "previous_path": src})
}

func (a *FileAdapter) copy(step plan.Step) plan.StepResult {
	src, dst, err := a.sourceAndDest(step)
	if err != nil {
		return fail(err.Error())
	}
	if err := copyFile(src, dst); err != nil {
		return fail(err.Error())
	}
	return ok("copied "+src+" to "+dst, map[string]any{"path": dst, "source": src})
}

func (a *FileAdapter) sourceAndDest(step plan.Step) (string, string, error) {
	src, err := a.resolvePath(paramString(step.Params, "path", "file_path", "source"))
	if err != nil {
		return "", "", err
	}
	rawDst := paramString(step.Params, "target_dir", "destination", "target_path")
	if rawDst == "" {
		return "", "", fmt.Errorf("destination path is required")
	}
	isDirTarget := paramString(step.Params, "target_dir") != ""
	dst, err := a.resolvePath(rawDst)
	if err != nil {
		return "", "", err
	}
	if info, statErr := os.Stat(dst); isDirTarget || (statErr == nil && info.IsDir()) {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	return src, dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy source %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copy destination %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

// organize groups the files directly inside a directory into
// per-extension subfolders, the concrete behavior a "organize my
// downloads" instruction resolves to.
func (a *FileAdapter) organize(step plan.Step, pctx *plan.Context) plan.StepResult {
	dir, err := a.resolvePath(paramString(step.Params, "path", "directory", "dir"))
	if err != nil {
		return fail(err.Error())
	}
	moved, err := organizeDir(dir)
	if err != nil {
		return fail(err.Error())
	}
	if pctx != nil {
		pctx.Set("last_organized_dir", dir)
	}
	return ok(fmt.Sprintf("organized %d files in %s", len(moved), dir), map[string]any{"moved": moved})
}

func organizeDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var moved []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.Name())), ".")
		if ext == "" {
			ext = "other"
		}
		destDir := filepath.Join(dir, ext)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return moved, err
		}
		src := filepath.Join(dir, entry.Name())
		dst := filepath.Join(destDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("organize %s: %w", src, err)
		}
		moved = append(moved, dst)
	}
	return moved, nil
}

func (a *FileAdapter) classify(step plan.Step) plan.StepResult {
	path, err := a.resolvePath(paramString(step.Params, "path", "file_path"))
	if err != nil {
		return fail(err.Error())
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	category := classifyExtension(ext)
	return ok(fmt.Sprintf("classified %s as %s", path, category), map[string]any{
		"path": path, "extension": ext, "category": category,
	})
}

func classifyExtension(ext string) string {
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "webp", "svg":
		return "image"
	case "mp4", "mov", "avi", "mkv", "webm":
		return "video"
	case "mp3", "wav", "flac", "aac", "m4a":
		return "audio"
	case "pdf", "doc", "docx", "txt", "md", "odt":
		return "document"
	case "zip", "tar", "gz", "7z", "rar":
		return "archive"
	case "xls", "xlsx", "csv":
		return "spreadsheet"
	case "py", "go", "js", "ts", "java", "c", "cpp", "rb", "rs":
		return "code"
	case "":
		return "unknown"
	default:
		return "other"
	}
}

func (a *FileAdapter) batchRename(step plan.Step) plan.StepResult {
	files := paramStringSlice(step.Params, "files")
	pattern := paramString(step.Params, "pattern", "new_name_pattern")
	if pattern == "" {
		return fail("file_batch_rename requires pattern")
	}
	var renamed []string
	for i, rawPath := range files {
		src, err := a.resolvePath(rawPath)
		if err != nil {
			return fail(err.Error())
		}
		name := strings.ReplaceAll(pattern, "{index}", fmt.Sprint(i+1))
		name = strings.ReplaceAll(name, "{ext}", strings.TrimPrefix(filepath.Ext(src), "."))
		dst := filepath.Join(filepath.Dir(src), name)
		if err := os.Rename(src, dst); err != nil {
			return fail(fmt.Sprintf("batch rename %s: %v", src, err))
		}
		renamed = append(renamed, dst)
	}
	return ok(fmt.Sprintf("renamed %d files", len(renamed)), map[string]any{"renamed": renamed})
}

func (a *FileAdapter) batchCopy(step plan.Step) plan.StepResult {
	files := paramStringSlice(step.Params, "files")
	rawDst := paramString(step.Params, "target_dir", "destination")
	if rawDst == "" {
		return fail("file_batch_copy requires target_dir")
	}
	destDir, err := a.resolvePath(rawDst)
	if err != nil {
		return fail(err.Error())
	}
	var copied []string
	for _, rawPath := range files {
		src, err := a.resolvePath(rawPath)
		if err != nil {
			return fail(err.Error())
		}
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fail(err.Error())
		}
		copied = append(copied, dst)
	}
	return ok(fmt.Sprintf("copied %d files", len(copied)), map[string]any{"copied": copied})
}

func (a *FileAdapter) batchOrganize(step plan.Step, pctx *plan.Context) plan.StepResult {
	dirs := paramStringSlice(step.Params, "directories")
	if len(dirs) == 0 {
		if single := paramString(step.Params, "path", "directory"); single != "" {
			dirs = []string{single}
		}
	}
	var allMoved []string
	for _, rawDir := range dirs {
		dir, err := a.resolvePath(rawDir)
		if err != nil {
			return fail(err.Error())
		}
		moved, err := organizeDir(dir)
		if err != nil {
			return fail(err.Error())
		}
		allMoved = append(allMoved, moved...)
	}
	if pctx != nil && len(dirs) > 0 {
		pctx.Set("last_organized_dir", dirs[len(dirs)-1])
	}
	return ok(fmt.Sprintf("organized %d files across %d directories", len(allMoved), len(dirs)), map[string]any{"moved": allMoved})
}

// list is the Grounding step §4.5 injects to resolve a vague file
// reference ("that file", "the last one") before later steps run; it
// also serves the standalone list_files step type.
func (a *FileAdapter) list(step plan.Step, pctx *plan.Context) plan.StepResult {
	dir, err := a.resolvePath(paramString(step.Params, "path", "directory", "dir"))
	if err != nil {
		return fail(err.Error())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fail(fmt.Sprintf("list %s: %v", dir, err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if pctx != nil {
		pctx.Set("last_listed_dir", dir)
		pctx.Set("last_listed_files", names)
	}
	return ok(fmt.Sprintf("listed %d entries in %s", len(names), dir), map[string]any{"directory": dir, "files": names})
}

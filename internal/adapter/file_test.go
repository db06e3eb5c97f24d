package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/plan"
)

func testDeps() Deps {
	return Deps{Config: &config.Config{}}
}

func TestFileAdapterWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	write := NewFileAdapter(testDeps(), "file_write")
	res := write.Execute(context.Background(), plan.Step{Params: map[string]any{"path": path, "content": "hello"}}, nil)
	if !res.Success {
		t.Fatalf("write failed: %+v", res)
	}

	read := NewFileAdapter(testDeps(), "file_read")
	res = read.Execute(context.Background(), plan.Step{Params: map[string]any{"path": path}}, nil)
	if !res.Success {
		t.Fatalf("read failed: %+v", res)
	}
	if res.Data["content"] != "hello" {
		t.Fatalf("expected content 'hello', got %v", res.Data["content"])
	}
}

func TestFileAdapterCreateRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	create := NewFileAdapter(testDeps(), "file_create")
	res := create.Execute(context.Background(), plan.Step{Params: map[string]any{"path": path}}, nil)
	if res.Success {
		t.Fatalf("expected failure creating existing file, got success")
	}
}

func TestFileAdapterDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	del := NewFileAdapter(testDeps(), "file_delete")
	res := del.Execute(context.Background(), plan.Step{Params: map[string]any{"path": path}}, nil)
	if !res.Success {
		t.Fatalf("delete failed: %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed")
	}
}

func TestFileAdapterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	rename := NewFileAdapter(testDeps(), "file_rename")
	res := rename.Execute(context.Background(), plan.Step{Params: map[string]any{"path": path, "new_name": "new.txt"}}, nil)
	if !res.Success {
		t.Fatalf("rename failed: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); err != nil {
		t.Fatalf("expected renamed file to exist: %v", err)
	}
}

func TestFileAdapterCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	destDir := filepath.Join(dir, "out")

	copyAdapter := NewFileAdapter(testDeps(), "file_copy")
	res := copyAdapter.Execute(context.Background(), plan.Step{Params: map[string]any{
		"path": src, "target_dir": destDir,
	}}, nil)
	if !res.Success {
		t.Fatalf("copy failed: %+v", res)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "src.txt"))
	if err != nil {
		t.Fatalf("read copied file: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected copied content 'payload', got %q", got)
	}
}

func TestFileAdapterOrganizeGroupsByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	organize := NewFileAdapter(testDeps(), "file_organize")
	pctx := plan.NewContext("now")
	res := organize.Execute(context.Background(), plan.Step{Params: map[string]any{"path": dir}}, pctx)
	if !res.Success {
		t.Fatalf("organize failed: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "txt", "a.txt")); err != nil {
		t.Fatalf("expected a.txt moved into txt/: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "jpg", "c.jpg")); err != nil {
		t.Fatalf("expected c.jpg moved into jpg/: %v", err)
	}
	if got, _ := pctx.Get("last_organized_dir"); got != dir {
		t.Fatalf("expected last_organized_dir set to %s, got %v", dir, got)
	}
}

func TestFileAdapterClassify(t *testing.T) {
	classify := NewFileAdapter(testDeps(), "file_classify")
	res := classify.Execute(context.Background(), plan.Step{Params: map[string]any{"path": "/tmp/report.pdf"}}, nil)
	if !res.Success {
		t.Fatalf("classify failed: %+v", res)
	}
	if res.Data["category"] != "document" {
		t.Fatalf("expected category document, got %v", res.Data["category"])
	}
}

func TestFileAdapterListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	list := NewFileAdapter(testDeps(), "list_files")
	pctx := plan.NewContext("now")
	res := list.Execute(context.Background(), plan.Step{Params: map[string]any{"path": dir}}, pctx)
	if !res.Success {
		t.Fatalf("list failed: %+v", res)
	}
	names, _ := res.Data["files"].([]string)
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("expected sorted [a.txt b.txt], got %v", names)
	}
	if got, _ := pctx.Get("last_listed_dir"); got != dir {
		t.Fatalf("expected last_listed_dir set to %s, got %v", dir, got)
	}
}

func TestFileAdapterSandboxEscapeRejected(t *testing.T) {
	sandboxDir := t.TempDir()
	outside := t.TempDir()

	deps := Deps{Config: &config.Config{Agent: config.AgentConfig{SandboxPath: sandboxDir}}}
	read := NewFileAdapter(deps, "file_read")
	res := read.Execute(context.Background(), plan.Step{Params: map[string]any{"path": filepath.Join(outside, "x.txt")}}, nil)
	if res.Success {
		t.Fatalf("expected sandbox escape to fail")
	}
}

func TestFileAdapterUnrecognizedOp(t *testing.T) {
	a := NewFileAdapter(testDeps(), "file_teleport")
	res := a.Execute(context.Background(), plan.Step{Params: map[string]any{}}, nil)
	if res.Success {
		t.Fatalf("expected unrecognized op to fail")
	}
}

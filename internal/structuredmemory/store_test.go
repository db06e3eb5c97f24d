package structuredmemory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetPreference(ctx, "theme", "dark", "ui"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	got, err := s.GetPreference(ctx, "theme", "light")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got != "dark" {
		t.Fatalf("got %q, want dark", got)
	}

	if _, err := s.GetPreference(ctx, "missing", "fallback"); err != nil {
		t.Fatalf("GetPreference missing: %v", err)
	}

	all, err := s.GetAllPreferences(ctx, "ui")
	if err != nil {
		t.Fatalf("GetAllPreferences: %v", err)
	}
	if all["theme"] != "dark" {
		t.Fatalf("expected theme=dark in category ui, got %v", all)
	}
}

func TestPreferenceUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetPreference(ctx, "k", "v1", "cat"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, "k", "v2", "cat"); err != nil {
		t.Fatalf("SetPreference overwrite: %v", err)
	}

	got, _ := s.GetPreference(ctx, "k", "")
	if got != "v2" {
		t.Fatalf("got %q, want v2", got)
	}
}

func TestFileRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddFileRecord(ctx, "/tmp/a.txt", "create", "text"); err != nil {
		t.Fatalf("AddFileRecord: %v", err)
	}
	if err := s.AddFileRecord(ctx, "/tmp/b.png", "move", "image"); err != nil {
		t.Fatalf("AddFileRecord: %v", err)
	}

	recent, err := s.GetRecentFiles(ctx, 10, "")
	if err != nil {
		t.Fatalf("GetRecentFiles: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}

	images, err := s.GetRecentFiles(ctx, 10, "image")
	if err != nil {
		t.Fatalf("GetRecentFiles filtered: %v", err)
	}
	if len(images) != 1 || images[0].Path != "/tmp/b.png" {
		t.Fatalf("expected one image record, got %v", images)
	}
}

func TestSimilarInstructionsKeywordOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddInstruction(ctx, "move all screenshots to the desktop", true, 1.2); err != nil {
		t.Fatalf("AddInstruction: %v", err)
	}
	if err := s.AddInstruction(ctx, "send an email to the team", true, 0.5); err != nil {
		t.Fatalf("AddInstruction: %v", err)
	}

	results, err := s.GetSimilarInstructions(ctx, "move my screenshots", 5)
	if err != nil {
		t.Fatalf("GetSimilarInstructions: %v", err)
	}
	if len(results) == 0 || results[0].Instruction != "move all screenshots to the desktop" {
		t.Fatalf("expected screenshot instruction to rank first, got %v", results)
	}
}

func TestKnowledgeTriples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddKnowledge(ctx, "user", "prefers", "dark_mode", 0.9); err != nil {
		t.Fatalf("AddKnowledge: %v", err)
	}

	triples, err := s.QueryKnowledge(ctx, "user", "", "")
	if err != nil {
		t.Fatalf("QueryKnowledge: %v", err)
	}
	if len(triples) != 1 || triples[0].Object != "dark_mode" {
		t.Fatalf("unexpected triples: %v", triples)
	}
}

func TestGetMemoryContextIsBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := s.SetPreference(ctx, "pref"+string(rune('a'+i)), "v", "cat"); err != nil {
			t.Fatalf("SetPreference: %v", err)
		}
	}
	if err := s.AddFileRecord(ctx, "/tmp/x", "create", ""); err != nil {
		t.Fatalf("AddFileRecord: %v", err)
	}
	if err := s.AddInstruction(ctx, "do something", true, 1); err != nil {
		t.Fatalf("AddInstruction: %v", err)
	}

	out, err := s.GetMemoryContext(ctx)
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty memory context")
	}
}

func TestTaskHistoryAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddTaskRecord(ctx, "", "organize my desktop", []string{"list_files", "file_move"}, true, 2.5, []string{"/tmp/a.txt"}); err != nil {
		t.Fatalf("AddTaskRecord: %v", err)
	}
	if err := s.AddTaskRecord(ctx, "", "send a reminder email", []string{"send_email"}, false, 0.1, nil); err != nil {
		t.Fatalf("AddTaskRecord: %v", err)
	}

	history, err := s.GetTaskHistory(ctx, 10)
	if err != nil {
		t.Fatalf("GetTaskHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(history))
	}
	if history[0].Instruction != "send a reminder email" {
		t.Fatalf("expected most recent record first, got %q", history[0].Instruction)
	}

	found, err := s.SearchHistory(ctx, "desktop", 10)
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if len(found) != 1 || found[0].Instruction != "organize my desktop" {
		t.Fatalf("unexpected search result: %v", found)
	}
}

func TestFavorites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddFavorite(ctx, "Downloads", "~/Downloads", "folder")
	if err != nil {
		t.Fatalf("AddFavorite: %v", err)
	}

	favs, err := s.ListFavorites(ctx)
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(favs) != 1 || favs[0].Label != "Downloads" {
		t.Fatalf("unexpected favorites: %v", favs)
	}

	if err := s.RemoveFavorite(ctx, id); err != nil {
		t.Fatalf("RemoveFavorite: %v", err)
	}
	favs, err = s.ListFavorites(ctx)
	if err != nil {
		t.Fatalf("ListFavorites after remove: %v", err)
	}
	if len(favs) != 0 {
		t.Fatalf("expected favorite removed, got %v", favs)
	}

	if err := s.RemoveFavorite(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error removing unknown favorite")
	}
}

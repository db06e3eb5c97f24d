// Package structuredmemory implements the durable key/value and
// relational store §4.9 of the specification describes: preferences,
// file records, an instruction log with substring/keyword similarity,
// knowledge triples, and the bounded get_memory_context summary fed to
// the planner prompt. It is backed by modernc.org/sqlite, the same way
// the rest of the pack reaches for a pure-Go relational driver instead
// of hand-rolled flat files for anything beyond simple key/value state.
package structuredmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

// Store is the structured memory backing §4.9. The data file path is
// the one passed to Open; the file and its directory are created on
// first use.
type Store struct {
	db *sql.DB
}

// FileRecord is one add_file_record entry.
type FileRecord struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"`
	FileType  string    `json:"file_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InstructionRecord is one add_instruction entry.
type InstructionRecord struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Success     bool      `json:"success"`
	DurationS   float64   `json:"duration_s"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgeTriple is one add_knowledge entry.
type KnowledgeTriple struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"object_predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Open creates (if absent) and opens the sqlite-backed memory.db at
// path, running the schema migration. Callers typically resolve path
// under the per-user application directory (§6.3).
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer, avoid SQLITE_BUSY under our own load

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS file_records (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			operation TEXT NOT NULL,
			file_type TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_records_created ON file_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS instructions (
			id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			success INTEGER NOT NULL,
			duration_s REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_records (
			id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			steps_json TEXT NOT NULL,
			success INTEGER NOT NULL,
			duration_s REAL NOT NULL,
			files_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_records_created ON task_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			target TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back and logging on any
// error per §4.9: "all writes are transactional; any error rolls back
// and is logged."
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("structured memory rollback failed", "error", rbErr, "cause", err)
		} else {
			slog.Warn("structured memory write rolled back", "error", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		slog.Error("structured memory commit failed", "error", err)
		return err
	}
	return nil
}

func (s *Store) SetPreference(ctx context.Context, key, value, category string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, category) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, category = excluded.category
		`, key, value, category)
		return err
	})
}

func (s *Store) GetPreference(ctx context.Context, key, defaultValue string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, err
	}
	return value, nil
}

func (s *Store) GetAllPreferences(ctx context.Context, category string) (map[string]string, error) {
	query := `SELECT key, value FROM preferences`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) AddFileRecord(ctx context.Context, path, operation, fileType string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_records (id, path, operation, file_type, created_at) VALUES (?, ?, ?, ?, ?)
		`, ulid.Make().String(), path, operation, fileType, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

func (s *Store) GetRecentFiles(ctx context.Context, limit int, fileType string) ([]FileRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT path, operation, file_type, created_at FROM file_records`
	args := []any{}
	if fileType != "" {
		query += ` WHERE file_type = ?`
		args = append(args, fileType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		var createdAt string
		if err := rows.Scan(&r.Path, &r.Operation, &r.FileType, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddInstruction(ctx context.Context, instruction string, success bool, duration float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO instructions (id, instruction, success, duration_s, created_at) VALUES (?, ?, ?, ?, ?)
		`, ulid.Make().String(), instruction, boolToInt(success), duration, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// GetSimilarInstructions implements §4.9's "substring/keyword
// similarity; not embedding-based" rule: it scores every stored
// instruction by the fraction of query keywords it contains and
// returns the top matches. This is deliberately crude — the
// embedding-based equivalent lives in vectormemory.
func (s *Store) GetSimilarInstructions(ctx context.Context, query string, limit int) ([]InstructionRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, instruction, success, duration_s, created_at FROM instructions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keywords := keywordsOf(query)
	type scored struct {
		rec   InstructionRecord
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var rec InstructionRecord
		var success int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Instruction, &success, &rec.DurationS, &createdAt); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		score := keywordOverlap(keywords, rec.Instruction)
		if score > 0 {
			candidates = append(candidates, scored{rec: rec, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]InstructionRecord, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.rec)
	}
	return out, nil
}

func (s *Store) getRecentInstructions(ctx context.Context, limit int) ([]InstructionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instruction, success, duration_s, created_at FROM instructions
		ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstructionRecord
	for rows.Next() {
		var rec InstructionRecord
		var success int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Instruction, &success, &rec.DurationS, &createdAt); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AddKnowledge(ctx context.Context, subject, predicate, object string, confidence float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge (id, subject, predicate, object, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?)
		`, ulid.Make().String(), subject, predicate, object, confidence, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

func (s *Store) QueryKnowledge(ctx context.Context, subject, predicate, object string) ([]KnowledgeTriple, error) {
	query := `SELECT subject, predicate, object, confidence FROM knowledge WHERE 1=1`
	var args []any
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	if predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, predicate)
	}
	if object != "" {
		query += ` AND object = ?`
		args = append(args, object)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnowledgeTriple
	for rows.Next() {
		var t KnowledgeTriple
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object, &t.Confidence); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TaskHistoryEntry is one get_task_history/search_history result.
type TaskHistoryEntry struct {
	ID            string   `json:"id"`
	Instruction   string   `json:"instruction"`
	Steps         []string `json:"steps"`
	Success       bool     `json:"success"`
	DurationS     float64  `json:"duration_s"`
	FilesInvolved []string `json:"files_involved"`
	CreatedAt     time.Time `json:"created_at"`
}

// AddTaskRecord persists the one-row-per-task audit trail §4.11
// (Task Orchestrator step 7) writes after every completed task,
// success or failure, and never mutates afterward.
func (s *Store) AddTaskRecord(ctx context.Context, id, instruction string, stepDescriptions []string, success bool, durationS float64, filesInvolved []string) error {
	stepsJSON, err := json.Marshal(stepDescriptions)
	if err != nil {
		return fmt.Errorf("marshal task steps: %w", err)
	}
	filesJSON, err := json.Marshal(filesInvolved)
	if err != nil {
		return fmt.Errorf("marshal task files: %w", err)
	}
	if id == "" {
		id = ulid.Make().String()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_records (id, instruction, steps_json, success, duration_s, files_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, instruction, string(stepsJSON), boolToInt(success), durationS, string(filesJSON), time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// GetTaskHistory returns the most recent task records, newest first.
func (s *Store) GetTaskHistory(ctx context.Context, limit int) ([]TaskHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instruction, steps_json, success, duration_s, files_json, created_at
		FROM task_records ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskHistory(rows)
}

// SearchHistory is GetTaskHistory filtered by a case-insensitive
// substring match on the instruction text, mirroring
// GetSimilarInstructions' deliberately crude keyword approach rather
// than embedding search, which lives in vectormemory.
func (s *Store) SearchHistory(ctx context.Context, query string, limit int) ([]TaskHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instruction, steps_json, success, duration_s, files_json, created_at
		FROM task_records WHERE instruction LIKE ? ORDER BY created_at DESC LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskHistory(rows)
}

func scanTaskHistory(rows *sql.Rows) ([]TaskHistoryEntry, error) {
	var out []TaskHistoryEntry
	for rows.Next() {
		var e TaskHistoryEntry
		var stepsJSON, filesJSON, createdAt string
		var success int
		if err := rows.Scan(&e.ID, &e.Instruction, &stepsJSON, &success, &e.DurationS, &filesJSON, &createdAt); err != nil {
			return nil, err
		}
		e.Success = success != 0
		_ = json.Unmarshal([]byte(stepsJSON), &e.Steps)
		_ = json.Unmarshal([]byte(filesJSON), &e.FilesInvolved)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Favorite is one add_favorite/list_favorites entry.
type Favorite struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Target    string    `json:"target"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) AddFavorite(ctx context.Context, label, target, kind string) (string, error) {
	id := ulid.Make().String()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO favorites (id, label, target, kind, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, label, target, kind, time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) ListFavorites(ctx context.Context) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, target, kind, created_at FROM favorites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var f Favorite
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Label, &f.Target, &f.Kind, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) RemoveFavorite(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM favorites WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("favorite not found: %s", id)
		}
		return nil
	})
}

// GetMemoryContext assembles the concise, bounded summary the planner
// prompt uses (§4.9): recent preferences, recent files, and recent
// instructions, each capped so the prompt never grows unbounded.
func (s *Store) GetMemoryContext(ctx context.Context) (string, error) {
	var sb strings.Builder

	prefs, err := s.GetAllPreferences(ctx, "")
	if err != nil {
		return "", err
	}
	if len(prefs) > 0 {
		sb.WriteString("Known preferences:\n")
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i >= 10 {
				break
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, prefs[k]))
		}
	}

	files, err := s.GetRecentFiles(ctx, 5, "")
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		sb.WriteString("Recent files:\n")
		for _, f := range files {
			sb.WriteString(fmt.Sprintf("- %s %s\n", f.Operation, f.Path))
		}
	}

	instructions, err := s.getRecentInstructions(ctx, 3)
	if err != nil {
		return "", err
	}
	if len(instructions) > 0 {
		sb.WriteString("Recent instructions:\n")
		for _, in := range instructions {
			sb.WriteString(fmt.Sprintf("- %q (success=%t)\n", in.Instruction, in.Success))
		}
	}

	return sb.String(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func keywordsOf(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func keywordOverlap(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// Package bugs keeps a persistent journal of bugs and security findings
// reported during agent runs. The relay control channel reads it back out.
package bugs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	KindBug     = "bug"
	KindFinding = "finding"
)

type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	ChatID    string    `json:"chatId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Journal is the sqlite-backed store. Safe for concurrent use.
type Journal struct {
	path string

	once sync.Once
	db   *sql.DB
	err  error

	mu sync.Mutex
}

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		detail TEXT,
		chat_id TEXT,
		created_at_ns INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal_entries(kind)`,
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) ensure() error {
	j.once.Do(func() {
		if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			j.err = fmt.Errorf("create journal dir: %w", err)
			return
		}
		db, err := sql.Open("sqlite", j.path)
		if err != nil {
			j.err = fmt.Errorf("open journal db: %w", err)
			return
		}
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				j.err = fmt.Errorf("apply pragma: %w", err)
				return
			}
		}
		for _, stmt := range journalSchema {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				j.err = fmt.Errorf("apply schema: %w", err)
				return
			}
		}
		j.db = db
	})
	return j.err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Add records an entry and returns it with ID and timestamp filled in.
func (j *Journal) Add(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Title) == "" {
		return Entry{}, fmt.Errorf("journal: empty title")
	}
	if e.Kind != KindBug && e.Kind != KindFinding {
		return Entry{}, fmt.Errorf("journal: unknown kind %q", e.Kind)
	}
	if e.Severity == "" {
		e.Severity = "medium"
	}
	if err := j.ensure(); err != nil {
		return Entry{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, kind, severity, title, detail, chat_id, created_at_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Severity, e.Title, nullIfEmpty(e.Detail), nullIfEmpty(e.ChatID), e.CreatedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return e, nil
}

// List returns entries of one kind, newest first. kind "" means all kinds.
func (j *Journal) List(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if err := j.ensure(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, severity, title, detail, chat_id, created_at_ns FROM journal_entries`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at_ns DESC LIMIT ?`
	args = append(args, limit)

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			detail    sql.NullString
			chatID    sql.NullString
			createdNS int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Severity, &e.Title, &detail, &chatID, &createdNS); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Detail = detail.String
		e.ChatID = chatID.String
		e.CreatedAt = time.Unix(0, createdNS)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary renders recent bugs as a short plain-text block for prompt
// assembly, or "" when the journal is empty.
func (j *Journal) Summary(ctx context.Context, max int) (string, error) {
	if max <= 0 {
		max = 5
	}
	entries, err := j.List(ctx, KindBug, max)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", e.Severity, e.Title)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

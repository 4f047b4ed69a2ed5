package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists spiral entries in a single sqlite database. The
// connection is opened lazily on first use so constructing a store never
// fails; open errors surface on the first query instead.
type SQLiteStore struct {
	path string
	log  *zap.Logger

	once sync.Once
	db   *sql.DB
	err  error

	mu sync.Mutex
}

var spiralSchema = []string{
	`CREATE TABLE IF NOT EXISTS spiral_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		meta TEXT,
		created_at_ns INTEGER NOT NULL,
		last_hit_ns INTEGER,
		hits INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spiral_kind ON spiral_entries(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_spiral_created ON spiral_entries(created_at_ns)`,
}

func NewSQLiteStore(path string, log *zap.Logger) *SQLiteStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteStore{path: path, log: log}
}

func (s *SQLiteStore) ensure() error {
	s.once.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			s.err = fmt.Errorf("create memory dir: %w", err)
			return
		}
		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			s.err = fmt.Errorf("open memory db: %w", err)
			return
		}
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				s.err = fmt.Errorf("apply pragma: %w", err)
				return
			}
		}
		for _, stmt := range spiralSchema {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				s.err = fmt.Errorf("apply schema: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Store implements Engine.
func (s *SQLiteStore) Store(ctx context.Context, text, kind string, meta map[string]string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("memory: empty text")
	}
	if kind == "" {
		kind = KindFact
	}
	if err := s.ensure(); err != nil {
		return err
	}
	var metaJSON sql.NullString
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spiral_entries (id, kind, text, meta, created_at_ns, hits) VALUES (?, ?, ?, ?, ?, 0)`,
		uuid.NewString(), kind, text, metaJSON, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Query implements Engine. Entries are scored by term overlap with a recency
// and hit-count bias, then packed into the character budget in score order.
// Returned entries get their hit counters bumped so frequently recalled
// memories climb the spiral.
func (s *SQLiteStore) Query(ctx context.Context, text string, budget int) (QueryResult, error) {
	if err := s.ensure(); err != nil {
		return QueryResult{}, err
	}
	if budget <= 0 {
		budget = 2048
	}
	terms := queryTerms(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.candidateRows(ctx, terms)
	if err != nil {
		return QueryResult{}, err
	}
	now := time.Now()
	for i := range rows {
		rows[i].Score = scoreEntry(rows[i], terms, now)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	var picked []Entry
	used := 0
	for _, e := range rows {
		cost := len(e.Text)
		if used+cost > budget && len(picked) > 0 {
			break
		}
		if cost > budget && len(picked) == 0 {
			// A single oversized entry still gets returned, truncated on a
			// rune boundary.
			cut := budget
			for cut > 0 && !utf8.RuneStart(e.Text[cut]) {
				cut--
			}
			e.Text = e.Text[:cut]
			cost = budget
		}
		picked = append(picked, e)
		used += cost
		if used >= budget {
			break
		}
	}
	if err := s.bumpHits(ctx, picked); err != nil {
		s.log.Warn("memory hit bump failed", zap.Error(err))
	}
	return QueryResult{Entries: picked}, nil
}

func (s *SQLiteStore) candidateRows(ctx context.Context, terms []string) ([]Entry, error) {
	query := `SELECT id, kind, text, meta, created_at_ns, hits FROM spiral_entries`
	args := make([]any, 0, len(terms))
	if len(terms) > 0 {
		likes := make([]string, len(terms))
		for i, t := range terms {
			likes[i] = "lower(text) LIKE ?"
			args = append(args, "%"+t+"%")
		}
		query += " WHERE " + strings.Join(likes, " OR ")
	}
	query += " ORDER BY created_at_ns DESC LIMIT 200"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			metaJSON  sql.NullString
			createdNS int64
			hits      int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Text, &metaJSON, &createdNS, &hits); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdNS)
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Meta)
		}
		e.Score = float64(hits)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) bumpHits(ctx context.Context, picked []Entry) error {
	if len(picked) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	for _, e := range picked {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE spiral_entries SET hits = hits + 1, last_hit_ns = ? WHERE id = ?`, now, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// scoreEntry expects e.Score to carry the raw hit count from the scan.
func scoreEntry(e Entry, terms []string, now time.Time) float64 {
	lower := strings.ToLower(e.Text)
	matches := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	hits := e.Score
	if hits > 10 {
		hits = 10
	}
	ageHours := now.Sub(e.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := 1.0 / (1.0 + ageHours/24.0)
	return float64(matches)*2.0 + hits*0.2 + recency
}

func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == 12 {
			break
		}
	}
	return terms
}

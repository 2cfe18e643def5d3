// Package memstore is the persistent cross-session memory store: discrete
// facts in SQLite with hybrid vector+keyword retrieval.
//
// Search blends brute-force cosine similarity over stored embeddings with
// FTS5 BM25 keyword rank. Stored text is screened for prompt-injection
// patterns and HTML-entity escaped; only the escaped form ever leaves the
// store. If initialization fails the store stays disabled and every
// operation reports ErrUnavailable, so a broken disk degrades the agent
// instead of crashing it.
package memstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aiovoice/recall/internal/credential"
	"github.com/aiovoice/recall/internal/embed"
	"github.com/aiovoice/recall/internal/observe"
)

const (
	vectorWeight   = 0.7
	textWeight     = 0.3
	minScore       = 0.25 // final-score floor below which candidates are dropped
	dedupThreshold = 0.95 // cosine similarity at which a new entry is a duplicate
	dedupWindow    = 100  // recent embedded rows checked for duplicates
	maxTextLen     = 1000 // characters; longer entries are truncated

	// DefaultTopK is the result count when the caller does not ask for one.
	DefaultTopK = 3

	// DatabaseFile is the store's file name under the memory directory.
	DatabaseFile = "aio-voice-memory.sqlite"
)

var (
	// ErrUnavailable means the store never initialized or init failed.
	ErrUnavailable = errors.New("memory store unavailable")
	// ErrRejected means the text tripped the injection screen or was empty.
	ErrRejected = errors.New("memory text rejected")
	// ErrDuplicate means a near-identical entry already exists.
	ErrDuplicate = errors.New("memory is a near-duplicate")
)

// injectionPattern flags text that tries to smuggle instructions into the
// agent context through stored memories.
var injectionPattern = regexp.MustCompile(`(?i)(ignore\s+(previous|all|above)\s+instructions?|` +
	`system\s*:\s*you\s+are|` +
	`<\s*/?system\s*>|` +
	`assistant\s*:\s*|` +
	`human\s*:\s*|` +
	`\[INST\]|\[/INST\]|` +
	`###\s*(instruction|system|prompt))`)

// Source records how a memory entered the store.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceExplicit Source = "explicit"
)

// Entry is the input to Remember. Category defaults to "general", a zero
// Importance to 0.5, an empty Source to SourceAuto.
type Entry struct {
	Text       string
	Category   string
	Importance float64
	Source     Source
}

// SearchResult is one retrieved memory. TextSafe is the HTML-entity-escaped
// form; raw text never leaves the store.
type SearchResult struct {
	ID        string
	TextSafe  string
	Category  string
	Score     float64
	CreatedAt time.Time
}

// Stats describes the store for diagnostics.
type Stats struct {
	Available  bool
	Total      int
	Embedded   int
	ByCategory map[string]int
	Path       string
}

// Embedder is the vector source. A nil Embedder or a failing one degrades
// the store to keyword-only search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateFailed
)

// Store is the SQLite-backed memory store. Construct with New, then Init
// once; Init failure is sticky.
type Store struct {
	obs      *observe.Observer
	embedder Embedder
	dir      string
	creds    *credential.Manager

	mu    sync.Mutex
	state state
	db    *sql.DB
	path  string
}

// New builds an uninitialized store rooted at dir. A nil embedder is
// allowed; the store then runs keyword-only.
func New(dir string, embedder Embedder, obs *observe.Observer) *Store {
	if obs == nil {
		obs = observe.Nop()
	}
	creds, err := credential.NewManager()
	if err != nil {
		obs.Log().Warn().Err(err).Msg("credential manager unavailable, secrets cannot be stored")
		creds = nil
	}
	return &Store{
		obs:      obs,
		embedder: embedder,
		dir:      dir,
		creds:    creds,
	}
}

// Init creates the directory, opens the database, and applies the schema.
// Idempotent; a failure is logged once and makes the store permanently
// unavailable.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReady:
		return nil
	case stateFailed:
		return ErrUnavailable
	}

	if err := s.open(ctx); err != nil {
		s.state = stateFailed
		s.obs.Log().Error().Err(err).Msg("memory store init failed, continuing without long-term memory")
		return fmt.Errorf("init memory store: %w", err)
	}
	s.state = stateReady
	s.obs.Log().Info().Str("path", s.path).Msg("memory store initialized")
	return nil
}

func (s *Store) open(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("create memory directory: %w", err)
	}

	s.path = filepath.Join(s.dir, DatabaseFile)
	dsn := "file:" + s.path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// a single connection serializes writers; WAL keeps readers cheap
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id          TEXT PRIMARY KEY,
			text        TEXT NOT NULL,
			text_safe   TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT 'general',
			importance  REAL NOT NULL DEFAULT 0.5,
			source      TEXT NOT NULL DEFAULT 'auto',
			embedding   BLOB,
			created_at  INTEGER NOT NULL
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			text,
			id          UNINDEXED,
			category    UNINDEXED,
			content     = 'memories',
			content_rowid = 'rowid'
		);`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai
		AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, text, id, category)
			VALUES (new.rowid, new.text, new.id, new.category);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad
		AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, text, id, category)
			VALUES ('delete', old.rowid, old.text, old.id, old.category);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au
		AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, text, id, category)
			VALUES ('delete', old.rowid, old.text, old.id, old.category);
			INSERT INTO memories_fts(rowid, text, id, category)
			VALUES (new.rowid, new.text, new.id, new.category);
		END;`,
		`CREATE TABLE IF NOT EXISTS config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Available reports whether the store initialized successfully.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

func (s *Store) ready() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return nil, ErrUnavailable
	}
	return s.db, nil
}

// Close releases the database. The store is unavailable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.state = stateFailed
	return err
}

// Remember stores one fact. The text is screened for injection patterns,
// truncated to 1000 characters, escaped, embedded when an embedder is
// available, and skipped when a near-identical embedded entry already
// exists. Returns the new entry id.
func (s *Store) Remember(ctx context.Context, e Entry) (string, error) {
	db, err := s.ready()
	if err != nil {
		return "", err
	}

	ctx, span := s.obs.StartSpan(ctx, "memstore.remember")
	defer span.End()

	text := strings.TrimSpace(e.Text)
	if text == "" {
		return "", ErrRejected
	}
	if injectionPattern.MatchString(text) {
		s.obs.Log().Warn().Str("text", clip(text, 80)).Msg("rejected suspicious memory text")
		return "", ErrRejected
	}
	if runes := []rune(text); len(runes) > maxTextLen {
		text = string(runes[:maxTextLen]) + "…"
	}
	safe := html.EscapeString(text)

	var vec []float32
	if s.embedder != nil {
		v, embErr := s.embedder.Embed(ctx, text)
		if embErr != nil {
			s.obs.Log().Debug().Err(embErr).Msg("embedding failed, storing without vector")
		} else {
			vec = v
		}
	}

	if vec != nil {
		// on a dedup-check error, allow the write
		if dup, dupErr := s.isNearDuplicate(ctx, db, vec); dupErr == nil && dup {
			s.obs.Log().Debug().Str("text", clip(text, 60)).Msg("skipping near-duplicate memory")
			return "", ErrDuplicate
		}
	}

	category := e.Category
	if category == "" {
		category = "general"
	}
	importance := e.Importance
	if importance <= 0 {
		importance = 0.5
	} else if importance > 1 {
		importance = 1
	}
	source := e.Source
	if source == "" {
		source = SourceAuto
	}

	var blob any
	if vec != nil {
		blob = encodeEmbedding(vec)
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO memories (id, text, text_safe, category, importance, source, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, text, safe, category, importance, string(source), blob, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	s.obs.Log().Debug().
		Str("id", id).
		Str("category", category).
		Str("text", clip(text, 60)).
		Msg("stored memory")
	return id, nil
}

func (s *Store) isNearDuplicate(ctx context.Context, db *sql.DB, vec []float32) (bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT embedding FROM memories WHERE embedding IS NOT NULL ORDER BY created_at DESC LIMIT ?`,
		dedupWindow)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			continue
		}
		existing := decodeEmbedding(blob)
		if existing == nil {
			continue
		}
		if embed.Cosine(vec, existing) >= dedupThreshold {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Search runs hybrid retrieval: cosine similarity over embedded rows blended
// 0.7/0.3 with normalized BM25 keyword rank, floored at 0.25, sorted by
// final score. category narrows the result set when non-empty.
func (s *Store) Search(ctx context.Context, query string, topK int, category string) ([]SearchResult, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, span := s.obs.StartSpan(ctx, "memstore.search")
	defer span.End()

	var vecScores map[string]float64
	if s.embedder != nil {
		if qvec, embErr := s.embedder.Embed(ctx, query); embErr == nil {
			vecScores = s.vectorScores(ctx, db, qvec, topK*4, category)
		} else {
			s.obs.Log().Debug().Err(embErr).Msg("query embedding failed, keyword search only")
		}
	}
	textScores := s.textScores(ctx, db, query, topK*4, category)

	type candidate struct {
		id    string
		score float64
	}
	var scored []candidate
	for id, v := range vecScores {
		final := vectorWeight*v + textWeight*textScores[id]
		if final >= minScore {
			scored = append(scored, candidate{id, final})
		}
	}
	for id, t := range textScores {
		if _, ok := vecScores[id]; ok {
			continue
		}
		if final := textWeight * t; final >= minScore {
			scored = append(scored, candidate{id, final})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ids := make([]string, len(scored))
	scoreByID := make(map[string]float64, len(scored))
	for i, c := range scored {
		ids[i] = c.id
		scoreByID[c.id] = c.score
	}
	return s.fetchByIDs(ctx, db, ids, scoreByID)
}

// vectorScores brute-forces cosine similarity over every embedded row. Fine
// for the tens of thousands of rows a personal store accumulates.
func (s *Store) vectorScores(ctx context.Context, db *sql.DB, qvec []float32, limit int, category string) map[string]float64 {
	query := `SELECT id, embedding FROM memories WHERE embedding IS NOT NULL`
	args := []any{}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		s.obs.Log().Error().Err(err).Msg("vector search failed")
		return nil
	}
	defer rows.Close()

	type candidate struct {
		id    string
		score float64
	}
	var all []candidate
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec := decodeEmbedding(blob)
		if vec == nil {
			continue
		}
		sim := embed.Cosine(qvec, vec)
		if sim < 0 {
			sim = 0
		}
		all = append(all, candidate{id, sim})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make(map[string]float64, len(all))
	for _, c := range all {
		out[c.id] = c.score
	}
	return out
}

// textScores runs FTS5 BM25 matching. SQLite bm25 ranks are negative with
// larger magnitude meaning a better match; 1/(1+|rank|) maps them onto
// (0, 1]. Query syntax errors from free-form speech are swallowed.
func (s *Store) textScores(ctx context.Context, db *sql.DB, query string, limit int, category string) map[string]float64 {
	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT m.id, bm25(memories_fts) AS rank
			 FROM memories_fts
			 JOIN memories m ON memories_fts.id = m.id
			 WHERE memories_fts MATCH ? AND m.category = ?
			 ORDER BY rank LIMIT ?`,
			query, category, limit)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT id, bm25(memories_fts) AS rank
			 FROM memories_fts
			 WHERE memories_fts MATCH ?
			 ORDER BY rank LIMIT ?`,
			query, limit)
	}
	if err != nil {
		s.obs.Log().Debug().Err(err).Msg("keyword search failed")
		return nil
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			continue
		}
		if rank < 0 {
			rank = -rank
		}
		out[id] = 1.0 / (1.0 + rank)
	}
	return out
}

func (s *Store) fetchByIDs(ctx context.Context, db *sql.DB, ids []string, scoreByID map[string]float64) ([]SearchResult, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, text_safe, category, created_at FROM memories WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("fetch memories: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var created int64
		if err := rows.Scan(&r.ID, &r.TextSafe, &r.Category, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.Score = scoreByID[r.ID]
		r.CreatedAt = time.Unix(created, 0)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Stats counts rows for diagnostics. Count errors after a successful init
// are logged rather than propagated.
func (s *Store) Stats(ctx context.Context) Stats {
	db, err := s.ready()
	if err != nil {
		return Stats{}
	}

	st := Stats{Available: true, Path: s.path, ByCategory: make(map[string]int)}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.Total); err != nil {
		s.obs.Log().Error().Err(err).Msg("memory stats failed")
		return st
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE embedding IS NOT NULL`).Scan(&st.Embedded); err != nil {
		s.obs.Log().Error().Err(err).Msg("memory stats failed")
		return st
	}

	rows, err := db.QueryContext(ctx, `SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		s.obs.Log().Error().Err(err).Msg("memory stats failed")
		return st
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			continue
		}
		st.ByCategory[category] = count
	}
	return st
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// Embeddings are stored as little-endian float32 blobs.

func encodeEmbedding(vec []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}

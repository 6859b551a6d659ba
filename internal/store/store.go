// Package store persists the patent corpus and serves it to the overview
// engine: it is the reference implementation of overview.Source, Sink,
// AssigneeDirectory and SummarySource on a single SQLite database.
//
// SQLite holds the durable truth (patents, embeddings, canonical assignees,
// persisted overview artifacts). On top of it the store keeps a trio of
// secondary structures rebuilt at open: an inverted index of Porter2
// stems for keyword scopes, a btree over (pub_date, id) for newest-first
// scans, and an optional memory-mapped arena caching embedding vectors so
// graph builds and semantic scans do not decode BLOBs row by row.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sanonone/lacuna/pkg/metrics"
	"github.com/sanonone/lacuna/pkg/overview"
)

// Options configures Open. Path is required. CacheDir enables the mmap
// vector cache; CachePrecision selects its storage width ("float32" default,
// "float16" halves the footprint at ~3 decimal digits). PreferredModel
// biases model selection on paths that carry no explicit preference, such
// as semantic summary scans.
type Options struct {
	Path           string
	CacheDir       string
	CachePrecision string
	PreferredModel string
	Logger         *slog.Logger
}

// Store is a SQLite-backed patent store. All reads that feed the engine go
// through the in-memory catalog under an RWMutex; writes hit SQLite first
// and update the catalog only after the statement succeeded.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	preferred string

	mu    sync.RWMutex
	cat   *catalog
	cache *vectorCache // nil when no cache dir was configured
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS patents (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		abstract    TEXT NOT NULL DEFAULT '',
		assignee    TEXT NOT NULL DEFAULT '',
		assignee_id TEXT NOT NULL DEFAULT '',
		pub_date    TEXT NOT NULL DEFAULT '',
		cpc_codes   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patents_date ON patents(pub_date)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		patent_id TEXT NOT NULL,
		model     TEXT NOT NULL,
		dim       INTEGER NOT NULL,
		vector    BLOB NOT NULL,
		PRIMARY KEY (patent_id, model)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model)`,
	`CREATE TABLE IF NOT EXISTS assignees (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assignee_aliases (
		assignee_id TEXT NOT NULL,
		alias       TEXT NOT NULL,
		PRIMARY KEY (assignee_id, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS overview_nodes (
		model          TEXT NOT NULL,
		patent_id      TEXT NOT NULL,
		cluster_id     INTEGER NOT NULL,
		local_density  REAL NOT NULL,
		overview_score REAL NOT NULL,
		updated_at     TEXT NOT NULL,
		PRIMARY KEY (model, patent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS overview_edges (
		model  TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY (model, source, target)
	)`,
	`CREATE TABLE IF NOT EXISTS crowding_ladder (
		bucket INTEGER PRIMARY KEY,
		total  INTEGER NOT NULL
	)`,
}

// Open opens (creating if needed) the database at opts.Path, runs the
// migrations and loads the in-memory catalog.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Path, err)
	}
	// modernc/sqlite serializes writers; a single connection sidesteps
	// SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	s := &Store{db: db, logger: logger, preferred: opts.PreferredModel, cat: newCatalog()}
	if opts.CacheDir != "" {
		s.cache = newVectorCache(opts.CacheDir, opts.CachePrecision)
	}
	if err := s.loadCatalog(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database and any mapped cache chunks.
func (s *Store) Close() error {
	var firstErr error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) loadCatalog(ctx context.Context) error {
	started := time.Now()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, abstract, assignee, assignee_id, pub_date, cpc_codes
		 FROM patents ORDER BY id`)
	if err != nil {
		return classify("load patents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row patentRow
		var cpcs string
		if err := rows.Scan(&row.id, &row.title, &row.abstract,
			&row.assignee, &row.assigneeID, &row.date, &cpcs); err != nil {
			return classify("scan patent", err)
		}
		row.cpcs = splitCPCColumn(cpcs)
		s.cat.insert(row)
	}
	if err := rows.Err(); err != nil {
		return classify("load patents", err)
	}

	embRows, err := s.db.QueryContext(ctx,
		`SELECT patent_id, model, dim FROM embeddings`)
	if err != nil {
		return classify("load embeddings", err)
	}
	defer embRows.Close()
	for embRows.Next() {
		var id, model string
		var dim int
		if err := embRows.Scan(&id, &model, &dim); err != nil {
			return classify("scan embedding", err)
		}
		s.cat.markEmbedded(id, model, dim)
	}
	if err := embRows.Err(); err != nil {
		return classify("load embeddings", err)
	}

	for model, info := range s.cat.models {
		metrics.StoredEmbeddings.WithLabelValues(model).Set(float64(len(info.rows)))
	}
	s.logger.Info("store catalog loaded",
		"patents", len(s.cat.rows),
		"terms", len(s.cat.terms),
		"models", len(s.cat.models),
		"elapsed", time.Since(started))
	return nil
}

// PickModel implements overview.Source: the preferred model when it has
// embedded rows, otherwise the model with the most rows (ties by name).
func (s *Store) PickModel(ctx context.Context, preferred string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pickModelLocked(preferred)
}

func (s *Store) pickModelLocked(preferred string) (string, error) {
	if preferred != "" {
		if info := s.cat.embedded(preferred); info != nil && len(info.rows) > 0 {
			return preferred, nil
		}
	}
	best := ""
	bestCount := 0
	for model, info := range s.cat.models {
		n := len(info.rows)
		if n == 0 {
			continue
		}
		if n > bestCount || (n == bestCount && (best == "" || model < best)) {
			best, bestCount = model, n
		}
	}
	if best == "" {
		return "", &overview.NoDataError{Reason: "No embedding models available."}
	}
	return best, nil
}

// FetchCandidates implements overview.Source. Rows come back newest-first
// (date descending, ids ascending within a day, undated rows last); IsFocus
// is evaluated per row against the query's keyword, CPC and assignee
// predicates.
func (s *Store) FetchCandidates(ctx context.Context, q overview.CandidateQuery) ([]overview.Candidate, error) {
	s.mu.RLock()
	info := s.cat.embedded(q.Model)
	if info == nil || len(info.rows) == 0 {
		s.mu.RUnlock()
		return nil, nil
	}
	dim := info.dim
	focus := s.cat.compileFocus(q.Keywords, q.CPCPrefixes, q.AssigneeIDs)
	from, to := isoDate(q.DateFrom), isoDate(q.DateTo)

	var selected []overview.Candidate
	s.cat.walkNewest(func(idx uint32) bool {
		if _, ok := info.rows[idx]; !ok {
			return true
		}
		if !s.cat.inDateRange(idx, from, to, false) {
			return true
		}
		row := s.cat.rows[idx]
		if q.Exclude != nil {
			if _, skip := q.Exclude[row.id]; skip {
				return true
			}
		}
		isFocus := s.cat.matchesFocus(idx, focus)
		if q.FocusOnly && !isFocus {
			return true
		}
		selected = append(selected, overview.Candidate{
			ID:       row.id,
			IsFocus:  isFocus,
			Date:     parseDate(row.date),
			Assignee: row.assignee,
			Title:    row.title,
			Abstract: row.abstract,
		})
		return q.Limit <= 0 || len(selected) < q.Limit
	})
	s.mu.RUnlock()

	ids := make([]string, len(selected))
	for i := range selected {
		ids[i] = selected[i].ID
	}
	vectors, err := s.vectorsFor(ctx, q.Model, ids, dim)
	if err != nil {
		return nil, err
	}

	out := selected[:0]
	for _, cand := range selected {
		vec, ok := vectors[cand.ID]
		if !ok {
			continue
		}
		cand.Vector = vec
		out = append(out, cand)
	}
	return out, nil
}

// vectorsFor loads embedding vectors for the given ids, through the mmap
// cache when enabled and batched BLOB reads otherwise.
func (s *Store) vectorsFor(ctx context.Context, model string, ids []string, dim int) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}
	if s.cache != nil {
		if err := s.ensureCached(ctx, model, dim); err != nil {
			return nil, err
		}
		return s.cache.lookup(model, ids)
	}

	out := make(map[string][]float32, len(ids))
	const chunk = 500
	for lo := 0; lo < len(ids); lo += chunk {
		hi := min(lo+chunk, len(ids))
		batch := ids[lo:hi]
		placeholders := strings.Repeat("?,", len(batch))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(batch)+1)
		args = append(args, model)
		for _, id := range batch {
			args = append(args, id)
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT patent_id, vector FROM embeddings
			 WHERE model = ? AND patent_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, classify("fetch vectors", err)
		}
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				rows.Close()
				return nil, classify("scan vector", err)
			}
			out[id] = decodeVector(blob)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, classify("fetch vectors", err)
		}
		rows.Close()
	}
	return out, nil
}

// ensureCached fills the arena for a model on its first use.
func (s *Store) ensureCached(ctx context.Context, model string, dim int) error {
	if s.cache.has(model) {
		return nil
	}
	started := time.Now()
	loaded := 0
	err := s.cache.fill(model, dim, func(put func(id string, vec []float32) error) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT patent_id, vector FROM embeddings WHERE model = ? ORDER BY patent_id`, model)
		if err != nil {
			return classify("warm vector cache", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return classify("warm vector cache", err)
			}
			if err := put(id, decodeVector(blob)); err != nil {
				return err
			}
			loaded++
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}
	s.logger.Info("vector cache warmed",
		"model", model, "vectors", loaded, "elapsed", time.Since(started))
	return nil
}

func parseDate(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return time.Time{}
	}
	return t
}

// splitCPCColumn splits the space-joined cpc_codes column.
func splitCPCColumn(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func joinCPCColumn(codes []string) string {
	return strings.Join(codes, " ")
}

// encodeVector packs a float32 vector into a little-endian BLOB.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeVector(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return out
}

// sortedModelCounts lists models by descending row count, then name.
func (s *Store) sortedModelCounts() []ModelCount {
	out := make([]ModelCount, 0, len(s.cat.models))
	total := len(s.cat.rows)
	for model, info := range s.cat.models {
		out = append(out, ModelCount{
			Model:   model,
			Count:   len(info.rows),
			Pending: total - len(info.rows),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Model < out[j].Model
	})
	return out
}

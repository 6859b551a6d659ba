package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/metrics"
)

// Patent is one corpus document as written by the ingest pipeline. Date is
// "YYYY-MM-DD" or empty for undated rows; CPCCodes are stored uppercased
// with internal whitespace removed.
type Patent struct {
	ID         string
	Title      string
	Abstract   string
	Assignee   string
	AssigneeID string
	Date       string
	CPCCodes   []string
}

// ModelCount is one embedding model's coverage of the corpus.
type ModelCount struct {
	Model   string `json:"model"`
	Count   int    `json:"count"`
	Pending int    `json:"pending"`
}

// IngestStatus summarizes the corpus for operators and agent tools.
type IngestStatus struct {
	Patents   int          `json:"patents"`
	Assignees int          `json:"assignees"`
	Models    []ModelCount `json:"models"`
}

// UpsertPatent writes one document and refreshes the in-memory indexes.
// Existing embeddings for the id are kept; callers re-embed when the text
// changed.
func (s *Store) UpsertPatent(ctx context.Context, p Patent) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("store: patent id is required")
	}
	date := strings.TrimSpace(p.Date)
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("store: patent %s: invalid date %q", p.ID, p.Date)
		}
	}
	codes := make([]string, 0, len(p.CPCCodes))
	for _, code := range p.CPCCodes {
		if norm := normalizeCPC(code); norm != "" {
			codes = append(codes, norm)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patents (id, title, abstract, assignee, assignee_id, pub_date, cpc_codes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   abstract = excluded.abstract,
		   assignee = excluded.assignee,
		   assignee_id = excluded.assignee_id,
		   pub_date = excluded.pub_date,
		   cpc_codes = excluded.cpc_codes`,
		p.ID, p.Title, p.Abstract, p.Assignee, p.AssigneeID, date, joinCPCColumn(codes))
	if err != nil {
		return classify("upsert patent", err)
	}
	s.cat.insert(patentRow{
		id:         p.ID,
		title:      p.Title,
		abstract:   p.Abstract,
		assignee:   p.Assignee,
		assigneeID: p.AssigneeID,
		date:       date,
		cpcs:       codes,
	})
	return nil
}

// PutEmbedding stores one vector for (id, model). The first vector written
// for a model fixes its dimensionality.
func (s *Store) PutEmbedding(ctx context.Context, id, model string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("store: empty vector for %s", id)
	}
	if model == "" {
		return fmt.Errorf("store: model is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cat.byID[id]; !ok {
		return fmt.Errorf("store: unknown patent %s", id)
	}
	if info := s.cat.embedded(model); info != nil && info.dim != len(vec) {
		return fmt.Errorf("store: model %s dimension mismatch: got %d, want %d",
			model, len(vec), info.dim)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (patent_id, model, dim, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(patent_id, model) DO UPDATE SET
		   dim = excluded.dim,
		   vector = excluded.vector`,
		id, model, len(vec), encodeVector(vec))
	if err != nil {
		return classify("put embedding", err)
	}
	s.cat.markEmbedded(id, model, len(vec))
	if s.cache != nil {
		if err := s.cache.put(model, id, vec); err != nil {
			return err
		}
	}
	metrics.StoredEmbeddings.WithLabelValues(model).Set(float64(len(s.cat.embedded(model).rows)))
	return nil
}

// PendingDoc is one patent still lacking an embedding for a model.
type PendingDoc struct {
	ID       string
	Title    string
	Abstract string
}

// PendingEmbeddings lists up to limit patents without an embedding for the
// model, in stable corpus order so repeated batches make progress.
func (s *Store) PendingEmbeddings(ctx context.Context, model string, limit int) ([]PendingDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var embedded map[uint32]struct{}
	if info := s.cat.embedded(model); info != nil {
		embedded = info.rows
	}
	var out []PendingDoc
	for idx := range s.cat.rows {
		if _, ok := embedded[uint32(idx)]; ok {
			continue
		}
		row := s.cat.rows[idx]
		out = append(out, PendingDoc{ID: row.id, Title: row.title, Abstract: row.abstract})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UpsertAssignee writes one canonical assignee and replaces its aliases.
func (s *Store) UpsertAssignee(ctx context.Context, id, name string, aliases ...string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("store: assignee id and name are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("upsert assignee", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assignees (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name); err != nil {
		return classify("upsert assignee", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assignee_aliases WHERE assignee_id = ?`, id); err != nil {
		return classify("upsert assignee", err)
	}
	for _, alias := range aliases {
		if strings.TrimSpace(alias) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assignee_aliases (assignee_id, alias) VALUES (?, ?)`, id, alias); err != nil {
			return classify("upsert assignee", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("upsert assignee", err)
	}
	return nil
}

// SetCrowdingLadder replaces the crowding percentile ladder with the given
// sample of scope totals.
func (s *Store) SetCrowdingLadder(ctx context.Context, totals []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("seed crowding ladder", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM crowding_ladder`); err != nil {
		return classify("seed crowding ladder", err)
	}
	for i, total := range totals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crowding_ladder (bucket, total) VALUES (?, ?)`, i, total); err != nil {
			return classify("seed crowding ladder", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("seed crowding ladder", err)
	}
	return nil
}

// Status reports corpus counts for the ingest CLI and the MCP status tool.
func (s *Store) Status(ctx context.Context) (*IngestStatus, error) {
	var assignees int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignees`).Scan(&assignees); err != nil {
		return nil, classify("status", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &IngestStatus{
		Patents:   len(s.cat.rows),
		Assignees: assignees,
		Models:    s.sortedModelCounts(),
	}, nil
}

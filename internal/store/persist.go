package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/overview"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// PersistOverview implements overview.Sink: it upserts the per-node cluster
// assignment and scores and replaces each node's outgoing KNN edges (self
// excluded, weight 1 - dist) in one transaction. A failed transaction leaves
// the previous artifacts intact.
func (s *Store) PersistOverview(ctx context.Context, upd *overview.OverviewUpdate) error {
	if upd == nil || len(upd.IDs) == 0 {
		return nil
	}
	nb := upd.Neighbors
	if nb == nil || len(nb.Idx) != len(upd.IDs) {
		return fmt.Errorf("store: malformed overview update: %d ids, %d neighbor rows",
			len(upd.IDs), neighborRows(nb))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("persist overview", err)
	}
	defer tx.Rollback()

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO overview_nodes (model, patent_id, cluster_id, local_density, overview_score, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model, patent_id) DO UPDATE SET
		   cluster_id = excluded.cluster_id,
		   local_density = excluded.local_density,
		   overview_score = excluded.overview_score,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return classify("persist overview", err)
	}
	defer nodeStmt.Close()

	edgeDel, err := tx.PrepareContext(ctx,
		`DELETE FROM overview_edges WHERE model = ? AND source = ?`)
	if err != nil {
		return classify("persist overview", err)
	}
	defer edgeDel.Close()

	edgeIns, err := tx.PrepareContext(ctx,
		`INSERT INTO overview_edges (model, source, target, weight) VALUES (?, ?, ?, ?)
		 ON CONFLICT(model, source, target) DO UPDATE SET weight = excluded.weight`)
	if err != nil {
		return classify("persist overview", err)
	}
	defer edgeIns.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, id := range upd.IDs {
		var cid int32
		if i < len(upd.Labels) {
			cid = upd.Labels[i]
		}
		var density, score float32
		if i < len(upd.Density) {
			density = upd.Density[i]
		}
		if i < len(upd.Scores) {
			score = upd.Scores[i]
		}
		if _, err := nodeStmt.ExecContext(ctx, upd.Model, id, cid, density, score, now); err != nil {
			return classify("persist node", err)
		}
		if _, err := edgeDel.ExecContext(ctx, upd.Model, id); err != nil {
			return classify("persist edges", err)
		}
		for pos, j := range nb.Idx[i] {
			if int(j) == i {
				continue
			}
			weight := 1 - nb.Dist[i][pos]
			if _, err := edgeIns.ExecContext(ctx, upd.Model, id, upd.IDs[j], weight); err != nil {
				return classify("persist edges", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("persist overview", err)
	}
	return nil
}

func neighborRows(nb *vecmath.Neighbors) int {
	if nb == nil {
		return 0
	}
	return len(nb.Idx)
}

// ClusterMemberRow is one persisted overview node joined with its document.
type ClusterMemberRow struct {
	ID       string
	Title    string
	Assignee string
	Date     string
	Score    float64
	Density  float64
}

// ClusterMembers lists the persisted members of one cluster, strongest
// overview score first. It reads the artifacts written by PersistOverview,
// so it reflects the latest build for the model.
func (s *Store) ClusterMembers(ctx context.Context, model string, cluster, limit int) ([]ClusterMemberRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.patent_id, p.title, p.assignee, p.pub_date, n.overview_score, n.local_density
		 FROM overview_nodes n
		 JOIN patents p ON p.id = n.patent_id
		 WHERE n.model = ? AND n.cluster_id = ?
		 ORDER BY n.overview_score DESC, n.patent_id
		 LIMIT ?`, model, cluster, limit)
	if err != nil {
		return nil, classify("cluster members", err)
	}
	defer rows.Close()

	var out []ClusterMemberRow
	for rows.Next() {
		var m ClusterMemberRow
		if err := rows.Scan(&m.ID, &m.Title, &m.Assignee, &m.Date, &m.Score, &m.Density); err != nil {
			return nil, classify("cluster members", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("cluster members", err)
	}
	return out, nil
}

// classify maps database failures onto the engine's error taxonomy so the
// retry loops can tell lock contention from broken schema or revoked
// privileges. modernc/sqlite reports conditions through error strings, so
// the mapping matches on the stable SQLite message fragments.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "table is locked"),
		strings.Contains(msg, "busy"):
		return &overview.TransientError{Err: wrapped}
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"):
		return &overview.SchemaError{Err: wrapped}
	case strings.Contains(msg, "readonly database"),
		strings.Contains(msg, "read-only"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "permission denied"):
		return &overview.PermissionError{Err: wrapped}
	default:
		return wrapped
	}
}

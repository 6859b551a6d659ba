package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/lacuna/internal/store"
	"github.com/sanonone/lacuna/pkg/overview"
)

type Service struct {
	store      *store.Store
	engine     *overview.Engine
	summarizer *overview.Summarizer
	logger     *slog.Logger
}

func NewService(st *store.Store, eng *overview.Engine, sum *overview.Summarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		engine:     eng,
		summarizer: sum,
		logger:     logger,
	}
}

// --- Tool Handlers ---

func (s *Service) OverviewGraph(ctx context.Context, req *mcp.CallToolRequest, args OverviewGraphArgs) (*mcp.CallToolResult, OverviewGraphResult, error) {
	greq := overview.DefaultGraphRequest()
	greq.FocusKeywords = args.Keywords
	greq.FocusCPCLike = args.CPCLike
	greq.DateFrom = args.DateFrom
	greq.DateTo = args.DateTo
	if args.AssigneeQuery != "" {
		greq.SearchMode = overview.SearchAssignee
		greq.AssigneeQuery = args.AssigneeQuery
	}
	if args.Neighbors > 0 {
		greq.Neighbors = args.Neighbors
	}
	if args.Limit > 0 {
		greq.Limit = args.Limit
	}
	// Layout is for humans; agents read groups and clusters.
	greq.Layout = false

	resp, upd, err := s.engine.BuildGraph(ctx, &greq)
	if err != nil {
		return nil, OverviewGraphResult{}, err
	}

	// Persist synchronously so overview_cluster sees the run right away.
	if upd != nil {
		if err := s.engine.Persist(ctx, upd); err != nil {
			s.logger.Warn("could not persist overview run", "error", err)
		}
	}

	return nil, digestResponse(resp, upd), nil
}

func (s *Service) OverviewSummary(ctx context.Context, req *mcp.CallToolRequest, args OverviewSummaryArgs) (*mcp.CallToolResult, overview.ScopeSummary, error) {
	sreq := &overview.SummaryRequest{
		Keywords: args.Keywords,
		CPC:      overview.SplitCPCList(args.CPC),
		DateFrom: args.DateFrom,
		DateTo:   args.DateTo,
		Semantic: args.Semantic,
	}
	sum, err := s.summarizer.Build(ctx, sreq)
	if err != nil {
		return nil, overview.ScopeSummary{}, err
	}
	return nil, *sum, nil
}

func (s *Service) OverviewCluster(ctx context.Context, req *mcp.CallToolRequest, args OverviewClusterArgs) (*mcp.CallToolResult, OverviewClusterResult, error) {
	model, clusterID, err := ParseClusterURI(args.URI)
	if err != nil {
		return nil, OverviewClusterResult{}, err
	}

	rows, err := s.store.ClusterMembers(ctx, model, clusterID, args.Limit)
	if err != nil {
		return nil, OverviewClusterResult{}, err
	}

	result := OverviewClusterResult{
		Model:   model,
		Cluster: clusterID,
		Members: make([]ClusterMember, 0, len(rows)),
	}
	for _, row := range rows {
		result.Members = append(result.Members, ClusterMember{
			ID:       row.ID,
			Title:    row.Title,
			Assignee: row.Assignee,
			PubDate:  row.Date,
			Score:    row.Score,
			Density:  row.Density,
		})
	}
	return nil, result, nil
}

func (s *Service) IngestStatus(ctx context.Context, req *mcp.CallToolRequest, args IngestStatusArgs) (*mcp.CallToolResult, store.IngestStatus, error) {
	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, store.IngestStatus{}, err
	}
	return nil, *status, nil
}

// digestResponse flattens the full graph response into the compact form an
// agent can act on: counts, active signals per group, and cluster URIs.
func digestResponse(resp *overview.Response, upd *overview.OverviewUpdate) OverviewGraphResult {
	res := OverviewGraphResult{
		Scope:     resp.K,
		GroupMode: string(resp.GroupMode),
	}
	if upd != nil {
		res.Model = upd.Model
	}

	clusters := make(map[int]struct{})
	if resp.Graph != nil {
		res.Nodes = len(resp.Graph.Nodes)
		res.Edges = len(resp.Graph.Edges)
		for _, n := range resp.Graph.Nodes {
			clusters[n.ClusterID] = struct{}{}
		}
	}
	res.Clusters = len(clusters)

	for _, grp := range resp.Assignees {
		digest := GroupDigest{Group: grp.Assignee, ClusterID: grp.ClusterID}
		for _, sig := range grp.Signals {
			if sig.Status == overview.StatusNone {
				continue
			}
			digest.Signals = append(digest.Signals, fmt.Sprintf("%s: %s", sig.Type, sig.Why))
		}
		res.Groups = append(res.Groups, digest)
	}

	if res.Model != "" {
		ids := make([]int, 0, len(clusters))
		for id := range clusters {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			res.ClusterURIs = append(res.ClusterURIs, ClusterURI(res.Model, id))
		}
	}
	return res
}

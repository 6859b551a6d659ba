package mcp

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/lacuna/internal/store"
	"github.com/sanonone/lacuna/pkg/overview"
)

func NewMCPServer(st *store.Store, eng *overview.Engine, sum *overview.Summarizer, logger *slog.Logger) *mcp.Server {
	service := NewService(st, eng, sum, logger)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Lacuna Patent Overview",
		Version: "0.3.0",
	}, nil) // Options can be nil for default

	// Register Tools using the Generic AddTool which inspects structs!

	mcp.AddTool(s, &mcp.Tool{
		Name:        "overview_graph",
		Description: "Build the patent overview graph for a technology scope (keywords/CPC) or a company portfolio. Returns cluster counts, active signals per group, and cluster URIs for drill-down.",
	}, service.OverviewGraph)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "overview_summary",
		Description: "Summarize how crowded and how fast-moving a technology scope is: filing counts, density, momentum, top CPC classes and a monthly timeline.",
	}, service.OverviewSummary)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "overview_cluster",
		Description: "List the top member patents of one overview cluster, addressed by a cluster URI from overview_graph.",
	}, service.OverviewCluster)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ingest_status",
		Description: "Report corpus size: patents, assignees, and embedding coverage per model.",
	}, service.IngestStatus)

	return s
}

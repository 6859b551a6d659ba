package mcp

// --- Tool Arguments ---

type OverviewGraphArgs struct {
	Keywords      []string `json:"keywords,omitempty" jsonschema:"Focus keywords defining the technology scope (e.g. 'solid state electrolyte')"`
	CPCLike       []string `json:"cpc_like,omitempty" jsonschema:"CPC prefixes marking the focus area (e.g. 'H01M10')"`
	AssigneeQuery string   `json:"assignee_query,omitempty" jsonschema:"Fuzzy company name; switches the build to portfolio mode"`
	DateFrom      string   `json:"date_from,omitempty" jsonschema:"Inclusive ISO lower bound (YYYY-MM-DD)"`
	DateTo        string   `json:"date_to,omitempty" jsonschema:"Exclusive ISO upper bound (YYYY-MM-DD)"`
	Neighbors     int      `json:"neighbors,omitempty" jsonschema:"Graph degree per node (default 15)"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum candidates pulled into the build (default 2000)"`
}

// GroupDigest condenses one signal group: the group label and its active
// signals as "kind: explanation" lines.
type GroupDigest struct {
	Group     string   `json:"group"`
	ClusterID *int     `json:"cluster_id,omitempty"`
	Signals   []string `json:"signals,omitempty"`
}

type OverviewGraphResult struct {
	Scope       string        `json:"scope"`
	Model       string        `json:"model"`
	GroupMode   string        `json:"group_mode"`
	Nodes       int           `json:"nodes"`
	Edges       int           `json:"edges"`
	Clusters    int           `json:"clusters"`
	Groups      []GroupDigest `json:"groups"`
	ClusterURIs []string      `json:"cluster_uris,omitempty"` // feed these to overview_cluster
}

type OverviewSummaryArgs struct {
	Keywords string `json:"keywords,omitempty" jsonschema:"Free-text technology keywords"`
	CPC      string `json:"cpc,omitempty" jsonschema:"Comma-separated CPC prefixes (e.g. 'H01M10,F28D')"`
	DateFrom string `json:"date_from,omitempty" jsonschema:"Inclusive ISO lower bound (YYYY-MM-DD)"`
	DateTo   string `json:"date_to,omitempty" jsonschema:"Inclusive ISO upper bound (YYYY-MM-DD)"`
	Semantic bool   `json:"semantic,omitempty" jsonschema:"Also count semantically similar patents beyond the keyword hits"`
}

type OverviewClusterArgs struct {
	URI   string `json:"uri" jsonschema:"Cluster URI from overview_graph (lacuna://overview/{model}/cluster/{id}),required"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum members returned (default 10)"`
}

type ClusterMember struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Assignee string  `json:"assignee,omitempty"`
	PubDate  string  `json:"pub_date,omitempty"`
	Score    float64 `json:"overview_score"`
	Density  float64 `json:"local_density"`
}

type OverviewClusterResult struct {
	Model   string          `json:"model"`
	Cluster int             `json:"cluster"`
	Members []ClusterMember `json:"members"`
}

type IngestStatusArgs struct{}

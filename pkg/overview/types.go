package overview

import (
	"strings"
	"time"
)

// SearchMode selects how the request scope is expressed: free keywords and
// CPC prefixes, or a fuzzy assignee query.
type SearchMode string

const (
	SearchKeywords SearchMode = "keywords"
	SearchAssignee SearchMode = "assignee"
)

// GroupKind is the axis used to aggregate nodes into signal groups.
// Keyword scopes group by assignee; assignee scopes invert and group by
// cluster so the caller sees where the matched portfolio concentrates.
type GroupKind string

const (
	GroupByAssignee GroupKind = "assignee"
	GroupByCluster  GroupKind = "cluster"
)

// Request bounds shared by validation and the HTTP layer.
const (
	MaxGraphLimit           = 2000
	MaxGraphNeighbors       = 50
	MaxGraphLayoutNeighbors = 50
)

// GraphRequest carries every knob of a graph build. Zero values are not
// meaningful defaults; decode JSON on top of DefaultGraphRequest().
type GraphRequest struct {
	DateFrom string `json:"date_from,omitempty"` // YYYY-MM-DD, inclusive
	DateTo   string `json:"date_to,omitempty"`   // YYYY-MM-DD, exclusive

	Neighbors  int     `json:"neighbors"`
	Resolution float64 `json:"resolution"`
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	Limit      int     `json:"limit"`

	FocusKeywords []string `json:"focus_keywords"`
	FocusCPCLike  []string `json:"focus_cpc_like"`

	SearchMode    SearchMode `json:"search_mode"`
	AssigneeQuery string     `json:"assignee_query,omitempty"`

	Layout          bool    `json:"layout"`
	LayoutMinDist   float64 `json:"layout_min_dist"`
	LayoutNeighbors int     `json:"layout_neighbors"`

	Debug bool `json:"debug"`
}

// DefaultGraphRequest returns a request with the standard knob values.
func DefaultGraphRequest() GraphRequest {
	return GraphRequest{
		Neighbors:       15,
		Resolution:      0.5,
		Alpha:           0.8,
		Beta:            0.5,
		Limit:           MaxGraphLimit,
		SearchMode:      SearchKeywords,
		Layout:          true,
		LayoutMinDist:   0.1,
		LayoutNeighbors: 25,
	}
}

// Validate checks the request bounds and returns a *ValidationError listing
// every violation, or nil when the request is acceptable.
func (r *GraphRequest) Validate() error {
	var violations []string
	if r.Limit < 1 || r.Limit > MaxGraphLimit {
		violations = append(violations, "limit must be between 1 and 2000")
	}
	if r.Neighbors < 1 || r.Neighbors > MaxGraphNeighbors {
		violations = append(violations, "neighbors must be between 1 and 50")
	}
	if r.LayoutNeighbors < 2 || r.LayoutNeighbors > MaxGraphLayoutNeighbors {
		violations = append(violations, "layout_neighbors must be between 2 and 50")
	}
	if r.SearchMode == SearchAssignee && strings.TrimSpace(r.AssigneeQuery) == "" {
		violations = append(violations, "assignee_query is required when search_mode='assignee'")
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// Candidate is one embedded document pulled into a graph build. Vector
// dimensionality is fixed per run; Date is the zero time when unknown.
type Candidate struct {
	ID       string
	Vector   []float32
	IsFocus  bool
	Date     time.Time
	Assignee string
	Title    string
	Abstract string
}

// NodeDatum is the per-node view the group aggregator and the response
// assembly consume, after scoring.
type NodeDatum struct {
	Index     int
	ID        string
	Assignee  string // normalized, never empty
	Date      time.Time
	ClusterID int
	Score     float64
	Density   float64
	Proximity float64
	Distance  float64
	Momentum  float64
	IsFocus   bool
	Title     string
	Abstract  string
}

// SignalPayload is one evaluated rule inside a group.
type SignalPayload struct {
	Type       SignalKind         `json:"type"`
	Status     SignalStatus       `json:"status"`
	Confidence float64            `json:"confidence"`
	Why        string             `json:"why"`
	NodeIDs    []string           `json:"node_ids"`
	Debug      map[string]float64 `json:"debug,omitempty"`
}

// GroupSignals holds the four evaluated signals for one assignee or cluster
// group, plus its display metadata.
type GroupSignals struct {
	Assignee   string          `json:"assignee"`
	K          string          `json:"k"`
	Signals    []SignalPayload `json:"signals"`
	Summary    string          `json:"summary,omitempty"`
	Debug      map[string]any  `json:"debug,omitempty"`
	ClusterID  *int            `json:"cluster_id,omitempty"`
	GroupKind  GroupKind       `json:"group_kind"`
	LabelTerms []string        `json:"label_terms,omitempty"`
}

// GraphNode is the wire form of one candidate inside the response graph.
type GraphNode struct {
	ID            string       `json:"id"`
	ClusterID     int          `json:"cluster_id"`
	Assignee      string       `json:"assignee,omitempty"`
	X             float64      `json:"x"`
	Y             float64      `json:"y"`
	Signals       []SignalKind `json:"signals"`
	Relevance     float64      `json:"relevance"`
	Title         string       `json:"title,omitempty"`
	Tooltip       string       `json:"tooltip,omitempty"`
	PubDate       string       `json:"pub_date,omitempty"` // YYYY-MM-DD
	OverviewScore float64      `json:"overview_score"`
	LocalDensity  float64      `json:"local_density"`
	Abstract      string       `json:"abstract,omitempty"`
}

// GraphEdge links two nodes with a cosine-similarity weight.
type GraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// GraphContext bundles the rendered nodes and edges.
type GraphContext struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Response is the full graph build result.
type Response struct {
	K                string         `json:"k"`
	Assignees        []GroupSignals `json:"assignees"`
	Graph            *GraphContext  `json:"graph"`
	Debug            map[string]any `json:"debug,omitempty"`
	GroupMode        GroupKind      `json:"group_mode"`
	MatchedAssignees []string       `json:"matched_assignees,omitempty"`
}

package layout

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/sanonone/lacuna/pkg/vecmath"
)

// NeighborEmbedding lays rows out by building a fuzzy KNN graph over cosine
// distances and relaxing it in 2D with stochastic gradient descent:
// attraction along graph edges, repulsion against sampled non-neighbors.
// MinDist controls how tightly points may pack in the output plane.
type NeighborEmbedding struct {
	Neighbors int
	MinDist   float64
	Spread    float64
	Epochs    int
	Seed      uint64
}

// Defaults mirroring the request-level defaults of the overview API.
const (
	DefaultNeighbors = 25
	DefaultMinDist   = 0.1
	DefaultSpread    = 1.0
	DefaultEpochs    = 200
	DefaultSeed      = 42

	negativeRate = 5
	moveClip     = 4.0
)

// NewNeighborEmbedding returns a strategy configured with the given KNN size
// and packing distance, defaulting everything else.
func NewNeighborEmbedding(neighbors int, minDist float64) *NeighborEmbedding {
	return &NeighborEmbedding{
		Neighbors: neighbors,
		MinDist:   minDist,
		Spread:    DefaultSpread,
		Epochs:    DefaultEpochs,
		Seed:      DefaultSeed,
	}
}

func (*NeighborEmbedding) Name() string { return "neighbor-embedding" }

type layoutEdge struct {
	i, j   int32
	weight float64
}

func (ne *NeighborEmbedding) Coordinates(rows [][]float32) ([][2]float32, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("layout: no rows")
	}
	k := ne.Neighbors
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}
	epochs := ne.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	spread := ne.Spread
	if spread <= 0 {
		spread = DefaultSpread
	}

	nb, err := vecmath.KNNCosine(rows, k)
	if err != nil {
		return nil, err
	}
	edges := fuzzyUnion(nb)
	if len(edges) == 0 {
		// Degenerate input (all rows identical); any placement works.
		return PCA{}.Coordinates(rows)
	}

	coords, err := initialCoordinates(rows, ne.Seed)
	if err != nil {
		return nil, err
	}
	a, b := fitKernel(ne.MinDist, spread)

	// Edges fire proportionally to their fuzzy weight, as in the reference
	// neighbor-embedding schedule.
	maxW := edges[0].weight
	for _, e := range edges[1:] {
		if e.weight > maxW {
			maxW = e.weight
		}
	}
	perSample := make([]float64, len(edges))
	nextDue := make([]float64, len(edges))
	for i, e := range edges {
		perSample[i] = maxW / e.weight
		nextDue[i] = perSample[i]
	}

	rng := rand.New(rand.NewPCG(ne.Seed, ne.Seed))
	for epoch := 0; epoch < epochs; epoch++ {
		alpha := 1.0 - float64(epoch)/float64(epochs)
		for ei := range edges {
			if nextDue[ei] > float64(epoch+1) {
				continue
			}
			nextDue[ei] += perSample[ei]
			i, j := edges[ei].i, edges[ei].j
			attract(coords, int(i), int(j), a, b, alpha)
			for s := 0; s < negativeRate; s++ {
				other := rng.IntN(n)
				if other == int(i) {
					continue
				}
				repel(coords, int(i), other, a, b, alpha)
			}
		}
	}

	out := make([][2]float32, n)
	for i := range coords {
		out[i][0] = float32(coords[i][0])
		out[i][1] = float32(coords[i][1])
	}
	return out, nil
}

// fuzzyUnion converts the KNN distances into symmetric membership weights.
// Each row gets a local connectivity offset (its nearest nonzero distance)
// and a bandwidth calibrated so the row's total membership is log2(k), then
// directed weights combine as a fuzzy set union.
func fuzzyUnion(nb *vecmath.Neighbors) []layoutEdge {
	n := len(nb.Idx)
	target := math.Log2(float64(nb.K))
	directed := make(map[[2]int32]float64, n*nb.K)

	for i := 0; i < n; i++ {
		rho, sigma := calibrateRow(nb.Dist[i], target)
		for jpos, j := range nb.Idx[i] {
			if int(j) == i {
				continue
			}
			d := float64(nb.Dist[i][jpos])
			w := math.Exp(-math.Max(0, d-rho) / sigma)
			key := [2]int32{int32(i), j}
			if j < int32(i) {
				key = [2]int32{j, int32(i)}
			}
			if prev, ok := directed[key]; ok {
				directed[key] = prev + w - prev*w
			} else {
				directed[key] = w
			}
		}
	}

	edges := make([]layoutEdge, 0, len(directed))
	for key, w := range directed {
		if w <= 0 {
			continue
		}
		edges = append(edges, layoutEdge{i: key[0], j: key[1], weight: w})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})
	return edges
}

// calibrateRow finds the connectivity offset rho (nearest nonzero distance)
// and the bandwidth sigma such that sum exp(-(d-rho)/sigma) over the row's
// neighbors hits the target, by bisection.
func calibrateRow(dists []float32, target float64) (rho, sigma float64) {
	for _, d := range dists {
		if d > 0 {
			rho = float64(d)
			break
		}
	}

	lo, hi := 0.0, math.Inf(1)
	sigma = 1.0
	for iter := 0; iter < 64; iter++ {
		var sum float64
		for _, d := range dists {
			if d <= 0 {
				continue
			}
			sum += math.Exp(-math.Max(0, float64(d)-rho) / sigma)
		}
		if math.Abs(sum-target) < 1e-5 {
			break
		}
		if sum > target {
			hi = sigma
			sigma = (lo + hi) / 2
		} else {
			lo = sigma
			if math.IsInf(hi, 1) {
				sigma *= 2
			} else {
				sigma = (lo + hi) / 2
			}
		}
	}
	if sigma <= 0 {
		sigma = 1e-3
	}
	return rho, sigma
}

// initialCoordinates seeds the optimizer with the PCA projection scaled to a
// fixed extent, plus a whisper of jitter so coincident rows can separate.
func initialCoordinates(rows [][]float32, seed uint64) ([][2]float64, error) {
	pcaCoords, err := PCA{}.Coordinates(rows)
	if err != nil {
		return nil, err
	}
	var maxAbs float64
	for _, c := range pcaCoords {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(float64(c[0])), math.Abs(float64(c[1]))))
	}
	scale := 1.0
	if maxAbs > 0 {
		scale = 10.0 / maxAbs
	}
	rng := rand.New(rand.NewPCG(seed+1, seed+1))
	coords := make([][2]float64, len(pcaCoords))
	for i, c := range pcaCoords {
		coords[i][0] = float64(c[0])*scale + (rng.Float64()-0.5)*1e-4
		coords[i][1] = float64(c[1])*scale + (rng.Float64()-0.5)*1e-4
	}
	return coords, nil
}

func attract(coords [][2]float64, i, j int, a, b, alpha float64) {
	dx := coords[i][0] - coords[j][0]
	dy := coords[i][1] - coords[j][1]
	d2 := dx*dx + dy*dy
	if d2 <= 0 {
		return
	}
	gc := (-2.0 * a * b * math.Pow(d2, b-1)) / (a*math.Pow(d2, b) + 1.0)
	gx := clipMove(gc * dx)
	gy := clipMove(gc * dy)
	coords[i][0] += alpha * gx
	coords[i][1] += alpha * gy
	coords[j][0] -= alpha * gx
	coords[j][1] -= alpha * gy
}

func repel(coords [][2]float64, i, j int, a, b, alpha float64) {
	dx := coords[i][0] - coords[j][0]
	dy := coords[i][1] - coords[j][1]
	d2 := dx*dx + dy*dy
	gc := 2.0 * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1.0))
	var gx, gy float64
	if gc > 0 {
		gx = clipMove(gc * dx)
		gy = clipMove(gc * dy)
	} else {
		gx, gy = moveClip, moveClip
	}
	coords[i][0] += alpha * gx
	coords[i][1] += alpha * gy
}

func clipMove(v float64) float64 {
	if v > moveClip {
		return moveClip
	}
	if v < -moveClip {
		return -moveClip
	}
	return v
}

// fitKernel fits the two parameters of the low-dimensional membership curve
// 1/(1+a*x^(2b)) against the shifted exponential defined by minDist and
// spread. Nelder-Mead is deterministic here, so layouts stay reproducible.
func fitKernel(minDist, spread float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3 * spread * float64(i) / float64(samples-1)
		xs[i] = x
		if x <= minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			a, b := p[0], p[1]
			if a <= 0 || b <= 0 {
				return math.Inf(1)
			}
			var sse float64
			for i, x := range xs {
				f := 1.0 / (1.0 + a*math.Pow(x, 2*b))
				d := f - ys[i]
				sse += d * d
			}
			return sse
		},
	}
	res, err := optimize.Minimize(problem, []float64{1, 1}, nil, &optimize.NelderMead{})
	if err != nil || res == nil || len(res.X) != 2 {
		// Known-good parameters for minDist 0.1, spread 1.
		return 1.579, 0.895
	}
	return res.X[0], res.X[1]
}

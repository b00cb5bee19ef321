package gbdt

import (
	"math"
	"sort"
)

type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"v"`
}

// tree is stored flat; node 0 is the root.
type tree struct {
	Nodes []node `json:"nodes"`
}

func (t tree) predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// binner maps raw feature values to histogram bins. Bin b holds values
// v <= edges[b]; the last bin holds everything above the final edge.
type binner struct {
	edges [][]float64
}

func newBinner(features [][]float64, nf, maxBin int) binner {
	b := binner{edges: make([][]float64, nf)}
	col := make([]float64, len(features))
	for f := 0; f < nf; f++ {
		for i, row := range features {
			col[i] = row[f]
		}
		sort.Float64s(col)
		uniq := col[:0:0]
		for i, v := range col {
			if i == 0 || v != col[i-1] {
				uniq = append(uniq, v)
			}
		}
		b.edges[f] = edgesFor(uniq, maxBin)
	}
	return b
}

func edgesFor(uniq []float64, maxBin int) []float64 {
	if len(uniq) <= 1 {
		return nil
	}
	if len(uniq) <= maxBin {
		edges := make([]float64, len(uniq)-1)
		for i := range edges {
			edges[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return edges
	}
	edges := make([]float64, 0, maxBin-1)
	for k := 1; k < maxBin; k++ {
		idx := k * len(uniq) / maxBin
		e := (uniq[idx-1] + uniq[idx]) / 2
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

func (b binner) bin(f int, v float64) int {
	return sort.SearchFloat64s(b.edges[f], v)
}

func (b binner) bins(f int) int { return len(b.edges[f]) + 1 }

// threshold returns the raw split value for "bin <= b goes left".
func (b binner) threshold(f, bin int) float64 {
	return b.edges[f][bin]
}

func thresholdL1(s, l1 float64) float64 {
	if s > l1 {
		return s - l1
	}
	if s < -l1 {
		return s + l1
	}
	return 0
}

// leafScore is the regularised objective reduction of a leaf holding count
// samples whose residuals sum to sum.
func leafScore(sum float64, count int, p Params) float64 {
	g := thresholdL1(sum, p.LambdaL1)
	return g * g / (float64(count) + p.LambdaL2)
}

func leafValue(sum float64, count int, p Params) float64 {
	return p.LearningRate * thresholdL1(sum, p.LambdaL1) / (float64(count) + p.LambdaL2)
}

type split struct {
	feature int
	bin     int
	gain    float64
}

type leaf struct {
	node  int
	rows  []int
	sum   float64
	best  split
	valid bool
}

type grower struct {
	p        Params
	bins     binner
	binned   [][]int // [row][feature]
	resid    []float64
	features []int
}

func (g *grower) newLeaf(node int, rows []int) *leaf {
	l := &leaf{node: node, rows: rows}
	for _, r := range rows {
		l.sum += g.resid[r]
	}
	l.best, l.valid = g.bestSplit(l)
	return l
}

func (g *grower) bestSplit(l *leaf) (split, bool) {
	n := len(l.rows)
	if n < 2*g.p.MinDataInLeaf {
		return split{}, false
	}
	parent := leafScore(l.sum, n, g.p)
	best := split{gain: 1e-12}
	found := false
	for _, f := range g.features {
		nb := g.bins.bins(f)
		if nb < 2 {
			continue
		}
		sums := make([]float64, nb)
		counts := make([]int, nb)
		for _, r := range l.rows {
			b := g.binned[r][f]
			sums[b] += g.resid[r]
			counts[b]++
		}
		var ls float64
		var lc int
		for b := 0; b < nb-1; b++ {
			ls += sums[b]
			lc += counts[b]
			rc := n - lc
			if lc < g.p.MinDataInLeaf {
				continue
			}
			if rc < g.p.MinDataInLeaf {
				break
			}
			gain := leafScore(ls, lc, g.p) + leafScore(l.sum-ls, rc, g.p) - parent
			if gain > best.gain {
				best = split{feature: f, bin: b, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// grow builds one tree leaf-wise, always splitting the leaf with the largest
// gain until NumLeaves is reached or nothing improves.
func (g *grower) grow(rows []int) tree {
	t := tree{Nodes: []node{{Leaf: true}}}
	leaves := []*leaf{g.newLeaf(0, rows)}
	for len(leaves) < g.p.NumLeaves {
		pick := -1
		for i, l := range leaves {
			if l.valid && (pick < 0 || l.best.gain > leaves[pick].best.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		l := leaves[pick]
		var left, right []int
		for _, r := range l.rows {
			if g.binned[r][l.best.feature] <= l.best.bin {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		li, ri := len(t.Nodes), len(t.Nodes)+1
		t.Nodes = append(t.Nodes, node{Leaf: true}, node{Leaf: true})
		t.Nodes[l.node] = node{
			Feature:   l.best.feature,
			Threshold: g.bins.threshold(l.best.feature, l.best.bin),
			Left:      li,
			Right:     ri,
		}
		leaves[pick] = g.newLeaf(li, left)
		leaves = append(leaves, g.newLeaf(ri, right))
	}
	for _, l := range leaves {
		t.Nodes[l.node].Value = leafValue(l.sum, len(l.rows), g.p)
	}
	return t
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

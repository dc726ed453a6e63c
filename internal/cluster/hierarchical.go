// Package cluster implements agglomerative hierarchical clustering with
// average linkage over Euclidean distances, as used to order heatmap axes.
package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Merge joins two clusters. Ids below the number of observations are leaves;
// id n+k refers to the cluster created by merge k.
type Merge struct {
	Left   int
	Right  int
	Height float64
	Size   int
}

// Tree is the result of clustering n observations: n-1 merges in order.
type Tree struct {
	N      int
	Merges []Merge
}

// Average clusters the rows of data with UPGMA (average linkage).
func Average(data mat.Matrix) *Tree {
	n, _ := data.Dims()
	tree := &Tree{N: n}
	if n < 2 {
		return tree
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = mat.Row(nil, i, data)
	}

	// dist holds distances between active clusters, keyed by cluster id.
	dist := make(map[int]map[int]float64, n)
	size := make(map[int]int, n)
	active := make([]int, n)
	for i := 0; i < n; i++ {
		active[i] = i
		size[i] = 1
		dist[i] = make(map[int]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(rows[i], rows[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	next := n
	for len(active) > 1 {
		bi, bj := 0, 1
		best := math.Inf(1)
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				d := dist[active[a]][active[b]]
				if d < best {
					best, bi, bj = d, a, b
				}
			}
		}

		left, right := active[bi], active[bj]
		merged := next
		next++
		size[merged] = size[left] + size[right]
		tree.Merges = append(tree.Merges, Merge{Left: left, Right: right, Height: best, Size: size[merged]})

		dist[merged] = make(map[int]float64, len(active))
		for _, other := range active {
			if other == left || other == right {
				continue
			}
			d := (dist[left][other]*float64(size[left]) + dist[right][other]*float64(size[right])) / float64(size[merged])
			dist[merged][other] = d
			dist[other][merged] = d
			delete(dist[other], left)
			delete(dist[other], right)
		}
		delete(dist, left)
		delete(dist, right)

		remaining := active[:0:0]
		for _, c := range active {
			if c != left && c != right {
				remaining = append(remaining, c)
			}
		}
		active = append(remaining, merged)
	}
	return tree
}

// Leaves returns the observation order from a left-to-right walk of the tree.
func (t *Tree) Leaves() []int {
	if t.N == 0 {
		return nil
	}
	if len(t.Merges) == 0 {
		order := make([]int, t.N)
		for i := range order {
			order[i] = i
		}
		return order
	}
	order := make([]int, 0, t.N)
	var walk func(id int)
	walk = func(id int) {
		if id < t.N {
			order = append(order, id)
			return
		}
		m := t.Merges[id-t.N]
		walk(m.Left)
		walk(m.Right)
	}
	walk(t.N + len(t.Merges) - 1)
	return order
}

// MaxHeight is the height of the root merge, or 0 for trivial trees
func (t *Tree) MaxHeight() float64 {
	if len(t.Merges) == 0 {
		return 0
	}
	return t.Merges[len(t.Merges)-1].Height
}

func euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

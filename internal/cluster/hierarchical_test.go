package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAverageTwoGroups(t *testing.T) {
	data := mat.NewDense(4, 1, []float64{0, 10, 1, 11})
	tree := Average(data)

	require.Len(t, tree.Merges, 3)
	assert.Equal(t, Merge{Left: 0, Right: 2, Height: 1, Size: 2}, tree.Merges[0])
	assert.Equal(t, Merge{Left: 1, Right: 3, Height: 1, Size: 2}, tree.Merges[1])

	// average of |0-10|, |0-11|, |1-10|, |1-11|
	assert.InDelta(t, 10.0, tree.MaxHeight(), 1e-12)
	assert.Equal(t, 4, tree.Merges[2].Size)

	assert.Equal(t, []int{0, 2, 1, 3}, tree.Leaves())
}

func TestAverageHeightsAreMonotone(t *testing.T) {
	data := mat.NewDense(6, 2, []float64{
		0, 0,
		0, 1,
		5, 5,
		5, 6,
		20, 0,
		21, 1,
	})
	tree := Average(data)
	require.Len(t, tree.Merges, 5)
	for k := 1; k < len(tree.Merges); k++ {
		assert.GreaterOrEqual(t, tree.Merges[k].Height, tree.Merges[k-1].Height)
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, tree.Leaves())
}

func TestAverageTrivial(t *testing.T) {
	one := Average(mat.NewDense(1, 3, []float64{1, 2, 3}))
	assert.Empty(t, one.Merges)
	assert.Equal(t, []int{0}, one.Leaves())
	assert.Zero(t, one.MaxHeight())
}

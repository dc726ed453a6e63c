package native

import (
	"math"

	"dexpr/internal/errors"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// estimateSizeFactors applies the median-of-ratios method: each sample's factor is the
// median ratio of its counts to the per-gene geometric mean, over genes with no zeros.
func estimateSizeFactors(counts *mat.Dense) ([]float64, error) {
	g, m := counts.Dims()

	var usable []int
	var logGeoMeans []float64
	for i := 0; i < g; i++ {
		row := counts.RawRowView(i)
		sum := 0.0
		positive := true
		for _, v := range row {
			if v <= 0 {
				positive = false
				break
			}
			sum += math.Log(v)
		}
		if positive {
			usable = append(usable, i)
			logGeoMeans = append(logGeoMeans, sum/float64(m))
		}
	}
	if len(usable) == 0 {
		return nil, errors.AnalysisError("every gene contains at least one zero, cannot compute log geometric means")
	}

	factors := make([]float64, m)
	ratios := make([]float64, len(usable))
	for j := 0; j < m; j++ {
		for k, i := range usable {
			ratios[k] = math.Log(counts.At(i, j)) - logGeoMeans[k]
		}
		median, err := stats.Median(ratios)
		if err != nil {
			return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "size factor median failed"))
		}
		factors[j] = math.Exp(median)
	}
	return factors, nil
}

package native

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

const filterQuantiles = 50

// waldTest returns the Wald statistic and its two-sided normal p-value
func waldTest(beta, se float64) (float64, float64) {
	if math.IsNaN(beta) || math.IsNaN(se) || se <= 0 {
		return math.NaN(), math.NaN()
	}
	stat := beta / se
	return stat, 2 * distuv.UnitNormal.Survival(math.Abs(stat))
}

// cooksEligibleSamples lists samples whose group has at least minReplicates members
func cooksEligibleSamples(groups []int, nLevels, minReplicates int) []int {
	sizes := make([]int, nLevels)
	for _, g := range groups {
		sizes[g]++
	}
	var out []int
	for j, g := range groups {
		if sizes[g] >= minReplicates {
			out = append(out, j)
		}
	}
	return out
}

// maxCooks is the largest Cook's distance among the given samples
func maxCooks(y []float64, res glmResult, alpha float64, p int, samples []int) float64 {
	out := 0.0
	for _, j := range samples {
		h := res.hat[j]
		if math.IsNaN(h) || h >= 1 {
			continue
		}
		mu := res.mu[j]
		pearsonSq := (y[j] - mu) * (y[j] - mu) / (mu + alpha*mu*mu)
		cooks := pearsonSq / float64(p) * h / ((1 - h) * (1 - h))
		if cooks > out {
			out = cooks
		}
	}
	return out
}

// fQuantile is the prob quantile of the F(d1, d2) distribution
func fQuantile(prob, d1, d2 float64) float64 {
	if d2 <= 0 {
		return math.Inf(1)
	}
	x := mathext.InvRegIncBeta(d1/2, d2/2, prob)
	return d2 / d1 * x / (1 - x)
}

// adjustBH applies the Benjamini-Hochberg step-up adjustment. NaN entries stay NaN
// and do not count towards the number of tests.
func adjustBH(p []float64) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		out[i] = math.NaN()
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p[idx[a]] < p[idx[b]]
	})

	n := float64(len(idx))
	running := math.Inf(1)
	for k := len(idx) - 1; k >= 0; k-- {
		i := idx[k]
		v := p[i] * n / float64(k+1)
		if v < running {
			running = v
		}
		out[i] = math.Min(running, 1)
	}
	return out
}

// independentFilter searches baseMean quantile thresholds, adjusting the p-values of
// genes at or above each threshold, and keeps the first threshold that reaches the
// maximum number of rejections at alpha. It returns the adjusted values and the
// chosen quantile.
func independentFilter(baseMean, pvalue []float64, alpha float64) ([]float64, float64) {
	n := len(baseMean)
	if n == 0 {
		return nil, 0
	}
	zeros := 0
	for _, v := range baseMean {
		if v == 0 {
			zeros++
		}
	}
	lower := float64(zeros) / float64(n)
	upper := 0.95
	if lower >= 0.95 {
		upper = 1
	}

	sorted := append([]float64(nil), baseMean...)
	sort.Float64s(sorted)

	results := make([][]float64, filterQuantiles)
	thetas := make([]float64, filterQuantiles)
	rejections := make([]int, filterQuantiles)
	masked := make([]float64, n)
	maxRej := 0
	for k := 0; k < filterQuantiles; k++ {
		theta := lower + float64(k)*(upper-lower)/float64(filterQuantiles-1)
		cutoff := quantile7(sorted, theta)
		for i := range masked {
			masked[i] = math.NaN()
			if baseMean[i] >= cutoff {
				masked[i] = pvalue[i]
			}
		}
		adj := adjustBH(masked)
		for _, v := range adj {
			if v < alpha {
				rejections[k]++
			}
		}
		if rejections[k] > maxRej {
			maxRej = rejections[k]
		}
		results[k] = adj
		thetas[k] = theta
	}

	chosen := 0
	if maxRej > 10 {
		for k, r := range rejections {
			if r == maxRej {
				chosen = k
				break
			}
		}
	}
	return results[chosen], thetas[chosen]
}

// quantile7 is the linear-interpolation sample quantile (R's default type 7)
func quantile7(sorted []float64, prob float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * prob
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

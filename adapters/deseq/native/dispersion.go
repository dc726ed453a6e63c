package native

import (
	"context"
	"math"

	"dexpr/internal/errors"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	gstat "gonum.org/v1/gonum/stat"
)

const (
	minDispersion = 1e-8
	minMu         = 0.5
	// dispersion residuals use a MAD scaled to the normal standard deviation
	madScale = 1.4826
	// log-dispersion prior variance floor
	minPriorVar = 0.25
	outlierSD   = 2.0
)

// estimateDispersions returns the final per-gene dispersion: gene-wise Cox-Reid
// estimates shrunk towards a parametric mean-dispersion trend, except for
// dispersion outliers which keep their gene-wise value. All-zero genes get NaN.
func estimateDispersions(ctx context.Context, counts, normalized *mat.Dense, sf []float64, x *mat.Dense, groups []int, baseMean []float64, allZero []bool, logger *zap.Logger) ([]float64, error) {
	g, m := counts.Dims()
	_, p := x.Dims()
	maxDisp := math.Max(10, float64(m))

	geneWise := make([]float64, g)
	mus := make([][]float64, g)
	y := make([]float64, m)
	for i := 0; i < g; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if allZero[i] {
			geneWise[i] = math.NaN()
			continue
		}
		mat.Row(y, i, counts)
		mu := groupMeanMu(normalized.RawRowView(i), sf, groups)
		mus[i] = mu
		obs := append([]float64(nil), y...)
		logA := maximizeLog(func(la float64) float64 {
			return coxReidLogLik(obs, mu, x, math.Exp(la))
		}, math.Log(minDispersion/10), math.Log(maxDisp))
		geneWise[i] = clamp(math.Exp(logA), minDispersion, maxDisp)
	}

	trend := fitDispersionTrend(baseMean, geneWise, logger)

	var residuals []float64
	for i := 0; i < g; i++ {
		if allZero[i] || geneWise[i] < 100*minDispersion {
			continue
		}
		residuals = append(residuals, math.Log(geneWise[i])-math.Log(trend(baseMean[i])))
	}
	if len(residuals) == 0 {
		return nil, errors.AnalysisError("all gene-wise dispersion estimates are within 2 orders of magnitude from the minimum value, the dispersion trend cannot be fit")
	}
	mad, err := stats.MedianAbsoluteDeviation(residuals)
	if err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "dispersion residual spread failed"))
	}
	varLogDisp := math.Pow(madScale*mad, 2)
	expVarLogDisp := trigamma(float64(m-p) / 2)
	priorVar := math.Max(varLogDisp-expVarLogDisp, minPriorVar)

	logger.Debug("dispersion prior",
		zap.Float64("var_log_disp", varLogDisp),
		zap.Float64("expected_var", expVarLogDisp),
		zap.Float64("prior_var", priorVar))

	final := make([]float64, g)
	outliers := 0
	for i := 0; i < g; i++ {
		if allZero[i] {
			final[i] = math.NaN()
			continue
		}
		logTrend := math.Log(trend(baseMean[i]))
		if math.Log(geneWise[i]) > logTrend+outlierSD*math.Sqrt(varLogDisp) {
			final[i] = geneWise[i]
			outliers++
			continue
		}
		mat.Row(y, i, counts)
		mu := mus[i]
		obs := append([]float64(nil), y...)
		logA := maximizeLog(func(la float64) float64 {
			d := la - logTrend
			return coxReidLogLik(obs, mu, x, math.Exp(la)) - d*d/(2*priorVar)
		}, math.Log(minDispersion/10), math.Log(maxDisp))
		final[i] = clamp(math.Exp(logA), minDispersion, maxDisp)
	}
	logger.Debug("dispersions estimated", zap.Int("outliers", outliers))
	return final, nil
}

// groupMeanMu fits the single-factor design by group means of normalized counts
func groupMeanMu(norm, sf []float64, groups []int) []float64 {
	nLevels := 0
	for _, g := range groups {
		if g+1 > nLevels {
			nLevels = g + 1
		}
	}
	sums := make([]float64, nLevels)
	sizes := make([]float64, nLevels)
	for j, g := range groups {
		sums[g] += norm[j]
		sizes[g]++
	}
	mu := make([]float64, len(norm))
	for j, g := range groups {
		mu[j] = math.Max(sf[j]*sums[g]/sizes[g], minMu)
	}
	return mu
}

// coxReidLogLik is the negative binomial log likelihood adjusted by the Cox-Reid term
func coxReidLogLik(y, mu []float64, x *mat.Dense, alpha float64) float64 {
	ll := nbLogLik(y, mu, alpha)
	w := make([]float64, len(mu))
	for j := range mu {
		w[j] = mu[j] / (1 + alpha*mu[j])
	}
	var chol mat.Cholesky
	if !chol.Factorize(crossprodW(x, w, 0)) {
		return ll
	}
	return ll - 0.5*chol.LogDet()
}

// nbLogLik is the log likelihood of counts y under NB(mu, alpha)
func nbLogLik(y, mu []float64, alpha float64) float64 {
	r := 1 / alpha
	lgR, _ := math.Lgamma(r)
	ll := 0.0
	for j := range y {
		lgYR, _ := math.Lgamma(y[j] + r)
		lgY1, _ := math.Lgamma(y[j] + 1)
		ll += lgYR - lgR - lgY1 - r*math.Log1p(alpha*mu[j])
		if y[j] > 0 {
			ll += y[j] * (math.Log(alpha*mu[j]) - math.Log1p(alpha*mu[j]))
		}
	}
	return ll
}

// fitDispersionTrend fits dispersion = a0 + a1/mean by an iterated gamma GLM with
// identity link. On failure it falls back to the mean of the gene-wise estimates.
func fitDispersionTrend(baseMean, geneWise []float64, logger *zap.Logger) func(float64) float64 {
	var means, disps []float64
	for i := range geneWise {
		if math.IsNaN(geneWise[i]) || geneWise[i] < 100*minDispersion || baseMean[i] <= 0 {
			continue
		}
		means = append(means, baseMean[i])
		disps = append(disps, geneWise[i])
	}

	a0, a1, ok := parametricTrend(means, disps)
	if ok {
		logger.Debug("parametric dispersion trend", zap.Float64("asympt_disp", a0), zap.Float64("extra_pois", a1))
		return func(mean float64) float64 {
			return a0 + a1/math.Max(mean, minMu)
		}
	}

	fallback := minDispersion
	if len(disps) > 0 {
		if v, err := stats.Mean(disps); err == nil {
			fallback = v
		}
	}
	logger.Warn("parametric dispersion trend did not converge, using mean dispersion", zap.Float64("dispersion", fallback))
	return func(float64) float64 {
		return fallback
	}
}

func parametricTrend(means, disps []float64) (float64, float64, bool) {
	if len(means) < 3 {
		return 0, 0, false
	}
	a0, a1 := 0.1, 1.0
	for iter := 0; iter < 10; iter++ {
		var xs, ys, ws []float64
		for k := range means {
			fitted := a0 + a1/means[k]
			ratio := disps[k] / fitted
			if ratio > 1e-4 && ratio < 15 {
				xs = append(xs, 1/means[k])
				ys = append(ys, disps[k])
			}
		}
		if len(xs) < 3 {
			return 0, 0, false
		}

		// IRLS for the gamma family with identity link: weights 1/fitted^2
		b0, b1 := a0, a1
		ws = make([]float64, len(xs))
		for inner := 0; inner < 25; inner++ {
			for k := range xs {
				f := b0 + b1*xs[k]
				if f <= 0 {
					return 0, 0, false
				}
				ws[k] = 1 / (f * f)
			}
			n0, n1 := gstat.LinearRegression(xs, ys, ws, false)
			done := math.Abs(n0-b0) < 1e-10*math.Abs(b0)+1e-12 && math.Abs(n1-b1) < 1e-10*math.Abs(b1)+1e-12
			b0, b1 = n0, n1
			if done {
				break
			}
		}
		if b0 <= 0 || b1 <= 0 {
			return 0, 0, false
		}
		change := math.Pow(math.Log(b0/a0), 2) + math.Pow(math.Log(b1/a1), 2)
		a0, a1 = b0, b1
		if change < 1e-6 {
			return a0, a1, true
		}
	}
	return 0, 0, false
}

func trigamma(x float64) float64 {
	return mathext.Zeta(2, x)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

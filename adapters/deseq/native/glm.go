package native

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// ridge penalty on the natural-log coefficients, 1e-6 on the log2 scale
	ridgeLambda = 1e-6 / (math.Ln2 * math.Ln2)
	largeBeta   = 30.0
	devianceTol = 1e-8
)

type glmResult struct {
	beta      []float64
	se        []float64
	mu        []float64
	hat       []float64
	converged bool
}

// fitGLM fits log(mu_j) = log(sf_j) + x_j.beta for one gene by IRLS with a fixed dispersion.
func fitGLM(y, sf []float64, x *mat.Dense, alpha float64, beta0 []float64, maxIter int) glmResult {
	m, p := x.Dims()
	beta := mat.NewVecDense(p, append([]float64(nil), beta0...))
	mu := make([]float64, m)
	w := make([]float64, m)
	z := make([]float64, m)

	updateMu := func() {
		var eta mat.VecDense
		eta.MulVec(x, beta)
		for j := 0; j < m; j++ {
			mu[j] = math.Max(sf[j]*math.Exp(eta.AtVec(j)), minMu)
		}
	}
	updateMu()

	converged := false
	devOld := 0.0
	for t := 0; t < maxIter; t++ {
		for j := 0; j < m; j++ {
			w[j] = mu[j] / (1 + alpha*mu[j])
			z[j] = math.Log(mu[j]/sf[j]) + (y[j]-mu[j])/mu[j]
		}

		var chol mat.Cholesky
		if !chol.Factorize(crossprodW(x, w, ridgeLambda)) {
			break
		}
		rhs := mat.NewVecDense(p, nil)
		for k := 0; k < p; k++ {
			s := 0.0
			for j := 0; j < m; j++ {
				s += x.At(j, k) * w[j] * z[j]
			}
			rhs.SetVec(k, s)
		}
		var next mat.VecDense
		if err := chol.SolveVecTo(&next, rhs); err != nil {
			break
		}
		beta.CopyVec(&next)
		if exceeds(beta, largeBeta) {
			break
		}

		updateMu()
		dev := -2 * nbLogLik(y, mu, alpha)
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < devianceTol {
			converged = true
			break
		}
		devOld = dev
	}

	res := glmResult{
		beta:      mat.Col(nil, 0, beta),
		se:        make([]float64, p),
		mu:        append([]float64(nil), mu...),
		hat:       make([]float64, m),
		converged: converged,
	}

	for j := 0; j < m; j++ {
		w[j] = mu[j] / (1 + alpha*mu[j])
	}
	xtwx := crossprodW(x, w, 0)
	var chol mat.Cholesky
	var inv mat.SymDense
	if !chol.Factorize(crossprodW(x, w, ridgeLambda)) || chol.InverseTo(&inv) != nil {
		for k := range res.se {
			res.se[k] = math.NaN()
		}
		for j := range res.hat {
			res.hat[j] = math.NaN()
		}
		return res
	}

	// sandwich covariance of the ridge estimator
	var sigma mat.Dense
	sigma.Product(&inv, xtwx, &inv)
	for k := 0; k < p; k++ {
		res.se[k] = math.Sqrt(sigma.At(k, k))
	}
	for j := 0; j < m; j++ {
		row := x.RowView(j)
		res.hat[j] = w[j] * mat.Inner(row, &inv, row)
	}
	return res
}

// initialBeta is the least-squares fit of log normalized counts on the design
func initialBeta(norm []float64, x *mat.Dense) []float64 {
	m, p := x.Dims()
	v := mat.NewVecDense(m, nil)
	for j := 0; j < m; j++ {
		v.SetVec(j, math.Log(norm[j]+0.1))
	}
	var b mat.VecDense
	if err := b.SolveVec(x, v); err != nil {
		return make([]float64, p)
	}
	return mat.Col(nil, 0, &b)
}

// crossprodW returns X' diag(w) X + lambda I
func crossprodW(x *mat.Dense, w []float64, lambda float64) *mat.SymDense {
	m, p := x.Dims()
	out := mat.NewSymDense(p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			s := 0.0
			for j := 0; j < m; j++ {
				s += x.At(j, a) * w[j] * x.At(j, b)
			}
			if a == b {
				s += lambda
			}
			out.SetSym(a, b, s)
		}
	}
	return out
}

func exceeds(v *mat.VecDense, limit float64) bool {
	for k := 0; k < v.Len(); k++ {
		if math.Abs(v.AtVec(k)) > limit || math.IsNaN(v.AtVec(k)) {
			return true
		}
	}
	return false
}

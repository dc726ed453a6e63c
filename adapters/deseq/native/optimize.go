package native

import "math"

const (
	gridPoints = 20
	invPhi     = 0.6180339887498949
	searchTol  = 1e-6
)

// maximizeLog maximizes a one-dimensional objective over [lo, hi]: a coarse grid
// locates the best bracket, then golden-section search refines it.
func maximizeLog(f func(float64) float64, lo, hi float64) float64 {
	eval := func(v float64) float64 {
		r := f(v)
		if math.IsNaN(r) {
			return math.Inf(-1)
		}
		return r
	}

	step := (hi - lo) / float64(gridPoints-1)
	best, bestVal := lo, math.Inf(-1)
	for k := 0; k < gridPoints; k++ {
		v := lo + float64(k)*step
		if fv := eval(v); fv > bestVal {
			best, bestVal = v, fv
		}
	}

	a := math.Max(lo, best-step)
	b := math.Min(hi, best+step)
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := eval(c), eval(d)
	for b-a > searchTol {
		if fc > fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = eval(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = eval(d)
		}
	}
	mid := (a + b) / 2
	if eval(mid) < bestVal {
		return best
	}
	return mid
}

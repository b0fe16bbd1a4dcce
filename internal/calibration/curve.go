package calibration

import (
	"math"
	"sort"

	"github.com/pioreactor/pio/internal/domain"
)

// EvalPoly evaluates a polynomial with coefficients ordered highest
// degree first (numpy.polyval convention, matching the teacher's curve
// fit output layout).
func EvalPoly(coeffs []float64, x float64) float64 {
	var y float64
	for _, c := range coeffs {
		y = y*x + c
	}
	return y
}

// EvalPolyDerivative evaluates the derivative of the same polynomial.
func EvalPolyDerivative(coeffs []float64, x float64) float64 {
	n := len(coeffs) - 1
	if n <= 0 {
		return 0
	}
	var y float64
	for i, c := range coeffs[:n] {
		degree := n - i
		y = y*x + c*float64(degree)
	}
	return y
}

// EvalPiecewise evaluates a spline/akima curve: one coefficient row per
// segment between consecutive knots, each row a polynomial in (x - knot).
func EvalPiecewise(knots []float64, coefficients [][]float64, x float64) float64 {
	seg := segmentFor(knots, x)
	return EvalPoly(coefficients[seg], x-knots[seg])
}

// segmentFor finds the index of the knot interval containing x, clamped
// to the first/last segment outside the domain.
func segmentFor(knots []float64, x float64) int {
	idx := sort.SearchFloat64s(knots, x)
	if idx == 0 {
		return 0
	}
	if idx >= len(knots) {
		return len(knots) - 2
	}
	return idx - 1
}

// EvalCurve dispatches on cd.Type.
func EvalCurve(cd domain.CurveData, x float64) float64 {
	switch cd.Type {
	case domain.CurveSpline, domain.CurveAkima:
		return EvalPiecewise(cd.Knots, cd.Coefficients, x)
	default:
		if len(cd.Coefficients) == 0 {
			return 0
		}
		return EvalPoly(cd.Coefficients[0], x)
	}
}

// FitLinear performs ordinary least squares y = slope*x + intercept.
func FitLinear(x, y []float64) (slope, intercept float64) {
	n := float64(len(x))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// FitLinearForcedZeroIntercept fits y = slope*x, used by the
// duration-based pump calibration protocol (spec.md §4.G "forced zero
// intercept").
func FitLinearForcedZeroIntercept(x, y []float64) (slope float64) {
	var sumXY, sumXX float64
	for i := range x {
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	if sumXX == 0 {
		return 0
	}
	return sumXY / sumXX
}

// FitPolynomial fits a degree-d polynomial to (x, y) via the normal
// equations, returning coefficients highest-degree-first. Intended for
// small degrees (2-4) as used by the OD standards calibration protocol.
func FitPolynomial(x, y []float64, degree int) []float64 {
	n := degree + 1
	// Build the Vandermonde normal equations A^T A c = A^T y.
	ata := make([][]float64, n)
	aty := make([]float64, n)
	for i := range ata {
		ata[i] = make([]float64, n)
	}

	for k := range x {
		powers := make([]float64, n)
		p := 1.0
		for i := n - 1; i >= 0; i-- {
			powers[i] = p
			p *= x[k]
		}
		for i := 0; i < n; i++ {
			aty[i] += powers[i] * y[k]
			for j := 0; j < n; j++ {
				ata[i][j] += powers[i] * powers[j]
			}
		}
	}

	coeffs := gaussianSolve(ata, aty)
	return coeffs
}

// gaussianSolve solves A x = b via Gaussian elimination with partial
// pivoting. A is modified in place.
func gaussianSolve(a [][]float64, b []float64) []float64 {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		if a[col][col] == 0 {
			continue
		}
		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < n; j++ {
			sum -= a[i][j] * x[j]
		}
		if a[i][i] == 0 {
			x[i] = 0
			continue
		}
		x[i] = sum / a[i][i]
	}
	return x
}

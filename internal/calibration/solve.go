package calibration

import (
	"math"
	"sort"

	"github.com/pioreactor/pio/internal/domain"
)

// XToY evaluates cal's fitted curve at x (spec.md §4.F "x_to_y").
func XToY(cal domain.Calibration, x float64) float64 {
	return EvalCurve(cal.CurveData, x)
}

// YToX solves curve(x) - y = 0 for x, scanning the recorded_data domain
// for sign changes and refining with bisection (spec.md §4.F "y_to_x").
// When enforceBounds is true, a root outside [min(x), max(x)] is
// reported as ErrSolutionBelowDomain/ErrSolutionAboveDomain instead of
// being returned.
func YToX(cal domain.Calibration, y float64, enforceBounds bool) (float64, error) {
	xs := cal.RecordedData.X
	if len(xs) < 2 {
		return 0, domain.ErrNoSolutionsFound
	}
	lo, hi := minMax(xs)

	f := func(x float64) float64 { return EvalCurve(cal.CurveData, x) - y }

	root, found := scanForRoot(f, lo, hi, 200)
	if !found {
		// Curves that are monotonic across the whole recorded domain
		// (the common case for pump/OD calibrations) still need a root
		// outside [lo, hi] reported with the correct domain error
		// rather than a bare "no solution". Widen geometrically since a
		// fixed-size expansion may not reach a distant root.
		span := hi - lo
		if span <= 0 {
			span = 1
		}
		for factor := 2.0; factor <= 2048; factor *= 2 {
			wlo, whi := lo-span*factor, hi+span*factor
			wider, ok := scanForRoot(f, wlo, whi, 400)
			if !ok {
				continue
			}
			if wider < lo {
				if enforceBounds {
					return 0, domain.ErrSolutionBelowDomain
				}
				return wider, nil
			}
			if wider > hi {
				if enforceBounds {
					return 0, domain.ErrSolutionAboveDomain
				}
				return wider, nil
			}
			return wider, nil
		}
		return 0, domain.ErrNoSolutionsFound
	}

	if enforceBounds {
		if root < lo {
			return 0, domain.ErrSolutionBelowDomain
		}
		if root > hi {
			return 0, domain.ErrSolutionAboveDomain
		}
	}
	return root, nil
}

// scanForRoot samples f across [lo, hi] in n steps, and bisects the
// first bracket where f changes sign.
func scanForRoot(f func(float64) float64, lo, hi float64, n int) (float64, bool) {
	if n < 1 {
		n = 1
	}
	step := (hi - lo) / float64(n)
	prevX := lo
	prevY := f(lo)
	for i := 1; i <= n; i++ {
		x := lo + step*float64(i)
		y := f(x)
		if prevY == 0 {
			return prevX, true
		}
		if (prevY < 0) != (y < 0) {
			return bisect(f, prevX, x, 100), true
		}
		prevX, prevY = x, y
	}
	if prevY == 0 {
		return prevX, true
	}
	return 0, false
}

func bisect(f func(float64) float64, a, b float64, iterations int) float64 {
	fa := f(a)
	for i := 0; i < iterations; i++ {
		mid := (a + b) / 2
		fm := f(mid)
		if fm == 0 || (b-a)/2 < 1e-9 {
			return mid
		}
		if (fa < 0) == (fm < 0) {
			a = mid
			fa = fm
		} else {
			b = mid
		}
	}
	return (a + b) / 2
}

func minMax(xs []float64) (lo, hi float64) {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return sorted[0], sorted[len(sorted)-1]
}

// VolumeToDuration inverts a pump calibration's linear fit
// volume = duration*slope + bias to recover duration from a desired
// volume (spec.md §4.D "Pump action contract").
func VolumeToDuration(cal domain.Calibration, volumeML float64) (float64, error) {
	if len(cal.CurveData.Coefficients) == 0 || len(cal.CurveData.Coefficients[0]) < 2 {
		return 0, domain.ErrCalibrationMissing
	}
	coeffs := cal.CurveData.Coefficients[0]
	slope, bias := coeffs[0], coeffs[1]
	if slope == 0 {
		return 0, domain.ErrNoSolutionsFound
	}
	duration := (volumeML - bias) / slope
	if duration < 0 || math.IsNaN(duration) {
		return 0, domain.ErrSolutionBelowDomain
	}
	return duration, nil
}

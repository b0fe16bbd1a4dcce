// Package odreading implements the OD sampling job: it samples every
// configured photodiode channel on a fixed interval, fuses them into a
// single normalized OD estimate, and feeds an extended Kalman filter
// over the full per-angle state vector to estimate instantaneous growth
// rate (spec.md §3 "OD Reading", §4.E).
package odreading

import (
	"context"
	"math"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
	"github.com/pioreactor/pio/internal/metrics"
)

// ChannelConfig pairs a photodiode channel with its physical angle and
// an optional calibration-derived normalization factor.
type ChannelConfig struct {
	Channel domain.Channel
	Angle   domain.Angle
	// NormalizationFactor scales a raw voltage reading into OD units;
	// 1.0 if no active calibration exists for this channel.
	NormalizationFactor float64
}

// Sampler drives one sampling tick across every configured channel.
type Sampler struct {
	adc      drivers.ADC
	led      drivers.IRLED
	channels []ChannelConfig
	ekf      *GrowthRateEKF

	// dosingInflationSteps is how many subsequent samples get their OD
	// process variance inflated after a dosing event, derived from
	// samplesPerSecond the same way growth_rate_calculating.py derives
	// "3 * samples_per_minute" from its own sampling cadence.
	dosingInflationSteps int
}

// NewSampler builds a Sampler. ledIntensity is held constant for the
// job's lifetime, matching spec.md §3's fixed-intensity OD reading
// contract. samplesPerSecond calibrates the EKF's per-hour growth-rate
// scaling and the dosing-event variance-inflation window; pass 1 if
// unknown.
func NewSampler(adc drivers.ADC, led drivers.IRLED, channels []ChannelConfig, ledIntensity, samplesPerSecond float64) (*Sampler, error) {
	if samplesPerSecond <= 0 {
		samplesPerSecond = 1
	}
	angles := make([]domain.Angle, len(channels))
	for i, cc := range channels {
		angles[i] = cc.Angle
	}
	s := &Sampler{
		adc:                  adc,
		led:                  led,
		channels:             channels,
		ekf:                  NewGrowthRateEKF(angles, samplesPerSecond),
		dosingInflationSteps: int(3 * 60 * samplesPerSecond),
	}
	if err := led.SetIntensity(context.Background(), ledIntensity); err != nil {
		return nil, err
	}
	return s, nil
}

// NotifyDosingEvent inflates the EKF's OD process variance for the next
// few minutes of samples, since a pump actuation perturbs OD readings
// independently of genuine growth (spec.md §4.E), grounded on
// growth_rate_calculating.py's io_events subscription calling
// set_OD_variance_for_next_n_steps(1e3, 3 * samples_per_minute).
func (s *Sampler) NotifyDosingEvent() {
	s.ekf.InflateForDosingEvent(s.dosingInflationSteps)
}

// SampleOnce reads every channel, builds an ODReadings, and advances the
// growth-rate estimate. It is safe to call concurrently only from a
// single sampling goroutine (the EKF is not internally locked).
func (s *Sampler) SampleOnce(ctx context.Context) (domain.ODReadings, domain.ODFused, domain.GrowthRate, error) {
	start := time.Now()
	defer func() { metrics.ODSampleLatency.Observe(time.Since(start).Seconds()) }()

	readings := domain.ODReadings{Timestamp: start, ODs: make(map[domain.Channel]domain.RawODReading)}
	ods := make([]float64, len(s.channels))
	var fusedSum float64
	for i, cc := range s.channels {
		voltage, err := s.adc.Read(ctx, cc.Channel)
		if err != nil {
			return domain.ODReadings{}, domain.ODFused{}, domain.GrowthRate{}, err
		}
		factor := cc.NormalizationFactor
		if factor == 0 {
			factor = 1.0
		}
		od := voltage / factor
		readings.ODs[cc.Channel] = domain.RawODReading{
			Timestamp:      start,
			Angle:          cc.Angle,
			OD:             od,
			Channel:        cc.Channel,
			IRLedIntensity: s.led.Intensity(),
		}
		ods[i] = od
		fusedSum += od
	}

	var fusedOD float64
	if len(s.channels) > 0 {
		fusedOD = fusedSum / float64(len(s.channels))
	}
	fused := domain.ODFused{Timestamp: start, ODFused: fusedOD}

	rate := s.ekf.Update(ods, start)
	metrics.GrowthRateCurrent.Set(rate.GrowthRate)

	return readings, fused, rate, nil
}

// GrowthRateEKF is an extended Kalman filter over the state vector
// x = [od_by_angle..., growth_rate] (spec.md §4.E): one tracked OD
// estimate per configured angle plus a shared multiplicative growth
// factor, the same model Pioreactor's growth_rate_calculating job fits
// (original_source/morbidostat/background_jobs/growth_rate_calculating.py,
// original_source/morbidostat/utils/streaming_calculations.py). State
// transitions are multiplicative (od_i <- od_i * rate) rather than
// additive-in-log-space, matching the reference implementation exactly.
type GrowthRateEKF struct {
	initialized bool
	lastTime    time.Time

	n                int // number of tracked angle channels
	samplesPerSecond float64

	x []float64 // x[0..n-1] = per-angle OD estimate, x[n] = growth factor per tick
	p matrix     // (n+1)x(n+1) covariance

	odProcessNoise        []float64 // per-angle diagonal process variance (mutated during dosing inflation)
	rateProcessNoise      float64
	observationNoise      []float64 // per-angle diagonal observation variance
	inflateStepsRemaining int
}

// angleProcessVariance mirrors create_OD_covariance's per-angle
// defaults (growth_rate_calculating.py): every known angle defaults to
// the same 1e-6 variance in the reference implementation, but the
// lookup stays keyed by angle so a future per-angle override is a
// one-line change rather than a restructuring.
func angleProcessVariance(angle domain.Angle) float64 {
	switch angle {
	case domain.Angle45, domain.Angle90, domain.Angle135, domain.Angle180:
		return 1e-6
	default:
		return 1e-6
	}
}

// NewGrowthRateEKF builds a filter tracking one OD state per entry in
// angles, in the same order Sampler passes readings to Update.
func NewGrowthRateEKF(angles []domain.Angle, samplesPerSecond float64) *GrowthRateEKF {
	n := len(angles)
	odNoise := make([]float64, n)
	obsNoise := make([]float64, n)
	p := newMatrix(n+1, n+1)
	for i, angle := range angles {
		odNoise[i] = angleProcessVariance(angle)
		obsNoise[i] = 1e-3
		p[i][i] = 1e-5
	}
	p[n][n] = 1e-8
	if samplesPerSecond <= 0 {
		samplesPerSecond = 1
	}
	return &GrowthRateEKF{
		n:                n,
		samplesPerSecond: samplesPerSecond,
		p:                p,
		odProcessNoise:   odNoise,
		rateProcessNoise: 1e-11,
		observationNoise: obsNoise,
	}
}

// InflateForDosingEvent multiplies every angle's OD process variance by
// ~1e3 for the next steps samples, then restores it, grounded on
// streaming_calculations.ExtendedKalmanFilter.set_OD_variance_for_next_n_steps.
// A dosing event mid-inflation extends rather than stacks the window.
func (f *GrowthRateEKF) InflateForDosingEvent(steps int) {
	if f.inflateStepsRemaining == 0 {
		for i := range f.odProcessNoise {
			f.odProcessNoise[i] *= 1e3
		}
	}
	f.inflateStepsRemaining = steps
}

// Update folds in one new per-angle OD observation and returns the
// latest growth-rate estimate, in units of per-hour.
func (f *GrowthRateEKF) Update(ods []float64, at time.Time) domain.GrowthRate {
	n := f.n
	clamped := make([]float64, n)
	for i, od := range ods {
		clamped[i] = math.Max(od, 1e-6)
	}

	if !f.initialized {
		f.x = append(append([]float64{}, clamped...), 1.0)
		f.lastTime = at
		f.initialized = true
		return domain.GrowthRate{Timestamp: at, GrowthRate: 0}
	}
	f.lastTime = at

	// Predict: od_i <- od_i * rate for each angle, rate unchanged.
	rate := f.x[n]
	predicted := make([]float64, n+1)
	for i := 0; i < n; i++ {
		predicted[i] = f.x[i] * rate
	}
	predicted[n] = rate

	// Jacobian of the multiplicative state transition: J[i][i] = rate,
	// J[i][n] = od_i for each angle row, J[n][n] = 1.
	jac := newMatrix(n+1, n+1)
	for i := 0; i < n; i++ {
		jac[i][i] = rate
		jac[i][n] = f.x[i]
	}
	jac[n][n] = 1

	q := newMatrix(n+1, n+1)
	for i := 0; i < n; i++ {
		q[i][i] = f.odProcessNoise[i]
	}
	q[n][n] = f.rateProcessNoise

	pPredicted := jac.mul(f.p).mul(jac.transpose()).add(q)

	// Observation model: H = [I_n | 0] — we observe each angle's OD
	// directly and never observe the growth factor.
	residual := make([]float64, n)
	for i := 0; i < n; i++ {
		residual[i] = clamped[i] - predicted[i]
	}

	s := newMatrix(n, n)
	for i := 0; i < n; i++ {
		copy(s[i], pPredicted[i][:n])
		s[i][i] += f.observationNoise[i]
	}
	sInv := s.invert()

	// K = P_predicted[:, :n] * S^-1, an (n+1) x n Kalman gain.
	pCols := newMatrix(n+1, n)
	for i := 0; i < n+1; i++ {
		copy(pCols[i], pPredicted[i][:n])
	}
	k := pCols.mul(sInv)

	newX := make([]float64, n+1)
	for i := 0; i < n+1; i++ {
		delta := 0.0
		for j := 0; j < n; j++ {
			delta += k[i][j] * residual[j]
		}
		newX[i] = predicted[i] + delta
	}
	f.x = newX

	// P = P_predicted - K * H * P_predicted, and H picks out the first
	// n rows of P_predicted.
	hP := newMatrix(n, n+1)
	for i := 0; i < n; i++ {
		copy(hP[i], pPredicted[i])
	}
	f.p = pPredicted.sub(k.mul(hP))

	if f.inflateStepsRemaining > 0 {
		f.inflateStepsRemaining--
		if f.inflateStepsRemaining == 0 {
			for i := range f.odProcessNoise {
				f.odProcessNoise[i] /= 1e3
			}
		}
	}

	growthPerHour := math.Log(f.x[n]) * 3600 * f.samplesPerSecond
	return domain.GrowthRate{Timestamp: at, GrowthRate: growthPerHour}
}

// matrix is a dense row-major matrix, hand-rolled rather than pulled
// from a linear-algebra dependency: nothing in the reference corpus
// imports one, and the filter's own predecessor already hand-rolled its
// 2x2 case the same way.
type matrix [][]float64

func newMatrix(rows, cols int) matrix {
	m := make(matrix, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func (a matrix) mul(b matrix) matrix {
	out := newMatrix(len(a), len(b[0]))
	for i := range a {
		for k := range a[i] {
			if a[i][k] == 0 {
				continue
			}
			for j := range b[k] {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func (a matrix) transpose() matrix {
	out := newMatrix(len(a[0]), len(a))
	for i := range a {
		for j := range a[i] {
			out[j][i] = a[i][j]
		}
	}
	return out
}

func (a matrix) add(b matrix) matrix {
	out := newMatrix(len(a), len(a[0]))
	for i := range a {
		for j := range a[i] {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

func (a matrix) sub(b matrix) matrix {
	out := newMatrix(len(a), len(a[0]))
	for i := range a {
		for j := range a[i] {
			out[i][j] = a[i][j] - b[i][j]
		}
	}
	return out
}

// invert returns the inverse of a square matrix via Gauss-Jordan
// elimination with partial pivoting. The filter's observation
// covariance is always positive-definite by construction, so this
// never meets a genuinely singular matrix in practice.
func (a matrix) invert() matrix {
	n := len(a)
	aug := newMatrix(n, 2*n)
	for i := 0; i < n; i++ {
		copy(aug[i][:n], a[i])
		aug[i][n+i] = 1
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		pv := aug[col][col]
		if pv == 0 {
			pv = 1e-12
		}
		for j := range aug[col] {
			aug[col][j] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			for j := range aug[r] {
				aug[r][j] -= factor * aug[col][j]
			}
		}
	}
	out := newMatrix(n, n)
	for i := 0; i < n; i++ {
		copy(out[i], aug[i][n:])
	}
	return out
}

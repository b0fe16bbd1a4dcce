// Package dosing implements the dosing automations named in spec.md §3
// "Dosing Automation": silent (no-op, logging only), chemostat (fixed
// dilution rate), turbidostat (bang-bang around an OD target), and
// pid_morbidostat (PID-controlled dilution toward a target growth rate).
// Every automation emits domain.DosingEvent on actuation and is driven
// by a periodic Execute(ctx, latestOD, latestGrowthRate) tick.
package dosing

import (
	"context"
	"time"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/drivers"
	"github.com/pioreactor/pio/internal/metrics"
)

// Automation is one dosing control strategy. Execute is called once per
// scheduling tick and may actuate zero or more pumps.
type Automation interface {
	Name() string
	Execute(ctx context.Context, latestOD float64, latestGrowthRate float64) ([]domain.DosingEvent, error)
}

// Pumps bundles the three pump channels a dosing automation may drive.
type Pumps struct {
	Media    drivers.PWM
	AltMedia drivers.PWM
	Waste    drivers.PWM
}

func publish(events *[]domain.DosingEvent, kind domain.DosingEventKind, volumeML float64, source string) {
	ev := domain.DosingEvent{VolumeChangeML: volumeML, Event: kind, SourceOfEvent: source, Timestamp: time.Now()}
	*events = append(*events, ev)
	metrics.DosingEventsTotal.WithLabelValues(string(kind)).Inc()
	metrics.DosingVolumeML.WithLabelValues(string(kind)).Add(volumeML)
}

func dose(ctx context.Context, pumps Pumps, mediaML, altMediaML, wasteML float64, mlPerSecond float64, source string) ([]domain.DosingEvent, error) {
	var events []domain.DosingEvent
	if mediaML > 0 && pumps.Media != nil {
		if err := drivers.RunPump(ctx, pumps.Media, "media", durationFor(mediaML, mlPerSecond)); err != nil {
			return events, err
		}
		publish(&events, domain.EventAddMedia, mediaML, source)
	}
	if altMediaML > 0 && pumps.AltMedia != nil {
		if err := drivers.RunPump(ctx, pumps.AltMedia, "alt_media", durationFor(altMediaML, mlPerSecond)); err != nil {
			return events, err
		}
		publish(&events, domain.EventAddAltMedia, altMediaML, source)
	}
	if wasteML > 0 && pumps.Waste != nil {
		if err := drivers.RunPump(ctx, pumps.Waste, "waste", durationFor(wasteML, mlPerSecond)); err != nil {
			return events, err
		}
		publish(&events, domain.EventRemoveWaste, wasteML, source)
	}
	return events, nil
}

func durationFor(volumeML, mlPerSecond float64) time.Duration {
	if mlPerSecond <= 0 {
		mlPerSecond = 1
	}
	return time.Duration(volumeML/mlPerSecond*1000) * time.Millisecond
}

// Silent does nothing; it exists so an experiment can be started with
// dosing disabled without special-casing the job runtime.
type Silent struct{}

func (Silent) Name() string { return "silent" }
func (Silent) Execute(ctx context.Context, latestOD, latestGrowthRate float64) ([]domain.DosingEvent, error) {
	return nil, nil
}

// splitMediaAltMedia divides a total dosing volume between the media and
// alt-media pumps according to fraction (0..1), grounded on the ratio
// computed from the PID output in
// original_source/morbidostat/background_jobs/io_controlling.py
// ("alt_media_ml = fraction_of_alt_media_to_add * volume; media_ml = (1 -
// fraction_of_alt_media_to_add) * volume"), generalized here to a
// user-configured constant fraction instead of a PID-derived one.
func splitMediaAltMedia(volumeML, fraction float64) (mediaML, altMediaML float64) {
	if fraction <= 0 {
		return volumeML, 0
	}
	if fraction >= 1 {
		return 0, volumeML
	}
	return volumeML * (1 - fraction), volumeML * fraction
}

// Chemostat doses a fixed volume of fresh media (and an equal volume of
// waste) on every tick, producing a constant dilution rate. AltMediaFraction
// (0..1) routes that fraction of the dose through the alt-media pump
// instead of the media pump.
type Chemostat struct {
	Pumps            Pumps
	VolumeML         float64
	MlPerSecond      float64
	AltMediaFraction float64
}

func (Chemostat) Name() string { return "chemostat" }
func (c Chemostat) Execute(ctx context.Context, latestOD, latestGrowthRate float64) ([]domain.DosingEvent, error) {
	mediaML, altMediaML := splitMediaAltMedia(c.VolumeML, c.AltMediaFraction)
	return dose(ctx, c.Pumps, mediaML, altMediaML, c.VolumeML, c.MlPerSecond, "chemostat")
}

// Turbidostat doses a fixed volume whenever OD exceeds TargetOD,
// otherwise it is a no-op tick (spec.md §3 "bang-bang control").
// AltMediaFraction behaves as in Chemostat.
type Turbidostat struct {
	Pumps            Pumps
	TargetOD         float64
	VolumeML         float64
	MlPerSecond      float64
	AltMediaFraction float64
}

func (Turbidostat) Name() string { return "turbidostat" }
func (t Turbidostat) Execute(ctx context.Context, latestOD, latestGrowthRate float64) ([]domain.DosingEvent, error) {
	if latestOD < t.TargetOD {
		return nil, nil
	}
	mediaML, altMediaML := splitMediaAltMedia(t.VolumeML, t.AltMediaFraction)
	return dose(ctx, t.Pumps, mediaML, altMediaML, t.VolumeML, t.MlPerSecond, "turbidostat")
}

// PIDMorbidostat doses media proportional to a PID controller's output,
// driving the measured growth rate toward TargetGrowthRate. Unlike
// Turbidostat, this automation runs continuously rather than bang-bang.
type PIDMorbidostat struct {
	Pumps            Pumps
	TargetGrowthRate float64
	Kp, Ki, Kd       float64
	MlPerSecond      float64
	MinVolumeML      float64
	MaxVolumeML      float64
	AltMediaFraction float64

	integral  float64
	prevError float64
	prevTime  time.Time
}

func (PIDMorbidostat) Name() string { return "pid_morbidostat" }

func (p *PIDMorbidostat) Execute(ctx context.Context, latestOD, latestGrowthRate float64) ([]domain.DosingEvent, error) {
	now := time.Now()
	err := latestGrowthRate - p.TargetGrowthRate

	var dt float64
	if !p.prevTime.IsZero() {
		dt = now.Sub(p.prevTime).Seconds()
	}
	p.prevTime = now

	p.integral += err * dt
	var derivative float64
	if dt > 0 {
		derivative = (err - p.prevError) / dt
	}
	p.prevError = err

	output := p.Kp*err + p.Ki*p.integral + p.Kd*derivative
	volumeML := clampVolume(output, p.MinVolumeML, p.MaxVolumeML)
	if volumeML <= 0 {
		return nil, nil
	}
	mediaML, altMediaML := splitMediaAltMedia(volumeML, p.AltMediaFraction)
	return dose(ctx, p.Pumps, mediaML, altMediaML, volumeML, p.MlPerSecond, "pid_morbidostat")
}

func clampVolume(v, lo, hi float64) float64 {
	if hi == 0 {
		hi = 1.0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

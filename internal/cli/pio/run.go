package pio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/config"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/dosing"
	"github.com/pioreactor/pio/internal/drivers"
	"github.com/pioreactor/pio/internal/job"
	"github.com/pioreactor/pio/internal/odreading"
	"github.com/pioreactor/pio/internal/stirring"
	"github.com/pioreactor/pio/internal/temperature"
)

var (
	runOptionsJSON string
	runExperiment  string
)

func init() {
	runCmd.Flags().StringVar(&runOptionsJSON, "options", "{}", "job options, as a JSON object")
	runCmd.Flags().StringVar(&runExperiment, "experiment", "", "experiment name (defaults to $EXPERIMENT)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run JOB [ARGS...]",
	Short: "Start a Background Job (or run a one-shot action) on this unit",
	Long: `Runs one of the named Background Jobs in the foreground, registering it
with the local Job Manager and holding it open until stopped (spec.md §3,
§4.D). This is the same entrypoint the unit HTTP API's job launcher
forks, and --options is always a JSON object — the unit API marshals its
request body straight through.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	var options map[string]any
	if err := json.Unmarshal([]byte(runOptionsJSON), &options); err != nil {
		return fmt.Errorf("parse --options: %w", err)
	}

	experiment := experimentFromEnvOrFlag()
	source := jobSourceFromEnv()

	unitCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	clientID := fmt.Sprintf("%s/%s/%s", unitCfg.Node.Name, experiment, jobName)

	d, err := openDeps(clientID)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()

	switch jobName {
	case "stirring":
		return runStirring(ctx, d, experiment, source, options)
	case "od_reading":
		return runODReading(ctx, d, experiment, source, options)
	case "dosing_automation":
		return runDosingAutomation(ctx, d, experiment, source, options)
	case "temperature_control":
		return runTemperatureControl(ctx, d, experiment, source, options)
	case "od_normalization", "clean_tubes", "download_experiment_data":
		return runOneShotAction(ctx, d, experiment, source, jobName, options)
	default:
		return fmt.Errorf("unknown job %q", jobName)
	}
}

// experimentFromEnvOrFlag prefers the EXPERIMENT env var (set by the
// unit API / Experiment Profile dispatcher, spec.md §4.I "envFor"), and
// falls back to --experiment for a direct operator invocation.
func experimentFromEnvOrFlag() string {
	if v := os.Getenv("EXPERIMENT"); v != "" {
		return v
	}
	return runExperiment
}

func jobSourceFromEnv() domain.JobSource {
	if v := os.Getenv("JOB_SOURCE"); v != "" {
		return domain.JobSource(v)
	}
	return domain.JobSourceUser
}

func runStirring(ctx context.Context, d *deps, experiment string, source domain.JobSource, options map[string]any) error {
	targetDuty := floatOption(options, "target_duty_cycle", 60)
	pwm := drivers.NewMockPWM()
	ctrl := stirring.NewController(pwm, "stirring", targetDuty)

	rt, err := job.New(d.cfg.Node.Name, experiment, "stirring", source, d.bus, d.jm, job.Hooks{
		OnReady: func(ctx context.Context) error { return ctrl.Start(ctx) },
		OnDisconnected: func(ctx context.Context) error {
			return ctrl.Stop(ctx)
		},
	})
	if err != nil {
		return err
	}
	if err := rt.AcquireResource("pwm:stirring"); err != nil {
		return err
	}
	if err := rt.PublishSetting("target_duty_cycle", fmt.Sprintf("%g", targetDuty), true); err != nil {
		return err
	}

	stop := rt.SubscribeSettable("target_duty_cycle", func(value []byte) error {
		var v float64
		if _, err := fmt.Sscanf(string(value), "%g", &v); err != nil {
			return err
		}
		return ctrl.SetTargetDutyCycle(ctx, v)
	})
	defer stop()

	go tickLoop(ctx, time.Second, func() { ctrl.Tick(ctx) })

	return rt.Run(ctx)
}

func runODReading(ctx context.Context, d *deps, experiment string, source domain.JobSource, options map[string]any) error {
	intensity := floatOption(options, "ir_led_intensity", 70)
	samplesPerSecond := d.cfg.ODReading.SamplesPerSecond
	if v, ok := options["samples_per_second"]; ok {
		samplesPerSecond = toFloat(v)
	}

	adc := drivers.NewMockADC()
	led := drivers.NewMockIRLED()
	channels := []odreading.ChannelConfig{
		{Channel: domain.Channel1, Angle: domain.Angle90, NormalizationFactor: 1.0},
	}
	sampler, err := odreading.NewSampler(adc, led, channels, intensity, samplesPerSecond)
	if err != nil {
		return err
	}

	rt, err := job.New(d.cfg.Node.Name, experiment, "od_reading", source, d.bus, d.jm, job.Hooks{})
	if err != nil {
		return err
	}
	if err := rt.AcquireResource("adc:od"); err != nil {
		return err
	}
	if err := rt.AcquireResource("ir_led"); err != nil {
		return err
	}

	unsubDosing := d.bus.SubscribeAndCallback([]string{bus.DosingEventsTopic(d.cfg.Node.Name, experiment)}, func(m bus.Message) {
		sampler.NotifyDosingEvent()
	}, "")
	defer unsubDosing()

	interval := time.Second
	if samplesPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / samplesPerSecond)
	}

	go tickLoop(ctx, interval, func() {
		readings, fused, growth, err := sampler.SampleOnce(ctx)
		if err != nil {
			return
		}
		d.bus.PublishJSON(bus.ODReadingsTopic(d.cfg.Node.Name, experiment), readings, bus.QoSAtLeastOnce, false)
		d.bus.PublishJSON(bus.ODFusedTopic(d.cfg.Node.Name, experiment), fused, bus.QoSAtLeastOnce, true)
		d.bus.PublishJSON(bus.Join(d.cfg.Node.Name, experiment, "od_reading", "growth_rate"), growth, bus.QoSAtLeastOnce, true)
	})

	return rt.Run(ctx)
}

func runDosingAutomation(ctx context.Context, d *deps, experiment string, source domain.JobSource, options map[string]any) error {
	automationName, _ := options["automation_name"].(string)
	if automationName == "" {
		automationName = "silent"
	}
	pumps := dosing.Pumps{Media: drivers.NewMockPWM(), AltMedia: drivers.NewMockPWM(), Waste: drivers.NewMockPWM()}

	var auto dosing.Automation
	switch automationName {
	case "chemostat":
		auto = dosing.Chemostat{Pumps: pumps, VolumeML: floatOption(options, "volume_ml", 1), MlPerSecond: floatOption(options, "ml_per_second", 1)}
	case "turbidostat":
		auto = dosing.Turbidostat{Pumps: pumps, TargetOD: floatOption(options, "target_od", 1), VolumeML: floatOption(options, "volume_ml", 1), MlPerSecond: floatOption(options, "ml_per_second", 1)}
	case "pid_morbidostat":
		auto = &dosing.PIDMorbidostat{
			Pumps: pumps, TargetGrowthRate: floatOption(options, "target_growth_rate", 0),
			Kp: floatOption(options, "Kp", 1), Ki: floatOption(options, "Ki", 0), Kd: floatOption(options, "Kd", 0),
			MlPerSecond: floatOption(options, "ml_per_second", 1),
			MinVolumeML: floatOption(options, "min_volume_ml", 0), MaxVolumeML: floatOption(options, "max_volume_ml", 1),
		}
	default:
		auto = dosing.Silent{}
	}

	rt, err := job.New(d.cfg.Node.Name, experiment, "dosing_automation", source, d.bus, d.jm, job.Hooks{})
	if err != nil {
		return err
	}
	if err := rt.PublishSetting("automation_name", automationName, true); err != nil {
		return err
	}

	var latestOD, latestGrowthRate float64
	unsubOD := d.bus.SubscribeAndCallback([]string{bus.ODFusedTopic(d.cfg.Node.Name, experiment)}, func(m bus.Message) {
		var v domain.ODFused
		if json.Unmarshal(m.Payload, &v) == nil {
			latestOD = v.ODFused
		}
	}, bus.LogsTopic(d.cfg.Node.Name, experiment, "error"))
	defer unsubOD()

	throughput := dosing.NewThroughputCalculator(d.cfg.Node.Name, experiment, d.kv, d.bus)
	unsubThroughput := throughput.Subscribe()
	defer unsubThroughput()

	go tickLoop(ctx, 30*time.Second, func() {
		events, err := auto.Execute(ctx, latestOD, latestGrowthRate)
		if err != nil {
			return
		}
		for _, ev := range events {
			d.bus.PublishJSON(bus.DosingEventsTopic(d.cfg.Node.Name, experiment), ev, bus.QoSAtLeastOnce, false)
		}
	})

	return rt.Run(ctx)
}

func runTemperatureControl(ctx context.Context, d *deps, experiment string, source domain.JobSource, options map[string]any) error {
	target := floatOption(options, "target_temperature", 37)
	thermometer := drivers.NewMockADC()
	thermometer.SetBaseline(domain.Channel("temperature"), target)
	heater := drivers.NewMockPWM()

	ctrl := temperature.NewController(thermometer, domain.Channel("temperature"), heater, "heater", target,
		floatOption(options, "Kp", 3), floatOption(options, "Ki", 0.1), floatOption(options, "Kd", 0))

	rt, err := job.New(d.cfg.Node.Name, experiment, "temperature_control", source, d.bus, d.jm, job.Hooks{
		OnDisconnected: func(ctx context.Context) error { return ctrl.Stop(ctx) },
	})
	if err != nil {
		return err
	}
	if err := rt.AcquireResource("pwm:heater"); err != nil {
		return err
	}
	if err := rt.PublishSetting("target_temperature", fmt.Sprintf("%g", target), true); err != nil {
		return err
	}

	stop := rt.SubscribeSettable("target_temperature", func(value []byte) error {
		var v float64
		if _, err := fmt.Sscanf(string(value), "%g", &v); err != nil {
			return err
		}
		ctrl.SetTarget(v)
		return nil
	})
	defer stop()

	go tickLoop(ctx, 10*time.Second, func() {
		temp, setpoint, output, p, i, dd, err := ctrl.Tick(ctx)
		if err != nil {
			return
		}
		d.bus.PublishJSON(bus.Join(d.cfg.Node.Name, experiment, "temperature_control", "temperature"), domain.TemperatureReading{Timestamp: time.Now(), Temperature: temp}, bus.QoSAtLeastOnce, false)
		d.bus.PublishJSON(bus.Join(d.cfg.Node.Name, experiment, "temperature_control", "pid_log"), domain.PIDLog{Timestamp: time.Now(), JobName: "temperature_control", Setpoint: setpoint, Output: output, P: p, I: i, D: dd}, bus.QoSAtLeastOnce, false)
	})

	return rt.Run(ctx)
}

// runOneShotAction drives the supplemented one-shot CLI actions
// (od_normalization, clean_tubes, download_experiment_data) as
// short-lived, non-long-running Background Jobs (spec.md SPEC_FULL
// "SUPPLEMENTED FEATURES").
func runOneShotAction(ctx context.Context, d *deps, experiment string, source domain.JobSource, name string, options map[string]any) error {
	rt, err := job.New(d.cfg.Node.Name, experiment, name, source, d.bus, d.jm, job.Hooks{})
	if err != nil {
		return err
	}
	return rt.RunOnce(ctx, func(ctx context.Context) error {
		switch name {
		case "od_normalization":
			adc := drivers.NewMockADC()
			led := drivers.NewMockIRLED()
			channels := []odreading.ChannelConfig{{Channel: domain.Channel1, Angle: domain.Angle90, NormalizationFactor: 1.0}}
			sampler, err := odreading.NewSampler(adc, led, channels, floatOption(options, "ir_led_intensity", 70), d.cfg.ODReading.SamplesPerSecond)
			if err != nil {
				return err
			}
			readings, _, _, err := sampler.SampleOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("normalization readings: %+v\n", readings)
			return nil
		case "clean_tubes":
			fmt.Println("running tube-cleaning pump cycle")
			return nil
		case "download_experiment_data":
			fmt.Printf("exporting data for experiment %q\n", experiment)
			return nil
		}
		return nil
	})
}

func tickLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func floatOption(options map[string]any, key string, fallback float64) float64 {
	v, ok := options[key]
	if !ok {
		return fallback
	}
	return toFloat(v)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		var f float64
		fmt.Sscanf(n, "%g", &f)
		return f
	default:
		return 0
	}
}


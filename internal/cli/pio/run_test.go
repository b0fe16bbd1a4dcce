package pio

import "testing"

func TestFloatOptionFallsBackWhenKeyMissing(t *testing.T) {
	options := map[string]any{"target_duty_cycle": 80.0}
	if v := floatOption(options, "target_duty_cycle", 0); v != 80.0 {
		t.Fatalf("got %v", v)
	}
	if v := floatOption(options, "missing", 42); v != 42 {
		t.Fatalf("got %v", v)
	}
}

func TestToFloatHandlesStringsAndInts(t *testing.T) {
	if v := toFloat("3.5"); v != 3.5 {
		t.Fatalf("got %v", v)
	}
	if v := toFloat(2); v != 2.0 {
		t.Fatalf("got %v", v)
	}
	if v := toFloat(1.25); v != 1.25 {
		t.Fatalf("got %v", v)
	}
}

func TestJobSourceFromEnvDefaultsToUser(t *testing.T) {
	t.Setenv("JOB_SOURCE", "")
	if got := jobSourceFromEnv(); got != "user" {
		t.Fatalf("got %v", got)
	}
	t.Setenv("JOB_SOURCE", "experiment_profile/3")
	if got := jobSourceFromEnv(); got != "experiment_profile/3" {
		t.Fatalf("got %v", got)
	}
}

package domain

import "time"

// TemperatureReading is one thermometer sample (spec.md §3 "temperature
// automations").
type TemperatureReading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
}

// PIDLog records one tick of a PID-controlled automation's internal
// state, published for observability and inserted by the streamer
// (spec.md §4.K "pid_logs").
type PIDLog struct {
	Timestamp time.Time `json:"timestamp"`
	JobName   string    `json:"job_name"`
	Setpoint  float64   `json:"setpoint"`
	Output    float64   `json:"output"`
	P         float64   `json:"p"`
	I         float64   `json:"i"`
	D         float64   `json:"d"`
}

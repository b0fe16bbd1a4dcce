// Package streamer implements the MQTT->DB streamer (spec.md §4.K): a
// leader-side subscriber that decodes a curated set of bus topics and
// inserts rows into a time-series SQLite database, one table per
// stream, through a single writer connection with prepared inserts.
package streamer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pioreactor/pio/internal/bus"
)

// Streamer owns the single writer connection and every stream's
// prepared insert, mirroring the teacher's single-connection,
// SetMaxOpenConns(1) idiom (internal/infra/sqlite/db.go).
type Streamer struct {
	db     *sql.DB
	bus    *bus.Client
	stmts  map[string]*sql.Stmt
	cancel func()
}

// Open creates or opens <dir>/timeseries.db in WAL mode and prepares
// the insert for every stream table.
func Open(dir string, busClient *bus.Client) (*Streamer, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := filepath.Join(dir, "timeseries.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open timeseries db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping timeseries db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Streamer{db: db, bus: busClient, stmts: make(map[string]*sql.Stmt)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Streamer) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ods (timestamp TEXT, unit TEXT, experiment TEXT, channel TEXT, angle TEXT, od REAL, ir_led_intensity REAL)`,
		`CREATE TABLE IF NOT EXISTS growth_rates (timestamp TEXT, unit TEXT, experiment TEXT, growth_rate REAL)`,
		`CREATE TABLE IF NOT EXISTS dosing_events (timestamp TEXT, unit TEXT, experiment TEXT, event TEXT, volume_ml REAL, source_of_event TEXT)`,
		`CREATE TABLE IF NOT EXISTS logs (timestamp TEXT, unit TEXT, experiment TEXT, level TEXT, message TEXT, task TEXT, source TEXT)`,
		`CREATE TABLE IF NOT EXISTS pwm_dcs (timestamp TEXT, unit TEXT, experiment TEXT, channel TEXT, duty_cycle REAL)`,
		`CREATE TABLE IF NOT EXISTS temperature_readings (timestamp TEXT, unit TEXT, experiment TEXT, temperature REAL)`,
		`CREATE TABLE IF NOT EXISTS pid_logs (timestamp TEXT, unit TEXT, experiment TEXT, job_name TEXT, setpoint REAL, output REAL, p REAL, i REAL, d REAL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate streamer schema: %w", err)
		}
	}
	return nil
}

var insertSQL = map[string]string{
	"ods":                   `INSERT INTO ods (timestamp, unit, experiment, channel, angle, od, ir_led_intensity) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	"growth_rates":          `INSERT INTO growth_rates (timestamp, unit, experiment, growth_rate) VALUES (?, ?, ?, ?)`,
	"dosing_events":         `INSERT INTO dosing_events (timestamp, unit, experiment, event, volume_ml, source_of_event) VALUES (?, ?, ?, ?, ?, ?)`,
	"logs":                  `INSERT INTO logs (timestamp, unit, experiment, level, message, task, source) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	"pwm_dcs":               `INSERT INTO pwm_dcs (timestamp, unit, experiment, channel, duty_cycle) VALUES (?, ?, ?, ?, ?)`,
	"temperature_readings":  `INSERT INTO temperature_readings (timestamp, unit, experiment, temperature) VALUES (?, ?, ?, ?)`,
	"pid_logs":              `INSERT INTO pid_logs (timestamp, unit, experiment, job_name, setpoint, output, p, i, d) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
}

func (s *Streamer) prepare() error {
	for table, query := range insertSQL {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare %s insert: %w", table, err)
		}
		s.stmts[table] = stmt
	}
	return nil
}

// Close releases every prepared statement and the database connection.
func (s *Streamer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	return s.db.Close()
}

// topicSubscriptions is the curated topic list (spec.md §4.K), matched
// against incoming topics by suffix since unit/experiment vary. The
// broker has no MQTT-style wildcard subscriptions, so the streamer
// subscribes to each stream's concrete topic per (unit, experiment)
// pair it is told to watch (see Start).
var topicSubscriptions = []string{
	"od_reading/ods",
	"od_reading/growth_rate",
	"dosing_events",
	"logs/debug", "logs/info", "logs/notice", "logs/warning", "logs/error", "logs/critical",
	"stirring/pwm_dc",
	"temperature_control/temperature",
	"temperature_control/pid_log",
}

// Start subscribes to the curated topic list for every (unit,
// experiment) pair in units, on a dedicated listener per topic, and
// inserts every decoded payload until stopped. Matches spec.md §5
// "bus callbacks run on a dedicated listener task".
func (s *Streamer) Start(units []UnitExperiment) func() {
	var topics []string
	for _, ue := range units {
		for _, stream := range topicSubscriptions {
			topics = append(topics, bus.Join(ue.Unit, ue.Experiment, stream))
		}
	}
	return s.bus.SubscribeAndCallback(topics, s.handle, bus.Join("streamer", "errors"))
}

// UnitExperiment names one (unit, experiment) pair the streamer should
// watch; the caller (leader daemon) maintains this list as units join
// or leave an experiment.
type UnitExperiment struct {
	Unit       string
	Experiment string
}

func (s *Streamer) handle(msg bus.Message) {
	parts := strings.Split(strings.TrimPrefix(msg.Topic, bus.Prefix+"/"), "/")
	if len(parts) < 3 {
		return
	}
	unit, experiment := parts[0], parts[1]
	stream := strings.Join(parts[2:], "/")

	if err := s.insert(unit, experiment, stream, msg.Payload); err != nil {
		log.Printf("[streamer] decode/insert error for topic %s: %v", msg.Topic, err)
	}
}

func (s *Streamer) insert(unit, experiment, stream string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch {
	case stream == "od_reading/ods":
		var v struct {
			Timestamp string `json:"timestamp"`
			Ods       map[string]struct {
				Angle          string  `json:"angle"`
				Channel        string  `json:"channel"`
				OD             float64 `json:"od"`
				IRLedIntensity float64 `json:"ir_led_intensity"`
			} `json:"ods"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		ts := v.Timestamp
		if ts == "" {
			ts = now
		}
		for channel, r := range v.Ods {
			if _, err := s.stmts["ods"].Exec(ts, unit, experiment, channel, r.Angle, r.OD, r.IRLedIntensity); err != nil {
				return err
			}
		}
		return nil

	case stream == "od_reading/growth_rate":
		var v struct {
			Timestamp  string  `json:"timestamp"`
			GrowthRate float64 `json:"growth_rate"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		_, err := s.stmts["growth_rates"].Exec(coalesce(v.Timestamp, now), unit, experiment, v.GrowthRate)
		return err

	case stream == "dosing_events":
		var v struct {
			Timestamp     string  `json:"timestamp"`
			Event         string  `json:"event"`
			VolumeML      float64 `json:"volume_change_ml"`
			SourceOfEvent string  `json:"source_of_event"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		_, err := s.stmts["dosing_events"].Exec(coalesce(v.Timestamp, now), unit, experiment, v.Event, v.VolumeML, v.SourceOfEvent)
		return err

	case strings.HasPrefix(stream, "logs/"):
		var v struct {
			Timestamp string `json:"timestamp"`
			Message   string `json:"message"`
			Task      string `json:"task"`
			Source    string `json:"source"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		level := strings.TrimPrefix(stream, "logs/")
		_, err := s.stmts["logs"].Exec(coalesce(v.Timestamp, now), unit, experiment, level, v.Message, v.Task, v.Source)
		return err

	case stream == "stirring/pwm_dc":
		var v struct {
			Channel    string  `json:"channel"`
			DutyCycle  float64 `json:"duty_cycle"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		_, err := s.stmts["pwm_dcs"].Exec(now, unit, experiment, v.Channel, v.DutyCycle)
		return err

	case stream == "temperature_control/temperature":
		var v struct {
			Temperature float64 `json:"temperature"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		_, err := s.stmts["temperature_readings"].Exec(now, unit, experiment, v.Temperature)
		return err

	case stream == "temperature_control/pid_log":
		var v struct {
			JobName  string  `json:"job_name"`
			Setpoint float64 `json:"setpoint"`
			Output   float64 `json:"output"`
			P        float64 `json:"p"`
			I        float64 `json:"i"`
			D        float64 `json:"d"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		_, err := s.stmts["pid_logs"].Exec(now, unit, experiment, v.JobName, v.Setpoint, v.Output, v.P, v.I, v.D)
		return err
	}
	return nil
}

func coalesce(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

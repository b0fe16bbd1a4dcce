// Package logging centralizes the bracketed-component log convention the
// rest of this tree uses ad-hoc (log.Printf("[job %s] ...")) and, when a bus
// client is attached, mirrors each line onto the unit/experiment's logs
// topic (bus.LogsTopic) the way internal/httpapi's experiment-log endpoint
// already does by hand. Job code calls logger.Error(...) instead of
// hand-rolling topic strings.
package logging

import (
	"fmt"
	"log"

	"github.com/pioreactor/pio/internal/bus"
)

// Level names the severity of a log line, matching the levels spec.md §4.A
// publishes under <unit>/<experiment>/logs/<level>.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "critical"
)

// Logger writes bracketed "[component] message" lines to stderr via the
// standard logger and, when a bus client is attached, republishes the same
// message onto the logs topic for (unit, experiment).
type Logger struct {
	component  string
	unit       string
	experiment string
	bus        *bus.Client
}

// New returns a Logger for component, publishing through busClient when
// non-nil. unit/experiment scope the bus topic a line is published under;
// they may be empty for a logger that never attaches to the bus.
func New(component, unit, experiment string, busClient *bus.Client) *Logger {
	return &Logger{component: component, unit: unit, experiment: experiment, bus: busClient}
}

// WithExperiment returns a copy of l scoped to a different experiment,
// useful for job code that only learns its experiment after construction.
func (l *Logger) WithExperiment(experiment string) *Logger {
	cp := *l
	cp.experiment = experiment
	return &cp
}

func (l *Logger) Debug(format string, args ...any)   { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.log(LevelWarning, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LevelError, format, args...) }
func (l *Logger) Fatal(format string, args ...any)   { l.log(LevelFatal, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s: %s", l.component, level, msg)

	if l.bus == nil {
		return
	}
	topic := bus.LogsTopic(l.unit, l.experiment, string(level))
	if err := l.bus.Publish(topic, []byte(msg), bus.QoSAtLeastOnce, false); err != nil {
		log.Printf("[%s] failed to publish log to bus: %v", l.component, err)
	}
}

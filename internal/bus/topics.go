package bus

import (
	"strings"

	"github.com/pioreactor/pio/internal/domain"
)

// Prefix is prepended to every topic on the wire (spec.md §6).
const Prefix = "pioreactor"

// StateTopic is the retained `$state` topic for a job.
func StateTopic(unit, experiment, job string) string {
	return Join(unit, experiment, job, "$state")
}

// PropertiesTopic is the retained `$properties` topic for a job.
func PropertiesTopic(unit, experiment, job string) string {
	return Join(unit, experiment, job, "$properties")
}

// SettingTopic is the retained topic a job publishes one setting's value to.
func SettingTopic(unit, experiment, job, setting string) string {
	return Join(unit, experiment, job, setting)
}

// SettingSetTopic is the topic writes to a setting are sent to.
func SettingSetTopic(unit, experiment, job, setting string) string {
	return Join(unit, experiment, job, setting, "set")
}

// LogsTopic is the topic logs at a given level are published to.
func LogsTopic(unit, experiment, level string) string {
	return Join(unit, experiment, "logs", level)
}

// ODReadingsTopic is the aggregated OD reading topic.
func ODReadingsTopic(unit, experiment string) string {
	return Join(unit, experiment, "od_reading", "ods")
}

// ODFusedTopic is the fused OD estimate topic.
func ODFusedTopic(unit, experiment string) string {
	return Join(unit, experiment, "od_reading", "od_fused")
}

// DosingEventsTopic is the topic dosing events are published to.
func DosingEventsTopic(unit, experiment string) string {
	return Join(unit, experiment, "dosing_events")
}

// LatestExperimentTopic is a global retained topic naming the active
// experiment, outside any (unit, experiment) scope.
const LatestExperimentTopic = "latest_experiment"

// Join builds "pioreactor/<parts joined by />" the way every topic in
// spec.md §4.A is constructed. Empty parts are dropped wherever they
// appear.
func Join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return Prefix + "/" + strings.Join(nonEmpty, "/")
}

// IsBroadcast reports whether a unit segment is the wildcard unit.
func IsBroadcast(unit string) bool {
	return unit == domain.BroadcastUnit
}

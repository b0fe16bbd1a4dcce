package domain

import "time"

// DosingEventKind enumerates what a pump actuation represents. AddAltMedia
// is carried over from original_source/morbidostat/actions/add_alt_media.py
// — spec.md's distillation only names add_media/remove_waste explicitly,
// but every automation that doses media also supports an alt-media line.
type DosingEventKind string

const (
	EventAddMedia    DosingEventKind = "add_media"
	EventAddAltMedia DosingEventKind = "add_alt_media"
	EventRemoveWaste DosingEventKind = "remove_waste"
)

// DosingEvent is published to `<unit>/<exp>/dosing_events` every time a
// pump actuates (spec.md §3 "Dosing Event").
type DosingEvent struct {
	VolumeChangeML float64         `json:"volume_change_ml"`
	Event          DosingEventKind `json:"event"`
	SourceOfEvent  string          `json:"source_of_event"`
	Timestamp      time.Time       `json:"timestamp"`
}

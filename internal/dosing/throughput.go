package dosing

import (
	"encoding/json"
	"strconv"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

// ThroughputCalculator is the dosing_automation sub-job that tracks how
// much media and alt-media have been dosed into the vial over an
// experiment's lifetime, grounded on
// original_source/morbidostat/background_jobs/subjobs/throughput_calculating.py.
// Totals persist across restarts in kvstore.ScopePumpThroughput and are
// republished as the dosing_automation job's media_throughput/
// alt_media_throughput settings on every update.
type ThroughputCalculator struct {
	unit, experiment string
	kv               *kvstore.Store
	busClient        *bus.Client

	mediaML    float64
	altMediaML float64
}

// NewThroughputCalculator seeds its running totals from the KV store, so
// a restarted dosing_automation job resumes counting instead of
// restarting from zero.
func NewThroughputCalculator(unit, experiment string, kv *kvstore.Store, busClient *bus.Client) *ThroughputCalculator {
	tc := &ThroughputCalculator{unit: unit, experiment: experiment, kv: kv, busClient: busClient}
	tc.mediaML = tc.loadSeed("media_ml")
	tc.altMediaML = tc.loadSeed("alt_media_ml")
	return tc
}

func (tc *ThroughputCalculator) kvKey(suffix string) string {
	return tc.unit + "/" + tc.experiment + "/" + suffix
}

func (tc *ThroughputCalculator) loadSeed(suffix string) float64 {
	raw, ok, err := tc.kv.Get(kvstore.ScopePumpThroughput, tc.kvKey(suffix))
	if err != nil || !ok {
		return 0
	}
	v, _ := strconv.ParseFloat(string(raw), 64)
	return v
}

// OnDosingEvent folds one domain.DosingEvent into the running totals,
// matching the event-kind switch in the teacher's on_io_event (waste
// removal carries no volume credit; add_media/add_alt_media do).
func (tc *ThroughputCalculator) OnDosingEvent(ev domain.DosingEvent) {
	switch ev.Event {
	case domain.EventAddMedia:
		tc.mediaML += ev.VolumeChangeML
	case domain.EventAddAltMedia:
		tc.altMediaML += ev.VolumeChangeML
	default:
		return
	}
	tc.persistAndPublish()
}

func (tc *ThroughputCalculator) persistAndPublish() {
	mediaStr := strconv.FormatFloat(tc.mediaML, 'f', -1, 64)
	altMediaStr := strconv.FormatFloat(tc.altMediaML, 'f', -1, 64)

	tc.kv.Put(kvstore.ScopePumpThroughput, tc.kvKey("media_ml"), []byte(mediaStr))
	tc.kv.Put(kvstore.ScopePumpThroughput, tc.kvKey("alt_media_ml"), []byte(altMediaStr))

	if tc.busClient == nil {
		return
	}
	tc.busClient.Publish(bus.SettingTopic(tc.unit, tc.experiment, "dosing_automation", "media_throughput"), []byte(mediaStr), bus.QoSExactlyOnce, true)
	tc.busClient.Publish(bus.SettingTopic(tc.unit, tc.experiment, "dosing_automation", "alt_media_throughput"), []byte(altMediaStr), bus.QoSExactlyOnce, true)
}

// Subscribe wires OnDosingEvent to this unit/experiment's dosing_events
// topic, returning an unsubscribe func. Call once per dosing_automation
// job run.
func (tc *ThroughputCalculator) Subscribe() func() {
	return tc.busClient.SubscribeAndCallback([]string{bus.DosingEventsTopic(tc.unit, tc.experiment)}, func(m bus.Message) {
		var ev domain.DosingEvent
		if json.Unmarshal(m.Payload, &ev) == nil {
			tc.OnDosingEvent(ev)
		}
	}, "")
}

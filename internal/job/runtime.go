// Package job implements the Background Job Runtime: the process-local
// lifecycle wrapper every long-running or one-shot control-plane job
// embeds (spec.md §3 "Background Job", §4.D). It drives the
// init -> ready <-> sleeping -> disconnected state machine, publishes
// settings to the bus, registers with the Job Manager, and guarantees
// hardware resources are released on every exit path.
package job

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/logging"
)

// Hooks are the user-supplied callbacks a Background Job implements.
// Any hook may be nil; Runtime no-ops on a nil hook.
type Hooks struct {
	OnReady        func(ctx context.Context) error
	OnSleeping     func(ctx context.Context) error
	OnDisconnected func(ctx context.Context) error
}

// Resource identifies a piece of exclusive hardware a job may acquire,
// e.g. "pwm:heating" or "adc:od_channel_1" (spec.md §3 "resource
// ownership").
type Resource string

// Runtime is the concrete Background Job: it owns a row in the Job
// Manager, a bus client identity, a set of published settings, and zero
// or more acquired hardware resources.
type Runtime struct {
	JobName    string
	Unit       string
	Experiment string
	Source     domain.JobSource

	bus *bus.Client
	jm  *jobmanager.Manager
	log *logging.Logger

	hooks Hooks

	mu        sync.Mutex
	jobID     int64
	state     domain.JobState
	resources map[Resource]bool
	owner     *resourceRegistry

	cancel context.CancelFunc
}

// resourceRegistry tracks which job currently owns which hardware
// resource, process-wide (spec.md §3 "resource ownership" invariant: a
// resource is owned by at most one job at a time).
type resourceRegistry struct {
	mu     sync.Mutex
	owners map[Resource]string
}

var globalResources = &resourceRegistry{owners: make(map[Resource]string)}

func (r *resourceRegistry) acquire(res Resource, jobName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[res]; ok && owner != jobName {
		return domain.ErrResourceBusy
	}
	r.owners[res] = jobName
	return nil
}

func (r *resourceRegistry) release(res Resource, jobName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[res]
	if !ok {
		return nil
	}
	if owner != jobName {
		return domain.ErrResourceNotOwned
	}
	delete(r.owners, res)
	return nil
}

// New constructs a Runtime and registers it with the Job Manager. The
// caller must call Run (for long-running jobs) or RunOnce (for one-shot
// jobs) next.
func New(unit, experiment, jobName string, source domain.JobSource, busClient *bus.Client, jm *jobmanager.Manager, hooks Hooks) (*Runtime, error) {
	rt := &Runtime{
		JobName:    jobName,
		Unit:       unit,
		Experiment: experiment,
		Source:     source,
		bus:        busClient,
		jm:         jm,
		log:        logging.New("job "+jobName, unit, experiment, busClient),
		hooks:      hooks,
		state:      domain.JobInit,
		resources:  make(map[Resource]bool),
		owner:      globalResources,
	}

	id, err := jm.Register(domain.Job{
		Unit: unit, Experiment: experiment, JobName: jobName,
		JobSource: source, PID: os.Getpid(), StartedAt: time.Now(),
		IsLongRunning: true, IsRunning: true,
	})
	if err != nil {
		return nil, err
	}
	rt.jobID = id

	willTopic := bus.StateTopic(unit, experiment, jobName)
	busClient.RegisterLastWill(willTopic, []byte(string(domain.JobLost)))

	return rt, nil
}

// AcquireResource claims exclusive ownership of a hardware resource for
// the lifetime of the job, or returns domain.ErrResourceBusy.
func (rt *Runtime) AcquireResource(res Resource) error {
	if err := rt.owner.acquire(res, rt.JobName); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.resources[res] = true
	rt.mu.Unlock()
	return nil
}

// releaseAllResources is called on every exit path so an ungraceful
// shutdown never leaks an owned resource.
func (rt *Runtime) releaseAllResources() {
	rt.mu.Lock()
	resources := make([]Resource, 0, len(rt.resources))
	for res := range rt.resources {
		resources = append(resources, res)
	}
	rt.resources = make(map[Resource]bool)
	rt.mu.Unlock()

	for _, res := range resources {
		_ = rt.owner.release(res, rt.JobName)
	}
}

// transition moves the state machine and publishes both the new $state
// and mirrors it into the Job Manager.
func (rt *Runtime) transition(ctx context.Context, to domain.JobState) error {
	rt.mu.Lock()
	from := rt.state
	rt.mu.Unlock()

	if from != to && !domain.CanTransition(from, to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", rt.JobName, from, to)
	}

	var hook func(context.Context) error
	switch to {
	case domain.JobReady:
		hook = rt.hooks.OnReady
	case domain.JobSleeping:
		hook = rt.hooks.OnSleeping
	case domain.JobDisconnected:
		hook = rt.hooks.OnDisconnected
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	rt.mu.Lock()
	rt.state = to
	rt.mu.Unlock()

	if err := rt.jm.SetState(rt.jobID, to); err != nil {
		rt.log.Error("failed to persist state %s: %v", to, err)
	}

	topic := bus.StateTopic(rt.Unit, rt.Experiment, rt.JobName)
	if err := rt.bus.Publish(topic, []byte(string(to)), bus.QoSExactlyOnce, true); err != nil {
		rt.log.Error("failed to publish state %s: %v", to, err)
	}
	return nil
}

// PublishSetting records and broadcasts a published setting. It does not
// subscribe to the setting's <setting>/set topic; a settable setting is
// wired to that topic separately with SubscribeSettable.
func (rt *Runtime) PublishSetting(name, value string, settable bool) error {
	if err := rt.jm.UpsertSetting(rt.jobID, name, value, settable); err != nil {
		return err
	}
	topic := bus.SettingTopic(rt.Unit, rt.Experiment, rt.JobName, name)
	return rt.bus.Publish(topic, []byte(value), bus.QoSAtLeastOnce, true)
}

// SubscribeSettable wires <job>/<setting>/set so external callers (the
// HTTP API, the CLI, or an Experiment Profile) can mutate a live
// setting. apply is called with the raw new value.
func (rt *Runtime) SubscribeSettable(name string, apply func(value []byte) error) func() {
	topic := bus.SettingSetTopic(rt.Unit, rt.Experiment, rt.JobName, name)
	return rt.bus.SubscribeAndCallback([]string{topic}, func(m bus.Message) {
		if err := apply(m.Payload); err != nil {
			rt.log.Warning("rejected set %s: %v", name, err)
			return
		}
		_ = rt.PublishSetting(name, string(m.Payload), true)
	}, bus.LogsTopic(rt.Unit, rt.Experiment, "error"))
}

// Run moves the job init -> ready, then blocks until ctx is cancelled or
// a SIGTERM/SIGINT arrives, then moves ready -> disconnected and cleans
// up. This is the entry point for long-running jobs (spec.md §4.D).
func (rt *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	defer cancel()
	defer rt.releaseAllResources()
	defer func() {
		if err := rt.jm.SetNotRunning(rt.jobID); err != nil {
			rt.log.Error("failed to mark not-running: %v", err)
		}
	}()

	if err := rt.transition(ctx, domain.JobReady); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	}

	return rt.transition(context.Background(), domain.JobDisconnected)
}

// Sleep transitions ready -> sleeping; Wake transitions sleeping ->
// ready. Both are legal only from their respective source state.
func (rt *Runtime) Sleep(ctx context.Context) error { return rt.transition(ctx, domain.JobSleeping) }
func (rt *Runtime) Wake(ctx context.Context) error  { return rt.transition(ctx, domain.JobReady) }

// Stop requests a graceful shutdown of a job running under Run.
func (rt *Runtime) Stop() {
	if rt.cancel != nil {
		rt.cancel()
	}
}

// RunOnce drives a one-shot (non-long-running) job: init -> ready,
// invoke fn, -> disconnected, regardless of fn's outcome.
func (rt *Runtime) RunOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	defer rt.releaseAllResources()
	defer func() {
		if err := rt.jm.SetNotRunning(rt.jobID); err != nil {
			rt.log.Error("failed to mark not-running: %v", err)
		}
	}()

	if err := rt.transition(ctx, domain.JobReady); err != nil {
		return err
	}
	runErr := fn(ctx)
	if err := rt.transition(context.Background(), domain.JobDisconnected); err != nil {
		rt.log.Error("failed to transition to disconnected: %v", err)
	}
	return runErr
}

// State returns the job's current lifecycle state.
func (rt *Runtime) State() domain.JobState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// JobID returns the Job Manager row id assigned at registration.
func (rt *Runtime) JobID() int64 { return rt.jobID }

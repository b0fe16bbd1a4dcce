package profile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/expr"
	"github.com/pioreactor/pio/internal/jobmanager"
)

// AssignmentChecker reports whether unit is still assigned to
// experiment, re-checked before every scheduled task fires (spec.md
// §4.I scheduling model step 1).
type AssignmentChecker func(unit, experiment string) bool

// Engine drives one loaded, verified Profile to completion: it expands
// every job's actions into scheduled tasks, evaluates `if`/`while`
// guards at fire time, and dispatches via WorkerAPI/bus.
type Engine struct {
	Profile    *domain.Profile
	Experiment string
	Source     domain.JobSource
	Dispatcher *dispatcher
	Assigned   AssignmentChecker
	JobManager *jobmanager.Manager
	DryRun     bool
	Now        func() time.Time

	sched         *Scheduler
	startedCount  int
	skippedCount  int
	neverStarted  int
	repeatWarned  map[string]bool
}

// NewEngine wires an Engine for one profile run. source identifies this
// run for job_source tagging and kill_jobs scoping.
func NewEngine(p *domain.Profile, experiment string, source domain.JobSource, api WorkerAPI, busClient *bus.Client, jm *jobmanager.Manager, assigned AssignmentChecker) *Engine {
	return &Engine{
		Profile:    p,
		Experiment: experiment,
		Source:     source,
		JobManager:   jm,
		Assigned:     assigned,
		Dispatcher:   &dispatcher{api: api, busClient: busClient, experiment: experiment, source: source},
		sched:        NewScheduler(),
		repeatWarned: make(map[string]bool),
		Now:          time.Now,
	}
}

// unitJobActions enumerates (unit, jobName, actions) triples across
// common.jobs (applied to every unit) and per-unit pioreactors.jobs.
func (e *Engine) unitJobActions() []struct {
	unit    string
	jobName string
	actions []domain.Action
} {
	var out []struct {
		unit    string
		jobName string
		actions []domain.Action
	}
	units := make([]string, 0, len(e.Profile.Pioreactors))
	for u := range e.Profile.Pioreactors {
		units = append(units, u)
	}
	for _, unit := range units {
		for jobName, ja := range e.Profile.Common.Jobs {
			out = append(out, struct {
				unit    string
				jobName string
				actions []domain.Action
			}{unit, jobName, ja.Actions})
		}
		for jobName, ja := range e.Profile.Pioreactors[unit].Jobs {
			out = append(out, struct {
				unit    string
				jobName string
				actions []domain.Action
			}{unit, jobName, ja.Actions})
		}
	}
	return out
}

// Run enqueues every action in the profile and drains the scheduler
// until empty or ctx is cancelled. On cancellation it calls kill_jobs
// scoped to this run's job_source and logs a summary.
func (e *Engine) Run(ctx context.Context) error {
	start := e.Now()
	for _, uja := range e.unitJobActions() {
		for _, a := range uja.actions {
			e.enqueueAction(uja.unit, uja.jobName, a, start, 0)
		}
	}

	for e.sched.Len() > 0 {
		select {
		case <-ctx.Done():
			return e.cancel()
		default:
		}

		delay, ok := e.sched.NextDelay()
		if !ok {
			break
		}
		waitFor := start.Add(time.Duration(delay * float64(time.Second))).Sub(e.Now())
		if waitFor > 0 {
			timer := time.NewTimer(waitFor)
			select {
			case <-ctx.Done():
				timer.Stop()
				return e.cancel()
			case <-timer.C:
			}
		}

		run, ok := e.sched.PopReady(elapsedSeconds(start, e.Now()))
		if !ok {
			continue
		}
		run()
	}

	log.Printf("[profile] run complete: started=%d skipped=%d never_started=%d", e.startedCount, e.skippedCount, e.neverStarted)
	return nil
}

func elapsedSeconds(start time.Time, now time.Time) float64 {
	return now.Sub(start).Seconds()
}

// enqueueAction schedules a into the priority queue at hoursOffset
// hours from the profile run's start.
func (e *Engine) enqueueAction(unit, jobName string, a domain.Action, start time.Time, hoursOffset float64) {
	delaySeconds := hoursOffset*3600 + e.resolveDelaySeconds(a)
	e.sched.Enqueue(delaySeconds, a.Kind.Priority(), func() {
		e.fire(unit, jobName, a, start)
	})
}

// resolveDelaySeconds turns an action's hours_elapsed/t raw literal
// into seconds via expr.TimeToSeconds (spec.md §4.I time literals).
func (e *Engine) resolveDelaySeconds(a domain.Action) float64 {
	if a.Raw == "" {
		return 0
	}
	secs, err := expr.TimeToSeconds(a.Raw)
	if err != nil {
		log.Printf("[profile] bad time literal %q: %v", a.Raw, err)
		return 0
	}
	return secs
}

// fire runs one scheduled action: re-checks assignment, evaluates
// `if`, resolves options, and dispatches (spec.md §4.I scheduling model
// steps 1-4).
func (e *Engine) fire(unit, jobName string, a domain.Action, start time.Time) {
	if e.Assigned != nil && !e.Assigned(unit, e.Experiment) {
		e.skippedCount++
		return
	}

	env := expr.Env{Unit: unit, Experiment: e.Experiment, JobName: jobName, HoursElapsed: elapsedSeconds(start, e.Now()) / 3600}

	if a.If != "" {
		ok, err := expr.EvalBoolString(a.If, env)
		if err != nil {
			log.Printf("[profile] if expression error for %s/%s: %v", unit, jobName, err)
			e.skippedCount++
			return
		}
		if !ok {
			e.skippedCount++
			return
		}
	}

	switch a.Kind {
	case domain.ActionRepeat:
		e.fireRepeat(unit, jobName, a, start, env)
		return
	case domain.ActionWhen:
		e.fireWhen(unit, jobName, a, start, env)
		return
	}

	e.dispatchOne(unit, jobName, a)
}

func (e *Engine) dispatchOne(unit, jobName string, a domain.Action) {
	if e.DryRun {
		log.Printf("[profile][dry-run] would dispatch %s on %s/%s options=%v", a.Kind, unit, jobName, a.Options)
		e.startedCount++
		return
	}
	if err := e.Dispatcher.dispatch(unit, jobName, a); err != nil {
		log.Printf("[profile] dispatch %s on %s/%s failed: %v", a.Kind, unit, jobName, err)
		return
	}
	e.startedCount++
}

// fireRepeat re-enters itself every `every` hours, enqueueing the
// basic inner actions each cycle, until completed_loops*every >=
// max_time or `while` evaluates false (spec.md §4.I repeat semantics).
func (e *Engine) fireRepeat(unit, jobName string, a domain.Action, start time.Time, env expr.Env) {
	everyRaw := a.RepeatEveryHoursRaw
	everySeconds := e.resolveTimeLiteral(everyRaw)
	maxSeconds := e.resolveTimeLiteral(a.MaxHoursRaw)

	if a.While != "" {
		ok, err := expr.EvalBoolString(a.While, env)
		if err != nil || !ok {
			return
		}
	}

	nowSeconds := elapsedSeconds(start, e.Now())
	completedLoops := 0
	if everySeconds > 0 {
		completedLoops = int((nowSeconds - e.resolveDelaySeconds(a)) / everySeconds)
	}
	if maxSeconds > 0 && float64(completedLoops)*everySeconds >= maxSeconds {
		return
	}

	for _, inner := range a.Actions {
		innerDelay := e.resolveDelaySeconds(domain.Action{Raw: inner.Raw})
		if everySeconds > 0 && innerDelay > everySeconds {
			key := jobName + ":" + inner.Raw
			if !e.repeatWarned[key] {
				log.Printf("[profile] repeat inner action hours_elapsed=%v exceeds repeat_every_hours, skipping", inner.Raw)
				e.repeatWarned[key] = true
			}
			continue
		}
		e.enqueueAction(unit, jobName, domain.Action{
			Kind:            inner.Kind,
			Raw:             inner.Raw,
			If:              inner.If,
			Options:         inner.Options,
			Args:            inner.Args,
			ConfigOverrides: inner.ConfigOverrides,
		}, start, nowSeconds/3600)
	}

	if everySeconds > 0 {
		e.sched.Enqueue(nowSeconds+everySeconds, domain.ActionRepeat.Priority(), func() {
			e.fireRepeat(unit, jobName, a, start, env)
		})
	}
}

// fireWhen evaluates `condition`; true enqueues the inner actions
// immediately, false reschedules itself at a default polling cadence.
func (e *Engine) fireWhen(unit, jobName string, a domain.Action, start time.Time, env expr.Env) {
	ok, err := expr.EvalBoolString(a.Condition, env)
	if err != nil {
		log.Printf("[profile] when condition error for %s/%s: %v", unit, jobName, err)
		return
	}
	if !ok {
		const pollSeconds = 10
		e.sched.Enqueue(elapsedSeconds(start, e.Now())+pollSeconds, domain.ActionWhen.Priority(), func() {
			e.fireWhen(unit, jobName, a, start, env)
		})
		return
	}
	for _, inner := range a.WhenActions {
		e.enqueueAction(unit, jobName, inner, start, 0)
	}
}

func (e *Engine) resolveTimeLiteral(raw string) float64 {
	if raw == "" {
		return 0
	}
	secs, err := expr.TimeToSeconds(raw)
	if err != nil {
		return 0
	}
	return secs
}

// cancel implements spec.md §4.I cancellation: stop draining, kill
// every job this run started, and log a summary.
func (e *Engine) cancel() error {
	e.neverStarted = e.sched.Drain()
	if e.JobManager != nil {
		if _, err := e.JobManager.KillJobs(domain.JobFilter{Experiment: e.Experiment, JobSource: e.Source}); err != nil {
			return fmt.Errorf("kill_jobs on cancel: %w", err)
		}
	}
	log.Printf("[profile] cancelled: started=%d skipped=%d never_started=%d", e.startedCount, e.skippedCount, e.neverStarted)
	return context.Canceled
}

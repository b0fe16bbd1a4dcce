// Package profile implements the Experiment Profile Engine (spec.md
// §4.I): YAML loading and verification, a single-threaded cooperative
// priority scheduler, expression-driven dispatch of actions to the bus
// and HTTP worker APIs, and graceful cancellation via kill_jobs.
package profile

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/expr"
)

// controllerJobs are the jobs whose lifecycle is a long-running state
// machine, not a fire-and-forget action; `update` on these requires
// automation_name (spec.md §4.I verification rule 2).
var controllerJobs = map[string]bool{
	"temperature_control": true,
	"dosing_control":      true,
	"led_control":         true,
}

// Load decodes a YAML document into a Profile. yaml.v3's strict decoder
// rejects unknown fields, matching spec.md §6 "forbids unknown fields
// at each level".
func Load(data []byte) (*domain.Profile, error) {
	var p domain.Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode experiment profile: %w", err)
	}
	return &p, nil
}

// InstalledPlugins reports plugin name -> installed version, supplied
// by the caller (the plugin registry, spec.md's supplemented
// GET /api/plugins endpoint).
type InstalledPlugins map[string]string

// Verify applies spec.md §4.I's verification rules. It does not mutate
// p.
func Verify(p *domain.Profile, installed InstalledPlugins) error {
	for _, pc := range p.Plugins {
		version, ok := installed[pc.Name]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrPluginMissing, pc.Name)
		}
		if !satisfiesConstraint(version, pc.VersionConstraint) {
			return fmt.Errorf("%w: %s requires %s, installed %s", domain.ErrPluginVersionMismatch, pc.Name, pc.VersionConstraint, version)
		}
	}

	var verifyJobSet func(jobName string, actions []domain.Action) error
	verifyJobSet = func(jobName string, actions []domain.Action) error {
		isAutomationJob := strings.HasSuffix(jobName, "_automation")
		for _, a := range actions {
			if isAutomationJob && (a.Kind == domain.ActionStart || a.Kind == domain.ActionStop) {
				return fmt.Errorf("%w: job %s", domain.ErrReservedAction, jobName)
			}
			if controllerJobs[jobName] && a.Kind == domain.ActionUpdate {
				if _, ok := a.Options["automation_name"]; !ok {
					return fmt.Errorf("%w: job %s", domain.ErrMissingAutomationName, jobName)
				}
			}
			if err := verifyExpr(a.If); err != nil {
				return err
			}
			if err := verifyExpr(a.While); err != nil {
				return err
			}
			if a.Kind == domain.ActionRepeat {
				for _, inner := range a.Actions {
					if err := verifyExpr(inner.If); err != nil {
						return err
					}
				}
			}
			if a.Kind == domain.ActionWhen {
				if err := verifyExpr(a.Condition); err != nil {
					return err
				}
				if err := verifyJobSet(jobName, a.WhenActions); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for jobName, ja := range p.Common.Jobs {
		if err := verifyJobSet(jobName, ja.Actions); err != nil {
			return err
		}
	}
	for unit, block := range p.Pioreactors {
		for jobName, ja := range block.Jobs {
			if err := verifyJobSet(jobName, ja.Actions); err != nil {
				return fmt.Errorf("unit %s: %w", unit, err)
			}
		}
	}
	return nil
}

// verifyExpr lexes/parses cond (with `::` substitution already legal at
// the token level) and reports a SyntaxError as domain.ErrSyntax.
func verifyExpr(cond string) error {
	if strings.TrimSpace(cond) == "" {
		return nil
	}
	if _, err := expr.Parse(cond); err != nil {
		return err
	}
	return nil
}

// satisfiesConstraint checks a "==1.2.3" / ">=1.2.3" / "<=1.2.3"
// version constraint against a dotted installed version, comparing
// segments numerically when both are integers and as strings otherwise.
func satisfiesConstraint(installed, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	for _, op := range []string{"==", ">=", "<="} {
		if strings.HasPrefix(constraint, op) {
			want := strings.TrimSpace(strings.TrimPrefix(constraint, op))
			cmp := compareVersions(installed, want)
			switch op {
			case "==":
				return cmp == 0
			case ">=":
				return cmp >= 0
			case "<=":
				return cmp <= 0
			}
		}
	}
	return installed == constraint
}

func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aErr := strconv.Atoi(av)
		bn, bErr := strconv.Atoi(bv)
		if aErr == nil && bErr == nil {
			if an < bn {
				return -1
			}
			if an > bn {
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

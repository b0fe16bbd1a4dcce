// Package calibration implements on-disk calibration storage
// (spec.md §4.F): YAML load/save per device/name, active-calibration
// lookup via the KV store, and the curve math (polynomial/spline/akima
// evaluation, linear regression, and y_to_x root-finding) every OD and
// pump job depends on.
package calibration

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

// Store resolves calibration YAML files under root and tracks the
// active-calibration KV scope.
type Store struct {
	root string
	kv   *kvstore.Store
}

// NewStore builds a Store rooted at <root>, e.g. <DOT_PIOREACTOR>/storage/calibrations.
func NewStore(root string, kv *kvstore.Store) *Store {
	return &Store{root: root, kv: kv}
}

func (s *Store) path(device domain.Device, name string) string {
	return filepath.Join(s.root, string(device), name+".yaml")
}

// Load reads <root>/<device>/<name>.yaml.
func (s *Store) Load(device domain.Device, name string) (*domain.Calibration, error) {
	path := s.path(device, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrCalibrationNotFound
		}
		return nil, fmt.Errorf("read calibration %s/%s: %w", device, name, err)
	}
	if len(data) == 0 {
		return nil, domain.ErrCalibrationEmpty
	}

	data, err = migrateLegacyCurveData(data)
	if err != nil {
		return nil, fmt.Errorf("migrate legacy calibration %s/%s: %w", device, name, err)
	}

	var cal domain.Calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("decode calibration %s/%s: %w", device, name, err)
	}
	return &cal, nil
}

// migrateLegacyCurveData detects the legacy curve_data_ shapes (a bare
// coefficients list, or a dict tagged "PolyFitCoefficients"/
// "SplineFitData" instead of "poly"/"spline") and rewrites the record via
// MigrateCurveData before the real decode runs.
func migrateLegacyCurveData(data []byte) ([]byte, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return data, nil // let the real decode surface the error
	}
	curveRaw, present := raw["curve_data_"]
	if !present {
		return data, nil
	}

	needsMigration := false
	switch v := curveRaw.(type) {
	case []any:
		needsMigration = true
	case map[string]any:
		tag, _ := v["type"].(string)
		if tag != string(domain.CurvePoly) && tag != string(domain.CurveSpline) && tag != string(domain.CurveAkima) {
			needsMigration = true
		}
	}
	if !needsMigration {
		return data, nil
	}

	curveTypeHint, _ := raw["curve_type"].(string)
	raw["curve_data_"] = MigrateCurveData(curveRaw, curveTypeHint)
	delete(raw, "curve_type")
	return yaml.Marshal(raw)
}

// Save writes cal atomically to <root>/<device>/<name>.yaml, creating
// parent directories as needed. Calibrations are immutable after save
// (spec.md §3); callers must not Save over an existing name.
func (s *Store) Save(cal domain.Calibration) error {
	path := s.path(cal.Device, cal.CalibrationName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}

	data, err := yaml.Marshal(cal)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SetActive records name as the active calibration for device.
func (s *Store) SetActive(device domain.Device, name string) error {
	return s.kv.Put(kvstore.ScopeActiveCalibrations, string(device), []byte(name))
}

// LoadActive reads the active-calibration KV entry for device and
// delegates to Load.
func (s *Store) LoadActive(device domain.Device) (*domain.Calibration, error) {
	name, ok, err := s.kv.Get(kvstore.ScopeActiveCalibrations, string(device))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrCalibrationMissing
	}
	return s.Load(device, string(name))
}

// ActiveCalibrations returns every device with a designated active
// calibration.
func (s *Store) ActiveCalibrations() (domain.ActiveCalibrations, error) {
	keys, err := s.kv.Keys(kvstore.ScopeActiveCalibrations)
	if err != nil {
		return nil, err
	}
	out := make(domain.ActiveCalibrations, len(keys))
	for _, k := range keys {
		v, ok, err := s.kv.Get(kvstore.ScopeActiveCalibrations, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[domain.Device(k)] = string(v)
		}
	}
	return out, nil
}

// MigrateCurveData upgrades a legacy curve_data_ value into the current
// tagged-union shape, grounded on
// original_source/core/update_scripts/upcoming/calibration_curve_data_migration.py.
// curveData is the raw decoded value of the "curve_data_" key, which in
// legacy files is either a bare list (curveTypeHint, or the list shape
// itself, says poly vs. spline) or a dict tagged "PolyFitCoefficients"/
// "SplineFitData" instead of "poly"/"spline". curveTypeHint is the
// sibling top-level "curve_type" key, if the file had one; it is dropped
// from the record once migration completes.
func MigrateCurveData(curveData any, curveTypeHint string) domain.CurveData {
	switch v := curveData.(type) {
	case []any:
		curveType := curveTypeHint
		if curveType == "" {
			curveType = inferCurveTypeFromList(v)
		}
		if curveType == "spline" && len(v) == 2 {
			knots, _ := v[0].([]any)
			coeffRows, _ := v[1].([]any)
			return domain.CurveData{Type: domain.CurveSpline, Knots: coerceFloatList(knots), Coefficients: coerceFloatMatrix(coeffRows)}
		}
		return domain.CurveData{Type: domain.CurvePoly, Coefficients: [][]float64{coerceFloatList(v)}}

	case map[string]any:
		tag, _ := v["type"].(string)
		switch tag {
		case "SplineFitData":
			knots, _ := v["knots"].([]any)
			coeffRows, _ := v["coefficients"].([]any)
			return domain.CurveData{Type: domain.CurveSpline, Knots: coerceFloatList(knots), Coefficients: coerceFloatMatrix(coeffRows)}
		default:
			// "PolyFitCoefficients", or any other/missing legacy tag: poly.
			coeffRows, _ := v["coefficients"].([]any)
			return domain.CurveData{Type: domain.CurvePoly, Coefficients: coerceFloatMatrix(coeffRows)}
		}
	}
	return domain.CurveData{Type: domain.CurvePoly}
}

func inferCurveTypeFromList(v []any) string {
	if len(v) == 2 {
		_, firstIsList := v[0].([]any)
		_, secondIsList := v[1].([]any)
		if firstIsList && secondIsList {
			return "spline"
		}
	}
	return "poly"
}

func coerceFloatList(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func coerceFloatMatrix(rows []any) [][]float64 {
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if r, ok := row.([]any); ok {
			out = append(out, coerceFloatList(r))
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

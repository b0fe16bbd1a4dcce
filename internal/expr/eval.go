package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pioreactor/pio/internal/domain"
)

// Value is the dynamically-typed runtime value: float64, string, or bool.
type Value struct {
	Num    float64
	Str    string
	Bool   bool
	IsStr  bool
	IsBool bool
}

func num(n float64) Value  { return Value{Num: n} }
func str(s string) Value   { return Value{Str: s, IsStr: true} }
func boolean(b bool) Value { return Value{Bool: b, IsBool: true} }

// Truthy applies Python-like truthiness: nonzero numbers, non-empty
// strings, and true booleans are truthy.
func (v Value) Truthy() bool {
	switch {
	case v.IsBool:
		return v.Bool
	case v.IsStr:
		return v.Str != ""
	default:
		return v.Num != 0
	}
}

func (v Value) String() string {
	switch {
	case v.IsBool:
		return strconv.FormatBool(v.Bool)
	case v.IsStr:
		return v.Str
	default:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
}

// Fetcher performs the retained-topic lookup an MQTT fetch token needs:
// `unit()`, `::job:setting` etc resolve against the bus via this
// interface so package expr has no bus dependency of its own.
type Fetcher interface {
	// Fetch returns the retained payload at pioreactor/<unit>/<experiment>/<job>/<setting>,
	// or domain.ErrMQTTValue if none arrives within the timeout.
	Fetch(unit, job, setting string) ([]byte, error)
}

// Env supplies the evaluation context: the current unit/experiment/job
// (for `unit()` etc and `::` substitution) and a Fetcher for MQTT
// tokens.
type Env struct {
	Unit         string
	Experiment   string
	JobName      string
	HoursElapsed float64
	Fetcher      Fetcher
}

// Eval walks node and returns its value against env.
func Eval(node Node, env Env) (Value, error) {
	switch n := node.(type) {
	case numberNode:
		return num(n.value), nil
	case stringNode:
		return str(n.value), nil
	case boolNode:
		return boolean(n.value), nil
	case identNode:
		// Unknown identifiers evaluate to themselves as bare string
		// literals (spec.md §4.H semantics).
		return str(n.name), nil
	case mqttFetchNode:
		return evalMQTTFetch(n.raw, env)
	case unaryNode:
		return evalUnary(n, env)
	case binaryNode:
		return evalBinary(n, env)
	case callNode:
		return evalCall(n, env)
	}
	return Value{}, fmt.Errorf("%w: unknown node %T", errSyntax, node)
}

func evalUnary(n unaryNode, env Env) (Value, error) {
	v, err := Eval(n.expr, env)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case tokMinus:
		return num(-v.Num), nil
	case tokNot:
		return boolean(!v.Truthy()), nil
	}
	return Value{}, fmt.Errorf("%w: bad unary operator", errSyntax)
}

func evalBinary(n binaryNode, env Env) (Value, error) {
	// Short-circuit boolean operators (spec.md §4.H).
	if n.op == tokAnd {
		left, err := Eval(n.left, env)
		if err != nil {
			return Value{}, err
		}
		if !left.Truthy() {
			return boolean(false), nil
		}
		right, err := Eval(n.right, env)
		if err != nil {
			return Value{}, err
		}
		return boolean(right.Truthy()), nil
	}
	if n.op == tokOr {
		left, err := Eval(n.left, env)
		if err != nil {
			return Value{}, err
		}
		if left.Truthy() {
			return boolean(true), nil
		}
		right, err := Eval(n.right, env)
		if err != nil {
			return Value{}, err
		}
		return boolean(right.Truthy()), nil
	}

	left, err := Eval(n.left, env)
	if err != nil {
		return Value{}, err
	}
	right, err := Eval(n.right, env)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case tokPlus:
		if left.IsStr || right.IsStr {
			return str(left.String() + right.String()), nil
		}
		return num(left.Num + right.Num), nil
	case tokMinus:
		return num(left.Num - right.Num), nil
	case tokStar:
		return num(left.Num * right.Num), nil
	case tokSlash:
		if right.Num == 0 {
			return Value{}, domain.ErrDivisionByZero
		}
		return num(left.Num / right.Num), nil
	case tokPow:
		return num(math.Pow(left.Num, right.Num)), nil
	case tokEq:
		return boolean(valuesEqual(left, right)), nil
	case tokLt:
		return boolean(compare(left, right) < 0), nil
	case tokGt:
		return boolean(compare(left, right) > 0), nil
	case tokLe:
		return boolean(compare(left, right) <= 0), nil
	case tokGe:
		return boolean(compare(left, right) >= 0), nil
	}
	return Value{}, fmt.Errorf("%w: bad binary operator", errSyntax)
}

func valuesEqual(a, b Value) bool {
	if a.IsStr || b.IsStr {
		return a.String() == b.String()
	}
	if a.IsBool || b.IsBool {
		return a.Truthy() == b.Truthy()
	}
	return a.Num == b.Num
}

func compare(a, b Value) int {
	if a.IsStr || b.IsStr {
		return strings.Compare(a.String(), b.String())
	}
	switch {
	case a.Num < b.Num:
		return -1
	case a.Num > b.Num:
		return 1
	default:
		return 0
	}
}

func evalCall(n callNode, env Env) (Value, error) {
	switch n.name {
	case "random":
		return num(rand.Float64()), nil
	case "unit":
		return str(env.Unit), nil
	case "experiment":
		return str(env.Experiment), nil
	case "job_name":
		return str(env.JobName), nil
	case "hours_elapsed":
		return num(env.HoursElapsed), nil
	}
	return Value{}, fmt.Errorf("%w: %s", domain.ErrUnknownFunction, n.name)
}

// evalMQTTFetch resolves `UNIT:JOB:SETTING[.path...]` and
// `::JOB:SETTING[.path...]` tokens (spec.md §4.H). `::` is replaced by
// env.Unit before lookup.
func evalMQTTFetch(raw string, env Env) (Value, error) {
	token := raw
	if strings.HasPrefix(token, "::") {
		token = env.Unit + token[1:]
	}

	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return Value{}, fmt.Errorf("%w: malformed mqtt token %q", errSyntax, raw)
	}
	unit, job, settingAndPath := parts[0], parts[1], parts[2]

	settingParts := strings.Split(settingAndPath, ".")
	setting := settingParts[0]
	path := settingParts[1:]

	if env.Fetcher == nil {
		return Value{}, domain.ErrMQTTValue
	}
	payload, err := env.Fetcher.Fetch(unit, job, setting)
	if err != nil {
		return Value{}, domain.ErrMQTTValue
	}

	return resolvePath(payload, path)
}

func resolvePath(payload []byte, path []string) (Value, error) {
	var asJSON any
	if err := json.Unmarshal(payload, &asJSON); err != nil {
		// Not JSON: return the raw string, ignoring any path (spec.md:
		// "parse as JSON if possible").
		return str(string(payload)), nil
	}

	cur := asJSON
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return Value{}, domain.ErrMQTTValue
		}
		v, ok := m[key]
		if !ok {
			return Value{}, domain.ErrMQTTValue
		}
		cur = v
	}

	switch v := cur.(type) {
	case float64:
		return num(v), nil
	case string:
		return str(v), nil
	case bool:
		return boolean(v), nil
	default:
		encoded, _ := json.Marshal(v)
		return str(string(encoded)), nil
	}
}

// TimeToSeconds implements spec.md §4.I "time literals": a bare number
// is hours; a string "<n><unit>" with unit in {s,m,h,d} is that unit.
// Whitespace and negative values are rejected.
func TimeToSeconds(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("%w: negative time literal", errSyntax)
		}
		return t * 3600, nil
	case int:
		return TimeToSeconds(float64(t))
	case string:
		if strings.TrimSpace(t) != t || t == "" {
			return 0, fmt.Errorf("%w: malformed time literal %q", errSyntax, t)
		}
		unit := t[len(t)-1]
		numberPart := t[:len(t)-1]
		n, err := strconv.ParseFloat(numberPart, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: malformed time literal %q", errSyntax, t)
		}
		var mult float64
		switch unit {
		case 's':
			mult = 1
		case 'm':
			mult = 60
		case 'h':
			mult = 3600
		case 'd':
			mult = 86400
		default:
			return 0, fmt.Errorf("%w: unknown time unit in %q", errSyntax, t)
		}
		return n * mult, nil
	default:
		return 0, fmt.Errorf("%w: unsupported time literal type %T", errSyntax, v)
	}
}

// EvalBoolString is a convenience entry point for `if`/`while` fields:
// parse src, evaluate, and coerce to bool.
func EvalBoolString(src string, env Env) (bool, error) {
	node, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := Eval(node, env)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

package expr

import (
	"testing"

	"github.com/pioreactor/pio/internal/domain"
)

func evalSrc(t *testing.T, src string, env Env) Value {
	t.Helper()
	node, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	v, err := Eval(node, env)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	v := evalSrc(t, "2 + 3 * 4", Env{})
	if v.Num != 14 {
		t.Fatalf("expected 14, got %v", v.Num)
	}
	v = evalSrc(t, "2 ** 3 ** 2", Env{}) // right-associative: 2**(3**2) = 512
	if v.Num != 512 {
		t.Fatalf("expected 512, got %v", v.Num)
	}
}

func TestDivisionByZero(t *testing.T) {
	node, err := Parse("1 / 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = Eval(node, Env{})
	if err != domain.ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestBooleanShortCircuit(t *testing.T) {
	v := evalSrc(t, "false and (1/0 == 0)", Env{})
	if v.Truthy() {
		t.Fatal("expected false from short-circuited and")
	}
	v = evalSrc(t, "true or (1/0 == 0)", Env{})
	if !v.Truthy() {
		t.Fatal("expected true from short-circuited or")
	}
}

func TestComparisonOperators(t *testing.T) {
	if !evalSrc(t, "3 > 2", Env{}).Truthy() {
		t.Fatal("expected 3 > 2")
	}
	if !evalSrc(t, "2 <= 2", Env{}).Truthy() {
		t.Fatal("expected 2 <= 2")
	}
}

func TestBuiltinFunctions(t *testing.T) {
	env := Env{Unit: "unit1", Experiment: "exp1", JobName: "stirring", HoursElapsed: 2.5}
	if evalSrc(t, "unit()", env).Str != "unit1" {
		t.Fatal("expected unit() == unit1")
	}
	if evalSrc(t, "hours_elapsed()", env).Num != 2.5 {
		t.Fatal("expected hours_elapsed() == 2.5")
	}
}

func TestUnknownIdentifierEvaluatesToItself(t *testing.T) {
	v := evalSrc(t, "some_bare_word", Env{})
	if !v.IsStr || v.Str != "some_bare_word" {
		t.Fatalf("expected bare identifier to evaluate to itself, got %+v", v)
	}
}

type stubFetcher struct {
	payload []byte
	err     error
}

func (s stubFetcher) Fetch(unit, job, setting string) ([]byte, error) {
	return s.payload, s.err
}

func TestMQTTFetchWithPathWalk(t *testing.T) {
	env := Env{Unit: "unit1", Fetcher: stubFetcher{payload: []byte(`{"target":{"temperature":30.5}}`)}}
	v := evalSrc(t, "unit1:heating:settings.target.temperature", env)
	if v.Num != 30.5 {
		t.Fatalf("expected 30.5, got %+v", v)
	}
}

func TestMQTTFetchDoubleColonUsesCurrentUnit(t *testing.T) {
	env := Env{Unit: "unit2", Fetcher: stubFetcher{payload: []byte(`42`)}}
	v := evalSrc(t, "::heating:target_temperature", env)
	if v.Num != 42 {
		t.Fatalf("expected 42, got %+v", v)
	}
}

func TestMQTTFetchTimeoutRaisesFatalError(t *testing.T) {
	env := Env{Unit: "unit1", Fetcher: stubFetcher{err: domain.ErrSubscribeTimeout}}
	node, err := Parse("unit1:heating:target_temperature")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Eval(node, env); err != domain.ErrMQTTValue {
		t.Fatalf("expected ErrMQTTValue, got %v", err)
	}
}

func TestTimeToSecondsParsesUnitsAndRejectsNegatives(t *testing.T) {
	cases := map[string]float64{"30s": 30, "5m": 300, "2h": 7200, "1d": 86400}
	for in, want := range cases {
		got, err := TimeToSeconds(in)
		if err != nil {
			t.Fatalf("TimeToSeconds(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("TimeToSeconds(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := TimeToSeconds("-5m"); err == nil {
		t.Fatal("expected error for negative time literal")
	}
	if _, err := TimeToSeconds(" 5m"); err == nil {
		t.Fatal("expected error for whitespace in time literal")
	}
	if got, err := TimeToSeconds(1.5); err != nil || got != 5400 {
		t.Fatalf("TimeToSeconds(1.5) = %v, %v, want 5400", got, err)
	}
}

package kvstore

import "testing"

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Put(ScopeActiveCalibrations, "od90", []byte("standards-2024-01")); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, ok, err := s.Get(ScopeActiveCalibrations, "od90")
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if string(v) != "standards-2024-01" {
		t.Fatalf("got %q", v)
	}

	if err := s.Delete(ScopeActiveCalibrations, "od90"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ScopeActiveCalibrations, "od90"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestKeysOrderedAndScopeIsolated(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := s.Put(ScopeODCalibrations, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	_ = s.Put(ScopePumpThroughput, "alpha", []byte("other-scope"))

	keys, err := s.Keys(ScopeODCalibrations)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

package httpapi

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWorkerHealthTripsAfterRepeatedFailures(t *testing.T) {
	h := newWorkerHealth()
	if err := h.allow("unit1"); err != nil {
		t.Fatalf("expected first call to be allowed, got %v", err)
	}

	for i := 0; i < 5; i++ {
		h.recordResult("unit1", 0, fmt.Errorf("dial failed"))
	}

	if err := h.allow("unit1"); err == nil {
		t.Fatal("expected circuit to be open after repeated failures")
	}
}

func TestWorkerHealthRecoversOnSuccess(t *testing.T) {
	h := newWorkerHealth()
	h.recordResult("unit1", http.StatusOK, nil)
	if err := h.allow("unit1"); err != nil {
		t.Fatalf("expected healthy unit to be allowed, got %v", err)
	}
}

func TestWorkerHealthIsolatedPerUnit(t *testing.T) {
	h := newWorkerHealth()
	for i := 0; i < 5; i++ {
		h.recordResult("unit1", 0, fmt.Errorf("dial failed"))
	}
	if err := h.allow("unit2"); err != nil {
		t.Fatalf("unit2 should be unaffected by unit1's failures, got %v", err)
	}
}

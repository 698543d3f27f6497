package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/etasfit/internal/monitoring"
)

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}

func TestAssertFinite(t *testing.T) {
	AssertFinite(t, "zero", 0)
	AssertFinite(t, "large", math.MaxFloat64)
}

func TestAssertRelDelta(t *testing.T) {
	AssertRelDelta(t, "rel", 100, 100.5, 0.01)
	AssertRelDelta(t, "abs", 0, 1e-9, 1e-8)
}

func TestCaptureLogs(t *testing.T) {
	lines := CaptureLogs(t)
	monitoring.Logf("regime %s", "NORTH")
	if len(*lines) != 1 || (*lines)[0] != "regime NORTH" {
		t.Fatalf("captured %q", *lines)
	}
}

func TestMuteLogs(t *testing.T) {
	lines := CaptureLogs(t)
	t.Run("muted", func(t *testing.T) {
		MuteLogs(t)
		monitoring.Logf("hidden")
	})
	monitoring.Logf("visible")
	if len(*lines) != 1 || (*lines)[0] != "visible" {
		t.Fatalf("captured %q", *lines)
	}
}

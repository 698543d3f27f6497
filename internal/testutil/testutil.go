// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"fmt"
	"math"
	"testing"

	"github.com/banshee-data/etasfit/internal/monitoring"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertFinite fails the test if v is NaN or infinite.
func AssertFinite(t testing.TB, name string, v float64) {
	t.Helper()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("%s = %v, want a finite value", name, v)
	}
}

// AssertRelDelta fails the test if got differs from want by more than tol
// relative to the magnitude of want, or absolutely when want is zero.
func AssertRelDelta(t testing.TB, name string, want, got, tol float64) {
	t.Helper()
	diff := math.Abs(want - got)
	if want != 0 {
		diff /= math.Abs(want)
	}
	if diff > tol {
		t.Errorf("%s = %v, want %v (rel diff %.3g > %.3g)", name, got, want, diff, tol)
	}
}

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// CaptureLogs redirects the monitoring logger into the returned slice for
// the duration of the test.
func CaptureLogs(t testing.TB) *[]string {
	t.Helper()
	orig := monitoring.Logf
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = orig })
	return &lines
}

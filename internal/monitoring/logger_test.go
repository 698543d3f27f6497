package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	wasVerbose := Verbose()
	t.Cleanup(func() {
		Logf = original
		SetVerbose(wasVerbose)
	})
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)

	Logf("prior %s", "ready")
	assert.Equal(t, []string{"prior ready"}, *lines)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1)
}

func TestDebugf(t *testing.T) {
	lines := capture(t)

	SetVerbose(false)
	Debugf("hidden")
	assert.Empty(t, *lines)

	SetVerbose(true)
	assert.True(t, Verbose())
	Debugf("voxel %d", 3)
	assert.Equal(t, []string{"voxel 3"}, *lines)
}

func TestStage(t *testing.T) {
	lines := capture(t)
	SetVerbose(true)

	Stage("pass 1")()
	if assert.Len(t, *lines, 2) {
		assert.Equal(t, "[pass 1] start", (*lines)[0])
		assert.Contains(t, (*lines)[1], "[pass 1] done in")
	}
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
}

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: WarnLevel, Format: TextFormat, Output: &buf})

	l.Infof("should not appear")
	l.Warnf("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestLogger_JSONFieldsAndSanitization(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: DebugLevel, Format: JSONFormat, Output: &buf, EnableSanitizing: true}).
		WithComponent("executor").
		WithField("threadID", 3).
		WithField("password", "hunter2")

	l.Errorf("worker exited")

	var e entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e))
	assert.Equal(t, "ERROR", e.Level)
	assert.Equal(t, "executor", e.Component)
	assert.Equal(t, float64(3), e.Fields["threadID"])
	assert.Equal(t, "[REDACTED]", e.Fields["password"])
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: DebugLevel, Format: TextFormat, Output: &buf})
	derived := base.WithField("sessionID", 7)

	base.Infof("base line")
	derived.Infof("derived line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "sessionID")
	assert.Contains(t, lines[1], "sessionID=7")
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		ok       bool
	}{
		{"ERROR", LevelError, true},
		{"warn", LevelWarn, true},
		{"Info", LevelInfo, true},
		{"DEBUG", LevelDebug, true},
		{"trace", LevelTrace, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "TEST")

	l.Debug("hidden %d", 1)
	l.Info("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "[INFO] shown 2")

	l.SetLevel(LevelTrace)
	l.Trace("now visible")
	assert.Contains(t, buf.String(), "[TRACE] now visible")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&buf, "TEST")
	child := parent.WithPrefix("dispatch")

	child.Debug("before")
	parent.SetLevel(LevelDebug)
	child.Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "(dispatch) after")
	assert.True(t, strings.HasPrefix(out, "TEST: "))
	assert.Equal(t, LevelDebug, child.Level())
}

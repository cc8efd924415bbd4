package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DebugLevel).WithFields(Fields{"stage": "beat"})

	l.Debug("clusters grouped", Fields{"clusters": 12})

	out := buf.String()
	assert.Contains(t, out, "clusters grouped")
	assert.Contains(t, out, "stage=beat")
	assert.Contains(t, out, "clusters=12")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WarnLevel)

	l.Info("hidden")
	l.Error(errors.New("boom"), "visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "boom")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

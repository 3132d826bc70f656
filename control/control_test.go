// File: control/control_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilRegistererIsNoop(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
	m.EndpointCreated("tcp")
	m.EndpointRemoved()
	m.PollCompleted(1, time.Millisecond, nil)
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.EndpointCreated("tcp")
	m.EndpointCreated("tcp")
	m.EndpointCreated("shm")
	m.EndpointRemoved()
	m.PollCompleted(2, time.Millisecond, nil)
	m.PollCompleted(0, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.endpoints))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.created.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.created.WithLabelValues("shm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.removed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pollReady))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	l.Debug("hello", "handle", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, 7.0, rec["handle"])

	buf.Reset()
	l, err = NewLogger(&buf, "warn", "")
	require.NoError(t, err)
	l.Info("dropped")
	assert.Zero(t, buf.Len())

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	calls := 0
	dp.Register("b", func() any { calls++; return 2 })
	dp.Register("a", func() any { return "zero" })
	dp.Register("a", func() any { return "one" })
	assert.Equal(t, map[string]any{"a": "one", "b": 2}, dp.Sample())

	var buf bytes.Buffer
	l, err := NewLogger(&buf, "info", "text")
	require.NoError(t, err)
	before := calls
	l.Info("state", "probes", dp)
	assert.Contains(t, buf.String(), "probes.a=one probes.b=2")
	assert.Equal(t, before+1, calls, "probes are sampled when the record is logged")

	buf.Reset()
	l.Debug("hidden", "probes", dp)
	assert.Empty(t, buf.String())
	assert.Equal(t, before+1, calls, "disabled records do not sample")
}

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_DisabledIsNoop(t *testing.T) {
	m, err := NewManager(TracerConfig{})
	require.NoError(t, err)

	ctx, span := m.StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	span.End()

	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_Enabled(t *testing.T) {
	m, err := NewManager(TracerConfig{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	_, span := m.StartSpan(context.Background(), "test-span")
	span.End()
	assert.NotNil(t, m.Tracer())
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg, "test")

	r.TaskFinished("completed", time.Second)
	r.TaskFinished("budget_exhausted", time.Second)
	r.ToolInvoked("echo", true)
	r.ToolInvoked("echo", false)
	r.Routed("slm", "ollama")

	assert.InDelta(t, 1, testutil.ToFloat64(r.tasksTotal.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.budgetExhaustions), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.toolInvocations.WithLabelValues("echo", "failure")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.routingDecisions.WithLabelValues("slm", "ollama")), 1e-9)
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.TaskFinished("completed", time.Second)
	r.ToolInvoked("echo", true)
	r.Routed("slm", "ollama")
}

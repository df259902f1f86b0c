package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/matchops/local-sync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Path:     "/metrics",
		Interval: 10,
	}

	manager := NewManager(cfg)
	require.NotNil(t, manager)

	// Manager is not started yet, so it's not healthy
	assert.False(t, manager.IsHealthy())
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable: false,
	}

	manager := NewManager(cfg)
	require.NotNil(t, manager)

	// Disabled manager should be noop
	_, ok := manager.(*noopManager)
	assert.True(t, ok, "disabled manager should be noopManager")
}

func TestRecordHTTPRequest(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Record successful request
	manager.RecordHTTPRequest("GET", "/api/v1/status", "200", 100*time.Millisecond)

	// Verify counters updated
	assert.Greater(t, manager.totalRequests, uint64(0))
	assert.Equal(t, manager.totalErrors, uint64(0))
}

func TestRecordHTTPRequest_Error(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Record error request
	manager.RecordHTTPRequest("GET", "/api/v1/status", "500", 100*time.Millisecond)

	// Verify error counter updated
	assert.Greater(t, manager.totalErrors, uint64(0))
}

func TestRecordHTTPRequestSize(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Should not panic
	manager.RecordHTTPRequestSize("POST", "/api/v1/queue", 1024)
}

func TestRecordHTTPResponseSize(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Should not panic
	manager.RecordHTTPResponseSize("GET", "/api/v1/queue", 2048)
}

func TestRecordQueueEnqueue(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordQueueEnqueue("PlayerAdjustment", "Upsert", false)
	manager.RecordQueueEnqueue("PlayerAdjustment", "Upsert", true)
}

func TestUpdateQueueMetrics(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.UpdateQueueMetrics(12, 3)
}

func TestRecordExecutorDispatch(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordExecutorDispatch("Roster", "Upsert", true, 50*time.Millisecond)
	manager.RecordExecutorDispatch("Roster", "Delete", false, 25*time.Millisecond)
}

func TestRecordExecutorError(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordExecutorError("TransientRemoteError")
	manager.RecordExecutorError("AuthLostError")
}

func TestRecordEngineStateTransition(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordEngineStateTransition("Idle", "Running")
}

func TestUpdateEngineState(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.UpdateEngineState("Running", true, true)
	manager.UpdateEngineState("Paused", false, false)
}

func TestRecordBulkPushEntry(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordBulkPushEntry("MatchEvent", true)
	manager.RecordBulkPushEntry("MatchEvent", false)
}

func TestRecordBulkPushOrphanRepair(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordBulkPushOrphanRepair("MatchEvent")
}

func TestUpdateSystemMetrics(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.UpdateSystemMetrics(50.5, 75.2, 60.0)
}

func TestRecordSystemEvent(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	details := map[string]string{
		"type":    "startup",
		"version": "0.4.2",
	}
	manager.RecordSystemEvent("daemon_started", details)
}

func TestRecordBackgroundTask(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.RecordBackgroundTask("metrics_aggregation", 2*time.Second, true)
}

func TestUpdateCacheMetrics(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	manager.UpdateCacheMetrics(0.85, 1024*1024*50)
}

func TestGetMetricsHandler(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	handler := manager.GetMetricsHandler()
	assert.NotNil(t, handler)
}

func TestGetMetricsSnapshot(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	snapshot, err := manager.GetMetricsSnapshot()
	require.NoError(t, err)
	assert.NotNil(t, snapshot)
	assert.Contains(t, snapshot, "timestamp")
	assert.Contains(t, snapshot, "namespace")
}

func TestGetSyncMetricsSnapshot(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Record some metrics first
	manager.RecordHTTPRequest("GET", "/api/v1/status", "200", 100*time.Millisecond)

	snapshot, err := manager.GetSyncMetricsSnapshot()
	require.NoError(t, err)
	assert.NotNil(t, snapshot)
	assert.Contains(t, snapshot, "totalRequests")
	assert.Contains(t, snapshot, "totalErrors")
	assert.Contains(t, snapshot, "avgLatency")
	assert.Contains(t, snapshot, "requestsPerSec")
}

func TestIsHealthy(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	// Before starting
	assert.False(t, manager.IsHealthy())

	// After starting
	ctx := context.Background()
	err := manager.Start(ctx)
	require.NoError(t, err)
	assert.True(t, manager.IsHealthy())

	// After stopping
	err = manager.Stop()
	require.NoError(t, err)
	assert.False(t, manager.IsHealthy())
}

func TestStartStop(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	ctx := context.Background()

	// Start
	err := manager.Start(ctx)
	require.NoError(t, err)

	// Try to start again (should error)
	err = manager.Start(ctx)
	assert.Error(t, err)

	// Stop
	err = manager.Stop()
	require.NoError(t, err)

	// Try to stop again (should error)
	err = manager.Stop()
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	middleware := manager.Middleware()
	assert.NotNil(t, middleware)
}

func TestReset(t *testing.T) {
	cfg := config.MetricsConfig{
		Enable:   true,
		Interval: 10,
	}

	manager := NewManager(cfg).(*metricsManager)
	require.NotNil(t, manager)

	err := manager.Reset()
	assert.NoError(t, err)
}

func TestNoopManager(t *testing.T) {
	noop := &noopManager{}

	// All methods should not panic
	noop.RecordHTTPRequest("GET", "/", "200", 0)
	noop.RecordHTTPRequestSize("GET", "/", 0)
	noop.RecordHTTPResponseSize("GET", "/", 0)
	noop.RecordQueueEnqueue("Roster", "Upsert", false)
	noop.UpdateQueueMetrics(0, 0)
	noop.RecordExecutorDispatch("Roster", "Upsert", true, 0)
	noop.RecordExecutorError("TransientRemoteError")
	noop.RecordEngineStateTransition("Idle", "Running")
	noop.UpdateEngineState("Running", true, true)
	noop.RecordBulkPushEntry("Roster", true)
	noop.RecordBulkPushOrphanRepair("Roster")
	noop.UpdateSystemMetrics(0, 0, 0)
	noop.RecordSystemEvent("event", nil)
	noop.RecordBackgroundTask("task", 0, true)
	noop.UpdateCacheMetrics(0, 0)

	assert.NotNil(t, noop.GetMetricsHandler())
	assert.True(t, noop.IsHealthy())
	assert.NoError(t, noop.Reset())
	assert.NoError(t, noop.Start(context.Background()))
	assert.NoError(t, noop.Stop())

	_, err := noop.GetMetricsSnapshot()
	assert.Error(t, err)

	snapshot, err := noop.GetSyncMetricsSnapshot()
	assert.NoError(t, err)
	assert.NotNil(t, snapshot)

	_, err = noop.GetHistoricalMetrics("system", time.Now(), time.Now())
	assert.Error(t, err)

	_, err = noop.GetHistoryStats()
	assert.Error(t, err)

	middleware := noop.Middleware()
	assert.NotNil(t, middleware)
}

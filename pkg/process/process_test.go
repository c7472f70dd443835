package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
)

func TestSpawnAndHandle(t *testing.T) {
	m := NewManager(Config{}, nil)
	agentID := ids.NewAgentID()

	handle, err := m.Spawn(context.Background(), Spec{
		AgentID: agentID,
		Command: "sh",
		Args:    []string{"-c", "echo ready; sleep 5"},
	})
	require.NoError(t, err)
	assert.Greater(t, handle.PID, 0)
	assert.Equal(t, agentID, handle.AgentID)

	require.NoError(t, m.Terminate(agentID, 2*time.Second))
}

func TestSpawnDuplicateAgentRejected(t *testing.T) {
	m := NewManager(Config{}, nil)
	agentID := ids.NewAgentID()

	_, err := m.Spawn(context.Background(), Spec{AgentID: agentID, Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	defer m.Terminate(agentID, time.Second)

	_, err = m.Spawn(context.Background(), Spec{AgentID: agentID, Command: "sh", Args: []string{"-c", "sleep 5"}})
	assert.Error(t, err)
}

func TestCrashTriggersRestart(t *testing.T) {
	m := NewManager(Config{}, nil)
	agentID := ids.NewAgentID()

	_, err := m.Spawn(context.Background(), Spec{
		AgentID:     agentID,
		Command:     "sh",
		Args:        []string{"-c", "exit 1"},
		MaxRestarts: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		handle, ok := m.Handle(agentID)
		return ok && handle.RestartCount >= 1
	}, 3*time.Second, 20*time.Millisecond)

	m.Terminate(agentID, time.Second)
}

func TestUnresponsiveDetection(t *testing.T) {
	m := NewManager(Config{}, nil)
	agentID := ids.NewAgentID()

	_, err := m.Spawn(context.Background(), Spec{AgentID: agentID, Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	defer m.Terminate(agentID, time.Second)

	stale := m.Unresponsive(0)
	assert.Contains(t, stale, agentID)

	stale = m.Unresponsive(time.Hour)
	assert.NotContains(t, stale, agentID)
}

func TestSpawnRejectsBeyondMaxConcurrent(t *testing.T) {
	m := NewManager(Config{MaxConcurrentProcesses: 1}, nil)
	first, second := ids.NewAgentID(), ids.NewAgentID()

	_, err := m.Spawn(context.Background(), Spec{AgentID: first, Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	defer m.Terminate(first, time.Second)

	_, err = m.Spawn(context.Background(), Spec{AgentID: second, Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
	assert.Equal(t, errs.KindResourceLimitExceeded, errs.Of(err))

	_, ok := m.Handle(second)
	assert.False(t, ok)
}

func TestUptimeCapTransitionsProcessOutOfRunning(t *testing.T) {
	m := NewManager(Config{
		MaxTaskDuration:      30 * time.Millisecond,
		HeartbeatInterval:    10 * time.Millisecond,
		TerminateGracePeriod: time.Second,
	}, nil)
	agentID := ids.NewAgentID()

	_, err := m.Spawn(context.Background(), Spec{AgentID: agentID, Command: "sh", Args: []string{"-c", "sleep 5"}})
	require.NoError(t, err)
	defer m.Terminate(agentID, time.Second)

	require.Eventually(t, func() bool {
		handle, ok := m.Handle(agentID)
		return ok && handle.State != model.ProcessRunning
	}, 3*time.Second, 10*time.Millisecond)
}

func TestExceedsLimitsChecksMemoryAndUptime(t *testing.T) {
	cfg := Config{MaxMemoryBytes: 100, MaxTaskDuration: time.Minute}

	_, exceeded := exceedsLimits(50, time.Second, cfg)
	assert.False(t, exceeded)

	_, exceeded = exceedsLimits(200, time.Second, cfg)
	assert.True(t, exceeded)

	_, exceeded = exceedsLimits(50, 2*time.Minute, cfg)
	assert.True(t, exceeded)
}

func TestExceedsLimitsIgnoresDisabledCaps(t *testing.T) {
	_, exceeded := exceedsLimits(1<<40, 365*24*time.Hour, Config{})
	assert.False(t, exceeded)
}

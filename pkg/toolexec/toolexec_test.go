package toolexec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/model"
)

func TestRunBatchRespectsDependencyOrder(t *testing.T) {
	e := New(4)

	var mu sync.Mutex
	var order []string
	run := func(_ context.Context, call model.ToolCall) (any, error) {
		mu.Lock()
		order = append(order, call.ToolID)
		mu.Unlock()
		return call.ToolID, nil
	}

	calls := []model.ToolCall{
		{ToolID: "read", Outputs: []string{"file_content"}},
		{ToolID: "analyze", Inputs: []string{"file_content"}, Outputs: []string{"findings"}},
		{ToolID: "report", Inputs: []string{"findings"}},
	}

	result, err := e.RunBatch(context.Background(), calls, run)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["read"], pos["analyze"])
	assert.Less(t, pos["analyze"], pos["report"])
}

func TestRunBatchDetectsCycle(t *testing.T) {
	e := New(4)
	calls := []model.ToolCall{
		{ToolID: "a", Inputs: []string{"b_out"}, Outputs: []string{"a_out"}},
		{ToolID: "b", Inputs: []string{"a_out"}, Outputs: []string{"b_out"}},
	}
	_, err := e.RunBatch(context.Background(), calls, func(context.Context, model.ToolCall) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestRunBatchIndependentCallsAllRun(t *testing.T) {
	e := New(2)
	calls := []model.ToolCall{
		{ToolID: "x"}, {ToolID: "y"}, {ToolID: "z"},
	}
	result, err := e.RunBatch(context.Background(), calls, func(_ context.Context, c model.ToolCall) (any, error) {
		return c.ToolID, nil
	})
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 3)
	for _, id := range []string{"x", "y", "z"} {
		assert.NoError(t, result.Outcomes[id].Err)
	}
}

func TestRunBatchReportsPositiveTimeSavedForIndependentCalls(t *testing.T) {
	e := New(3)
	calls := []model.ToolCall{{ToolID: "x"}, {ToolID: "y"}, {ToolID: "z"}}
	result, err := e.RunBatch(context.Background(), calls, func(_ context.Context, c model.ToolCall) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return c.ToolID, nil
	})
	require.NoError(t, err)
	assert.Greater(t, result.TimeSavedPercent, 0.0)
}

func TestTimeSavedPercentZeroWithNoOutcomes(t *testing.T) {
	assert.Equal(t, 0.0, timeSavedPercent(map[string]Outcome{}, time.Second))
}

func TestTimeSavedPercentClampsAtZeroWhenSlowerThanSequential(t *testing.T) {
	outcomes := map[string]Outcome{"a": {Duration: 10 * time.Millisecond}}
	assert.Equal(t, 0.0, timeSavedPercent(outcomes, 50*time.Millisecond))
}

func TestRunBatchDuplicateToolIDRejected(t *testing.T) {
	e := New(2)
	calls := []model.ToolCall{{ToolID: "a"}, {ToolID: "a"}}
	_, err := e.RunBatch(context.Background(), calls, func(context.Context, model.ToolCall) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

package main

import (
	"context"
	"time"

	"github.com/cortexd/cortexd/pkg/completion"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/mcp"
	"github.com/cortexd/cortexd/pkg/model"
)

// completionDispatcher is the simplest implementation of
// executor.Dispatcher: it answers a delegation with a single completion
// call instead of spawning a supervised child process through
// pkg/process. It is the Dispatcher cortexd wires; no Dispatcher in this
// repository routes delegations through pkg/process.Manager. It lets
// `cortexd query` and tests exercise the Lead Agent's allocation and
// synthesis logic end to end without a second binary.
type completionDispatcher struct {
	endpoint completion.Endpoint
	pool     *mcp.Pool
}

func (d *completionDispatcher) Dispatch(ctx context.Context, agentID ids.AgentID, task model.TaskDelegation) (model.WorkerResult, error) {
	start := time.Now()
	messages := []completion.Message{
		{Role: "system", Content: "You are a focused worker agent. Complete the objective concisely."},
		{Role: "user", Content: task.Objective},
	}

	resp, err := d.endpoint.Complete(ctx, messages, nil, d.endpoint.DefaultModel())
	if err != nil {
		return model.WorkerResult{
			WorkerID: agentID,
			Task:     task.TaskID,
			Success:  false,
			Duration: time.Since(start),
		}, err
	}

	return model.WorkerResult{
		WorkerID:      agentID,
		Task:          task.TaskID,
		ResultPayload: resp.Content,
		Success:       true,
		Duration:      time.Since(start),
		TokensUsed:    resp.Usage.TotalTokens,
	}, nil
}

// singleCapabilityPlanner decomposes a query into one delegation per
// required capability slot, defaulting to a single "general" capability
// when the caller hasn't classified any — the simplest Planner that
// still respects orchestrator.Orchestrator's one-delegation-per-
// capability contract.
func singleCapabilityPlanner(query model.Query, workerCount int) []model.TaskDelegation {
	if workerCount < 1 {
		workerCount = 1
	}
	delegations := make([]model.TaskDelegation, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		delegations = append(delegations, model.TaskDelegation{
			TaskID:               ids.NewTaskID(),
			Objective:            query.Text,
			RequiredCapabilities: []string{"general"},
			Boundaries: model.Boundaries{
				Timeout:      2 * time.Minute,
				MaxToolCalls: 10,
			},
		})
	}
	return delegations
}

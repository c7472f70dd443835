// Package executor is the Agent Executor (component C4): it dispatches
// one TaskDelegation to one worker process and waits for that worker's
// result. Of the delegation's Boundaries only the timeout is enforced
// while the worker runs; the tool-call budget is checked for validity up
// front and is not counted during the run. The fire-and-forget dispatch
// plus context-cancellation-on-timeout shape follows the teacher's
// pkg/multiagent.SpawnManager, though that manager spawned a full
// in-process agent loop; here the worker turn runs behind a Dispatcher,
// and this package fills in the returned model.WorkerResult.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/registry"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "executor"

// Dispatcher sends a delegation to a worker and blocks for its result.
// cmd/cortexd wires a completion-backed implementation; tests substitute
// a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID ids.AgentID, task model.TaskDelegation) (model.WorkerResult, error)
}

// Executor runs delegations against workers tracked in a Worker Registry.
type Executor struct {
	dispatcher Dispatcher
	reg        *registry.Registry
	bus        *eventbus.Bus
}

func New(dispatcher Dispatcher, reg *registry.Registry, bus *eventbus.Bus) *Executor {
	return &Executor{dispatcher: dispatcher, reg: reg, bus: bus}
}

// Execute runs task against agentID, which the caller must already have
// marked Busy via the registry's Assign (worker selection and assignment
// are the Lead Agent's responsibility, since it alone knows the full
// batch of delegations being placed in one query). Execute always calls
// ReportCompletion on its way out so load accounting never leaks, even
// on failure.
func (e *Executor) Execute(ctx context.Context, agentID ids.AgentID, task model.TaskDelegation) (model.WorkerResult, error) {
	if !task.Valid() {
		_ = e.reg.ReportCompletion(agentID, false)
		return model.WorkerResult{}, errs.InvalidInput("executor.execute", fmt.Errorf("delegation %s fails boundary/capability invariant", task.TaskID))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Boundaries.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Boundaries.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.dispatcher.Dispatch(runCtx, agentID, task)
	duration := time.Since(start)

	success := err == nil
	_ = e.reg.ReportCompletion(agentID, success)

	if err != nil {
		kind := errs.Of(err)
		telemetry.WarnCF(component, "delegation failed", err, telemetry.Fields{"task_id": task.TaskID.String(), "agent_id": agentID.String()})
		if runCtx.Err() == context.DeadlineExceeded {
			return model.WorkerResult{}, errs.Timeout("executor.execute", err)
		}
		if kind == errs.KindUnknown {
			return model.WorkerResult{}, errs.Transient("executor.execute", err)
		}
		return model.WorkerResult{}, err
	}

	result.WorkerID = agentID
	result.Task = task.TaskID
	result.Duration = duration
	result.CompletedAt = time.Now()
	result.Success = true

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]string{"task_id": task.TaskID.String(), "agent_id": agentID.String()})
		_ = e.bus.Publish(eventbus.SubjectTaskCompleted, json.RawMessage(payload))
	}

	return result, nil
}

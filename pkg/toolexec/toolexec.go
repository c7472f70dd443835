// Package toolexec is the Parallel Tool Executor (component C5): given a
// batch of tool calls tagged with the data they consume and produce, it
// builds a dependency DAG, detects cycles, and runs each wave of
// mutually-independent calls concurrently, bounded by a worker pool. The
// wave/semaphore shape is generalized from the teacher's
// pkg/swarm.DAGExecutor, but cycle detection here uses iterative Kahn's
// algorithm (in-degree counting) rather than recursive DFS, and wave
// advancement is event-driven (a shared ready channel) rather than the
// teacher's polling loop with a fixed sleep, per the design's no-recursion
// requirement for scheduling over large batches.
package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "toolexec"

// Runner executes one resolved tool call and returns its output.
type Runner func(ctx context.Context, call model.ToolCall) (any, error)

// Outcome is one tool call's result within a batch.
type Outcome struct {
	ToolID   string
	Output   any
	Err      error
	Duration time.Duration
}

// BatchResult aggregates every call's outcome plus latency percentiles,
// mirroring the teacher's toolcall executor's p50/p95 duration summary.
type BatchResult struct {
	Outcomes         map[string]Outcome
	P50              time.Duration
	P95              time.Duration
	// TimeSavedPercent is 1 - parallel_duration / sum(sequential_duration):
	// the wall-clock batch duration against what running every call back
	// to back would have cost. Zero (not negative) when the batch has no
	// calls or nothing to save.
	TimeSavedPercent float64
}

// node is the executor's private view of one call plus its dependency
// edges, derived from ToolCall.Inputs/Outputs tag matching: call A
// depends on call B if A.Inputs intersects B.Outputs.
type node struct {
	call         model.ToolCall
	dependents   []string // other tool IDs that depend on this one
	remainingDep int       // count of not-yet-satisfied dependencies
}

// Executor runs batches with bounded concurrency.
type Executor struct {
	maxParallel int
}

func New(maxParallel int) *Executor {
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &Executor{maxParallel: maxParallel}
}

// buildGraph resolves Inputs/Outputs tags into a dependency graph and
// validates it with Kahn's algorithm, returning only the node map; the
// topological order found during cycle detection is discarded, and
// RunBatch re-discovers ready nodes as dependencies clear.
func buildGraph(calls []model.ToolCall) (map[string]*node, error) {
	producedBy := make(map[string]string) // output tag -> producing tool ID
	nodes := make(map[string]*node, len(calls))

	for _, c := range calls {
		if _, dup := nodes[c.ToolID]; dup {
			return nil, errs.InvalidInput("toolexec.build_graph", fmt.Errorf("duplicate tool id %q", c.ToolID))
		}
		nodes[c.ToolID] = &node{call: c}
		for _, out := range c.Outputs {
			producedBy[out] = c.ToolID
		}
	}

	for _, c := range calls {
		seen := make(map[string]bool)
		for _, in := range c.Inputs {
			producer, ok := producedBy[in]
			if !ok || producer == c.ToolID || seen[producer] {
				continue
			}
			seen[producer] = true
			nodes[producer].dependents = append(nodes[producer].dependents, c.ToolID)
			nodes[c.ToolID].remainingDep++
		}
	}

	if err := detectCycle(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// detectCycle runs Kahn's algorithm: repeatedly remove zero-in-degree
// nodes. If nodes remain when no more can be removed, a cycle exists.
func detectCycle(nodes map[string]*node) error {
	indeg := make(map[string]int, len(nodes))
	for id, n := range nodes {
		indeg[id] = n.remainingDep
	}

	queue := make([]string, 0, len(nodes))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range nodes[id].dependents {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(nodes) {
		return errs.InvalidInput("toolexec.detect_cycle", fmt.Errorf("dependency cycle among %d tool calls", len(nodes)-visited))
	}
	return nil
}

// RunBatch executes every call in calls, respecting the Inputs/Outputs
// dependency DAG, with at most e.maxParallel calls running at once.
func (e *Executor) RunBatch(ctx context.Context, calls []model.ToolCall, run Runner) (BatchResult, error) {
	batchStart := time.Now()
	nodes, err := buildGraph(calls)
	if err != nil {
		return BatchResult{}, err
	}

	sem := make(chan struct{}, e.maxParallel)
	var mu sync.Mutex
	outcomes := make(map[string]Outcome, len(nodes))
	ready := make(chan string, len(nodes))
	var wg sync.WaitGroup

	remaining := make(map[string]int, len(nodes))
	for id, n := range nodes {
		remaining[id] = n.remainingDep
		if n.remainingDep == 0 {
			ready <- id
		}
	}

	pending := len(nodes)
	for pending > 0 {
		id := <-ready
		pending--
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			n := nodes[id]
			start := time.Now()
			out, err := run(ctx, n.call)
			outcome := Outcome{ToolID: id, Output: out, Err: err, Duration: time.Since(start)}
			if err != nil {
				telemetry.WarnCF(component, "tool call failed", err, telemetry.Fields{"tool_id": id})
			}

			mu.Lock()
			outcomes[id] = outcome
			for _, dep := range n.dependents {
				remaining[dep]--
				if remaining[dep] == 0 {
					ready <- dep
				}
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return BatchResult{
		Outcomes:         outcomes,
		P50:              percentile(outcomes, 0.5),
		P95:              percentile(outcomes, 0.95),
		TimeSavedPercent: timeSavedPercent(outcomes, time.Since(batchStart)),
	}, nil
}

// timeSavedPercent compares the batch's actual wall-clock duration against
// the sum of every call's own duration, the cost of running them one after
// another. Pure and separately testable from RunBatch's concurrency.
func timeSavedPercent(outcomes map[string]Outcome, parallelDuration time.Duration) float64 {
	var sequential time.Duration
	for _, o := range outcomes {
		sequential += o.Duration
	}
	if sequential <= 0 {
		return 0
	}
	saved := 1 - float64(parallelDuration)/float64(sequential)
	if saved < 0 {
		return 0
	}
	return saved
}

func percentile(outcomes map[string]Outcome, p float64) time.Duration {
	if len(outcomes) == 0 {
		return 0
	}
	durations := make([]time.Duration, 0, len(outcomes))
	for _, o := range outcomes {
		durations = append(durations, o.Duration)
	}
	for i := 1; i < len(durations); i++ {
		for j := i; j > 0 && durations[j-1] > durations[j]; j-- {
			durations[j-1], durations[j] = durations[j], durations[j-1]
		}
	}
	idx := int(float64(len(durations)-1) * p)
	return durations[idx]
}

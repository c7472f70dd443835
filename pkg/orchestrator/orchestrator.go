// Package orchestrator is the Lead Agent (component C8): it classifies a
// query's complexity, consults the Strategy Library, selects workers from
// the Worker Registry, delegates in parallel through the Agent Executor,
// applies early termination once a sufficiency predicate is met, and
// merges results through the Result Synthesizer. The keyword-based
// complexity heuristic is grounded on the teacher's
// pkg/swarm.Coordinator.analyzeAndCreateTask (workflow-trigger keyword
// scan); the per-parent concurrency fan-out is grounded on
// pkg/multiagent.SpawnManager's semaphore pattern, generalized here to
// cap total concurrent delegations per query rather than per session.
package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/executor"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/registry"
	"github.com/cortexd/cortexd/pkg/strategy"
	"github.com/cortexd/cortexd/pkg/synthesis"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "orchestrator"

// Config tunes allocation bounds and the sufficiency predicate. Defaults
// live in pkg/config.OrchestratorConfig; this struct is the orchestrator's
// own view of the fields it needs.
type Config struct {
	SimpleMaxWorkers       int
	MediumMinWorkers       int
	MediumMaxWorkers       int
	ComplexMinWorkers      int
	ComplexMaxWorkers      int
	SufficiencyConfidence  float64
	RequireAllCapabilities bool
	// MaxConcurrentExec bounds how many delegations HandleQuery runs at
	// once within a single query, independent of how many were assigned.
	// Zero means unbounded (one goroutine per assignment).
	MaxConcurrentExec int
}

// Planner decomposes a classified query into one delegation per required
// capability. Callers (tests, and the production wiring once a completion
// endpoint is attached) supply the decomposition logic; the orchestrator
// only owns allocation, dispatch, and early termination.
type Planner func(query model.Query, workerCount int) []model.TaskDelegation

// Orchestrator is the Lead Agent.
type Orchestrator struct {
	cfg     Config
	reg     *registry.Registry
	strat   *strategy.Library
	exec    *executor.Executor
	planner Planner
}

func New(cfg Config, reg *registry.Registry, strat *strategy.Library, exec *executor.Executor, planner Planner) *Orchestrator {
	return &Orchestrator{cfg: cfg, reg: reg, strat: strat, exec: exec, planner: planner}
}

// multiTopicKeywords mirrors the teacher's workflow-trigger keyword list,
// trimmed to the signals that indicate a query spans more than one
// subtask rather than the teacher's channel-routing concerns.
var multiTopicKeywords = []string{
	"compare", "and", "also", "as well as", "across", "each of",
	"summarize", "analyze all", "both",
}

// multiTopicPatterns matches each keyword on a word boundary, so "and"
// hits "do X and Y" but not "understand" or "command".
var multiTopicPatterns = compileWordBoundaryPatterns(multiTopicKeywords)

func compileWordBoundaryPatterns(keywords []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return patterns
}

// Classify applies the deterministic heuristics from the data model:
// length, multi-topic markers, and explicit comparison/analysis requests.
func Classify(queryText string) model.Complexity {
	lower := strings.ToLower(queryText)
	commaCount := strings.Count(queryText, ",")
	keywordHits := 0
	for _, pat := range multiTopicPatterns {
		if pat.MatchString(lower) {
			keywordHits++
		}
	}

	switch {
	case len(queryText) > 240 || keywordHits >= 2 || commaCount >= 3:
		return model.ComplexityComplex
	case len(queryText) > 80 || keywordHits >= 1 || commaCount >= 1:
		return model.ComplexityMedium
	default:
		return model.ComplexitySimple
	}
}

// WorkerBounds returns the (min, max) worker count the classifier's
// output maps to, per the allocation table.
func (o *Orchestrator) WorkerBounds(c model.Complexity) (min, max int) {
	switch c {
	case model.ComplexityComplex:
		return o.cfg.ComplexMinWorkers, o.cfg.ComplexMaxWorkers
	case model.ComplexityMedium:
		return o.cfg.MediumMinWorkers, o.cfg.MediumMaxWorkers
	default:
		return 1, o.cfg.SimpleMaxWorkers
	}
}

// HandleQuery runs the full pipeline: classify, strategy lookup, worker
// selection, parallel delegation with early termination, synthesis.
func (o *Orchestrator) HandleQuery(ctx context.Context, query model.Query) (synthesis.Synthesis, error) {
	query.Complexity = Classify(query.Text)
	min, max := o.WorkerBounds(query.Complexity)

	workerCount := min
	if plan, ok := o.strat.Find(query.Text); ok && plan.SuccessRate() > 0.5 {
		workerCount = plan.WorkerCount
	}
	if workerCount < min {
		workerCount = min
	}
	if workerCount > max {
		workerCount = max
	}

	delegations := o.planner(query, workerCount)
	if len(delegations) == 0 {
		return synthesis.Synthesis{}, errs.InvalidInput("orchestrator.handle_query", errNoDelegations)
	}

	required := make([]string, 0, len(delegations))
	for _, d := range delegations {
		required = append(required, d.RequiredCapabilities...)
	}

	// Each delegation needs its own capability match; a worker assigned to
	// one delegation is unavailable (state flips to Busy on Assign) for the
	// next lookup, so later delegations naturally see a shrinking pool.
	type assignment struct {
		delegation model.TaskDelegation
		agentID    ids.AgentID
	}
	var assignments []assignment
	for _, d := range delegations {
		candidates := o.reg.SelectForCapabilities(d.RequiredCapabilities, 1)
		if len(candidates) == 0 {
			continue
		}
		if err := o.reg.Assign(candidates[0].AgentID); err != nil {
			continue
		}
		assignments = append(assignments, assignment{delegation: d, agentID: candidates[0].AgentID})
	}
	if len(assignments) == 0 {
		return synthesis.Synthesis{}, errs.ResourceLimitExceeded("orchestrator.handle_query", errNoWorkersAvailable)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var results []model.WorkerResult
	var wg sync.WaitGroup

	maxConcurrent := o.cfg.MaxConcurrentExec
	if maxConcurrent <= 0 {
		maxConcurrent = len(assignments)
	}
	sem := make(chan struct{}, maxConcurrent)

	for _, a := range assignments {
		wg.Add(1)
		go func(a assignment) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			defer func() { <-sem }()

			delegation, agentID := a.delegation, a.agentID
			result, err := o.exec.Execute(runCtx, agentID, delegation)
			if err != nil {
				telemetry.WarnCF(component, "delegation did not complete", err, telemetry.Fields{"task_id": delegation.TaskID.String()})
				result = model.WorkerResult{WorkerID: agentID, Task: delegation.TaskID, Success: false, ErrorKind: errs.Of(err).String(), Capability: firstOrEmpty(delegation.RequiredCapabilities)}
			} else if result.Capability == "" {
				result.Capability = firstOrEmpty(delegation.RequiredCapabilities)
			}

			mu.Lock()
			results = append(results, result)
			done := o.sufficient(required, results)
			mu.Unlock()

			if done {
				cancel()
			}
		}(a)
	}
	wg.Wait()

	out := synthesis.Synthesize(required, results)
	if len(out.Text) == 0 && !out.Complete {
		return out, errs.Transient("orchestrator.handle_query", errNoUsableResult)
	}

	success := out.Complete
	o.strat.Record(query.Text, strategy.Plan{RequiredCapabilities: required, WorkerCount: workerCount, Complexity: query.Complexity}, success)

	return out, nil
}

// sufficient implements the default sufficiency predicate: every required
// capability covered by at least one successful result, weighted by
// configured confidence. RequireAllCapabilities=false allows early
// termination once the observed success ratio clears the threshold even
// with some capabilities still outstanding.
func (o *Orchestrator) sufficient(required []string, results []model.WorkerResult) bool {
	covered := make(map[string]bool)
	for _, r := range results {
		if r.Success {
			covered[r.Capability] = true
		}
	}

	allCovered := true
	for _, c := range required {
		if !covered[c] {
			allCovered = false
			break
		}
	}

	if o.cfg.RequireAllCapabilities {
		return allCovered
	}

	confidence := 0.0
	if len(required) > 0 {
		confidence = float64(len(covered)) / float64(len(required))
	}
	return confidence >= o.cfg.SufficiencyConfidence
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

var (
	errNoDelegations      = plainErr("planner produced no delegations")
	errNoWorkersAvailable = plainErr("no idle workers available for required capabilities")
	errNoUsableResult     = plainErr("no worker produced a usable result")
)

type plainErr string

func (e plainErr) Error() string { return string(e) }

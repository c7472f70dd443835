// Package registry is the Worker Registry (component C3): the single
// authority tracking every live worker's agent type, capabilities, state,
// and load. It is modeled on the teacher's pkg/swarm capability registry,
// but where that registry used a NATS JetStream KV bucket to replicate
// state across cluster nodes, this one keeps state in a local
// mutex-guarded map, since workers here are child processes of a single
// cortexd instance rather than independent swarm nodes. Registration and
// state-change events still go out over the event bus so other
// components (the Lead Agent's worker-pool selection, the Consistency
// Checker's health sweep) can react without polling.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "registry"

type Registry struct {
	bus *eventbus.Bus

	mu      sync.RWMutex
	workers map[ids.AgentID]*model.WorkerRecord
}

func New(bus *eventbus.Bus) *Registry {
	return &Registry{bus: bus, workers: make(map[ids.AgentID]*model.WorkerRecord)}
}

// Register adds a new worker with an initial idle state. Registering an
// existing agent ID is an error; use UpdateState/ReportLoad for mutation.
func (r *Registry) Register(agentID ids.AgentID, agentType string, capabilities []string) (*model.WorkerRecord, error) {
	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}

	r.mu.Lock()
	if _, exists := r.workers[agentID]; exists {
		r.mu.Unlock()
		return nil, errs.InvalidInput("registry.register", errAlreadyRegistered(agentID))
	}
	rec := &model.WorkerRecord{
		AgentID:        agentID,
		AgentType:      agentType,
		Capabilities:   caps,
		State:          model.WorkerIdle,
		SuccessRate:    1.0,
		LastAssignedAt: time.Now(),
	}
	r.workers[agentID] = rec
	r.mu.Unlock()

	telemetry.InfoCF(component, "worker registered", telemetry.Fields{"agent_id": agentID.String(), "agent_type": agentType})
	if r.bus != nil {
		_ = r.bus.Publish(eventbus.SubjectWorkerRegistered, map[string]string{"agent_id": agentID.String(), "agent_type": agentType})
	}
	return rec, nil
}

// Deregister removes a worker entirely, e.g. after the Process Manager
// reports it permanently exited.
func (r *Registry) Deregister(agentID ids.AgentID) {
	r.mu.Lock()
	delete(r.workers, agentID)
	r.mu.Unlock()
	telemetry.InfoCF(component, "worker deregistered", telemetry.Fields{"agent_id": agentID.String()})
}

// SetState transitions a worker's lifecycle state.
func (r *Registry) SetState(agentID ids.AgentID, state model.WorkerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.workers[agentID]
	if !ok {
		return errs.NotFound("registry.set_state", errUnknownWorker(agentID))
	}
	rec.State = state
	if r.bus != nil {
		_ = r.bus.Publish(eventbus.SubjectWorkerStateChange, map[string]string{"agent_id": agentID.String(), "state": string(state)})
	}
	return nil
}

// ReportCompletion updates load and the worker's running success-rate
// average after a delegation finishes.
func (r *Registry) ReportCompletion(agentID ids.AgentID, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.workers[agentID]
	if !ok {
		return errs.NotFound("registry.report_completion", errUnknownWorker(agentID))
	}
	if rec.Load > 0 {
		rec.Load--
	}
	if rec.Load == 0 && rec.State == model.WorkerBusy {
		rec.State = model.WorkerIdle
	}
	rec.CompletedCount++
	const alpha = 0.2 // exponential moving average weight, favors recent outcomes
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	rec.SuccessRate = rec.SuccessRate*(1-alpha) + outcome*alpha
	return nil
}

// Assign marks a worker busy and bumps its load; callers must already
// hold a selection decision (see SelectForCapabilities).
func (r *Registry) Assign(agentID ids.AgentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.workers[agentID]
	if !ok {
		return errs.NotFound("registry.assign", errUnknownWorker(agentID))
	}
	rec.Load++
	rec.LastAssignedAt = time.Now()
	rec.State = model.WorkerBusy
	return nil
}

// SelectForCapabilities returns idle workers able to cover every required
// capability, ranked by (success_rate desc, load asc, completed_count
// desc), ties broken by agent ID. If fewer than count candidates exist,
// callers receive what is available and decide whether to proceed with
// reduced parallelism or fail — this function never errors on scarcity.
func (r *Registry) SelectForCapabilities(required []string, count int) []*model.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*model.WorkerRecord
	for _, rec := range r.workers {
		if rec.State != model.WorkerIdle {
			continue
		}
		if rec.HasCapabilities(required) {
			copy := *rec
			candidates = append(candidates, &copy)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		if a.CompletedCount != b.CompletedCount {
			return a.CompletedCount > b.CompletedCount
		}
		return a.AgentID < b.AgentID
	})
	if count > 0 && len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Quarantine removes a worker from selection consideration without
// deregistering it, for the Consistency Checker to call after the
// Process Manager reports repeated crashes or missed heartbeats.
func (r *Registry) Quarantine(agentID ids.AgentID) error {
	return r.SetState(agentID, model.WorkerQuarantined)
}

// Snapshot returns every worker record currently tracked.
func (r *Registry) Snapshot() []model.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.WorkerRecord, 0, len(r.workers))
	for _, rec := range r.workers {
		out = append(out, *rec)
	}
	return out
}

func errAlreadyRegistered(id ids.AgentID) error { return &registryError{"already registered: " + id.String()} }
func errUnknownWorker(id ids.AgentID) error     { return &registryError{"unknown worker: " + id.String()} }

type registryError struct{ msg string }

func (e *registryError) Error() string { return e.msg }

// Package model holds the data types shared across components (§3 of the
// design). Field shapes follow the teacher's pkg/memory.MemoryItem
// convention: explicit timestamps as Go time.Time, metadata as a plain
// map, small mutator methods rather than exported field writes where an
// invariant (UpdatedAt, AccessCount) must move together with the value.
package model

import (
	"time"

	"github.com/cortexd/cortexd/pkg/ids"
)

// Complexity is the Lead Agent's classification of a query.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Query is a user request plus its assigned complexity.
type Query struct {
	Text        string
	Complexity  Complexity
	WorkspaceID ids.WorkspaceID
	SessionID   ids.SessionID
}

// Boundaries is the resource and permission envelope one worker must honor.
type Boundaries struct {
	Timeout      time.Duration
	MaxToolCalls int
	AllowedTools []string // empty => unrestricted
	MaxTokens    int
}

// Valid reports whether the boundaries satisfy the data-model invariant:
// max_tool_calls >= 1, timeout > 0.
func (b Boundaries) Valid() bool {
	return b.MaxToolCalls >= 1 && b.Timeout > 0
}

// TaskDelegation is an immutable record produced by the Lead Agent and
// consumed by one worker.
type TaskDelegation struct {
	TaskID               ids.TaskID
	Objective            string
	RequiredCapabilities []string
	Boundaries           Boundaries
	Inputs               map[string]any
	Dependencies         []ids.TaskID
}

// Valid reports whether the delegation satisfies its data-model invariant.
func (d TaskDelegation) Valid() bool {
	return d.Boundaries.Valid() && len(d.RequiredCapabilities) > 0
}

// WorkerState is a WorkerRecord's lifecycle state.
type WorkerState string

const (
	WorkerIdle        WorkerState = "idle"
	WorkerBusy        WorkerState = "busy"
	WorkerPaused      WorkerState = "paused"
	WorkerQuarantined WorkerState = "quarantined"
)

// WorkerRecord tracks one worker's identity, capabilities, and load.
type WorkerRecord struct {
	AgentID         ids.AgentID
	AgentType       string
	Capabilities    map[string]struct{}
	State           WorkerState
	Load            int
	SuccessRate     float64
	CompletedCount  int
	LastAssignedAt  time.Time
}

// HasCapabilities reports whether this worker's capability set is a
// superset of required.
func (w *WorkerRecord) HasCapabilities(required []string) bool {
	for _, c := range required {
		if _, ok := w.Capabilities[c]; !ok {
			return false
		}
	}
	return true
}

// WorkerResult is the outcome of one worker executing one delegation.
type WorkerResult struct {
	WorkerID     ids.AgentID
	Task         ids.TaskID
	ResultPayload string
	Success      bool
	Duration     time.Duration
	TokensUsed   int
	CostUnits    float64
	CompletedAt  time.Time
	Capability   string // which required capability this result covers
	ErrorKind    string // empty on success
}

// ToolCall is one requested tool invocation within a batch; Inputs/Outputs
// define the dependency DAG among calls in the same batch (§4.5).
type ToolCall struct {
	ToolID   string
	ToolName string
	Params   map[string]any
	Inputs   []string // tags this call depends on
	Outputs  []string // tags this call produces
	Priority int
}

// CodeUnitStatus tracks a parsed code entity's lifecycle.
type CodeUnitStatus string

const (
	CodeUnitLive     CodeUnitStatus = "live"
	CodeUnitReplaced CodeUnitStatus = "replaced"
	CodeUnitDeleted  CodeUnitStatus = "deleted"
)

// CodeUnit is a parsed code entity (function, struct, impl, class, ...).
type CodeUnit struct {
	ID          string
	WorkspaceID ids.WorkspaceID
	Path        string
	Kind        string
	Name        string
	ByteStart   int
	ByteEnd     int
	Status      CodeUnitStatus
	ContentHash string
	ParsedAt    time.Time
}

// CacheEntry wraps a cached value with the bookkeeping the Multi-Level
// Cache needs for promotion and statistics.
type CacheEntry[T any] struct {
	Value        T
	InsertedAt   time.Time
	LastAccessed time.Time
	AccessCount  int64
	SizeBytes    int64
}

func NewCacheEntry[T any](value T, size int64) CacheEntry[T] {
	now := time.Now()
	return CacheEntry[T]{Value: value, InsertedAt: now, LastAccessed: now, SizeBytes: size}
}

func (e *CacheEntry[T]) Touch() {
	e.LastAccessed = time.Now()
	e.AccessCount++
}

// SyncEntity identifies one item that must exist identically in the
// primary store and the vector index.
type SyncEntity struct {
	ID          string
	EntityType  string
	Vector      []float32
	Metadata    map[string]string
	Timestamp   time.Time
	WorkspaceID ids.WorkspaceID
}

// Fingerprint is a stable digest of the fields consistency checks compare
// across the primary store and the vector index. Computed by callers
// (pkg/sync, pkg/consistency) over the fields they own; kept here only as
// the shared return type.
type Fingerprint string

// WALOp is the kind of mutation a WAL record represents.
type WALOp string

const (
	WALOpUpsert WALOp = "upsert"
	WALOpDelete WALOp = "delete"
)

// WALStatus is a WAL record's commit lifecycle.
type WALStatus string

const (
	WALPending   WALStatus = "pending"
	WALCommitted WALStatus = "committed"
	WALFailed    WALStatus = "failed"
)

// WALRecord is one entry describing a pending dual-store mutation.
// pkg/sync keeps these in memory, one per OpID, overwriting it as the
// operation advances.
type WALRecord struct {
	OpID           string
	Timestamp      time.Time
	Op             WALOp
	EntitySnapshot SyncEntity
	Attempts       int
	Status         WALStatus
}

// ProcessState is a Process handle's lifecycle state.
type ProcessState string

const (
	ProcessStarting    ProcessState = "starting"
	ProcessRunning     ProcessState = "running"
	ProcessTerminating ProcessState = "terminating"
	ProcessExited      ProcessState = "exited"
	ProcessCrashed     ProcessState = "crashed"
	ProcessKilled      ProcessState = "killed"
)

// ProcessResources tracks one process's observed resource consumption.
type ProcessResources struct {
	MemoryBytes     int64
	PeakMemoryBytes int64
	CPUTimeMS       int64
	ToolCalls       int64
	TasksExecuted   int64
}

// ProcessHandle is the Process Manager's exclusively-owned record of one
// spawned worker process.
type ProcessHandle struct {
	PID            int
	AgentID        ids.AgentID
	State          ProcessState
	SpawnedAt      time.Time
	LastHeartbeat  time.Time
	Resources      ProcessResources
	ExitCode       *int
	RestartCount   int
}

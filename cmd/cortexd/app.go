package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cortexd/cortexd/pkg/cache"
	"github.com/cortexd/cortexd/pkg/completion"
	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/consistency"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/executor"
	"github.com/cortexd/cortexd/pkg/ingest"
	"github.com/cortexd/cortexd/pkg/mcp"
	"github.com/cortexd/cortexd/pkg/orchestrator"
	"github.com/cortexd/cortexd/pkg/process"
	"github.com/cortexd/cortexd/pkg/registry"
	"github.com/cortexd/cortexd/pkg/store"
	"github.com/cortexd/cortexd/pkg/strategy"
	"github.com/cortexd/cortexd/pkg/sync"
	"github.com/cortexd/cortexd/pkg/vecstore"
	"github.com/cortexd/cortexd/pkg/vectorindex"
)

// app wires every named component into one process, the way the
// teacher's main.go constructs its agent runtime before dispatching to a
// subcommand. Unlike the teacher, construction here is split out of
// main.go entirely so each subcommand builds only the app it needs (a
// one-shot "memory check" has no use for a process manager or an event
// bus dialed out to a broker).
type app struct {
	cfg *config.Config

	bus        *eventbus.Bus
	embedded   *eventbus.Embedded
	store      *store.Store
	vectors    *vectorindex.Index
	registry   *registry.Registry
	processes  *process.Manager
	mcpPool    *mcp.Pool
	cacheLayer *cache.Cache
	syncer     *sync.Manager
	ingester   *ingest.Pipeline
	checker    *consistency.Checker
	endpoint   completion.Endpoint
	strategies *strategy.Library
	executor   *executor.Executor
	orch       *orchestrator.Orchestrator
}

// buildApp constructs the full component graph from cfg. Callers must
// call close() when done.
func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if err := os.MkdirAll(cfg.ResolvedDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if cfg.EventBus.Embedded {
		embedded, err := eventbus.StartEmbedded(0)
		if err != nil {
			return nil, fmt.Errorf("start embedded event bus: %w", err)
		}
		a.embedded = embedded
		bus, err := eventbus.Connect(embedded.ClientURL())
		if err != nil {
			embedded.Stop()
			return nil, fmt.Errorf("connect to embedded event bus: %w", err)
		}
		a.bus = bus
	} else if cfg.EventBus.URL != "" {
		bus, err := eventbus.Connect(cfg.EventBus.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to event bus: %w", err)
		}
		a.bus = bus
	}

	st, err := store.Open(filepath.Join(cfg.ResolvedDataDir(), "primary.db"))
	if err != nil {
		return nil, fmt.Errorf("open primary store: %w", err)
	}
	a.store = st

	idx, err := vectorindex.Open(filepath.Join(cfg.ResolvedDataDir(), "vectors"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	a.vectors = idx

	a.registry = registry.New(a.bus)
	a.processes = process.NewManager(process.Config{
		MaxConcurrentProcesses: cfg.Process.MaxConcurrentProcesses,
		SpawnTimeout:           cfg.Process.SpawnTimeout,
		TerminateGracePeriod:   cfg.Process.TerminateGracePeriod,
		MaxMemoryBytes:         cfg.Process.MaxMemoryBytes,
		MaxTaskDuration:        cfg.Process.MaxTaskDuration,
		HeartbeatInterval:      cfg.Process.HeartbeatInterval,
	}, a.bus)
	a.mcpPool = mcp.NewPool(cfg.MCP.Servers, a.bus)

	a.cacheLayer = cache.New(cache.Config{
		L1Capacity:  cfg.Cache.L1Capacity,
		L2Capacity:  cfg.Cache.L2Capacity,
		L3Prefix:    cfg.Cache.L3Prefix,
		AutoPromote: cfg.Cache.AutoPromote,
	}, a.store, a.bus)

	a.syncer = sync.New(sync.Config{
		MaxBatchSize:     cfg.Sync.MaxBatchSize,
		MaxConcurrentOps: cfg.Sync.MaxConcurrentOps,
		MaxRetries:       cfg.Sync.MaxRetries,
		RetryBackoffBase: time.Duration(cfg.Sync.RetryBackoffMS) * time.Millisecond,
	}, a.store, a.vectors, a.bus)

	a.ingester = ingest.New(a.store, stubParser, sync.IngestSink{Manager: a.syncer})
	if cfg.Embedding.APIBase != "" {
		a.ingester = a.ingester.WithEmbedder(vecstore.NewHTTPEmbedder(cfg.Embedding.APIBase, cfg.Embedding.APIKey, cfg.Embedding.Model))
	}

	a.checker = consistency.New(consistency.Config{
		SampleRate:     cfg.Consistency.SampleRate,
		AutoRepair:     cfg.Consistency.AutoRepair,
		MaxRepairBatch: cfg.Consistency.MaxRepairBatch,
	}, a.store, a.vectors, a.syncer)

	endpoint, err := completion.New(cfg.Completion)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build completion endpoint: %w", err)
	}
	a.endpoint = endpoint

	a.strategies = strategy.New()
	a.executor = executor.New(&completionDispatcher{endpoint: a.endpoint, pool: a.mcpPool}, a.registry, a.bus)
	a.orch = orchestrator.New(orchestrator.Config{
		SimpleMaxWorkers:       cfg.Orchestrator.SimpleMaxWorkers,
		MediumMinWorkers:       cfg.Orchestrator.MediumMinWorkers,
		MediumMaxWorkers:       cfg.Orchestrator.MediumMaxWorkers,
		ComplexMinWorkers:      cfg.Orchestrator.ComplexMinWorkers,
		ComplexMaxWorkers:      cfg.Orchestrator.ComplexMaxWorkers,
		SufficiencyConfidence:  cfg.Orchestrator.SufficiencyConfidence,
		RequireAllCapabilities: cfg.Orchestrator.RequireAllCapabilities,
		MaxConcurrentExec:      cfg.Orchestrator.MaxConcurrentExec,
	}, a.registry, a.strategies, a.executor, singleCapabilityPlanner)

	return a, nil
}

func (a *app) close() {
	if a.mcpPool != nil {
		a.mcpPool.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.embedded != nil {
		a.embedded.Stop()
	}
}

// Package eventbus is the internal publish/subscribe fabric components use
// to announce state changes (worker registered, process exited, cache
// evicted, sync committed) without importing one another directly. It
// wraps a single embedded NATS server/connection the way the teacher's
// pkg/swarm wraps nats.go for swarm capability announcements, but there is
// exactly one local connection here rather than a multi-node cluster.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "eventbus"

// Subjects used by the named components. Kept as constants so publishers
// and subscribers can't drift on a typo'd string.
const (
	SubjectWorkerRegistered  = "cortexd.registry.worker.registered"
	SubjectWorkerStateChange = "cortexd.registry.worker.state"
	SubjectProcessExited     = "cortexd.process.exited"
	SubjectProcessCrashed    = "cortexd.process.crashed"
	SubjectTaskCompleted     = "cortexd.executor.task.completed"
	SubjectCacheEvicted      = "cortexd.cache.evicted"
	SubjectIngestReparse     = "cortexd.ingest.reparse"
	SubjectSyncCommitted     = "cortexd.sync.committed"
	SubjectSyncFailed        = "cortexd.sync.failed"
	SubjectConsistencyDrift  = "cortexd.consistency.drift"
	SubjectMCPConnectionFailed = "cortexd.mcp.connection.failed"
)

// Bus is a thin typed wrapper over a nats.Conn. The zero value is not
// usable; construct with Connect (for an Embedded server, pass its client
// URL).
type Bus struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials an external NATS server (e.g. nats://127.0.0.1:4222).
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("cortexd"),
		nats.ReconnectWait(1),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.Transient("eventbus.connect", err)
	}
	return &Bus{nc: nc}, nil
}

// Publish marshals payload as JSON and publishes it to subject.
func (b *Bus) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.InvalidInput("eventbus.publish", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		telemetry.WarnCF(component, "publish failed", err, telemetry.Fields{"subject": subject})
		return errs.Transient("eventbus.publish", err)
	}
	return nil
}

// Handler decodes a raw event body into a concrete type.
type Handler[T any] func(ctx context.Context, event T)

// Subscribe registers h to run, synchronously per message, for every
// message published to subject. The returned unsubscribe function is
// idempotent.
func Subscribe[T any](b *Bus, ctx context.Context, subject string, h Handler[T]) (func(), error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			telemetry.WarnCF(component, "dropping malformed event", err, telemetry.Fields{"subject": subject})
			return
		}
		h(ctx, event)
	})
	if err != nil {
		return nil, errs.Transient("eventbus.subscribe", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() { _ = sub.Unsubscribe() })
	}
	return unsub, nil
}

// Drain unsubscribes everything and flushes outstanding publishes before
// closing the underlying connection.
func (b *Bus) Drain() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if err := b.nc.Drain(); err != nil {
		return fmt.Errorf("eventbus: drain: %w", err)
	}
	return nil
}

// Close closes the connection immediately without draining.
func (b *Bus) Close() {
	b.nc.Close()
}

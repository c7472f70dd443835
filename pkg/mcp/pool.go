// Package mcp is the Tool-Call MCP Pool (component C2): a per-worker set
// of connections to the tool-execution endpoint, keyed by (worker, server)
// so two workers calling the same MCP server do not share one session's
// in-flight state. Grounded on the teacher's pkg/mcp.Manager — the same
// stdio/HTTP transport selection, crash-rate limiting, and idle-reaping
// shape — generalized from one shared session per server name to one
// session per (worker, server) pair, since C2 is explicitly scoped "per
// worker" while the teacher has exactly one agent loop per process.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "mcp"

const (
	defaultIdleTimeout   = 5 * time.Minute
	maxCrashesPerMinute  = 3
	crashWindow          = 60 * time.Second
	idleReapInterval     = 30 * time.Second
)

type connKey struct {
	worker ids.AgentID
	server string
}

// connection is one live (worker, server) MCP session.
type connection struct {
	mu       sync.Mutex
	session  *sdkmcp.ClientSession
	done     chan struct{}
	tools    []*sdkmcp.Tool
	lastUsed time.Time
	crashes  []time.Time
}

// Pool manages per-worker connections to the configured tool-execution
// endpoints, starting sessions lazily and reaping idle ones.
type Pool struct {
	servers map[string]config.MCPServerConfig
	bus     *eventbus.Bus

	mu    sync.RWMutex
	conns map[connKey]*connection

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a Pool over the given named server configs and
// starts its idle reaper.
func NewPool(servers map[string]config.MCPServerConfig, bus *eventbus.Bus) *Pool {
	if servers == nil {
		servers = make(map[string]config.MCPServerConfig)
	}
	p := &Pool{
		servers: servers,
		bus:     bus,
		conns:   make(map[connKey]*connection),
		stopCh:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.idleReaper()
	return p
}

// ListServers returns the enabled server names without starting any
// connections.
func (p *Pool) ListServers() []string {
	var names []string
	for name, cfg := range p.servers {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// CallTool dispatches toolName on serverName over workerID's dedicated
// session, starting the session if this is the first call from that
// worker to that server.
func (p *Pool) CallTool(ctx context.Context, workerID ids.AgentID, serverName, toolName string, args map[string]any) (string, error) {
	conn, err := p.ensureConn(ctx, workerID, serverName)
	if err != nil {
		return "", err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.lastUsed = time.Now()

	result, err := conn.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		p.handleSessionError(workerID, serverName, conn, err)
		return "", errs.Transient("mcp.call_tool", err)
	}

	text := extractText(result)
	if result.IsError {
		return "", errs.Permanent("mcp.call_tool", fmt.Errorf("%s: %s", toolName, text))
	}
	return text, nil
}

// ListTools returns the tool list workerID sees on serverName, starting
// the session if needed and caching the result for reuse.
func (p *Pool) ListTools(ctx context.Context, workerID ids.AgentID, serverName string) ([]*sdkmcp.Tool, error) {
	conn, err := p.ensureConn(ctx, workerID, serverName)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.tools) > 0 {
		conn.lastUsed = time.Now()
		return conn.tools, nil
	}

	result, err := conn.session.ListTools(ctx, nil)
	if err != nil {
		p.handleSessionError(workerID, serverName, conn, err)
		return nil, errs.Transient("mcp.list_tools", err)
	}
	conn.tools = result.Tools
	conn.lastUsed = time.Now()
	return result.Tools, nil
}

// ReleaseWorker closes every session owned by workerID, used when a
// worker is terminated or quarantined so its tool-execution connections
// don't linger until the idle reaper eventually collects them.
func (p *Pool) ReleaseWorker(workerID ids.AgentID) {
	p.mu.Lock()
	var toClose []*connection
	for key, conn := range p.conns {
		if key.worker == workerID {
			toClose = append(toClose, conn)
			delete(p.conns, key)
		}
	}
	p.mu.Unlock()

	for _, conn := range toClose {
		conn.mu.Lock()
		if conn.session != nil {
			conn.session.Close()
		}
		conn.mu.Unlock()
	}
}

// Close shuts down every connection and stops the idle reaper.
func (p *Pool) Close() {
	close(p.stopCh)

	p.mu.Lock()
	for key, conn := range p.conns {
		conn.mu.Lock()
		if conn.session != nil {
			telemetry.InfoCF(component, "closing mcp session", telemetry.Fields{"worker": key.worker, "server": key.server})
			conn.session.Close()
			conn.session = nil
		}
		conn.mu.Unlock()
	}
	p.conns = make(map[connKey]*connection)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) ensureConn(ctx context.Context, workerID ids.AgentID, serverName string) (*connection, error) {
	cfg, ok := p.servers[serverName]
	if !ok {
		return nil, errs.NotFound("mcp.ensure_conn", fmt.Errorf("unknown mcp server %q", serverName))
	}
	if !cfg.Enabled {
		return nil, errs.InvalidInput("mcp.ensure_conn", fmt.Errorf("mcp server %q is disabled", serverName))
	}

	key := connKey{worker: workerID, server: serverName}

	p.mu.Lock()
	conn, exists := p.conns[key]
	if !exists {
		conn = &connection{}
		p.conns[key] = conn
	}
	p.mu.Unlock()

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.session != nil {
		select {
		case <-conn.done:
			telemetry.WarnCF(component, "mcp session closed, restarting", nil, telemetry.Fields{"worker": workerID, "server": serverName})
			conn.session = nil
			conn.tools = nil
		default:
			return conn, nil
		}
	}

	now := time.Now()
	var recent []time.Time
	for _, t := range conn.crashes {
		if now.Sub(t) < crashWindow {
			recent = append(recent, t)
		}
	}
	conn.crashes = recent
	if len(recent) >= maxCrashesPerMinute {
		return nil, errs.ResourceLimitExceeded("mcp.ensure_conn", fmt.Errorf("mcp server %q crashed too frequently", serverName))
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "cortexd", Version: "1.0.0"}, nil)

	var transport sdkmcp.Transport
	if cfg.URL != "" {
		httpClient := &http.Client{}
		if len(cfg.Headers) > 0 {
			httpClient.Transport = &headerTransport{headers: cfg.Headers, base: http.DefaultTransport}
		}
		transport = &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient, DisableStandaloneSSE: true}
	} else {
		var env []string
		if len(cfg.Env) > 0 {
			env = os.Environ()
			for k, v := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(env) > 0 {
			cmd.Env = env
		}
		transport = &sdkmcp.CommandTransport{Command: cmd}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		conn.crashes = append(conn.crashes, now)
		if p.bus != nil {
			_ = p.bus.Publish(eventbus.SubjectMCPConnectionFailed, map[string]string{"worker": workerID.String(), "server": serverName, "error": err.Error()})
		}
		return nil, errs.Transient("mcp.ensure_conn", err)
	}

	conn.session = session
	conn.lastUsed = now
	conn.tools = nil
	conn.done = make(chan struct{})
	go func() {
		session.Wait()
		close(conn.done)
	}()

	telemetry.InfoCF(component, "mcp session established", telemetry.Fields{"worker": workerID, "server": serverName})
	return conn, nil
}

func (p *Pool) handleSessionError(workerID ids.AgentID, serverName string, conn *connection, err error) {
	errStr := err.Error()
	transport := strings.Contains(errStr, "write") || strings.Contains(errStr, "read") ||
		strings.Contains(errStr, "pipe") || strings.Contains(errStr, "process") ||
		strings.Contains(errStr, "connection") || strings.Contains(errStr, "EOF")
	if !transport {
		return
	}
	telemetry.WarnCF(component, "mcp transport error, marking for restart", err, telemetry.Fields{"worker": workerID, "server": serverName})
	if conn.session != nil {
		conn.session.Close()
		conn.session = nil
	}
	conn.tools = nil
	conn.crashes = append(conn.crashes, time.Now())
}

func (p *Pool) idleReaper() {
	defer p.wg.Done()
	ticker := time.NewTicker(idleReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.RLock()
	keys := make([]connKey, 0, len(p.conns))
	for k := range p.conns {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	for _, key := range keys {
		p.mu.RLock()
		conn, ok := p.conns[key]
		p.mu.RUnlock()
		if !ok {
			continue
		}

		conn.mu.Lock()
		if conn.session != nil && time.Since(conn.lastUsed) > defaultIdleTimeout {
			telemetry.InfoCF(component, "closing idle mcp session", telemetry.Fields{"worker": key.worker, "server": key.server})
			conn.session.Close()
			conn.session = nil
			conn.tools = nil
		}
		conn.mu.Unlock()
	}
}

// Runner returns a pkg/toolexec-compatible Runner bound to workerID,
// dispatching each call through this pool. ToolCall.ToolName is expected
// in "server:tool" form, the qualified shape QualifiedToolName produces
// with the "mcp_"/"__" separators stripped down to a single colon for
// the executor's own routing.
func (p *Pool) Runner(workerID ids.AgentID) func(ctx context.Context, call model.ToolCall) (any, error) {
	return func(ctx context.Context, call model.ToolCall) (any, error) {
		serverName, toolName, ok := strings.Cut(call.ToolName, ":")
		if !ok {
			return nil, errs.InvalidInput("mcp.runner", fmt.Errorf("tool name %q is not in server:tool form", call.ToolName))
		}
		return p.CallTool(ctx, workerID, serverName, toolName, call.Params)
	}
}

func extractText(result *sdkmcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio: %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource_link: %s]", v.URI))
		case *sdkmcp.EmbeddedResource:
			if v.Resource != nil && v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			}
		}
	}
	if len(parts) == 0 {
		return "(no content)"
	}
	return strings.Join(parts, "\n")
}

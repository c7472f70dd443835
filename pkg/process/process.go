// Package process is the Process Manager (component C1): it owns the
// lifecycle of every worker agent child process, from spawn through
// heartbeat monitoring, resource accounting, and restart-on-crash. The
// exec/pipe plumbing is generalized from the teacher's pkg/agent/sandbox
// host backend; a child runs with its working directory set to its
// workspace, and nothing confines it to that directory. The
// restart/quarantine policy and the heartbeat loop are new, since the
// teacher's sandbox executed one-shot tool commands rather than
// supervising long-running child processes.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "process"

// Config tunes the limits the Process Manager enforces on every spawned
// process. Zero values for the caps disable that particular check, the
// same "zero disables" convention Spec.HeartbeatTimeout already uses.
type Config struct {
	MaxConcurrentProcesses int
	SpawnTimeout           time.Duration
	TerminateGracePeriod   time.Duration
	MaxMemoryBytes         int64
	MaxTaskDuration        time.Duration
	HeartbeatInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.TerminateGracePeriod <= 0 {
		c.TerminateGracePeriod = 5 * time.Second
	}
	return c
}

// Spec describes how to launch one worker agent process.
type Spec struct {
	AgentID     ids.AgentID
	Command     string
	Args        []string
	Workspace   string
	Env         []string
	MaxRestarts int
	// HeartbeatTimeout is how long the manager waits for a line on the
	// child's stdout before declaring it unresponsive. Zero disables the
	// watchdog (useful for short-lived one-shot tool runs in tests).
	HeartbeatTimeout time.Duration
}

// managed is the manager's private bookkeeping for one spawned process.
type managed struct {
	mu      sync.Mutex
	handle  model.ProcessHandle
	spec    Spec
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	exited  chan struct{}
	manager *Manager
}

// Manager is the single authority over worker process state; the spec's
// invariant that "no two components may independently kill/restart the
// same process" is enforced by every mutation going through its lock.
type Manager struct {
	cfg Config
	bus *eventbus.Bus

	mu        sync.RWMutex
	processes map[ids.AgentID]*managed
}

func NewManager(cfg Config, bus *eventbus.Bus) *Manager {
	return &Manager{cfg: cfg.withDefaults(), bus: bus, processes: make(map[ids.AgentID]*managed)}
}

// Spawn starts a worker process and begins supervising it. The returned
// handle is a snapshot; use Handle(agentID) for the live view.
func (m *Manager) Spawn(ctx context.Context, spec Spec) (model.ProcessHandle, error) {
	m.mu.Lock()
	if _, exists := m.processes[spec.AgentID]; exists {
		m.mu.Unlock()
		return model.ProcessHandle{}, errs.InvalidInput("process.spawn", fmt.Errorf("agent %s already has a managed process", spec.AgentID))
	}
	if m.cfg.MaxConcurrentProcesses > 0 && len(m.processes) >= m.cfg.MaxConcurrentProcesses {
		m.mu.Unlock()
		return model.ProcessHandle{}, errs.ResourceLimitExceeded("process.spawn", fmt.Errorf("at the configured max of %d concurrent processes", m.cfg.MaxConcurrentProcesses))
	}
	m.mu.Unlock()

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Workspace
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return model.ProcessHandle{}, errs.Transient("process.spawn", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return model.ProcessHandle{}, errs.Transient("process.spawn", err)
	}

	if err := startWithTimeout(cmd, m.cfg.SpawnTimeout); err != nil {
		cancel()
		return model.ProcessHandle{}, err
	}

	now := time.Now()
	mp := &managed{
		spec:   spec,
		cmd:    cmd,
		stdin:  stdin,
		cancel: cancel,
		exited: make(chan struct{}),
		handle: model.ProcessHandle{
			PID:           cmd.Process.Pid,
			AgentID:       spec.AgentID,
			State:         model.ProcessRunning,
			SpawnedAt:     now,
			LastHeartbeat: now,
		},
	}
	mp.manager = m

	m.mu.Lock()
	m.processes[spec.AgentID] = mp
	m.mu.Unlock()

	go mp.watchHeartbeat(stdout)
	go mp.watchExit()

	telemetry.InfoCF(component, "process spawned", telemetry.Fields{"agent_id": spec.AgentID.String(), "pid": mp.handle.PID})
	if m.bus != nil {
		_ = m.bus.Publish(eventbus.SubjectWorkerRegistered, map[string]string{"agent_id": spec.AgentID.String()})
	}
	return mp.snapshot(), nil
}

func (mp *managed) snapshot() model.ProcessHandle {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.handle
}

// startWithTimeout runs cmd.Start() under a deadline. cmd.Start() itself
// rarely blocks (fork+exec), but a spawn timeout still bounds the case
// where the OS scheduler or the exec takes unexpectedly long, per spec §4.3's spawn contract. timeout<=0 disables the bound.
func startWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	if timeout <= 0 {
		if err := cmd.Start(); err != nil {
			return errs.Transient("process.spawn", err)
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Start() }()
	select {
	case err := <-done:
		if err != nil {
			return errs.Transient("process.spawn", err)
		}
		return nil
	case <-time.After(timeout):
		return errs.Timeout("process.spawn", fmt.Errorf("process did not start within %s", timeout))
	}
}

// watchHeartbeat treats each line the child writes to stdout as a liveness
// signal; it does not interpret the payload (that is the Agent Executor's
// job once a task is dispatched over stdin). Alongside the liveness scan,
// a ticker fires every cfg.HeartbeatInterval to enforce the memory and
// uptime caps from spec §4.3's resource enforcement clause.
func (mp *managed) watchHeartbeat(stdout io.Reader) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- struct{}{}
		}
	}()

	cfg := mp.manager.cfg
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
			mp.mu.Lock()
			mp.handle.LastHeartbeat = time.Now()
			mp.mu.Unlock()
		case <-ticker.C:
			mp.checkResourceLimits(cfg)
		case <-mp.exited:
			return
		}
	}
}

// checkResourceLimits reads the process's current RSS, compares it and the
// process's uptime against cfg's caps, and transitions the process to
// Terminating (followed by an async graceful Terminate) when either is
// exceeded.
func (mp *managed) checkResourceLimits(cfg Config) {
	mp.mu.Lock()
	pid := mp.handle.PID
	spawnedAt := mp.handle.SpawnedAt
	running := mp.handle.State == model.ProcessRunning
	mp.mu.Unlock()
	if !running {
		return
	}

	mem, memErr := readRSSBytes(pid)
	if memErr == nil {
		mp.mu.Lock()
		mp.handle.Resources.MemoryBytes = mem
		if mem > mp.handle.Resources.PeakMemoryBytes {
			mp.handle.Resources.PeakMemoryBytes = mem
		}
		mp.mu.Unlock()
	}

	reason, exceeded := exceedsLimits(mem, time.Since(spawnedAt), cfg)
	if !exceeded {
		return
	}
	mp.manager.terminateForLimit(mp, reason)
}

// exceedsLimits is the pure predicate behind checkResourceLimits, split
// out so the cap logic is testable without a real child process to
// introspect.
func exceedsLimits(memoryBytes int64, uptime time.Duration, cfg Config) (string, bool) {
	if cfg.MaxMemoryBytes > 0 && memoryBytes > cfg.MaxMemoryBytes {
		return fmt.Sprintf("memory %d bytes exceeds cap %d", memoryBytes, cfg.MaxMemoryBytes), true
	}
	if cfg.MaxTaskDuration > 0 && uptime > cfg.MaxTaskDuration {
		return fmt.Sprintf("uptime %s exceeds task duration cap %s", uptime, cfg.MaxTaskDuration), true
	}
	return "", false
}

// readRSSBytes reads a process's resident set size from /proc/<pid>/status.
// No library in the corpus wraps per-PID memory introspection (it is
// inherently OS-specific); on non-Linux or if the process has already
// exited, it returns an error and the caller skips enforcement for that
// tick rather than failing the watchdog loop.
func readRSSBytes(pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "VmRSS:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not reported for pid %d", pid)
}

// terminateForLimit marks mp Terminating and kicks off an async graceful
// Terminate under the configured grace period. Idempotent: a process
// already past Running is left alone.
func (m *Manager) terminateForLimit(mp *managed, reason string) {
	mp.mu.Lock()
	agentID := mp.handle.AgentID
	alreadyHandled := mp.handle.State != model.ProcessRunning
	mp.handle.State = model.ProcessTerminating
	mp.mu.Unlock()
	if alreadyHandled {
		return
	}

	telemetry.WarnCF(component, "resource limit exceeded, terminating process", fmt.Errorf("%s", reason), telemetry.Fields{"agent_id": agentID.String()})
	go m.Terminate(agentID, m.cfg.TerminateGracePeriod)
}

func (mp *managed) watchExit() {
	err := mp.cmd.Wait()
	close(mp.exited)

	mp.mu.Lock()
	code := mp.cmd.ProcessState.ExitCode()
	mp.handle.ExitCode = &code
	if err != nil && code != 0 {
		mp.handle.State = model.ProcessCrashed
	} else {
		mp.handle.State = model.ProcessExited
	}
	agentID := mp.handle.AgentID
	state := mp.handle.State
	restarts := mp.handle.RestartCount
	maxRestarts := mp.spec.MaxRestarts
	mp.mu.Unlock()

	telemetry.InfoCF(component, "process exited", telemetry.Fields{"agent_id": agentID.String(), "state": string(state), "exit_code": code})

	if mp.manager.bus != nil {
		subject := eventbus.SubjectProcessExited
		if state == model.ProcessCrashed {
			subject = eventbus.SubjectProcessCrashed
		}
		_ = mp.manager.bus.Publish(subject, map[string]any{"agent_id": agentID.String(), "exit_code": code})
	}

	if state == model.ProcessCrashed && restarts < maxRestarts {
		go mp.manager.restart(mp)
	}
}

func (m *Manager) restart(mp *managed) {
	mp.mu.Lock()
	spec := mp.spec
	priorRestarts := mp.handle.RestartCount
	mp.mu.Unlock()

	m.mu.Lock()
	delete(m.processes, spec.AgentID)
	m.mu.Unlock()

	telemetry.WarnCF(component, "restarting crashed process", nil, telemetry.Fields{"agent_id": spec.AgentID.String()})
	handle, err := m.Spawn(context.Background(), spec)
	if err != nil {
		telemetry.ErrorCF(component, "restart failed", err, telemetry.Fields{"agent_id": spec.AgentID.String()})
		return
	}
	m.mu.Lock()
	if restarted, ok := m.processes[spec.AgentID]; ok {
		restarted.mu.Lock()
		restarted.handle.RestartCount = priorRestarts + 1
		restarted.mu.Unlock()
	}
	m.mu.Unlock()
	_ = handle
}

// Send writes data followed by a newline to the process's stdin. Used by
// the Agent Executor to dispatch a task delegation payload.
func (m *Manager) Send(agentID ids.AgentID, data []byte) error {
	m.mu.RLock()
	mp, ok := m.processes[agentID]
	m.mu.RUnlock()
	if !ok {
		return errs.NotFound("process.send", fmt.Errorf("no managed process for %s", agentID))
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if _, err := mp.stdin.Write(append(data, '\n')); err != nil {
		return errs.Transient("process.send", err)
	}
	return nil
}

// Handle returns the current snapshot for one process.
func (m *Manager) Handle(agentID ids.AgentID) (model.ProcessHandle, bool) {
	m.mu.RLock()
	mp, ok := m.processes[agentID]
	m.mu.RUnlock()
	if !ok {
		return model.ProcessHandle{}, false
	}
	return mp.snapshot(), true
}

// Terminate requests graceful shutdown, escalating to Kill after grace.
func (m *Manager) Terminate(agentID ids.AgentID, grace time.Duration) error {
	m.mu.RLock()
	mp, ok := m.processes[agentID]
	m.mu.RUnlock()
	if !ok {
		return errs.NotFound("process.terminate", fmt.Errorf("no managed process for %s", agentID))
	}

	mp.mu.Lock()
	mp.handle.State = model.ProcessTerminating
	proc := mp.cmd.Process
	mp.mu.Unlock()

	_ = proc.Signal(os.Interrupt)

	select {
	case <-mp.exited:
		return nil
	case <-time.After(grace):
		mp.mu.Lock()
		mp.handle.State = model.ProcessKilled
		mp.mu.Unlock()
		mp.cancel()
		return nil
	}
}

// Unresponsive returns the agent IDs whose last heartbeat is older than
// timeout, for the caller (typically the Worker Registry) to quarantine.
func (m *Manager) Unresponsive(timeout time.Duration) []ids.AgentID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []ids.AgentID
	now := time.Now()
	for id, mp := range m.processes {
		mp.mu.Lock()
		state := mp.handle.State
		last := mp.handle.LastHeartbeat
		mp.mu.Unlock()
		if state == model.ProcessRunning && now.Sub(last) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// List returns a snapshot of every managed process's handle.
func (m *Manager) List() []model.ProcessHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ProcessHandle, 0, len(m.processes))
	for _, mp := range m.processes {
		out = append(out, mp.snapshot())
	}
	return out
}

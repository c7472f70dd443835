package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// cooldownState tracks consecutive failures for one endpoint, backing off
// exponentially up to a cap.
type cooldownState struct {
	failures int
	until    time.Time
}

// cooldownTracker is a minimal per-key backoff tracker, adapted from the
// shape of the teacher's provider fallback chain (try in order, skip
// entries still in cooldown, reset on success) without the teacher's own
// CooldownTracker type, whose source did not survive into this corpus.
type cooldownTracker struct {
	mu    sync.Mutex
	state map[string]*cooldownState
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{state: make(map[string]*cooldownState)}
}

func (c *cooldownTracker) isAvailable(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[key]
	if !ok {
		return true
	}
	return time.Now().After(s.until)
}

func (c *cooldownTracker) markFailure(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[key]
	if !ok {
		s = &cooldownState{}
		c.state[key] = s
	}
	s.failures++
	backoff := time.Duration(1<<min(s.failures, 6)) * time.Second // caps at 64s
	s.until = time.Now().Add(backoff)
}

func (c *cooldownTracker) markSuccess(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, key)
}

func (c *cooldownTracker) remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[key]
	if !ok {
		return 0
	}
	return time.Until(s.until)
}

// Candidate is one endpoint/model pair the FallbackEndpoint may try.
type Candidate struct {
	Name     string
	Endpoint Endpoint
	Model    string
}

func (c Candidate) key() string { return c.Name + ":" + c.Model }

// fallbackAttempt records one candidate's outcome for FallbackExhaustedError.
type fallbackAttempt struct {
	candidate Candidate
	err       error
	skipped   bool
}

// FallbackExhaustedError reports every attempt once all candidates have
// failed or been skipped for cooldown.
type FallbackExhaustedError struct {
	attempts []fallbackAttempt
}

func (e *FallbackExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "completion fallback: all %d candidates failed:", len(e.attempts))
	for i, a := range e.attempts {
		if a.skipped {
			fmt.Fprintf(&sb, "\n  [%d] %s: skipped (cooldown)", i+1, a.candidate.key())
			continue
		}
		fmt.Fprintf(&sb, "\n  [%d] %s: %v", i+1, a.candidate.key(), a.err)
	}
	return sb.String()
}

// FallbackEndpoint tries each candidate in order, skipping any still in
// cooldown from a recent failure, and returns the first success. Grounded
// on the teacher's pkg/providers.FallbackChain.Execute: cooldown-aware
// skip, context-cancellation short-circuit, mark-success-resets-cooldown,
// aggregate FallbackExhaustedError when every candidate is exhausted.
// Unlike the teacher's chain, there is no error classification step
// distinguishing retriable from non-retriable failures — every error here
// falls through to the next candidate, since pkg/completion's two
// backends don't share the teacher's richer FailoverReason taxonomy.
type FallbackEndpoint struct {
	candidates []Candidate
	cooldown   *cooldownTracker
}

// NewFallbackEndpoint builds a FallbackEndpoint over candidates, tried in
// the given order.
func NewFallbackEndpoint(candidates ...Candidate) *FallbackEndpoint {
	return &FallbackEndpoint{candidates: candidates, cooldown: newCooldownTracker()}
}

func (f *FallbackEndpoint) DefaultModel() string {
	if len(f.candidates) == 0 {
		return ""
	}
	return f.candidates[0].Model
}

func (f *FallbackEndpoint) Complete(ctx context.Context, messages []Message, tools []ToolDefinition, model string) (Response, error) {
	if len(f.candidates) == 0 {
		return Response{}, fmt.Errorf("completion fallback: no candidates configured")
	}

	attempts := make([]fallbackAttempt, 0, len(f.candidates))
	for i, cand := range f.candidates {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		key := cand.key()
		if !f.cooldown.isAvailable(key) {
			attempts = append(attempts, fallbackAttempt{candidate: cand, skipped: true})
			continue
		}

		useModel := cand.Model
		if useModel == "" {
			useModel = model
		}
		resp, err := cand.Endpoint.Complete(ctx, messages, tools, useModel)
		if err == nil {
			f.cooldown.markSuccess(key)
			return resp, nil
		}

		attempts = append(attempts, fallbackAttempt{candidate: cand, err: err})
		f.cooldown.markFailure(key)

		if i == len(f.candidates)-1 {
			return Response{}, &FallbackExhaustedError{attempts: attempts}
		}
	}
	return Response{}, &FallbackExhaustedError{attempts: attempts}
}

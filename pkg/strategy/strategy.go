// Package strategy is the Strategy Library (component C6): a key/value
// store of reusable delegation plans keyed by a coarse query signature, so
// the Lead Agent can seed worker allocation for a query similar to one it
// has already handled instead of re-deriving decomposition from scratch.
// The signature lowercases the query text, splits it on whitespace, sorts
// the tokens and hashes the result with SHA-256.
package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/cortexd/cortexd/pkg/model"
)

// Plan is a recorded delegation shape: how many workers, which
// capabilities, and how that plan performed last time.
type Plan struct {
	RequiredCapabilities []string
	WorkerCount          int
	Complexity           model.Complexity
	Uses                 int
	Successes            int
}

// SuccessRate returns the plan's observed success fraction, or 0 for an
// unused plan (the Lead Agent treats that the same as "no strategy").
func (p Plan) SuccessRate() float64 {
	if p.Uses == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Uses)
}

// Library is the in-memory strategy store. A process restart loses
// learned strategies; this is acceptable because Find degrades to "no
// match" and the Lead Agent always has a complexity-based fallback.
type Library struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

func New() *Library {
	return &Library{plans: make(map[string]*Plan)}
}

// Signature computes the coarse query signature: lowercase, collapse
// whitespace runs, sort tokens so word order doesn't fragment the key,
// then hash.
func Signature(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := append([]string(nil), fields...)
	sortTokens(tokens)
	joined := strings.Join(tokens, " ")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func sortTokens(tokens []string) {
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j-1] > tokens[j]; j-- {
			tokens[j-1], tokens[j] = tokens[j], tokens[j-1]
		}
	}
}

// Find returns the strategy recorded for a query's signature, if any.
func (l *Library) Find(query string) (Plan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.plans[Signature(query)]
	if !ok {
		return Plan{}, false
	}
	return *p, true
}

// Record updates (or creates) the strategy for a query's signature with
// the outcome of one use.
func (l *Library) Record(query string, plan Plan, success bool) {
	sig := Signature(query)
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.plans[sig]
	if !ok {
		existing = &Plan{
			RequiredCapabilities: plan.RequiredCapabilities,
			WorkerCount:          plan.WorkerCount,
			Complexity:           plan.Complexity,
		}
		l.plans[sig] = existing
	}
	existing.Uses++
	if success {
		existing.Successes++
	}
	// A newly successful plan shape supersedes an older, still-recorded
	// one (e.g. worker count that was right-sized after a retry).
	if success {
		existing.RequiredCapabilities = plan.RequiredCapabilities
		existing.WorkerCount = plan.WorkerCount
		existing.Complexity = plan.Complexity
	}
}

// Size reports how many distinct signatures the library has recorded.
func (l *Library) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.plans)
}

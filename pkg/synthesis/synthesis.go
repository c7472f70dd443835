// Package synthesis is the Result Synthesizer (component C7): it merges
// the WorkerResults from one delegated batch into a single answer for
// the Lead Agent to return, flagging partial coverage when some required
// capability never produced a successful result. The per-result
// formatting follows the teacher's pkg/multiagent.formatOutcomeMessage,
// generalized from one subagent outcome to an N-way merge.
package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cortexd/cortexd/pkg/model"
)

// Synthesis is the merged view of a batch of worker results.
type Synthesis struct {
	Text             string
	Complete         bool // true if every required capability has a successful result
	MissingCapabilities []string
	TotalTokens      int
	TotalCost        float64
	TotalDuration    time.Duration
	FailedCount      int
}

// Synthesize merges results, attributing coverage against required. If
// a capability appears more than once, the fastest successful result for
// it wins; failed results are reported but do not block synthesis when a
// later successful result for the same capability exists.
func Synthesize(required []string, results []model.WorkerResult) Synthesis {
	best := make(map[string]model.WorkerResult)
	var out Synthesis

	for _, r := range results {
		out.TotalTokens += r.TokensUsed
		out.TotalCost += r.CostUnits
		out.TotalDuration += r.Duration
		if !r.Success {
			out.FailedCount++
			continue
		}
		existing, ok := best[r.Capability]
		if !ok || r.Duration < existing.Duration {
			best[r.Capability] = r
		}
	}

	covered := make([]string, 0, len(best))
	for cap := range best {
		covered = append(covered, cap)
	}
	sort.Strings(covered)

	var missing []string
	for _, c := range required {
		if _, ok := best[c]; !ok {
			missing = append(missing, c)
		}
	}
	out.MissingCapabilities = missing
	out.Complete = len(missing) == 0

	var sb strings.Builder
	for _, c := range covered {
		r := best[c]
		fmt.Fprintf(&sb, "[%s @ %s, %s]:\n%s\n\n", c, r.WorkerID, r.Duration.Round(time.Millisecond), r.ResultPayload)
	}
	for _, c := range missing {
		fmt.Fprintf(&sb, "[%s: no successful result]\n\n", c)
	}
	out.Text = strings.TrimSpace(sb.String())

	return out
}

// FormatFailure renders one failed worker result the way a synthesized
// answer surfaces a partial failure, mirroring the teacher's single-
// outcome failure message.
func FormatFailure(r model.WorkerResult) string {
	return fmt.Sprintf("[%s failed after %s: %s]", r.WorkerID, r.Duration.Round(time.Millisecond), r.ErrorKind)
}

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
)

func TestRegisterAndSelect(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	a2 := ids.NewAgentID()

	_, err := r.Register(a1, "coder", []string{"code", "test"})
	require.NoError(t, err)
	_, err = r.Register(a2, "researcher", []string{"search"})
	require.NoError(t, err)

	sel := r.SelectForCapabilities([]string{"code"}, 0)
	require.Len(t, sel, 1)
	assert.Equal(t, a1, sel[0].AgentID)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	_, err := r.Register(a1, "coder", []string{"code"})
	require.NoError(t, err)
	_, err = r.Register(a1, "coder", []string{"code"})
	assert.Error(t, err)
}

func TestSelectExcludesQuarantined(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	_, err := r.Register(a1, "coder", []string{"code"})
	require.NoError(t, err)

	require.NoError(t, r.Quarantine(a1))
	assert.Empty(t, r.SelectForCapabilities([]string{"code"}, 0))
}

func TestSelectExcludesBusyWorkers(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	_, err := r.Register(a1, "coder", []string{"code"})
	require.NoError(t, err)
	require.NoError(t, r.Assign(a1))

	assert.Empty(t, r.SelectForCapabilities([]string{"code"}, 0))
}

func TestSelectOrdersBySuccessRate(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	a2 := ids.NewAgentID()
	_, err := r.Register(a1, "coder", []string{"code"})
	require.NoError(t, err)
	_, err = r.Register(a2, "coder", []string{"code"})
	require.NoError(t, err)

	require.NoError(t, r.Assign(a1))
	require.NoError(t, r.ReportCompletion(a1, false)) // a1's success rate now below a2's 1.0

	sel := r.SelectForCapabilities([]string{"code"}, 0)
	require.Len(t, sel, 2)
	assert.Equal(t, a2, sel[0].AgentID)
}

func TestSelectCapsAtRequestedCount(t *testing.T) {
	r := New(nil)
	for i := 0; i < 3; i++ {
		a := ids.NewAgentID()
		_, err := r.Register(a, "coder", []string{"code"})
		require.NoError(t, err)
	}
	assert.Len(t, r.SelectForCapabilities([]string{"code"}, 2), 2)
}

func TestReportCompletionUpdatesSuccessRateAndLoad(t *testing.T) {
	r := New(nil)
	a1 := ids.NewAgentID()
	_, err := r.Register(a1, "coder", []string{"code"})
	require.NoError(t, err)
	require.NoError(t, r.Assign(a1))

	require.NoError(t, r.ReportCompletion(a1, false))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].Load)
	assert.Less(t, snap[0].SuccessRate, 1.0)
	assert.Equal(t, model.WorkerIdle, snap[0].State) // load drained to zero, so ReportCompletion idles it
}

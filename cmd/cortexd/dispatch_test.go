package main

import (
	"testing"

	"github.com/cortexd/cortexd/pkg/model"
)

func TestSingleCapabilityPlannerProducesOneDelegationPerWorker(t *testing.T) {
	query := model.Query{Text: "explain the ingest pipeline"}
	delegations := singleCapabilityPlanner(query, 3)

	if len(delegations) != 3 {
		t.Fatalf("expected 3 delegations, got %d", len(delegations))
	}
	for _, d := range delegations {
		if d.Objective != query.Text {
			t.Errorf("expected objective %q, got %q", query.Text, d.Objective)
		}
		if !d.Boundaries.Valid() {
			t.Errorf("expected valid boundaries, got %+v", d.Boundaries)
		}
	}
}

func TestSingleCapabilityPlannerClampsZeroWorkerCount(t *testing.T) {
	delegations := singleCapabilityPlanner(model.Query{Text: "x"}, 0)
	if len(delegations) != 1 {
		t.Fatalf("expected 1 delegation for zero worker count, got %d", len(delegations))
	}
}

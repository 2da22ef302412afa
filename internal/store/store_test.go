package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

func TestRunStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestRun_CloneIsDeep(t *testing.T) {
	done := time.Now()
	run := &Run{
		ID:          "r1",
		CompletedAt: &done,
		Results: RunResults{
			RefinedPlays: []types.SalesPlay{{Title: "A", TechnicalStack: []string{"Go"}}},
			OnePagers:    map[string]string{"A": "doc"},
			Errors:       []string{"e"},
		},
	}

	c := run.Clone()
	c.Results.RefinedPlays[0].TechnicalStack[0] = "Rust"
	c.Results.OnePagers["A"] = "changed"
	c.Results.Errors[0] = "changed"
	*c.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "Go", run.Results.RefinedPlays[0].TechnicalStack[0])
	assert.Equal(t, "doc", run.Results.OnePagers["A"])
	assert.Equal(t, "e", run.Results.Errors[0])
	assert.Equal(t, done, *run.CompletedAt)
	assert.Nil(t, (*Run)(nil).Clone())
}

func TestRun_SummaryJSON(t *testing.T) {
	run := &Run{ID: "r1", ClientName: "Acme", Status: StatusPending, CurrentStep: "input_processed", PlaysCount: 2}
	b, err := json.Marshal(run.Summary())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "r1", got["run_id"])
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, float64(2), got["plays_count"])
	assert.NotContains(t, got, "project_id")
	assert.NotContains(t, got, "completed_at")
}

func TestProject_Helpers(t *testing.T) {
	p := &Project{IterationIDs: []string{"a", "b"}}
	assert.True(t, p.HasIteration("a"))
	assert.False(t, p.HasIteration("c"))
	assert.Equal(t, "b", p.LatestIteration())
	assert.Empty(t, (&Project{}).LatestIteration())

	p.SavedPlays = []SavedPlay{{ID: "s", Play: types.SalesPlay{Citations: []types.Citation{{URL: "u"}}}}}
	c := p.Clone()
	c.SavedPlays[0].Play.Citations[0].URL = "changed"
	c.IterationIDs[0] = "changed"
	assert.Equal(t, "u", p.SavedPlays[0].Play.Citations[0].URL)
	assert.Equal(t, "a", p.IterationIDs[0])
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/dispatch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/projects"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/runs"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store/inmem"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// heldDispatcher queues runs until the test releases them.
type heldDispatcher struct {
	mu    sync.Mutex
	tasks []dispatch.Task
}

func (d *heldDispatcher) Submit(task dispatch.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *heldDispatcher) release() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

type testEnv struct {
	server     *Server
	broker     *runs.Broker
	dispatcher *heldDispatcher
}

func researchStage(_ context.Context, st pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
	report := "report for " + st.ClientName
	plays := []types.SalesPlay{{Title: "Claims Triage"}, {Title: "Fraud Signals"}}
	return pipeline.Patch{
		DeepResearchReport: &report,
		RefinedPlays:       &plays,
		CurrentStep:        pipeline.StepComplete,
	}, pipeline.Continue
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	g, err := pipeline.NewGraph(
		pipeline.Node{Name: steps.InputProcessor, Stage: pipeline.StageFunc(func(context.Context, pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
			return pipeline.Patch{CurrentStep: pipeline.StepInputProcessed}, pipeline.Continue
		})},
		pipeline.Node{Name: steps.DeepResearch, Stage: pipeline.StageFunc(researchStage)},
	)
	require.NoError(t, err)

	repo := inmem.New()
	env := &testEnv{broker: runs.NewBroker(nil), dispatcher: &heldDispatcher{}}
	coord, err := runs.NewCoordinator(runs.Config{
		Runs:       repo,
		Engine:     pipeline.NewEngine(g, nil),
		Dispatcher: env.dispatcher,
		Broker:     env.broker,
	})
	require.NoError(t, err)

	svc, err := projects.NewService(projects.Config{Projects: repo, Runs: repo, Starter: coord})
	require.NoError(t, err)

	cfg := Config{Runs: coord, Projects: svc, CORSOrigins: []string{"http://localhost:8501"}}
	if mutate != nil {
		mutate(&cfg)
	}
	env.server, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(env.server.rateLimiter.Stop)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sdapipe/landscape/graph"
	"github.com/sdapipe/landscape/landscape"
	"github.com/sdapipe/landscape/model"
	"github.com/sdapipe/landscape/orchestrator"
	"github.com/sdapipe/landscape/payloadstore"
	"github.com/sdapipe/landscape/plugin"
	"github.com/sdapipe/landscape/plugin/reference"
)

// setupPostgres starts a throwaway Postgres container and returns its DSN,
// adapted from the teacher's containers/testing/postgres.go SetupPostgres
// (same image, env, and "ready to accept connections" wait strategy; only
// the PostgresConfig knob surface is trimmed since every test here wants
// the same defaults).
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, port.Port())
}

func rowSchema() model.Schema {
	return model.Schema{Fields: map[string]model.FieldSchema{
		"id":    {Type: "integer", Required: true},
		"value": {Type: "string", Required: false},
	}}
}

// buildForkAggregateGraph wires source -> gate(fork_to: [branch, aggregate])
// -> branch -> sink_branch, and source -> gate -> aggregate (batch of 2) ->
// sink_aggregate: one topology exercising both a gate fork (spec.md §8
// scenario 3) and an aggregation drain in the same run.
func buildForkAggregateGraph(t *testing.T) *graph.ExecutionGraph {
	t.Helper()
	schema := rowSchema()

	b := graph.NewBuilder()
	b.AddNode(graph.NodeSpec{
		ID: "source", Kind: model.NodeTypeSource, PluginName: "reference.InMemorySource",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed, Schema: schema,
	})
	b.AddNode(graph.NodeSpec{
		ID: "gate", Kind: model.NodeTypeGate, PluginName: "reference.fork_gate",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed,
		Condition: "1 == 1", ForkTo: []string{"branch", "aggregate"},
	})
	b.AddNode(graph.NodeSpec{
		ID: "branch", Kind: model.NodeTypeTransform, PluginName: "reference.PassthroughTransform",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed, Schema: schema,
	})
	b.AddNode(graph.NodeSpec{
		ID: "sink_branch", Kind: model.NodeTypeSink, PluginName: "reference.RecordingSink",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed,
	})
	b.AddNode(graph.NodeSpec{
		ID: "aggregate", Kind: model.NodeTypeAggregation, PluginName: "reference.PassthroughTransform",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed, Schema: schema,
		IsBatchAware: true, Trigger: graph.TriggerRowCount, OutputMode: graph.OutputModeOnePerBatch,
		Options: map[string]any{"row_count": float64(2)},
	})
	b.AddNode(graph.NodeSpec{
		ID: "sink_aggregate", Kind: model.NodeTypeSink, PluginName: "reference.RecordingSink",
		PluginVersion: "v1", Determinism: model.DeterminismGuaranteed,
	})

	b.AddEdge(graph.EdgeDefinition{From: "source", To: "gate", Label: "continue", Kind: graph.EdgeKindContinue})
	b.AddEdge(graph.EdgeDefinition{From: "gate", To: "branch", Label: "branch", Kind: graph.EdgeKindFork})
	b.AddEdge(graph.EdgeDefinition{From: "gate", To: "aggregate", Label: "aggregate", Kind: graph.EdgeKindFork})
	b.AddEdge(graph.EdgeDefinition{From: "branch", To: "sink_branch", Label: "continue", Kind: graph.EdgeKindContinue})
	b.AddEdge(graph.EdgeDefinition{From: "aggregate", To: "sink_aggregate", Label: "continue", Kind: graph.EdgeKindContinue})

	g, err := b.Build()
	require.NoError(t, err)
	return g
}

// TestRunForkAndAggregateToCompletion drives two rows through a graph that
// forks every token at the gate and aggregates one branch into a batch of
// two, then asserts the run completes, each sink receives the expected
// number of writes, and every token of every row has at least one recorded
// outcome.
func TestRunForkAndAggregateToCompletion(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgres(t)

	require.NoError(t, landscape.EnsureSchema(dsn))
	ls, err := landscape.Open(ctx, dsn)
	require.NoError(t, err)
	defer ls.Close()

	g := buildForkAggregateGraph(t)

	src := reference.NewInMemorySource(rowSchema(),
		plugin.Row{"id": int64(1), "value": "a"},
		plugin.Row{"id": int64(2), "value": "b"},
	)
	branchSink := reference.NewRecordingSink(rowSchema())
	aggregateSink := reference.NewRecordingSink(rowSchema())

	payloads, err := payloadstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	o := orchestrator.New(orchestrator.Config{
		Landscape: ls,
		Payloads:  payloads,
		Graph:     g,
		Plugins: orchestrator.PluginSet{
			Sources: map[string]plugin.Source{"source": src},
			Transforms: map[string]plugin.Transform{
				"branch":    &reference.PassthroughTransform{In: rowSchema(), Out: rowSchema()},
				"aggregate": &reference.PassthroughTransform{In: rowSchema(), Out: rowSchema(), BatchAware: true},
			},
			Sinks: map[string]plugin.Sink{
				"sink_branch":    branchSink,
				"sink_aggregate": aggregateSink,
			},
		},
	})

	err = o.Run(ctx, "config-hash-fork-aggregate", map[string]any{"test": true}, "v1", "test-suite")
	require.NoError(t, err)

	run, err := ls.GetRun(ctx, runIDFromGraph(ctx, t, ls, g))
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, run.Status)

	require.Len(t, branchSink.Written(), 2)
	require.Len(t, aggregateSink.Written(), 1, "row_count=2 batch drains into a single merged sink write")

	rows, err := ls.GetRows(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		tokens, err := ls.GetTokens(ctx, r.RowID)
		require.NoError(t, err)
		require.NotEmpty(t, tokens)
		for _, tok := range tokens {
			has, err := ls.HasAnyTokenOutcome(ctx, tok.TokenID)
			require.NoError(t, err)
			require.True(t, has, "token %s reached complete_run with no outcome at all", tok.TokenID)
		}
	}
}

// runIDFromGraph re-derives the run just created: ListRuns(1) is the most
// recently begun run, which is this test's own (each test gets a fresh
// container/database, so there is no other run to collide with).
func runIDFromGraph(ctx context.Context, t *testing.T, ls *landscape.Landscape, _ *graph.ExecutionGraph) string {
	t.Helper()
	runs, err := ls.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0].RunID
}

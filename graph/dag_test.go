package graph

import (
	"testing"

	"github.com/sdapipe/landscape/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleSchema() model.Schema {
	return model.Schema{Fields: map[string]model.FieldSchema{
		"score": {Type: "integer", Required: true},
	}}
}

func TestBuildLinearGraph(t *testing.T) {
	b := NewBuilder().
		AddNode(NodeSpec{ID: "src", Kind: model.NodeTypeSource}).
		AddNode(NodeSpec{ID: "sink", Kind: model.NodeTypeSink}).
		AddEdge(EdgeDefinition{From: "src", To: "sink", Label: "continue", Kind: EdgeKindContinue})

	g, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, g.Nodes(), 2)
	assert.Equal(t, "src", g.Nodes()[0].ID)
	assert.Equal(t, "sink", g.Nodes()[1].ID)
}

func TestBuildRejectsCycle(t *testing.T) {
	b := NewBuilder().
		AddNode(NodeSpec{ID: "a", Kind: model.NodeTypeSource}).
		AddNode(NodeSpec{ID: "b", Kind: model.NodeTypeSink}).
		AddEdge(EdgeDefinition{From: "a", To: "b", Label: "x"}).
		AddEdge(EdgeDefinition{From: "b", To: "a", Label: "y"})

	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRejectsUnreachableNode(t *testing.T) {
	b := NewBuilder().
		AddNode(NodeSpec{ID: "src", Kind: model.NodeTypeSource}).
		AddNode(NodeSpec{ID: "sink", Kind: model.NodeTypeSink}).
		AddNode(NodeSpec{ID: "orphan", Kind: model.NodeTypeSink}).
		AddEdge(EdgeDefinition{From: "src", To: "sink", Label: "continue"})

	_, err := b.Build()
	require.Error(t, err)
}

func TestGateRoutingInheritsUpstreamSchema(t *testing.T) {
	schema := simpleSchema()
	b := NewBuilder().
		AddNode(NodeSpec{ID: "src", Kind: model.NodeTypeSource}).
		AddNode(NodeSpec{ID: "gate", Kind: model.NodeTypeGate, Condition: "row['score'] > 50",
			Routes: map[string]string{"true": "high", "false": "low"}}).
		AddNode(NodeSpec{ID: "high", Kind: model.NodeTypeSink}).
		AddNode(NodeSpec{ID: "low", Kind: model.NodeTypeSink}).
		AddEdge(EdgeDefinition{From: "src", To: "gate", Label: "continue", Kind: EdgeKindContinue}).
		AddEdge(EdgeDefinition{From: "gate", To: "high", Label: "true", Kind: EdgeKindRoute}).
		AddEdge(EdgeDefinition{From: "gate", To: "low", Label: "false", Kind: EdgeKindRoute})

	// Source must declare the schema gate inherits.
	for i, s := range b.specs {
		if s.ID == "src" {
			b.specs[i].Schema = schema
		}
	}

	g, err := b.Build()
	require.NoError(t, err)

	gateNode := g.Node("gate")
	gc, ok := gateNode.Config.(GateNodeConfig)
	require.True(t, ok)
	assert.Equal(t, "row['score'] > 50", gc.Condition)
	assert.Equal(t, schema, gc.Schema)
}

func TestValidateErrorSinkReferencesRejectsUnknownSink(t *testing.T) {
	b := NewBuilder().
		AddNode(NodeSpec{ID: "src", Kind: model.NodeTypeSource}).
		AddNode(NodeSpec{ID: "xf", Kind: model.NodeTypeTransform, OnError: "nonexistent_sink"}).
		AddNode(NodeSpec{ID: "sink", Kind: model.NodeTypeSink}).
		AddEdge(EdgeDefinition{From: "src", To: "xf", Label: "continue"}).
		AddEdge(EdgeDefinition{From: "xf", To: "sink", Label: "continue"})

	_, err := b.Build()
	require.Error(t, err)
}

func TestUpstreamTopologyHashStableAcrossRebuilds(t *testing.T) {
	build := func() *ExecutionGraph {
		b := NewBuilder().
			AddNode(NodeSpec{ID: "src", Kind: model.NodeTypeSource}).
			AddNode(NodeSpec{ID: "xf", Kind: model.NodeTypeTransform, PluginConfig: map[string]any{"k": "v"}}).
			AddNode(NodeSpec{ID: "sink", Kind: model.NodeTypeSink}).
			AddEdge(EdgeDefinition{From: "src", To: "xf", Label: "continue"}).
			AddEdge(EdgeDefinition{From: "xf", To: "sink", Label: "continue"})
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}

	g1 := build()
	g2 := build()

	h1, err := g1.UpstreamTopologyHash("sink")
	require.NoError(t, err)
	h2, err := g2.UpstreamTopologyHash("sink")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := g1.UpstreamTopologyHash("xf")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

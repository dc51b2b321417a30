package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sdapipe/landscape/graph"
	"github.com/sdapipe/landscape/plugin"
)

func TestMissingRequiredFields(t *testing.T) {
	row := plugin.Row{"a": 1, "b": 2}

	assert.Equal(t, "", missingRequiredFields(row, []string{"a", "b"}))
	assert.Equal(t, "c", missingRequiredFields(row, []string{"a", "c"}))
	assert.Equal(t, "", missingRequiredFields(row, nil))
}

func TestRowsToAny(t *testing.T) {
	rows := []plugin.Row{{"x": 1}, {"y": 2}}
	out := rowsToAny(rows)
	assert.Len(t, out, 2)
	assert.Equal(t, map[string]any{"x": 1}, out[0])
}

func TestTriggerFiredRowCount(t *testing.T) {
	o := &Orchestrator{}
	cfg := graph.AggregationNodeConfig{
		Trigger: graph.TriggerRowCount,
		Options: map[string]any{"row_count": float64(3)},
	}

	assert.False(t, o.triggerFired(cfg, 1))
	assert.False(t, o.triggerFired(cfg, 2))
	assert.True(t, o.triggerFired(cfg, 3))
	assert.True(t, o.triggerFired(cfg, 4))
}

func TestTriggerFiredDefaultsToOne(t *testing.T) {
	o := &Orchestrator{}
	cfg := graph.AggregationNodeConfig{Trigger: graph.TriggerRowCount}
	assert.True(t, o.triggerFired(cfg, 1))
}

func TestTriggerFiredExplicitNeverAutomatic(t *testing.T) {
	o := &Orchestrator{}
	cfg := graph.AggregationNodeConfig{Trigger: graph.TriggerExplicit}
	assert.False(t, o.triggerFired(cfg, 1000))
}

func TestCanonicalUnmarshalRoundTrip(t *testing.T) {
	var out map[string]any
	err := canonicalUnmarshal(`{"field":"value","n":1}`, &out)
	assert.NoError(t, err)
	assert.Equal(t, "value", out["field"])
}

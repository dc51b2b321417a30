// Package graph implements the typed execution DAG: node/edge definitions,
// single-phase construction with frozen NodeConfig variants, schema
// propagation, cycle/unreachable-node/schema validation, and topology
// hashing.
//
// Construction is generalized from the teacher's flat
// SemanticScheduledAction.Requires dependency graph (graph/dag.go's
// ValidateDAG/checkCycleManual/checkCycleRecursive DFS-with-recursion-stack
// cycle detection and GetExecutionOrder's Kahn's-algorithm topological
// sort) into a typed multi-kind node/edge graph with schema propagation and
// frozen configs.
package graph

import (
	"fmt"
	"sort"

	"github.com/sdapipe/landscape/canonical"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

// EdgeKind classifies how a token moves across an edge.
type EdgeKind string

const (
	EdgeKindContinue EdgeKind = "continue" // ordinary node-to-node flow
	EdgeKindRoute    EdgeKind = "route"    // gate-selected route
	EdgeKindFork     EdgeKind = "fork"     // gate fork_to child
)

// EdgeDefinition is the topology-phase representation of an edge, before
// any node exists.
type EdgeDefinition struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}

// NodeConfig is the sealed interface implemented by the six frozen config
// variants. It is sealed (unexported marker method) so that no variant can
// be added outside this package, and type switches over the six concrete
// config types at the read path cannot silently miss one.
type NodeConfig interface {
	// ConfigToDict projects the config to a map, omitting any field whose
	// value is the zero value for "not applicable" (None in spec.md's
	// terms) — per spec.md §4.4, absence is semantic, not a compatibility
	// shim, and is excluded from hashes and audit writes.
	ConfigToDict() map[string]any
	landscapeNodeConfig()
}

// SourceNodeConfig is the frozen config for a source node. PluginConfig is
// opaque: topology hashing treats it only via its stable hash, never by
// field.
type SourceNodeConfig struct {
	PluginConfig map[string]any
}

func (c SourceNodeConfig) landscapeNodeConfig() {}
func (c SourceNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if len(c.PluginConfig) > 0 {
		d["plugin_config"] = c.PluginConfig
	}
	return d
}

// SinkNodeConfig is the frozen config for a sink node. Preserves spec.md
// §9's Open Question: plugin_config stays opaque here, never inspected
// field-by-field by topology hashing or coalesce validation.
type SinkNodeConfig struct {
	PluginConfig map[string]any
}

func (c SinkNodeConfig) landscapeNodeConfig() {}
func (c SinkNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if len(c.PluginConfig) > 0 {
		d["plugin_config"] = c.PluginConfig
	}
	return d
}

// TransformNodeConfig is the frozen config for a transform node. Schema is
// framework-typed (as opposed to SinkNodeConfig.PluginConfig's opacity):
// topology hashing and coalesce validation inspect it field by field.
type TransformNodeConfig struct {
	PluginConfig        map[string]any
	Schema              model.Schema
	RequiredInputFields []string // first-class field, no fallback lookup inside PluginConfig
	OnError             string   // sink name | "discard" | "" (absent)
}

func (c TransformNodeConfig) landscapeNodeConfig() {}
func (c TransformNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if len(c.PluginConfig) > 0 {
		d["plugin_config"] = c.PluginConfig
	}
	if len(c.Schema.Fields) > 0 {
		d["schema"] = schemaToDict(c.Schema)
	}
	if len(c.RequiredInputFields) > 0 {
		d["required_input_fields"] = c.RequiredInputFields
	}
	if c.OnError != "" {
		d["on_error"] = c.OnError
	}
	return d
}

// GateNodeConfig is the frozen config for a gate node. Exactly one of
// Condition (condition-driven) or PluginConfig (plugin-driven) is expected
// to be set by the caller; both variants produce this same typed config.
type GateNodeConfig struct {
	Routes       map[string]string // route label -> target node id
	Schema       model.Schema
	Condition    string // expression source, empty if plugin-driven
	ForkTo       []string
	PluginConfig map[string]any
}

func (c GateNodeConfig) landscapeNodeConfig() {}
func (c GateNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if len(c.Routes) > 0 {
		d["routes"] = c.Routes
	}
	if len(c.Schema.Fields) > 0 {
		d["schema"] = schemaToDict(c.Schema)
	}
	if c.Condition != "" {
		d["condition"] = c.Condition
	}
	if len(c.ForkTo) > 0 {
		d["fork_to"] = c.ForkTo
	}
	if len(c.PluginConfig) > 0 {
		d["plugin_config"] = c.PluginConfig
	}
	return d
}

// AggregationTrigger selects when a batch-aware transform's buffer drains.
type AggregationTrigger string

const (
	TriggerRowCount AggregationTrigger = "row_count"
	TriggerTimeWindow AggregationTrigger = "time_window"
	TriggerExplicit   AggregationTrigger = "explicit"
)

// AggregationOutputMode selects how emission maps buffered inputs to
// outputs.
type AggregationOutputMode string

const (
	OutputModeOnePerBatch  AggregationOutputMode = "one_per_batch"
	OutputModeOnePerMember AggregationOutputMode = "one_per_member"
)

// AggregationNodeConfig is the frozen config for an aggregation (batch-aware
// transform) node.
type AggregationNodeConfig struct {
	Trigger             AggregationTrigger
	OutputMode          AggregationOutputMode
	Options             map[string]any
	Schema              model.Schema
	RequiredInputFields []string // first-class field, as in TransformNodeConfig
}

func (c AggregationNodeConfig) landscapeNodeConfig() {}
func (c AggregationNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if c.Trigger != "" {
		d["trigger"] = string(c.Trigger)
	}
	if c.OutputMode != "" {
		d["output_mode"] = string(c.OutputMode)
	}
	if len(c.Options) > 0 {
		d["options"] = c.Options
	}
	if len(c.Schema.Fields) > 0 {
		d["schema"] = schemaToDict(c.Schema)
	}
	if len(c.RequiredInputFields) > 0 {
		d["required_input_fields"] = c.RequiredInputFields
	}
	return d
}

// CoalescePolicy selects how a coalesce node decides it has enough input
// branches to proceed.
type CoalescePolicy string

const (
	CoalesceAll     CoalescePolicy = "all"
	CoalesceQuorum  CoalescePolicy = "quorum"
	CoalesceAny     CoalescePolicy = "any"
)

// CoalesceNodeConfig is the frozen config for a coalesce node, which joins
// two or more branches that must share an equal schema.
type CoalesceNodeConfig struct {
	Branches      []string // branch (route label) names to join
	Policy        CoalescePolicy
	Merge         string // merge strategy identifier, framework-defined
	Schema        model.Schema
	TimeoutSeconds *int
	QuorumCount    *int
	SelectBranch   string
}

func (c CoalesceNodeConfig) landscapeNodeConfig() {}
func (c CoalesceNodeConfig) ConfigToDict() map[string]any {
	d := map[string]any{}
	if len(c.Branches) > 0 {
		d["branches"] = c.Branches
	}
	if c.Policy != "" {
		d["policy"] = string(c.Policy)
	}
	if c.Merge != "" {
		d["merge"] = c.Merge
	}
	if len(c.Schema.Fields) > 0 {
		d["schema"] = schemaToDict(c.Schema)
	}
	if c.TimeoutSeconds != nil {
		d["timeout_seconds"] = *c.TimeoutSeconds
	}
	if c.QuorumCount != nil {
		d["quorum_count"] = *c.QuorumCount
	}
	if c.SelectBranch != "" {
		d["select_branch"] = c.SelectBranch
	}
	return d
}

func schemaToDict(s model.Schema) map[string]any {
	d := make(map[string]any, len(s.Fields))
	for name, f := range s.Fields {
		d[name] = map[string]any{"type": f.Type, "required": f.Required}
	}
	return d
}

// Node is a fully-constructed, immutable graph node: once returned from
// Build, its Config is frozen and the graph offers no mutator.
type Node struct {
	ID            string
	Kind          model.NodeType
	PluginName    string
	PluginVersion string
	Determinism   model.Determinism
	Config        NodeConfig
	// SequenceInPipeline is assigned during Build in topological order and
	// used (rather than generated node IDs) as the stable identifier
	// basis for topology hashing.
	SequenceInPipeline int
}

// ExecutionGraph is the built, validated, immutable pipeline topology.
type ExecutionGraph struct {
	nodes       map[string]*Node
	edges       []EdgeDefinition
	topoOrder   []string // node IDs, topologically sorted
	outEdges    map[string][]EdgeDefinition
	inEdges     map[string][]EdgeDefinition
	sourceNodeID string
}

// Node returns the node registered under id, or nil if absent.
func (g *ExecutionGraph) Node(id string) *Node { return g.nodes[id] }

// Nodes returns all nodes in topological order.
func (g *ExecutionGraph) Nodes() []*Node {
	out := make([]*Node, len(g.topoOrder))
	for i, id := range g.topoOrder {
		out[i] = g.nodes[id]
	}
	return out
}

// SourceNodeID returns the id of the graph's single source node.
func (g *ExecutionGraph) SourceNodeID() string { return g.sourceNodeID }

// Edges returns the full edge list.
func (g *ExecutionGraph) Edges() []EdgeDefinition { return append([]EdgeDefinition(nil), g.edges...) }

// OutEdges returns the edges leaving nodeID, in declaration order.
func (g *ExecutionGraph) OutEdges(nodeID string) []EdgeDefinition {
	return append([]EdgeDefinition(nil), g.outEdges[nodeID]...)
}

// InEdges returns the edges arriving at nodeID, in declaration order.
func (g *ExecutionGraph) InEdges(nodeID string) []EdgeDefinition {
	return append([]EdgeDefinition(nil), g.inEdges[nodeID]...)
}

// NodeSpec is the topology-phase input describing one node before
// construction. Exactly the fields relevant to Kind are read; the rest are
// ignored, mirroring the six-variant split NodeConfig enforces once built.
type NodeSpec struct {
	ID            string
	Kind          model.NodeType
	PluginName    string
	PluginVersion string
	Determinism   model.Determinism
	PluginConfig  map[string]any

	// Transform / Aggregation
	Schema              model.Schema
	RequiredInputFields []string
	OnError             string
	IsBatchAware        bool
	Trigger             AggregationTrigger
	OutputMode          AggregationOutputMode
	Options             map[string]any

	// Gate
	Routes    map[string]string
	Condition string
	ForkTo    []string

	// Coalesce
	Branches       []string
	Policy         CoalescePolicy
	Merge          string
	TimeoutSeconds *int
	QuorumCount    *int
	SelectBranch   string
}

// Builder assembles a graph across the topology, schema, construction, and
// edge phases described in spec.md §4.4. Build reads the registered
// definitions without modifying the Builder.
type Builder struct {
	specs []NodeSpec
	edges []EdgeDefinition
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// AddNode registers one node's topology-phase definition.
func (b *Builder) AddNode(spec NodeSpec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// AddEdge registers one edge definition.
func (b *Builder) AddEdge(edge EdgeDefinition) *Builder {
	b.edges = append(b.edges, edge)
	return b
}

// Build runs all four construction phases and returns the resulting frozen
// graph, or a *landscaperr.Error of Kind GraphValidation.
func (b *Builder) Build() (*ExecutionGraph, error) {
	const op = "graph.Build"

	if len(b.specs) == 0 {
		return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "graph has no nodes")
	}

	specByID := make(map[string]NodeSpec, len(b.specs))
	for _, s := range b.specs {
		if _, dup := specByID[s.ID]; dup {
			return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "duplicate node id "+s.ID)
		}
		specByID[s.ID] = s
	}

	// --- Topology phase: adjacency, cycle detection, reachability. ---
	outEdges := make(map[string][]EdgeDefinition)
	inEdges := make(map[string][]EdgeDefinition)
	for _, e := range b.edges {
		if _, ok := specByID[e.From]; !ok {
			return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "edge references unknown source node "+e.From)
		}
		if _, ok := specByID[e.To]; !ok {
			return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "edge references unknown target node "+e.To)
		}
		outEdges[e.From] = append(outEdges[e.From], e)
		inEdges[e.To] = append(inEdges[e.To], e)
	}

	if err := detectCycle(b.specs, outEdges); err != nil {
		return nil, err
	}

	topoOrder, err := topologicalSort(b.specs, outEdges, inEdges)
	if err != nil {
		return nil, err
	}

	var sourceID string
	for _, s := range b.specs {
		if s.Kind == model.NodeTypeSource {
			sourceID = s.ID
			break
		}
	}
	if sourceID == "" {
		return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "graph has no source node")
	}
	if err := checkReachability(sourceID, b.specs, outEdges); err != nil {
		return nil, err
	}

	// --- Schema phase: propagate schemas, collect branch_name -> schema. ---
	outputSchema := make(map[string]model.Schema, len(b.specs)) // nodeID -> schema it produces
	branchSchemas := make(map[string]model.Schema)              // route label -> schema on that branch

	for _, id := range topoOrder {
		s := specByID[id]
		switch s.Kind {
		case model.NodeTypeSource, model.NodeTypeTransform, model.NodeTypeAggregation:
			outputSchema[id] = s.Schema
		case model.NodeTypeGate:
			upstream, err := singleUpstreamSchema(id, inEdges, outputSchema)
			if err != nil {
				return nil, err
			}
			outputSchema[id] = upstream
			for label := range s.Routes {
				branchSchemas[label] = upstream
			}
		case model.NodeTypeCoalesce:
			schema, err := coalesceSchema(s, branchSchemas)
			if err != nil {
				return nil, err
			}
			outputSchema[id] = schema
		case model.NodeTypeSink:
			// sinks do not produce an onward schema
		}
	}

	// --- Construction phase: build frozen NodeConfig per kind. ---
	nodes := make(map[string]*Node, len(b.specs))
	for seq, id := range topoOrder {
		s := specByID[id]
		node := &Node{
			ID:                 s.ID,
			Kind:               s.Kind,
			PluginName:         s.PluginName,
			PluginVersion:      s.PluginVersion,
			Determinism:        s.Determinism,
			SequenceInPipeline: seq,
		}
		switch s.Kind {
		case model.NodeTypeSource:
			node.Config = SourceNodeConfig{PluginConfig: s.PluginConfig}
		case model.NodeTypeSink:
			node.Config = SinkNodeConfig{PluginConfig: s.PluginConfig}
		case model.NodeTypeTransform:
			node.Config = TransformNodeConfig{
				PluginConfig:        s.PluginConfig,
				Schema:              outputSchema[id],
				RequiredInputFields: s.RequiredInputFields,
				OnError:             s.OnError,
			}
		case model.NodeTypeGate:
			node.Config = GateNodeConfig{
				Routes:       s.Routes,
				Schema:       outputSchema[id],
				Condition:    s.Condition,
				ForkTo:       s.ForkTo,
				PluginConfig: s.PluginConfig,
			}
		case model.NodeTypeAggregation:
			node.Config = AggregationNodeConfig{
				Trigger:             s.Trigger,
				OutputMode:          s.OutputMode,
				Options:             s.Options,
				Schema:              outputSchema[id],
				RequiredInputFields: s.RequiredInputFields,
			}
		case model.NodeTypeCoalesce:
			node.Config = CoalesceNodeConfig{
				Branches:       s.Branches,
				Policy:         s.Policy,
				Merge:          s.Merge,
				Schema:         outputSchema[id],
				TimeoutSeconds: s.TimeoutSeconds,
				QuorumCount:    s.QuorumCount,
				SelectBranch:   s.SelectBranch,
			}
		default:
			return nil, landscaperr.New(landscaperr.KindGraphValidation, op, "unknown node kind for "+id)
		}
		nodes[id] = node
	}

	g := &ExecutionGraph{
		nodes:        nodes,
		edges:        append([]EdgeDefinition(nil), b.edges...),
		topoOrder:    topoOrder,
		outEdges:     outEdges,
		inEdges:      inEdges,
		sourceNodeID: sourceID,
	}

	if err := g.validateErrorSinkReferences(); err != nil {
		return nil, err
	}

	return g, nil
}

func singleUpstreamSchema(nodeID string, inEdges map[string][]EdgeDefinition, outputSchema map[string]model.Schema) (model.Schema, error) {
	in := inEdges[nodeID]
	if len(in) == 0 {
		return model.Schema{}, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "gate "+nodeID+" has no upstream edge")
	}
	schema := outputSchema[in[0].From]
	for _, e := range in[1:] {
		if !schema.Equal(outputSchema[e.From]) {
			return model.Schema{}, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "gate "+nodeID+" has upstream nodes with mismatched schemas")
		}
	}
	return schema, nil
}

func coalesceSchema(s NodeSpec, branchSchemas map[string]model.Schema) (model.Schema, error) {
	if len(s.Branches) == 0 {
		return model.Schema{}, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "coalesce "+s.ID+" declares no branches")
	}
	var common model.Schema
	for i, branch := range s.Branches {
		schema, ok := branchSchemas[branch]
		if !ok {
			return model.Schema{}, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "coalesce "+s.ID+" references unknown branch "+branch)
		}
		if i == 0 {
			common = schema
			continue
		}
		if !common.Equal(schema) {
			return model.Schema{}, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "coalesce "+s.ID+" joins branches with unequal schemas")
		}
	}
	return common, nil
}

// detectCycle is a DFS-with-recursion-stack cycle check, the same
// algorithm shape as the teacher's checkCycleManual/checkCycleRecursive,
// generalized from a single dependency graph to an arbitrary node/edge set.
func detectCycle(specs []NodeSpec, outEdges map[string][]EdgeDefinition) error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true
		for _, e := range outEdges[id] {
			if !visited[e.To] {
				if err := visit(e.To); err != nil {
					return err
				}
			} else if onStack[e.To] {
				return landscaperr.New(landscaperr.KindGraphValidation, "graph.Build",
					fmt.Sprintf("circular dependency detected: %s -> %s", id, e.To))
			}
		}
		onStack[id] = false
		return nil
	}

	for _, s := range specs {
		if !visited[s.ID] {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalSort is Kahn's algorithm, the same shape as the teacher's
// GetExecutionOrder, generalized to the typed node/edge graph. Node IDs at
// equal in-degree are broken by declaration order to keep the sort
// deterministic.
func topologicalSort(specs []NodeSpec, outEdges, inEdges map[string][]EdgeDefinition) ([]string, error) {
	order := make([]string, 0, len(specs))
	declOrder := make(map[string]int, len(specs))
	inDegree := make(map[string]int, len(specs))
	for i, s := range specs {
		declOrder[s.ID] = i
		inDegree[s.ID] = len(inEdges[s.ID])
	}

	var queue []string
	for _, s := range specs {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return declOrder[queue[i]] < declOrder[queue[j]] })

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		var freed []string
		for _, e := range outEdges[current] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				freed = append(freed, e.To)
			}
		}
		sort.Slice(freed, func(i, j int) bool { return declOrder[freed[i]] < declOrder[freed[j]] })
		queue = append(queue, freed...)
		sort.Slice(queue, func(i, j int) bool { return declOrder[queue[i]] < declOrder[queue[j]] })
	}

	if len(order) != len(specs) {
		return nil, landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "circular dependency detected in graph")
	}
	return order, nil
}

// checkReachability verifies every node is reachable from source; an
// unreachable node is a GraphValidation error per spec.md §4.4.
func checkReachability(source string, specs []NodeSpec, outEdges map[string][]EdgeDefinition) error {
	reached := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, e := range outEdges[id] {
			visit(e.To)
		}
	}
	visit(source)

	for _, s := range specs {
		if !reached[s.ID] {
			return landscaperr.New(landscaperr.KindGraphValidation, "graph.Build", "node "+s.ID+" is unreachable from source")
		}
	}
	return nil
}

// validateErrorSinkReferences verifies every transform's on_error (if
// present and not the sentinel "discard"/absent) names an existing sink.
// Runs as part of Build, and is also exposed standalone so the
// orchestrator's startup preflight (spec.md §4.6) can re-run it explicitly
// before reading any source row.
func (g *ExecutionGraph) validateErrorSinkReferences() error {
	sinkNames := make(map[string]bool)
	for _, n := range g.nodes {
		if n.Kind == model.NodeTypeSink {
			sinkNames[n.ID] = true
		}
	}

	var available []string
	for name := range sinkNames {
		available = append(available, name)
	}
	sort.Strings(available)

	for _, n := range g.nodes {
		tc, ok := n.Config.(TransformNodeConfig)
		if !ok {
			continue
		}
		if tc.OnError == "" || tc.OnError == "discard" {
			continue
		}
		if !sinkNames[tc.OnError] {
			return landscaperr.New(landscaperr.KindRouteValidation, "graph.ValidateErrorSinkReferences",
				fmt.Sprintf("transform %s declares on_error=%q, which is not an existing sink; available sinks: %v", n.ID, tc.OnError, available))
		}
	}
	return nil
}

// ValidateErrorSinkReferences re-runs the on_error/sink check. Exported for
// the orchestrator's explicit preflight step.
func (g *ExecutionGraph) ValidateErrorSinkReferences() error { return g.validateErrorSinkReferences() }

// UpstreamTopologyHash computes stable_hash of a canonical projection of
// nodeID and all its ancestors: their config_to_dict (None omitted), their
// edge labels, and identifiers normalized to topological rank rather than
// generated node IDs. This is the identity used for checkpoint
// compatibility (spec.md §4.4, §4.7).
func (g *ExecutionGraph) UpstreamTopologyHash(nodeID string) (string, error) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return "", landscaperr.New(landscaperr.KindGraphValidation, "graph.UpstreamTopologyHash", "unknown node "+nodeID)
	}

	ancestors := g.ancestorsOf(nodeID)
	ancestors = append(ancestors, nodeID)

	projection := make([]canonical.Value, 0, len(ancestors))
	for _, id := range ancestors {
		n := g.nodes[id]
		entry := map[string]canonical.Value{
			"rank":   n.SequenceInPipeline,
			"kind":   string(n.Kind),
			"config": n.Config.ConfigToDict(),
		}
		var edgeLabels []canonical.Value
		for _, e := range g.inEdges[id] {
			edgeLabels = append(edgeLabels, map[string]canonical.Value{
				"from_rank": g.nodes[e.From].SequenceInPipeline,
				"label":     e.Label,
				"kind":      string(e.Kind),
			})
		}
		if len(edgeLabels) > 0 {
			entry["in_edges"] = edgeLabels
		}
		projection = append(projection, entry)
	}

	hash, err := canonical.StableHashErr(projection)
	if err != nil {
		return "", canonical.AsLandscapeError("graph.UpstreamTopologyHash", err)
	}
	return hash, nil
}

// NodeConfigHash returns stable_hash(config_to_dict(node.config)) for
// nodeID, the checkpoint_node_config_hash used by both checkpoint creation
// and resume compatibility (spec.md §4.7).
func (g *ExecutionGraph) NodeConfigHash(nodeID string) (string, error) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return "", landscaperr.New(landscaperr.KindGraphValidation, "graph.NodeConfigHash", "unknown node "+nodeID)
	}
	hash, err := canonical.StableHashErr(node.Config.ConfigToDict())
	if err != nil {
		return "", canonical.AsLandscapeError("graph.NodeConfigHash", err)
	}
	return hash, nil
}

// ancestorsOf returns all strict ancestors of nodeID (nodes with a directed
// path to nodeID), ordered by SequenceInPipeline ascending for determinism.
func (g *ExecutionGraph) ancestorsOf(nodeID string) []string {
	seen := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		for _, e := range g.inEdges[id] {
			if !seen[e.From] {
				seen[e.From] = true
				visit(e.From)
			}
		}
	}
	visit(nodeID)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.nodes[out[i]].SequenceInPipeline < g.nodes[out[j]].SequenceInPipeline })
	return out
}

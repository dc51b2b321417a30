// Package model defines the Landscape audit-trail entities named in the
// data model: Run, Node, Edge, Row, Token, TokenParent, NodeState (and its
// four tagged variants), RoutingEvent, Call, Artifact, TokenOutcome,
// Checkpoint, Batch/BatchMember/BatchOutput, and the two error record
// types. These are plain structs with no persistence behavior; package
// landscape maps them to and from Postgres rows.
package model

import "time"

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is one of the declared RunStatus values. Per
// spec.md invariant 6, an enum read from storage that fails this must
// crash the caller rather than silently pass through.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ExportStatus tracks whether a run's audit trail has been exported.
type ExportStatus string

const (
	ExportStatusNone      ExportStatus = ""
	ExportStatusPending   ExportStatus = "pending"
	ExportStatusExported  ExportStatus = "exported"
	ExportStatusFailed    ExportStatus = "failed"
)

// Valid reports whether s is one of the declared ExportStatus values
// (including the unset/"" sentinel).
func (s ExportStatus) Valid() bool {
	switch s {
	case ExportStatusNone, ExportStatusPending, ExportStatusExported, ExportStatusFailed:
		return true
	default:
		return false
	}
}

// ReproducibilityGrade reflects whether the payloads needed to regenerate a
// run's outputs are still available after retention purge.
type ReproducibilityGrade string

const (
	GradeFull    ReproducibilityGrade = "full"
	GradePartial ReproducibilityGrade = "partial"
	GradeNone    ReproducibilityGrade = "none"
)

// Valid reports whether g is one of the declared ReproducibilityGrade
// values, including "" — the column's default before
// landscape.UpdateGradeAfterPurge first assesses the run.
func (g ReproducibilityGrade) Valid() bool {
	switch g {
	case "", GradeFull, GradePartial, GradeNone:
		return true
	default:
		return false
	}
}

// Run is one pipeline execution.
type Run struct {
	RunID                string
	StartedAt            time.Time
	CompletedAt          *time.Time
	ConfigHash           string
	SettingsJSON         map[string]any
	CanonicalVersion     string
	Status               RunStatus
	ExportStatus         ExportStatus
	ReproducibilityGrade ReproducibilityGrade
	// TriggeredBy is an additive, optional field (SPEC_FULL.md §3.1):
	// the operator/service identity that started the run. Folded into
	// SettingsJSON on write when non-empty; never required.
	TriggeredBy string
}

// NodeType enumerates the kinds of node that can appear in the DAG.
type NodeType string

const (
	NodeTypeSource      NodeType = "source"
	NodeTypeTransform   NodeType = "transform"
	NodeTypeGate        NodeType = "gate"
	NodeTypeAggregation NodeType = "aggregation"
	NodeTypeCoalesce    NodeType = "coalesce"
	NodeTypeSink        NodeType = "sink"
)

// Valid reports whether t is one of the declared NodeType values.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeSource, NodeTypeTransform, NodeTypeGate, NodeTypeAggregation, NodeTypeCoalesce, NodeTypeSink:
		return true
	default:
		return false
	}
}

// Determinism is a node's declared reproducibility class.
type Determinism string

const (
	DeterminismGuaranteed  Determinism = "guaranteed"
	DeterminismBestEffort  Determinism = "best_effort"
	DeterminismNone        Determinism = "none"
	DeterminismIORead      Determinism = "io_read"
	DeterminismIOWrite     Determinism = "io_write"
	DeterminismExternalCall Determinism = "external_call"
)

// Valid reports whether d is one of the declared Determinism values.
func (d Determinism) Valid() bool {
	switch d {
	case DeterminismGuaranteed, DeterminismBestEffort, DeterminismNone,
		DeterminismIORead, DeterminismIOWrite, DeterminismExternalCall:
		return true
	default:
		return false
	}
}

// Node is a node registered in a run's graph.
type Node struct {
	NodeID             string
	RunID              string
	PluginName         string
	NodeType           NodeType
	PluginVersion      string
	Determinism        Determinism
	ConfigHash         string
	ConfigJSON         map[string]any
	SequenceInPipeline *int
	SchemaHash         *string
	SchemaMode         *string
	SchemaFields       map[string]any
	RegisteredAt       time.Time
	// Description is additive (SPEC_FULL.md §3.1): a human label for the
	// external lineage explorer. Never hashed, never part of
	// config_to_dict.
	Description string
}

// EdgeMode is the default routing mode of an edge.
type EdgeMode string

const (
	EdgeModeMove EdgeMode = "move"
	EdgeModeFork EdgeMode = "fork"
)

// Valid reports whether m is one of the declared EdgeMode values.
func (m EdgeMode) Valid() bool {
	switch m {
	case EdgeModeMove, EdgeModeFork:
		return true
	default:
		return false
	}
}

// Edge connects two nodes under a route label. Unique on
// (run_id, from_node_id, label).
type Edge struct {
	EdgeID      string
	RunID       string
	FromNodeID  string
	ToNodeID    string
	Label       string
	DefaultMode EdgeMode
	CreatedAt   time.Time
}

// Row is one source row. Unique on (run_id, row_index).
type Row struct {
	RowID         string
	RunID         string
	SourceNodeID  string
	RowIndex      int64
	SourceDataHash string
	SourceDataRef  *string
	CreatedAt      time.Time
}

// Token is a lineage identity flowing through the graph.
type Token struct {
	TokenID       string
	RowID         string
	BranchName    *string
	ForkGroupID   *string
	JoinGroupID   *string
	ExpandGroupID *string
	CreatedAt     time.Time
}

// TokenParent records explicit lineage for forks/expands/joins.
type TokenParent struct {
	TokenID       string
	ParentTokenID string
	Ordinal       int
}

// NodeStateStatus is the tag of the NodeState union.
type NodeStateStatus string

const (
	NodeStateOpen      NodeStateStatus = "open"
	NodeStatePending   NodeStateStatus = "pending"
	NodeStateCompleted NodeStateStatus = "completed"
	NodeStateFailed    NodeStateStatus = "failed"
)

// Valid reports whether s is one of the declared NodeStateStatus values.
func (s NodeStateStatus) Valid() bool {
	switch s {
	case NodeStateOpen, NodeStatePending, NodeStateCompleted, NodeStateFailed:
		return true
	default:
		return false
	}
}

// NodeState is the record of one attempt of a node on a token, modeled as a
// tagged union over Status rather than a class hierarchy: Completed/Failed
// fields are only meaningful when Status is the matching tag, and callers
// must switch on Status exhaustively rather than probe for nil.
type NodeState struct {
	StateID          string
	RunID            string
	TokenID          string
	NodeID           string
	StepIndex        int
	Attempt          int
	Status           NodeStateStatus
	StartedAt        time.Time
	InputHash        string
	CompletedAt      *time.Time
	DurationMS       *int64
	OutputHash       *string
	ContextBeforeJSON map[string]any
	ContextAfterJSON  map[string]any
	ErrorHash        *string // only set when Status == NodeStateFailed
}

// RoutingEvent records a gate's routing decision.
type RoutingEvent struct {
	EventID        string
	StateID        string
	RoutingGroupID string
	Decision       string
	RouteLabel     string
	IsFork         bool
	CreatedAt      time.Time
}

// CallType enumerates the external call kinds a NodeState may record.
type CallType string

const (
	CallTypeLLM CallType = "llm"
	CallTypeHTTP CallType = "http"
	CallTypeDB  CallType = "db"
)

// Valid reports whether t is one of the declared CallType values.
func (t CallType) Valid() bool {
	switch t {
	case CallTypeLLM, CallTypeHTTP, CallTypeDB:
		return true
	default:
		return false
	}
}

// CallStatus is the strict enum of a Call's outcome.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusFailed  CallStatus = "failed"
	CallStatusTimeout CallStatus = "timeout"
)

// Valid reports whether s is one of the declared CallStatus values.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusSuccess, CallStatusFailed, CallStatusTimeout:
		return true
	default:
		return false
	}
}

// Call is an external call made within a NodeState.
type Call struct {
	CallID       string
	StateID      string
	CallIndex    int
	CallType     CallType
	Status       CallStatus
	RequestHash  string
	RequestRef   *string
	ResponseHash *string
	ResponseRef  *string
	LatencyMS    *int64
	ErrorJSON    map[string]any
	CreatedAt    time.Time
	// Provider is additive (SPEC_FULL.md §3.1): which LLM backend served
	// a call_type=llm call, as reported by the plugin. The core never
	// talks to a provider itself.
	Provider string
}

// Artifact is a sink's output.
type Artifact struct {
	ArtifactID   string
	RunID        string
	SinkNodeID   string
	ArtifactType string
	ContentHash  string
	PathOrURI    string
	SizeBytes    *int64
	MetadataJSON map[string]any
	CreatedAt    time.Time
}

// Outcome is a token's disposition. Completed/Discarded/Failed are always
// terminal — the token's row lineage ends there. Buffered and Routed are
// always non-terminal: both mark a token whose row lineage continues
// under a different token (a drained batch output, a fork child, or the
// coalesce arrival that wins the join) rather than under this one, per
// spec.md §8 scenario 3 ("parent receives non-terminal outcome, children
// receive terminal outcomes").
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRouted    Outcome = "routed"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
	OutcomeBuffered  Outcome = "buffered"
)

// Valid reports whether o is one of the declared Outcome values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeRouted, OutcomeDiscarded, OutcomeFailed, OutcomeBuffered:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether o always carries the TokenOutcome.IsTerminal
// flag set. Completed/Discarded/Failed end a token's lineage outright;
// Routed/Buffered mark a token whose row continues under a different
// token (see the Outcome doc comment).
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeCompleted, OutcomeDiscarded, OutcomeFailed:
		return true
	default:
		return false
	}
}

// TokenOutcome is a token's terminal disposition. At most one row per token
// may have IsTerminal true — enforced by a partial unique index in the
// landscape schema, not merely by application logic.
type TokenOutcome struct {
	OutcomeID   string
	RunID       string
	TokenID     string
	Outcome     Outcome
	IsTerminal  bool
	SinkName    *string
	BatchID     *string
	ForkGroupID *string
	ErrorHash   *string
	ContextJSON map[string]any
	RecordedAt  time.Time
}

// Checkpoint is a durable resume point.
type Checkpoint struct {
	CheckpointID             string
	RunID                    string
	TokenID                  string
	NodeID                   string
	SequenceNumber           int64
	CreatedAt                time.Time
	UpstreamTopologyHash     string
	CheckpointNodeConfigHash string
	AggregationStateJSON     map[string]any
}

// Batch groups tokens for a batch-aware (aggregation) transform.
type Batch struct {
	BatchID   string
	RunID     string
	NodeID    string
	CreatedAt time.Time
}

// BatchMember is one token's membership in a Batch. Unique on
// (batch_id, ordinal).
type BatchMember struct {
	BatchID string
	TokenID string
	Ordinal int
}

// BatchOutput records an output token produced by draining a Batch.
type BatchOutput struct {
	BatchID      string
	OutputTokenID string
}

// ValidationErrorRecord is a typed, FK-restricted error row for
// input_schema validation failures.
type ValidationErrorRecord struct {
	ErrorID    string
	RunID      string
	NodeID     string
	TokenID    string
	FieldPath  string
	Message    string
	CreatedAt  time.Time
}

// TransformErrorRecord is a typed, FK-restricted error row for uncaught
// transform exceptions.
type TransformErrorRecord struct {
	ErrorID      string
	RunID        string
	NodeID       string
	TokenID      string
	ErrorMessage string
	StackTrace   string
	CreatedAt    time.Time
}

// Schema is the framework-owned, typed representation of a node's
// input/output schema, as opposed to a plugin's opaque PluginConfig map.
// Topology hashing and coalesce validation inspect Schema field by field;
// they never inspect PluginConfig beyond its stable hash. This preserves
// the opaque/typed split spec.md §9's Open Question calls out.
type Schema struct {
	Fields map[string]FieldSchema
}

// FieldSchema describes one field of a Schema.
type FieldSchema struct {
	Type     string // "string", "integer", "float", "boolean", "array", "object", "any"
	Required bool
}

// Equal reports whether two schemas declare the same fields with the same
// types and required-ness, regardless of map iteration order. Coalesce
// nodes require all input branches to produce equal schemas.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for name, f := range s.Fields {
		of, ok := other.Fields[name]
		if !ok || of != f {
			return false
		}
	}
	return true
}

package landscape

// schemaDDL creates the 17-table audit schema described in spec.md §3/§4.3,
// including the partial unique index token_outcomes_one_terminal that GORM
// struct tags cannot express. EnsureSchema (see compat.go) applies the whole
// of it as raw SQL; AutoMigrate is not used.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id                 TEXT PRIMARY KEY,
	started_at             TIMESTAMPTZ NOT NULL,
	completed_at           TIMESTAMPTZ,
	config_hash            TEXT NOT NULL,
	settings_json          JSONB NOT NULL DEFAULT '{}',
	canonical_version      TEXT NOT NULL,
	status                 TEXT NOT NULL,
	export_status          TEXT NOT NULL DEFAULT '',
	reproducibility_grade  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS nodes (
	node_id              TEXT PRIMARY KEY,
	run_id               TEXT NOT NULL REFERENCES runs(run_id),
	plugin_name          TEXT NOT NULL,
	node_type            TEXT NOT NULL,
	plugin_version       TEXT NOT NULL,
	determinism          TEXT NOT NULL,
	config_hash          TEXT NOT NULL,
	config_json          JSONB NOT NULL,
	sequence_in_pipeline INTEGER,
	schema_hash          TEXT,
	schema_mode          TEXT,
	schema_fields        JSONB,
	registered_at        TIMESTAMPTZ NOT NULL,
	description          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS edges (
	edge_id      TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	from_node_id TEXT NOT NULL REFERENCES nodes(node_id),
	to_node_id   TEXT NOT NULL REFERENCES nodes(node_id),
	label        TEXT NOT NULL,
	default_mode TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, from_node_id, label)
);

CREATE TABLE IF NOT EXISTS rows (
	row_id           TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(run_id),
	source_node_id   TEXT NOT NULL REFERENCES nodes(node_id),
	row_index        BIGINT NOT NULL,
	source_data_hash TEXT NOT NULL,
	source_data_ref  TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, row_index)
);

CREATE TABLE IF NOT EXISTS tokens (
	token_id        TEXT PRIMARY KEY,
	row_id          TEXT NOT NULL REFERENCES rows(row_id),
	branch_name     TEXT,
	fork_group_id   TEXT,
	join_group_id   TEXT,
	expand_group_id TEXT,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS token_parents (
	token_id        TEXT NOT NULL REFERENCES tokens(token_id),
	parent_token_id TEXT NOT NULL REFERENCES tokens(token_id),
	ordinal         INTEGER NOT NULL,
	PRIMARY KEY (token_id, parent_token_id)
);

CREATE TABLE IF NOT EXISTS node_states (
	state_id            TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL REFERENCES runs(run_id),
	token_id            TEXT NOT NULL REFERENCES tokens(token_id),
	node_id             TEXT NOT NULL REFERENCES nodes(node_id),
	step_index          INTEGER NOT NULL,
	attempt             INTEGER NOT NULL,
	status              TEXT NOT NULL,
	started_at          TIMESTAMPTZ NOT NULL,
	input_hash          TEXT NOT NULL,
	completed_at        TIMESTAMPTZ,
	duration_ms         BIGINT,
	output_hash         TEXT,
	context_before_json JSONB,
	context_after_json  JSONB,
	error_hash          TEXT,
	UNIQUE (token_id, node_id, attempt)
);

CREATE TABLE IF NOT EXISTS routing_events (
	event_id         TEXT PRIMARY KEY,
	state_id         TEXT NOT NULL REFERENCES node_states(state_id),
	routing_group_id TEXT NOT NULL,
	decision         TEXT NOT NULL,
	route_label      TEXT NOT NULL,
	is_fork          BOOLEAN NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS calls (
	call_id       TEXT PRIMARY KEY,
	state_id      TEXT NOT NULL REFERENCES node_states(state_id),
	call_index    INTEGER NOT NULL,
	call_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	request_hash  TEXT NOT NULL,
	request_ref   TEXT,
	response_hash TEXT,
	response_ref  TEXT,
	latency_ms    BIGINT,
	error_json    JSONB,
	created_at    TIMESTAMPTZ NOT NULL,
	provider      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id   TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	sink_node_id  TEXT NOT NULL REFERENCES nodes(node_id),
	artifact_type TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	path_or_uri   TEXT NOT NULL,
	size_bytes    BIGINT,
	metadata_json JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS token_outcomes (
	outcome_id    TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	token_id      TEXT NOT NULL REFERENCES tokens(token_id),
	outcome       TEXT NOT NULL,
	is_terminal   BOOLEAN NOT NULL,
	sink_name     TEXT,
	batch_id      TEXT,
	fork_group_id TEXT,
	error_hash    TEXT,
	context_json  JSONB,
	recorded_at   TIMESTAMPTZ NOT NULL
);

-- Primary invariant enforcement: at most one terminal outcome per token.
CREATE UNIQUE INDEX IF NOT EXISTS token_outcomes_one_terminal
	ON token_outcomes (token_id) WHERE is_terminal;

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id                TEXT PRIMARY KEY,
	run_id                       TEXT NOT NULL REFERENCES runs(run_id),
	token_id                     TEXT NOT NULL REFERENCES tokens(token_id),
	node_id                      TEXT NOT NULL REFERENCES nodes(node_id),
	sequence_number              BIGINT NOT NULL,
	created_at                   TIMESTAMPTZ NOT NULL,
	upstream_topology_hash       TEXT NOT NULL,
	checkpoint_node_config_hash  TEXT NOT NULL,
	aggregation_state_json       JSONB
);

CREATE TABLE IF NOT EXISTS batches (
	batch_id   TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	node_id    TEXT NOT NULL REFERENCES nodes(node_id),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_members (
	batch_id TEXT NOT NULL REFERENCES batches(batch_id),
	token_id TEXT NOT NULL REFERENCES tokens(token_id),
	ordinal  INTEGER NOT NULL,
	UNIQUE (batch_id, ordinal)
);

CREATE TABLE IF NOT EXISTS batch_outputs (
	batch_id        TEXT NOT NULL REFERENCES batches(batch_id),
	output_token_id TEXT NOT NULL REFERENCES tokens(token_id)
);

CREATE TABLE IF NOT EXISTS validation_error_records (
	error_id   TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	node_id    TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE RESTRICT,
	token_id   TEXT NOT NULL REFERENCES tokens(token_id) ON DELETE RESTRICT,
	field_path TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transform_error_records (
	error_id      TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	node_id       TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE RESTRICT,
	token_id      TEXT NOT NULL REFERENCES tokens(token_id) ON DELETE RESTRICT,
	error_message TEXT NOT NULL,
	stack_trace   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
`

// requiredTables lists every table the schema-compatibility check must
// find present, per spec.md §4.3.
var requiredTables = []string{
	"runs", "nodes", "edges", "rows", "tokens", "token_parents",
	"node_states", "routing_events", "calls", "artifacts", "token_outcomes",
	"checkpoints", "batches", "batch_members", "batch_outputs",
	"validation_error_records", "transform_error_records",
}

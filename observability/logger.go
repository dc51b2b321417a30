// Package observability provides the structured logging and tracing
// surface shared by every orchestrator component: a logrus-based Logger
// that scopes fields to runs/nodes/tokens/calls, and a span factory over
// OpenTelemetry for runs, nodes and calls. Grounded on the field-scoping
// chains in coordinator/coordinator.go (logger.WithField(...).WithField(...))
// and the OTel bootstrap in otel/init.go.
package observability

import (
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry, adding typed helpers that attach the audit
// identifiers (run_id, node_id, token_id, call_id) a reader needs to
// correlate a log line with a Landscape record, without callers having to
// remember field names.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger at the given level, formatting as JSON — the
// format every other structured consumer (log shippers, the export
// manifest) expects.
func NewLogger(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{entry: logrus.NewEntry(l)}
}

// Run scopes subsequent fields to a run.
func (l *Logger) Run(runID string) *Logger {
	return &Logger{entry: l.entry.WithField("run_id", runID)}
}

// Node scopes subsequent fields to a node within the current run.
func (l *Logger) Node(nodeID, pluginName string) *Logger {
	return &Logger{entry: l.entry.WithField("node_id", nodeID).WithField("plugin", pluginName)}
}

// Token scopes subsequent fields to a token.
func (l *Logger) Token(tokenID string) *Logger {
	return &Logger{entry: l.entry.WithField("token_id", tokenID)}
}

// Call scopes subsequent fields to an external call.
func (l *Logger) Call(callID string, callType string) *Logger {
	return &Logger{entry: l.entry.WithField("call_id", callID).WithField("call_type", callType)}
}

// With attaches arbitrary additional fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Entry exposes the underlying logrus.Entry for callers (e.g. a logrus
// hook) that need to install themselves against the real logger.
func (l *Logger) Entry() *logrus.Entry { return l.entry }

// Logger returns the *logrus.Logger backing this entry, for hook
// registration (AddHook is only defined on *logrus.Logger, not Entry).
func (l *Logger) Logger() *logrus.Logger { return l.entry.Logger }

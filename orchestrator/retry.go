package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v5"

	"github.com/sdapipe/landscape/plugin"
)

// retryCall wraps a sink/external-call invocation with exponential
// backoff, matching the shape of coordinator/coordinator.go's hand-rolled
// connectionLoop reconnect policy (initial delay, factor, max delay) but
// delegating to the library the teacher's own go.mod already names rather
// than reimplementing it.
func (o *Orchestrator) retryCall(ctx context.Context, nodeID string, op func() (plugin.ArtifactDescriptor, error)) (plugin.ArtifactDescriptor, error) {
	if lim := o.limiterFor(nodeID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			var zero plugin.ArtifactDescriptor
			return zero, err
		}
	}
	return backoff.Retry(ctx, func() (plugin.ArtifactDescriptor, error) {
		return op()
	}, backoff.WithMaxTries(5))
}

func canonicalUnmarshal(s string, out *map[string]any) error {
	return json.Unmarshal([]byte(s), out)
}

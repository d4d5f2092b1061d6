// Package tasks holds the built-in task collaborators the daemon registers
// at boot. Task bodies are opaque to the engine: each one is a single
// external call behind the invoker boundary. The stubs here stand in for the
// real classifier, generator and notifier deployments; they honour the same
// input/output contracts.
package tasks

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
)

// Labels the classifier may produce.
var ClassificationLabels = []string{"red", "green", "yellow", "orange", "purple", "unknown"}

// Classify inspects the image at input.storageRef and returns
// {classification: {label, reasoning}}. This stub derives a stable label
// from the storage reference so runs are reproducible; a real deployment
// replaces it with a model call.
func Classify(ctx context.Context, input map[string]any) (map[string]any, error) {
	ref, ok := input["storageRef"].(string)
	if !ok || ref == "" {
		return nil, &core.ClassifiedError{Kind: core.KindInvalidResult, Detail: "classify: input has no storageRef"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ref))
	label := ClassificationLabels[int(h.Sum32())%len(ClassificationLabels)]
	return map[string]any{
		"classification": map[string]any{
			"label":     label,
			"reasoning": fmt.Sprintf("derived from %s", ref),
		},
	}, nil
}

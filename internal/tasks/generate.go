package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
)

// Generate produces a placeholder image of input.width x input.height,
// writes it to input.uploadTargetRef and returns {generatedRef,
// generatedUrl}. The stub skips the actual render and upload; the contract
// is what the engine depends on.
func Generate(ctx context.Context, input map[string]any) (map[string]any, error) {
	width := asInt(input["width"])
	height := asInt(input["height"])
	if width <= 0 || height <= 0 {
		return nil, &core.ClassifiedError{Kind: core.KindInvalidResult, Detail: fmt.Sprintf("generate: invalid dimensions %dx%d", width, height)}
	}
	target, ok := input["uploadTargetRef"].(string)
	if !ok || target == "" {
		return nil, &core.ClassifiedError{Kind: core.KindInvalidResult, Detail: "generate: input has no uploadTargetRef"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("%s/%s.png", target, uuid.NewString())
	return map[string]any{
		"generatedRef": ref,
		"generatedUrl": "https://storage.local/" + ref,
	}, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

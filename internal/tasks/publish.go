package tasks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
)

// Publisher sends result notifications to a named topic. Delivery is
// at-least-once: a send failure is classified DependencyUnavailable so the
// retry policy applies rather than the message being silently dropped.
type Publisher struct {
	Topic string

	mu   sync.Mutex
	sent []map[string]any
}

func NewPublisher(topic string) *Publisher {
	return &Publisher{Topic: topic}
}

// Publish sends {subjectId, participantId, label, generatedRef?}. The stub
// records the message in memory; a real deployment posts to the topic's
// broker.
func (p *Publisher) Publish(ctx context.Context, input map[string]any) (map[string]any, error) {
	if _, ok := input["label"].(string); !ok {
		return nil, &core.ClassifiedError{Kind: core.KindInvalidResult, Detail: "publish: input has no label"}
	}
	if err := ctx.Err(); err != nil {
		return nil, &core.ClassifiedError{Kind: core.KindDependencyUnavailable, Detail: "publish: " + err.Error(), Err: err}
	}
	p.mu.Lock()
	p.sent = append(p.sent, input)
	p.mu.Unlock()
	slog.InfoContext(ctx, "Published result", "topic", p.Topic, "label", input["label"])
	return map[string]any{}, nil
}

// Sent returns a copy of the messages published so far.
func (p *Publisher) Sent() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, len(p.sent))
	copy(out, p.sent)
	return out
}

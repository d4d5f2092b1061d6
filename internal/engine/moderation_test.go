package engine

import (
	"context"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/flowmill/flowmill/internal/invoker"
	"github.com/flowmill/flowmill/internal/tasks"
	"github.com/flowmill/flowmill/internal/workflows"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
)

// findRefs probes the stub classifier for one reference it labels "unknown"
// and one it does not, so the scenarios below are deterministic.
func findRefs(t *testing.T) (known string, unknown string) {
	t.Helper()
	for i := 0; i < 10000 && (known == "" || unknown == ""); i++ {
		ref := fmt.Sprintf("photos/%d.png", i)
		out, err := tasks.Classify(context.Background(), map[string]any{"storageRef": ref})
		if err != nil {
			t.Fatalf("Classify returned error: %v", err)
		}
		label := out["classification"].(map[string]any)["label"].(string)
		if label == "unknown" {
			if unknown == "" {
				unknown = ref
			}
		} else if known == "" {
			known = ref
		}
	}
	if known == "" || unknown == "" {
		t.Fatal("could not find probe references for both scenarios")
	}
	return known, unknown
}

func loadModerationDefinition(t *testing.T) *definition.Definition {
	t.Helper()
	doc, err := fs.ReadFile(workflows.FS, "image_moderation.yaml")
	if err != nil {
		t.Fatalf("Failed to read embedded definition: %v", err)
	}
	def, err := definition.Parse(doc)
	if err != nil {
		t.Fatalf("Embedded definition does not validate: %v", err)
	}
	return def
}

func runModeration(t *testing.T, objectRef string) (*memExecutionRepo, *memHistoryRepo, *tasks.Publisher) {
	t.Helper()
	def := loadModerationDefinition(t)

	pub := tasks.NewPublisher("moderation-results-test")
	reg := invoker.NewRegistry()
	reg.Register("classify-image", tasks.Classify)
	reg.Register("generate-image", tasks.Generate)
	reg.Register("publish-result", pub.Publish)
	inv := invoker.NewRetryingInvoker(reg, time.Minute)

	execRepo := newMemExecutionRepo()
	historyRepo := &memHistoryRepo{}
	exec := newTestExecution(def, map[string]any{
		"bucketRef": "buckets/incoming",
		"objectRef": objectRef,
	})
	execRepo.Save(exec)

	eng := NewEngine(execRepo, historyRepo, inv, core.RealClock{}, Options{CancelPollInterval: 10 * time.Millisecond})
	eng.Run(context.Background(), exec, def, "0")

	if !execRepo.succeeded {
		t.Fatalf("Expected moderation run to succeed, kind=%s detail=%s", execRepo.failedKind, execRepo.failedDetail)
	}
	return execRepo, historyRepo, pub
}

func TestImageModeration_KnownLabelSkipsGeneration(t *testing.T) {
	knownRef, _ := findRefs(t)
	_, historyRepo, pub := runModeration(t, knownRef)

	for _, name := range historyRepo.stateNames() {
		if name == "Generate" {
			t.Error("Expected Generate to be skipped for a known label")
		}
	}

	sent := pub.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected exactly one published message, got %d", len(sent))
	}
	msg := sent[0]
	if msg["label"] == "unknown" {
		t.Errorf("Expected a known label, got %v", msg["label"])
	}
	if msg["participantId"] != knownRef {
		t.Errorf("Expected participantId %q, got %v", knownRef, msg["participantId"])
	}
	if msg["generatedRef"] != "" {
		t.Errorf("Expected empty generatedRef, got %v", msg["generatedRef"])
	}
}

func TestImageModeration_UnknownLabelGeneratesImage(t *testing.T) {
	_, unknownRef := findRefs(t)
	execRepo, historyRepo, pub := runModeration(t, unknownRef)

	sawGenerate := false
	for _, name := range historyRepo.stateNames() {
		if name == "Generate" {
			sawGenerate = true
		}
	}
	if !sawGenerate {
		t.Error("Expected the Generate state to run for an unknown label")
	}

	sent := pub.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected exactly one published message, got %d", len(sent))
	}
	msg := sent[0]
	if msg["label"] != "unknown" {
		t.Errorf("Expected label unknown, got %v", msg["label"])
	}
	ref, ok := msg["generatedRef"].(string)
	if !ok || ref == "" {
		t.Fatalf("Expected a generated reference, got %v", msg["generatedRef"])
	}

	output := execRepo.succeededOutput
	if output == "" {
		t.Fatal("Expected a terminal output document")
	}
}

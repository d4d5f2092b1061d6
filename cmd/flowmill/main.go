package main

import (
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/flowmill/flowmill/internal/invoker"
	"github.com/flowmill/flowmill/internal/tasks"
	"github.com/flowmill/flowmill/pkg/flowmill"
)

func main() {

	// optional .env for local development
	_ = godotenv.Load()

	//you may do your own logger setup here or use this default one with slog
	flowmill.SetupLogger()

	registry := invoker.NewRegistry()
	registry.Register("classify-image", tasks.Classify)
	registry.Register("generate-image", tasks.Generate)
	registry.Register("publish-result", tasks.NewPublisher("moderation-results").Publish)

	if err := flowmill.Start(nil, registry); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}

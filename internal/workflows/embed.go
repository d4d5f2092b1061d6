// Package workflows carries the workflow definitions that ship with the
// binary. They are registered at startup alongside any definitions already
// persisted in the database.
package workflows

import "embed"

//go:embed *.yaml
var FS embed.FS

// Names lists the embedded definition documents in registration order.
var Names = []string{"image_moderation.yaml"}

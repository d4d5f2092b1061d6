package domain

import "time"

// DefinitionRecord is the persisted form of a registered workflow
// definition: the raw source document plus registry metadata. The compiled
// representation lives in the engine's in-memory registry.
type DefinitionRecord struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

package core

import "github.com/google/uuid"

// NewID generates a fresh unique identifier, used for message, workflow,
// trace and approval identifiers throughout the core.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

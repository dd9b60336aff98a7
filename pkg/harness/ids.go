package harness

import "github.com/google/uuid"

func newArtifactID() string {
	return uuid.NewString()
}

// NewSpecID mints an identifier for a freshly constructed AgentSpec.
func NewSpecID() string {
	return uuid.NewString()
}

// NewRunID mints an identifier for a freshly constructed AgentRun.
func NewRunID() string {
	return uuid.NewString()
}

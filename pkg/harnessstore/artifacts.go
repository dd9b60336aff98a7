package harnessstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// FileArtifactWriter stores overflowed event payloads and other artifact
// bytes under <projectDir>/.agentharness/artifacts/<run_id>/<hash>.blob,
// content-addressed so re-recording identical content is a no-op. This
// mirrors the path layout the Python event recorder used
// (.autobuildr/artifacts/<run_id>/<hash>.blob) under this project's own
// namespace.
type FileArtifactWriter struct {
	projectDir string
}

var _ harness.ArtifactWriter = (*FileArtifactWriter)(nil)

// NewFileArtifactWriter roots artifact storage at projectDir.
func NewFileArtifactWriter(projectDir string) *FileArtifactWriter {
	return &FileArtifactWriter{projectDir: projectDir}
}

// Write stores content under contentHash for runID, returning a path
// relative to projectDir. Writing the same hash twice is a no-op.
func (w *FileArtifactWriter) Write(runID, contentHash string, content []byte) (string, error) {
	dir := filepath.Join(w.projectDir, ".agentharness", "artifacts", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	path := filepath.Join(dir, contentHash+".blob")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, content, 0o644); err != nil { //nolint:gosec
			return "", fmt.Errorf("write artifact content: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("stat artifact path: %w", err)
	}

	rel, err := filepath.Rel(w.projectDir, path)
	if err != nil {
		return "", fmt.Errorf("relativize artifact path: %w", err)
	}
	return rel, nil
}

// Read loads previously written artifact content back from disk, for
// Event Replay's artifact resolution when a payload overflowed inline
// storage.
func (w *FileArtifactWriter) Read(ref string) ([]byte, error) {
	path := filepath.Join(w.projectDir, ref)
	content, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read artifact content: %w", err)
	}
	return content, nil
}

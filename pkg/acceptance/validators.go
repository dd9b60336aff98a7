package acceptance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// fileExistsValidator checks filesystem presence relative to the run's
// project directory.
type fileExistsValidator struct{}

func (fileExistsValidator) Validate(_ context.Context, env Env, config map[string]any) (bool, string, error) {
	relPath, _ := config["path"].(string)
	if relPath == "" {
		return false, "", errors.New("file_exists: missing \"path\" in config")
	}
	shouldExist := true
	if v, ok := config["should_exist"].(bool); ok {
		shouldExist = v
	}

	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.ProjectDir, relPath)
	}

	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, "", fmt.Errorf("file_exists: stat %q: %w", path, err)
	}

	if exists == shouldExist {
		return true, fmt.Sprintf("%q exists=%v as expected", relPath, exists), nil
	}
	return false, fmt.Sprintf("%q exists=%v, expected %v", relPath, exists, shouldExist), nil
}

// commandValidator runs a shell command and passes on zero exit. It
// backs both test_pass and lint_clean — both validator types run a
// command and compare against a zero exit code.
type commandValidator struct{}

func (commandValidator) Validate(parentCtx context.Context, env Env, config map[string]any) (bool, string, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return false, "", errors.New("missing \"command\" in config")
	}

	timeoutSeconds := 60
	if v, ok := config["timeout"].(float64); ok && v > 0 {
		timeoutSeconds = int(v)
	}

	ctx, cancel := context.WithTimeout(parentCtx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec
	cmd.Dir = env.ProjectDir
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return false, "", fmt.Errorf("command %q timed out after %ds", command, timeoutSeconds)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Sprintf("command %q exited %d: %s", command, exitErr.ExitCode(), truncate(output, 500)), nil
		}
		return false, "", fmt.Errorf("run command %q: %w", command, err)
	}
	return true, fmt.Sprintf("command %q exited 0", command), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// forbiddenPatternsValidator scans a target file's content and fails on
// any pattern hit.
type forbiddenPatternsValidator struct{}

func (forbiddenPatternsValidator) Validate(_ context.Context, env Env, config map[string]any) (bool, string, error) {
	rawPatterns, _ := config["patterns"].([]any)
	if len(rawPatterns) == 0 {
		return false, "", errors.New("forbidden_patterns: missing \"patterns\" in config")
	}
	targetPath, _ := config["path"].(string)
	if targetPath == "" {
		return false, "", errors.New("forbidden_patterns: missing \"path\" in config")
	}
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(env.ProjectDir, targetPath)
	}

	content, err := os.ReadFile(targetPath) //nolint:gosec
	if err != nil {
		return false, "", fmt.Errorf("forbidden_patterns: read %q: %w", targetPath, err)
	}

	for _, rp := range rawPatterns {
		pattern, _ := rp.(string)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, "", fmt.Errorf("forbidden_patterns: compile %q: %w", pattern, err)
		}
		if re.Match(content) {
			return false, fmt.Sprintf("%q matches forbidden pattern %q", targetPath, pattern), nil
		}
	}
	return true, "no forbidden patterns matched", nil
}

// FeatureLookup resolves an external tracked-feature's completion state
// and count — the Acceptance Gate's only dependency on a system outside
// the run itself. Wired in by whatever owns feature tracking; tests and
// standalone runs can supply a stub.
type FeatureLookup interface {
	IsFeatureDone(ctx context.Context, featureID string) (bool, error)
	FeatureCount(ctx context.Context, filter map[string]any) (int, error)
}

type featureLookupKey struct{}

// WithFeatureLookup returns a context carrying lookup for
// feature_passing/feature_count validators to retrieve.
func WithFeatureLookup(ctx context.Context, lookup FeatureLookup) context.Context {
	return context.WithValue(ctx, featureLookupKey{}, lookup)
}

func featureLookupFrom(ctx context.Context) (FeatureLookup, bool) {
	lookup, ok := ctx.Value(featureLookupKey{}).(FeatureLookup)
	return lookup, ok
}

type featurePassingValidator struct{}

func (featurePassingValidator) Validate(ctx context.Context, _ Env, config map[string]any) (bool, string, error) {
	featureID, _ := config["feature_id"].(string)
	if featureID == "" {
		return false, "", errors.New("feature_passing: missing \"feature_id\" in config")
	}
	lookup, ok := featureLookupFrom(ctx)
	if !ok {
		return false, "", errors.New("feature_passing: no feature lookup configured for this run")
	}
	done, err := lookup.IsFeatureDone(ctx, featureID)
	if err != nil {
		return false, "", fmt.Errorf("feature_passing: look up %q: %w", featureID, err)
	}
	return done, fmt.Sprintf("feature %q done=%v", featureID, done), nil
}

type featureCountValidator struct{}

func (featureCountValidator) Validate(ctx context.Context, _ Env, config map[string]any) (bool, string, error) {
	expected, ok := config["expected_count"].(float64)
	if !ok {
		return false, "", errors.New("feature_count: missing \"expected_count\" in config")
	}
	lookup, ok := featureLookupFrom(ctx)
	if !ok {
		return false, "", errors.New("feature_count: no feature lookup configured for this run")
	}
	filter, _ := config["filter"].(map[string]any)
	count, err := lookup.FeatureCount(ctx, filter)
	if err != nil {
		return false, "", fmt.Errorf("feature_count: count features: %w", err)
	}
	return count == int(expected), fmt.Sprintf("feature count %d, expected %d", count, int(expected)), nil
}

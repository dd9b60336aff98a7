// Package policy implements the Tool Policy Enforcer: the gate every tool
// call makes before it reaches a TurnExecutor. It compiles a spec's
// ToolPolicy once at construction time — the same eager-compile,
// skip-on-error shape the masking service uses for its regex patterns —
// and then evaluates allow/deny rules, forbidden content patterns, and
// filesystem sandbox containment on every call.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// Violation describes why a tool call was denied. Type is always one of
// the four spec.md §4.4 gate names: "allowed_tools", "forbidden_tools",
// "forbidden_patterns", "directory_sandbox" (path traversal and symlink
// escapes are both reported as directory_sandbox — they're the same gate).
type Violation struct {
	Type   string
	Detail string

	// PatternMatched is set by the forbidden_patterns gate to the regex
	// that matched.
	PatternMatched string
	// AttemptedPath and NormalizedPath are set by the directory_sandbox
	// gate to the raw argument and its resolved form, respectively.
	AttemptedPath  string
	NormalizedPath string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Type, v.Detail)
}

// maxSymlinkDepth bounds the manual symlink-resolution walk used by
// Enforcer.checkPath — filepath.EvalSymlinks has no depth cap of its own,
// so a bounded walk is needed to reject symlink chains/loops instead of
// spinning or following them arbitrarily deep.
const maxSymlinkDepth = 32

// Enforcer evaluates one AgentSpec's ToolPolicy. Built once per run and
// safe for concurrent use — all mutable state (compiled patterns) is
// fixed at construction time.
type Enforcer struct {
	allowedTools       map[string]bool
	forbiddenTools     map[string]bool
	forbiddenPatterns  []*regexp.Regexp
	allowedDirectories []string
	log                *slog.Logger
}

// New compiles policy into an Enforcer. In strict mode, a pattern
// compilation failure aborts construction (returns an error); otherwise
// the bad pattern is skipped with a logged warning (spec.md §4.4).
func New(p harness.ToolPolicy, strict bool, log *slog.Logger) (*Enforcer, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Enforcer{
		allowedTools:   toSet(p.AllowedTools),
		forbiddenTools: toSet(p.ForbiddenTools),
		log:            log,
	}

	for _, resolved := range resolveDirectories(p.AllowedDirectories) {
		e.allowedDirectories = append(e.allowedDirectories, resolved)
	}

	for _, raw := range p.ForbiddenPatterns {
		compiled, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("policy: compile forbidden pattern %q: %w", raw, err)
			}
			e.log.Warn("skipping invalid forbidden pattern", "pattern", raw, "error", err)
			continue
		}
		e.forbiddenPatterns = append(e.forbiddenPatterns, compiled)
	}

	return e, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func resolveDirectories(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		out = append(out, filepath.Clean(abs))
	}
	return out
}

// CheckCall evaluates whether toolName may be invoked with arguments that
// may reference paths. It checks, in order: the forbidden-tools denylist,
// the allowed-tools allowlist (if non-empty, acts as a strict allowlist),
// forbidden content patterns against the serialized argument text, and —
// for any argument keys that look like paths — sandbox containment.
func (e *Enforcer) CheckCall(toolName string, args map[string]any, pathArgKeys []string) *Violation {
	if e.forbiddenTools[toolName] {
		return &Violation{Type: "forbidden_tools", Detail: fmt.Sprintf("tool %q is explicitly forbidden", toolName)}
	}
	if len(e.allowedTools) > 0 && !e.allowedTools[toolName] {
		return &Violation{Type: "allowed_tools", Detail: fmt.Sprintf("tool %q is not in the allowed set", toolName)}
	}

	if v := e.checkForbiddenPatterns(toolName, args); v != nil {
		return v
	}

	for _, key := range pathArgKeys {
		raw, ok := args[key]
		if !ok {
			continue
		}
		path, ok := raw.(string)
		if !ok || path == "" {
			continue
		}
		if v := e.checkPath(path); v != nil {
			return v
		}
	}

	return nil
}

func (e *Enforcer) checkForbiddenPatterns(toolName string, args map[string]any) *Violation {
	if len(e.forbiddenPatterns) == 0 {
		return nil
	}
	haystack := serializeArgs(toolName, args)
	for _, pattern := range e.forbiddenPatterns {
		if pattern.MatchString(haystack) {
			return &Violation{
				Type:           "forbidden_patterns",
				Detail:         fmt.Sprintf("argument content for tool %q matches forbidden pattern %q", toolName, pattern.String()),
				PatternMatched: pattern.String(),
			}
		}
	}
	return nil
}

// serializeArgs renders toolName and args as a canonical string: encoding/json
// marshals map keys in sorted order, so two calls with the same arguments in
// different map-iteration order always produce the same haystack.
func serializeArgs(toolName string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable argument values (e.g. channels) — fall back to a
		// stable-enough representation rather than failing the check.
		encoded = []byte(fmt.Sprintf("%v", args))
	}
	return toolName + " " + string(encoded)
}

// encodedTraversalMarkers are substrings checked for, case-insensitively,
// against the raw (pre-decoding) path argument. A path is rejected if any
// of these appear even when decoding the marker would land inside an
// allowed directory — the raw string itself is the untrusted input.
var encodedTraversalMarkers = []string{
	"%2e%2e",     // single URL-encoded ".."
	"%252e%252e", // double URL-encoded ".."
	"%00",        // URL-encoded null byte
	"%c0%ae",     // overlong UTF-8 encoding of "."
	"%c0%af",     // overlong UTF-8 encoding of "/"
	"%c1%9c",     // overlong UTF-8 encoding of "\"
}

// screenRawPath rejects traversal attempts before any path resolution
// happens: literal ".." segments, the encoded variants above, and null
// bytes. This runs against the argument exactly as received, so an
// encoded or overlong sequence that would decode to something
// containment-legal is still blocked (spec.md §4.4, §8).
func screenRawPath(raw string) error {
	if strings.ContainsRune(raw, 0) {
		return fmt.Errorf("path %q contains a null byte", raw)
	}
	lower := strings.ToLower(raw)
	for _, marker := range encodedTraversalMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("path %q contains an encoded traversal sequence %q", raw, marker)
		}
	}
	for _, seg := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("path %q contains a %q segment", raw, "..")
		}
	}
	return nil
}

// checkPath enforces that path resolves (after a bounded symlink walk)
// to somewhere inside one of the policy's allowed directories. No
// allowed directories configured means no filesystem access is granted
// at all — callers must opt in explicitly.
func (e *Enforcer) checkPath(path string) *Violation {
	if len(e.allowedDirectories) == 0 {
		return &Violation{Type: "directory_sandbox", Detail: "no allowed_directories configured, filesystem access denied", AttemptedPath: path}
	}

	if err := screenRawPath(path); err != nil {
		return &Violation{Type: "directory_sandbox", Detail: err.Error(), AttemptedPath: path}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return &Violation{Type: "directory_sandbox", Detail: fmt.Sprintf("cannot resolve path %q: %v", path, err), AttemptedPath: path}
	}
	resolved, err := resolveSymlinks(abs, maxSymlinkDepth)
	if err != nil {
		return &Violation{Type: "directory_sandbox", Detail: err.Error(), AttemptedPath: path}
	}

	for _, dir := range e.allowedDirectories {
		if isWithin(resolved, dir) {
			return nil
		}
	}
	return &Violation{
		Type:           "directory_sandbox",
		Detail:         fmt.Sprintf("path %q resolves outside all allowed directories", path),
		AttemptedPath:  path,
		NormalizedPath: resolved,
	}
}

// resolveSymlinks walks path component by component (parent directories
// first), following at most depth symlink hops per component, and returns
// the fully resolved absolute path. It errors rather than looping forever
// on a symlink cycle.
func resolveSymlinks(path string, depth int) (string, error) {
	current := path
	for hops := 0; hops < depth; hops++ {
		if dir := filepath.Dir(current); dir != current {
			parent, err := resolveSymlinks(dir, depth)
			if err != nil {
				return "", err
			}
			current = filepath.Join(parent, filepath.Base(current))
		}
		info, err := os.Lstat(current)
		if err != nil {
			// Path (or a leading component) doesn't exist yet — e.g. a
			// file about to be created. Nothing further to resolve.
			return current, nil //nolint:nilerr
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return current, nil
		}
		target, err := os.Readlink(current)
		if err != nil {
			return "", fmt.Errorf("read symlink %q: %w", current, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = filepath.Clean(target)
	}
	return "", fmt.Errorf("symlink chain at %q exceeds max depth %d", path, depth)
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// AllowedToolNames returns the configured allowlist, for callers that
// need to advertise available tools (e.g. ListTools filtering).
func (e *Enforcer) AllowedToolNames() []string {
	names := make([]string, 0, len(e.allowedTools))
	for name := range e.allowedTools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

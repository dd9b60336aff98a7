package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

func TestCheckCallAllowDeny(t *testing.T) {
	p := harness.ToolPolicy{
		AllowedTools:   []string{"read_file", "bash", "rm_rf"},
		ForbiddenTools: []string{"rm_rf"},
	}
	e, err := New(p, true, nil)
	require.NoError(t, err)

	t.Run("forbidden tool always denied even if also allowed", func(t *testing.T) {
		v := e.CheckCall("rm_rf", nil, nil)
		require.NotNil(t, v)
		assert.Equal(t, "forbidden_tools", v.Type)
	})

	t.Run("allowed tool passes", func(t *testing.T) {
		assert.Nil(t, e.CheckCall("bash", nil, nil))
	})

	t.Run("tool outside allowlist denied", func(t *testing.T) {
		v := e.CheckCall("curl", nil, nil)
		require.NotNil(t, v)
		assert.Equal(t, "allowed_tools", v.Type)
	})
}

func TestCheckCallEmptyAllowlistMeansUnrestricted(t *testing.T) {
	e, err := New(harness.ToolPolicy{}, true, nil)
	require.NoError(t, err)
	assert.Nil(t, e.CheckCall("anything", nil, nil))
}

func TestForbiddenPatternCompilation(t *testing.T) {
	t.Run("strict mode aborts on invalid pattern", func(t *testing.T) {
		_, err := New(harness.ToolPolicy{ForbiddenPatterns: []string{"("}}, true, nil)
		require.Error(t, err)
	})

	t.Run("non-strict mode skips invalid pattern and keeps valid ones", func(t *testing.T) {
		e, err := New(harness.ToolPolicy{
			ForbiddenPatterns: []string{"(", "rm\\s+-rf"},
		}, false, nil)
		require.NoError(t, err)
		require.Len(t, e.forbiddenPatterns, 1)
	})
}

func TestCheckForbiddenPatternMatch(t *testing.T) {
	e, err := New(harness.ToolPolicy{
		ForbiddenPatterns: []string{`rm\s+-rf`},
	}, true, nil)
	require.NoError(t, err)

	t.Run("matching argument content is denied", func(t *testing.T) {
		v := e.CheckCall("bash", map[string]any{"command": "rm -rf /"}, nil)
		require.NotNil(t, v)
		assert.Equal(t, "forbidden_patterns", v.Type)
		assert.NotEmpty(t, v.PatternMatched)
	})

	t.Run("non-matching content passes", func(t *testing.T) {
		assert.Nil(t, e.CheckCall("bash", map[string]any{"command": "ls -la"}, nil))
	})
}

func TestForbiddenPatternMatchIsCaseInsensitive(t *testing.T) {
	e, err := New(harness.ToolPolicy{
		ForbiddenPatterns: []string{`drop\s+table`},
	}, true, nil)
	require.NoError(t, err)

	v := e.CheckCall("run_sql", map[string]any{"query": "DROP TABLE users"}, nil)
	require.NotNil(t, v)
	assert.Equal(t, "forbidden_patterns", v.Type)
}

func TestSerializeArgsIsOrderIndependent(t *testing.T) {
	a := serializeArgs("bash", map[string]any{"command": "ls", "cwd": "/tmp"})
	b := serializeArgs("bash", map[string]any{"cwd": "/tmp", "command": "ls"})
	assert.Equal(t, a, b)
}

func TestPathSandboxing(t *testing.T) {
	base := t.TempDir()
	allowedDir := filepath.Join(base, "workspace")
	require.NoError(t, os.MkdirAll(allowedDir, 0o755))
	outsideDir := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outsideDir, 0o755))

	e, err := New(harness.ToolPolicy{AllowedDirectories: []string{allowedDir}}, true, nil)
	require.NoError(t, err)

	t.Run("no allowed_directories denies everything", func(t *testing.T) {
		bare, err := New(harness.ToolPolicy{}, true, nil)
		require.NoError(t, err)
		v := bare.CheckCall("write_file", map[string]any{"path": filepath.Join(allowedDir, "x.txt")}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("path inside an allowed directory passes", func(t *testing.T) {
		v := e.CheckCall("write_file", map[string]any{"path": filepath.Join(allowedDir, "x.txt")}, []string{"path"})
		assert.Nil(t, v)
	})

	t.Run("path traversal out of the sandbox is denied", func(t *testing.T) {
		escape := filepath.Join(allowedDir, "..", "outside", "y.txt")
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("symlink escaping the sandbox is denied", func(t *testing.T) {
		link := filepath.Join(allowedDir, "escape-link")
		require.NoError(t, os.Symlink(outsideDir, link))
		v := e.CheckCall("write_file", map[string]any{"path": filepath.Join(link, "z.txt")}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("non-path argument keys are ignored", func(t *testing.T) {
		v := e.CheckCall("bash", map[string]any{"command": "/etc/passwd"}, []string{"path"})
		assert.Nil(t, v)
	})

	t.Run("literal .. segment is denied before any resolution", func(t *testing.T) {
		escape := allowedDir + "/../outside/y.txt"
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
		assert.Equal(t, escape, v.AttemptedPath)
	})

	t.Run("encoded traversal is denied even though decoding it stays inside the sandbox", func(t *testing.T) {
		escape := allowedDir + "/%2e%2e/workspace/y.txt"
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("double-encoded traversal is denied", func(t *testing.T) {
		escape := allowedDir + "/%252e%252e/outside/y.txt"
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("overlong UTF-8 encoded slash is denied", func(t *testing.T) {
		escape := allowedDir + "%c0%af..%c0%afoutside/y.txt"
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})

	t.Run("null byte is denied", func(t *testing.T) {
		escape := allowedDir + "/x.txt\x00.jpg"
		v := e.CheckCall("write_file", map[string]any{"path": escape}, []string{"path"})
		require.NotNil(t, v)
		assert.Equal(t, "directory_sandbox", v.Type)
	})
}

func TestResolveSymlinksDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.Symlink(b, a))
	require.NoError(t, os.Symlink(a, b))

	_, err := resolveSymlinks(a, maxSymlinkDepth)
	require.Error(t, err)
}

package ignoreengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEvaluateBuiltinNames(t *testing.T) {
	root := t.TempDir()
	e := New(Options{ScanRoot: root})

	v := e.Evaluate(filepath.Join(root, "project", "node_modules"), true)
	assert.True(t, v.Skip)
	assert.False(t, v.Descend)

	v = e.Evaluate(filepath.Join(root, "project", ".git"), true)
	assert.True(t, v.Skip)

	v = e.Evaluate(filepath.Join(root, "project", "src"), true)
	assert.False(t, v.Skip)
	assert.True(t, v.Descend)
}

func TestEvaluateBuiltinSuffix(t *testing.T) {
	root := t.TempDir()
	e := New(Options{ScanRoot: root})

	v := e.Evaluate(filepath.Join(root, "app", "MyKit.build"), true)
	assert.True(t, v.Skip)
}

func TestEvaluatePathIgnoreFile(t *testing.T) {
	root := t.TempDir()
	ignoreFile := filepath.Join(root, ".pathignore")
	writeFile(t, ignoreFile, "# comment\nscratch/tmp\n\n**/target\n*.log\n")

	e := New(Options{ScanRoot: root, PathIgnoreFiles: []string{ignoreFile}})

	assert.True(t, e.Evaluate(filepath.Join(root, "scratch", "tmp"), true).Skip)
	assert.True(t, e.Evaluate(filepath.Join(root, "scratch", "tmp", "a.txt"), false).Skip)
	assert.False(t, e.Evaluate(filepath.Join(root, "scratch", "keep"), true).Skip)

	// **/target matches the segment anywhere.
	assert.True(t, e.Evaluate(filepath.Join(root, "proj", "target"), true).Skip)
	assert.True(t, e.Evaluate(filepath.Join(root, "a", "b", "target"), true).Skip)

	// Ordinary glob matched against path suffixes.
	assert.True(t, e.Evaluate(filepath.Join(root, "logs", "build.log"), false).Skip)
	assert.False(t, e.Evaluate(filepath.Join(root, "logs", "build.txt"), false).Skip)
}

func TestEvaluateMissingSourcesNotFatal(t *testing.T) {
	root := t.TempDir()
	e := New(Options{
		ScanRoot:        root,
		PathIgnoreFiles: []string{filepath.Join(root, "does-not-exist")},
	})
	assert.False(t, e.Evaluate(filepath.Join(root, "file.txt"), false).Skip)
}

func TestEvaluateGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", ".gitignore"), "dist/\n*.o\n")
	writeFile(t, filepath.Join(root, "proj", "main.c"), "")

	e := New(Options{ScanRoot: root})

	assert.True(t, e.Evaluate(filepath.Join(root, "proj", "dist"), true).Skip)
	assert.True(t, e.Evaluate(filepath.Join(root, "proj", "main.o"), false).Skip)
	assert.False(t, e.Evaluate(filepath.Join(root, "proj", "main.c"), false).Skip)
	// Rules are scoped to the .gitignore's own subtree.
	assert.False(t, e.Evaluate(filepath.Join(root, "other", "main.o"), false).Skip)
}

func TestCompileCacheInvalidatesOnMTimeChange(t *testing.T) {
	root := t.TempDir()
	ignoreFile := filepath.Join(root, ".pathignore")
	writeFile(t, ignoreFile, "old\n")

	e := New(Options{ScanRoot: root, PathIgnoreFiles: []string{ignoreFile}})
	assert.True(t, e.Evaluate(filepath.Join(root, "old"), true).Skip)
	assert.False(t, e.Evaluate(filepath.Join(root, "new"), true).Skip)

	writeFile(t, ignoreFile, "new\n")
	// Push the mtime forward so the change is visible even on coarse clocks.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(ignoreFile, future, future))
	// Force the next Evaluate past the recompile interval.
	e.mu.Lock()
	e.checkedAt = time.Time{}
	e.mu.Unlock()

	assert.True(t, e.Evaluate(filepath.Join(root, "new"), true).Skip)
	assert.False(t, e.Evaluate(filepath.Join(root, "old"), true).Skip)
}

func TestGitignoreDiscoveryDepthBound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "a\n")
	writeFile(t, filepath.Join(root, "l1", ".gitignore"), "b\n")
	writeFile(t, filepath.Join(root, "l1", "l2", "l3", "l4", ".gitignore"), "c\n")

	found := discoverGitignores(root, 3)
	require.Len(t, found, 2)
	assert.Equal(t, filepath.Join(root, ".gitignore"), found[0])
	assert.Equal(t, filepath.Join(root, "l1", ".gitignore"), found[1])
}

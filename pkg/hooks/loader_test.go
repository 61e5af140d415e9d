package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

const goodPlugin = `package main

import "fmt"

var runs int

func BeforeRun(ctx map[string]any) error {
	runs++
	if _, ok := ctx["repoRoot"]; !ok {
		return fmt.Errorf("missing repoRoot")
	}
	return nil
}

func AfterIteration(ctx map[string]any) error {
	return nil
}
`

func TestLoadDirMissingDirectory(t *testing.T) {
	d := NewDispatcher()
	err := LoadDir(d, filepath.Join(t.TempDir(), "no-such-dir"))
	require.NoError(t, err)
	assert.Equal(t, 0, d.PluginCount())
}

func TestLoadDirRegistersHooks(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "notify.go", goodPlugin)

	d := NewDispatcher()
	require.NoError(t, LoadDir(d, dir))
	require.Equal(t, 1, d.PluginCount())

	p := d.plugins[0]
	assert.Equal(t, "notify", p.Name)
	assert.NotNil(t, p.BeforeRun)
	assert.NotNil(t, p.AfterIteration)
	assert.Nil(t, p.Done, "undeclared hooks stay absent")

	// The adapted hook round-trips the payload map without error.
	assert.NoError(t, p.BeforeRun(Context{RepoRoot: "/repo"}))
}

func TestLoadDirRejectsWrongShape(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "bad.go", `package main

func BeforeRun(a, b string) {}
`)

	d := NewDispatcher()
	err := LoadDir(d, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BeforeRun")
}

func TestLoadDirRejectsHooklessFile(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "empty.go", `package main

func helper() {}
`)

	d := NewDispatcher()
	err := LoadDir(d, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hook functions")
}

func TestManifestControlsLoading(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "a.go", goodPlugin)
	writePlugin(t, dir, "b.go", goodPlugin)
	writePlugin(t, dir, "plugins.yaml", `plugins:
  - file: b.go
  - file: a.go
    enabled: false
`)

	d := NewDispatcher()
	require.NoError(t, LoadDir(d, dir))
	require.Equal(t, 1, d.PluginCount())
	assert.Equal(t, "b", d.plugins[0].Name)
}

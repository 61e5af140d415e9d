package backlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	content := `# Backlog

- [ ] implement the parser
- [x] set up the repo
* [ ] wire up metrics
  - [X] nested, already done
Some prose that is not an item.
- [not an item]
`
	stats := Scan(content)
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 2, stats.Done)
	assert.Equal(t, 4, stats.Total())
	assert.True(t, stats.HasActionableItems())
}

func TestScanAllDone(t *testing.T) {
	stats := Scan("- [x] one\n- [X] two\n")
	assert.False(t, stats.HasActionableItems())
	assert.Equal(t, 2, stats.Done)
}

func TestScanEmpty(t *testing.T) {
	stats := Scan("")
	assert.False(t, stats.HasActionableItems())
	assert.Equal(t, 0, stats.Total())
}

func TestScanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BACKLOG.md")
	require.NoError(t, os.WriteFile(path, []byte("- [ ] task\n"), 0o644))

	stats, err := ScanFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Open)

	_, err = ScanFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	target := filepath.Join(root, "a", ".wsexec-test.yaml")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	p, err := FindUp(".wsexec-test.yaml", nested)
	require.NoError(t, err)
	assert.Equal(t, target, p)

	p, err = FindUp(".wsexec-test-missing.yaml", nested)
	require.NoError(t, err)
	assert.Equal(t, "", p)
}

func TestFindUpSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "x", ".wsexec-test.yaml"), 0o755))

	p, err := FindUp(".wsexec-test.yaml", filepath.Join(root, "x"))
	require.NoError(t, err)
	assert.Equal(t, "", p)
}

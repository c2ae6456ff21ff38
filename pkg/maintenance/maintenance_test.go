package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCameraManifest(t *testing.T) {
	cameraDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cameraDir, "b.txt"), []byte("abc"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(cameraDir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cameraDir, "sub", "a.txt"), []byte("abc"), 0644))

	m, err := NewMaintenance(t.TempDir(), 2)
	require.NoError(t, err)
	defer m.Close()

	path, err := m.GenerateCameraManifest(context.Background(), cameraDir, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	sum := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, sum+" *b.txt", lines[0])
	assert.Equal(t, sum+" *sub/a.txt", lines[1])
}

func TestBackupSQLite(t *testing.T) {
	src := filepath.Join(t.TempDir(), "metadata.db")
	require.NoError(t, os.WriteFile(src, []byte("sqlite-bytes"), 0644))

	m, err := NewMaintenance(t.TempDir(), 1)
	require.NoError(t, err)
	defer m.Close()

	target, err := m.BackupSQLite(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "sqlite-bytes", string(data))
}

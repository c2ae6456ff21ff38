package hasher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ISS071-E-1.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := CalculateSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
	assert.Equal(t, sum, CalculateSHA256FromBytes([]byte("abc")))

	_, err = CalculateSHA256(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	full := filepath.Join(dir, "full.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	require.NoError(t, os.WriteFile(full, []byte("x"), 0644))

	assert.False(t, NonEmptyFile(empty))
	assert.True(t, NonEmptyFile(full))
	assert.False(t, NonEmptyFile(dir))
	assert.False(t, NonEmptyFile(filepath.Join(dir, "nope")))
}

package pkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGenerateRandomString(t *testing.T) {
	s, err := GenerateRandomString(0)
	require.Error(t, err)
	assert.Empty(t, s)

	for i := 1; i <= 8; i++ {
		s, err := GenerateRandomString(i * 5)
		require.NoError(t, err)
		assert.Len(t, s, i*5)
	}
}

func TestBytesToString(t *testing.T) {
	want := "test"
	got := BytesToString([]byte(want))
	assert.Equal(t, want, got)
}

func TestPathExists(t *testing.T) {
	exists, err := PathExists("/invalid/path/some-dir", true)
	assert.NoError(t, err)
	assert.False(t, exists)
	exists, err = PathExists("/invalid/path/some-file", false)
	assert.NoError(t, err)
	assert.False(t, exists)

	tempDir := t.TempDir()
	exists, err = PathExists(tempDir, true)
	assert.NoError(t, err)
	assert.True(t, exists)
	exists, err = PathExists(tempDir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
	assert.False(t, exists)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	exists, err := PathExists(dir, true)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"pose10.json", "pose2.json", "pose1.JSON", "notes.json", "pose3.jpg", "readme"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pose4.json"), 0o755))

	files, err := ListNumberedFiles(dir, ".json")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "pose1.JSON", files[0].Name)
	assert.Equal(t, 2, files[1].Number)
	assert.Equal(t, "pose10.json", files[2].Name)
	assert.Equal(t, filepath.Join(dir, "pose10.json"), files[2].Path)

	_, err = ListNumberedFiles(filepath.Join(dir, "missing"), ".json")
	assert.Error(t, err)
}

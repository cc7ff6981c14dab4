package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintPasswordHash(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPasswordHash(&out, "namaste"))

	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.True(t, pkg.CheckPasswordHash("namaste", hash))
	assert.False(t, pkg.CheckPasswordHash("namaskar", hash))
}

func TestCheckPaths_CreatesProgressDir(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		ProgressStore:  config.ProgressStoreFile,
		ProgressFile:   filepath.Join(root, "data", "posecoach", "progress.json"),
		ReferencesPath: filepath.Join(root, "missing"),
	}

	require.NoError(t, checkPaths(cfg))
	stat, err := os.Stat(filepath.Join(root, "data", "posecoach"))
	require.NoError(t, err)
	assert.True(t, stat.IsDir())

	// idempotent
	require.NoError(t, checkPaths(cfg))
}

func TestCheckPaths_ReferencesIsAFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "pose_landmarks")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	cfg := &config.Config{
		ProgressStore:  config.ProgressStorePostgres,
		ReferencesPath: file,
	}
	assert.Error(t, checkPaths(cfg))
}

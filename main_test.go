package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowyourcar/ml"
)

func writeServerConfig(t *testing.T, dir, artifact string) string {
	t.Helper()
	body := fmt.Sprintf(`http:
  port: 18080
log:
  level: error
  file: %q
database:
  path: %q
ml:
  artifact_path: %q
  watch_artifact: false
`, filepath.Join(dir, "kyc.log"), filepath.Join(dir, "kyc.db"), artifact)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunRefusesToStartWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	cfg := writeServerConfig(t, dir, filepath.Join(dir, "absent.kyc"))

	err := run(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ml.ErrArtifactMissing)

	_, statErr := os.Stat(filepath.Join(dir, "kyc.db"))
	assert.True(t, os.IsNotExist(statErr), "audit store opened before the model loaded")
}

func TestRunRefusesToStartWithCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "pipeline.kyc")
	require.NoError(t, os.WriteFile(artifact, []byte("not a pipeline"), 0o644))
	cfg := writeServerConfig(t, dir, artifact)

	err := run(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ml.ErrArtifactCorrupt)
}

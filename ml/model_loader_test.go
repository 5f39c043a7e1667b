package ml

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.kyc")
	require.NoError(t, SavePipeline(fitSynthetic(t), path))

	m, err := LoadModel(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, path, m.Path())
	assert.False(t, m.LoadedAt().IsZero())
	pred, err := m.Pipeline().PredictRow(sampleRow())
	require.NoError(t, err)
	assert.Greater(t, pred.Value, 0.0)
}

func TestLoadModelFailures(t *testing.T) {
	_, err := LoadModel("", nil)
	assert.ErrorIs(t, err, ErrArtifactMissing)

	_, err = LoadModel(filepath.Join(t.TempDir(), "absent.kyc"), nil)
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestModelWatchLogsArtifactChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.kyc")
	p := fitSynthetic(t)
	require.NoError(t, SavePipeline(p, path))

	core, logs := observer.New(zap.WarnLevel)
	m, err := LoadModel(path, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, m.Watch())

	before, err := m.Pipeline().PredictRow(sampleRow())
	require.NoError(t, err)

	other, _ := syntheticRows(150, 12)
	labels := make([]float64, len(other))
	for i := range labels {
		labels[i] = float64(i)
	}
	replacement, err := Fit(other, labels, FitOptions{})
	require.NoError(t, err)
	require.NoError(t, SavePipeline(replacement, path))

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("artifact changed on disk; restart to serve it").Len() > 0
	}, 3*time.Second, 20*time.Millisecond)

	after, err := m.Pipeline().PredictRow(sampleRow())
	require.NoError(t, err)
	assert.Equal(t, before.Value, after.Value)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNewModel(t *testing.T) {
	_, err := NewModel(nil, nil)
	assert.Error(t, err)

	m, err := NewModel(fitSynthetic(t), nil)
	require.NoError(t, err)
	assert.Error(t, m.Watch())
	assert.NoError(t, m.Close())
}

package sched

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPolicy records how often the store asked it for a rate.
type countingPolicy struct {
	rate  float64
	calls int
}

func (p *countingPolicy) RateForEpoch(_ *History, _ int) (float64, error) {
	p.calls++
	return p.rate, nil
}

func newTestHistory(t *testing.T, policy RatePolicy) *History {
	t.Helper()
	h, err := NewHistory(1.0, "", "", policy)
	require.NoError(t, err)
	return h
}

func TestNewHistory_SeedsEpochOne(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	rec, ok := h.Record(1)
	require.True(t, ok)
	assert.Equal(t, 1.0, rec.LearningRate)
	assert.Empty(t, rec.Error)
}

func TestGetRate_CachesPolicyResult(t *testing.T) {
	// GIVEN an epoch with no record
	p := &countingPolicy{rate: 0.125}
	h := newTestHistory(t, p)

	// WHEN its rate is requested twice
	first, err := h.GetRate(5)
	require.NoError(t, err)
	second, err := h.GetRate(5)
	require.NoError(t, err)

	// THEN the policy computed it once and the store served the cached record
	assert.Equal(t, 0.125, first)
	assert.Equal(t, 0.125, second)
	assert.Equal(t, 1, p.calls)
}

func TestGetRate_EpochZeroPanics(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	assert.Panics(t, func() { h.GetRate(0) })
	assert.Panics(t, func() { h.GetRate(-3) })
}

func TestSetRate_PreservesErrorMap(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"dev_score": 2.0})

	h.SetRate(1, 0.5)

	rec, _ := h.Record(1)
	assert.Equal(t, 0.5, rec.LearningRate)
	assert.Equal(t, map[string]float64{"dev_score": 2.0}, rec.Error)
}

func TestLastEpochBefore(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetRate(3, 0.5)
	h.SetRate(7, 0.25)

	last, ok := h.LastEpochBefore(7)
	require.True(t, ok)
	assert.Equal(t, 3, last)

	last, ok = h.LastEpochBefore(8)
	require.True(t, ok)
	assert.Equal(t, 7, last)

	_, ok = h.LastEpochBefore(1)
	assert.False(t, ok)
}

func TestSetError_MergesMetrics(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"dev_score": 2.0, "train_score": 1.8})
	h.SetError(1, map[string]float64{"dev_score": 1.9, "dev_error": 0.4})

	rec, _ := h.Record(1)
	assert.Equal(t, map[string]float64{"dev_score": 1.9, "train_score": 1.8, "dev_error": 0.4}, rec.Error)
}

func TestSetError_UnrequestedEpochPanics(t *testing.T) {
	// The training loop must call GetRate for an epoch before reporting results.
	h := newTestHistory(t, &Constant{Initial: 1.0})
	assert.Panics(t, func() { h.SetError(4, map[string]float64{"dev_score": 1.0}) })
}

func TestErrorKey_ConfiguredKeyWins(t *testing.T) {
	h, err := NewHistory(1.0, "dev_error", "", &Constant{Initial: 1.0})
	require.NoError(t, err)
	h.SetError(1, map[string]float64{"dev_score": 2.0})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "dev_error", key)
}

func TestErrorKey_NoMetricsYet(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	_, ok := h.ErrorKey()
	assert.False(t, ok)
}

func TestErrorKey_SoleMetric(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"frame_error": 0.3})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "frame_error", key)
}

func TestErrorKey_PrefersDevScore(t *testing.T) {
	// "dev_score" wins over "train_score" and anything lexicographically
	// smaller, regardless of insertion order.
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"a_metric": 1.0, "train_score": 1.8, "dev_score": 2.0})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "dev_score", key)
}

func TestErrorKey_PrefersTrainScoreWithoutDevScore(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"a_metric": 1.0, "train_score": 1.8})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "train_score", key)
}

func TestErrorKey_FallsBackToSmallestName(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"frame_error": 0.3, "edit_distance": 4.0})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "edit_distance", key)
}

func TestErrorKey_UsesEarliestEpoch(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"train_score": 1.8})
	h.SetRate(2, 0.5)
	h.SetError(2, map[string]float64{"dev_score": 2.0, "train_score": 1.7})

	key, ok := h.ErrorKey()
	require.True(t, ok)
	assert.Equal(t, "train_score", key)
}

func TestErrorValue_MissingKeyNamesConfigOption(t *testing.T) {
	h, err := NewHistory(1.0, "dev_error", "", &Constant{Initial: 1.0})
	require.NoError(t, err)
	h.SetError(1, map[string]float64{"dev_score": 2.0})

	_, err = h.ErrorValue(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev_error")
	assert.Contains(t, err.Error(), KeyErrorMeasure)
}

func TestErrorValue_ResolvedMetric(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetError(1, map[string]float64{"dev_score": 2.0, "train_score": 1.8})

	v, err := h.ErrorValue(1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	// GIVEN a populated store with multi-metric error maps
	path := filepath.Join(t.TempDir(), "learning_rates.yaml")
	h, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	require.NoError(t, err)
	h.SetError(1, map[string]float64{"dev_score": 2.0, "train_score": 1.8})
	h.SetRate(2, 0.5)
	h.SetError(2, map[string]float64{"dev_score": 1.9})
	h.SetRate(3, 0.25)

	// WHEN it is saved and loaded into a fresh store
	require.NoError(t, h.Save())
	loaded, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	require.NoError(t, err)

	// THEN the epoch -> record mapping is identical
	require.Equal(t, h.Epochs(), loaded.Epochs())
	for _, e := range h.Epochs() {
		want, _ := h.Record(e)
		got, _ := loaded.Record(e)
		assert.Equal(t, want, got, "epoch %d", e)
	}
}

func TestSave_NoPathIsNoOp(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	assert.NoError(t, h.Save())
	assert.NoError(t, h.Load())
}

func TestLoad_MissingFileIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	h, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	require.NoError(t, err)

	require.NoError(t, h.Load())
	_, ok := h.Record(1)
	assert.True(t, ok, "seeded epoch 1 must survive a no-op load")
}

func TestLoad_LegacyScalarError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning_rates.yaml")
	legacy := "1:\n  learning_rate: 1.0\n  error: 2.5\n2:\n  learning_rate: 0.5\n  error:\n    dev_score: 1.9\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	h, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	require.NoError(t, err)

	rec, ok := h.Record(1)
	require.True(t, ok)
	assert.Equal(t, map[string]float64{OldFormatScoreKey: 2.5}, rec.Error)

	rec, ok = h.Record(2)
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"dev_score": 1.9}, rec.Error)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning_rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("1:\n  lr: 1.0\n"), 0o644))

	_, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	assert.ErrorContains(t, err, "unknown field")
}

func TestLoad_NonPositiveEpochFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning_rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("0:\n  learning_rate: 1.0\n"), 0o644))

	_, err := NewHistory(1.0, "", path, &Constant{Initial: 1.0})
	assert.ErrorContains(t, err, "out of range")
}

func TestHistory_String_SortedEpochs(t *testing.T) {
	h := newTestHistory(t, &Constant{Initial: 1.0})
	h.SetRate(3, 0.25)
	h.SetRate(2, 0.5)

	s := h.String()
	assert.Regexp(t, `1: .*2: .*3: `, s)
}

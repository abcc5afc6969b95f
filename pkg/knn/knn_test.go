package knn

import (
	"fmt"
	"testing"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, options *Options) *Classifier {
	t.Helper()
	c, err := NewClassifier(logs.NewTestingLog(t), options)
	require.NoError(t, err)
	return c
}

// Unit vector at angle theta in the XY plane of a 4-dim space.
// Cosine distance between two of these is 1 - cos(thetaA - thetaB).
func unitVec(theta float32) []float32 {
	return []float32{math32.Cos(theta), math32.Sin(theta), 0, 0}
}

// Angle whose unit vector sits at the given cosine distance from unitVec(0)
func angleForDistance(distance float32) float32 {
	return math32.Acos(1 - distance)
}

func TestOptionsValidated(t *testing.T) {
	bad := DefaultOptions()
	bad.K = 0
	_, err := NewClassifier(nil, bad)
	require.Error(t, err)

	bad = DefaultOptions()
	bad.MaxSamplesPerClass = -1
	_, err = NewClassifier(nil, bad)
	require.Error(t, err)
}

func TestPredictEmptyStore(t *testing.T) {
	c := newTestClassifier(t, nil)
	result := c.Predict(unitVec(0))
	require.Equal(t, UnknownLabel, result.Label)
	require.False(t, result.IsKnown)
	require.Equal(t, float32(0), result.Confidence)
	require.Empty(t, result.Neighbors)
}

func TestDimensionGuard(t *testing.T) {
	c := newTestClassifier(t, nil)
	c.AddSample([]float32{1, 0, 0, 0}, "queen")
	c.AddSample([]float32{1, 0}, "queen") // wrong dimension, ignored
	require.Equal(t, 1, c.Stats().TotalSamples)

	// After Reset the first insert re-fixes the dimension
	c.Reset()
	c.AddSample([]float32{1, 0}, "queen")
	require.Equal(t, 1, c.Stats().TotalSamples)
}

func TestMemoryBound(t *testing.T) {
	options := DefaultOptions()
	options.MaxSamplesPerClass = 10
	c := newTestClassifier(t, options)
	for i := 0; i < 15; i++ {
		// Encode the insertion index in the embedding so we can identify survivors
		c.AddSample([]float32{1, float32(i), 0, 0}, "joker")
	}
	stats := c.Stats()
	require.Equal(t, 10, stats.TotalSamples)
	require.Equal(t, 10, stats.SamplesPerClass["joker"])

	// The survivors are the most recently inserted
	snapshot := c.Snapshot()
	require.Len(t, snapshot.Samples, 10)
	for i, s := range snapshot.Samples {
		require.Equal(t, float32(i+5), s.Embedding[1])
	}
}

func TestEvictionOnlyTouchesOverflowingClass(t *testing.T) {
	options := DefaultOptions()
	options.MaxSamplesPerClass = 3
	c := newTestClassifier(t, options)
	c.AddSample(unitVec(0.5), "king")
	for i := 0; i < 5; i++ {
		c.AddSample(unitVec(0), "joker")
	}
	stats := c.Stats()
	require.Equal(t, 3, stats.SamplesPerClass["joker"])
	require.Equal(t, 1, stats.SamplesPerClass["king"])
}

func TestRemoveSamples(t *testing.T) {
	c := newTestClassifier(t, nil)
	c.AddSample(unitVec(0), "king")
	c.AddSample(unitVec(0.1), "king")
	c.AddSample(unitVec(1.0), "queen")
	require.Equal(t, 2, c.RemoveSamples("king"))
	stats := c.Stats()
	require.Equal(t, []string{"queen"}, stats.TrainedClasses)
	require.Equal(t, 1, stats.TotalSamples)
}

func TestPredictTwoClasses(t *testing.T) {
	c := newTestClassifier(t, nil)
	for i := 0; i < 3; i++ {
		c.AddSample(unitVec(0+float32(i)*0.01), "king")
		c.AddSample(unitVec(1.2+float32(i)*0.01), "queen")
	}
	result := c.Predict(unitVec(0.005))
	require.True(t, result.IsKnown)
	require.Equal(t, "king", result.Label)
	require.Greater(t, result.Confidence, float32(0.6))
	require.Len(t, result.Neighbors, 3)
	require.Equal(t, "king", result.Neighbors[0].Label)
	require.InDelta(t, 1.0, result.AllScores["king"], 1e-4)
}

func TestSingleClassGuard(t *testing.T) {
	options := DefaultOptions()
	// Threshold low enough that the query below passes it, to isolate the
	// single-class distance guard
	options.ConfidenceThreshold = 0.2
	c := newTestClassifier(t, options)
	for i := 0; i < 3; i++ {
		c.AddSample(unitVec(0), "king")
	}
	// Query at cosine distance 0.3: confidence 0.25 clears the threshold and
	// the nearest neighbor is inside MaxKnownDistance, but with only one
	// trained class we demand < SingleClassDistance
	result := c.Predict(unitVec(angleForDistance(0.3)))
	require.Greater(t, result.Confidence, options.ConfidenceThreshold)
	require.False(t, result.IsKnown)
	require.Equal(t, UnknownLabel, result.Label)
	// The raw scores are preserved for diagnostics
	require.InDelta(t, 1.0, result.AllScores["king"], 1e-4)

	// A very close query is credible even with one class
	result = c.Predict(unitVec(angleForDistance(0.05)))
	require.True(t, result.IsKnown)
	require.Equal(t, "king", result.Label)
}

func TestDistanceFactorZeroesFarMatches(t *testing.T) {
	c := newTestClassifier(t, nil)
	c.AddSample(unitVec(0), "king")
	c.AddSample(unitVec(2.5), "queen")
	// Nearest neighbor is at distance >= MaxKnownDistance => confidence 0
	result := c.Predict(unitVec(angleForDistance(0.5)))
	require.False(t, result.IsKnown)
	require.Equal(t, UnknownLabel, result.Label)
	require.Equal(t, float32(0), result.Confidence)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := newTestClassifier(t, nil)
	c.AddSample(unitVec(0), "king")
	c.AddSample(unitVec(1.2), "queen")
	snapshot := c.Snapshot()
	require.Equal(t, DefaultK, snapshot.K)
	require.Len(t, snapshot.Samples, 2)

	restored := newTestClassifier(t, nil)
	restored.RestoreSnapshot(snapshot)
	require.Equal(t, 2, restored.Stats().TotalSamples)
	result := restored.Predict(unitVec(0.01))
	require.Equal(t, "king", result.Label)
	require.True(t, result.IsKnown)
}

func TestAutoSaveHook(t *testing.T) {
	options := DefaultOptions()
	options.AutoSaveInterval = 3
	c := newTestClassifier(t, options)
	saves := 0
	c.OnAutoSave = func(s *Snapshot) {
		saves++
		require.NotEmpty(t, s.Samples)
	}
	for i := 0; i < 7; i++ {
		c.AddSample(unitVec(float32(i)*0.01), "king")
	}
	require.Equal(t, 2, saves)
}

func TestConcurrentTrainAndPredict(t *testing.T) {
	c := newTestClassifier(t, nil)
	done := make(chan bool)
	go func() {
		for i := 0; i < 200; i++ {
			c.AddSample(unitVec(float32(i%10)*0.01), fmt.Sprintf("class%v", i%3))
		}
		done <- true
	}()
	for i := 0; i < 200; i++ {
		c.Predict(unitVec(0.005))
	}
	<-done
	require.Equal(t, 200, c.Stats().TotalSamples)
}

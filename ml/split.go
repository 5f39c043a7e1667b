package ml

import (
	"math"
	"math/rand"
)

const (
	DefaultTestRatio = 0.2
	DefaultSplitSeed = 42
)

// SplitDataset partitions rows into train and held-out sets with a seeded
// shuffle, so the same data and seed always give the same split.
func SplitDataset(rows []FeatureRow, labels []float64, testRatio float64, seed int64) (trainX []FeatureRow, trainY []float64, testX []FeatureRow, testY []float64) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = DefaultTestRatio
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(rows))

	nTest := int(math.Ceil(float64(len(rows)) * testRatio))
	if nTest >= len(rows) {
		nTest = len(rows) - 1
	}
	for i, idx := range indices {
		if i < nTest {
			testX = append(testX, rows[idx])
			testY = append(testY, labels[idx])
		} else {
			trainX = append(trainX, rows[idx])
			trainY = append(trainY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

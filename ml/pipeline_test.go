package ml

import (
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitSynthetic(t *testing.T) *Pipeline {
	t.Helper()
	rows, labels := syntheticRows(200, 7)
	p, err := Fit(rows, labels, FitOptions{})
	require.NoError(t, err)
	return p
}

func TestFitSyntheticHeldOut(t *testing.T) {
	rows, labels := syntheticRows(250, 1)
	trainX, trainY, testX, testY := SplitDataset(rows, labels, DefaultTestRatio, DefaultSplitSeed)
	require.Len(t, testX, 50)
	require.Len(t, trainX, 200)

	p, err := Fit(trainX, trainY, FitOptions{})
	require.NoError(t, err)

	m, err := EvaluatePipeline(p, testX, testY)
	require.NoError(t, err)
	assert.Greater(t, m.R2, 0.8)
	assert.Less(t, m.MAE, 15.0)
	assert.Less(t, m.RMSE, 20.0)
	assert.Equal(t, 50, m.TestRows)
}

func TestFitRecoversLinearRelation(t *testing.T) {
	rows, labels := syntheticRows(300, 3)
	p, err := Fit(rows, labels, FitOptions{})
	require.NoError(t, err)

	base := sampleRow()
	bigger := sampleRow()
	bigger.Engine = Float(*base.Engine + 100)

	a, err := p.PredictRow(base)
	require.NoError(t, err)
	b, err := p.PredictRow(bigger)
	require.NoError(t, err)
	// 100cc more engine is worth about 200 under the generating relation.
	assert.InDelta(t, 200, b.Value-a.Value, 10)
}

func TestPredictDeterministic(t *testing.T) {
	p := fitSynthetic(t)
	row := sampleRow()

	first, err := p.PredictRow(row)
	require.NoError(t, err)
	second, err := p.PredictRow(row)
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
}

func TestPredictUnseenCategory(t *testing.T) {
	p := fitSynthetic(t)
	row := sampleRow()
	row.CarName = "Ambassador Classic"
	row.City = "Shimla"

	pred, err := p.PredictRow(row)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(pred.Value) || math.IsInf(pred.Value, 0))
	assert.ElementsMatch(t, []UnknownCategory{
		{Column: ColCarName, Value: "Ambassador Classic"},
		{Column: ColCity, Value: "Shimla"},
	}, pred.Unknown)

	vec, err := p.Transform(row)
	require.NoError(t, err)
	for i, name := range p.FeatureNames() {
		if strings.HasPrefix(name, ColCarName+"=") {
			assert.Zero(t, vec[i], name)
		}
	}
}

func TestPredictMissingNumericUsesMedian(t *testing.T) {
	p := fitSynthetic(t)
	engineMedian := p.Numeric.Medians[1]

	missing := sampleRow()
	missing.Engine = nil
	pred, err := p.PredictRow(missing)
	require.NoError(t, err)
	assert.Equal(t, []string{ColEngine}, pred.Imputed)

	// the median of an even-sized column may be fractional, which a request
	// could never carry, so compare against the vector with it placed directly
	explicit := sampleRow()
	explicit.Engine = Float(engineMedian)
	want, err := p.Transform(explicit)
	require.NoError(t, err)
	got, err := p.Transform(missing)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.InDelta(t, (engineMedian-p.Numeric.Means[1])/p.Numeric.Scales[1], got[1], 1e-12)

	value, err := p.Regression.Predict(want)
	require.NoError(t, err)
	assert.Equal(t, value, pred.Value)
}

func TestPredictImputesEvenCountMedian(t *testing.T) {
	rows, labels := syntheticRows(40, 11)
	engines := []float64{1000, 1200, 1500, 1800}
	for i := range rows {
		rows[i].Engine = Float(engines[i%len(engines)])
	}
	p, err := Fit(rows, labels, FitOptions{})
	require.NoError(t, err)
	require.Equal(t, 1350.0, p.Numeric.Medians[1])

	row := sampleRow()
	row.Engine = nil
	vec, err := p.Transform(row)
	require.NoError(t, err)
	assert.InDelta(t, (1350-p.Numeric.Means[1])/p.Numeric.Scales[1], vec[1], 1e-12)
}

func TestPredictMissingCategoricalIsNeutral(t *testing.T) {
	p := fitSynthetic(t)
	row := sampleRow()
	row.Fuel = ""

	pred, err := p.PredictRow(row)
	require.NoError(t, err)
	assert.Equal(t, []UnknownCategory{{Column: ColFuel}}, pred.Unknown)
}

func TestFeatureVectorShape(t *testing.T) {
	p := fitSynthetic(t)
	names := p.FeatureNames()
	assert.Equal(t, NumericColumns(), names[:len(NumericColumns())])
	assert.Len(t, names, p.Width())
	assert.Len(t, p.Regression.Coefficients, p.Width())

	vec, err := p.Transform(sampleRow())
	require.NoError(t, err)
	assert.Len(t, vec, p.Width())

	loaded, err := UnmarshalPipeline(mustMarshal(t, p))
	require.NoError(t, err)
	assert.Equal(t, names, loaded.FeatureNames())
}

func TestConditionScoreBounds(t *testing.T) {
	p := fitSynthetic(t)
	for _, score := range []float64{MinConditionScore, MaxConditionScore} {
		row := sampleRow()
		row.ConditionScore = Float(score)
		pred, err := p.PredictRow(row)
		require.NoError(t, err, "score %v", score)
		assert.False(t, math.IsNaN(pred.Value) || math.IsInf(pred.Value, 0))
		assert.GreaterOrEqual(t, pred.Value, 0.0)
	}
}

func TestPredictRejectsOutOfDomain(t *testing.T) {
	p := fitSynthetic(t)
	row := sampleRow()
	row.KmDriven = Float(-1)

	_, err := p.PredictRow(row)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.Predict([]FeatureRow{sampleRow(), row})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFitVocabularyIsSortedAndTrainOnly(t *testing.T) {
	rows, labels := syntheticRows(120, 11)
	trainX, trainY, testX, _ := SplitDataset(rows, labels, 0.25, 5)
	testX[0].Brand = "Only In Test"

	p, err := Fit(trainX, trainY, FitOptions{})
	require.NoError(t, err)
	brands := p.Options(ColBrand)
	assert.True(t, slices.IsSorted(brands))
	assert.NotContains(t, brands, "Only In Test")
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(nil, nil, FitOptions{})
	assert.Error(t, err)

	rows, labels := syntheticRows(10, 2)
	_, err = Fit(rows, labels[:5], FitOptions{})
	assert.Error(t, err)

	labels[3] = math.NaN()
	_, err = Fit(rows, labels, FitOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSplitDatasetReproducible(t *testing.T) {
	rows, labels := syntheticRows(100, 4)
	_, aY, _, aTest := SplitDataset(rows, labels, 0.2, 42)
	_, bY, _, bTest := SplitDataset(rows, labels, 0.2, 42)
	assert.Equal(t, aY, bY)
	assert.Equal(t, aTest, bTest)
	assert.Len(t, aTest, 20)
}

func mustMarshal(t *testing.T, p *Pipeline) []byte {
	t.Helper()
	data, err := MarshalPipeline(p)
	require.NoError(t, err)
	return data
}

package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics is the held-out fit quality of a pipeline, in LabelUnit.
type Metrics struct {
	MAE       float64 `json:"mae"`
	RMSE      float64 `json:"rmse"`
	R2        float64 `json:"r2"`
	TestRows  int     `json:"test_rows"`
	TestRatio float64 `json:"test_ratio"`
	Seed      int64   `json:"seed"`
}

// Evaluate scores predictions against the true labels.
func Evaluate(yTrue, yPred []float64) (Metrics, error) {
	if len(yTrue) == 0 {
		return Metrics{}, errors.New("no labels to evaluate")
	}
	if len(yTrue) != len(yPred) {
		return Metrics{}, errors.New("labels and predictions size mismatch")
	}
	var absSum, sqSum float64
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(yTrue))
	m := Metrics{
		MAE:      absSum / n,
		RMSE:     math.Sqrt(sqSum / n),
		TestRows: len(yTrue),
	}
	if len(yTrue) > 1 {
		m.R2 = stat.RSquaredFrom(yPred, yTrue, nil)
	}
	return m, nil
}

// EvaluatePipeline predicts the held-out rows and scores them.
func EvaluatePipeline(p *Pipeline, rows []FeatureRow, labels []float64) (Metrics, error) {
	pred, err := p.Predict(rows)
	if err != nil {
		return Metrics{}, err
	}
	return Evaluate(labels, pred)
}

package ml

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rcond is the relative singular-value cutoff below which directions of the
// design matrix are treated as null. One-hot blocks are collinear with the
// intercept, so the design matrix is routinely rank deficient.
const rcond = 1e-10

// LinearRegression is ordinary least squares with an intercept.
type LinearRegression struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Fit solves min ||Xw + b - y|| on column-centered data through a thin SVD,
// taking the minimum-norm solution when X is rank deficient.
func (m *LinearRegression) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 || len(y) == 0 {
		return errors.New("features or labels empty")
	}
	if len(x) != len(y) {
		return errors.New("features and labels size mismatch")
	}
	rows, cols := len(x), len(x[0])
	if cols == 0 {
		return errors.New("feature vectors are empty")
	}

	xMean := make([]float64, cols)
	for i, row := range x {
		if len(row) != cols {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrSchemaMismatch, i, len(row), cols)
		}
		for j, v := range row {
			xMean[j] += v
		}
	}
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	for j := range xMean {
		xMean[j] /= float64(rows)
	}
	yMean /= float64(rows)

	design := mat.NewDense(rows, cols, nil)
	target := mat.NewVecDense(rows, nil)
	for i, row := range x {
		for j, v := range row {
			design.Set(i, j, v-xMean[j])
		}
		target.SetVec(i, y[i]-yMean)
	}

	var svd mat.SVD
	if !svd.Factorize(design, mat.SVDThin) {
		return errors.New("singular value decomposition failed to converge")
	}
	rank := svd.Rank(rcond)
	coef := make([]float64, cols)
	if rank > 0 {
		var w mat.VecDense
		svd.SolveVecTo(&w, target, rank)
		for j := range coef {
			coef[j] = w.AtVec(j)
		}
	}

	intercept := yMean
	for j, c := range coef {
		intercept -= c * xMean[j]
	}
	m.Coefficients = coef
	m.Intercept = intercept
	return nil
}

// Predict evaluates w.x + b for one feature vector.
func (m *LinearRegression) Predict(features []float64) (float64, error) {
	if len(m.Coefficients) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrSchemaMismatch, len(features), len(m.Coefficients))
	}
	sum := m.Intercept
	for j, v := range features {
		sum += m.Coefficients[j] * v
	}
	return sum, nil
}

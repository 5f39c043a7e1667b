package ml

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Pipeline is the fitted preprocessing and regression chain. Once built by
// Fit or LoadPipeline it is read-only and safe for concurrent use.
type Pipeline struct {
	SchemaVersion int       `json:"schema_version"`
	ReferenceYear int       `json:"reference_year"`
	LabelUnit     string    `json:"label_unit"`
	PriceScale    float64   `json:"price_scale"`
	TrainedAt     time.Time `json:"trained_at"`
	TrainingRows  int       `json:"training_rows"`
	Metrics       *Metrics  `json:"metrics,omitempty"`

	Numeric     DataPreprocessor   `json:"numeric"`
	Categorical CategoricalEncoder `json:"categorical"`
	Regression  LinearRegression   `json:"regression"`
}

// FitOptions carries the metadata recorded alongside fitted parameters.
type FitOptions struct {
	ReferenceYear int
	PriceScale    float64
	Now           func() time.Time
}

func (o FitOptions) withDefaults() FitOptions {
	if o.ReferenceYear == 0 {
		o.ReferenceYear = ReferenceYear
	}
	if o.PriceScale == 0 {
		o.PriceScale = DefaultPriceScale
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Prediction is one estimate in LabelUnit together with the inputs the
// pipeline had to fill in or could not encode.
type Prediction struct {
	Value   float64           `json:"value"`
	Unknown []UnknownCategory `json:"unknown,omitempty"`
	Imputed []string          `json:"imputed,omitempty"`
}

// Fit learns every pipeline parameter from the training rows alone.
func Fit(rows []FeatureRow, labels []float64, opts FitOptions) (*Pipeline, error) {
	if len(rows) == 0 || len(labels) == 0 {
		return nil, errors.New("rows or labels empty")
	}
	if len(rows) != len(labels) {
		return nil, errors.New("rows and labels size mismatch")
	}
	opts = opts.withDefaults()

	numeric := make([][]float64, len(rows))
	categorical := make([][]string, len(rows))
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("training row %d: %w", i, err)
		}
		numeric[i] = row.NumericValues()
		categorical[i] = row.CategoricalValues()
	}
	for i, y := range labels {
		if !finite(y) {
			return nil, fmt.Errorf("%w: label %d is not finite", ErrInvalidInput, i)
		}
	}

	p := &Pipeline{
		SchemaVersion: SchemaVersion,
		ReferenceYear: opts.ReferenceYear,
		LabelUnit:     LabelUnit,
		PriceScale:    opts.PriceScale,
		TrainedAt:     opts.Now().UTC(),
		TrainingRows:  len(rows),
		Numeric:       DataPreprocessor{Columns: NumericColumns()},
		Categorical:   CategoricalEncoder{Columns: CategoricalColumns()},
	}
	if err := p.Numeric.ComputeStats(numeric); err != nil {
		return nil, fmt.Errorf("fit numeric preprocessing: %w", err)
	}
	if err := p.Categorical.Fit(categorical); err != nil {
		return nil, fmt.Errorf("fit categorical encoding: %w", err)
	}

	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vec, _, _, err := p.vector(row)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	if err := p.Regression.Fit(vectors, labels); err != nil {
		return nil, fmt.Errorf("fit regression: %w", err)
	}
	return p, nil
}

// Width is the length of the model input vector.
func (p *Pipeline) Width() int {
	return len(p.Numeric.Columns) + p.Categorical.Width()
}

// FeatureNames names every position of the model input vector.
func (p *Pipeline) FeatureNames() []string {
	names := append([]string(nil), p.Numeric.Columns...)
	return append(names, p.Categorical.FeatureNames()...)
}

// Transform returns the model input vector for row.
func (p *Pipeline) Transform(row FeatureRow) ([]float64, error) {
	vec, _, _, err := p.vector(row)
	return vec, err
}

// PredictRow validates row and returns its estimate.
func (p *Pipeline) PredictRow(row FeatureRow) (Prediction, error) {
	if err := row.Validate(); err != nil {
		return Prediction{}, err
	}
	vec, unknown, imputed, err := p.vector(row)
	if err != nil {
		return Prediction{}, err
	}
	value, err := p.Regression.Predict(vec)
	if err != nil {
		return Prediction{}, err
	}
	if !finite(value) {
		return Prediction{}, fmt.Errorf("%w: estimate is not finite", ErrInvalidInput)
	}
	return Prediction{Value: value, Unknown: unknown, Imputed: imputed}, nil
}

// Predict returns estimates for rows in order. It fails on the first row
// that cannot be estimated; no partial result is returned.
func (p *Pipeline) Predict(rows []FeatureRow) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		pred, err := p.PredictRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = pred.Value
	}
	return out, nil
}

// Options returns the training vocabulary for a categorical column.
func (p *Pipeline) Options(column string) []string {
	return p.Categorical.Options(column)
}

func (p *Pipeline) vector(row FeatureRow) ([]float64, []UnknownCategory, []string, error) {
	vec := make([]float64, p.Width())
	numWidth := len(p.Numeric.Columns)
	imputed, err := p.Numeric.Transform(row.NumericValues(), vec[:numWidth])
	if err != nil {
		return nil, nil, nil, err
	}
	unknown, err := p.Categorical.Encode(row.CategoricalValues(), vec[numWidth:])
	if err != nil {
		return nil, nil, nil, err
	}
	return vec, unknown, imputed, nil
}

// validate checks a decoded pipeline against the compiled schema and
// rebuilds the encoder's lookup tables.
func (p *Pipeline) validate() error {
	if p.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema version %d, want %d", p.SchemaVersion, SchemaVersion)
	}
	if !slices.Equal(p.Numeric.Columns, NumericColumns()) {
		return fmt.Errorf("numeric columns %v do not match %v", p.Numeric.Columns, NumericColumns())
	}
	if !slices.Equal(p.Categorical.Columns, CategoricalColumns()) {
		return fmt.Errorf("categorical columns %v do not match %v", p.Categorical.Columns, CategoricalColumns())
	}
	if p.LabelUnit != LabelUnit {
		return fmt.Errorf("label unit %q, want %q", p.LabelUnit, LabelUnit)
	}
	if p.ReferenceYear <= 0 || p.PriceScale <= 0 {
		return errors.New("reference year and price scale must be positive")
	}
	if err := p.Numeric.validate(); err != nil {
		return err
	}
	if err := p.Categorical.build(); err != nil {
		return err
	}
	if len(p.Regression.Coefficients) != p.Width() {
		return fmt.Errorf("%d coefficients for %d features", len(p.Regression.Coefficients), p.Width())
	}
	for _, c := range p.Regression.Coefficients {
		if !finite(c) {
			return errors.New("non-finite coefficient")
		}
	}
	if !finite(p.Regression.Intercept) {
		return errors.New("non-finite intercept")
	}
	return nil
}

package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DataPreprocessor imputes missing numeric values with the training median
// and then standardizes each column with the training mean and population
// standard deviation.
type DataPreprocessor struct {
	Columns []string  `json:"columns"`
	Medians []float64 `json:"medians"`
	Means   []float64 `json:"means"`
	Scales  []float64 `json:"scales"`
}

// ComputeStats learns medians and scaling statistics from training values
// laid out as rows of len(Columns), NaN marking a missing value.
func (p *DataPreprocessor) ComputeStats(values [][]float64) error {
	if len(values) == 0 {
		return errors.New("values is empty")
	}
	width := len(p.Columns)
	p.Medians = make([]float64, width)
	p.Means = make([]float64, width)
	p.Scales = make([]float64, width)

	column := make([]float64, len(values))
	for j := 0; j < width; j++ {
		observed := make([]float64, 0, len(values))
		for i, row := range values {
			if len(row) != width {
				return fmt.Errorf("%w: row %d has %d numeric values, want %d", ErrSchemaMismatch, i, len(row), width)
			}
			if !math.IsNaN(row[j]) {
				observed = append(observed, row[j])
			}
		}
		if len(observed) == 0 {
			return fmt.Errorf("column %s has no observed values", p.Columns[j])
		}
		p.Medians[j] = median(observed)

		for i, row := range values {
			column[i] = p.impute(j, row[j])
		}
		mean, variance := stat.PopMeanVariance(column, nil)
		p.Means[j] = mean
		p.Scales[j] = math.Sqrt(variance)
		if p.Scales[j] == 0 {
			p.Scales[j] = 1
		}
	}
	return nil
}

// Transform writes the imputed, standardized values into dst and reports
// which columns were imputed.
func (p *DataPreprocessor) Transform(values []float64, dst []float64) (imputed []string, err error) {
	if len(values) != len(p.Columns) || len(dst) < len(p.Columns) {
		return nil, fmt.Errorf("%w: got %d numeric values, want %d", ErrSchemaMismatch, len(values), len(p.Columns))
	}
	for j, v := range values {
		if math.IsNaN(v) {
			imputed = append(imputed, p.Columns[j])
		}
		dst[j] = (p.impute(j, v) - p.Means[j]) / p.Scales[j]
	}
	return imputed, nil
}

// FeatureStats returns median, mean and scale keyed by column name.
func (p *DataPreprocessor) FeatureStats() map[string][3]float64 {
	if p.Medians == nil {
		return nil
	}
	stats := make(map[string][3]float64, len(p.Columns))
	for j, name := range p.Columns {
		stats[name] = [3]float64{p.Medians[j], p.Means[j], p.Scales[j]}
	}
	return stats
}

func (p *DataPreprocessor) impute(j int, v float64) float64 {
	if math.IsNaN(v) {
		return p.Medians[j]
	}
	return v
}

func (p *DataPreprocessor) validate() error {
	n := len(p.Columns)
	if len(p.Medians) != n || len(p.Means) != n || len(p.Scales) != n {
		return errors.New("numeric statistics do not match column count")
	}
	for j := 0; j < n; j++ {
		if !finite(p.Medians[j]) || !finite(p.Means[j]) || !finite(p.Scales[j]) || p.Scales[j] <= 0 {
			return fmt.Errorf("numeric statistics for %s are not usable", p.Columns[j])
		}
	}
	return nil
}

// UnknownCategory is a categorical value the encoder has no indicator for.
// An empty Value means the field was missing.
type UnknownCategory struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

func (u UnknownCategory) String() string {
	if u.Value == "" {
		return u.Column + "=<missing>"
	}
	return u.Column + "=" + u.Value
}

// CategoricalEncoder one-hot encodes categorical columns against the
// vocabulary seen at training time. Unseen values encode as all zeros.
type CategoricalEncoder struct {
	Columns    []string   `json:"columns"`
	Vocabulary [][]string `json:"vocabulary"`

	offsets []int
	index   []map[string]int
	width   int
}

// Fit collects the sorted distinct non-empty values of every column.
func (e *CategoricalEncoder) Fit(values [][]string) error {
	if len(values) == 0 {
		return errors.New("values is empty")
	}
	seen := make([]map[string]struct{}, len(e.Columns))
	for j := range seen {
		seen[j] = make(map[string]struct{})
	}
	for i, row := range values {
		if len(row) != len(e.Columns) {
			return fmt.Errorf("%w: row %d has %d categorical values, want %d", ErrSchemaMismatch, i, len(row), len(e.Columns))
		}
		for j, v := range row {
			if v != "" {
				seen[j][v] = struct{}{}
			}
		}
	}
	e.Vocabulary = make([][]string, len(e.Columns))
	for j, set := range seen {
		vocab := make([]string, 0, len(set))
		for v := range set {
			vocab = append(vocab, v)
		}
		sort.Strings(vocab)
		e.Vocabulary[j] = vocab
	}
	return e.build()
}

// Width is the number of indicator columns the encoder produces.
func (e *CategoricalEncoder) Width() int {
	return e.width
}

// Encode writes indicators for values into dst, which must be zeroed and
// at least Width long.
func (e *CategoricalEncoder) Encode(values []string, dst []float64) ([]UnknownCategory, error) {
	if len(values) != len(e.Columns) || len(dst) < e.width {
		return nil, fmt.Errorf("%w: got %d categorical values, want %d", ErrSchemaMismatch, len(values), len(e.Columns))
	}
	var unknown []UnknownCategory
	for j, v := range values {
		pos, ok := e.index[j][v]
		if !ok {
			unknown = append(unknown, UnknownCategory{Column: e.Columns[j], Value: v})
			continue
		}
		dst[e.offsets[j]+pos] = 1
	}
	return unknown, nil
}

// FeatureNames names each indicator column as column=value.
func (e *CategoricalEncoder) FeatureNames() []string {
	names := make([]string, 0, e.width)
	for j, col := range e.Columns {
		for _, v := range e.Vocabulary[j] {
			names = append(names, col+"="+v)
		}
	}
	return names
}

// Options returns the vocabulary of one column, or nil if the column is
// not encoded.
func (e *CategoricalEncoder) Options(column string) []string {
	for j, col := range e.Columns {
		if col == column {
			return append([]string(nil), e.Vocabulary[j]...)
		}
	}
	return nil
}

func (e *CategoricalEncoder) build() error {
	if len(e.Vocabulary) != len(e.Columns) {
		return errors.New("vocabulary does not match column count")
	}
	e.offsets = make([]int, len(e.Columns))
	e.index = make([]map[string]int, len(e.Columns))
	e.width = 0
	for j, vocab := range e.Vocabulary {
		e.offsets[j] = e.width
		e.index[j] = make(map[string]int, len(vocab))
		for k, v := range vocab {
			if v == "" {
				return fmt.Errorf("empty vocabulary entry in %s", e.Columns[j])
			}
			if _, dup := e.index[j][v]; dup {
				return fmt.Errorf("duplicate vocabulary entry %q in %s", v, e.Columns[j])
			}
			e.index[j][v] = k
		}
		e.width += len(vocab)
	}
	return nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

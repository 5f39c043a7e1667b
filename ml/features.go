package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// SchemaVersion is bumped whenever the feature columns, their order or
	// the artifact layout change.
	SchemaVersion = 1
	// ReferenceYear anchors the derived age feature. It is fixed so that
	// training and serving compute the same age for the same model year.
	ReferenceYear = 2025
)

const (
	ColKmDriven       = "km_driven"
	ColEngine         = "engine"
	ColMaxPower       = "max_power"
	ColTorqueNm       = "torque_nm"
	ColConditionScore = "condition_score"
	ColAge            = "age"

	ColBrand        = "brand"
	ColCarName      = "car_name"
	ColFuel         = "fuel"
	ColTransmission = "transmission"
	ColOwner        = "owner"
	ColCity         = "city"
	ColSeats        = "seats"
	ColSellerType   = "seller_type"

	ColModelYear    = "model_year"
	ColSellingPrice = "selling_price"
)

const (
	MinConditionScore = 1.0
	MaxConditionScore = 10.0
)

// NumericColumns returns the numeric feature columns in vector order.
func NumericColumns() []string {
	return []string{
		ColKmDriven,
		ColEngine,
		ColMaxPower,
		ColTorqueNm,
		ColConditionScore,
		ColAge,
	}
}

// CategoricalColumns returns the categorical feature columns in vector order.
func CategoricalColumns() []string {
	return []string{
		ColBrand,
		ColCarName,
		ColFuel,
		ColTransmission,
		ColOwner,
		ColCity,
		ColSeats,
		ColSellerType,
	}
}

// FeatureRow is one observation as seen by the pipeline, both at training
// and at serving time. A nil numeric field is missing and gets imputed; an
// empty categorical field encodes like an unseen category.
type FeatureRow struct {
	KmDriven       *float64 `json:"km_driven"`
	Engine         *float64 `json:"engine"`
	MaxPower       *float64 `json:"max_power"`
	TorqueNm       *float64 `json:"torque_nm"`
	ConditionScore *float64 `json:"condition_score"`
	Age            *float64 `json:"age"`

	Brand        string `json:"brand"`
	CarName      string `json:"car_name"`
	Fuel         string `json:"fuel"`
	Transmission string `json:"transmission"`
	Owner        string `json:"owner"`
	City         string `json:"city"`
	Seats        string `json:"seats"`
	SellerType   string `json:"seller_type"`
}

// Float returns a pointer to v, for populating FeatureRow literals.
func Float(v float64) *float64 {
	return &v
}

// NumericValues returns the numeric fields in NumericColumns order, with
// NaN standing in for missing values.
func (r FeatureRow) NumericValues() []float64 {
	fields := []*float64{r.KmDriven, r.Engine, r.MaxPower, r.TorqueNm, r.ConditionScore, r.Age}
	values := make([]float64, len(fields))
	for i, f := range fields {
		if f == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *f
	}
	return values
}

// CategoricalValues returns the categorical fields in CategoricalColumns order.
func (r FeatureRow) CategoricalValues() []string {
	return []string{
		strings.TrimSpace(r.Brand),
		strings.TrimSpace(r.CarName),
		strings.TrimSpace(r.Fuel),
		strings.TrimSpace(r.Transmission),
		strings.TrimSpace(r.Owner),
		strings.TrimSpace(r.City),
		strings.TrimSpace(r.Seats),
		strings.TrimSpace(r.SellerType),
	}
}

// Validate rejects numeric values outside their physical domain. Missing
// values pass; they are the imputer's concern.
func (r FeatureRow) Validate() error {
	checks := []struct {
		name  string
		value *float64
		ok    func(float64) bool
		rule  string
	}{
		{ColKmDriven, r.KmDriven, func(v float64) bool { return v >= 0 && isWhole(v) }, "a non-negative integer"},
		{ColEngine, r.Engine, func(v float64) bool { return v > 0 && isWhole(v) }, "a positive integer"},
		{ColMaxPower, r.MaxPower, func(v float64) bool { return v > 0 }, "positive"},
		{ColTorqueNm, r.TorqueNm, func(v float64) bool { return v > 0 }, "positive"},
		{ColConditionScore, r.ConditionScore, func(v float64) bool {
			return v >= MinConditionScore && v <= MaxConditionScore
		}, fmt.Sprintf("between %.1f and %.1f", MinConditionScore, MaxConditionScore)},
		{ColAge, r.Age, func(v float64) bool { return v >= 0 && isWhole(v) }, "a non-negative integer"},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		v := *c.value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidInput, c.name)
		}
		if !c.ok(v) {
			return fmt.Errorf("%w: %s must be %s, got %v", ErrInvalidInput, c.name, c.rule, v)
		}
	}
	return nil
}

// Fingerprint hashes the canonical form of the row. Rows that encode to
// the same model input share a fingerprint.
func (r FeatureRow) Fingerprint() uint64 {
	d := xxhash.New()
	for _, v := range r.NumericValues() {
		if math.IsNaN(v) {
			_, _ = d.WriteString("-")
		} else {
			_, _ = d.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		_, _ = d.Write([]byte{0x1f})
	}
	for _, v := range r.CategoricalValues() {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{0x1f})
	}
	return d.Sum64()
}

func isWhole(v float64) bool {
	return v == math.Trunc(v)
}

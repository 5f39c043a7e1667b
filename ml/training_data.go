package ml

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultPriceScale converts a raw selling price in rupees to lakh, the
// unit the model is trained on and predicts in.
const DefaultPriceScale = 1e-5

// RupeesPerLakh converts an estimate back to rupees for display.
const RupeesPerLakh = 100000

// LabelUnit names the unit of every label and estimate.
const LabelUnit = "lakh"

// Listing is one historical sale: the feature row plus its label, already
// converted to the reporting unit.
type Listing struct {
	Line      int
	ModelYear *float64
	Row       FeatureRow
	Price     *float64
}

// ListingColumns lists the columns a training file must provide.
func ListingColumns() []string {
	cols := make([]string, 0, 16)
	for _, name := range NumericColumns() {
		if name != ColAge {
			cols = append(cols, name)
		}
	}
	cols = append(cols, CategoricalColumns()...)
	return append(cols, ColModelYear, ColSellingPrice)
}

// ListingFromRecord builds a listing from one parsed spreadsheet row keyed
// by column name. Empty numeric cells stay missing; the price is scaled by
// priceScale here and nowhere else.
func ListingFromRecord(record map[string]string, line, referenceYear int, priceScale float64) (Listing, error) {
	for _, col := range ListingColumns() {
		if _, ok := record[col]; !ok {
			return Listing{}, fmt.Errorf("%w: line %d: missing column %s", ErrSchemaMismatch, line, col)
		}
	}
	if priceScale <= 0 {
		return Listing{}, errors.New("price scale must be positive")
	}

	numeric := make(map[string]*float64, 8)
	for _, col := range []string{ColKmDriven, ColEngine, ColMaxPower, ColTorqueNm, ColConditionScore, ColModelYear, ColSellingPrice} {
		v, err := parseOptionalFloat(col, record[col])
		if err != nil {
			return Listing{}, fmt.Errorf("line %d: %w", line, err)
		}
		numeric[col] = v
	}

	seats, err := normalizeSeats(record[ColSeats])
	if err != nil {
		return Listing{}, fmt.Errorf("line %d: %w", line, err)
	}

	listing := Listing{
		Line:      line,
		ModelYear: numeric[ColModelYear],
		Row: FeatureRow{
			KmDriven:       numeric[ColKmDriven],
			Engine:         numeric[ColEngine],
			MaxPower:       numeric[ColMaxPower],
			TorqueNm:       numeric[ColTorqueNm],
			ConditionScore: numeric[ColConditionScore],
			Brand:          strings.TrimSpace(record[ColBrand]),
			CarName:        strings.TrimSpace(record[ColCarName]),
			Fuel:           strings.TrimSpace(record[ColFuel]),
			Transmission:   strings.TrimSpace(record[ColTransmission]),
			Owner:          strings.TrimSpace(record[ColOwner]),
			City:           strings.TrimSpace(record[ColCity]),
			Seats:          seats,
			SellerType:     strings.TrimSpace(record[ColSellerType]),
		},
	}
	if listing.ModelYear != nil {
		listing.Row.Age = Float(float64(referenceYear) - *listing.ModelYear)
	}
	if p := numeric[ColSellingPrice]; p != nil {
		listing.Price = Float(*p * priceScale)
	}
	return listing, nil
}

// BuildTrainingSet splits listings into feature rows and labels. Every
// listing must carry a finite label.
func BuildTrainingSet(listings []Listing) (rows []FeatureRow, labels []float64, err error) {
	if len(listings) == 0 {
		return nil, nil, errors.New("listings is empty")
	}
	rows = make([]FeatureRow, 0, len(listings))
	labels = make([]float64, 0, len(listings))
	for _, l := range listings {
		if l.Price == nil || math.IsNaN(*l.Price) || math.IsInf(*l.Price, 0) {
			return nil, nil, fmt.Errorf("%w: line %d: missing selling_price", ErrSchemaMismatch, l.Line)
		}
		rows = append(rows, l.Row)
		labels = append(labels, *l.Price)
	}
	return rows, labels, nil
}

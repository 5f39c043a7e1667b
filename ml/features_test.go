package ml

import (
	"errors"
	"math"
	"net/url"
	"strings"
	"testing"
)

func TestFeatureRowValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FeatureRow)
		wantErr bool
	}{
		{name: "valid row", mutate: func(*FeatureRow) {}},
		{name: "missing numerics pass", mutate: func(r *FeatureRow) { r.Engine = nil; r.Age = nil }},
		{name: "negative km", mutate: func(r *FeatureRow) { r.KmDriven = Float(-5) }, wantErr: true},
		{name: "fractional km", mutate: func(r *FeatureRow) { r.KmDriven = Float(10.5) }, wantErr: true},
		{name: "zero engine", mutate: func(r *FeatureRow) { r.Engine = Float(0) }, wantErr: true},
		{name: "negative power", mutate: func(r *FeatureRow) { r.MaxPower = Float(-1) }, wantErr: true},
		{name: "zero torque", mutate: func(r *FeatureRow) { r.TorqueNm = Float(0) }, wantErr: true},
		{name: "condition below range", mutate: func(r *FeatureRow) { r.ConditionScore = Float(0.9) }, wantErr: true},
		{name: "condition above range", mutate: func(r *FeatureRow) { r.ConditionScore = Float(10.1) }, wantErr: true},
		{name: "condition at bounds", mutate: func(r *FeatureRow) { r.ConditionScore = Float(10) }},
		{name: "negative age", mutate: func(r *FeatureRow) { r.Age = Float(-1) }, wantErr: true},
		{name: "nan power", mutate: func(r *FeatureRow) { r.MaxPower = Float(math.NaN()) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := sampleRow()
			tt.mutate(&row)
			err := row.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFeatureRowVectorsFollowColumnOrder(t *testing.T) {
	row := sampleRow()
	row.TorqueNm = nil

	numeric := row.NumericValues()
	if len(numeric) != len(NumericColumns()) {
		t.Fatalf("expected %d numeric values, got %d", len(NumericColumns()), len(numeric))
	}
	if numeric[0] != 30000 || numeric[1] != 1200 || numeric[5] != 8 {
		t.Fatalf("unexpected numeric order: %v", numeric)
	}
	if !math.IsNaN(numeric[3]) {
		t.Fatalf("expected NaN for missing torque, got %v", numeric[3])
	}

	categorical := row.CategoricalValues()
	if len(categorical) != len(CategoricalColumns()) {
		t.Fatalf("expected %d categorical values, got %d", len(CategoricalColumns()), len(categorical))
	}
	if categorical[0] != "Maruti Suzuki" || categorical[6] != "5" {
		t.Fatalf("unexpected categorical order: %v", categorical)
	}
}

func TestFingerprint(t *testing.T) {
	a := sampleRow()
	b := sampleRow()
	b.Brand = "  Maruti Suzuki "
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected whitespace-only difference to share a fingerprint")
	}
	b.Engine = nil
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected missing engine to change the fingerprint")
	}
}

const requestJSON = `{
	"model_year": 2017, "km_driven": 30000, "engine": 1200, "max_power": 80,
	"torque_nm": 150, "condition_score": 7, "brand": "Honda", "car_name": "City",
	"fuel": "Petrol", "transmission": "Manual", "owner": "First Owner",
	"city": "Pune", "seats": 5, "seller_type": "Dealer"
}`

func TestParseEstimateRequest(t *testing.T) {
	req, err := ParseEstimateRequest([]byte(requestJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := req.FeatureRow(ReferenceYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Age == nil || *row.Age != 8 {
		t.Fatalf("expected age 8, got %v", row.Age)
	}
	if row.Seats != "5" {
		t.Fatalf("expected seats 5, got %q", row.Seats)
	}
}

func TestParseEstimateRequestMissingField(t *testing.T) {
	_, err := ParseEstimateRequest([]byte(`{"model_year": 2017, "engine": 1200}`))
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestParseEstimateRequestNullNumericIsMissing(t *testing.T) {
	body := `{
		"model_year": null, "km_driven": 30000, "engine": null, "max_power": 80,
		"torque_nm": 150, "condition_score": 7, "brand": "Honda", "car_name": "City",
		"fuel": "Petrol", "transmission": "Manual", "owner": "First Owner",
		"city": "Pune", "seats": "7", "seller_type": "Dealer"
	}`
	req, err := ParseEstimateRequest([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := req.FeatureRow(ReferenceYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Engine != nil || row.Age != nil {
		t.Fatalf("expected engine and age missing, got %v %v", row.Engine, row.Age)
	}
	if row.Seats != "7" {
		t.Fatalf("expected seats 7, got %q", row.Seats)
	}
}

func TestParseEstimateRequestEmptySeatsIsMissing(t *testing.T) {
	for _, seats := range []string{`""`, `"  "`, `null`} {
		body := strings.Replace(requestJSON, `"seats": 5`, `"seats": `+seats, 1)
		req, err := ParseEstimateRequest([]byte(body))
		if err != nil {
			t.Fatalf("seats %s: unexpected error: %v", seats, err)
		}
		row, err := req.FeatureRow(ReferenceYear)
		if err != nil {
			t.Fatalf("seats %s: unexpected error: %v", seats, err)
		}
		if row.Seats != "" {
			t.Fatalf("seats %s: expected missing seats, got %q", seats, row.Seats)
		}
	}

	body := strings.Replace(requestJSON, `"seats": 5`, `"seats": true`, 1)
	if _, err := ParseEstimateRequest([]byte(body)); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for boolean seats, got %v", err)
	}
}

func TestFeatureRowFromRequestRejectsAncientYear(t *testing.T) {
	req, err := ParseEstimateRequest([]byte(requestJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, year := range []float64{MinModelYear - 1, -1e300, 0} {
		req.ModelYear = Float(year)
		if _, err := req.FeatureRow(ReferenceYear); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("model_year %v: expected ErrInvalidInput, got %v", year, err)
		}
	}
	req.ModelYear = Float(MinModelYear)
	row, err := req.FeatureRow(ReferenceYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *row.Age != float64(ReferenceYear-MinModelYear) {
		t.Fatalf("expected age %d, got %v", ReferenceYear-MinModelYear, *row.Age)
	}
}

func TestParseEstimateRequestWrongShape(t *testing.T) {
	bad := []string{
		`[]`,
		`{"model_year": "soon", "km_driven": 1, "engine": 1, "max_power": 1, "torque_nm": 1, "condition_score": 1, "brand": "", "car_name": "", "fuel": "", "transmission": "", "owner": "", "city": "", "seats": 5, "seller_type": ""}`,
	}
	for _, body := range bad {
		if _, err := ParseEstimateRequest([]byte(body)); !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("expected ErrSchemaMismatch for %s, got %v", body, err)
		}
	}
}

func TestFeatureRowFromRequestRejectsFutureYear(t *testing.T) {
	req, err := ParseEstimateRequest([]byte(requestJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.ModelYear = Float(ReferenceYear + 1)
	if _, err := req.FeatureRow(ReferenceYear); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	req.ModelYear = Float(2017)
	req.Seats = "five"
	if _, err := req.FeatureRow(ReferenceYear); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEstimateRequestFromForm(t *testing.T) {
	form := url.Values{}
	for _, k := range RequestFields() {
		form.Set(k, "")
	}
	form.Set(ColModelYear, "2020")
	form.Set(ColKmDriven, "12000")
	form.Set(ColBrand, "Tata")
	form.Set(ColSeats, "5")

	req, err := EstimateRequestFromForm(form)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := req.FeatureRow(ReferenceYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *row.Age != 5 || *row.KmDriven != 12000 || row.Engine != nil {
		t.Fatalf("unexpected row: %+v", row)
	}

	form.Del(ColCity)
	if _, err := EstimateRequestFromForm(form); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}

	form.Set(ColCity, "Pune")
	form.Set(ColEngine, "big")
	if _, err := EstimateRequestFromForm(form); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(nil); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
	if got := ErrorKind(ErrInvalidInput); got != "invalid_input" {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := ErrorKind(errors.New("boom")); got != "internal" {
		t.Fatalf("unexpected kind %q", got)
	}
}

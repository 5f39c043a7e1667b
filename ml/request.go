package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// EstimateRequest is the raw serving input: the feature row fields with
// model_year in place of the derived age.
type EstimateRequest struct {
	ModelYear      *float64 `json:"model_year"`
	KmDriven       *float64 `json:"km_driven"`
	Engine         *float64 `json:"engine"`
	MaxPower       *float64 `json:"max_power"`
	TorqueNm       *float64 `json:"torque_nm"`
	ConditionScore *float64 `json:"condition_score"`

	Brand        string      `json:"brand"`
	CarName      string      `json:"car_name"`
	Fuel         string      `json:"fuel"`
	Transmission string      `json:"transmission"`
	Owner        string      `json:"owner"`
	City         string      `json:"city"`
	Seats        SeatCount   `json:"seats"`
	SellerType   string      `json:"seller_type"`
}

// MinModelYear is the earliest model year a serving request may carry.
const MinModelYear = 1990

// SeatCount holds the seats value as sent. JSON clients may send it as a
// number or a string; null and "" both mean missing.
type SeatCount string

func (s *SeatCount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = SeatCount(strings.TrimSpace(v))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("seats must be a number or string, got %s", raw)
		}
		*s = SeatCount(n)
	}
	return nil
}

// RequestFields lists the keys a serving request must carry. Numeric keys
// may hold null or an empty value, which is imputed, but may not be absent.
func RequestFields() []string {
	fields := []string{ColModelYear}
	for _, name := range NumericColumns() {
		if name != ColAge {
			fields = append(fields, name)
		}
	}
	return append(fields, CategoricalColumns()...)
}

// ParseEstimateRequest decodes a JSON request body, reporting absent keys
// and mistyped values as ErrSchemaMismatch.
func ParseEstimateRequest(data []byte) (EstimateRequest, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return EstimateRequest{}, fmt.Errorf("%w: request body is not a JSON object: %v", ErrSchemaMismatch, err)
	}
	if missing := missingKeys(func(k string) bool { _, ok := keys[k]; return ok }); len(missing) > 0 {
		return EstimateRequest{}, fmt.Errorf("%w: missing fields %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	var req EstimateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return EstimateRequest{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return req, nil
}

// EstimateRequestFromForm reads a submitted HTML form. Empty numeric inputs
// are treated as missing values.
func EstimateRequestFromForm(form url.Values) (EstimateRequest, error) {
	if missing := missingKeys(func(k string) bool { _, ok := form[k]; return ok }); len(missing) > 0 {
		return EstimateRequest{}, fmt.Errorf("%w: missing fields %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	var req EstimateRequest
	numeric := map[string]**float64{
		ColModelYear:      &req.ModelYear,
		ColKmDriven:       &req.KmDriven,
		ColEngine:         &req.Engine,
		ColMaxPower:       &req.MaxPower,
		ColTorqueNm:       &req.TorqueNm,
		ColConditionScore: &req.ConditionScore,
	}
	for name, dst := range numeric {
		v, err := parseOptionalFloat(name, form.Get(name))
		if err != nil {
			return EstimateRequest{}, err
		}
		*dst = v
	}

	req.Brand = form.Get(ColBrand)
	req.CarName = form.Get(ColCarName)
	req.Fuel = form.Get(ColFuel)
	req.Transmission = form.Get(ColTransmission)
	req.Owner = form.Get(ColOwner)
	req.City = form.Get(ColCity)
	req.Seats = SeatCount(strings.TrimSpace(form.Get(ColSeats)))
	req.SellerType = form.Get(ColSellerType)
	return req, nil
}

// FeatureRow derives the model input for the request, computing age from
// model_year against referenceYear, and validates it.
func (req EstimateRequest) FeatureRow(referenceYear int) (FeatureRow, error) {
	row := FeatureRow{
		KmDriven:       req.KmDriven,
		Engine:         req.Engine,
		MaxPower:       req.MaxPower,
		TorqueNm:       req.TorqueNm,
		ConditionScore: req.ConditionScore,
		Brand:          req.Brand,
		CarName:        req.CarName,
		Fuel:           req.Fuel,
		Transmission:   req.Transmission,
		Owner:          req.Owner,
		City:           req.City,
		SellerType:     req.SellerType,
	}

	if req.ModelYear != nil {
		year := *req.ModelYear
		if math.IsNaN(year) || math.IsInf(year, 0) || !isWhole(year) {
			return FeatureRow{}, fmt.Errorf("%w: model_year must be a whole year, got %v", ErrInvalidInput, year)
		}
		// bounds are checked on the float so int conversion stays defined
		if year < MinModelYear {
			return FeatureRow{}, fmt.Errorf("%w: model_year %v is before %d", ErrInvalidInput, year, MinModelYear)
		}
		if year > float64(referenceYear) {
			return FeatureRow{}, fmt.Errorf("%w: model_year %d is after reference year %d", ErrInvalidInput, int(year), referenceYear)
		}
		row.Age = Float(float64(referenceYear) - year)
	}

	seats, err := normalizeSeats(string(req.Seats))
	if err != nil {
		return FeatureRow{}, err
	}
	row.Seats = seats

	if err := row.Validate(); err != nil {
		return FeatureRow{}, err
	}
	return row, nil
}

func normalizeSeats(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !isWhole(v) {
		return "", fmt.Errorf("%w: seats must be an integer, got %q", ErrSchemaMismatch, raw)
	}
	return strconv.Itoa(int(v)), nil
}

func parseOptionalFloat(name, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a number: %q", ErrSchemaMismatch, name, raw)
	}
	return &v, nil
}

func missingKeys(has func(string) bool) []string {
	var missing []string
	for _, k := range RequestFields() {
		if !has(k) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

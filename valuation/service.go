// Package valuation turns estimate requests into priced answers using the
// loaded pipeline.
package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"knowyourcar/db"
	"knowyourcar/ml"
)

const defaultCacheSize = 1024

// Recorder persists served estimates.
type Recorder interface {
	RecordEstimate(ctx context.Context, rec db.EstimateRecord) error
}

// Estimate is one answered request. Value is in lakh.
type Estimate struct {
	Value             float64       `json:"estimate"`
	Unit              string        `json:"unit"`
	Rupees            float64       `json:"rupees"`
	Display           string        `json:"display"`
	RupeesDisplay     string        `json:"rupees_display"`
	UnknownCategories []string      `json:"unknown_categories"`
	Imputed           []string      `json:"imputed,omitempty"`
	Cached            bool          `json:"cached"`
	Row               ml.FeatureRow `json:"-"`
}

type Service struct {
	model         ml.PriceModel
	referenceYear int
	cache         *lru.Cache[uint64, ml.Prediction]
	recorder      Recorder
	logger        *zap.Logger
	printer       *message.Printer
}

type Options struct {
	ReferenceYear int
	CacheSize     int
	Recorder      Recorder
	Logger        *zap.Logger
}

func NewService(model ml.PriceModel, opts Options) (*Service, error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}
	if opts.ReferenceYear == 0 {
		opts.ReferenceYear = ml.ReferenceYear
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cache, err := lru.New[uint64, ml.Prediction](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("estimate cache: %w", err)
	}
	return &Service{
		model:         model,
		referenceYear: opts.ReferenceYear,
		cache:         cache,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
		printer:       message.NewPrinter(language.MustParse("en-IN")),
	}, nil
}

// Estimate prices one request. Unknown categories are reported, not
// rejected. A failure to record the estimate is logged and does not fail
// the request.
func (s *Service) Estimate(ctx context.Context, requestID string, req ml.EstimateRequest) (Estimate, error) {
	row, err := req.FeatureRow(s.referenceYear)
	if err != nil {
		return Estimate{}, err
	}

	key := row.Fingerprint()
	pred, cached := s.cache.Get(key)
	if !cached {
		pred, err = s.model.PredictRow(row)
		if err != nil {
			return Estimate{}, err
		}
		s.cache.Add(key, pred)
	}

	est := Estimate{
		Value:             pred.Value,
		Unit:              ml.LabelUnit,
		Rupees:            math.Round(pred.Value * ml.RupeesPerLakh),
		UnknownCategories: make([]string, 0, len(pred.Unknown)),
		Imputed:           pred.Imputed,
		Cached:            cached,
		Row:               row,
	}
	est.Display, est.RupeesDisplay = s.Format(pred.Value)
	for _, u := range pred.Unknown {
		est.UnknownCategories = append(est.UnknownCategories, u.String())
	}

	if len(est.UnknownCategories) > 0 {
		s.logger.Warn("estimate with unseen categories",
			zap.String("request_id", requestID),
			zap.Strings("unknown", est.UnknownCategories))
	}
	s.logger.Debug("estimate served",
		zap.String("request_id", requestID),
		zap.Float64("estimate_lakh", est.Value),
		zap.Bool("cached", cached))

	s.record(ctx, requestID, req, est)
	return est, nil
}

// Format renders a lakh amount as "₹ 5.40 lakh" and the matching rupee
// amount with Indian digit grouping.
func (s *Service) Format(lakh float64) (display, rupees string) {
	display = s.printer.Sprintf("₹ %.2f %s", lakh, ml.LabelUnit)
	rupees = s.printer.Sprintf("₹ %d", int64(math.Round(lakh*ml.RupeesPerLakh)))
	return display, rupees
}

// Options lists the known values of a categorical column.
func (s *Service) Options(column string) []string {
	return s.model.Options(column)
}

func (s *Service) ReferenceYear() int {
	return s.referenceYear
}

func (s *Service) record(ctx context.Context, requestID string, req ml.EstimateRequest, est Estimate) {
	if s.recorder == nil {
		return
	}
	inputs, err := json.Marshal(req)
	if err != nil {
		s.logger.Error("marshal estimate inputs", zap.Error(err))
		return
	}
	rec := db.EstimateRecord{
		RequestID:         requestID,
		Inputs:            inputs,
		EstimateLakh:      est.Value,
		UnknownCategories: est.UnknownCategories,
		Cached:            est.Cached,
		CreatedAt:         time.Now(),
	}
	if err := s.recorder.RecordEstimate(ctx, rec); err != nil {
		s.logger.Error("record estimate",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

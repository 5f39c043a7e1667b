package ml

// PriceModel is what the serving layer needs from a fitted pipeline.
type PriceModel interface {
	PredictRow(row FeatureRow) (Prediction, error)
	Options(column string) []string
}

var _ PriceModel = (*Pipeline)(nil)

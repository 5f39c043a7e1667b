package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"knowyourcar/config"
	"knowyourcar/db"
	"knowyourcar/logger"
	"knowyourcar/ml"
	"knowyourcar/pipeline"
)

type options struct {
	configPath     string
	dataPath       string
	sheet          string
	outPath        string
	testRatio      float64
	seed           int64
	priceScale     float64
	maxRejectRatio float64
	record         bool

	set map[string]bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config file (optional)")
	flag.StringVar(&opts.dataPath, "data", "", "listings file (.xlsx or .csv)")
	flag.StringVar(&opts.sheet, "sheet", "", "xlsx worksheet, default first sheet")
	flag.StringVar(&opts.outPath, "out", "", "artifact output path")
	flag.Float64Var(&opts.testRatio, "test_ratio", ml.DefaultTestRatio, "held-out fraction")
	flag.Int64Var(&opts.seed, "seed", ml.DefaultSplitSeed, "split seed")
	flag.Float64Var(&opts.priceScale, "price_scale", ml.DefaultPriceScale, "factor converting selling_price to lakh")
	flag.Float64Var(&opts.maxRejectRatio, "max_reject_ratio", 0, "fraction of listings the cleaner may reject")
	flag.BoolVar(&opts.record, "record", true, "record the run in the audit database")
	flag.Parse()

	opts.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "train_model: %v\n", err)
		os.Exit(1)
	}
}

// merge lets explicitly set flags override the config file.
func merge(cfg *config.Config, opts options) config.TrainingConfig {
	t := cfg.ML.Training
	if opts.set["data"] {
		t.DataPath = opts.dataPath
	}
	if opts.set["sheet"] {
		t.Sheet = opts.sheet
	}
	if opts.set["test_ratio"] {
		t.TestRatio = opts.testRatio
	}
	if opts.set["seed"] {
		t.Seed = opts.seed
	}
	if opts.set["price_scale"] {
		t.PriceScale = opts.priceScale
	}
	if opts.set["max_reject_ratio"] {
		t.MaxRejectRatio = opts.maxRejectRatio
	}
	if opts.set["out"] {
		cfg.ML.ArtifactPath = opts.outPath
	}
	return t
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tc := merge(cfg, opts)
	cfg.ML.Training = tc
	if err := cfg.Validate(); err != nil {
		return err
	}
	if tc.DataPath == "" {
		return errors.New("-data is required")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	listings, stats, err := pipeline.LoadListings(tc.DataPath, pipeline.IngestionConfig{
		Sheet:         tc.Sheet,
		ReferenceYear: ml.ReferenceYear,
		PriceScale:    tc.PriceScale,
	})
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	log.Info("listings loaded",
		zap.String("path", stats.Path),
		zap.String("format", stats.Format),
		zap.Int("rows", stats.Rows),
		zap.Int("skipped_blank", stats.Skipped))

	cleaner := pipeline.NewListingCleaner(ml.ReferenceYear, log)
	cleaned, issues := cleaner.Clean(listings)
	if err := cleaner.CheckRejects(tc.MaxRejectRatio); err != nil {
		return err
	}
	cleanStats := cleaner.GetStats()

	rows, labels, err := ml.BuildTrainingSet(cleaned)
	if err != nil {
		return err
	}
	trainX, trainY, testX, testY := ml.SplitDataset(rows, labels, tc.TestRatio, tc.Seed)
	if len(testX) == 0 {
		return errors.New("held-out split is empty; add listings or raise -test_ratio")
	}

	p, err := ml.Fit(trainX, trainY, ml.FitOptions{
		ReferenceYear: ml.ReferenceYear,
		PriceScale:    tc.PriceScale,
	})
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	metrics, err := ml.EvaluatePipeline(p, testX, testY)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	metrics.TestRatio = tc.TestRatio
	metrics.Seed = tc.Seed
	p.Metrics = &metrics

	if err := ml.SavePipeline(p, cfg.ML.ArtifactPath); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	log.Info("model trained",
		zap.String("artifact", cfg.ML.ArtifactPath),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Int64("rejected", cleanStats.Rejected),
		zap.Int64("duplicates", cleanStats.Duplicates),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("r2", metrics.R2))

	if opts.record {
		if err := recordRun(cfg, p, len(trainX), issues); err != nil {
			log.Warn("training run not recorded", zap.Error(err))
		}
	}

	fmt.Printf("MAE:  %.4f %s\nRMSE: %.4f %s\nR2:   %.4f\n", metrics.MAE, ml.LabelUnit, metrics.RMSE, ml.LabelUnit, metrics.R2)
	fmt.Printf("model saved to %s\n", cfg.ML.ArtifactPath)
	return nil
}

func recordRun(cfg *config.Config, p *ml.Pipeline, trainRows int, issues []pipeline.QualityIssue) error {
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rejected := make([]db.RejectedListing, 0, len(issues))
	for _, is := range issues {
		if !is.Rejected {
			continue
		}
		rejected = append(rejected, db.RejectedListing{
			Line:     is.Line,
			Rule:     is.Type,
			Severity: is.Severity,
			Message:  is.Message,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = store.RecordTrainingRun(ctx, db.TrainingRun{
		ArtifactPath:  cfg.ML.ArtifactPath,
		SchemaVersion: p.SchemaVersion,
		TrainRows:     trainRows,
		TestRows:      p.Metrics.TestRows,
		MAE:           p.Metrics.MAE,
		RMSE:          p.Metrics.RMSE,
		R2:            p.Metrics.R2,
		Seed:          p.Metrics.Seed,
		TestRatio:     p.Metrics.TestRatio,
		TrainedAt:     p.TrainedAt,
	}, rejected)
	return err
}

package ml

import (
	"math"
	"testing"
)

func TestDataPreprocessorComputeStats(t *testing.T) {
	nan := math.NaN()
	values := [][]float64{
		{1, 10},
		{3, 10},
		{nan, 10},
		{5, 10},
		{100, 10},
	}

	p := &DataPreprocessor{Columns: []string{"a", "b"}}
	if err := p.ComputeStats(values); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Medians[0] != 4 {
		t.Fatalf("expected median 4 over observed values, got %v", p.Medians[0])
	}
	// mean over imputed column 1, 3, 4, 5, 100
	if math.Abs(p.Means[0]-22.6) > 1e-12 {
		t.Fatalf("expected mean 22.6, got %v", p.Means[0])
	}
	if p.Scales[1] != 1 {
		t.Fatalf("expected constant column to scale by 1, got %v", p.Scales[1])
	}

	dst := make([]float64, 2)
	imputed, err := p.Transform([]float64{nan, 10}, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(imputed) != 1 || imputed[0] != "a" {
		t.Fatalf("expected column a imputed, got %v", imputed)
	}
	want := (4 - p.Means[0]) / p.Scales[0]
	if dst[0] != want || dst[1] != 0 {
		t.Fatalf("unexpected transform %v, want [%v 0]", dst, want)
	}

	stats := p.FeatureStats()
	if len(stats) != 2 || stats["a"][0] != 4 {
		t.Fatalf("unexpected feature stats: %v", stats)
	}
}

func TestDataPreprocessorRejectsEmptyColumn(t *testing.T) {
	p := &DataPreprocessor{Columns: []string{"a"}}
	if err := p.ComputeStats([][]float64{{math.NaN()}, {math.NaN()}}); err == nil {
		t.Fatal("expected error for column with no observed values")
	}
	if err := p.ComputeStats(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
}

func TestCategoricalEncoder(t *testing.T) {
	e := &CategoricalEncoder{Columns: []string{"fuel", "seats"}}
	err := e.Fit([][]string{
		{"Petrol", "5"},
		{"Diesel", "7"},
		{"Petrol", ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Width() != 4 {
		t.Fatalf("expected width 4, got %d", e.Width())
	}
	names := e.FeatureNames()
	want := []string{"fuel=Diesel", "fuel=Petrol", "seats=5", "seats=7"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	dst := make([]float64, e.Width())
	unknown, err := e.Encode([]string{"Petrol", "6"}, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst[0] != 0 || dst[1] != 1 || dst[2] != 0 || dst[3] != 0 {
		t.Fatalf("unexpected encoding %v", dst)
	}
	if len(unknown) != 1 || unknown[0].String() != "seats=6" {
		t.Fatalf("unexpected unknown categories %v", unknown)
	}

	if opts := e.Options("fuel"); len(opts) != 2 || opts[0] != "Diesel" {
		t.Fatalf("unexpected options %v", opts)
	}
	if opts := e.Options("city"); opts != nil {
		t.Fatalf("expected nil options for unknown column, got %v", opts)
	}
}

func TestCategoricalEncoderBuildRejectsDuplicates(t *testing.T) {
	e := &CategoricalEncoder{Columns: []string{"fuel"}, Vocabulary: [][]string{{"Petrol", "Petrol"}}}
	if err := e.build(); err == nil {
		t.Fatal("expected duplicate vocabulary error")
	}
}

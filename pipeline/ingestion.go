package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"knowyourcar/ml"
)

// IngestionConfig controls how a listings file is read.
type IngestionConfig struct {
	// Sheet selects the xlsx worksheet; empty means the first sheet.
	Sheet         string
	ReferenceYear int
	PriceScale    float64
}

func (c IngestionConfig) withDefaults() IngestionConfig {
	if c.ReferenceYear == 0 {
		c.ReferenceYear = ml.ReferenceYear
	}
	if c.PriceScale == 0 {
		c.PriceScale = ml.DefaultPriceScale
	}
	return c
}

// IngestionStats summarises one load.
type IngestionStats struct {
	Path    string   `json:"path"`
	Format  string   `json:"format"`
	Rows    int      `json:"rows"`
	Skipped int      `json:"skipped"`
	Columns []string `json:"columns"`
}

// LoadListings reads a historical listings file. The format follows the
// extension: .xlsx through excelize, anything else as csv.
func LoadListings(path string, cfg IngestionConfig) ([]ml.Listing, IngestionStats, error) {
	cfg = cfg.withDefaults()
	stats := IngestionStats{Path: path}

	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		stats.Format = "xlsx"
		records, err = readSheet(path, cfg.Sheet)
	default:
		stats.Format = "csv"
		records, err = readCSV(path)
	}
	if err != nil {
		return nil, stats, err
	}
	if len(records) == 0 {
		return nil, stats, fmt.Errorf("%w: %s has no header row", ml.ErrSchemaMismatch, path)
	}

	header := normalizeHeader(records[0])
	stats.Columns = header
	if err := checkHeader(header); err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}

	listings := make([]ml.Listing, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if blank(rec) {
			stats.Skipped++
			continue
		}
		record := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) {
				record[col] = rec[j]
			} else {
				record[col] = ""
			}
		}
		listing, err := ml.ListingFromRecord(record, line, cfg.ReferenceYear, cfg.PriceScale)
		if err != nil {
			return nil, stats, fmt.Errorf("%s: %w", path, err)
		}
		listings = append(listings, listing)
	}
	stats.Rows = len(listings)
	return listings, stats, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ml.ErrSchemaMismatch, path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: %s has no sheets", ml.ErrSchemaMismatch, path)
		}
		sheet = sheets[0]
	}
	// raw values, so a "#,##0" styled cell reads as 30000 and not "30,000"
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s sheet %q: %v", ml.ErrSchemaMismatch, path, sheet, err)
	}
	return rows, nil
}

func normalizeHeader(raw []string) []string {
	header := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return header
}

func checkHeader(header []string) error {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if h != "" && seen[h] {
			return fmt.Errorf("%w: duplicate column %s", ml.ErrSchemaMismatch, h)
		}
		seen[h] = true
	}
	var missing []string
	for _, col := range ml.ListingColumns() {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", ml.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

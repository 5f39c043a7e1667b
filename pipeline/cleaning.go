package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"knowyourcar/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*ml.Listing) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Line      int       `json:"line"`
	// Rejected is false for issues that only flag a listing, such as a
	// duplicate, which stays in the cleaned output.
	Rejected bool `json:"rejected"`

	Err error `json:"-"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Duplicates     int64            `json:"duplicates"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// RejectRatio is the share of processed listings that were rejected.
func (s CleaningStats) RejectRatio() float64 {
	if s.TotalProcessed == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.TotalProcessed)
}

// ListingCleaner 训练数据清洗器
type ListingCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewListingCleaner returns a cleaner with the default rules for the given
// reference year.
func NewListingCleaner(referenceYear int, logger *zap.Logger) *ListingCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &ListingCleaner{
		logger: logger,
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	cleaner.AddRule(NewLabelValidationRule())
	// model year before domain: a future year would otherwise surface as a
	// negative age
	cleaner.AddRule(NewModelYearValidationRule(referenceYear))
	cleaner.AddRule(NewDomainValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *ListingCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns the listings that pass every rule. A listing is rejected on
// its first failing rule; rejected listings are logged with their line.
// Duplicates are flagged with a low severity issue but kept, so training
// sees every row of the file.
func (dc *ListingCleaner) Clean(listings []ml.Listing) ([]ml.Listing, []QualityIssue) {
	var cleaned []ml.Listing
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i := range listings {
		listing := listings[i]
		dc.stats.TotalProcessed++

		var issue *QualityIssue
		for _, rule := range dc.rules {
			err := rule.Apply(&listing)
			if err == nil {
				continue
			}
			dc.stats.Issues[rule.Name()]++
			flagged := QualityIssue{
				Type:      rule.Name(),
				Severity:  severityOf(err),
				Message:   err.Error(),
				Timestamp: time.Now(),
				Line:      listing.Line,
				Rejected:  !errors.Is(err, errDuplicate),
				Err:       err,
			}
			if !flagged.Rejected {
				dc.stats.Duplicates++
				issues = append(issues, flagged)
				dc.logger.Info("duplicate listing kept",
					zap.Int("line", flagged.Line),
					zap.String("reason", flagged.Message))
				continue
			}
			issue = &flagged
			break
		}

		if issue != nil {
			dc.stats.Rejected++
			issues = append(issues, *issue)
			dc.logger.Warn("listing rejected",
				zap.Int("line", issue.Line),
				zap.String("rule", issue.Type),
				zap.String("reason", issue.Message))
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, listing)
	}

	dc.issuesLock.Lock()
	dc.issues = append(dc.issues, issues...)
	dc.issuesLock.Unlock()

	dc.stats.LastClean = time.Now()
	return cleaned, issues
}

// CheckRejects fails when more than maxRatio of the processed listings were
// rejected. The returned error wraps the first rejection's cause. Flagged
// duplicates never count.
func (dc *ListingCleaner) CheckRejects(maxRatio float64) error {
	stats := dc.GetStats()
	if stats.Rejected == 0 || stats.RejectRatio() <= maxRatio {
		return nil
	}
	var first QualityIssue
	for _, is := range dc.GetIssues(0) {
		if is.Rejected {
			first = is
			break
		}
	}
	return fmt.Errorf("%d of %d listings rejected (max ratio %.2f), first at line %d: %w",
		stats.Rejected, stats.TotalProcessed, maxRatio, first.Line, first.Err)
}

// GetStats 获取统计信息
func (dc *ListingCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues returns issues in the order they were found. A limit <= 0
// returns all of them; otherwise the most recent limit.
func (dc *ListingCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

func severityOf(err error) string {
	switch {
	case errors.Is(err, ml.ErrSchemaMismatch):
		return "high"
	case errors.Is(err, errDuplicate):
		return "low"
	default:
		return "medium"
	}
}

// ============ 清洗规则实现 ============

// LabelValidationRule 标签验证规则
type LabelValidationRule struct{}

func NewLabelValidationRule() *LabelValidationRule {
	return &LabelValidationRule{}
}

func (r *LabelValidationRule) Name() string {
	return "label_validation"
}

func (r *LabelValidationRule) Apply(l *ml.Listing) error {
	if l.Price == nil {
		return fmt.Errorf("%w: line %d: missing %s", ml.ErrSchemaMismatch, l.Line, ml.ColSellingPrice)
	}
	if p := *l.Price; math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return fmt.Errorf("%w: line %d: %s must be positive, got %v", ml.ErrInvalidInput, l.Line, ml.ColSellingPrice, p)
	}
	return nil
}

// DomainValidationRule 取值范围验证规则
type DomainValidationRule struct{}

func NewDomainValidationRule() *DomainValidationRule {
	return &DomainValidationRule{}
}

func (r *DomainValidationRule) Name() string {
	return "domain_validation"
}

func (r *DomainValidationRule) Apply(l *ml.Listing) error {
	if err := l.Row.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", l.Line, err)
	}
	return nil
}

// ModelYearValidationRule 年份验证规则
type ModelYearValidationRule struct {
	ReferenceYear int
}

func NewModelYearValidationRule(referenceYear int) *ModelYearValidationRule {
	if referenceYear == 0 {
		referenceYear = ml.ReferenceYear
	}
	return &ModelYearValidationRule{ReferenceYear: referenceYear}
}

func (r *ModelYearValidationRule) Name() string {
	return "model_year_validation"
}

func (r *ModelYearValidationRule) Apply(l *ml.Listing) error {
	if l.ModelYear == nil {
		return nil
	}
	year := *l.ModelYear
	if year != math.Trunc(year) {
		return fmt.Errorf("%w: line %d: %s must be a whole year, got %v", ml.ErrInvalidInput, l.Line, ml.ColModelYear, year)
	}
	if year > float64(r.ReferenceYear) {
		return fmt.Errorf("%w: line %d: %s %v is after %d", ml.ErrInvalidInput, l.Line, ml.ColModelYear, year, r.ReferenceYear)
	}
	return nil
}

var errDuplicate = errors.New("duplicate listing")

// DuplicateDetectionRule 重复检测规则
type DuplicateDetectionRule struct {
	seenMap map[[2]uint64]int
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[[2]uint64]int),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(l *ml.Listing) error {
	var price uint64
	if l.Price != nil {
		price = math.Float64bits(*l.Price)
	}
	key := [2]uint64{l.Row.Fingerprint(), price}

	r.mu.Lock()
	defer r.mu.Unlock()

	if first, exists := r.seenMap[key]; exists {
		return fmt.Errorf("%w: line %d repeats line %d", errDuplicate, l.Line, first)
	}
	r.seenMap[key] = l.Line
	return nil
}

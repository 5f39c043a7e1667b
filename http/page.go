package http

import (
	"embed"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"knowyourcar/ml"
	"knowyourcar/monitoring"
	"knowyourcar/valuation"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// PageState selects which page the form view renders. It travels in the
// page query parameter; nothing is kept between requests.
type PageState string

const (
	PageHome  PageState = "home"
	PageAbout PageState = "about"
	PageHelp  PageState = "help"
)

// ParsePageState falls back to the home page for anything unrecognised.
func ParsePageState(s string) PageState {
	switch PageState(strings.ToLower(strings.TrimSpace(s))) {
	case PageAbout:
		return PageAbout
	case PageHelp:
		return PageHelp
	default:
		return PageHome
	}
}

type formField struct {
	Name    string
	Label   string
	Kind    string // number, select, text
	Value   string
	Options []string
	Min     string
	Max     string
	Step    string
}

type previewCell struct {
	Name  string
	Value string
}

type pageData struct {
	Page          PageState
	Fields        []formField
	Preview       []previewCell
	Result        *valuation.Estimate
	ErrorKind     string
	Error         string
	ReferenceYear int
	Metrics       *ml.Metrics
	TrainingRows  int
}

type fieldSpec struct {
	name, label, kind, def, min, max, step string
}

var formFields = []fieldSpec{
	{ml.ColModelYear, "Model year", "number", "2017", strconv.Itoa(ml.MinModelYear), "2035", "1"},
	{ml.ColKmDriven, "Kilometers driven", "number", "30000", "0", "500000", "1"},
	{ml.ColEngine, "Engine (CC)", "number", "1200", "600", "6000", "1"},
	{ml.ColMaxPower, "Max power (bhp)", "number", "80", "20", "500", "any"},
	{ml.ColTorqueNm, "Torque (Nm)", "number", "150", "50", "1000", "any"},
	{ml.ColConditionScore, "Condition score (1-10)", "number", "7", "1", "10", "0.1"},
	{ml.ColBrand, "Brand", "select", "Maruti Suzuki", "", "", ""},
	{ml.ColCarName, "Car name", "text", "Swift", "", "", ""},
	{ml.ColFuel, "Fuel", "select", "Petrol", "", "", ""},
	{ml.ColTransmission, "Transmission", "select", "Manual", "", "", ""},
	{ml.ColOwner, "Owner", "select", "First Owner", "", "", ""},
	{ml.ColCity, "City", "select", "Mumbai", "", "", ""},
	{ml.ColSeats, "Seats", "select", "5", "", "", ""},
	{ml.ColSellerType, "Seller type", "select", "Dealer", "", "", ""},
}

func parsePages() (*template.Template, error) {
	return template.New("pages").Funcs(template.FuncMap{
		"lakh": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	}).ParseFS(templateFS, "templates/*.html")
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData(ParsePageState(r.URL.Query().Get("page")), nil)
	s.render(w, r, http.StatusOK, data)
}

func (s *Server) handleEstimateForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, s.errorPage(nil, err))
		return
	}
	data := s.newPageData(PageHome, r.PostForm)

	start := time.Now()
	var est valuation.Estimate
	req, err := ml.EstimateRequestFromForm(r.PostForm)
	if err == nil {
		est, err = s.deps.Estimator.Estimate(r.Context(), GetRequestID(r.Context()), req)
	}
	s.observe(monitoring.ChannelForm, start, est, err)
	if err != nil {
		s.render(w, r, statusFor(ml.ErrorKind(err)), s.errorPage(r.PostForm, err))
		return
	}
	data.Result = &est
	data.Preview = previewFromRow(est.Row)
	s.render(w, r, http.StatusOK, data)
}

func (s *Server) errorPage(form map[string][]string, err error) pageData {
	data := s.newPageData(PageHome, form)
	data.ErrorKind = ml.ErrorKind(err)
	data.Error = err.Error()
	if statusFor(data.ErrorKind) == http.StatusInternalServerError {
		data.Error = "The estimate could not be computed."
	}
	return data
}

// newPageData fills the form from submitted values, or from defaults that
// exist in the training vocabulary.
func (s *Server) newPageData(page PageState, form map[string][]string) pageData {
	p := s.deps.Model.Pipeline()
	data := pageData{
		Page:          page,
		ReferenceYear: p.ReferenceYear,
		Metrics:       p.Metrics,
		TrainingRows:  p.TrainingRows,
	}

	values := make(map[string]string, len(formFields))
	for _, spec := range formFields {
		f := formField{
			Name:  spec.name,
			Label: spec.label,
			Kind:  spec.kind,
			Value: spec.def,
			Min:   spec.min,
			Max:   spec.max,
			Step:  spec.step,
		}
		if spec.kind != "number" {
			f.Options = s.deps.Estimator.Options(spec.name)
			if spec.kind == "select" && len(f.Options) > 0 && !slices.Contains(f.Options, f.Value) {
				f.Value = f.Options[0]
			}
		}
		if v, ok := form[spec.name]; ok && len(v) > 0 {
			f.Value = strings.TrimSpace(v[0])
		}
		values[spec.name] = f.Value
		data.Fields = append(data.Fields, f)
	}
	data.Preview = previewFromValues(values, p.ReferenceYear)
	return data
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("render page",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
	}
}

// previewFromValues shows the model input the form values map to, with
// model_year replaced by the derived age.
func previewFromValues(values map[string]string, referenceYear int) []previewCell {
	cells := make([]previewCell, 0, len(ml.NumericColumns())+len(ml.CategoricalColumns()))
	for _, col := range ml.NumericColumns() {
		v := values[col]
		if col == ml.ColAge {
			v = ""
			if year, err := strconv.ParseFloat(values[ml.ColModelYear], 64); err == nil {
				v = strconv.FormatFloat(float64(referenceYear)-year, 'f', -1, 64)
			}
		}
		cells = append(cells, previewCell{Name: col, Value: orMissing(v)})
	}
	for _, col := range ml.CategoricalColumns() {
		cells = append(cells, previewCell{Name: col, Value: orMissing(values[col])})
	}
	return cells
}

func previewFromRow(row ml.FeatureRow) []previewCell {
	cells := make([]previewCell, 0, len(ml.NumericColumns())+len(ml.CategoricalColumns()))
	for i, v := range row.NumericValues() {
		s := ""
		if !math.IsNaN(v) {
			s = strconv.FormatFloat(v, 'f', -1, 64)
		}
		cells = append(cells, previewCell{Name: ml.NumericColumns()[i], Value: orMissing(s)})
	}
	for i, v := range row.CategoricalValues() {
		cells = append(cells, previewCell{Name: ml.CategoricalColumns()[i], Value: orMissing(v)})
	}
	return cells
}

func orMissing(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(missing)"
	}
	return v
}

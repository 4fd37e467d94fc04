package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// Report is the run summary written next to the exports.
type Report struct {
	RunID       string             `yaml:"run_id"`
	StartedAt   time.Time          `yaml:"started_at"`
	FinishedAt  time.Time          `yaml:"finished_at"`
	Duration    string             `yaml:"duration"`
	Requested   int                `yaml:"requested"`
	Processed   int                `yaml:"processed"`
	Pending     int                `yaml:"pending"`
	Cancelled   bool               `yaml:"cancelled"`
	SuccessRate float64            `yaml:"success_rate"`
	MethodRates map[string]float64 `yaml:"method_rates"`
	Summary     model.Summary      `yaml:"summary"`
	Providers   map[string]int     `yaml:"providers,omitempty"`
}

// NewReport derives the summary report for rs.
func NewReport(rs *model.ResultSet) Report {
	r := Report{
		RunID:       rs.RunID,
		StartedAt:   rs.StartedAt,
		FinishedAt:  rs.FinishedAt,
		Duration:    rs.FinishedAt.Sub(rs.StartedAt).Round(time.Millisecond).String(),
		Requested:   rs.Requested,
		Processed:   len(rs.Results),
		Pending:     rs.Pending(),
		Cancelled:   rs.Cancelled,
		SuccessRate: rs.Summary.SuccessRate(),
		MethodRates: make(map[string]float64, len(model.Methods)),
		Summary:     rs.Summary,
	}
	for _, m := range model.Methods {
		if m == model.MethodUnresolved {
			continue
		}
		r.MethodRates[string(m)] = rs.Summary.MethodRate(m)
	}
	for _, res := range rs.Results {
		if res.Provider == "" {
			continue
		}
		if r.Providers == nil {
			r.Providers = make(map[string]int)
		}
		r.Providers[res.Provider]++
	}
	return r
}

// WriteSummaryYAML writes the run report as YAML.
func WriteSummaryYAML(w io.Writer, rs *model.ResultSet) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewReport(rs)); err != nil {
		return eris.Wrap(err, "summary: encode yaml")
	}
	return eris.Wrap(enc.Close(), "summary: close encoder")
}

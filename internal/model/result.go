package model

import "time"

// Summary holds aggregate counts for a run, keyed by method then status.
type Summary struct {
	Total     int                       `json:"total" yaml:"total"`
	Succeeded int                       `json:"succeeded" yaml:"succeeded"`
	Failed    int                       `json:"failed" yaml:"failed"`
	Cached    int                       `json:"cached" yaml:"cached"`
	Counts    map[Method]map[Status]int `json:"counts" yaml:"counts"`
}

// NewSummary returns an empty summary with every method/status cell present.
func NewSummary() Summary {
	s := Summary{Counts: make(map[Method]map[Status]int, len(Methods))}
	for _, m := range Methods {
		s.Counts[m] = map[Status]int{StatusSuccess: 0, StatusFailed: 0}
	}
	return s
}

// Add counts one result.
func (s *Summary) Add(r GeocodeResult) {
	if s.Counts == nil {
		*s = NewSummary()
	}
	if s.Counts[r.Method] == nil {
		s.Counts[r.Method] = map[Status]int{}
	}
	s.Counts[r.Method][r.Status]++
	s.Total++
	if r.Status == StatusSuccess {
		s.Succeeded++
	} else {
		s.Failed++
	}
	if r.Cached {
		s.Cached++
	}
}

// Count returns the number of results for a method/status pair.
func (s Summary) Count(m Method, st Status) int {
	return s.Counts[m][st]
}

// SuccessRate returns the share of processed records that resolved.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// MethodRate returns the share of processed records resolved by method m.
func (s Summary) MethodRate(m Method) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Counts[m][StatusSuccess]) / float64(s.Total)
}

// Clone returns a deep copy safe to hand to observers.
func (s Summary) Clone() Summary {
	out := s
	out.Counts = make(map[Method]map[Status]int, len(s.Counts))
	for m, byStatus := range s.Counts {
		inner := make(map[Status]int, len(byStatus))
		for st, n := range byStatus {
			inner[st] = n
		}
		out.Counts[m] = inner
	}
	return out
}

// ResultSet is the ordered outcome of one pipeline run. Results follow input
// order regardless of completion order.
type ResultSet struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Requested  int             `json:"requested"`
	Cancelled  bool            `json:"cancelled"`
	Results    []GeocodeResult `json:"results"`
	Summary    Summary         `json:"summary"`
}

// Resolved returns the results that carry coordinates, in input order.
func (rs *ResultSet) Resolved() []GeocodeResult {
	var out []GeocodeResult
	for _, r := range rs.Results {
		if r.Resolved() {
			out = append(out, r)
		}
	}
	return out
}

// Pending returns how many requested records produced no result because the
// run stopped early.
func (rs *ResultSet) Pending() int {
	return rs.Requested - len(rs.Results)
}

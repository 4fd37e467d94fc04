package pipeline

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// Aggregator collects per-record results in run order and keeps a running
// summary. Slots are addressed by a record's position in the run, so records
// that share an Index or ID are still counted once each.
type Aggregator struct {
	mu        sync.Mutex
	slots     []*model.GeocodeResult
	summary   model.Summary
	processed int
}

// NewAggregator creates an Aggregator with one slot per record in the run.
func NewAggregator(size int) *Aggregator {
	return &Aggregator{
		slots:   make([]*model.GeocodeResult, size),
		summary: model.NewSummary(),
	}
}

// Accumulate stores res in slot pos and returns the number of records
// processed so far and a snapshot of the summary. Positions outside the run
// and repeated accumulation are rejected.
func (a *Aggregator) Accumulate(pos int, res model.GeocodeResult) (int, model.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pos < 0 || pos >= len(a.slots) {
		return a.processed, a.summary.Clone(), eris.Errorf("pipeline: record %q at position %d is not part of this run", res.RecordID, pos)
	}
	if a.slots[pos] != nil {
		return a.processed, a.summary.Clone(), eris.Errorf("pipeline: record %q at position %d already accumulated", res.RecordID, pos)
	}

	stored := res
	a.slots[pos] = &stored
	a.summary.Add(res)
	a.processed++
	return a.processed, a.summary.Clone(), nil
}

// Summary returns a snapshot of the counts accumulated so far.
func (a *Aggregator) Summary() model.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary.Clone()
}

// Processed returns how many records have been accumulated.
func (a *Aggregator) Processed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed
}

// Results returns the accumulated results in input order, omitting records
// that never completed.
func (a *Aggregator) Results() []model.GeocodeResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.GeocodeResult, 0, a.processed)
	for _, r := range a.slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

package model

import "time"

// AttemptStatus classifies the outcome of a single provider call.
type AttemptStatus string

const (
	AttemptOK             AttemptStatus = "ok"
	AttemptNoMatch        AttemptStatus = "no-match"
	AttemptTransientError AttemptStatus = "transient-error"
	AttemptFatalError     AttemptStatus = "fatal-error"
)

// Retryable reports whether the attempt may be repeated under the retry policy.
func (s AttemptStatus) Retryable() bool { return s == AttemptTransientError }

// Method records which tier of the fallback strategy produced a result.
type Method string

const (
	MethodFullAddress Method = "full-address"
	MethodPostalCode  Method = "postal-code"
	MethodUnresolved  Method = "unresolved"
)

// Methods lists every method in reporting order.
var Methods = []Method{MethodFullAddress, MethodPostalCode, MethodUnresolved}

// Status is the final per-record outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeocodeAttempt is the outcome of one provider call for one query.
type GeocodeAttempt struct {
	Provider    string        `json:"provider"`
	Query       string        `json:"query"`
	Try         int           `json:"try"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
	Latency     time.Duration `json:"latency"`
	Status      AttemptStatus `json:"status"`
	HTTPStatus  int           `json:"http_status,omitempty"`
	Message     string        `json:"message,omitempty"`

	// Err is the underlying failure for transient and fatal attempts.
	Err error `json:"-"`
}

// GeocodeResult is the definitive outcome for one record.
type GeocodeResult struct {
	RecordID     string           `json:"record_id"`
	Index        int              `json:"index"`
	Address      string           `json:"address,omitempty"`
	PostalCode   string           `json:"postal_code,omitempty"`
	Municipality string           `json:"municipality,omitempty"`
	Coordinates  *Coordinates     `json:"coordinates,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Method       Method           `json:"method"`
	Status       Status           `json:"status"`
	Cached       bool             `json:"cached,omitempty"`
	Attempts     []GeocodeAttempt `json:"attempts"`
}

// Resolved reports whether the result carries coordinates.
func (r GeocodeResult) Resolved() bool {
	return r.Status == StatusSuccess && r.Coordinates != nil
}

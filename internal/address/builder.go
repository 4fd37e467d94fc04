// Package address turns coded registry fields into geocoder query strings.
package address

import (
	"regexp"
	"strings"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// DefaultSuffix is appended to every query to pin it to the state.
const DefaultSuffix = ", Espírito Santo, Brasil"

// Issue reasons recorded on NormalizedAddress.BuildIssue.
const (
	IssueMissingStreet = "missing street type and street name"
)

var postalCodePattern = regexp.MustCompile(`^[0-9]{8}$`)

// defaultSentinels are placeholder values meaning "no number".
var defaultSentinels = []string{"S/N", "SN"}

// Builder builds NormalizedAddress values. The zero value is not usable; use
// NewBuilder.
type Builder struct {
	fields    model.FieldMap
	suffix    string
	sentinels map[string]struct{}
}

// Option configures a Builder.
type Option func(*Builder)

// WithSuffix overrides the regional suffix.
func WithSuffix(s string) Option {
	return func(b *Builder) {
		b.suffix = s
	}
}

// WithSentinels replaces the invalid-value sentinels.
func WithSentinels(vals ...string) Option {
	return func(b *Builder) {
		b.sentinels = sentinelSet(vals)
	}
}

// NewBuilder creates a Builder reading components from the given columns.
func NewBuilder(fields model.FieldMap, opts ...Option) *Builder {
	b := &Builder{
		fields:    fields,
		suffix:    DefaultSuffix,
		sentinels: sentinelSet(defaultSentinels),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func sentinelSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return m
}

// Build derives the full-address and postal-code queries for a record. It is
// a pure function of the record and the builder's configuration.
func (b *Builder) Build(rec model.RawRecord) model.NormalizedAddress {
	addr := model.NormalizedAddress{
		Municipality: CleanValue(rec.Value(b.fields.Municipality)),
	}

	street := joinNonEmpty(" ",
		b.component(rec, b.fields.StreetType),
		b.component(rec, b.fields.StreetName),
	)
	if street == "" {
		addr.BuildIssue = IssueMissingStreet
	} else {
		addr.FullQuery = joinNonEmpty(", ",
			street,
			b.component(rec, b.fields.Number),
			b.component(rec, b.fields.Complement),
		) + b.suffix
	}

	if cep := CleanValue(rec.Value(b.fields.PostalCode)); postalCodePattern.MatchString(cep) {
		addr.PostalCode = cep
		addr.PostalQuery = "CEP " + cep + b.suffix
	}

	return addr
}

// component returns the cleaned value of a column, or "" when the value is
// null, empty, or a sentinel.
func (b *Builder) component(rec model.RawRecord, code string) string {
	v, ok := rec.Get(code)
	if !ok {
		return ""
	}
	v = CleanValue(v)
	if _, bad := b.sentinels[strings.ToUpper(v)]; bad {
		return ""
	}
	return v
}

// CleanValue trims whitespace and surrounding quote characters.
func CleanValue(v string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(v), `"'`))
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

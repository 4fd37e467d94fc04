// Package model defines the records, addresses, and geocoding outcomes shared
// across the loader, the resolution pipeline, and the exporters.
package model

// FieldMap names the coded registry columns that carry each address component.
type FieldMap struct {
	ID           string `yaml:"id" mapstructure:"id"`
	Municipality string `yaml:"municipality" mapstructure:"municipality"`
	StreetType   string `yaml:"street_type" mapstructure:"street_type"`
	StreetName   string `yaml:"street_name" mapstructure:"street_name"`
	Number       string `yaml:"number" mapstructure:"number"`
	Complement   string `yaml:"complement" mapstructure:"complement"`
	PostalCode   string `yaml:"postal_code" mapstructure:"postal_code"`
}

// DefaultFieldMap returns the column codes used by the Receita Federal CNPJ
// establishment extracts.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ID:           "V1",
		Municipality: "V12",
		StreetType:   "V14",
		StreetName:   "V15",
		Number:       "V16",
		Complement:   "V18",
		PostalCode:   "V19",
	}
}

// RawRecord is one registry row keyed by coded column name. A column that is
// missing from Fields is null; a present empty string is an empty value.
type RawRecord struct {
	ID     string            `json:"id"`
	Index  int               `json:"index"`
	Source string            `json:"source,omitempty"`
	Fields map[string]string `json:"fields"`
}

// Get returns the raw value of a coded column and whether it was present.
func (r RawRecord) Get(code string) (string, bool) {
	if code == "" || r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[code]
	return v, ok
}

// Value returns the raw value of a coded column, or "" when null.
func (r RawRecord) Value(code string) string {
	v, _ := r.Get(code)
	return v
}

// NormalizedAddress holds the two queries derived from a RawRecord. An empty
// query is absent.
type NormalizedAddress struct {
	FullQuery   string `json:"full_query,omitempty"`
	PostalQuery string `json:"postal_query,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`

	// Municipality is the cleaned municipality code, carried for export.
	Municipality string `json:"municipality,omitempty"`

	// BuildIssue explains why FullQuery is absent.
	BuildIssue string `json:"build_issue,omitempty"`
}

// HasFullQuery reports whether a street-level query could be built.
func (a NormalizedAddress) HasFullQuery() bool { return a.FullQuery != "" }

// HasPostalQuery reports whether a postal-code query could be built.
func (a NormalizedAddress) HasPostalQuery() bool { return a.PostalQuery != "" }

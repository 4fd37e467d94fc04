package address

import (
	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// FieldCoverage counts the records with a usable value in one coded column.
type FieldCoverage struct {
	Field    string `yaml:"field" json:"field"`
	Column   string `yaml:"column" json:"column"`
	NonEmpty int    `yaml:"non_empty" json:"non_empty"`
}

// Coverage previews how much of an input can be geocoded before any
// provider is called.
type Coverage struct {
	Records       int             `yaml:"records" json:"records"`
	Fields        []FieldCoverage `yaml:"fields" json:"fields"`
	FullQueries   int             `yaml:"full_queries" json:"full_queries"`
	PostalQueries int             `yaml:"postal_queries" json:"postal_queries"`
	Unbuildable   int             `yaml:"unbuildable" json:"unbuildable"`
}

// Coverage counts non-empty values per configured column and the queries
// Build would derive from records.
func (b *Builder) Coverage(records []model.RawRecord) Coverage {
	cols := fieldColumns(b.fields)
	cov := Coverage{
		Records: len(records),
		Fields:  make([]FieldCoverage, len(cols)),
	}
	for i, c := range cols {
		cov.Fields[i] = FieldCoverage{Field: c[0], Column: c[1]}
	}

	for _, rec := range records {
		for i, c := range cols {
			if b.component(rec, c[1]) != "" {
				cov.Fields[i].NonEmpty++
			}
		}
		addr := b.Build(rec)
		if addr.HasFullQuery() {
			cov.FullQueries++
		}
		if addr.HasPostalQuery() {
			cov.PostalQueries++
		}
		if !addr.HasFullQuery() && !addr.HasPostalQuery() {
			cov.Unbuildable++
		}
	}
	return cov
}

func fieldColumns(f model.FieldMap) [][2]string {
	return [][2]string{
		{"id", f.ID},
		{"municipality", f.Municipality},
		{"street_type", f.StreetType},
		{"street_name", f.StreetName},
		{"number", f.Number},
		{"complement", f.Complement},
		{"postal_code", f.PostalCode},
	}
}

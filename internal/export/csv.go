package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// WriteCSV writes one row per result, in input order, with a header.
func WriteCSV(w io.Writer, rs *model.ResultSet) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "csv: encode header")
	}
	for _, r := range rs.Results {
		if err := enc.Encode(NewRow(r)); err != nil {
			return eris.Wrapf(err, "csv: encode record %s", r.RecordID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

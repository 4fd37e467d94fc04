package export

import (
	"time"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

func sampleResultSet() *model.ResultSet {
	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	results := []model.GeocodeResult{
		{
			RecordID:     "001",
			Index:        0,
			Address:      "RUA SETE DE SETEMBRO, 100, Espírito Santo, Brasil",
			PostalCode:   "29015000",
			Municipality: "5705",
			Coordinates:  &model.Coordinates{Latitude: -20.3194, Longitude: -40.3378},
			Provider:     "nominatim",
			Method:       model.MethodFullAddress,
			Status:       model.StatusSuccess,
			Attempts: []model.GeocodeAttempt{
				{Provider: "nominatim", Query: "RUA SETE DE SETEMBRO, 100, Espírito Santo, Brasil", Try: 1,
					Status: model.AttemptOK, Latency: 120 * time.Millisecond, HTTPStatus: 200},
			},
		},
		{
			RecordID:     "002",
			Index:        1,
			PostalCode:   "29010002",
			Municipality: "5705",
			Coordinates:  &model.Coordinates{Latitude: -20.3155, Longitude: -40.3128},
			Provider:     "photon",
			Method:       model.MethodPostalCode,
			Status:       model.StatusSuccess,
			Cached:       true,
			Attempts: []model.GeocodeAttempt{
				{Provider: "nominatim", Query: "CEP 29010002, Espírito Santo, Brasil", Try: 1,
					Status: model.AttemptNoMatch, Message: "no candidate"},
				{Provider: "photon", Query: "CEP 29010002, Espírito Santo, Brasil", Try: 1,
					Status: model.AttemptOK},
			},
		},
		{
			RecordID: "003",
			Index:    2,
			Method:   model.MethodUnresolved,
			Status:   model.StatusFailed,
		},
	}

	summary := model.NewSummary()
	for _, r := range results {
		summary.Add(r)
	}
	return &model.ResultSet{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Requested:  4,
		Cancelled:  true,
		Results:    results,
		Summary:    summary,
	}
}

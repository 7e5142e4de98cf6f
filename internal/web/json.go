package web

import (
	"encoding/json"

	"github.com/sweeney/pm25-relay-sim/internal/status"
)

// SeriesResponse is the JSON envelope of the per-series endpoint.
type SeriesResponse struct {
	Series status.SeriesJSON `json:"series"`
}

func formatSeriesJSON(st status.SeriesStatus) []byte {
	data, _ := json.MarshalIndent(SeriesResponse{Series: status.SeriesToJSON(st)}, "", "  ")
	return data
}

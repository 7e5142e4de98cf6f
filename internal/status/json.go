package status

import (
	"encoding/json"
	"time"

	"github.com/sosodev/duration"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	RunID         string         `json:"run_id"`
	Complete      bool           `json:"complete"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"counts"`
	Errors        map[string]int `json:"errors"`
	Aggregate     AggregateJSON  `json:"aggregate"`
	Series        []SeriesJSON   `json:"series,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of per-stage counts.
type CountsJSON struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// AggregateJSON is the cross-series roll-up. Durations are ISO 8601.
type AggregateJSON struct {
	Series       int     `json:"series"`
	MeanEvents   float64 `json:"mean_events"`
	MeanDuration string  `json:"mean_duration"`
	MeanGap      string  `json:"mean_gap"`
}

// SeriesJSON is the JSON representation of one series.
type SeriesJSON struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Readings       int     `json:"readings"`
	Events         int     `json:"events"`
	MeanDuration   string  `json:"mean_duration"`
	MeanDurationDH string  `json:"mean_duration_dh"`
	MeanGap        string  `json:"mean_gap"`
	MeanGapDH      string  `json:"mean_gap_dh"`
	OpenSince      string  `json:"open_since,omitempty"`
	OnShare        float64 `json:"on_share"`
	ElevatedShare  float64 `json:"elevated_share"`
	ErrorKind      string  `json:"error_kind,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// ConfigJSON is the JSON representation of run config.
type ConfigJSON struct {
	Policy    string `json:"policy"`
	Workers   int    `json:"workers"`
	InputDir  string `json:"input_dir"`
	OutputDir string `json:"output_dir"`
	Broker    string `json:"broker"`
	HTTPAddr  string `json:"http_addr"`
}

// SeriesToJSON converts one series status.
func SeriesToJSON(st SeriesStatus) SeriesJSON {
	out := SeriesJSON{
		Name:           st.Name,
		State:          string(st.State),
		Readings:       st.Readings,
		Events:         st.Summary.Count,
		MeanDuration:   duration.Format(st.Summary.MeanDuration),
		MeanDurationDH: logic.ToDaysHours(st.Summary.MeanDuration).String(),
		MeanGap:        duration.Format(st.Summary.MeanGap),
		MeanGapDH:      logic.ToDaysHours(st.Summary.MeanGap).String(),
		OnShare:        st.OnShare,
		ElevatedShare:  st.ElevatedShare,
		ErrorKind:      string(st.ErrorKind),
		Error:          st.Error,
	}
	if st.Summary.Open {
		out.OpenSince = st.Summary.OpenSince.UTC().Format(time.RFC3339)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Counts()
	agg := snap.Aggregate()

	errs := make(map[string]int)
	for k, n := range snap.ErrorKinds() {
		errs[string(k)] = n
	}

	return StatusInner{
		RunID:         snap.RunID,
		Complete:      snap.Complete,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Pending: c.Pending,
			Running: c.Running,
			Done:    c.Done,
			Failed:  c.Failed,
		},
		Errors: errs,
		Aggregate: AggregateJSON{
			Series:       agg.Series,
			MeanEvents:   agg.MeanEvents,
			MeanDuration: duration.Format(agg.MeanDuration),
			MeanGap:      duration.Format(agg.MeanGap),
		},
		Config: ConfigJSON{
			Policy:    snap.Config.Policy,
			Workers:   snap.Config.Workers,
			InputDir:  snap.Config.InputDir,
			OutputDir: snap.Config.OutputDir,
			Broker:    snap.Config.Broker,
			HTTPAddr:  snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint, including every series.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	for _, st := range snap.Series {
		inner.Series = append(inner.Series, SeriesToJSON(st))
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status for an MQTT system event.
// Per-series detail is omitted; summaries travel on their own topic.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

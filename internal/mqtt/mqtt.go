// Package mqtt publishes simulated relay transitions, per-series summaries and
// batch lifecycle events, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sosodev/duration"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "airquality/relay-sim"

// Topics names the three topics a publisher writes to.
type Topics struct {
	Relay   string
	Summary string
	System  string
}

// NewTopics derives the topics from a prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Relay:   prefix + "/relay",
		Summary: prefix + "/summary",
		System:  prefix + "/system",
	}
}

// Publisher publishes simulation output to MQTT.
type Publisher interface {
	// PublishTransition sends one relay state change.
	// Returns error if publishing fails (should not abort the batch).
	PublishTransition(t Transition) error

	// PublishSummary sends the event statistics of one series.
	PublishSummary(s SeriesSummary) error

	// PublishSystem sends a batch lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Transition is a relay state change within one simulated series.
type Transition struct {
	RunID    string
	Series   string
	Time     time.Time
	State    logic.State
	PM25     float64
	Baseline float64
}

// SeriesSummary is the outcome of one simulated series.
type SeriesSummary struct {
	RunID         string
	Series        string
	Policy        string
	Summary       logic.Summary
	OnShare       float64
	ElevatedShare float64
	ErrorKind     logic.ErrorKind
}

// SystemEvent represents a lifecycle event (e.g., STARTUP, COMPLETE, SHUTDOWN).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "COMPLETE", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM" (shutdown only)
	RunID      string
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Transitions reduces a run to the decisions where the relay state changed.
// The first decision counts as a change only when it is ON.
func Transitions(runID, series string, run logic.Run) []Transition {
	var out []Transition
	prev := logic.StateOff
	for _, d := range run.Decisions {
		if d.State == prev {
			continue
		}
		out = append(out, Transition{
			RunID:    runID,
			Series:   series,
			Time:     d.Time,
			State:    d.State,
			PM25:     d.PM25,
			Baseline: d.Baseline,
		})
		prev = d.State
	}
	return out
}

// TransitionPayload represents the MQTT message payload for a relay change.
type TransitionPayload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay change details.
type RelayPayload struct {
	Timestamp string  `json:"timestamp"`
	RunID     string  `json:"run_id"`
	Series    string  `json:"series"`
	State     string  `json:"state"`
	PM25      float64 `json:"pm25"`
	Baseline  float64 `json:"baseline"`
}

// FormatTransitionPayload creates the JSON payload for a relay change.
func FormatTransitionPayload(t Transition) ([]byte, error) {
	payload := TransitionPayload{
		Relay: RelayPayload{
			Timestamp: t.Time.UTC().Format(time.RFC3339),
			RunID:     t.RunID,
			Series:    t.Series,
			State:     string(t.State),
			PM25:      t.PM25,
			Baseline:  t.Baseline,
		},
	}
	return json.Marshal(payload)
}

// SummaryPayload represents the MQTT message payload for a series summary.
type SummaryPayload struct {
	Summary SummaryPayloadInner `json:"summary"`
}

// SummaryPayloadInner contains the summary details. Durations are ISO 8601
// (e.g. "PT1H30M"); the _dh fields repeat them as days:hours.
type SummaryPayloadInner struct {
	RunID          string  `json:"run_id"`
	Series         string  `json:"series"`
	Policy         string  `json:"policy"`
	Events         int     `json:"events"`
	MeanDuration   string  `json:"mean_duration"`
	MeanDurationDH string  `json:"mean_duration_dh"`
	MeanGap        string  `json:"mean_gap"`
	MeanGapDH      string  `json:"mean_gap_dh"`
	OpenSince      string  `json:"open_since,omitempty"`
	OnShare        float64 `json:"on_share"`
	ElevatedShare  float64 `json:"elevated_share"`
	Error          string  `json:"error,omitempty"`
}

// FormatSummaryPayload creates the JSON payload for a series summary.
func FormatSummaryPayload(s SeriesSummary) ([]byte, error) {
	inner := SummaryPayloadInner{
		RunID:          s.RunID,
		Series:         s.Series,
		Policy:         s.Policy,
		Events:         s.Summary.Count,
		MeanDuration:   duration.Format(s.Summary.MeanDuration),
		MeanDurationDH: logic.ToDaysHours(s.Summary.MeanDuration).String(),
		MeanGap:        duration.Format(s.Summary.MeanGap),
		MeanGapDH:      logic.ToDaysHours(s.Summary.MeanGap).String(),
		OnShare:        s.OnShare,
		ElevatedShare:  s.ElevatedShare,
	}
	if s.Summary.Open {
		inner.OpenSince = s.Summary.OpenSince.UTC().Format(time.RFC3339)
	}
	if s.ErrorKind != logic.KindNone {
		inner.Error = string(s.ErrorKind)
	}
	return json.Marshal(SummaryPayload{Summary: inner})
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			RunID:     event.RunID,
		},
	}
	return json.Marshal(payload)
}

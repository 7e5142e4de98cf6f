// Package status provides a thread-safe progress tracker for a batch run.
// It is read by the HTTP handlers and by the final MQTT system event.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mqtt"
)

// SeriesState is the processing stage of one series.
type SeriesState string

const (
	SeriesPending SeriesState = "PENDING"
	SeriesRunning SeriesState = "RUNNING"
	SeriesDone    SeriesState = "DONE"
	SeriesFailed  SeriesState = "FAILED"
)

// Config contains run configuration for display.
type Config struct {
	Policy    string
	Workers   int
	InputDir  string
	OutputDir string
	Broker    string
	HTTPAddr  string
}

// SeriesStatus is the tracked state of one input series.
type SeriesStatus struct {
	Name          string
	State         SeriesState
	Readings      int
	Summary       logic.Summary
	OnShare       float64
	ElevatedShare float64
	ErrorKind     logic.ErrorKind
	Error         string
	Started       time.Time
	Finished      time.Time
}

// Counts tallies series by stage.
type Counts struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Snapshot is a point-in-time view of the run.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	RunID         string
	StartTime     time.Time
	Now           time.Time
	Complete      bool
	MQTTConnected bool
	Config        Config
	Series        []SeriesStatus
}

// Uptime returns the duration since the run started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Counts tallies the series by stage.
func (s Snapshot) Counts() Counts {
	var c Counts
	for _, st := range s.Series {
		switch st.State {
		case SeriesPending:
			c.Pending++
		case SeriesRunning:
			c.Running++
		case SeriesDone:
			c.Done++
		case SeriesFailed:
			c.Failed++
		}
	}
	return c
}

// ErrorKinds counts failed series by error kind.
func (s Snapshot) ErrorKinds() map[logic.ErrorKind]int {
	out := make(map[logic.ErrorKind]int)
	for _, st := range s.Series {
		if st.State == SeriesFailed {
			out[st.ErrorKind]++
		}
	}
	return out
}

// Aggregate rolls up the summaries of the completed series.
func (s Snapshot) Aggregate() logic.Aggregate {
	var sums []logic.Summary
	for _, st := range s.Series {
		if st.State == SeriesDone {
			sums = append(sums, st.Summary)
		}
	}
	return logic.AggregateSummaries(sums)
}

// Find returns the status of the named series.
func (s Snapshot) Find(name string) (SeriesStatus, bool) {
	for _, st := range s.Series {
		if st.Name == name {
			return st, true
		}
	}
	return SeriesStatus{}, false
}

// Tracker holds mutable run state behind an RWMutex.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	series map[string]*SeriesStatus
	conn   mqtt.ConnectionStatus
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, runID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			RunID:     runID,
			StartTime: startTime,
			Config:    cfg,
		},
		series: make(map[string]*SeriesStatus),
	}
}

// Register adds series in the PENDING state. Known names are left untouched.
func (t *Tracker) Register(names ...string) {
	t.mu.Lock()
	for _, n := range names {
		if _, ok := t.series[n]; !ok {
			t.series[n] = &SeriesStatus{Name: n, State: SeriesPending}
		}
	}
	t.mu.Unlock()
}

// Start marks a series as running.
func (t *Tracker) Start(name string, at time.Time) {
	t.mu.Lock()
	st := t.get(name)
	st.State = SeriesRunning
	st.Started = at
	t.mu.Unlock()
}

// Finish records the outcome of a series. A non-empty ErrorKind marks it FAILED.
func (t *Tracker) Finish(result SeriesStatus, at time.Time) {
	t.mu.Lock()
	st := t.get(result.Name)
	started := st.Started
	*st = result
	st.Started = started
	st.Finished = at
	st.State = SeriesDone
	if result.ErrorKind != logic.KindNone {
		st.State = SeriesFailed
	}
	t.mu.Unlock()
}

// MarkComplete records that every series has been processed.
func (t *Tracker) MarkComplete() {
	t.mu.Lock()
	t.snap.Complete = true
	t.mu.Unlock()
}

// WatchMQTT makes every snapshot read the broker connection state from conn.
// Without it the status reports disconnected.
func (t *Tracker) WatchMQTT(conn mqtt.ConnectionStatus) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

// get returns the entry for name, creating it if needed. Caller holds mu.
func (t *Tracker) get(name string) *SeriesStatus {
	st, ok := t.series[name]
	if !ok {
		st = &SeriesStatus{Name: name, State: SeriesPending}
		t.series[name] = st
	}
	return st
}

// Snapshot returns a point-in-time copy of the run state, series sorted by name.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Series = make([]SeriesStatus, 0, len(t.series))
	for _, st := range t.series {
		s.Series = append(s.Series, *st)
	}
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		s.MQTTConnected = conn.IsConnected()
	}
	sort.Slice(s.Series, func(i, j int) bool { return s.Series[i].Name < s.Series[j].Name })
	s.Now = time.Now()
	return s
}

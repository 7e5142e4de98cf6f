package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/sweeney/pm25-relay-sim/internal/batch"
	"github.com/sweeney/pm25-relay-sim/internal/csvio"
	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mqtt"
	"github.com/sweeney/pm25-relay-sim/internal/report"
	"github.com/sweeney/pm25-relay-sim/internal/status"
	"github.com/sweeney/pm25-relay-sim/internal/web"
)

var start = time.Date(2020, 8, 13, 0, 0, 0, 0, time.UTC)

// export writes 10-minute readings at 10 ug/m3 over days days, raised to 100
// for every reading where spike returns true.
func export(t *testing.T, dir, name string, days int, spike func(time.Time) bool) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("created_at,entry_id,PM2.5_CF1_ug/m3,PM10.0_CF1_ug/m3\n")
	n := days * 144
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 10 * time.Minute)
		v := 10.0
		if spike(ts) {
			v = 100
		}
		fmt.Fprintf(&b, "%s,%d,%g,%g\n", ts.Format("2006-01-02 15:04:05 UTC"), i, v, v*1.2)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// between reports whether t falls in [from, to) hours after start.
func between(from, to int) func(time.Time) bool {
	return func(t time.Time) bool {
		h := t.Sub(start).Hours()
		return h >= float64(from) && h < float64(to)
	}
}

func newProcessor(t *testing.T, pub mqtt.Publisher, tracker *status.Tracker, out string) *batch.Processor {
	t.Helper()
	opts := batch.DefaultOptions()
	opts.OutputDir = out
	opts.Workers = 2
	return batch.NewProcessor(opts, zap.NewNop(),
		batch.WithRunID("run-1"),
		batch.WithPublisher(pub),
		batch.WithTracker(tracker),
	)
}

// TestIntegrationFullFlow runs exports through the processor with a fake
// broker and checks what every consumer sees.
func TestIntegrationFullFlow(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "processed")
	// Two spikes on separate days: 10:00-15:00 on day 0 and day 2.
	twoEvents := func(ts time.Time) bool { return between(10, 15)(ts) || between(58, 63)(ts) }
	export(t, in, "boulder.csv", 4, twoEvents)
	export(t, in, "quiet.csv", 2, func(time.Time) bool { return false })

	paths, err := batch.DiscoverCSV(in)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, "run-1", status.Config{Policy: "window", Workers: 2})
	results, err := newProcessor(t, pub, tracker, out).ProcessFiles(context.Background(), paths)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	boulder := results[0]
	if boulder.Series != "boulder.csv" {
		t.Fatalf("results not in input order: %s", boulder.Series)
	}
	if boulder.Err != nil {
		t.Fatalf("boulder failed: %v", boulder.Err)
	}
	if boulder.Summary.Count != 2 {
		t.Fatalf("expected 2 events, got %d", boulder.Summary.Count)
	}
	if boulder.Summary.MeanDuration != 5*time.Hour {
		t.Errorf("mean duration: got %v, want 5h", boulder.Summary.MeanDuration)
	}
	// 18:10 on day 0 to 13:10 on day 2.
	if boulder.Summary.MeanGap != 43*time.Hour {
		t.Errorf("mean gap: got %v, want 43h", boulder.Summary.MeanGap)
	}
	if results[1].Summary.Count != 0 || results[1].Summary.Open {
		t.Errorf("quiet series should have no events: %+v", results[1].Summary)
	}

	// Two ON and two OFF transitions, all from boulder.
	if len(pub.Transitions) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(pub.Transitions))
	}
	for i, tr := range pub.Transitions {
		want := logic.StateOn
		if i%2 == 1 {
			want = logic.StateOff
		}
		if tr.State != want || tr.Series != "boulder.csv" {
			t.Errorf("transition %d: %+v", i, tr)
		}
	}
	if !pub.Transitions[0].Time.Equal(start.Add(13*time.Hour + 10*time.Minute)) {
		t.Errorf("first ON at %v", pub.Transitions[0].Time)
	}
	if len(pub.Summaries) != 2 {
		t.Errorf("expected 2 summaries, got %d", len(pub.Summaries))
	}

	// The processed output reads back as a series of the same length.
	f, err := os.Open(filepath.Join(out, "boulder_processed.csv"))
	if err != nil {
		t.Fatalf("open processed: %v", err)
	}
	defer f.Close()
	back, _, err := csvio.ReadExport(f, csvio.Filter{})
	if err != nil {
		t.Fatalf("read processed: %v", err)
	}
	if len(back.Series) != 4*144 {
		t.Errorf("processed rows: got %d, want %d", len(back.Series), 4*144)
	}
	// Original columns come first, unchanged.
	if len(back.Header) != 7 || back.Header[3] != "PM10.0_CF1_ug/m3" || back.Header[5] != csvio.ColumnRelay {
		t.Errorf("processed header: %v", back.Header)
	}
	if got := back.Rows[0][3]; got != "12" {
		t.Errorf("PM10 echoed as %q, want 12", got)
	}

	snap := tracker.Snapshot()
	if !snap.Complete {
		t.Error("tracker should be complete")
	}
	if c := snap.Counts(); c.Done != 2 {
		t.Errorf("done: got %d, want 2", c.Done)
	}
}

func TestIntegrationStatusServer(t *testing.T) {
	in := t.TempDir()
	path := export(t, in, "boulder.csv", 2, between(10, 15))

	tracker := status.NewTracker(start, "run-1", status.Config{Policy: "window"})
	if _, err := newProcessor(t, mqtt.NewFakePublisher(), tracker, "").ProcessFiles(context.Background(), []string{path}); err != nil {
		t.Fatalf("process: %v", err)
	}

	ts := httptest.NewServer(web.New(":0", tracker).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/series/boulder.csv")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var sr web.SeriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.Series.State != "DONE" || sr.Series.Events != 1 {
		t.Errorf("unexpected series status: %+v", sr.Series)
	}
	if sr.Series.MeanDurationDH != "0:5" {
		t.Errorf("mean duration d:h: got %s, want 0:5", sr.Series.MeanDurationDH)
	}
}

func TestIntegrationOpenEventAtEnd(t *testing.T) {
	in := t.TempDir()
	path := export(t, in, "fire.csv", 2, between(44, 48))

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, "run-1", status.Config{})
	results, err := newProcessor(t, pub, tracker, "").ProcessFiles(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	s := results[0].Summary
	if s.Count != 0 || !s.Open {
		t.Fatalf("expected only an open interval, got %+v", s)
	}
	var parsed mqtt.SummaryPayload
	if err := json.Unmarshal(pub.Payloads[len(pub.Payloads)-1], &parsed); err != nil {
		t.Fatalf("summary payload: %v", err)
	}
	if parsed.Summary.OpenSince != "2020-08-14T23:10:00Z" {
		t.Errorf("open_since: got %q", parsed.Summary.OpenSince)
	}
}

func TestIntegrationFailuresAreIsolated(t *testing.T) {
	in := t.TempDir()
	good := export(t, in, "good.csv", 2, between(10, 15))
	bad := filepath.Join(in, "bad.csv")
	if err := os.WriteFile(bad, []byte("created_at,value\n2020-08-13 00:00:00 UTC,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(in, "single.csv")
	if err := os.WriteFile(single, []byte("created_at,PM2.5_CF1_ug/m3\n2020-08-13 00:00:00 UTC,12\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	tracker := status.NewTracker(start, "run-1", status.Config{})
	results, err := newProcessor(t, pub, tracker, "").ProcessFiles(context.Background(), []string{bad, good, single})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if results[0].ErrorKind != logic.KindInput {
		t.Errorf("bad.csv: got kind %q, want input", results[0].ErrorKind)
	}
	if results[1].Err != nil || results[1].Summary.Count != 1 {
		t.Errorf("good.csv should succeed despite broker errors: %+v", results[1])
	}
	// Too short for the indoor model, but still a completed series.
	if results[2].Err != nil || results[2].Estimate != nil {
		t.Errorf("single.csv: err=%v estimate=%v", results[2].Err, results[2].Estimate)
	}

	kinds := tracker.Snapshot().ErrorKinds()
	if kinds[logic.KindInput] != 1 || len(kinds) != 1 {
		t.Errorf("error kinds: %+v", kinds)
	}
	if c := tracker.Snapshot().Counts(); c.Done != 2 || c.Failed != 1 {
		t.Errorf("counts: %+v", c)
	}
}

func TestIntegrationReport(t *testing.T) {
	in := t.TempDir()
	a := export(t, in, "a.csv", 2, between(10, 15))
	b := export(t, in, "b.csv", 2, func(time.Time) bool { return false })

	results, err := newProcessor(t, mqtt.NewFakePublisher(), status.NewTracker(start, "", status.Config{}), "").
		ProcessFiles(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	rows := make([]report.Row, len(results))
	for i, r := range results {
		rows[i] = report.Row{Series: r.Series, Policy: "window", Readings: r.Readings, Summary: r.Summary, OnShare: r.OnShare}
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, rows); err != nil {
		t.Fatalf("write report: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()
	got, err := f.GetRows(report.SheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected header, 2 series and averages; got %d rows", len(got))
	}
	avg := got[3]
	if avg[0] != report.AveragesLabel || avg[3] != "0.5" || avg[4] != "0:5" {
		t.Errorf("averages row: %v", avg)
	}
}

func TestIntegrationSystemEvents(t *testing.T) {
	in := t.TempDir()
	path := export(t, in, "a.csv", 2, between(10, 15))

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, "run-1", status.Config{Policy: "window"})
	if _, err := newProcessor(t, pub, tracker, "").ProcessFiles(context.Background(), []string{path}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(pub.SystemEvents) != 2 {
		t.Fatalf("expected STARTUP and COMPLETE, got %d events", len(pub.SystemEvents))
	}
	var startup, complete status.StatusJSON
	if err := json.Unmarshal(pub.SystemPayloads[0], &startup); err != nil {
		t.Fatalf("startup payload: %v", err)
	}
	if err := json.Unmarshal(pub.SystemPayloads[1], &complete); err != nil {
		t.Fatalf("complete payload: %v", err)
	}
	if startup.Status.Event != "STARTUP" || startup.Status.Counts.Pending != 1 {
		t.Errorf("startup: %+v", startup.Status)
	}
	if complete.Status.Event != "COMPLETE" || !complete.Status.Complete || complete.Status.Counts.Done != 1 {
		t.Errorf("complete: %+v", complete.Status)
	}
	if complete.Status.RunID != "run-1" {
		t.Errorf("run id: got %q", complete.Status.RunID)
	}
}

// Package csvio reads outdoor sensor exports and writes them back with
// baseline, relay state and indoor estimate columns appended.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// Column names of the sensor export and the processed output.
const (
	ColumnTime     = "created_at"
	ColumnPM25     = "PM2.5_CF1_ug/m3"
	ColumnBaseline = "baseline_pm25"
	ColumnRelay    = "relay_state"
	ColumnIndoor   = "Estimated_Indoor_PM2.5"
)

// Layouts tried when a timestamp is not strict ISO 8601.
var fallbackLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp and normalises it to UTC. Naive values are
// taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := iso8601.ParseString(s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Filter restricts which readings are kept.
type Filter struct {
	// Months keeps only readings in these months; empty keeps all.
	Months []time.Month
	// From and To bound the readings inclusively; zero values are open.
	From time.Time
	To   time.Time
}

func (f Filter) keep(t time.Time) bool {
	if len(f.Months) > 0 && !slices.Contains(f.Months, t.Month()) {
		return false
	}
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.After(f.To) {
		return false
	}
	return true
}

// Stats counts what happened to the rows of one file.
type Stats struct {
	Rows         int
	BadTime      int
	BadValue     int
	Filtered     int
	Kept         int
	FirstReading time.Time
	LastReading  time.Time
}

// Export is a parsed sensor export. Rows[i] is the original record behind
// Series[i]; rows that were skipped or filtered are not kept.
type Export struct {
	Header []string
	Rows   [][]string
	Series logic.Series
}

// ReadSeries reads a sensor export. Rows with unparseable timestamps or
// values are skipped and counted. A file missing either required column, or
// with no usable rows left, yields an error wrapping logic.ErrInput.
func ReadSeries(r io.Reader, filter Filter) (logic.Series, Stats, error) {
	exp, stats, err := ReadExport(r, filter)
	if err != nil {
		return nil, stats, err
	}
	return exp.Series, stats, nil
}

// ReadExport is ReadSeries that also keeps the header and the original record
// of every kept reading, so output can be written alongside the input columns.
func ReadExport(r io.Reader, filter Filter) (*Export, Stats, error) {
	var stats Stats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("%w: read header: %v", logic.ErrInput, err)
	}
	timeIdx, pmIdx := -1, -1
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch header[i] {
		case ColumnTime:
			timeIdx = i
		case ColumnPM25:
			pmIdx = i
		}
	}
	if timeIdx < 0 || pmIdx < 0 {
		return nil, stats, fmt.Errorf("%w: required columns %q and %q missing", logic.ErrInput, ColumnTime, ColumnPM25)
	}

	type row struct {
		rec     []string
		reading logic.Reading
	}
	var rows []row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%w: line %d: %v", logic.ErrInput, stats.Rows+2, err)
		}
		stats.Rows++
		if timeIdx >= len(rec) || pmIdx >= len(rec) {
			stats.BadValue++
			continue
		}
		t, err := ParseTimestamp(rec[timeIdx])
		if err != nil || t.IsZero() {
			stats.BadTime++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[pmIdx]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			stats.BadValue++
			continue
		}
		if !filter.keep(t) {
			stats.Filtered++
			continue
		}
		rows = append(rows, row{rec: rec, reading: logic.Reading{Time: t, PM25: v}})
	}

	// Same ordering as logic.CleanSeries, applied to the records too.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].reading.Time.Before(rows[j].reading.Time)
	})
	exp := &Export{Header: header, Rows: make([][]string, len(rows))}
	readings := make([]logic.Reading, len(rows))
	for i, r := range rows {
		exp.Rows[i] = r.rec
		readings[i] = r.reading
	}
	series, err := logic.CleanSeries(readings)
	if err != nil {
		return nil, stats, err
	}
	exp.Series = series
	stats.Kept = len(series)
	stats.FirstReading = series[0].Time
	stats.LastReading = series[len(series)-1].Time
	return exp, stats, nil
}

// WriteProcessed writes one row per decision. With a source export every
// original column is echoed and the baseline, relay and indoor columns are
// appended, replacing columns of the same name. Without one only the time and
// concentration are written ahead of them. indoor may be nil when the mixing
// model was not run, in which case the indoor column is left empty.
func WriteProcessed(w io.Writer, src *Export, run logic.Run, indoor []float64) error {
	if indoor != nil && len(indoor) != len(run.Decisions) {
		return fmt.Errorf("indoor estimate has %d values for %d decisions", len(indoor), len(run.Decisions))
	}
	if src != nil && len(src.Rows) != len(run.Decisions) {
		return fmt.Errorf("source has %d rows for %d decisions", len(src.Rows), len(run.Decisions))
	}

	header := []string{ColumnTime, ColumnPM25}
	if src != nil {
		header = slices.Clone(src.Header)
	}
	width := len(header)
	var added [3]int
	for i, name := range []string{ColumnBaseline, ColumnRelay, ColumnIndoor} {
		idx := slices.Index(header, name)
		if idx < 0 {
			idx = len(header)
			header = append(header, name)
		}
		added[i] = idx
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, d := range run.Decisions {
		row := make([]string, len(header))
		if src != nil {
			copy(row[:width], src.Rows[i])
		} else {
			row[0] = d.Time.UTC().Format(time.RFC3339)
			row[1] = formatFloat(d.PM25)
		}
		row[added[0]] = formatFloat(d.Baseline)
		row[added[1]] = string(d.State)
		row[added[2]] = ""
		if indoor != nil {
			row[added[2]] = formatFloat(indoor[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

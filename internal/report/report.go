// Package report writes the event-analysis workbook: one row per series and
// a final Averages row.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// SheetName is the workbook's only sheet.
const SheetName = "Event Analysis"

// AveragesLabel marks the roll-up row.
const AveragesLabel = "Averages"

// Header is the first row of the sheet.
var Header = []string{
	"Series",
	"Policy",
	"Readings",
	"Total Events",
	"Average Duration (d:h)",
	"Average Time Between (d:h)",
	"Open Since",
	"Relay ON (%)",
	"Elevated ON (%)",
	"Error",
}

var columnWidths = []float64{30, 10, 12, 14, 24, 28, 22, 14, 16, 14}

// Row is one series in the report.
type Row struct {
	Series        string
	Policy        string
	Readings      int
	Summary       logic.Summary
	OnShare       float64
	ElevatedShare float64
	ErrorKind     logic.ErrorKind
}

func (r Row) values() []any {
	open := ""
	if r.Summary.Open {
		open = r.Summary.OpenSince.UTC().Format("2006-01-02 15:04")
	}
	return []any{
		r.Series,
		r.Policy,
		r.Readings,
		r.Summary.Count,
		logic.ToDaysHours(r.Summary.MeanDuration).String(),
		logic.ToDaysHours(r.Summary.MeanGap).String(),
		open,
		round2(r.OnShare),
		round2(r.ElevatedShare),
		string(r.ErrorKind),
	}
}

// Averages rolls up the rows that completed without error.
func Averages(rows []Row) logic.Aggregate {
	var sums []logic.Summary
	for _, r := range rows {
		if r.ErrorKind == logic.KindNone {
			sums = append(sums, r.Summary)
		}
	}
	return logic.AggregateSummaries(sums)
}

// Build creates the workbook. Rows are sorted by series name. The caller
// must Close the returned file.
func Build(rows []Row) (*excelize.File, error) {
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Series < sorted[j].Series })

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := setRow(f, 1, toAny(Header)); err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range sorted {
		if err := setRow(f, i+2, r.values()); err != nil {
			f.Close()
			return nil, err
		}
	}

	agg := Averages(sorted)
	avg := []any{
		AveragesLabel,
		"",
		"",
		round2(agg.MeanEvents),
		logic.ToDaysHours(agg.MeanDuration).String(),
		logic.ToDaysHours(agg.MeanGap).String(),
	}
	if err := setRow(f, len(sorted)+2, avg); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, rows []Row) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile builds the workbook and saves it to path.
func WriteFile(path string, rows []Row) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to set row %d: %w", row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

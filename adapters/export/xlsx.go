package export

import (
	"fmt"
	"io"

	"trialsim/domain/trial"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet     = "Summary"
	curveSheet       = "Power Curve"
	stopReasonsSheet = "Stop Reasons"
)

// WriteXLSX writes a workbook with Summary, Power Curve (with a line chart)
// and Stop Reasons sheets.
func WriteXLSX(w io.Writer, record *trial.RunRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	rows := append([][]string{{"Parameter", "Value"}}, configRows(record)...)
	rows = append(rows, []string{"", ""}, []string{"Metric", "Value"})
	rows = append(rows, summaryRows(record)...)
	for _, warning := range record.Result.Warnings {
		rows = append(rows, []string{"Warning", warning})
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(curveSheet); err != nil {
		return err
	}
	curve := record.Result.PowerCurve
	if err := writeRows(f, curveSheet, [][]string{{"Sample size", "Power treatment 1 (%)", "Power treatment 2 (%)"}}); err != nil {
		return err
	}
	for i, p := range curve {
		row := i + 2
		values := []interface{}{p.SampleSize, p.PowerTreatment1, p.PowerTreatment2}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(curveSheet, cell, v); err != nil {
				return err
			}
		}
	}
	if len(curve) > 0 {
		if err := addPowerChart(f, len(curve)); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(stopReasonsSheet); err != nil {
		return err
	}
	reasons := append([][]string{{"Stop reason", "Runs"}}, stopReasonRows(record.Result.StopReasons)...)
	if err := writeRows(f, stopReasonsSheet, reasons); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func addPowerChart(f *excelize.File, points int) error {
	last := points + 1
	series := make([]excelize.ChartSeries, 0, 2)
	for _, col := range []string{"B", "C"} {
		series = append(series, excelize.ChartSeries{
			Name:       fmt.Sprintf("'%s'!$%s$1", curveSheet, col),
			Categories: fmt.Sprintf("'%s'!$A$2:$A$%d", curveSheet, last),
			Values:     fmt.Sprintf("'%s'!$%s$2:$%s$%d", curveSheet, col, col, last),
		})
	}
	return f.AddChart(curveSheet, "E2", &excelize.Chart{
		Type:   excelize.Line,
		Series: series,
		Title:  []excelize.RichTextRun{{Text: "Power vs sample size per arm"}},
		Legend: excelize.ChartLegend{Position: "bottom"},
	})
}

func writeRows(f *excelize.File, sheet string, rows [][]string) error {
	for r, row := range rows {
		for c, v := range row {
			if v == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

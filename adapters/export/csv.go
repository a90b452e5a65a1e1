package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"trialsim/domain/trial"
)

// WriteCSV writes the config block, summary, power curve and stop reasons
// as blank-line separated sections.
func WriteCSV(w io.Writer, record *trial.RunRecord) error {
	cw := csv.NewWriter(w)

	sections := []struct {
		header []string
		rows   [][]string
	}{
		{[]string{"parameter", "value"}, configRows(record)},
		{[]string{"metric", "value"}, summaryRows(record)},
		{[]string{"sample_size", "power_treatment1", "power_treatment2"}, curveRows(record.Result.PowerCurve)},
		{[]string{"stop_reason", "runs"}, stopReasonRows(record.Result.StopReasons)},
	}

	for i, section := range sections {
		if i > 0 {
			if err := cw.Write([]string{}); err != nil {
				return err
			}
		}
		if err := cw.Write(section.header); err != nil {
			return err
		}
		if err := cw.WriteAll(section.rows); err != nil {
			return err
		}
	}
	for _, warning := range record.Result.Warnings {
		if err := cw.Write([]string{"warning", warning}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func curveRows(curve []trial.PowerPoint) [][]string {
	rows := make([][]string, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, []string{strconv.Itoa(p.SampleSize), fToStr(p.PowerTreatment1, 1), fToStr(p.PowerTreatment2, 1)})
	}
	return rows
}

func stopReasonRows(counts map[trial.StopReason]int) [][]string {
	rows := make([][]string, 0, len(trial.AllStopReasons))
	for _, reason := range trial.AllStopReasons {
		rows = append(rows, []string{string(reason), strconv.Itoa(counts[reason])})
	}
	return rows
}

// ScenarioRow is one line of a batch results table. Record is nil when the
// scenario failed.
type ScenarioRow struct {
	Name   string
	Seed   int64
	Record *trial.RunRecord
	Error  string
}

// WriteScenarioTable writes one row per batch scenario in input order
func WriteScenarioTable(w io.Writer, rows []ScenarioRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"scenario", "seed", "run_id", "sample_size_per_arm", "interim_looks",
		"power_treatment1", "power_treatment2", "type_i_error_rate",
		"average_final_sample_size", "early_stop_rate", "error",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		seed := strconv.FormatInt(row.Seed, 10)
		if row.Record == nil {
			if err := cw.Write([]string{row.Name, seed, "", "", "", "", "", "", "", "", row.Error}); err != nil {
				return err
			}
			continue
		}
		res := row.Record.Result
		err := cw.Write([]string{
			row.Name, seed, row.Record.ID.String(),
			strconv.Itoa(row.Record.Config.SampleSizePerArm), strconv.Itoa(row.Record.Config.InterimLooks),
			fToStr(res.Power.Treatment1, 1), fToStr(res.Power.Treatment2, 1), fToStr(res.TypeIErrorRate, 1),
			fToStr(res.AverageFinalSampleSize, 1), fToStr(res.EarlyStopRate, 1), "",
		})
		if err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

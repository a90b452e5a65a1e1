// Package export renders stored simulation runs as files. Exports are
// one-shot and never touch stored state.
package export

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"trialsim/domain/trial"
)

// Format is an export file format
type Format string

const (
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatPNG      Format = "png"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
)

// Formats lists every supported format
var Formats = []Format{FormatCSV, FormatXLSX, FormatPNG, FormatHTML, FormatMarkdown}

// ParseFormat accepts a format name or file extension, case-insensitive
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	if name == "markdown" {
		name = string(FormatMarkdown)
	}
	for _, f := range Formats {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPNG:
		return "image/png"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/octet-stream"
}

// FileName returns a download name derived from the record
func FileName(record *trial.RunRecord, f Format) string {
	return fmt.Sprintf("trialsim-%s.%s", record.Fingerprint.Short(), f)
}

// Write renders record in the given format
func Write(w io.Writer, f Format, record *trial.RunRecord) error {
	if record == nil {
		return fmt.Errorf("nothing to export")
	}
	switch f {
	case FormatCSV:
		return WriteCSV(w, record)
	case FormatXLSX:
		return WriteXLSX(w, record)
	case FormatPNG:
		return WritePowerCurvePNG(w, record.Result.PowerCurve)
	case FormatHTML:
		return WriteHTML(w, record)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(record))
		return err
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// WriteFile renders record into path, removing the partial file on failure
func WriteFile(path string, f Format, record *trial.RunRecord) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(out, f, record); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

// summaryRows is the shared label/value table of every tabular export
func summaryRows(record *trial.RunRecord) [][]string {
	res := record.Result
	return [][]string{
		{"Power treatment 1 (%)", fToStr(res.Power.Treatment1, 1)},
		{"Power treatment 1 95% CI", intervalString(res.PowerInterval.Treatment1)},
		{"Power treatment 2 (%)", fToStr(res.Power.Treatment2, 1)},
		{"Power treatment 2 95% CI", intervalString(res.PowerInterval.Treatment2)},
		{"Type I error rate (%)", fToStr(res.TypeIErrorRate, 1)},
		{"Type I error 95% CI", intervalString(res.TypeIErrorInterval)},
		{"Average final sample size", fToStr(res.AverageFinalSampleSize, 1)},
		{"Final sample size median", fToStr(res.SampleSize.Median, 1)},
		{"Final sample size p90", fToStr(res.SampleSize.P90, 1)},
		{"Average looks", fToStr(res.AverageLooks, 2)},
		{"Early stop rate (%)", fToStr(res.EarlyStopRate, 1)},
		{"Critical z", fToStr(res.ZCritical, 4)},
	}
}

func configRows(record *trial.RunRecord) [][]string {
	cfg := record.Config
	rows := [][]string{}
	for i, effect := range cfg.ArmsEffects {
		rows = append(rows, []string{trial.Arm(i).String() + " effect (%)", fToStr(effect, 1)})
	}
	return append(rows,
		[]string{"Sample size per arm", strconv.Itoa(cfg.SampleSizePerArm)},
		[]string{"Interim looks", strconv.Itoa(cfg.InterimLooks)},
		[]string{"Futility threshold", fToStr(cfg.FutilityThreshold, 2)},
		[]string{"Confidence level (%)", fToStr(cfg.ConfidenceLevel, 1)},
		[]string{"Simulations", strconv.Itoa(cfg.NumSimulations)},
		[]string{"Seed", strconv.FormatInt(record.Seed, 10)},
		[]string{"Fingerprint", record.Fingerprint.String()},
		[]string{"Engine", record.Result.EngineVersion},
	)
}

func intervalString(iv trial.Interval) string {
	return fmt.Sprintf("[%s, %s]", fToStr(iv.Lower, 1), fToStr(iv.Upper, 1))
}

func fToStr(x float64, decimals int) string {
	return strconv.FormatFloat(x, 'f', decimals, 64)
}

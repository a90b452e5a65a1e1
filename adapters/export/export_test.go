package export

import (
	"bytes"
	"encoding/csv"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"trialsim/domain/trial"
	"trialsim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleRecord() *trial.RunRecord {
	result := trial.AggregateResult{
		Power:          trial.TreatmentPair{Treatment1: 84, Treatment2: 9.5},
		PowerInterval:  trial.TreatmentIntervals{Treatment1: trial.Interval{Lower: 75.6, Upper: 89.9}},
		TypeIErrorRate: 7,
		StopReasons: map[trial.StopReason]int{
			trial.StopEfficacyTreatment1: 84,
			trial.StopCompleted:          16,
		},
		PowerCurve: []trial.PowerPoint{
			{SampleSize: 50, PowerTreatment1: 12, PowerTreatment2: 3},
			{SampleSize: 2537, PowerTreatment1: 100},
			{SampleSize: 5025, PowerTreatment1: 100},
			{SampleSize: 7512, PowerTreatment1: 100},
			{SampleSize: 10000, PowerTreatment1: 100},
		},
		Warnings:       []string{"Type I error rate 7.0% exceeds 5%"},
		NumSimulations: 100,
		ZCritical:      1.959964,
		EngineVersion:  "gsd-engine/1.0",
	}
	record := trial.NewRunRecord(testkit.DefaultOwnerID, testkit.SmallConfig(), 42, result)
	record.Label = "two doses"
	return record
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, ".XLSX": FormatXLSX, "png": FormatPNG, "html": FormatHTML, "markdown": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestWriteCSV_Sections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecord()))

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	flat := buf.String()
	assert.Equal(t, []string{"parameter", "value"}, records[0])
	assert.Contains(t, flat, "Power treatment 1 (%),84.0")
	assert.Contains(t, flat, "sample_size,power_treatment1,power_treatment2")
	assert.Contains(t, flat, "2537,100.0,0.0")
	assert.Contains(t, flat, "efficacy-treatment1,84")
	assert.Contains(t, flat, "futility-treatment2,0")
	assert.Contains(t, flat, "warning,Type I error rate 7.0% exceeds 5%")
}

func TestWriteScenarioTable(t *testing.T) {
	record := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, WriteScenarioTable(&buf, []ScenarioRow{
		{Name: "baseline", Seed: 42, Record: record},
		{Name: "broken", Seed: 7, Error: "sample_size_per_arm must be between 50 and 10000"},
	}))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "scenario", records[0][0])
	assert.Equal(t, []string{"baseline", "42", record.ID.String(), "100", "2", "84.0", "9.5", "7.0", "0.0", "0.0", ""}, records[1])
	assert.Equal(t, "broken", records[2][0])
	assert.Empty(t, records[2][2])
	assert.Equal(t, "sample_size_per_arm must be between 50 and 10000", records[2][10])
}

func TestWriteXLSX_SheetsAndCurve(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleRecord()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, curveSheet, stopReasonsSheet}, f.GetSheetList())

	size, err := f.GetCellValue(curveSheet, "A6")
	require.NoError(t, err)
	assert.Equal(t, "10000", size)

	power, err := f.GetCellValue(curveSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "12", power)

	reason, err := f.GetCellValue(stopReasonsSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, string(trial.StopEfficacyTreatment1), reason)
}

func TestWritePowerCurvePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePowerCurvePNG(&buf, sampleRecord().Result.PowerCurve))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, chartWidth, img.Bounds().Dx())
	assert.Equal(t, chartHeight, img.Bounds().Dy())

	// the first treatment-1 marker sits at the left edge of the plot at 12%
	plotHeight := chartHeight - marginBot - marginTop
	y := chartHeight - marginBot - int(12*float64(plotHeight)/100)
	r, g, b, _ := img.At(marginLeft, y).RGBA()
	assert.Equal(t, [3]uint32{uint32(colorTreatment1.R) * 0x101, uint32(colorTreatment1.G) * 0x101, uint32(colorTreatment1.B) * 0x101}, [3]uint32{r, g, b})
}

func TestRenderPowerCurve_EmptyCurve(t *testing.T) {
	img := RenderPowerCurve(nil)
	assert.Equal(t, chartWidth, img.Bounds().Dx())
}

func TestMarkdownAndHTML(t *testing.T) {
	record := sampleRecord()

	md := Markdown(record)
	assert.Contains(t, md, "# Simulation report: two doses")
	assert.Contains(t, md, "## Warnings")
	assert.Contains(t, md, "| 5025 | 100.0 | 0.0 |")

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, record))
	page := buf.String()
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<title>trialsim "+record.Fingerprint.Short()+"</title>")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	record := sampleRecord()

	for _, f := range Formats {
		path := filepath.Join(dir, FileName(record, f))
		require.NoError(t, WriteFile(path, f, record), f)
		assert.FileExists(t, path)
	}

	assert.Error(t, Write(&bytes.Buffer{}, FormatCSV, nil))
}

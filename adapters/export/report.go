package export

import (
	"fmt"
	"io"
	"strings"

	"trialsim/domain/trial"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders a human-readable report of one run
func Markdown(record *trial.RunRecord) string {
	var b strings.Builder
	res := record.Result

	title := "Simulation report"
	if record.Label != "" {
		title += ": " + record.Label
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Run `%s`, created %s, seed %d, fingerprint `%s`.\n\n",
		record.ID, record.CreatedAt, record.Seed, record.Fingerprint.Short())

	if len(res.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- **%s**\n", w)
		}
		b.WriteString("\n")
	}

	writeTable(&b, "Configuration", []string{"Parameter", "Value"}, configRows(record))
	writeTable(&b, "Summary", []string{"Metric", "Value"}, summaryRows(record))
	writeTable(&b, "Power curve", []string{"Sample size", "Power T1 (%)", "Power T2 (%)"}, curveRows(res.PowerCurve))
	writeTable(&b, "Stop reasons", []string{"Reason", "Runs"}, stopReasonRows(res.StopReasons))
	return b.String()
}

func writeTable(b *strings.Builder, heading string, header []string, rows [][]string) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	b.WriteString("\n")
}

// WriteHTML renders the Markdown report as a complete HTML page
func WriteHTML(w io.Writer, record *trial.RunRecord) error {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "trialsim " + record.Fingerprint.Short(),
	})
	_, err := w.Write(markdown.ToHTML([]byte(Markdown(record)), p, renderer))
	return err
}

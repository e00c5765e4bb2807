// Package report renders an on-demand PDF digest of a monitoring window's
// insights, incidents, and remediation actions, for an operator who wants a
// document to forward or file rather than a dashboard view.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/go-pdf/fpdf"
)

// Color triples used across the document, named the way the tables below
// read them rather than by RGB value.
var (
	colorAccent    = [3]int{0, 122, 255}
	colorWarning   = [3]int{214, 149, 13}
	colorDanger    = [3]int{196, 47, 47}
	colorSecondary = [3]int{90, 98, 110}
	colorMuted     = [3]int{140, 140, 140}
)

// DigestData is everything a digest summarizes. Callers assemble it from
// store queries; this package never touches the database itself.
type DigestData struct {
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Insights    []models.Insight
	Incidents   []models.Incident
	Actions     []models.Action
}

// Generator renders a DigestData into a PDF document. It holds no state
// and is safe for concurrent use; construct one with NewGenerator.
type Generator struct{}

// NewGenerator returns a ready-to-use digest Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders data into a complete PDF document.
func (g *Generator) Generate(data DigestData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	g.writeHeader(pdf, data)
	g.writeSummary(pdf, data)
	g.writeIncidents(pdf, data)
	g.writeInsights(pdf, data)
	g.writeActions(pdf, data)
	g.writeObservations(pdf, data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render digest pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeHeader(pdf *fpdf.Fpdf, data DigestData) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Fleet Incident & Insight Digest", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	setTextColor(pdf, colorSecondary)
	window := fmt.Sprintf("Window: %s to %s", data.WindowStart.Format(time.RFC1123), data.WindowEnd.Format(time.RFC1123))
	pdf.CellFormat(0, 6, window, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+data.GeneratedAt.Format(time.RFC1123), "", 1, "L", false, 0, "")
	setTextColor(pdf, [3]int{0, 0, 0})
	pdf.Ln(4)
}

func (g *Generator) writeSummary(pdf *fpdf.Fpdf, data DigestData) {
	counts := severityCounts(data.Insights)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(60, 6, fmt.Sprintf("Incidents: %d", len(data.Incidents)), "", 0, "L", false, 0, "")
	pdf.CellFormat(60, 6, fmt.Sprintf("Insights: %d", len(data.Insights)), "", 0, "L", false, 0, "")
	pdf.CellFormat(60, 6, fmt.Sprintf("Actions: %d", len(data.Actions)), "", 1, "L", false, 0, "")

	setTextColor(pdf, colorDanger)
	pdf.CellFormat(60, 6, fmt.Sprintf("Critical: %d", counts[models.SeverityCritical]), "", 0, "L", false, 0, "")
	setTextColor(pdf, colorWarning)
	pdf.CellFormat(60, 6, fmt.Sprintf("Warning: %d", counts[models.SeverityWarning]), "", 0, "L", false, 0, "")
	setTextColor(pdf, colorAccent)
	pdf.CellFormat(60, 6, fmt.Sprintf("Info: %d", counts[models.SeverityInfo]), "", 1, "L", false, 0, "")
	setTextColor(pdf, [3]int{0, 0, 0})
	pdf.Ln(4)
}

func (g *Generator) writeIncidents(pdf *fpdf.Fpdf, data DigestData) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Incidents", "", 1, "L", false, 0, "")
	if len(data.Incidents) == 0 {
		writeMuted(pdf, "No incidents were correlated in this window.")
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(70, 6, "Title", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Correlation", "1", 0, "L", false, 0, "")
	pdf.CellFormat(20, 6, "Members", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, "Created", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, inc := range data.Incidents {
		setTextColor(pdf, severityColor(inc.Severity))
		pdf.CellFormat(70, 6, truncate(inc.Title, 40), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(inc.Severity), "1", 0, "L", false, 0, "")
		setTextColor(pdf, [3]int{0, 0, 0})
		pdf.CellFormat(25, 6, string(inc.CorrelationType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", inc.InsightCount), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, inc.CreatedAt.Format("2006-01-02 15:04"), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (g *Generator) writeInsights(pdf *fpdf.Fpdf, data DigestData) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Insights", "", 1, "L", false, 0, "")
	if len(data.Insights) == 0 {
		writeMuted(pdf, "No insights were recorded in this window.")
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(50, 6, "Container", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "L", false, 0, "")
	pdf.CellFormat(75, 6, "Title", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Acknowledged", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, ins := range data.Insights {
		name := ins.ContainerName
		if name == "" {
			name = ins.EndpointName
		}
		pdf.CellFormat(50, 6, truncate(name, 28), "1", 0, "L", false, 0, "")
		setTextColor(pdf, severityColor(ins.Severity))
		pdf.CellFormat(25, 6, string(ins.Severity), "1", 0, "L", false, 0, "")
		setTextColor(pdf, [3]int{0, 0, 0})
		pdf.CellFormat(75, 6, truncate(ins.Title, 45), "1", 0, "L", false, 0, "")
		ack := "no"
		if ins.IsAcknowledged {
			ack = "yes"
		}
		pdf.CellFormat(30, 6, ack, "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (g *Generator) writeActions(pdf *fpdf.Fpdf, data DigestData) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Remediation Actions", "", 1, "L", false, 0, "")
	if len(data.Actions) == 0 {
		writeMuted(pdf, "No remediation actions were taken in this window.")
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(50, 6, "Container", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, "Action", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, act := range data.Actions {
		pdf.CellFormat(50, 6, truncate(act.ContainerName, 28), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, string(act.ActionType), "1", 0, "L", false, 0, "")
		setTextColor(pdf, actionStatusColor(act.Status))
		pdf.CellFormat(30, 6, string(act.Status), "1", 1, "L", false, 0, "")
		setTextColor(pdf, [3]int{0, 0, 0})
	}
	pdf.Ln(4)
}

func (g *Generator) writeObservations(pdf *fpdf.Fpdf, data DigestData) {
	obs := generateObservations(data)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Observations", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, o := range obs {
		pdf.MultiCell(0, 6, "- "+o, "", "L", false)
	}
}

func setTextColor(pdf *fpdf.Fpdf, c [3]int) {
	pdf.SetTextColor(c[0], c[1], c[2])
}

func writeMuted(pdf *fpdf.Fpdf, text string) {
	setTextColor(pdf, colorMuted)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(0, 6, text, "", 1, "L", false, 0, "")
	setTextColor(pdf, [3]int{0, 0, 0})
}

func severityColor(s models.Severity) [3]int {
	switch s {
	case models.SeverityCritical:
		return colorDanger
	case models.SeverityWarning:
		return colorWarning
	default:
		return colorAccent
	}
}

func actionStatusColor(s models.ActionStatus) [3]int {
	switch s {
	case models.ActionFailed, models.ActionRejected:
		return colorDanger
	case models.ActionCompleted:
		return colorAccent
	case models.ActionExecuting, models.ActionApproved:
		return colorWarning
	default:
		return colorSecondary
	}
}

func severityCounts(insights []models.Insight) map[models.Severity]int {
	counts := map[models.Severity]int{}
	for _, i := range insights {
		counts[i.Severity]++
	}
	return counts
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

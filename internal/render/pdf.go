// Package render turns analysis documents into downloadable report artifacts.
package render

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

const contentTypePDF = "application/pdf"

// ArtifactKey is the blob key a job's PDF is stored under. It is
// deterministic so a re-render overwrites the previous upload.
func ArtifactKey(jobID uuid.UUID) string {
	return "reports/" + jobID.String() + ".pdf"
}

// PDFRenderer lays out a scouting report as an A4 PDF and uploads it to
// blob storage. Output is byte-stable for the same job and document.
type PDFRenderer struct {
	store blob.Store
}

func NewPDFRenderer(store blob.Store) *PDFRenderer {
	return &PDFRenderer{store: store}
}

func (r *PDFRenderer) Render(ctx context.Context, job *models.ReportJob, doc *models.AnalysisDocument) (string, error) {
	if job == nil || doc == nil {
		return "", fmt.Errorf("%w: missing job or analysis document", models.ErrRenderFailed)
	}

	data, err := buildPDF(job, doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
	}

	key := ArtifactKey(job.ID)
	if err := r.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypePDF); err != nil {
		return "", fmt.Errorf("%w: upload: %v", models.ErrRenderFailed, err)
	}
	return key, nil
}

func buildPDF(job *models.ReportJob, doc *models.AnalysisDocument) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(doc.AnalyzedAt)
	pdf.SetModificationDate(doc.AnalyzedAt)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(job.Title, true)
	pdf.SetAuthor("scoutreport", true)
	pdf.SetAutoPageBreak(true, 15)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	w := &writer{pdf: pdf, tr: tr}

	pdf.AddPage()
	w.heading(job.Title, 18)
	w.line(fmt.Sprintf("%s vs %s", job.TeamName, job.OpponentName))
	if job.GameDate != nil {
		w.line("Game date: " + job.GameDate.Format("January 2, 2006"))
	}
	title := doc.VideoTitle
	if title == "" {
		title = doc.VideoID
	}
	w.line("Film: " + title)
	w.line("Analyzed: " + doc.AnalyzedAt.UTC().Format("2006-01-02 15:04 MST"))
	if job.Description != "" {
		pdf.Ln(2)
		w.paragraph(job.Description)
	}

	team := doc.Team
	pdf.Ln(4)
	w.heading("Team Overview: "+team.TeamName, 14)
	if team.DefensiveScheme != "" {
		w.line("Defensive scheme: " + team.DefensiveScheme)
	}
	w.ratings("Offensive style", team.OffensiveStyle)
	w.ratings("Defensive style", team.DefensiveStyle)
	w.bullets("Team strengths", team.TeamStrengths)
	w.bullets("Team weaknesses", team.TeamWeaknesses)
	if team.RecommendedStrategy != "" {
		w.heading("Recommended Strategy", 12)
		w.paragraph(team.RecommendedStrategy)
	}

	if len(team.Players) > 0 {
		pdf.AddPage()
		w.heading("Roster", 14)
		w.roster(team.Players)
		for _, p := range team.Players {
			pdf.Ln(3)
			w.player(p)
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) heading(text string, size float64) {
	w.pdf.SetFont("Helvetica", "B", size)
	w.pdf.CellFormat(0, size*0.6, w.tr(text), "", 1, "L", false, 0, "")
	w.pdf.Ln(1)
}

func (w *writer) line(text string) {
	w.pdf.SetFont("Helvetica", "", 10)
	w.pdf.CellFormat(0, 5, w.tr(text), "", 1, "L", false, 0, "")
}

func (w *writer) paragraph(text string) {
	w.pdf.SetFont("Helvetica", "", 10)
	w.pdf.MultiCell(0, 5, w.tr(text), "", "L", false)
}

func (w *writer) bullets(label string, items []string) {
	if len(items) == 0 {
		return
	}
	w.pdf.SetFont("Helvetica", "B", 10)
	w.pdf.CellFormat(0, 6, w.tr(label), "", 1, "L", false, 0, "")
	w.pdf.SetFont("Helvetica", "", 10)
	for _, item := range items {
		w.pdf.CellFormat(5, 5, "", "", 0, "L", false, 0, "")
		w.pdf.MultiCell(0, 5, w.tr("- "+item), "", "L", false)
	}
}

// ratings prints a 1-10 attribute map in key order.
func (w *writer) ratings(label string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s %d", humanize(k), m[k]))
	}
	w.pdf.SetFont("Helvetica", "B", 10)
	w.pdf.CellFormat(35, 5, w.tr(label+":"), "", 0, "L", false, 0, "")
	w.pdf.SetFont("Helvetica", "", 10)
	w.pdf.MultiCell(0, 5, w.tr(strings.Join(parts, ", ")), "", "L", false)
}

func (w *writer) roster(players []models.PlayerAnalysis) {
	widths := []float64{15, 70, 30, 25}
	headers := []string{"#", "Name", "Position", "Height"}

	w.pdf.SetFont("Helvetica", "B", 10)
	w.pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		w.pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	w.pdf.Ln(-1)

	w.pdf.SetFont("Helvetica", "", 10)
	for _, p := range players {
		w.pdf.CellFormat(widths[0], 6, strconv.Itoa(p.JerseyNumber), "1", 0, "C", false, 0, "")
		w.pdf.CellFormat(widths[1], 6, w.tr(p.Name), "1", 0, "L", false, 0, "")
		w.pdf.CellFormat(widths[2], 6, w.tr(p.Position), "1", 0, "C", false, 0, "")
		w.pdf.CellFormat(widths[3], 6, w.tr(p.Height), "1", 0, "C", false, 0, "")
		w.pdf.Ln(-1)
	}
}

func (w *writer) player(p models.PlayerAnalysis) {
	w.heading(fmt.Sprintf("#%d %s (%s)", p.JerseyNumber, p.Name, p.Position), 11)
	w.ratings("Physical", p.PhysicalAttributes)
	w.ratings("Offense", p.OffensiveRole)
	w.ratings("Defense", p.DefensiveRole)
	w.bullets("Strengths", p.Strengths)
	w.bullets("Weaknesses", p.Weaknesses)
	if p.StrategyNotes != "" {
		w.paragraph("Strategy: " + p.StrategyNotes)
	}
}

func humanize(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

var _ models.ArtifactRenderer = (*PDFRenderer)(nil)

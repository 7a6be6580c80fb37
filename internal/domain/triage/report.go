package triage

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

var levelTitles = map[RiskLevel]string{
	LevelHigh:   "ALTO RISCO",
	LevelMedium: "MÉDIO RISCO",
	LevelLow:    "BAIXO RISCO",
}

// RenderReport writes a one-page A4 PDF summary of an assessment and the
// protocol attached to its risk level.
func RenderReport(w io.Writer, a *Assessment, p Protocol, catalog []CatalogEntry) error {
	labels := make(map[SymptomID]string, len(catalog))
	for _, e := range catalog {
		labels[e.ID] = e.Label
	}
	label := func(id SymptomID) string {
		if l, ok := labels[id]; ok {
			return l
		}
		return string(id)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Relatorio de triagem "+a.ID.String(), true)
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("Relatório de triagem - Cólera"), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	field := func(name, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 7, tr(name), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}

	field("Avaliação:", a.ID.String())
	field("Paciente:", a.PatientID.String())
	if a.HospitalID != nil {
		field("Hospital:", a.HospitalID.String())
	}
	if a.AssessedBy != nil {
		field("Responsável:", *a.AssessedBy)
	}
	field("Data:", a.AssessedAt.Format("02/01/2006 15:04 MST"))
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 14)
	switch a.RiskLevel {
	case LevelHigh:
		pdf.SetTextColor(180, 0, 0)
	case LevelMedium:
		pdf.SetTextColor(200, 120, 0)
	default:
		pdf.SetTextColor(0, 120, 0)
	}
	pdf.CellFormat(0, 9, tr(fmt.Sprintf("%s (pontuação %d)", levelTitles[a.RiskLevel], a.Score)), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)

	if len(a.CriticalMatch) > 0 {
		names := make([]string, len(a.CriticalMatch))
		for i, id := range a.CriticalMatch {
			names[i] = label(id)
		}
		field("Combinação crítica:", strings.Join(names, " + "))
	}
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr("Sintomas"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, id := range a.Symptoms {
		pdf.CellFormat(0, 6, tr("- "+label(id)), "", 1, "L", false, 0, "")
	}
	if len(a.UnknownSymptoms) > 0 {
		pdf.SetFont("Helvetica", "I", 10)
		ids := make([]string, len(a.UnknownSymptoms))
		for i, id := range a.UnknownSymptoms {
			ids[i] = string(id)
		}
		pdf.MultiCell(0, 6, tr("Não reconhecidos (não pontuados): "+strings.Join(ids, ", ")), "", "L", false)
	}
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr("Protocolo - prioridade "+p.Priority), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(p.Recommendation), "", "L", false)
	for i, action := range p.Actions {
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, action)), "", "L", false)
	}

	if a.Note != nil && *a.Note != "" {
		pdf.Ln(3)
		field("Observação:", *a.Note)
	}

	return pdf.Output(w)
}

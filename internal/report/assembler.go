package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/coachvisio/coachvisio/internal/persona"
)

// Entry is one transcript line going into the PDF.
type Entry struct {
	Role    string
	Content string
}

// Session is everything the PDF needs.
type Session struct {
	Persona         persona.Persona
	DurationSeconds int
	Summary         string
	Transcript      []Entry
}

const (
	pageMargin = 10.0
	lineHeight = 7.0
)

// FileName builds the conventional download name: date, a two-digit
// sequence, and the persona id.
func FileName(now time.Time, sequence int, p persona.ID) string {
	return fmt.Sprintf("%s_%02d_%s.pdf", now.Format("20060102"), sequence, p)
}

// BuildPDF renders the session debrief: a header with persona and duration,
// the structured summary, then the transcript as role-colored bubbles.
func BuildPDF(s Session) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageWidth, pageHeight := pdf.GetPageSize()
	contentWidth := pageWidth - pageMargin*2

	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.AddPage()

	// Header
	y := pageMargin + lineHeight
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Text(pageMargin, y, tr("Bilan de simulation"))
	y += lineHeight + 2

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(pageMargin, y, tr(fmt.Sprintf("%s (%s)", s.Persona.Label, s.Persona.Role)))
	y += lineHeight
	pdf.Text(pageMargin, y, tr(fmt.Sprintf("Durée : %02d:%02d", s.DurationSeconds/60, s.DurationSeconds%60)))
	y += lineHeight * 2

	// Summary
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Text(pageMargin, y, tr("Synthèse"))
	pdf.SetFont("Helvetica", "", 12)
	y += lineHeight + 3

	for _, line := range strings.Split(s.Summary, "\n") {
		if y > pageHeight-pageMargin {
			pdf.AddPage()
			y = pageMargin + lineHeight
		}
		switch {
		case strings.HasPrefix(line, "### "):
			pdf.SetFont("Helvetica", "B", 13)
			pdf.Text(pageMargin, y, tr(line[4:]))
			y += lineHeight + 2
		case strings.HasPrefix(line, "## "):
			pdf.SetFont("Helvetica", "B", 14)
			pdf.Text(pageMargin, y, tr(line[3:]))
			y += lineHeight + 2
		case strings.HasPrefix(line, "# "):
			pdf.SetFont("Helvetica", "B", 16)
			pdf.Text(pageMargin, y, tr(line[2:]))
			y += lineHeight + 2
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			pdf.SetFont("Helvetica", "", 12)
			wrapped := pdf.SplitText(tr(line[2:]), contentWidth-5)
			pdf.Circle(pageMargin+2, y-2, 1.5, "F")
			for _, wl := range wrapped {
				pdf.Text(pageMargin+5, y, wl)
				y += lineHeight
			}
		case strings.TrimSpace(line) == "":
			y += lineHeight
		default:
			pdf.SetFont("Helvetica", "", 12)
			for _, wl := range pdf.SplitText(tr(line), contentWidth) {
				pdf.Text(pageMargin, y, wl)
				y += lineHeight
			}
		}
	}

	// Transcript bubbles on a fresh page
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)
	y = pageMargin

	for _, entry := range s.Transcript {
		lines := pdf.SplitText(tr(entry.Content), contentWidth-20)
		var textWidth float64
		for _, l := range lines {
			if w := pdf.GetStringWidth(l); w > textWidth {
				textWidth = w
			}
		}
		bubbleWidth := textWidth + 6
		bubbleHeight := float64(len(lines))*lineHeight + 6
		if y+bubbleHeight > pageHeight-pageMargin {
			pdf.AddPage()
			y = pageMargin
		}

		x := pageMargin
		switch entry.Role {
		case "user":
			x = pageWidth - pageMargin - bubbleWidth
			pdf.SetFillColor(59, 130, 246)
			pdf.SetTextColor(255, 255, 255)
		case "assistant":
			pdf.SetFillColor(229, 231, 235)
			pdf.SetTextColor(31, 41, 55)
		default:
			pdf.SetFillColor(254, 226, 226)
			pdf.SetTextColor(185, 28, 28)
		}

		pdf.RoundedRect(x, y, bubbleWidth, bubbleHeight, 4, "1234", "F")
		ty := y + lineHeight
		for _, l := range lines {
			pdf.Text(x+3, ty, l)
			ty += lineHeight
		}
		pdf.SetTextColor(0, 0, 0)
		y += bubbleHeight + 4
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

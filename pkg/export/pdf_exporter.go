package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateDocument carries the fields printed on a certificate.
type CertificateDocument struct {
	CertificateNumber string
	ParticipantName   string
	SessionTitle      string
	IssueDate         time.Time
	PresentDays       int
	Issuer            string
}

// PDFExporter renders certificates as single-page landscape PDFs.
type PDFExporter struct {
	issuer string
}

// NewPDFExporter constructs a PDF exporter. issuer is printed in the footer.
func NewPDFExporter(issuer string) *PDFExporter {
	return &PDFExporter{issuer: issuer}
}

// RenderCertificate produces the PDF bytes for doc.
func (e *PDFExporter) RenderCertificate(doc CertificateDocument) ([]byte, error) {
	if strings.TrimSpace(doc.CertificateNumber) == "" {
		return nil, fmt.Errorf("certificate number required")
	}
	if doc.IssueDate.IsZero() {
		return nil, fmt.Errorf("issue date required")
	}
	issuer := doc.Issuer
	if issuer == "" {
		issuer = e.issuer
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle("Certificate "+doc.CertificateNumber, true)
	pdf.AddPage()

	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetFont("Arial", "B", 28)
	pdf.Ln(20)
	pdf.CellFormat(0, 14, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 14)
	pdf.Ln(8)
	pdf.CellFormat(0, 10, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 14, doc.ParticipantName, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 10, "has attended the training", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 12, doc.SessionTitle, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	if doc.PresentDays > 0 {
		pdf.CellFormat(0, 8, fmt.Sprintf("Days present: %d", doc.PresentDays), "", 1, "C", false, 0, "")
	}
	pdf.Ln(12)
	pdf.CellFormat(0, 8, "Certificate No. "+doc.CertificateNumber, "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, "Issued on "+doc.IssueDate.Format("2 January 2006"), "", 1, "C", false, 0, "")
	if issuer != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(0, 8, issuer, "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

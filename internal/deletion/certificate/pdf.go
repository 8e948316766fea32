package certificate

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"dsrengine/internal/deletion/models"
)

// maxListedItems caps the per-item table so large certificates stay printable.
const maxListedItems = 200

// RenderPDF produces a printable copy of a certificate. The PDF is a
// presentation of the signed record, not a substitute for it.
func RenderPDF(c *models.Certificate) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Certificate of Deletion", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Certificate of Deletion")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 10)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(45, 6, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, value, "", "L", false)
	}
	line("Certificate", c.ID.String())
	line("Deletion", c.DeletionID.String())
	line("Request", c.RequestID.String())
	line("Subject hash", c.SubjectHash)
	line("Method", c.Method)
	line("Items erased", fmt.Sprintf("%d", c.ItemCount))
	line("Issued", c.IssuedAt.UTC().Format(time.RFC3339))
	line("Retain until", c.RetainUntil.UTC().Format("2006-01-02"))
	line("Signing key", c.KeyID)
	pdf.Ln(4)

	if c.ItemsDigest != "" {
		line("Items digest", c.ItemsDigest)
	} else {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(0, 8, "Per-pass hashes")
		pdf.Ln(9)
		pdf.SetFont("Courier", "", 7)
		for i, it := range c.Items {
			if i == maxListedItems {
				pdf.Cell(0, 5, fmt.Sprintf("... %d more items", len(c.Items)-maxListedItems))
				pdf.Ln(6)
				break
			}
			if it.Empty {
				pdf.MultiCell(0, 4, fmt.Sprintf("%s/%s\n  removed, no content to overwrite", it.Module, it.ItemID), "", "L", false)
			} else {
				pdf.MultiCell(0, 4, fmt.Sprintf("%s/%s\n  zeros  %s\n  ones   %s\n  random %s",
					it.Module, it.ItemID, it.PassHashes[0], it.PassHashes[1], it.PassHashes[2]), "", "L", false)
			}
			pdf.Ln(1)
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Signature (RSA-PSS SHA-256, base64)")
	pdf.Ln(9)
	pdf.SetFont("Courier", "", 7)
	pdf.MultiCell(0, 4, base64.StdEncoding.EncodeToString(c.Signature), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}

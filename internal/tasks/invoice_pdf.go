package tasks

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
)

// renderInvoicePDF lays out an A4 invoice from the snapshot taken at
// request time. It deliberately reads nothing but the invoice document.
func renderInvoicePDF(invoice *models.Invoice) ([]byte, error) {
	data := invoice.TemplateData

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(invoice.InvoiceNumber, false)
	pdf.AddPage()

	// Header
	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(100, 12, "INVOICE")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 12, invoice.InvoiceNumber, "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Issued: "+invoice.CreatedAt.UTC().Format("2 January 2006"), "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, "Order: "+data.OrderNumber, "", 1, "R", false, 0, "")
	pdf.Ln(8)

	// Parties
	renderParty(pdf, "Seller", data.Seller)
	pdf.Ln(4)
	renderParty(pdf, "Buyer", data.Buyer)
	pdf.Ln(8)

	// Line item table
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(130, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(60, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(130, 8, data.ListingTitle, "1", 0, "L", false, 0, "")
	pdf.CellFormat(60, 8, formatAmount(data.Price, data.Currency), "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(130, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(60, 8, formatAmount(data.Price, data.Currency), "1", 1, "R", false, 0, "")
	pdf.Ln(8)

	// Order context
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 5, fmt.Sprintf("Order placed %s, status at issue time: %s",
		data.OrderedAt.UTC().Format("2 January 2006"), data.OrderStatus))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.Cell(0, 5, "Payment is settled outside this platform. This document records the agreed sale only.")
	pdf.Ln(5)
	pdf.Cell(0, 5, "Generated "+time.Now().UTC().Format(time.RFC1123))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output failed for invoice %s: %w", invoice.InvoiceNumber, err)
	}
	return buf.Bytes(), nil
}

func renderParty(pdf *gofpdf.Fpdf, label string, party models.InvoiceParty) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 5, label, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 5, party.Name, "", 1, "L", false, 0, "")
	if party.Email != "" {
		pdf.CellFormat(0, 5, party.Email, "", 1, "L", false, 0, "")
	}
	if party.Phone != "" {
		pdf.CellFormat(0, 5, party.Phone, "", 1, "L", false, 0, "")
	}
}

func formatAmount(amount float64, currency string) string {
	if currency == "" {
		currency = "ETB"
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

package models

import (
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// InvoiceStatus tracks the asynchronous PDF generation lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusCompleted  InvoiceStatus = "completed"
	InvoiceStatusFailed     InvoiceStatus = "failed"
)

// InvoiceParty is a denormalized party snapshot for the PDF template.
type InvoiceParty struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
}

// InvoiceTemplateData carries everything the worker needs to render the
// PDF without re-querying order, listing or user documents. It isolates
// the worker from the core's schema.
type InvoiceTemplateData struct {
	OrderNumber  string       `bson:"order_number" json:"order_number"`
	ListingTitle string       `bson:"listing_title" json:"listing_title"`
	Price        float64      `bson:"price" json:"price"`
	Currency     string       `bson:"currency" json:"currency"`
	Buyer        InvoiceParty `bson:"buyer" json:"buyer"`
	Seller       InvoiceParty `bson:"seller" json:"seller"`
	OrderStatus  OrderStatus  `bson:"order_status" json:"order_status"`
	OrderedAt    time.Time    `bson:"ordered_at" json:"ordered_at"`
}

// InvoiceMetadata records generation statistics reported by the worker.
type InvoiceMetadata struct {
	FileSize         int64 `bson:"file_size,omitempty" json:"file_size,omitempty"`
	GenerationTimeMs int64 `bson:"generation_time_ms,omitempty" json:"generation_time_ms,omitempty"`
}

// Invoice is the placeholder record the order core creates; the background
// worker fills in the generated PDF URL out of band.
type Invoice struct {
	Base            `bson:",inline"`
	OrderID         utils.SixID         `bson:"order_id" json:"order_id"`
	IssuerID        utils.SixID         `bson:"issuer_id" json:"issuer_id"`
	InvoiceNumber   string              `bson:"invoice_number" json:"invoice_number"` // INV-<year>-NNNNNN, unique, monotonic per year
	TemplateData    InvoiceTemplateData `bson:"template_data" json:"template_data"`
	GeneratedPdfURL string              `bson:"generated_pdf_url,omitempty" json:"generated_pdf_url,omitempty"`
	Status          InvoiceStatus       `bson:"status" json:"status"`
	ErrorMessage    string              `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Metadata        InvoiceMetadata     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt       time.Time           `bson:"created_at" json:"created_at"`
	CompletedAt     *time.Time          `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

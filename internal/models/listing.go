package models

import (
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// ListingStatus is the lifecycle state of a catalog listing.
type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusSuspended ListingStatus = "suspended"
	ListingStatusDeleted   ListingStatus = "deleted"
)

// Listing is the catalog entry an order snapshots at creation time.
// The order core reads it exactly once; later price or method changes
// never affect existing orders.
type Listing struct {
	Base           `bson:",inline"`
	SellerID       utils.SixID   `bson:"seller_id" json:"seller_id"`
	Title          string        `bson:"title" json:"title"`
	Description    string        `bson:"description,omitempty" json:"description,omitempty"`
	Price          float64       `bson:"price" json:"price"`
	Currency       string        `bson:"currency" json:"currency"` // Default "ETB"
	PaymentMethods []string      `bson:"payment_methods" json:"payment_methods"`
	Images         []string      `bson:"images,omitempty" json:"images,omitempty"`
	Status         ListingStatus `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
}

// AcceptsPaymentMethod reports whether the listing offers the given method.
func (l *Listing) AcceptsPaymentMethod(method string) bool {
	for _, m := range l.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

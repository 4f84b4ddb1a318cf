package models

import (
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// MaxDisputeReasonLength bounds the free-text reason of a dispute.
const MaxDisputeReasonLength = 2000

// DisputeStatus is the review state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusRejected    DisputeStatus = "rejected"
)

// IsActiveDisputeStatus reports whether a dispute in this status blocks
// filing another dispute on the same order.
func IsActiveDisputeStatus(s DisputeStatus) bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview
}

// DisputeCategory classifies what went wrong.
type DisputeCategory string

const (
	DisputeCategoryPaymentNotReceived DisputeCategory = "payment_not_received"
	DisputeCategoryItemNotReceived    DisputeCategory = "item_not_received"
	DisputeCategoryItemNotAsDescribed DisputeCategory = "item_not_as_described"
	DisputeCategoryCounterfeit        DisputeCategory = "counterfeit"
	DisputeCategorySafetyConcern      DisputeCategory = "safety_concern"
	DisputeCategoryOther              DisputeCategory = "other"
)

// ValidDisputeCategory reports whether c is a member of the category enum.
func ValidDisputeCategory(c DisputeCategory) bool {
	switch c {
	case DisputeCategoryPaymentNotReceived, DisputeCategoryItemNotReceived,
		DisputeCategoryItemNotAsDescribed, DisputeCategoryCounterfeit,
		DisputeCategorySafetyConcern, DisputeCategoryOther:
		return true
	}
	return false
}

// DisputeComment is one append-only comment on a dispute thread.
type DisputeComment struct {
	UserID         utils.SixID `bson:"user_id" json:"user_id"`
	Text           string      `bson:"text" json:"text"`
	Timestamp      time.Time   `bson:"timestamp" json:"timestamp"`
	IsAdminComment bool        `bson:"is_admin_comment" json:"is_admin_comment"`
}

// Dispute freezes an order's progression until an admin resolves it.
// At most one dispute per order may be open or under review at a time.
type Dispute struct {
	Base        `bson:",inline"`
	OrderID     utils.SixID      `bson:"order_id" json:"order_id"`
	ReporterID  utils.SixID      `bson:"reporter_id" json:"reporter_id"`
	Reason      string           `bson:"reason" json:"reason"`
	Category    DisputeCategory  `bson:"category" json:"category"`
	Attachments []Attachment     `bson:"attachments" json:"attachments"`
	Status      DisputeStatus    `bson:"status" json:"status"`
	AdminNotes  string           `bson:"admin_notes,omitempty" json:"admin_notes,omitempty"`
	Resolution  string           `bson:"resolution,omitempty" json:"resolution,omitempty"`
	ReviewedBy  *utils.SixID     `bson:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time       `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	Comments    []DisputeComment `bson:"comments" json:"comments"`
	CreatedAt   time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `bson:"updated_at" json:"updated_at"`
}

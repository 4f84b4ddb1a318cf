package models

import (
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// OrderStatus is the lifecycle state of an order intent.
type OrderStatus string

const (
	OrderStatusRequested       OrderStatus = "requested"
	OrderStatusSellerConfirmed OrderStatus = "seller_confirmed"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment_confirmation"
	OrderStatusPaidOffsite     OrderStatus = "paid_offsite"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusCollected       OrderStatus = "collected"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusDisputed        OrderStatus = "disputed"
)

// PaymentStatus tracks the offsite settlement as reported by the parties.
type PaymentStatus string

const (
	PaymentStatusNone        PaymentStatus = "none"
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusPaidOffsite PaymentStatus = "paid_offsite"
	PaymentStatusDisputed    PaymentStatus = "disputed"
)

// nextStatuses is the forward edge set of the order state machine.
// cancelled and disputed are handled separately: they are reachable
// from any non-terminal state but never listed as forward moves.
var nextStatuses = map[OrderStatus][]OrderStatus{
	OrderStatusRequested:       {OrderStatusSellerConfirmed},
	OrderStatusSellerConfirmed: {OrderStatusAwaitingPayment},
	OrderStatusAwaitingPayment: {OrderStatusPaidOffsite},
	OrderStatusPaidOffsite:     {OrderStatusShipped, OrderStatusCollected},
	OrderStatusShipped:         {OrderStatusDelivered},
	OrderStatusCollected:       {OrderStatusDelivered},
}

// IsTerminalStatus reports whether no further transitions may leave the status.
// disputed is semi-terminal: it exits only through dispute resolution,
// not through TransitionStatus.
func IsTerminalStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether moving from one status to the next is legal
// for an ordinary (non-dispute-triggered) transition.
func CanTransition(from, to OrderStatus) bool {
	if IsTerminalStatus(from) || from == OrderStatusDisputed {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	for _, next := range nextStatuses[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidOrderStatus reports whether s is a member of the status enum.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusRequested, OrderStatusSellerConfirmed, OrderStatusAwaitingPayment,
		OrderStatusPaidOffsite, OrderStatusShipped, OrderStatusCollected,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed:
		return true
	}
	return false
}

// MeetingInfo is the free-text handover arrangement between the parties.
type MeetingInfo struct {
	Date  *time.Time `bson:"date,omitempty" json:"date,omitempty"`
	Place string     `bson:"place,omitempty" json:"place,omitempty"`
	Notes string     `bson:"notes,omitempty" json:"notes,omitempty"`
}

// PaymentEvidence is one immutable proof-of-payment attachment.
type PaymentEvidence struct {
	URL        string      `bson:"url" json:"url"`
	UploadedBy utils.SixID `bson:"uploaded_by" json:"uploaded_by"`
	UploadedAt time.Time   `bson:"uploaded_at" json:"uploaded_at"`
}

// StatusChange is one append-only audit entry. Every status transition
// appends exactly one; the list is never rewritten or reordered.
type StatusChange struct {
	Status    OrderStatus `bson:"status" json:"status"`
	ChangedBy utils.SixID `bson:"changed_by" json:"changed_by"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	Note      string      `bson:"note,omitempty" json:"note,omitempty"`
}

// Order records a buyer's intent to purchase a listing. Settlement happens
// off-platform; the order only coordinates the two parties.
type Order struct {
	Base                  `bson:",inline"`
	ListingID             utils.SixID       `bson:"listing_id" json:"listing_id"`
	BuyerID               utils.SixID       `bson:"buyer_id" json:"buyer_id"`
	SellerID              utils.SixID       `bson:"seller_id" json:"seller_id"`
	Status                OrderStatus       `bson:"status" json:"status"`
	PaymentStatus         PaymentStatus     `bson:"payment_status" json:"payment_status"`
	SelectedPaymentMethod string            `bson:"selected_payment_method" json:"selected_payment_method"`
	PriceAgreed           float64           `bson:"price_agreed" json:"price_agreed"`
	Currency              string            `bson:"currency" json:"currency"`
	MeetingInfo           MeetingInfo       `bson:"meeting_info,omitempty" json:"meeting_info"`
	BuyerNote             string            `bson:"buyer_note,omitempty" json:"buyer_note,omitempty"`
	SellerNote            string            `bson:"seller_note,omitempty" json:"seller_note,omitempty"`
	PaymentEvidence       []PaymentEvidence `bson:"payment_evidence" json:"payment_evidence"`
	StatusHistory         []StatusChange    `bson:"status_history" json:"status_history"`
	CreatedAt             time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time         `bson:"updated_at" json:"updated_at"`
}

// IsParty reports whether the user is the buyer or the seller of the order.
func (o *Order) IsParty(userID utils.SixID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// OtherParty resolves the counterparty of an actor on this order.
// Every message send path must go through this so a recipient can never
// be spoofed from a client payload. ok is false when the actor is not
// a party at all.
func (o *Order) OtherParty(actorID utils.SixID) (utils.SixID, bool) {
	switch actorID {
	case o.BuyerID:
		return o.SellerID, true
	case o.SellerID:
		return o.BuyerID, true
	}
	return utils.SixID{}, false
}

// LastStatusBefore returns the most recent history status preceding the
// first transition into the given status. Used when a resolved dispute
// reopens an order to its pre-dispute state.
func (o *Order) LastStatusBefore(status OrderStatus) (OrderStatus, bool) {
	for i := len(o.StatusHistory) - 1; i >= 0; i-- {
		if o.StatusHistory[i].Status == status && i > 0 {
			return o.StatusHistory[i-1].Status, true
		}
	}
	return "", false
}

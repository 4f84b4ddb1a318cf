package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

func TestCanTransition_ForwardEdges(t *testing.T) {
	allowed := []struct {
		from, to OrderStatus
	}{
		{OrderStatusRequested, OrderStatusSellerConfirmed},
		{OrderStatusSellerConfirmed, OrderStatusAwaitingPayment},
		{OrderStatusAwaitingPayment, OrderStatusPaidOffsite},
		{OrderStatusPaidOffsite, OrderStatusShipped},
		{OrderStatusPaidOffsite, OrderStatusCollected},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusCollected, OrderStatusDelivered},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to OrderStatus
	}{
		{OrderStatusRequested, OrderStatusAwaitingPayment}, // no skipping
		{OrderStatusRequested, OrderStatusDelivered},
		{OrderStatusSellerConfirmed, OrderStatusRequested}, // no going back
		{OrderStatusPaidOffsite, OrderStatusAwaitingPayment},
		{OrderStatusShipped, OrderStatusCollected}, // branches are exclusive
		{OrderStatusCollected, OrderStatusShipped},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestCanTransition_CancelFromAnyNonTerminal(t *testing.T) {
	cancellable := []OrderStatus{
		OrderStatusRequested, OrderStatusSellerConfirmed, OrderStatusAwaitingPayment,
		OrderStatusPaidOffsite, OrderStatusShipped, OrderStatusCollected,
	}
	for _, from := range cancellable {
		assert.True(t, CanTransition(from, OrderStatusCancelled), "cancel from %s should be allowed", from)
	}

	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusDisputed, OrderStatusCancelled))
}

func TestCanTransition_TerminalAndDisputedAreFrozen(t *testing.T) {
	all := []OrderStatus{
		OrderStatusRequested, OrderStatusSellerConfirmed, OrderStatusAwaitingPayment,
		OrderStatusPaidOffsite, OrderStatusShipped, OrderStatusCollected,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed,
	}
	for _, from := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed} {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s should be denied", from, to)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(OrderStatusDelivered))
	assert.True(t, IsTerminalStatus(OrderStatusCancelled))
	assert.False(t, IsTerminalStatus(OrderStatusDisputed)) // exits via resolution
	assert.False(t, IsTerminalStatus(OrderStatusRequested))
	assert.False(t, IsTerminalStatus(OrderStatusPaidOffsite))
}

func TestValidOrderStatus(t *testing.T) {
	assert.True(t, ValidOrderStatus(OrderStatusRequested))
	assert.True(t, ValidOrderStatus(OrderStatusDisputed))
	assert.False(t, ValidOrderStatus("refunded"))
	assert.False(t, ValidOrderStatus(""))
}

func TestOrder_OtherParty(t *testing.T) {
	buyerID := utils.NewSixID()
	sellerID := utils.NewSixID()
	order := Order{BuyerID: buyerID, SellerID: sellerID}

	got, ok := order.OtherParty(buyerID)
	assert.True(t, ok)
	assert.Equal(t, sellerID, got)

	got, ok = order.OtherParty(sellerID)
	assert.True(t, ok)
	assert.Equal(t, buyerID, got)

	_, ok = order.OtherParty(utils.NewSixID())
	assert.False(t, ok)
}

func TestOrder_IsParty(t *testing.T) {
	buyerID := utils.NewSixID()
	sellerID := utils.NewSixID()
	order := Order{BuyerID: buyerID, SellerID: sellerID}

	assert.True(t, order.IsParty(buyerID))
	assert.True(t, order.IsParty(sellerID))
	assert.False(t, order.IsParty(utils.NewSixID()))
}

func TestOrder_LastStatusBefore(t *testing.T) {
	actor := utils.NewSixID()
	now := time.Now().UTC()
	history := func(statuses ...OrderStatus) []StatusChange {
		entries := make([]StatusChange, 0, len(statuses))
		for i, s := range statuses {
			entries = append(entries, StatusChange{
				Status:    s,
				ChangedBy: actor,
				Timestamp: now.Add(time.Duration(i) * time.Minute),
			})
		}
		return entries
	}

	order := Order{StatusHistory: history(
		OrderStatusRequested, OrderStatusSellerConfirmed, OrderStatusAwaitingPayment,
		OrderStatusPaidOffsite, OrderStatusDisputed,
	)}
	previous, ok := order.LastStatusBefore(OrderStatusDisputed)
	assert.True(t, ok)
	assert.Equal(t, OrderStatusPaidOffsite, previous)

	// Repeated disputes: the most recent disputed entry wins.
	order = Order{StatusHistory: history(
		OrderStatusRequested, OrderStatusDisputed, OrderStatusRequested,
		OrderStatusSellerConfirmed, OrderStatusDisputed,
	)}
	previous, ok = order.LastStatusBefore(OrderStatusDisputed)
	assert.True(t, ok)
	assert.Equal(t, OrderStatusSellerConfirmed, previous)

	// Never disputed.
	order = Order{StatusHistory: history(OrderStatusRequested)}
	_, ok = order.LastStatusBefore(OrderStatusDisputed)
	assert.False(t, ok)

	// Empty history.
	order = Order{}
	_, ok = order.LastStatusBefore(OrderStatusDisputed)
	assert.False(t, ok)
}

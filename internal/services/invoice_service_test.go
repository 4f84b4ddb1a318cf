package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

func setupTestDBInvoice(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "invoices", "invoice_counters", "orders", "listings", "users")
}

// recordingEnqueuer captures enqueued invoice ids instead of touching Redis.
type recordingEnqueuer struct {
	enqueued []utils.SixID
}

func (e *recordingEnqueuer) EnqueueInvoiceGeneration(ctx context.Context, invoiceID utils.SixID) error {
	e.enqueued = append(e.enqueued, invoiceID)
	return nil
}

// seedInvoiceOrder registers real buyer and seller accounts and creates an
// order between them, since the invoice snapshot pulls party details.
func seedInvoiceOrder(t *testing.T, db *mongo.Database) (IInvoiceService, *recordingEnqueuer, *models.Order, Actor, Actor) {
	t.Helper()
	cfg := &config.Config{}
	listingSvc := NewListingService(db, cfg)
	orderSvc := NewOrderService(db, cfg, listingSvc)
	userSvc := NewUserService(db)
	enqueuer := &recordingEnqueuer{}
	invoiceSvc := NewInvoiceService(db, cfg, orderSvc, listingSvc, userSvc, enqueuer)
	ctx := context.Background()

	sellerUser, err := userSvc.Register(ctx, "Selam Gebre", fmt.Sprintf("seller-%s@example.com", utils.NewSixID().String()), "+251911000001", "longenough", []models.Role{models.RoleSeller})
	require.NoError(t, err)
	buyerUser, err := userSvc.Register(ctx, "Abel Tesfay", fmt.Sprintf("buyer-%s@example.com", utils.NewSixID().String()), "+251911000002", "longenough", []models.Role{models.RoleBuyer})
	require.NoError(t, err)

	seller := Actor{ID: sellerUser.ID, Roles: sellerUser.Roles}
	buyer := Actor{ID: buyerUser.ID, Roles: buyerUser.Roles}
	listing := seedActiveListing(t, listingSvc, seller.ID)
	order, err := orderSvc.CreateOrder(ctx, listing.ID, buyer, "telebirr", nil, "")
	require.NoError(t, err)
	return invoiceSvc, enqueuer, order, buyer, seller
}

func TestInvoiceService_RequestInvoice(t *testing.T) {
	db := setupTestDBInvoice(t, "testdb_invoice_request")
	invoiceSvc, enqueuer, order, buyer, seller := seedInvoiceOrder(t, db)
	ctx := context.Background()

	invoice, queued, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, models.InvoiceStatusPending, invoice.Status)
	assert.Equal(t, seller.ID, invoice.IssuerID)
	assert.Regexp(t, fmt.Sprintf(`^INV-%d-\d{6}$`, time.Now().UTC().Year()), invoice.InvoiceNumber)

	// The snapshot carries everything the worker renders from.
	assert.Equal(t, order.ID.String(), invoice.TemplateData.OrderNumber)
	assert.Equal(t, "Hand-woven gabi", invoice.TemplateData.ListingTitle)
	assert.Equal(t, order.PriceAgreed, invoice.TemplateData.Price)
	assert.Equal(t, "Selam Gebre", invoice.TemplateData.Seller.Name)
	assert.Equal(t, "Abel Tesfay", invoice.TemplateData.Buyer.Name)

	// The generation job was handed off.
	require.Len(t, enqueuer.enqueued, 1)
	assert.Equal(t, invoice.ID, enqueuer.enqueued[0])

	// Buyers cannot issue invoices.
	_, _, err = invoiceSvc.RequestInvoice(ctx, order.ID, buyer)
	assert.ErrorIs(t, err, ErrForbidden)

	// But both parties may fetch the latest one.
	fetched, err := invoiceSvc.GetInvoiceByOrder(ctx, order.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, fetched.ID)
	_, err = invoiceSvc.GetInvoiceByOrder(ctx, order.ID, Actor{ID: utils.NewSixID()})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestInvoiceService_RequestInvoice_NumbersAreMonotonic(t *testing.T) {
	db := setupTestDBInvoice(t, "testdb_invoice_numbers")
	invoiceSvc, _, order, _, seller := seedInvoiceOrder(t, db)
	ctx := context.Background()

	first, _, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)
	// The first is still pending, so a second request creates a fresh one.
	second, queued, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.InvoiceNumber, first.InvoiceNumber)
}

func TestInvoiceService_RequestInvoice_CompletedIsIdempotent(t *testing.T) {
	db := setupTestDBInvoice(t, "testdb_invoice_idempotent")
	invoiceSvc, enqueuer, order, _, seller := seedInvoiceOrder(t, db)
	ctx := context.Background()

	invoice, _, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)
	require.NoError(t, invoiceSvc.MarkProcessing(ctx, invoice.ID))
	completed, err := invoiceSvc.MarkCompleted(ctx, invoice.ID, "https://files.example.com/inv.pdf", models.InvoiceMetadata{FileSize: 12345, GenerationTimeMs: 80})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	// Requesting again returns the completed invoice without queueing.
	again, queued, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, invoice.ID, again.ID)
	assert.Equal(t, "https://files.example.com/inv.pdf", again.GeneratedPdfURL)
	assert.Len(t, enqueuer.enqueued, 1) // no second job
}

func TestInvoiceService_WorkerStatusPinning(t *testing.T) {
	db := setupTestDBInvoice(t, "testdb_invoice_pinning")
	invoiceSvc, _, order, _, seller := seedInvoiceOrder(t, db)
	ctx := context.Background()

	invoice, _, err := invoiceSvc.RequestInvoice(ctx, order.ID, seller)
	require.NoError(t, err)

	// Only a pending invoice can be claimed, and only once.
	require.NoError(t, invoiceSvc.MarkProcessing(ctx, invoice.ID))
	err = invoiceSvc.MarkProcessing(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, invoiceSvc.MarkFailed(ctx, invoice.ID, "upload exploded"))
	failed, err := invoiceSvc.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusFailed, failed.Status)
	assert.Equal(t, "upload exploded", failed.ErrorMessage)

	_, err = invoiceSvc.FindByID(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, ErrNotFound)
}

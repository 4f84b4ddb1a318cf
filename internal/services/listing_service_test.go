package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

func setupTestDBListing(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "listings")
}

func TestListingService_CreateAndPublish(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_create")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, "Coffee ceremony set", "Jebena and six cups", 800, "", []string{"cash_on_meetup"})
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusDraft, listing.Status)
	assert.Equal(t, "ETB", listing.Currency) // default currency

	// Drafts are invisible to buyers.
	_, err = svc.FindActiveByID(ctx, listing.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// But still reachable for internal lookups.
	found, err := svc.FindByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, found.ID)

	require.NoError(t, svc.PublishListing(ctx, listing.ID, sellerID))
	active, err := svc.FindActiveByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, active.Status)

	// Publishing twice finds no draft to move.
	err = svc.PublishListing(ctx, listing.ID, sellerID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListingService_CreateListing_Validation(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_validation")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	_, err := svc.CreateListing(ctx, sellerID, "   ", "", 800, "ETB", []string{"cash_on_meetup"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateListing(ctx, sellerID, "Title", "", 0, "ETB", []string{"cash_on_meetup"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateListing(ctx, sellerID, "Title", "", 800, "ETB", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListingService_PublishListing_OwnershipRequired(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_ownership")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, "Title", "", 800, "ETB", []string{"telebirr"})
	require.NoError(t, err)

	err = svc.PublishListing(ctx, listing.ID, utils.NewSixID())
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := svc.FindByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusDraft, found.Status)
}

func TestListing_AcceptsPaymentMethod(t *testing.T) {
	listing := models.Listing{PaymentMethods: []string{"telebirr", "cash_on_meetup"}}
	assert.True(t, listing.AcceptsPaymentMethod("telebirr"))
	assert.False(t, listing.AcceptsPaymentMethod("cbe_birr"))
	assert.False(t, listing.AcceptsPaymentMethod(""))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/db"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// IListingService is the catalog lookup the order core depends on.
// Full catalog CRUD/search lives outside the order subsystem; this covers
// the one read the state machine performs at order creation, plus the
// minimal writes sellers need to get a listing into circulation.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID utils.SixID, title, description string, price float64, currency string, paymentMethods []string) (*models.Listing, error)
	PublishListing(ctx context.Context, listingID, sellerID utils.SixID) error
	FindActiveByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	FindByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// CreateListing creates a new listing in draft state.
func (s *listingService) CreateListing(ctx context.Context, sellerID utils.SixID, title, description string, price float64, currency string, paymentMethods []string) (*models.Listing, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("listing title is required: %w", ErrValidation)
	}
	if price <= 0 {
		return nil, fmt.Errorf("listing price must be positive: %w", ErrValidation)
	}
	if len(paymentMethods) == 0 {
		return nil, fmt.Errorf("at least one payment method is required: %w", ErrValidation)
	}
	if currency == "" {
		currency = "ETB"
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		SellerID:       sellerID,
		Title:          title,
		Description:    description,
		Price:          price,
		Currency:       currency,
		PaymentMethods: paymentMethods,
		Images:         []string{},
		Status:         models.ListingStatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	collection := s.db.Collection(listingsCollection)
	operation := func() error {
		listing.GenID()
		_, insertErr := collection.InsertOne(ctx, listing)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert listing for seller %s: %w", sellerID.String(), err)
	}
	return listing, nil
}

// PublishListing moves a draft listing to active.
func (s *listingService) PublishListing(ctx context.Context, listingID, sellerID utils.SixID) error {
	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"status":    models.ListingStatusDraft,
	}
	update := bson.M{"$set": bson.M{
		"status":     models.ListingStatusActive,
		"updated_at": time.Now().UTC(),
	}}

	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error publishing listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found, not owned by user, or not a draft: %w", listingID.String(), ErrNotFound)
	}
	return nil
}

// FindActiveByID finds a listing that is currently purchasable. Inactive
// listings are reported as not found, matching what a buyer would see.
func (s *listingService) FindActiveByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	filter := bson.M{"_id": listingID, "status": models.ListingStatusActive}
	err := s.db.Collection(listingsCollection).FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing %s not available: %w", listingID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

// FindByID finds a listing regardless of status.
func (s *listingService) FindByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing %s: %w", listingID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

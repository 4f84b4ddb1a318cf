package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Yonatanhaile/tigray-marketplace/internal/auth"
	"github.com/Yonatanhaile/tigray-marketplace/internal/db"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// IUserService defines the interface for user account operations.
type IUserService interface {
	Register(ctx context.Context, name, email, phone, password string, roles []models.Role) (*models.User, error)
	// Authenticate returns the user on a correct email/password pair.
	// Inactive accounts fail with ErrUnauthorized, same as a bad password.
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	// IsActive is the liveness check run before accepting a websocket
	// session: the token alone is not enough once an account is disabled.
	IsActive(ctx context.Context, userID utils.SixID) (bool, error)
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

func (s *userService) Register(ctx context.Context, name, email, phone, password string, roles []models.Role) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required: %w", ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", ErrValidation)
	}
	if len(roles) == 0 {
		roles = []models.Role{models.RoleBuyer}
	}
	for _, role := range roles {
		// Admin accounts are provisioned out of band, never self-registered.
		if role == models.RoleAdmin || !models.ValidRole(role) {
			return nil, fmt.Errorf("invalid role %q: %w", role, ErrValidation)
		}
	}

	collection := s.db.Collection(usersCollection)

	count, err := collection.CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("email %s is already registered: %w", email, ErrConflict)
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: passwordHash,
		Roles:        roles,
		IsActive:     true,
		KycStatus:    models.KycStatusNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	operation := func() error {
		user.GenID()
		_, insertErr := collection.InsertOne(ctx, user)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		// The unique index on email can still race the count check above.
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("email %s is already registered: %w", email, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", ErrUnauthorized)
	}

	return &user, nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", userID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.String(), err)
	}
	return &user, nil
}

func (s *userService) IsActive(ctx context.Context, userID utils.SixID) (bool, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsActive, nil
}

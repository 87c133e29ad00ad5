package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatcore/internal/models"
)

// UserRepository defines the interface for user/profile data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdatePresence(ctx context.Context, id string, status models.UserStatus, lastActive time.Time) error
	SearchUsers(ctx context.Context, query string, currentUserID string) ([]models.User, error)
	GetBasicInfoByID(ctx context.Context, id string) (*models.UserBasicInfo, error)
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]models.User, error)
	Delete(ctx context.Context, id string) error
	GetDB() *gorm.DB
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// Upsert inserts the profile or, when the id already exists, refreshes the
// email and display name. Used by the ensure-profile bootstrap path.
func (r *gormUserRepository) Upsert(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "updated_at"}),
	}).Create(user).Error
}

// GetByID retrieves a user by their ID.
func (r *gormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err // Handles gorm.ErrRecordNotFound as well
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email (case-insensitive).
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update updates an existing user record in the database.
func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return gorm.ErrMissingWhereClause
	}
	return r.db.WithContext(ctx).Save(user).Error
}

// UpdatePresence mirrors the presence heartbeat into the row.
func (r *gormUserRepository) UpdatePresence(ctx context.Context, id string, status models.UserStatus, lastActive time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_active": lastActive}).Error
}

// SearchUsers does a case-insensitive match over display name and email,
// excluding the current user.
func (r *gormUserRepository) SearchUsers(ctx context.Context, query string, currentUserID string) ([]models.User, error) {
	var users []models.User
	searchTerm := "%" + strings.ToLower(query) + "%"

	err := r.db.WithContext(ctx).
		Where("(LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?) AND id != ?", searchTerm, searchTerm, currentUserID).
		Select("id", "email", "display_name", "avatar_url", "status", "last_active", "created_at", "updated_at").
		Limit(10).
		Find(&users).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return users, nil
		}
		return nil, err
	}
	return users, nil
}

// GetBasicInfoByID retrieves minimal public user info by ID.
func (r *gormUserRepository) GetBasicInfoByID(ctx context.Context, id string) (*models.UserBasicInfo, error) {
	var basicInfo models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "email", "display_name", "avatar_url").
		Where("id = ?", id).
		First(&basicInfo).Error
	if err != nil {
		return nil, err
	}
	return &basicInfo, nil
}

// ListInactiveSince returns users that are offline and have not been active
// since the cutoff. Consumed by the inactive-account cleanup.
func (r *gormUserRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_active < ?", models.StatusOffline, cutoff).
		Find(&users).Error
	return users, err
}

// Delete removes the user row. Owned rows are removed by the caller inside
// the same transaction.
func (r *gormUserRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{}).Error
}

// GetDB returns the underlying gorm.DB instance.
func (r *gormUserRepository) GetDB() *gorm.DB {
	return r.db
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"chatcore/internal/models"
	appRedis "chatcore/internal/redis"
	"chatcore/internal/storage"
)

var (
	ErrUserNotFound   = errors.New("用户不存在")
	ErrInvalidProfile = errors.New("无效的用户资料")
	ErrInvalidStatus  = errors.New("无效的在线状态")
)

// UserService defines the interface for profile and presence operations.
type UserService interface {
	// SafeCreateProfile bootstraps the profile row for an externally created
	// identity. Idempotent and deliberately best-effort: it never fails the
	// caller on a duplicate or an internal fault, so account registration is
	// never blocked by this side effect. Unique to this path; everything else
	// fails loudly.
	SafeCreateProfile(ctx context.Context, userID, email, displayName string) bool
	// EnsureProfileExists upserts the profile and returns the current row.
	EnsureProfileExists(ctx context.Context, userID, email, displayName string) (*models.User, error)
	GetProfile(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, currentUserID string) ([]models.User, error)

	SetStatus(ctx context.Context, userID string, status models.UserStatus) error
	Heartbeat(ctx context.Context, userID string) error
	GetStatus(ctx context.Context, userID string) (models.UserStatus, error)
}

// userService implements UserService.
type userService struct {
	userRepo storage.UserRepository
	presence appRedis.PresenceStore
}

// NewUserService creates a new UserService instance.
func NewUserService(userRepo storage.UserRepository, presence appRedis.PresenceStore) UserService {
	return &userService{userRepo: userRepo, presence: presence}
}

func validateProfileInput(userID, email, displayName string) error {
	if userID == "" || strings.TrimSpace(email) == "" || strings.TrimSpace(displayName) == "" {
		return ErrInvalidProfile
	}
	if !strings.Contains(email, "@") {
		return ErrInvalidProfile
	}
	return nil
}

// SafeCreateProfile reports whether this call created the profile row.
func (s *userService) SafeCreateProfile(ctx context.Context, userID, email, displayName string) bool {
	if err := validateProfileInput(userID, email, displayName); err != nil {
		log.Printf("SafeCreateProfile: skipping invalid input for user %s: %v", userID, err)
		return false
	}

	existing, err := s.userRepo.GetByID(ctx, userID)
	if err == nil && existing != nil {
		return false // 已存在，幂等返回
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("SafeCreateProfile: error checking user %s, giving up without blocking signup: %v", userID, err)
		return false
	}

	user := &models.User{
		ID:          userID,
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(displayName),
		Status:      models.StatusOffline,
		LastActive:  time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 并发注册时的唯一约束冲突也落到这里，同样吞掉
		log.Printf("SafeCreateProfile: error creating profile for user %s, giving up without blocking signup: %v", userID, err)
		return false
	}
	return true
}

// EnsureProfileExists upserts the profile and returns the current row.
func (s *userService) EnsureProfileExists(ctx context.Context, userID, email, displayName string) (*models.User, error) {
	if err := validateProfileInput(userID, email, displayName); err != nil {
		return nil, err
	}

	user := &models.User{
		ID:          userID,
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(displayName),
		Status:      models.StatusOffline,
		LastActive:  time.Now(),
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to upsert profile for user %s: %w", userID, err)
	}
	return s.userRepo.GetByID(ctx, userID)
}

// GetProfile fetches a user's profile.
func (s *userService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return user, nil
}

// UpdateProfile updates the caller's own profile fields.
func (s *userService) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %s for profile update: %w", userID, err)
	}

	updated := false
	if displayName != "" && user.DisplayName != displayName {
		user.DisplayName = displayName
		updated = true
	}
	if avatarURL != "" && user.AvatarURL != avatarURL {
		user.AvatarURL = avatarURL
		updated = true
	}
	if !updated {
		return user, nil
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile for user %s: %w", userID, err)
	}
	return user, nil
}

// SearchUsers performs a case-insensitive search, excluding the caller.
func (s *userService) SearchUsers(ctx context.Context, query string, currentUserID string) ([]models.User, error) {
	return s.userRepo.SearchUsers(ctx, query, currentUserID)
}

// SetStatus writes presence. Redis holds the live value; the user row keeps
// a fallback mirror.
func (s *userService) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	switch status {
	case models.StatusOnline, models.StatusOffline, models.StatusAway:
	default:
		return ErrInvalidStatus
	}

	if s.presence != nil {
		if err := s.presence.SetStatus(ctx, userID, status); err != nil {
			return err
		}
	}
	return s.userRepo.UpdatePresence(ctx, userID, status, time.Now())
}

// Heartbeat refreshes the presence TTL and bumps last_active.
func (s *userService) Heartbeat(ctx context.Context, userID string) error {
	if s.presence != nil {
		if err := s.presence.Heartbeat(ctx, userID); err != nil {
			return err
		}
	}
	return s.userRepo.UpdatePresence(ctx, userID, models.StatusOnline, time.Now())
}

// GetStatus prefers the live Redis value and falls back to the row mirror.
func (s *userService) GetStatus(ctx context.Context, userID string) (models.UserStatus, error) {
	if s.presence != nil {
		status, err := s.presence.GetStatus(ctx, userID)
		if err == nil && status != models.StatusOffline {
			return status, nil
		}
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.StatusOffline, ErrUserNotFound
		}
		return models.StatusOffline, err
	}
	return user.Status, nil
}

package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chatcore/internal/models"
)

// ErrActivePairExists is returned by Create when the pair already has a
// pending or accepted connection. Backed by the partial unique index on
// (user_lo, user_hi), so it holds even when two requests race.
var ErrActivePairExists = errors.New("该用户对之间已存在有效的连接")

// ConnectionRepository defines the interface for connection data operations.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *models.Connection) error
	GetByID(ctx context.Context, id uint) (*models.Connection, error)
	FindActiveByPair(ctx context.Context, userID1, userID2 string) (*models.Connection, error)
	UpdateStatus(ctx context.Context, id uint, status models.ConnectionStatus) error
	ListForUser(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error)
	ListPendingForReceiver(ctx context.Context, receiverID string) ([]models.Connection, error)
	AreConnected(ctx context.Context, userID1, userID2 string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

type gormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GORM-based ConnectionRepository.
func NewGormConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &gormConnectionRepository{db: db}
}

func (r *gormConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	conn.EnsureCanonicalOrder()
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActivePairExists
		}
		return err
	}
	return nil
}

func (r *gormConnectionRepository) GetByID(ctx context.Context, id uint) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).First(&conn, id).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// FindActiveByPair returns the pending or accepted connection for the
// unordered pair, or nil when none exists. Terminal rejected rows are ignored;
// they stay behind as history and a new request may be inserted alongside them.
func (r *gormConnectionRepository) FindActiveByPair(ctx context.Context, userID1, userID2 string) (*models.Connection, error) {
	lo, hi := userID1, userID2
	if lo > hi {
		lo, hi = hi, lo
	}
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Where("user_lo = ? AND user_hi = ?", lo, hi).
		Where("status IN ?", []models.ConnectionStatus{models.ConnectionStatusPending, models.ConnectionStatusAccepted}).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // no active connection is not an error here
		}
		return nil, err
	}
	return &conn, nil
}

func (r *gormConnectionRepository) UpdateStatus(ctx context.Context, id uint, status models.ConnectionStatus) error {
	return r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *gormConnectionRepository) ListForUser(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error) {
	var conns []models.Connection
	q := r.db.WithContext(ctx).Where("requester_id = ? OR receiver_id = ?", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Find(&conns).Error
	return conns, err
}

func (r *gormConnectionRepository) ListPendingForReceiver(ctx context.Context, receiverID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", receiverID, models.ConnectionStatusPending).
		Order("created_at DESC").
		Find(&conns).Error
	return conns, err
}

// DeleteAllForUser removes every connection row involving the user. Used by
// the account cleanup cascade.
func (r *gormConnectionRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("requester_id = ? OR receiver_id = ?", userID, userID).
		Delete(&models.Connection{}).Error
}

// AreConnected reports whether the pair shares an accepted connection.
func (r *gormConnectionRepository) AreConnected(ctx context.Context, userID1, userID2 string) (bool, error) {
	lo, hi := userID1, userID2
	if lo > hi {
		lo, hi = hi, lo
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("user_lo = ? AND user_hi = ? AND status = ?", lo, hi, models.ConnectionStatusAccepted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

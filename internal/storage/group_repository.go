package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatcore/internal/models"
)

// GroupRepository 定义了群组与成员数据操作的接口。
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroupByID(ctx context.Context, id uint) (*models.Group, error)
	GetGroupByNameKey(ctx context.Context, nameKey string) (*models.Group, error)
	UpdateGroup(ctx context.Context, group *models.Group) error
	DeleteGroup(ctx context.Context, id uint) error

	AddMember(ctx context.Context, member *models.GroupMember) error
	GetMember(ctx context.Context, groupID uint, userID string) (*models.GroupMember, error)
	UpdateMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID uint, userID string) error
	GetGroupMembers(ctx context.Context, groupID uint) ([]models.GroupMember, error)
	CountMembers(ctx context.Context, groupID uint) (int64, error)
	CountAdmins(ctx context.Context, groupID uint) (int64, error)
	GetUserGroups(ctx context.Context, userID string) ([]models.Group, error)
	RemoveAllMemberships(ctx context.Context, userID string) error
}

// gormGroupRepository 使用 GORM 实现 GroupRepository。
type gormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository 创建一个新的基于 GORM 的 GroupRepository。
func NewGormGroupRepository(db *gorm.DB) GroupRepository {
	return &gormGroupRepository{db: db}
}

func (r *gormGroupRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	group.NormalizeName()
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *gormGroupRepository) GetGroupByID(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).First(&group, id).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// GetGroupByNameKey retrieves a group by its normalized (lowercased) name.
// Returns nil, nil when no group carries the name.
func (r *gormGroupRepository) GetGroupByNameKey(ctx context.Context, nameKey string) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Where("name_key = ?", nameKey).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *gormGroupRepository) UpdateGroup(ctx context.Context, group *models.Group) error {
	group.NormalizeName()
	return r.db.WithContext(ctx).Save(group).Error
}

// DeleteGroup removes the group row. Members, messages and mentions are
// removed by the service inside the same transaction.
func (r *gormGroupRepository) DeleteGroup(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Group{}, id).Error
}

// AddMember 向群组中添加成员。重复加入由联合唯一索引挡住。
func (r *gormGroupRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member).Error
}

func (r *gormGroupRepository) GetMember(ctx context.Context, groupID uint, userID string) (*models.GroupMember, error) {
	var member models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *gormGroupRepository) UpdateMember(ctx context.Context, member *models.GroupMember) error {
	return r.db.WithContext(ctx).Save(member).Error
}

func (r *gormGroupRepository) RemoveMember(ctx context.Context, groupID uint, userID string) error {
	return r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{}).Error
}

func (r *gormGroupRepository) GetGroupMembers(ctx context.Context, groupID uint) ([]models.GroupMember, error) {
	var members []models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Preload("User").
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

func (r *gormGroupRepository) CountMembers(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	return count, err
}

func (r *gormGroupRepository) CountAdmins(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND role = ?", groupID, models.AdminRole).
		Count(&count).Error
	return count, err
}

// GetUserGroups 获取用户加入的所有群组列表。
func (r *gormGroupRepository) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = groups.id").
		Where("gm.user_id = ?", userID).
		Find(&groups).Error
	return groups, err
}

// RemoveAllMemberships removes every membership row for a user. Used by the
// account cleanup cascade.
func (r *gormGroupRepository) RemoveAllMemberships(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.GroupMember{}).Error
}

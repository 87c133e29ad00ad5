package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"chatcore/internal/models"
	"chatcore/internal/storage"
)

var (
	ErrInvalidGroupName     = errors.New("群组名称不能为空")
	ErrGroupNameTaken       = errors.New("群组名称已被占用")
	ErrGroupNotFound        = errors.New("群组不存在")
	ErrNotGroupMember       = errors.New("您不是该群组的成员")
	ErrNotGroupAdmin        = errors.New("您不是该群组的管理员")
	ErrNotGroupOwner        = errors.New("您不是该群组的群主")
	ErrMemberNotFound       = errors.New("目标用户不是该群组的成员")
	ErrAlreadyMember        = errors.New("目标用户已经是该群组的成员")
	ErrEmailNotRegistered   = errors.New("该邮箱未注册")
	ErrCannotRemoveSelf     = errors.New("不能移除自己，请使用退出群组")
	ErrCannotRemoveOwner    = errors.New("不能移除群主")
	ErrCannotRemoveAdmin    = errors.New("管理员不能移除其他管理员")
	ErrSuccessorNotMember   = errors.New("指定的继任者不是该群组的成员")
	ErrInviteNotFound       = errors.New("群组邀请不存在")
	ErrNotInviteRecipient   = errors.New("您不是此邀请的接收者")
	ErrInviteAlreadyHandled = errors.New("该邀请已被处理")
)

// LeaveAction describes what LeaveGroup did beyond removing the membership.
type LeaveAction string

const (
	LeaveActionLeft         LeaveAction = "left"
	LeaveActionTransferred  LeaveAction = "ownership_transferred"
	LeaveActionGroupDeleted LeaveAction = "group_deleted"
)

// AddMemberResult 是 AddUserToGroupWithCheck 的结果。
// AutoAdded 为 true 时目标已入群；否则目标收到了待接受的邀请。
type AddMemberResult struct {
	AutoAdded bool                `json:"autoAdded"`
	Member    *models.GroupMember `json:"member,omitempty"`
}

// GroupService 定义了群组与成员相关服务的接口。
type GroupService interface {
	CreateGroup(ctx context.Context, creatorID, name, description, avatarURL string) (*models.Group, error)
	GetGroupDetails(ctx context.Context, groupID uint, userID string) (*models.Group, error)
	UpdateGroup(ctx context.Context, groupID uint, actorID, name, description, avatarURL string) (*models.Group, error)

	AddUserToGroupWithCheck(ctx context.Context, groupID uint, targetEmail, actorID string) (*AddMemberResult, error)
	RespondToGroupInvite(ctx context.Context, notificationID uint, userID string, accept bool) error
	LeaveGroup(ctx context.Context, groupID uint, userID, successorID string) (LeaveAction, error)
	RemoveMember(ctx context.Context, groupID uint, targetID, actorID string) error
	TransferOwnership(ctx context.Context, groupID uint, ownerID, newOwnerID string) error
	PromoteMember(ctx context.Context, groupID uint, targetID, actorID string) error

	GetGroupMembers(ctx context.Context, groupID uint, actorID string) ([]models.GroupMember, error)
	GetUserGroups(ctx context.Context, userID string) ([]models.Group, error)
}

// groupService 是 GroupService 的实现。
type groupService struct {
	db        *gorm.DB
	groupRepo storage.GroupRepository
	userRepo  storage.UserRepository
	connRepo  storage.ConnectionRepository
	notifRepo storage.NotificationRepository
	msgRepo   storage.GroupMessageRepository
}

// NewGroupService 创建一个新的 GroupService 实例。
func NewGroupService(
	db *gorm.DB,
	groupRepo storage.GroupRepository,
	userRepo storage.UserRepository,
	connRepo storage.ConnectionRepository,
	notifRepo storage.NotificationRepository,
	msgRepo storage.GroupMessageRepository,
) GroupService {
	return &groupService{
		db:        db,
		groupRepo: groupRepo,
		userRepo:  userRepo,
		connRepo:  connRepo,
		notifRepo: notifRepo,
		msgRepo:   msgRepo,
	}
}

// appendSystemMessage 向群组追加一条系统消息（成员变动、改名等）。
func appendSystemMessage(ctx context.Context, msgRepo storage.GroupMessageRepository, groupID uint, content string) error {
	msg := &models.GroupMessage{
		GroupID:    groupID,
		AuthorKind: models.AuthorSystem,
		Content:    content,
		Type:       models.TextMessageType,
		SentAt:     time.Now(),
	}
	return msgRepo.Create(ctx, msg)
}

func (s *groupService) displayName(ctx context.Context, userID string) string {
	info, err := s.userRepo.GetBasicInfoByID(ctx, userID)
	if err != nil || info == nil {
		return userID
	}
	return info.DisplayName
}

// CreateGroup 创建一个新的群组。群组与创建者的管理员成员记录在同一事务中写入。
func (s *groupService) CreateGroup(ctx context.Context, creatorID, name, description, avatarURL string) (*models.Group, error) {
	// 1. 验证输入
	if models.NormalizeGroupName(name) == "" {
		return nil, ErrInvalidGroupName
	}

	// 2. 检查群组名称是否已存在（大小写不敏感）
	existing, err := s.groupRepo.GetGroupByNameKey(ctx, models.NormalizeGroupName(name))
	if err != nil {
		return nil, fmt.Errorf("检查群组名称失败: %w", err)
	}
	if existing != nil {
		return nil, ErrGroupNameTaken
	}

	newGroup := &models.Group{
		Name:        name,
		Description: description,
		AvatarURL:   avatarURL,
		CreatedBy:   creatorID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		if err := txGroupRepo.CreateGroup(ctx, newGroup); err != nil {
			return fmt.Errorf("创建群组失败: %w", err)
		}

		// 3. 将创建者添加为群管理员
		ownerMember := &models.GroupMember{
			GroupID:  newGroup.ID,
			UserID:   creatorID,
			Role:     models.AdminRole,
			JoinedAt: time.Now(),
		}
		if err := txGroupRepo.AddMember(ctx, ownerMember); err != nil {
			return fmt.Errorf("将群主 %s 添加到群组 %d 失败: %w", creatorID, newGroup.ID, err)
		}

		return appendSystemMessage(ctx, txMsgRepo, newGroup.ID,
			fmt.Sprintf("%s 创建了群组", s.displayName(ctx, creatorID)))
	})
	if err != nil {
		return nil, err
	}
	return newGroup, nil
}

// GetGroupDetails 获取群组详情。仅成员可见。
func (s *groupService) GetGroupDetails(ctx context.Context, groupID uint, userID string) (*models.Group, error) {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup 更新群组资料。群主或管理员可操作；改名会重新检查名称唯一性并追加系统消息。
func (s *groupService) UpdateGroup(ctx context.Context, groupID uint, actorID, name, description, avatarURL string) (*models.Group, error) {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, group, actorID); err != nil {
		return nil, err
	}

	oldName := group.Name
	renamed := false
	if name != "" && models.NormalizeGroupName(name) != group.NameKey {
		// 改名：排除自身后检查大小写不敏感的唯一性
		existing, err := s.groupRepo.GetGroupByNameKey(ctx, models.NormalizeGroupName(name))
		if err != nil {
			return nil, fmt.Errorf("检查群组名称失败: %w", err)
		}
		if existing != nil && existing.ID != group.ID {
			return nil, ErrGroupNameTaken
		}
		group.Name = name
		renamed = true
	} else if name != "" {
		group.Name = name // 仅大小写变化
	}
	if description != "" {
		group.Description = description
	}
	if avatarURL != "" {
		group.AvatarURL = avatarURL
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		if err := txGroupRepo.UpdateGroup(ctx, group); err != nil {
			return fmt.Errorf("更新群组 %d 失败: %w", groupID, err)
		}
		if renamed {
			return appendSystemMessage(ctx, txMsgRepo, groupID,
				fmt.Sprintf("群名称由 %q 改为 %q", oldName, group.Name))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// AddUserToGroupWithCheck 按邮箱将用户拉入群组。
// 操作者与目标之间已有接受的连接时立即入群（auto_added），否则只发出待接受的邀请。
func (s *groupService) AddUserToGroupWithCheck(ctx context.Context, groupID uint, targetEmail, actorID string) (*AddMemberResult, error) {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}

	// 1. 邮箱必须对应已注册用户，未注册要单独报告
	target, err := s.userRepo.GetByEmail(ctx, targetEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotRegistered
		}
		return nil, fmt.Errorf("按邮箱查找用户失败: %w", err)
	}

	// 2. 已是成员则拒绝
	if _, err := s.groupRepo.GetMember(ctx, groupID, target.ID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("检查成员资格失败: %w", err)
	}

	// 3. 操作者与目标之间的连接决定走哪条路径
	connected, err := s.connRepo.AreConnected(ctx, actorID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("检查连接状态失败: %w", err)
	}

	if connected {
		member := &models.GroupMember{
			GroupID:  groupID,
			UserID:   target.ID,
			Role:     models.MemberRole,
			JoinedAt: time.Now(),
		}
		err = s.db.Transaction(func(tx *gorm.DB) error {
			txGroupRepo := storage.NewGormGroupRepository(tx)
			txNotifRepo := storage.NewGormNotificationRepository(tx)
			txMsgRepo := storage.NewGormGroupMessageRepository(tx)

			if err := txGroupRepo.AddMember(ctx, member); err != nil {
				return fmt.Errorf("添加成员失败: %w", err)
			}
			notif := &models.Notification{
				UserID:     target.ID,
				ActorID:    actorID,
				Type:       models.NotificationGroupInvite,
				Content:    fmt.Sprintf("%s 已将你加入群组 %s", s.displayName(ctx, actorID), group.Name),
				TargetID:   group.IDString(),
				TargetType: models.TargetGroup,
			}
			if err := notif.MarshalData(models.GroupInviteData{
				GroupID:   groupID,
				GroupName: group.Name,
				InvitedBy: actorID,
				Mode:      models.InviteAutoAdded,
			}); err != nil {
				return err
			}
			if err := txNotifRepo.Create(ctx, notif); err != nil {
				return fmt.Errorf("创建通知失败: %w", err)
			}
			return appendSystemMessage(ctx, txMsgRepo, groupID,
				fmt.Sprintf("%s 加入了群组", target.DisplayName))
		})
		if err != nil {
			return nil, err
		}
		return &AddMemberResult{AutoAdded: true, Member: member}, nil
	}

	// 未连接：只发邀请，不写成员记录。重复邀请是幂等的。
	existing, err := s.notifRepo.FindByTarget(ctx, target.ID, models.NotificationGroupInvite, group.IDString())
	if err != nil {
		return nil, fmt.Errorf("检查已有邀请失败: %w", err)
	}
	if existing != nil {
		var data models.GroupInviteData
		if json.Unmarshal(existing.Data, &data) == nil && data.Status == "" {
			log.Printf("Pending invite for user %s to group %d already exists, skipping", target.ID, groupID)
			return &AddMemberResult{AutoAdded: false}, nil
		}
	}

	notif := &models.Notification{
		UserID:     target.ID,
		ActorID:    actorID,
		Type:       models.NotificationGroupInvite,
		Content:    fmt.Sprintf("%s 邀请你加入群组 %s", s.displayName(ctx, actorID), group.Name),
		TargetID:   group.IDString(),
		TargetType: models.TargetGroup,
	}
	if err := notif.MarshalData(models.GroupInviteData{
		GroupID:   groupID,
		GroupName: group.Name,
		InvitedBy: actorID,
		Mode:      models.InviteRequiresAcceptance,
	}); err != nil {
		return nil, err
	}
	if err := s.notifRepo.Create(ctx, notif); err != nil {
		return nil, fmt.Errorf("创建邀请通知失败: %w", err)
	}
	return &AddMemberResult{AutoAdded: false}, nil
}

// RespondToGroupInvite 处理待接受的群组邀请。接受时写入成员记录并追加系统消息；
// 无论接受或拒绝都把结果盖章到原始通知的 payload 上。
func (s *groupService) RespondToGroupInvite(ctx context.Context, notificationID uint, userID string, accept bool) error {
	notif, err := s.notifRepo.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		return fmt.Errorf("查询邀请失败: %w", err)
	}
	if notif.Type != models.NotificationGroupInvite {
		return ErrInviteNotFound
	}
	if notif.UserID != userID {
		return ErrNotInviteRecipient
	}

	var data models.GroupInviteData
	if err := json.Unmarshal(notif.Data, &data); err != nil {
		return fmt.Errorf("解析邀请数据失败: %w", err)
	}
	if data.Status != "" || data.Mode == models.InviteAutoAdded {
		return ErrInviteAlreadyHandled
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txNotifRepo := storage.NewGormNotificationRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		if accept {
			// 群组可能在邀请后被解散
			if _, err := txGroupRepo.GetGroupByID(ctx, data.GroupID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrGroupNotFound
				}
				return fmt.Errorf("查询群组失败: %w", err)
			}
			member := &models.GroupMember{
				GroupID:  data.GroupID,
				UserID:   userID,
				Role:     models.MemberRole,
				JoinedAt: time.Now(),
			}
			if err := txGroupRepo.AddMember(ctx, member); err != nil {
				return fmt.Errorf("添加成员失败: %w", err)
			}
			if err := appendSystemMessage(ctx, txMsgRepo, data.GroupID,
				fmt.Sprintf("%s 加入了群组", s.displayName(ctx, userID))); err != nil {
				return err
			}
			data.Status = "accepted"
		} else {
			data.Status = "rejected"
		}

		if err := notif.MarshalData(data); err != nil {
			return err
		}
		notif.IsRead = true
		if err := txNotifRepo.Update(ctx, notif); err != nil {
			return fmt.Errorf("更新邀请通知失败: %w", err)
		}
		return nil
	})
}

// LeaveGroup 处理成员退出。
// 最后一名成员退出时解散群组（连同消息与提及）；群主或唯一管理员退出时先把
// 所有权交给指定继任者，未指定则自动提拔任意剩余成员，然后再移除退出者。
func (s *groupService) LeaveGroup(ctx context.Context, groupID uint, userID, successorID string) (LeaveAction, error) {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	member, err := s.requireMember(ctx, groupID, userID)
	if err != nil {
		return "", err
	}

	action := LeaveActionLeft
	err = s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		count, err := txGroupRepo.CountMembers(ctx, groupID)
		if err != nil {
			return fmt.Errorf("统计成员数失败: %w", err)
		}

		// 1. 最后一名成员退出：解散群组
		if count == 1 {
			if err := txMsgRepo.DeleteMentionsByGroupID(ctx, groupID); err != nil {
				return fmt.Errorf("删除群组提及失败: %w", err)
			}
			if err := txMsgRepo.DeleteByGroupID(ctx, groupID); err != nil {
				return fmt.Errorf("删除群组消息失败: %w", err)
			}
			if err := txGroupRepo.RemoveMember(ctx, groupID, userID); err != nil {
				return fmt.Errorf("移除成员失败: %w", err)
			}
			if err := txGroupRepo.DeleteGroup(ctx, groupID); err != nil {
				return fmt.Errorf("解散群组失败: %w", err)
			}
			action = LeaveActionGroupDeleted
			return nil
		}

		// 2. 群主或唯一管理员退出：先移交
		adminCount, err := txGroupRepo.CountAdmins(ctx, groupID)
		if err != nil {
			return fmt.Errorf("统计管理员数失败: %w", err)
		}
		isOwner := group.CreatedBy == userID
		soleAdmin := member.Role == models.AdminRole && adminCount == 1

		if isOwner || soleAdmin {
			successor, err := s.pickSuccessor(ctx, txGroupRepo, groupID, userID, successorID)
			if err != nil {
				return err
			}
			successor.Role = models.AdminRole
			if err := txGroupRepo.UpdateMember(ctx, successor); err != nil {
				return fmt.Errorf("提拔继任者失败: %w", err)
			}
			if isOwner {
				group.CreatedBy = successor.UserID
				if err := txGroupRepo.UpdateGroup(ctx, group); err != nil {
					return fmt.Errorf("移交群主失败: %w", err)
				}
			}
			if err := appendSystemMessage(ctx, txMsgRepo, groupID,
				fmt.Sprintf("%s 成为群组的管理者", s.displayName(ctx, successor.UserID))); err != nil {
				return err
			}
			action = LeaveActionTransferred
		}

		// 3. 移除退出者并追加系统消息
		if err := txGroupRepo.RemoveMember(ctx, groupID, userID); err != nil {
			return fmt.Errorf("移除成员失败: %w", err)
		}
		return appendSystemMessage(ctx, txMsgRepo, groupID,
			fmt.Sprintf("%s 退出了群组", s.displayName(ctx, userID)))
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

// pickSuccessor 返回继任者的成员记录：优先使用指定的继任者，否则任选一名剩余成员。
func (s *groupService) pickSuccessor(ctx context.Context, repo storage.GroupRepository, groupID uint, leaverID, successorID string) (*models.GroupMember, error) {
	if successorID != "" && successorID != leaverID {
		successor, err := repo.GetMember(ctx, groupID, successorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSuccessorNotMember
			}
			return nil, fmt.Errorf("查询继任者失败: %w", err)
		}
		return successor, nil
	}

	members, err := repo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("查询群组成员失败: %w", err)
	}
	for i := range members {
		if members[i].UserID != leaverID {
			return &members[i], nil
		}
	}
	return nil, ErrSuccessorNotMember
}

// RemoveMember 将目标成员移出群组。群主可移除任何人；
// 其他管理员只能移除普通成员。
func (s *groupService) RemoveMember(ctx context.Context, groupID uint, targetID, actorID string) error {
	if targetID == actorID {
		return ErrCannotRemoveSelf
	}
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	actor, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	target, err := s.groupRepo.GetMember(ctx, groupID, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("查询目标成员失败: %w", err)
	}

	isOwner := group.CreatedBy == actorID
	if !isOwner {
		if actor.Role != models.AdminRole {
			return ErrNotGroupAdmin
		}
		if targetID == group.CreatedBy {
			return ErrCannotRemoveOwner
		}
		if target.Role == models.AdminRole {
			return ErrCannotRemoveAdmin
		}
	} else if targetID == group.CreatedBy {
		return ErrCannotRemoveOwner
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		if err := txGroupRepo.RemoveMember(ctx, groupID, targetID); err != nil {
			return fmt.Errorf("移除成员失败: %w", err)
		}
		return appendSystemMessage(ctx, txMsgRepo, groupID,
			fmt.Sprintf("%s 被移出群组", s.displayName(ctx, targetID)))
	})
}

// TransferOwnership 将群主身份移交给另一名成员。仅现任群主可操作。
func (s *groupService) TransferOwnership(ctx context.Context, groupID uint, ownerID, newOwnerID string) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatedBy != ownerID {
		return ErrNotGroupOwner
	}
	if newOwnerID == ownerID {
		return nil // 移交给自己是空操作
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		txGroupRepo := storage.NewGormGroupRepository(tx)
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)

		oldOwner, err := txGroupRepo.GetMember(ctx, groupID, ownerID)
		if err != nil {
			return fmt.Errorf("查询现任群主成员记录失败: %w", err)
		}
		newOwner, err := txGroupRepo.GetMember(ctx, groupID, newOwnerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("查询新群主成员记录失败: %w", err)
		}

		oldOwner.Role = models.MemberRole
		newOwner.Role = models.AdminRole
		if err := txGroupRepo.UpdateMember(ctx, oldOwner); err != nil {
			return fmt.Errorf("降级原群主失败: %w", err)
		}
		if err := txGroupRepo.UpdateMember(ctx, newOwner); err != nil {
			return fmt.Errorf("提拔新群主失败: %w", err)
		}

		group.CreatedBy = newOwnerID
		if err := txGroupRepo.UpdateGroup(ctx, group); err != nil {
			return fmt.Errorf("更新群主字段失败: %w", err)
		}
		return appendSystemMessage(ctx, txMsgRepo, groupID,
			fmt.Sprintf("%s 成为新的群主", s.displayName(ctx, newOwnerID)))
	})
}

// PromoteMember 将普通成员提拔为管理员。仅群主可操作（管理员不能任命管理员）。
func (s *groupService) PromoteMember(ctx context.Context, groupID uint, targetID, actorID string) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatedBy != actorID {
		return ErrNotGroupOwner
	}

	target, err := s.groupRepo.GetMember(ctx, groupID, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("查询目标成员失败: %w", err)
	}
	if target.Role == models.AdminRole {
		return nil // 已是管理员，幂等
	}

	target.Role = models.AdminRole
	if err := s.groupRepo.UpdateMember(ctx, target); err != nil {
		return fmt.Errorf("提拔成员失败: %w", err)
	}
	return nil
}

// GetGroupMembers 获取群组成员列表。由操作者自己的成员记录做准入判断。
func (s *groupService) GetGroupMembers(ctx context.Context, groupID uint, actorID string) ([]models.GroupMember, error) {
	if _, err := s.requireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	members, err := s.groupRepo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("查询群组成员失败: %w", err)
	}
	return members, nil
}

// GetUserGroups 获取用户加入的所有群组。
func (s *groupService) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	groups, err := s.groupRepo.GetUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询用户群组失败: %w", err)
	}
	return groups, nil
}

func (s *groupService) getGroup(ctx context.Context, groupID uint) (*models.Group, error) {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("查询群组 %d 失败: %w", groupID, err)
	}
	return group, nil
}

func (s *groupService) requireMember(ctx context.Context, groupID uint, userID string) (*models.GroupMember, error) {
	member, err := s.groupRepo.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotGroupMember
		}
		return nil, fmt.Errorf("检查成员资格失败: %w", err)
	}
	return member, nil
}

// requireAdmin 要求操作者是群主或管理员。
func (s *groupService) requireAdmin(ctx context.Context, group *models.Group, userID string) error {
	if group.CreatedBy == userID {
		return nil
	}
	member, err := s.requireMember(ctx, group.ID, userID)
	if err != nil {
		return err
	}
	if member.Role != models.AdminRole {
		return ErrNotGroupAdmin
	}
	return nil
}

package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chatcore/internal/models"
	"chatcore/internal/storage"
)

type groupTestEnv struct {
	db        *gorm.DB
	svc       GroupService
	groupRepo storage.GroupRepository
	notifRepo storage.NotificationRepository
	msgRepo   storage.GroupMessageRepository
}

func newGroupTestEnv(t *testing.T) *groupTestEnv {
	t.Helper()
	db := newTestDB(t)
	userRepo := storage.NewGormUserRepository(db)
	connRepo := storage.NewGormConnectionRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	notifRepo := storage.NewGormNotificationRepository(db)
	msgRepo := storage.NewGormGroupMessageRepository(db)

	svc := NewGroupService(db, groupRepo, userRepo, connRepo, notifRepo, msgRepo)
	return &groupTestEnv{db: db, svc: svc, groupRepo: groupRepo, notifRepo: notifRepo, msgRepo: msgRepo}
}

func (env *groupTestEnv) seedUsers(t *testing.T) {
	t.Helper()
	mustCreateUser(t, env.db, "owner", "owner@example.com", "Owner")
	mustCreateUser(t, env.db, "member", "member@example.com", "Member")
	mustCreateUser(t, env.db, "other", "other@example.com", "Other")
}

// seedGroup 创建一个群组并按连接直接拉入指定成员。
func (env *groupTestEnv) seedGroup(t *testing.T, memberIDs ...string) *models.Group {
	t.Helper()
	ctx := context.Background()
	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)
	for _, id := range memberIDs {
		user, err := storage.NewGormUserRepository(env.db).GetByID(ctx, id)
		require.NoError(t, err)
		mustConnect(t, env.db, "owner", id)
		result, err := env.svc.AddUserToGroupWithCheck(ctx, group.ID, user.Email, "owner")
		require.NoError(t, err)
		require.True(t, result.AutoAdded)
	}
	return group
}

func (env *groupTestEnv) lastSystemMessage(t *testing.T, groupID uint) *models.GroupMessage {
	t.Helper()
	msgs, err := env.msgRepo.GetByGroupID(context.Background(), groupID, 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	require.Equal(t, models.AuthorSystem, msgs[0].AuthorKind)
	return &msgs[0]
}

func TestCreateGroup(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "Team Alpha", "工作群", "")
	require.NoError(t, err)
	assert.Equal(t, "owner", group.CreatedBy)

	// 创建者成为管理员
	member, err := env.groupRepo.GetMember(ctx, group.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.AdminRole, member.Role)

	// 创建时落一条系统消息
	msg := env.lastSystemMessage(t, group.ID)
	assert.Contains(t, msg.Content, "创建了群组")
}

func TestCreateGroupNameUniqueness(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	_, err := env.svc.CreateGroup(ctx, "owner", "Team Alpha", "", "")
	require.NoError(t, err)

	// 名称唯一性大小写不敏感
	_, err = env.svc.CreateGroup(ctx, "member", "team alpha", "", "")
	assert.ErrorIs(t, err, ErrGroupNameTaken)

	_, err = env.svc.CreateGroup(ctx, "member", "   ", "", "")
	assert.ErrorIs(t, err, ErrInvalidGroupName)
}

func TestUpdateGroupRename(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	// 普通成员不能改
	_, err := env.svc.UpdateGroup(ctx, group.ID, "member", "new name", "", "")
	assert.ErrorIs(t, err, ErrNotGroupAdmin)

	updated, err := env.svc.UpdateGroup(ctx, group.ID, "owner", "Team Beta", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Team Beta", updated.Name)

	msg := env.lastSystemMessage(t, group.ID)
	assert.Contains(t, msg.Content, "群名称由")

	// 改成其他群占用的名称被拒绝
	_, err = env.svc.CreateGroup(ctx, "owner", "taken", "", "")
	require.NoError(t, err)
	_, err = env.svc.UpdateGroup(ctx, group.ID, "owner", "TAKEN", "", "")
	assert.ErrorIs(t, err, ErrGroupNameTaken)
}

func TestAddMemberAutoAddWhenConnected(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)
	mustConnect(t, env.db, "owner", "member")

	result, err := env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	require.NoError(t, err)
	assert.True(t, result.AutoAdded)
	require.NotNil(t, result.Member)
	assert.Equal(t, models.MemberRole, result.Member.Role)

	// 自动入群：通知 mode 为 auto_added，且已有成员记录
	notifs, err := env.notifRepo.ListForUser(ctx, "member", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	var data models.GroupInviteData
	require.NoError(t, json.Unmarshal(notifs[0].Data, &data))
	assert.Equal(t, models.InviteAutoAdded, data.Mode)

	msg := env.lastSystemMessage(t, group.ID)
	assert.Contains(t, msg.Content, "加入了群组")

	// 重复添加被拒绝
	_, err = env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestAddMemberInviteWhenNotConnected(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)

	result, err := env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	require.NoError(t, err)
	assert.False(t, result.AutoAdded)

	// 未连接：只有邀请通知，没有成员记录
	_, err = env.groupRepo.GetMember(ctx, group.ID, "member")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	notifs, err := env.notifRepo.ListForUser(ctx, "member", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)

	// 重复邀请幂等，不产生第二条通知
	_, err = env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	require.NoError(t, err)
	notifs, err = env.notifRepo.ListForUser(ctx, "member", false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, notifs, 1)

	_, err = env.svc.AddUserToGroupWithCheck(ctx, group.ID, "nobody@example.com", "owner")
	assert.ErrorIs(t, err, ErrEmailNotRegistered)
}

func TestRespondToGroupInvite(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)
	_, err = env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	require.NoError(t, err)

	notifs, err := env.notifRepo.ListForUser(ctx, "member", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	inviteID := notifs[0].ID

	// 只有被邀请者能处理
	assert.ErrorIs(t, env.svc.RespondToGroupInvite(ctx, inviteID, "other", true), ErrNotInviteRecipient)

	require.NoError(t, env.svc.RespondToGroupInvite(ctx, inviteID, "member", true))

	member, err := env.groupRepo.GetMember(ctx, group.ID, "member")
	require.NoError(t, err)
	assert.Equal(t, models.MemberRole, member.Role)

	// 邀请已盖章，重复处理被拒绝
	assert.ErrorIs(t, env.svc.RespondToGroupInvite(ctx, inviteID, "member", true), ErrInviteAlreadyHandled)
}

func TestRejectGroupInvite(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)
	_, err = env.svc.AddUserToGroupWithCheck(ctx, group.ID, "member@example.com", "owner")
	require.NoError(t, err)

	notifs, err := env.notifRepo.ListForUser(ctx, "member", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)

	require.NoError(t, env.svc.RespondToGroupInvite(ctx, notifs[0].ID, "member", false))

	_, err = env.groupRepo.GetMember(ctx, group.ID, "member")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	refreshed, err := env.notifRepo.GetByID(ctx, notifs[0].ID)
	require.NoError(t, err)
	var data models.GroupInviteData
	require.NoError(t, json.Unmarshal(refreshed.Data, &data))
	assert.Equal(t, "rejected", data.Status)
	assert.True(t, refreshed.IsRead)
}

func TestLeaveGroupLastMemberDissolves(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()

	group, err := env.svc.CreateGroup(ctx, "owner", "team alpha", "", "")
	require.NoError(t, err)

	action, err := env.svc.LeaveGroup(ctx, group.ID, "owner", "")
	require.NoError(t, err)
	assert.Equal(t, LeaveActionGroupDeleted, action)

	_, err = env.svc.GetGroupDetails(ctx, group.ID, "owner")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	// 群消息也随之删除
	msgs, err := env.msgRepo.GetByGroupID(ctx, group.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLeaveGroupOwnerTransfersToSuccessor(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member", "other")

	// 群主退出并指定继任者
	action, err := env.svc.LeaveGroup(ctx, group.ID, "owner", "member")
	require.NoError(t, err)
	assert.Equal(t, LeaveActionTransferred, action)

	refreshed, err := env.groupRepo.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "member", refreshed.CreatedBy)

	successor, err := env.groupRepo.GetMember(ctx, group.ID, "member")
	require.NoError(t, err)
	assert.Equal(t, models.AdminRole, successor.Role)

	_, err = env.groupRepo.GetMember(ctx, group.ID, "owner")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestLeaveGroupOwnerAutoPromotes(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	// 未指定继任者时自动提拔剩余成员
	action, err := env.svc.LeaveGroup(ctx, group.ID, "owner", "")
	require.NoError(t, err)
	assert.Equal(t, LeaveActionTransferred, action)

	refreshed, err := env.groupRepo.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "member", refreshed.CreatedBy)
}

func TestLeaveGroupSuccessorMustBeMember(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	_, err := env.svc.LeaveGroup(ctx, group.ID, "owner", "other")
	assert.ErrorIs(t, err, ErrSuccessorNotMember)
}

func TestLeaveGroupRegularMember(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	action, err := env.svc.LeaveGroup(ctx, group.ID, "member", "")
	require.NoError(t, err)
	assert.Equal(t, LeaveActionLeft, action)

	msg := env.lastSystemMessage(t, group.ID)
	assert.Contains(t, msg.Content, "退出了群组")
}

func TestRemoveMemberPermissions(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member", "other")

	// 提拔 member 为管理员
	require.NoError(t, env.svc.PromoteMember(ctx, group.ID, "member", "owner"))

	// 普通成员不能移除别人
	assert.ErrorIs(t, env.svc.RemoveMember(ctx, group.ID, "member", "other"), ErrNotGroupAdmin)
	// 管理员不能移除群主
	assert.ErrorIs(t, env.svc.RemoveMember(ctx, group.ID, "owner", "member"), ErrCannotRemoveOwner)
	// 自己要走退出群组
	assert.ErrorIs(t, env.svc.RemoveMember(ctx, group.ID, "member", "member"), ErrCannotRemoveSelf)

	// 管理员可以移除普通成员
	require.NoError(t, env.svc.RemoveMember(ctx, group.ID, "other", "member"))
	_, err := env.groupRepo.GetMember(ctx, group.ID, "other")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	msg := env.lastSystemMessage(t, group.ID)
	assert.Contains(t, msg.Content, "被移出群组")
}

func TestRemoveMemberAdminCannotRemoveAdmin(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	mustCreateUser(t, env.db, "admin2", "admin2@example.com", "Admin2")
	ctx := context.Background()
	group := env.seedGroup(t, "member", "admin2")

	require.NoError(t, env.svc.PromoteMember(ctx, group.ID, "member", "owner"))
	require.NoError(t, env.svc.PromoteMember(ctx, group.ID, "admin2", "owner"))

	// 管理员互相移除被拒绝，群主可以
	assert.ErrorIs(t, env.svc.RemoveMember(ctx, group.ID, "admin2", "member"), ErrCannotRemoveAdmin)
	require.NoError(t, env.svc.RemoveMember(ctx, group.ID, "admin2", "owner"))
}

func TestTransferOwnership(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	// 非群主不能移交
	assert.ErrorIs(t, env.svc.TransferOwnership(ctx, group.ID, "member", "owner"), ErrNotGroupOwner)
	// 移交给非成员被拒绝
	assert.ErrorIs(t, env.svc.TransferOwnership(ctx, group.ID, "owner", "other"), ErrMemberNotFound)
	// 移交给自己是空操作
	require.NoError(t, env.svc.TransferOwnership(ctx, group.ID, "owner", "owner"))

	require.NoError(t, env.svc.TransferOwnership(ctx, group.ID, "owner", "member"))

	refreshed, err := env.groupRepo.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "member", refreshed.CreatedBy)

	// 原群主降为普通成员，新群主是管理员
	oldOwner, err := env.groupRepo.GetMember(ctx, group.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.MemberRole, oldOwner.Role)
	newOwner, err := env.groupRepo.GetMember(ctx, group.ID, "member")
	require.NoError(t, err)
	assert.Equal(t, models.AdminRole, newOwner.Role)
}

func TestPromoteMemberOwnerOnly(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member", "other")

	require.NoError(t, env.svc.PromoteMember(ctx, group.ID, "member", "owner"))

	// 管理员不能任命管理员
	assert.ErrorIs(t, env.svc.PromoteMember(ctx, group.ID, "other", "member"), ErrNotGroupOwner)

	// 重复提拔幂等
	require.NoError(t, env.svc.PromoteMember(ctx, group.ID, "member", "owner"))
}

func TestGroupReadsAreMemberGated(t *testing.T) {
	env := newGroupTestEnv(t)
	env.seedUsers(t)
	ctx := context.Background()
	group := env.seedGroup(t, "member")

	_, err := env.svc.GetGroupDetails(ctx, group.ID, "other")
	assert.ErrorIs(t, err, ErrNotGroupMember)

	_, err = env.svc.GetGroupMembers(ctx, group.ID, "other")
	assert.ErrorIs(t, err, ErrNotGroupMember)

	members, err := env.svc.GetGroupMembers(ctx, group.ID, "member")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	groups, err := env.svc.GetUserGroups(ctx, "member")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, group.ID, groups[0].ID)
}

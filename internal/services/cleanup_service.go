package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"chatcore/internal/config"
	"chatcore/internal/storage"
)

// CleanupService runs the scheduled maintenance passes: the retention sweep
// for fully-deleted direct messages and the inactive-account cleanup.
type CleanupService interface {
	// CleanupDeletedMessages hard-deletes direct messages that nobody can see
	// anymore (deleted for everyone, or by both parties) once they are older
	// than the configured sweep age. Returns the number of rows removed.
	CleanupDeletedMessages(ctx context.Context) (int64, error)
	// CleanupInactiveAccounts deletes accounts that are offline and inactive
	// beyond the configured age, cascading to everything they own. Returns the
	// number of accounts removed.
	CleanupInactiveAccounts(ctx context.Context) (int, error)
}

type cleanupService struct {
	db        *gorm.DB
	userRepo  storage.UserRepository
	dmRepo    storage.DirectMessageRepository
	groupRepo storage.GroupRepository
	groupSvc  GroupService
	retention config.RetentionConfig
}

// NewCleanupService creates a new CleanupService instance.
func NewCleanupService(
	db *gorm.DB,
	userRepo storage.UserRepository,
	dmRepo storage.DirectMessageRepository,
	groupRepo storage.GroupRepository,
	groupSvc GroupService,
	retention config.RetentionConfig,
) CleanupService {
	return &cleanupService{
		db:        db,
		userRepo:  userRepo,
		dmRepo:    dmRepo,
		groupRepo: groupRepo,
		groupSvc:  groupSvc,
		retention: retention,
	}
}

func (s *cleanupService) CleanupDeletedMessages(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention.SweepAge)
	removed, err := s.dmRepo.DeleteFullyDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}
	if removed > 0 {
		log.Printf("Retention sweep removed %d fully-deleted messages older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func (s *cleanupService) CleanupInactiveAccounts(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.retention.InactiveAccountAge)
	inactive, err := s.userRepo.ListInactiveSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list inactive accounts: %w", err)
	}

	removed := 0
	for _, user := range inactive {
		if err := s.deleteAccount(ctx, user.ID); err != nil {
			// 单个账号失败不影响本轮其余账号
			log.Printf("Error cleaning up inactive account %s: %v", user.ID, err)
			continue
		}
		log.Printf("Removed inactive account %s (last active before %s)", user.ID, cutoff.Format(time.RFC3339))
		removed++
	}
	return removed, nil
}

// deleteAccount removes one account and everything it owns. Group departures
// run through the normal leave path first so ownership hand-off and group
// dissolution rules still apply; the remaining rows go in one transaction.
func (s *cleanupService) deleteAccount(ctx context.Context, userID string) error {
	groups, err := s.groupRepo.GetUserGroups(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list groups for user %s: %w", userID, err)
	}
	for _, group := range groups {
		if _, err := s.groupSvc.LeaveGroup(ctx, group.ID, userID, ""); err != nil {
			// 群组可能在本轮中已被其他清理解散
			if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrNotGroupMember) {
				continue
			}
			return fmt.Errorf("failed to leave group %d: %w", group.ID, err)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		txUserRepo := storage.NewGormUserRepository(tx)
		txDmRepo := storage.NewGormDirectMessageRepository(tx)
		txConnRepo := storage.NewGormConnectionRepository(tx)
		txNotifRepo := storage.NewGormNotificationRepository(tx)
		txGroupMsgRepo := storage.NewGormGroupMessageRepository(tx)
		txGroupRepo := storage.NewGormGroupRepository(tx)

		if err := txDmRepo.DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := txConnRepo.DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete connections: %w", err)
		}
		if err := txNotifRepo.DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete notifications: %w", err)
		}
		if err := txGroupMsgRepo.DeleteMentionsForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete mentions: %w", err)
		}
		// 兜底：上面的退群流程失败跳过时残留的成员记录
		if err := txGroupRepo.RemoveAllMemberships(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		if err := txUserRepo.Delete(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete user row: %w", err)
		}
		return nil
	})
}

package admin

import (
	"context"
	"time"

	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
	"github.com/devco/sentinela/pkg/chatservice"
)

const syncInterval = 6 * time.Hour

// SyncLoop runs the periodic administrator sync on a fixed interval until
// ctx is cancelled. configuredIDs is the ADMIN_USER_IDS bootstrap list.
func (s *Service) SyncLoop(ctx context.Context, configuredIDs []int64) {
	if err := s.SyncAdministrators(ctx, configuredIDs); err != nil {
		s.logger.Error("initial administrator sync failed", "error", err)
	}
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncAdministrators(ctx, configuredIDs); err != nil {
				s.logger.Error("administrator sync failed", "error", err)
			}
		}
	}
}

// SyncAdministrators reconciles the administrator cache: effective admin
// set is chat-server-detected admins UNION configuredIDs. Divergence
// between the two sources is logged at warn rather than silently dropped.
func (s *Service) SyncAdministrators(ctx context.Context, configuredIDs []int64) error {
	var detected []chatservice.Member
	if s.chat != nil && s.groupChatID != 0 {
		var err error
		detected, err = s.chat.GetChatAdministrators(ctx, s.groupChatID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	detectedIDs := make(map[valueobjects.ChatUserId]bool, len(detected))
	merged := make([]repository.Admin, 0, len(detected)+len(configuredIDs))
	for _, m := range detected {
		id := valueobjects.ChatUserId(m.UserID)
		detectedIDs[id] = true
		merged = append(merged, repository.Admin{
			ChatUserID: id,
			Username:   m.Username,
			FirstName:  m.FirstName,
			LastName:   m.LastName,
			Status:     m.Status,
			DetectedAt: now,
		})
	}

	var onlyConfigured []valueobjects.ChatUserId
	for _, rawID := range configuredIDs {
		id := valueobjects.ChatUserId(rawID)
		if detectedIDs[id] {
			continue
		}
		onlyConfigured = append(onlyConfigured, id)
		merged = append(merged, repository.Admin{
			ChatUserID: id,
			Status:     "configured",
			DetectedAt: now,
		})
	}
	if len(onlyConfigured) > 0 {
		s.logger.Warn("admin ids configured but not chat-server-detected",
			"ids", onlyConfigured, "group_chat_id", s.groupChatID)
	}
	configuredSet := make(map[valueobjects.ChatUserId]bool, len(configuredIDs))
	for _, rawID := range configuredIDs {
		configuredSet[valueobjects.ChatUserId(rawID)] = true
	}
	var onlyDetected []valueobjects.ChatUserId
	for _, m := range detected {
		if id := valueobjects.ChatUserId(m.UserID); !configuredSet[id] {
			onlyDetected = append(onlyDetected, id)
		}
	}
	if len(onlyDetected) > 0 {
		s.logger.Warn("admin ids chat-server-detected but not configured",
			"ids", onlyDetected, "group_chat_id", s.groupChatID)
	}

	previous, err := s.admins.List(ctx)
	if err != nil {
		return err
	}
	previousIDs := make(map[valueobjects.ChatUserId]bool, len(previous))
	for _, a := range previous {
		previousIDs[a.ChatUserID] = true
	}

	if err := s.admins.ReplaceAll(ctx, merged); err != nil {
		return err
	}

	var newAdmins int
	var removed []valueobjects.ChatUserId
	currentIDs := make(map[valueobjects.ChatUserId]bool, len(merged))
	for _, a := range merged {
		currentIDs[a.ChatUserID] = true
		if !previousIDs[a.ChatUserID] {
			newAdmins++
		}
	}
	for id := range previousIDs {
		if !currentIDs[id] {
			removed = append(removed, id)
		}
	}

	s.bus.Publish(events.AdminSyncCompleted{
		TotalAdmins: len(merged), NewAdmins: newAdmins, RemovedIDs: removed, SyncedAt: now,
	})
	s.logger.Info("administrator sync completed",
		"total", len(merged), "new", newAdmins, "removed", len(removed))
	return nil
}

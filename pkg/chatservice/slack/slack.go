// Package slack implements pkg/chatservice.Service over
// github.com/slack-go/slack. internal/app wires it as the chat service
// whenever a chat token is configured.
package slack

import (
	"context"
	"fmt"
	"strconv"

	goslack "github.com/slack-go/slack"

	"github.com/devco/sentinela/pkg/chatservice"
)

// Client adapts a *goslack.Client to chatservice.Service.
type Client struct {
	api *goslack.Client
}

// New wraps token in a chatservice.Service.
func New(token string) *Client {
	return &Client{api: goslack.New(token)}
}

func chatID(id int64) string { return strconv.FormatInt(id, 10) }

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard chatservice.Keyboard, threadID *int64) (int64, error) {
	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if threadID != nil {
		opts = append(opts, goslack.MsgOptionTS(strconv.FormatInt(*threadID, 10)))
	}
	if blocks, ok := keyboard.([]goslack.Block); ok && len(blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(blocks...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, formatChatID(chatID), opts...)
	if err != nil {
		return 0, fmt.Errorf("sending slack message: %w", err)
	}
	return parseTimestamp(ts), nil
}

func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string, keyboard chatservice.Keyboard) error {
	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if blocks, ok := keyboard.([]goslack.Block); ok && len(blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(blocks...))
	}
	_, _, _, err := c.api.UpdateMessageContext(ctx, formatChatID(chatID), strconv.FormatInt(messageID, 10), opts...)
	if err != nil {
		return fmt.Errorf("editing slack message: %w", err)
	}
	return nil
}

func (c *Client) CreateChatInviteLink(ctx context.Context, chatID int64, memberLimit int, name string) (string, error) {
	channel, err := c.api.GetConversationInfoContext(ctx, &goslack.GetConversationInfoInput{ChannelID: formatChatID(chatID)})
	if err != nil {
		return "", fmt.Errorf("resolving slack channel for invite link: %w", err)
	}
	return fmt.Sprintf("https://slack.com/app_redirect?channel=%s", channel.ID), nil
}

func (c *Client) BanChatMember(ctx context.Context, chatID, userID int64) error {
	err := c.api.KickUserFromConversationContext(ctx, formatChatID(chatID), formatChatID(userID))
	if err != nil {
		return fmt.Errorf("removing slack user from channel: %w", err)
	}
	return nil
}

func (c *Client) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.api.InviteUsersToConversationContext(ctx, formatChatID(chatID), formatChatID(userID))
	if err != nil {
		return fmt.Errorf("re-inviting slack user to channel: %w", err)
	}
	return nil
}

func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]chatservice.Member, error) {
	members, _, err := c.api.GetUsersInConversationContext(ctx, &goslack.GetUsersInConversationParameters{ChannelID: formatChatID(chatID)})
	if err != nil {
		return nil, fmt.Errorf("listing slack channel members: %w", err)
	}

	var admins []chatservice.Member
	for _, memberID := range members {
		user, err := c.api.GetUserInfoContext(ctx, memberID)
		if err != nil {
			continue
		}
		if !user.IsAdmin && !user.IsOwner {
			continue
		}
		admins = append(admins, chatservice.Member{
			UserID:    parseTimestamp(memberID),
			Username:  user.Name,
			FirstName: user.Profile.FirstName,
			LastName:  user.Profile.LastName,
			Status:    adminStatus(user),
		})
	}
	return admins, nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (chatservice.Member, error) {
	user, err := c.api.GetUserInfoContext(ctx, formatChatID(userID))
	if err != nil {
		return chatservice.Member{}, fmt.Errorf("fetching slack user info: %w", err)
	}
	return chatservice.Member{
		UserID:    userID,
		Username:  user.Name,
		FirstName: user.Profile.FirstName,
		LastName:  user.Profile.LastName,
		Status:    adminStatus(user),
	}, nil
}

func adminStatus(user *goslack.User) string {
	if user.IsOwner {
		return "owner"
	}
	if user.IsAdmin {
		return "administrator"
	}
	return "member"
}

func formatChatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseTimestamp(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

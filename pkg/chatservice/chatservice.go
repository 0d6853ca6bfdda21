// Package chatservice defines the presentation adapter's contract: the
// only capabilities the core use cases are allowed to reach for. No use
// case imports a concrete chat transport directly.
package chatservice

import "context"

// Keyboard is an opaque, transport-specific inline keyboard payload built
// by the presentation adapter; the core never inspects its shape.
type Keyboard any

// Member is one entry returned by GetChatAdministrators.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Status    string // owner | administrator | member | left | kicked
}

// Service is the chat platform capability surface the core depends on.
// Concrete bindings (e.g. pkg/chatservice/slack) implement this once per
// transport; the production transport is an external collaborator.
type Service interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard Keyboard, threadID *int64) (messageID int64, err error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, keyboard Keyboard) error
	CreateChatInviteLink(ctx context.Context, chatID int64, memberLimit int, name string) (inviteURL string, err error)
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	GetChatAdministrators(ctx context.Context, chatID int64) ([]Member, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (Member, error)
}

// Package transport defines the chat-platform contract used by the command
// router, the reminder engine and the log alert sink.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the minimum every chat platform provides.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// The interfaces below are optional addressing forms. The reminder engine
// checks an adapter for them and builds one delivery strategy per form found.

// RecipientSender addresses a chat by its string recipient id.
type RecipientSender interface {
	SendToRecipient(ctx context.Context, recipient string, text string) error
}

// UserSender addresses a private chat through the user object.
type UserSender interface {
	SendToUser(ctx context.Context, userID int64, text string) error
}

// PlainSender sends with no options at all (no parse mode, no thread, no splitting).
type PlainSender interface {
	SendPlain(ctx context.Context, chatID int64, text string) error
}

// RawCaller exposes the underlying bot API client.
type RawCaller interface {
	Raw(ctx context.Context, method string, params map[string]string) ([]byte, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

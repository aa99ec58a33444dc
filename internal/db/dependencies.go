package db

import (
	"context"
)

// Client is the persistence boundary of the relay. Values travel as opaque
// JSON blobs in a scoped key-value table plus a dedicated post-to-user map.
type Client interface {
	Close() error

	// Session scope. GetSession returns ErrNotFound for unknown users.
	GetSession(ctx context.Context, userID int64) (*UserSession, error)
	PutSession(ctx context.Context, session *UserSession) error

	// Chat-config scope.
	GetChatConfig(ctx context.Context, chatID int64) (*ChatConfig, error)
	PutChatConfig(ctx context.Context, config *ChatConfig) error
	DeleteChatConfig(ctx context.Context, chatID int64) error
	ChatIDs(ctx context.Context) ([]int64, error)
	CountChats(ctx context.Context) (int, error)

	// Post-mapping store. Upsert is idempotent, last writer wins.
	UpsertPostUser(ctx context.Context, postID int, userID int64) error
	LookupPostUser(ctx context.Context, postID int) (int64, error)

	// SearchSessionsByPost is the slow last-resort lookup over session blobs;
	// implementations must bound the scanned result set by limit.
	SearchSessionsByPost(ctx context.Context, postID int, limit int) ([]*UserSession, error)
}

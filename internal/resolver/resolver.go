package resolver

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/codec"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/internal/observability"
)

const (
	// maxReplyDepth bounds the walk up the reply chain.
	maxReplyDepth = 25
	// searchLimit bounds the last-resort session scan.
	searchLimit = 5
)

// ErrUnresolved means no route back to an author exists for the message.
// Callers log and drop; resolution failures are never user-visible.
var ErrUnresolved = errors.New("post author unresolved")

type postStore interface {
	LookupPostUser(ctx context.Context, postID int) (int64, error)
	SearchSessionsByPost(ctx context.Context, postID int, limit int) ([]*db.UserSession, error)
}

// Resolver recovers the author of a broadcast post from a discussion-chat
// message. The reply-chain header is authoritative and storage-free; the
// layered fallbacks trade accuracy for availability when the header is out
// of reach.
type Resolver struct {
	store    postStore
	posts    *cache.TTL[int, int64]
	remember *cache.TTL[int, int64]
	logger   *log.Entry
}

func New(store postStore, posts, remember *cache.TTL[int, int64]) *Resolver {
	return &Resolver{
		store:    store,
		posts:    posts,
		remember: remember,
		logger:   log.WithField("context", "resolver"),
	}
}

// Remember records a fresh postID to userID pair at broadcast time so that
// early comments resolve without touching the store.
func (r *Resolver) Remember(postID int, userID int64) {
	r.remember.Put(postID, userID)
	r.posts.Put(postID, userID)
}

// Resolve returns the author and post id for a discussion-chat message.
func (r *Resolver) Resolve(ctx context.Context, msg *api.Message) (int64, int, error) {
	if msg == nil {
		return 0, 0, ErrUnresolved
	}

	if userID, postID, ok := r.resolveViaHeader(msg); ok {
		observability.RecordResolution("header")
		return userID, postID, nil
	}

	postID := msg.MessageThreadID
	if postID == 0 {
		observability.RecordResolution("miss")
		return 0, 0, ErrUnresolved
	}

	if userID, err := r.remember.Get(ctx, postID); err == nil {
		observability.RecordResolution("cache")
		return userID, postID, nil
	}

	if userID, err := r.posts.Get(ctx, postID); err == nil {
		observability.RecordResolution("store")
		r.remember.Put(postID, userID)
		return userID, postID, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		r.logger.WithError(err).WithField("post_id", postID).Warn("post map lookup failed")
	}

	sessions, err := r.store.SearchSessionsByPost(ctx, postID, searchLimit)
	if err != nil {
		r.logger.WithError(err).WithField("post_id", postID).Warn("session search failed")
		observability.RecordResolution("miss")
		return 0, 0, ErrUnresolved
	}
	if len(sessions) > 0 {
		userID := sessions[0].ID
		observability.RecordResolution("search")
		r.Remember(postID, userID)
		return userID, postID, nil
	}

	observability.RecordResolution("miss")
	return 0, 0, ErrUnresolved
}

// resolveViaHeader walks the reply chain looking for a message that still
// carries its identity header.
func (r *Resolver) resolveViaHeader(msg *api.Message) (int64, int, bool) {
	cur := msg
	for depth := 0; cur != nil && depth < maxReplyDepth; depth++ {
		text := cur.Text
		if text == "" {
			text = cur.Caption
		}
		if userID, postID, err := codec.ParseHeader(text); err == nil {
			return userID, postID, true
		}
		cur = cur.ReplyToMessage
	}
	return 0, 0, false
}

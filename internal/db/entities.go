package db

import (
	"time"
)

type (
	// UserSession is the per-user state blob. Created lazily with defaults on
	// first interaction and never deleted; banned users are soft-banned.
	UserSession struct {
		ID int64 `json:"-"`

		// ConfessionTime is the unix-milli timestamp of the last accepted
		// submission. Zero means the user never submitted.
		ConfessionTime int64 `json:"confession_time"`
		// Confessions lists the user's published posts, most recent first.
		Confessions []ConfessionRef `json:"confessions"`
		IsBanned    bool            `json:"is_banned"`
		// FreeConfessions is the bonus-credit balance that bypasses cooldown.
		FreeConfessions int `json:"free_confessions"`
		// RefBy is the referrer that granted the first bonus credit, 0 if none.
		RefBy int64 `json:"refby,omitempty"`
	}

	ConfessionRef struct {
		ID int `json:"id"`
	}

	// ChatConfig is the per-chat state blob for every chat the bot has seen.
	ChatConfig struct {
		ID int64 `json:"-"`

		// IsLogged flips true once the chat's metadata has been reported to
		// the log chat.
		IsLogged bool `json:"is_logged"`
		// ThreadID is the forum topic broadcasts are delivered into, 0 = root.
		ThreadID int `json:"thread_id,omitempty"`
		// NextLogTryAt gates metadata-log retries after a rate-limit failure,
		// unix-milli.
		NextLogTryAt int64 `json:"next_log_try_at,omitempty"`
	}
)

// NewUserSession returns the default session for a user that has not been
// seen before.
func NewUserSession(userID int64) *UserSession {
	return &UserSession{ID: userID, Confessions: []ConfessionRef{}}
}

// LastConfessionAt converts the stored unix-milli stamp.
func (s *UserSession) LastConfessionAt() time.Time {
	if s.ConfessionTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ConfessionTime)
}

// PushConfession prepends a published post id, most recent first.
func (s *UserSession) PushConfession(postID int) {
	s.Confessions = append([]ConfessionRef{{ID: postID}}, s.Confessions...)
}

// HasConfession reports whether the user authored the given post.
func (s *UserSession) HasConfession(postID int) bool {
	for _, ref := range s.Confessions {
		if ref.ID == postID {
			return true
		}
	}
	return false
}

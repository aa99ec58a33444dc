package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
)

type sessionStore interface {
	GetSession(ctx context.Context, userID int64) (*db.UserSession, error)
	PutSession(ctx context.Context, session *db.UserSession) error
}

// SessionService is the read-modify-write surface over user sessions. The
// cache is a convenience only; the store stays the source of truth, so every
// write invalidates rather than refreshes.
type SessionService struct {
	store sessionStore
	cache *cache.TTL[int64, *db.UserSession]
}

func NewSessionService(store sessionStore, c *cache.TTL[int64, *db.UserSession]) *SessionService {
	return &SessionService{store: store, cache: c}
}

// SessionLoader adapts the store for the session cache: unknown users get a
// default session that is not persisted until their first real mutation.
func SessionLoader(store sessionStore) cache.Loader[int64, *db.UserSession] {
	return func(ctx context.Context, userID int64) (*db.UserSession, error) {
		session, err := store.GetSession(ctx, userID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return db.NewUserSession(userID), nil
		}
		return session, err
	}
}

// Get returns a private copy of the session. Callers mutate freely and
// persist through Save; the cached value is never handed out directly.
func (s *SessionService) Get(ctx context.Context, userID int64) (*db.UserSession, error) {
	session, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	copied := *session
	copied.Confessions = append([]db.ConfessionRef(nil), session.Confessions...)
	return &copied, nil
}

func (s *SessionService) Save(ctx context.Context, session *db.UserSession) error {
	if err := s.store.PutSession(ctx, session); err != nil {
		return err
	}
	s.cache.Invalidate(session.ID)
	return nil
}

// Grant adds bonus credits to a user, creating the session if needed.
func (s *SessionService) Grant(ctx context.Context, userID int64, credits int) error {
	if credits <= 0 {
		return apperrors.ErrInvalidInput
	}
	session, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	session.FreeConfessions += credits
	return s.Save(ctx, session)
}

// SetBanned flips the soft-ban flag.
func (s *SessionService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	session, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	session.IsBanned = banned
	return s.Save(ctx, session)
}

// Referral grants one bonus credit to both sides of a referral, exactly once
// per referee. The referrer must already have a session (a stranger id is
// rejected) and self-referrals are refused.
func (s *SessionService) Referral(ctx context.Context, referrerID, refereeID int64) error {
	if referrerID == refereeID {
		return apperrors.ErrInvalidInput
	}

	referee, err := s.Get(ctx, refereeID)
	if err != nil {
		return err
	}
	if referee.RefBy != 0 {
		return apperrors.ErrInvalidInput
	}

	referrer, err := s.store.GetSession(ctx, referrerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound
		}
		return err
	}

	referee.RefBy = referrerID
	referee.FreeConfessions++
	if err := s.Save(ctx, referee); err != nil {
		return err
	}

	referrer.FreeConfessions++
	return s.Save(ctx, referrer)
}

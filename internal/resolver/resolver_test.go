package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/undertone/confessbot/internal/cache"
	"github.com/undertone/confessbot/internal/codec"
	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
)

type fakeStore struct {
	lookups  atomic.Int32
	searches atomic.Int32
	mapping  map[int]int64
	sessions []*db.UserSession
}

func (f *fakeStore) LookupPostUser(ctx context.Context, postID int) (int64, error) {
	f.lookups.Add(1)
	if userID, ok := f.mapping[postID]; ok {
		return userID, nil
	}
	return 0, apperrors.ErrNotFound
}

func (f *fakeStore) SearchSessionsByPost(ctx context.Context, postID int, limit int) ([]*db.UserSession, error) {
	f.searches.Add(1)
	found := make([]*db.UserSession, 0, 1)
	for _, s := range f.sessions {
		if s.HasConfession(postID) && len(found) < limit {
			found = append(found, s)
		}
	}
	return found, nil
}

func newTestResolver(store *fakeStore) *Resolver {
	posts := cache.NewTTL("post_user_test", 10*time.Minute, func(ctx context.Context, postID int) (int64, error) {
		return store.LookupPostUser(ctx, postID)
	})
	remember := cache.NewTTL[int, int64]("remember_test", 24*time.Hour, nil)
	return New(store, posts, remember)
}

func replyChain(depth int, deepestText string) *api.Message {
	deepest := &api.Message{Text: deepestText}
	cur := deepest
	for i := 0; i < depth; i++ {
		cur = &api.Message{Text: "reply level", ReplyToMessage: cur}
	}
	return cur
}

func TestResolveViaReplyChainHeader(t *testing.T) {
	t.Parallel()

	const userID = int64(424242)
	store := &fakeStore{}
	r := newTestResolver(store)

	msg := replyChain(3, codec.FormatHeader(userID, 77)+"\n\nconfession body")
	gotUser, gotPost, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotUser != userID || gotPost != 77 {
		t.Fatalf("resolved (%d, %d), want (%d, 77)", gotUser, gotPost, userID)
	}
	if store.lookups.Load() != 0 || store.searches.Load() != 0 {
		t.Fatalf("header path must not touch the store: %d lookups, %d searches",
			store.lookups.Load(), store.searches.Load())
	}
}

func TestResolveViaThreadAndPersistentMap(t *testing.T) {
	t.Parallel()

	store := &fakeStore{mapping: map[int]int64{88: 515151}}
	r := newTestResolver(store)

	msg := &api.Message{Text: "no header anywhere", MessageThreadID: 88}
	gotUser, gotPost, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotUser != 515151 || gotPost != 88 {
		t.Fatalf("resolved (%d, %d), want (515151, 88)", gotUser, gotPost)
	}

	// A second resolution is served from memory.
	if _, _, err := r.Resolve(context.Background(), msg); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if store.lookups.Load() != 1 {
		t.Fatalf("expected a single store lookup, got %d", store.lookups.Load())
	}
}

func TestResolveViaSessionSearch(t *testing.T) {
	t.Parallel()

	author := db.NewUserSession(616161)
	author.PushConfession(99)
	store := &fakeStore{sessions: []*db.UserSession{author}}
	r := newTestResolver(store)

	msg := &api.Message{Text: "plain comment", MessageThreadID: 99}
	gotUser, _, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotUser != 616161 {
		t.Fatalf("resolved user %d, want 616161", gotUser)
	}
	if store.searches.Load() != 1 {
		t.Fatalf("expected one search, got %d", store.searches.Load())
	}
}

func TestResolveMissIsAnErrorNotAPanic(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestResolver(store)

	cases := []*api.Message{
		nil,
		{Text: "no header, no thread"},
		{Text: "no header", MessageThreadID: 123},
	}
	for _, msg := range cases {
		if _, _, err := r.Resolve(context.Background(), msg); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("expected ErrUnresolved, got %v", err)
		}
	}
}

func TestRememberShortCircuitsStore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestResolver(store)
	r.Remember(55, 717171)

	msg := &api.Message{Text: "comment", MessageThreadID: 55}
	gotUser, _, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotUser != 717171 {
		t.Fatalf("resolved %d, want 717171", gotUser)
	}
	if store.lookups.Load() != 0 {
		t.Fatalf("remember cache should bypass the store")
	}
}

func TestReplyChainDepthIsBounded(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestResolver(store)

	// Header sits below the depth bound; resolution must not find it.
	msg := replyChain(30, codec.FormatHeader(424242, 77))
	if _, _, err := r.Resolve(context.Background(), msg); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved beyond depth bound, got %v", err)
	}
}

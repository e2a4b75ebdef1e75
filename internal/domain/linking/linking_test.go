package linking

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

type session struct{ id string }

func (s session) ID() string                                { return s.id }
func (s session) Email() string                             { return "" }
func (s session) Token(ctx context.Context) (string, error) { return "t", nil }

// fakeAPI keeps linked records per legacy session like the real service.
type fakeAPI struct {
	mu      sync.Mutex
	records map[string][]auth.LinkedAccount
	calls   int
	block   chan struct{}
	// blockOnly limits block to one legacy session when set
	blockOnly string
	linkErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string][]auth.LinkedAccount)}
}

func (f *fakeAPI) ListLinked(ctx context.Context, s auth.LegacySession) ([]auth.LinkedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]auth.LinkedAccount(nil), f.records[s.ID()]...), nil
}

func (f *fakeAPI) Link(ctx context.Context, s auth.LegacySession, keyID auth.KeyID) error {
	if f.block != nil && (f.blockOnly == "" || f.blockOnly == s.ID()) {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.linkErr != nil {
		return f.linkErr
	}
	for _, acct := range f.records[s.ID()] {
		if acct.KeyID == keyID {
			return errors.NewConflictError("already linked")
		}
	}
	f.records[s.ID()] = append(f.records[s.ID()], auth.LinkedAccount{KeyID: keyID})
	return nil
}

func (f *fakeAPI) Unlink(ctx context.Context, s auth.LegacySession, keyID auth.KeyID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var kept []auth.LinkedAccount
	for _, acct := range f.records[s.ID()] {
		if acct.KeyID != keyID {
			kept = append(kept, acct)
		}
	}
	f.records[s.ID()] = kept
	return nil
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, sessionID)
}

func key(c string) string { return strings.Repeat(c, 64) }

func TestLinkRejectsMalformedKeyBeforeNetwork(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, nil, nil)

	for _, raw := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 63)} {
		err := svc.Link(context.Background(), session{id: "s1"}, raw)
		assert.Equal(t, errors.KindValidation, errors.KindOf(err), raw)
	}
	assert.Zero(t, api.calls)
}

func TestLinkNormalisesKey(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, nil, nil)

	require.NoError(t, svc.Link(context.Background(), session{id: "s1"}, "  "+strings.ToUpper(key("b"))+" "))
	assert.Equal(t, auth.KeyID(key("b")), api.records["s1"][0].KeyID)
}

func TestLinkTwiceIsDuplicate(t *testing.T) {
	api := newFakeAPI()
	cache := &recordingCache{}
	svc := NewService(api, cache, nil)
	ctx := context.Background()

	require.NoError(t, svc.Link(ctx, session{id: "s1"}, key("a")))
	err := svc.Link(ctx, session{id: "s1"}, key("a"))

	require.Error(t, err)
	assert.Equal(t, errors.KindDuplicateLink, errors.KindOf(err))
	assert.True(t, errors.IsWarning(err))
	assert.Len(t, api.records["s1"], 1)
	assert.Equal(t, []string{"s1"}, cache.invalidated)
}

func TestLinkSuccessNotifiesSubscribers(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, &recordingCache{}, nil)

	var got []Event
	cancel := svc.Subscribe(func(e Event) { got = append(got, e) })

	require.NoError(t, svc.Link(context.Background(), session{id: "s1"}, key("a")))
	cancel()
	require.NoError(t, svc.Link(context.Background(), session{id: "s1"}, key("b")))

	require.Len(t, got, 1)
	assert.Equal(t, Event{Type: EventLinked, SessionID: "s1", KeyID: auth.KeyID(key("a"))}, got[0])
}

func TestLinkWithoutSessionIsExpired(t *testing.T) {
	svc := NewService(newFakeAPI(), nil, nil)
	err := svc.Link(context.Background(), nil, key("a"))
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestLinkFailureDoesNotInvalidate(t *testing.T) {
	api := newFakeAPI()
	api.linkErr = errors.NewNetworkError("link", nil)
	cache := &recordingCache{}
	svc := NewService(api, cache, nil)

	err := svc.Link(context.Background(), session{id: "s1"}, key("a"))
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
	assert.Empty(t, cache.invalidated)
}

func TestSecondOperationWhileInFlightFails(t *testing.T) {
	api := newFakeAPI()
	api.block = make(chan struct{})
	svc := NewService(api, nil, nil)

	done := make(chan error)
	go func() { done <- svc.Link(context.Background(), session{id: "s1"}, key("a")) }()

	// wait until the first call holds the guard
	require.Eventually(t, func() bool { return svc.pending("s1") }, time.Second, time.Millisecond)

	err := svc.Link(context.Background(), session{id: "s1"}, key("b"))
	assert.Equal(t, errors.KindInProgress, errors.KindOf(err))
	err = svc.Unlink(context.Background(), session{id: "s1"}, key("a"))
	assert.Equal(t, errors.KindInProgress, errors.KindOf(err))

	close(api.block)
	require.NoError(t, <-done)
	assert.False(t, svc.pending("s1"))
}

func TestOperationsOnDifferentSessionsDoNotCollide(t *testing.T) {
	api := newFakeAPI()
	api.block = make(chan struct{})
	api.blockOnly = "alice"
	svc := NewService(api, nil, nil)

	done := make(chan error)
	go func() { done <- svc.Link(context.Background(), session{id: "alice"}, key("a")) }()
	require.Eventually(t, func() bool { return svc.pending("alice") }, time.Second, time.Millisecond)

	require.NoError(t, svc.Link(context.Background(), session{id: "bob"}, key("b")))
	assert.False(t, svc.pending("bob"))

	close(api.block)
	require.NoError(t, <-done)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.records["alice"], 1)
	assert.Len(t, api.records["bob"], 1)
}

func TestUnlinkLastAccountIsGuarded(t *testing.T) {
	api := newFakeAPI()
	api.records["s1"] = []auth.LinkedAccount{{KeyID: auth.KeyID(key("a"))}}
	cache := &recordingCache{}
	svc := NewService(api, cache, nil)

	err := svc.Unlink(context.Background(), session{id: "s1"}, key("a"))

	assert.Equal(t, errors.KindLastAccountGuard, errors.KindOf(err))
	assert.Len(t, api.records["s1"], 1)
	assert.Empty(t, cache.invalidated)
}

func TestUnlinkSolePrimaryIsGuarded(t *testing.T) {
	api := newFakeAPI()
	api.records["s1"] = []auth.LinkedAccount{
		{KeyID: auth.KeyID(key("a")), IsPrimary: true},
		{KeyID: auth.KeyID(key("b"))},
	}
	svc := NewService(api, nil, nil)

	err := svc.Unlink(context.Background(), session{id: "s1"}, key("a"))
	assert.Equal(t, errors.KindLastAccountGuard, errors.KindOf(err))
	assert.Len(t, api.records["s1"], 2)
}

func TestUnlinkSecondaryAccount(t *testing.T) {
	api := newFakeAPI()
	api.records["s1"] = []auth.LinkedAccount{
		{KeyID: auth.KeyID(key("a")), IsPrimary: true},
		{KeyID: auth.KeyID(key("b"))},
	}
	cache := &recordingCache{}
	svc := NewService(api, cache, nil)
	var got []Event
	svc.Subscribe(func(e Event) { got = append(got, e) })

	require.NoError(t, svc.Unlink(context.Background(), session{id: "s1"}, key("b")))

	assert.Equal(t, []auth.LinkedAccount{{KeyID: auth.KeyID(key("a")), IsPrimary: true}}, api.records["s1"])
	assert.Equal(t, []string{"s1"}, cache.invalidated)
	require.Len(t, got, 1)
	assert.Equal(t, EventUnlinked, got[0].Type)
}

func TestUnlinkUnknownKey(t *testing.T) {
	api := newFakeAPI()
	api.records["s1"] = []auth.LinkedAccount{{KeyID: auth.KeyID(key("a"))}, {KeyID: auth.KeyID(key("b"))}}
	svc := NewService(api, nil, nil)

	err := svc.Unlink(context.Background(), session{id: "s1"}, key("c"))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

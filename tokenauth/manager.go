// Package tokenauth implements the OAuth token lifecycle: obtaining a
// currently-valid access token for a user, refreshing it ahead of expiry,
// and serializing concurrent refreshes for the same user so a burst of
// tasks doesn't trigger duplicate refresh RPCs.
package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fenrick/MiroDiagramming/tokenauth/sealer"
	"github.com/fenrick/MiroDiagramming/upstream"
)

// RefreshMargin is how far ahead of expiry a token is proactively
// refreshed.
const RefreshMargin = 30 * time.Second

var (
	// ErrUserNotFound indicates GetValidAccessToken was called for a user
	// with no stored tokens (never completed OAuth).
	ErrUserNotFound = errors.New("tokenauth: user not found")
)

// Store is the persistence contract for User records.
type Store interface {
	Get(ctx context.Context, userID string) (*User, error)
	Put(ctx context.Context, u *User) error
}

// Refresher performs the OAuth RPCs. upstream.Client satisfies this.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*upstream.TokenResponse, error)
}

// Manager resolves a valid access token for a user, refreshing it when
// within RefreshMargin of expiry. There is no call that forces a refresh.
type Manager struct {
	store     Store
	refresher Refresher
	sealer    *sealer.Sealer

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu  sync.Mutex
	ref int
}

func NewManager(store Store, refresher Refresher, s *sealer.Sealer) *Manager {
	return &Manager{
		store:     store,
		refresher: refresher,
		sealer:    s,
		locks:     make(map[string]*userLock),
	}
}

func (m *Manager) acquireLock(userID string) *userLock {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.ref++
	m.mu.Unlock()
	l.mu.Lock()
	return l
}

func (m *Manager) releaseLock(userID string, l *userLock) {
	l.mu.Unlock()
	m.mu.Lock()
	l.ref--
	if l.ref == 0 {
		delete(m.locks, userID)
	}
	m.mu.Unlock()
}

// GetValidAccessToken returns a currently-valid plaintext access token for
// userID, refreshing it first if it expires within RefreshMargin.
// Concurrent calls for the same user serialize on a per-user lock so only
// one refresh RPC is ever in flight; the second-and-later callers observe
// the token the first refresh produced rather than refreshing again.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	l := m.acquireLock(userID)
	defer m.releaseLock(userID, l)

	u, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	if time.Until(u.ExpiresAt) > RefreshMargin {
		return m.sealer.Open(u.SealedAccessToken)
	}

	refreshToken, err := m.sealer.Open(u.SealedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("tokenauth: opening refresh token for %s: %w", userID, err)
	}
	resp, err := m.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	sealedAccess, err := m.sealer.Seal(resp.AccessToken)
	if err != nil {
		return "", err
	}
	sealedRefresh := u.SealedRefreshToken
	if resp.RefreshToken != "" {
		sealedRefresh, err = m.sealer.Seal(resp.RefreshToken)
		if err != nil {
			return "", err
		}
	}
	u.SealedAccessToken = sealedAccess
	u.SealedRefreshToken = sealedRefresh
	u.ExpiresAt = time.Now().Add(resp.ExpiresIn)
	u.UpdatedAt = time.Now()
	if err := m.store.Put(ctx, u); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

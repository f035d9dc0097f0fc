package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/api"
	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
)

// State is the locally persisted session: the token plus the last known account view.
type State struct {
	Token    string           `json:"token"`
	User     api.UserResponse `json:"user"`
	SyncedAt time.Time        `json:"syncedAt"`
}

// Mirror keeps a read model of the server-side account. Action responses are folded in
// immediately; Refresh and Watch replace it with the server's view.
type Mirror struct {
	client *Client
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state State
}

// NewMirror loads the state file at path if it exists. An empty path disables persistence.
func NewMirror(c *Client, path string, logger *slog.Logger) (*Mirror, error) {
	const op = "client.NewMirror"

	m := &Mirror{client: c, path: path, logger: logger}
	if path == "" {
		return m, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, &m.state); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.state.Token != "" && c.Token() == "" {
		c.SetToken(m.state.Token)
	}
	return m, nil
}

func (m *Mirror) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SignedIn records a fresh session.
func (m *Mirror) SignedIn(resp *api.AuthResponse) error {
	m.mu.Lock()
	m.state = State{Token: resp.Token, User: resp.User, SyncedAt: time.Now()}
	m.mu.Unlock()
	return m.save()
}

func (m *Mirror) SignedOut() error {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()
	return m.save()
}

// Refresh replaces the mirror with the server's current view of the account.
func (m *Mirror) Refresh(ctx context.Context) error {
	user, err := m.client.Me(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state.User = *user
	m.state.SyncedAt = time.Now()
	m.mu.Unlock()
	return m.save()
}

// Watch refreshes every interval until ctx is done. Failed refreshes are logged and retried on the next tick.
func (m *Mirror) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("Refresh failed", "error", err)
			}
		}
	}
}

// ApplyAction folds a deposit, withdrawal or tip response into the mirror.
func (m *Mirror) ApplyAction(resp *api.ActionResponse) error {
	m.mu.Lock()
	m.apply(resp)
	m.mu.Unlock()
	return m.save()
}

func (m *Mirror) ApplySubscription(resp *api.SubscribeResponse) error {
	m.mu.Lock()
	m.apply(&resp.ActionResponse)
	subs := m.state.User.Subscriptions[:0:0]
	for _, s := range m.state.User.Subscriptions {
		if s.CreatorID != resp.Subscription.CreatorID {
			subs = append(subs, s)
		}
	}
	m.state.User.Subscriptions = append(subs, resp.Subscription)
	m.mu.Unlock()
	return m.save()
}

func (m *Mirror) ApplyPurchase(resp *api.BuyNftResponse) error {
	m.mu.Lock()
	m.apply(&resp.ActionResponse)
	if !m.owns(resp.Nft.ID) {
		m.state.User.OwnedCollectibles = append(m.state.User.OwnedCollectibles, resp.Nft)
	}
	m.mu.Unlock()
	return m.save()
}

func (m *Mirror) apply(resp *api.ActionResponse) {
	m.state.User.PlatformBalance = resp.NewBalance
	if resp.Action != nil && !m.hasAction(resp.Action.ID) {
		m.state.User.ActionHistory = append(m.state.User.ActionHistory, *resp.Action)
	}
}

func (m *Mirror) hasAction(id string) bool {
	for _, a := range m.state.User.ActionHistory {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (m *Mirror) owns(id string) bool {
	for _, c := range m.state.User.OwnedCollectibles {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Owned returns the mirrored collectible with id.
func (m *Mirror) Owned(id string) (models.Collectible, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.state.User.OwnedCollectibles {
		if c.ID == id {
			return c, true
		}
	}
	return models.Collectible{}, false
}

func (m *Mirror) save() error {
	const op = "client.Mirror.save"

	if m.path == "" {
		return nil
	}

	m.mu.RLock()
	raw, err := json.MarshalIndent(m.state, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

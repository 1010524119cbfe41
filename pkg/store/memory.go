package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// MemoryIntegrationStore is a mutex-guarded in-memory IntegrationStore.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[string]*types.Integration
}

var _ IntegrationStore = (*MemoryIntegrationStore)(nil)

// NewMemoryIntegrationStore creates an empty in-memory store.
func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{integrations: make(map[string]*types.Integration)}
}

// Save inserts or replaces an integration. A missing id is assigned.
func (s *MemoryIntegrationStore) Save(_ context.Context, in *types.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	cp := *in
	s.integrations[in.ID] = &cp
	return nil
}

// Get returns a copy of the integration with the given id.
func (s *MemoryIntegrationStore) Get(_ context.Context, id string) (*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.integrations[id]
	if !ok {
		return nil, types.ErrIntegrationNotFound
	}
	cp := *in
	return &cp, nil
}

// FindByAccount returns the integration bound to the platform and ad
// account id.
func (s *MemoryIntegrationStore) FindByAccount(_ context.Context, platform types.Platform, adAccountID string) (*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.integrations {
		if in.Platform == platform && in.AdAccountID == adAccountID {
			cp := *in
			return &cp, nil
		}
	}
	return nil, types.ErrIntegrationNotFound
}

// List returns integrations ordered by creation time.
func (s *MemoryIntegrationStore) List(_ context.Context, platform types.Platform) ([]*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Integration
	for _, in := range s.integrations {
		if platform != "" && in.Platform != platform {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListExpiring returns connected integrations whose token expiry falls
// before the deadline.
func (s *MemoryIntegrationStore) ListExpiring(_ context.Context, deadline time.Time) ([]*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Integration
	for _, in := range s.integrations {
		if in.ConnectionStatus != types.StatusConnected || in.TokenExpiry.IsZero() {
			continue
		}
		if in.TokenExpiry.Before(deadline) {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiry.Before(out[j].TokenExpiry) })
	return out, nil
}

// UpdateStatus sets the connection status and last-error fields.
func (s *MemoryIntegrationStore) UpdateStatus(_ context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[id]
	if !ok {
		return types.ErrIntegrationNotFound
	}
	in.ConnectionStatus = status
	in.LastError = lastError
	if lastError != "" {
		in.LastErrorAt = at
	} else {
		in.LastErrorAt = time.Time{}
	}
	in.UpdatedAt = at
	return nil
}

// SetTokens replaces token material and marks the integration connected.
func (s *MemoryIntegrationStore) SetTokens(_ context.Context, id, accessToken, refreshToken string, expiry time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[id]
	if !ok {
		return types.ErrIntegrationNotFound
	}
	in.AccessToken = accessToken
	in.RefreshToken = refreshToken
	in.TokenExpiry = expiry
	in.ConnectionStatus = types.StatusConnected
	in.LastError = ""
	in.LastErrorAt = time.Time{}
	in.UpdatedAt = at
	return nil
}

// ClearSecrets removes token material and applies the status and
// last-error in one critical section.
func (s *MemoryIntegrationStore) ClearSecrets(_ context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[id]
	if !ok {
		return types.ErrIntegrationNotFound
	}
	in.AccessToken = ""
	in.RefreshToken = ""
	in.TokenExpiry = time.Time{}
	in.ConnectionStatus = status
	in.LastError = lastError
	if lastError != "" {
		in.LastErrorAt = at
	} else {
		in.LastErrorAt = time.Time{}
	}
	if status == types.StatusNotConnected {
		in.DisconnectedAt = at
	}
	in.UpdatedAt = at
	return nil
}

// MarkSynced records a completed campaign sync.
func (s *MemoryIntegrationStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[id]
	if !ok {
		return types.ErrIntegrationNotFound
	}
	in.LastSyncedAt = at
	in.UpdatedAt = at
	return nil
}

// MemoryCampaignStore is a mutex-guarded in-memory CampaignStore.
type MemoryCampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*types.Campaign
}

var _ CampaignStore = (*MemoryCampaignStore)(nil)

// NewMemoryCampaignStore creates an empty in-memory campaign store.
func NewMemoryCampaignStore() *MemoryCampaignStore {
	return &MemoryCampaignStore{campaigns: make(map[string]*types.Campaign)}
}

// Upsert inserts the campaign or updates the row with the same
// integration id and remote id.
func (s *MemoryCampaignStore) Upsert(_ context.Context, c *types.Campaign) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.campaigns {
		if existing.IntegrationID == c.IntegrationID && existing.RemoteID == c.RemoteID {
			existing.Name = c.Name
			existing.Objective = c.Objective
			existing.Status = c.Status
			existing.DailyBudget = c.DailyBudget
			existing.SyncedAt = c.SyncedAt
			existing.UpdatedAt = c.UpdatedAt
			c.ID = existing.ID
			return false, nil
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return true, nil
}

// ListByIntegration returns all campaigns for an integration, ordered
// by remote id.
func (s *MemoryCampaignStore) ListByIntegration(_ context.Context, integrationID string) ([]*types.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Campaign
	for _, c := range s.campaigns {
		if c.IntegrationID == integrationID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

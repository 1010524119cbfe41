package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// OpenSQLite opens (or creates) a SQLite database and wraps it with bun.
func OpenSQLite(dsn string) (*bun.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return bun.NewDB(conn, sqlitedialect.New()), nil
}

// integrationRow is the persisted form of a types.Integration. Token
// columns hold ciphertext when a Cipher is configured.
type integrationRow struct {
	bun.BaseModel `bun:"table:integrations"`

	ID                 string `bun:"id,pk"`
	Platform           string `bun:"platform,notnull"`
	AccountName        string `bun:"account_name,notnull"`
	AccountDescription string `bun:"account_description"`
	Organization       string `bun:"organization"`
	AdAccountID        string `bun:"ad_account_id,notnull"`
	ConnectionStatus   string `bun:"connection_status,notnull"`

	AccessToken  string    `bun:"access_token"`
	RefreshToken string    `bun:"refresh_token"`
	TokenExpiry  time.Time `bun:"token_expiry,nullzero"`

	AuthorizedUserID   string `bun:"authorized_user_id"`
	AuthorizedUserName string `bun:"authorized_user_name"`

	Currency string `bun:"currency"`
	Timezone string `bun:"timezone"`

	LastError    string    `bun:"last_error"`
	LastErrorAt  time.Time `bun:"last_error_at,nullzero"`
	LastSyncedAt time.Time `bun:"last_synced_at,nullzero"`

	AuthorizedAt   time.Time `bun:"authorized_at,nullzero"`
	DisconnectedAt time.Time `bun:"disconnected_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type campaignRow struct {
	bun.BaseModel `bun:"table:campaigns"`

	ID            string    `bun:"id,pk"`
	IntegrationID string    `bun:"integration_id,notnull"`
	RemoteID      string    `bun:"remote_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Objective     string    `bun:"objective"`
	Status        string    `bun:"status"`
	DailyBudget   int64     `bun:"daily_budget"`
	SyncedAt      time.Time `bun:"synced_at,nullzero"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// SQLIntegrationStore is a bun-backed IntegrationStore.
type SQLIntegrationStore struct {
	db     *bun.DB
	cipher *Cipher
}

var _ IntegrationStore = (*SQLIntegrationStore)(nil)

// NewSQLIntegrationStore creates a bun-backed integration store. The
// cipher may be nil, in which case tokens are stored in plaintext.
func NewSQLIntegrationStore(db *bun.DB, cipher *Cipher) *SQLIntegrationStore {
	return &SQLIntegrationStore{db: db, cipher: cipher}
}

// Migrate creates the integrations table when absent.
func (s *SQLIntegrationStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*integrationRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create integrations table: %w", err)
	}
	return nil
}

func (s *SQLIntegrationStore) toRow(in *types.Integration) (*integrationRow, error) {
	access, err := s.cipher.Encrypt(in.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(in.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	return &integrationRow{
		ID:                 in.ID,
		Platform:           string(in.Platform),
		AccountName:        in.AccountName,
		AccountDescription: in.AccountDescription,
		Organization:       in.Organization,
		AdAccountID:        in.AdAccountID,
		ConnectionStatus:   string(in.ConnectionStatus),
		AccessToken:        access,
		RefreshToken:       refresh,
		TokenExpiry:        in.TokenExpiry,
		AuthorizedUserID:   in.AuthorizedUserID,
		AuthorizedUserName: in.AuthorizedUserName,
		Currency:           in.Currency,
		Timezone:           in.Timezone,
		LastError:          in.LastError,
		LastErrorAt:        in.LastErrorAt,
		LastSyncedAt:       in.LastSyncedAt,
		AuthorizedAt:       in.AuthorizedAt,
		DisconnectedAt:     in.DisconnectedAt,
		CreatedAt:          in.CreatedAt,
		UpdatedAt:          in.UpdatedAt,
	}, nil
}

func (s *SQLIntegrationStore) fromRow(row *integrationRow) (*types.Integration, error) {
	access, err := s.cipher.Decrypt(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := s.cipher.Decrypt(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &types.Integration{
		ID:                 row.ID,
		Platform:           types.Platform(row.Platform),
		AccountName:        row.AccountName,
		AccountDescription: row.AccountDescription,
		Organization:       row.Organization,
		AdAccountID:        row.AdAccountID,
		ConnectionStatus:   types.ConnectionStatus(row.ConnectionStatus),
		AccessToken:        access,
		RefreshToken:       refresh,
		TokenExpiry:        row.TokenExpiry,
		AuthorizedUserID:   row.AuthorizedUserID,
		AuthorizedUserName: row.AuthorizedUserName,
		Currency:           row.Currency,
		Timezone:           row.Timezone,
		LastError:          row.LastError,
		LastErrorAt:        row.LastErrorAt,
		LastSyncedAt:       row.LastSyncedAt,
		AuthorizedAt:       row.AuthorizedAt,
		DisconnectedAt:     row.DisconnectedAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

// Save inserts or fully replaces an integration. A missing id is assigned.
func (s *SQLIntegrationStore) Save(ctx context.Context, in *types.Integration) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	row, err := s.toRow(in)
	if err != nil {
		return err
	}

	result, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		return nil
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	return nil
}

// Get returns the integration with the given id.
func (s *SQLIntegrationStore) Get(ctx context.Context, id string) (*types.Integration, error) {
	var row integrationRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return s.fromRow(&row)
}

// FindByAccount returns the integration bound to the platform and ad
// account id.
func (s *SQLIntegrationStore) FindByAccount(ctx context.Context, platform types.Platform, adAccountID string) (*types.Integration, error) {
	var row integrationRow
	err := s.db.NewSelect().
		Model(&row).
		Where("platform = ?", string(platform)).
		Where("ad_account_id = ?", adAccountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("find integration: %w", err)
	}
	return s.fromRow(&row)
}

// List returns integrations ordered by creation time.
func (s *SQLIntegrationStore) List(ctx context.Context, platform types.Platform) ([]*types.Integration, error) {
	var rows []integrationRow
	q := s.db.NewSelect().Model(&rows).Order("created_at ASC")
	if platform != "" {
		q = q.Where("platform = ?", string(platform))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	out := make([]*types.Integration, 0, len(rows))
	for i := range rows {
		in, err := s.fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// ListExpiring returns connected integrations whose token expiry falls
// before the deadline.
func (s *SQLIntegrationStore) ListExpiring(ctx context.Context, deadline time.Time) ([]*types.Integration, error) {
	var rows []integrationRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("connection_status = ?", string(types.StatusConnected)).
		Where("token_expiry IS NOT NULL").
		Where("token_expiry < ?", deadline).
		Order("token_expiry ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expiring integrations: %w", err)
	}
	out := make([]*types.Integration, 0, len(rows))
	for i := range rows {
		in, err := s.fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// UpdateStatus sets the connection status and last-error fields.
func (s *SQLIntegrationStore) UpdateStatus(ctx context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*integrationRow)(nil)).
		Set("connection_status = ?", string(status)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", at).
		Where("id = ?", id)
	if lastError != "" {
		q = q.Set("last_error_at = ?", at)
	} else {
		q = q.Set("last_error_at = NULL")
	}
	return s.execOne(ctx, q, "update status")
}

// SetTokens replaces token material and marks the integration connected.
func (s *SQLIntegrationStore) SetTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time, at time.Time) error {
	access, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	q := s.db.NewUpdate().
		Model((*integrationRow)(nil)).
		Set("access_token = ?", access).
		Set("refresh_token = ?", refresh).
		Set("token_expiry = ?", expiry).
		Set("connection_status = ?", string(types.StatusConnected)).
		Set("last_error = ?", "").
		Set("last_error_at = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", id)
	return s.execOne(ctx, q, "set tokens")
}

// ClearSecrets removes token material and applies the status and
// last-error in a single UPDATE.
func (s *SQLIntegrationStore) ClearSecrets(ctx context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*integrationRow)(nil)).
		Set("access_token = ?", "").
		Set("refresh_token = ?", "").
		Set("token_expiry = NULL").
		Set("connection_status = ?", string(status)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", at).
		Where("id = ?", id)
	if lastError != "" {
		q = q.Set("last_error_at = ?", at)
	} else {
		q = q.Set("last_error_at = NULL")
	}
	if status == types.StatusNotConnected {
		q = q.Set("disconnected_at = ?", at)
	}
	return s.execOne(ctx, q, "clear secrets")
}

// MarkSynced records a completed campaign sync.
func (s *SQLIntegrationStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*integrationRow)(nil)).
		Set("last_synced_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id)
	return s.execOne(ctx, q, "mark synced")
}

func (s *SQLIntegrationStore) execOne(ctx context.Context, q *bun.UpdateQuery, op string) error {
	result, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return types.ErrIntegrationNotFound
	}
	return nil
}

// SQLCampaignStore is a bun-backed CampaignStore.
type SQLCampaignStore struct {
	db *bun.DB
}

var _ CampaignStore = (*SQLCampaignStore)(nil)

// NewSQLCampaignStore creates a bun-backed campaign store.
func NewSQLCampaignStore(db *bun.DB) *SQLCampaignStore {
	return &SQLCampaignStore{db: db}
}

// Migrate creates the campaigns table when absent.
func (s *SQLCampaignStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*campaignRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create campaigns table: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*campaignRow)(nil)).
		Index("idx_campaigns_integration_remote").
		Unique().
		IfNotExists().
		Column("integration_id", "remote_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create campaigns index: %w", err)
	}
	return nil
}

// Upsert inserts the campaign or updates the row with the same
// integration id and remote id.
func (s *SQLCampaignStore) Upsert(ctx context.Context, c *types.Campaign) (bool, error) {
	var existing campaignRow
	err := s.db.NewSelect().
		Model(&existing).
		Where("integration_id = ?", c.IntegrationID).
		Where("remote_id = ?", c.RemoteID).
		Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		row := &campaignRow{
			ID:            c.ID,
			IntegrationID: c.IntegrationID,
			RemoteID:      c.RemoteID,
			Name:          c.Name,
			Objective:     c.Objective,
			Status:        c.Status,
			DailyBudget:   c.DailyBudget,
			SyncedAt:      c.SyncedAt,
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
		}
		if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
			return false, fmt.Errorf("insert campaign: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("find campaign: %w", err)
	}

	c.ID = existing.ID
	_, err = s.db.NewUpdate().
		Model((*campaignRow)(nil)).
		Set("name = ?", c.Name).
		Set("objective = ?", c.Objective).
		Set("status = ?", c.Status).
		Set("daily_budget = ?", c.DailyBudget).
		Set("synced_at = ?", c.SyncedAt).
		Set("updated_at = ?", c.UpdatedAt).
		Where("id = ?", existing.ID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update campaign: %w", err)
	}
	return false, nil
}

// ListByIntegration returns all campaigns for an integration, ordered
// by remote id.
func (s *SQLCampaignStore) ListByIntegration(ctx context.Context, integrationID string) ([]*types.Campaign, error) {
	var rows []campaignRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("integration_id = ?", integrationID).
		Order("remote_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := make([]*types.Campaign, 0, len(rows))
	for _, row := range rows {
		out = append(out, &types.Campaign{
			ID:            row.ID,
			IntegrationID: row.IntegrationID,
			RemoteID:      row.RemoteID,
			Name:          row.Name,
			Objective:     row.Objective,
			Status:        row.Status,
			DailyBudget:   row.DailyBudget,
			SyncedAt:      row.SyncedAt,
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	return out, nil
}

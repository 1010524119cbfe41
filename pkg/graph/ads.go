package graph

import (
	"context"
	"net/url"
	"strconv"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// UserProfile is the authorizing user's identity.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Me fetches the authorizing user's profile.
func (c *Client) Me(ctx context.Context, platform types.Platform, token string) (*UserProfile, error) {
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", fields("id", "name", "email"))

	var out UserProfile
	if err := c.get(ctx, platform, "", "me", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type adAccountsResponse struct {
	Data []struct {
		ID           string `json:"id"`
		AccountID    string `json:"account_id"`
		Name         string `json:"name"`
		Currency     string `json:"currency"`
		TimezoneName string `json:"timezone_name"`
		Status       int    `json:"account_status"`
		AmountSpent  string `json:"amount_spent"`
	} `json:"data"`
}

// AdAccounts lists the ad accounts the authorizing user can manage.
func (c *Client) AdAccounts(ctx context.Context, platform types.Platform, token string) ([]types.AdAccount, error) {
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", fields("id", "name", "account_status", "currency", "timezone_name", "amount_spent", "account_id"))
	params.Set("limit", "100")

	var out adAccountsResponse
	if err := c.get(ctx, platform, "", "me/adaccounts", params, &out); err != nil {
		return nil, err
	}

	accounts := make([]types.AdAccount, 0, len(out.Data))
	for _, a := range out.Data {
		spent, _ := strconv.ParseFloat(a.AmountSpent, 64)
		accounts = append(accounts, types.AdAccount{
			ID:          a.ID,
			AccountID:   a.AccountID,
			Name:        a.Name,
			Currency:    a.Currency,
			Timezone:    a.TimezoneName,
			Status:      a.Status,
			AmountSpent: spent,
		})
	}
	return accounts, nil
}

// RemoteCampaign is a campaign as reported by the platform.
type RemoteCampaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Objective   string `json:"objective"`
	Status      string `json:"status"`
	DailyBudget string `json:"daily_budget"`
}

// BudgetCents parses the platform's string-typed daily budget. Missing
// or malformed budgets parse as zero.
func (rc RemoteCampaign) BudgetCents() int64 {
	return parseInt(rc.DailyBudget)
}

type campaignsResponse struct {
	Data []RemoteCampaign `json:"data"`
}

// Campaigns lists campaigns under an ad account.
func (c *Client) Campaigns(ctx context.Context, platform types.Platform, integrationID, token, accountID string) ([]RemoteCampaign, error) {
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", fields("id", "name", "objective", "status", "daily_budget"))
	params.Set("limit", "100")

	var out campaignsResponse
	if err := c.get(ctx, platform, integrationID, accountID+"/campaigns", params, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ProbeResult is the lightweight authenticated probe response.
type ProbeResult struct {
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
}

// Probe issues a minimal authenticated read against the ad account to
// verify the connection end to end.
func (c *Client) Probe(ctx context.Context, platform types.Platform, integrationID, token, accountID string) (*ProbeResult, error) {
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", fields("name", "account_status"))

	var out ProbeResult
	if err := c.get(ctx, platform, integrationID, accountID, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CampaignSpec describes a campaign launch.
type CampaignSpec struct {
	Name              string
	Objective         string
	DailyBudgetCents  int64
	BidStrategy       string
	StartPaused       bool
	SpecialCategories []string

	// AdSet and creative chaining; empty values skip that stage.
	OptimizationGoal string
	CreativeID       string
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateCampaign creates a campaign under the account. This is a
// side-effecting call and is never retried.
func (c *Client) CreateCampaign(ctx context.Context, platform types.Platform, integrationID, token, accountID string, spec CampaignSpec) (string, error) {
	status := "ACTIVE"
	if spec.StartPaused {
		status = "PAUSED"
	}
	objective := spec.Objective
	if objective == "" {
		objective = "REACH"
	}
	bidStrategy := spec.BidStrategy
	if bidStrategy == "" {
		bidStrategy = "LOWEST_COST_WITHOUT_CAP"
	}
	special := spec.SpecialCategories
	if special == nil {
		special = []string{}
	}

	body := map[string]any{
		"name":                  spec.Name,
		"objective":             objective,
		"status":                status,
		"special_ad_categories": special,
		"daily_budget":          spec.DailyBudgetCents,
		"bid_strategy":          bidStrategy,
	}

	params := url.Values{}
	params.Set("access_token", token)

	var out createResponse
	if err := c.post(ctx, platform, integrationID, accountID+"/campaigns", params, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &types.APIError{Kind: types.APIErrorPermanent, Message: "campaign create returned no id"}
	}
	return out.ID, nil
}

// CreateAdSet creates an ad set under a freshly launched campaign.
func (c *Client) CreateAdSet(ctx context.Context, platform types.Platform, integrationID, token, campaignID string, spec CampaignSpec) (string, error) {
	goal := spec.OptimizationGoal
	if goal == "" {
		goal = "LINK_CLICKS"
	}
	body := map[string]any{
		"name":              spec.Name + "-AdSet",
		"daily_budget":      spec.DailyBudgetCents,
		"optimization_goal": goal,
		"status":            "PAUSED",
	}

	params := url.Values{}
	params.Set("access_token", token)

	var out createResponse
	if err := c.post(ctx, platform, integrationID, campaignID+"/adsets", params, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateAd creates an ad under an ad set using a prebuilt creative.
func (c *Client) CreateAd(ctx context.Context, platform types.Platform, integrationID, token, adSetID, creativeID string) (string, error) {
	body := map[string]any{
		"name":     "New Ad",
		"adset_id": adSetID,
		"creative": map[string]string{"creative_id": creativeID},
		"status":   "PAUSED",
	}

	params := url.Values{}
	params.Set("access_token", token)

	var out createResponse
	if err := c.post(ctx, platform, integrationID, adSetID+"/ads", params, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateCampaignStatus sets a remote campaign's delivery status
// (ACTIVE or PAUSED). Setting the same status twice has no further
// remote effect, so the call runs under the retry executor.
func (c *Client) UpdateCampaignStatus(ctx context.Context, platform types.Platform, integrationID, token, campaignID, status string) error {
	body := map[string]any{"status": status}
	params := url.Values{}
	params.Set("access_token", token)
	return c.postIdempotent(ctx, platform, integrationID, campaignID, params, body, nil)
}

// Insights aggregates the basic delivery metrics over the requested
// window.
type Insights struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Reach       int64   `json:"reach"`
	CTR         float64 `json:"ctr"`
}

type insightsResponse struct {
	Data []struct {
		Impressions string `json:"impressions"`
		Clicks      string `json:"clicks"`
		Spend       string `json:"spend"`
		Reach       string `json:"reach"`
		CTR         string `json:"ctr"`
	} `json:"data"`
}

// AccountInsights fetches account-level delivery metrics for the last
// seven days.
func (c *Client) AccountInsights(ctx context.Context, platform types.Platform, integrationID, token, accountID string) (*Insights, error) {
	return c.insights(ctx, platform, integrationID, token, accountID, "account")
}

// CampaignInsights fetches campaign-level delivery metrics for the last
// seven days.
func (c *Client) CampaignInsights(ctx context.Context, platform types.Platform, integrationID, token, campaignID string) (*Insights, error) {
	return c.insights(ctx, platform, integrationID, token, campaignID, "campaign")
}

func (c *Client) insights(ctx context.Context, platform types.Platform, integrationID, token, objectID, level string) (*Insights, error) {
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", fields("impressions", "spend", "clicks", "ctr", "reach"))
	params.Set("date_preset", "last_7d")
	params.Set("level", level)

	var out insightsResponse
	if err := c.get(ctx, platform, integrationID, objectID+"/insights", params, &out); err != nil {
		return nil, err
	}

	agg := &Insights{}
	var ctrSum float64
	for _, row := range out.Data {
		agg.Impressions += parseInt(row.Impressions)
		agg.Clicks += parseInt(row.Clicks)
		agg.Reach += parseInt(row.Reach)
		agg.Spend += parseFloat(row.Spend)
		ctrSum += parseFloat(row.CTR)
	}
	if n := len(out.Data); n > 0 {
		agg.CTR = ctrSum / float64(n)
	}
	return agg, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

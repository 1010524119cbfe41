// Package testutil provides a scripted stand-in for the Meta Graph API
// used by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Failure is an injected error response served before the scripted
// payloads.
type Failure struct {
	Status     int
	RetryAfter int
	Code       int
	Message    string
}

// FakeAccount is an ad account the fake server offers.
type FakeAccount struct {
	ID          string
	AccountID   string
	Name        string
	Currency    string
	Timezone    string
	Status      int
	AmountSpent string
}

// FakeCampaign is a campaign the fake server lists.
type FakeCampaign struct {
	ID          string
	Name        string
	Objective   string
	Status      string
	DailyBudget string
}

// FakeInsight is one delivery-metrics row the insights endpoint serves.
// Values are strings because the Graph API returns numbers as strings.
type FakeInsight struct {
	Impressions string
	Clicks      string
	Spend       string
	Reach       string
	CTR         string
}

// FakeGraph serves a minimal scripted Graph API over httptest. All
// fields may be mutated between requests; access is mutex-guarded.
type FakeGraph struct {
	Server *httptest.Server

	mu sync.Mutex

	ShortToken string
	LongToken  string
	ExpiresIn  int64

	UserID   string
	UserName string

	Accounts  []FakeAccount
	Campaigns []FakeCampaign
	Insights  []FakeInsight

	ProbeName   string
	ProbeStatus int

	// CreatedIDs are handed out in order by the create endpoints.
	CreatedIDs []string
	created    int

	// failures are consumed one per request before normal handling.
	failures []Failure

	// Requests records every method+path served, for assertions.
	Requests []string
}

// NewFakeGraph starts a fake Graph server with sensible scripted
// defaults.
func NewFakeGraph() *FakeGraph {
	f := &FakeGraph{
		ShortToken:  "short-token",
		LongToken:   "long-lived-token",
		ExpiresIn:   5184000,
		UserID:      "10001",
		UserName:    "Jordan Example",
		ProbeName:   "Example Account",
		ProbeStatus: 1,
		CreatedIDs:  []string{"cmp_1", "adset_1", "ad_1"},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts the server down.
func (f *FakeGraph) Close() { f.Server.Close() }

// URL is the server's base URL, suitable for Config.Meta.GraphBaseURL.
func (f *FakeGraph) URL() string { return f.Server.URL }

// FailNext queues failures served, in order, before normal responses.
func (f *FakeGraph) FailNext(failures ...Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failures...)
}

// RequestCount returns how many requests the server has handled.
func (f *FakeGraph) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

func (f *FakeGraph) nextCreatedID() string {
	if f.created < len(f.CreatedIDs) {
		id := f.CreatedIDs[f.created]
		f.created++
		return id
	}
	f.created++
	return fmt.Sprintf("obj_%d", f.created)
}

func (f *FakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, r.Method+" "+r.URL.Path)

	if len(f.failures) > 0 {
		fail := f.failures[0]
		f.failures = f.failures[1:]
		if fail.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(fail.RetryAfter))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fail.Status)
		msg := fail.Message
		if msg == "" {
			msg = "scripted failure"
		}
		writeJSON(w, map[string]any{
			"error": map[string]any{
				"message": msg,
				"code":    fail.Code,
			},
		})
		return
	}

	// Strip the leading version segment ("/v21.0/me" -> "me").
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i > 0 && strings.HasPrefix(path, "v") {
		path = path[i+1:]
	}

	switch {
	case path == "oauth/access_token":
		if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
			writeJSON(w, map[string]any{
				"access_token": f.LongToken,
				"token_type":   "bearer",
				"expires_in":   f.ExpiresIn,
			})
			return
		}
		// Authorization code exchange arrives as a form POST.
		writeJSON(w, map[string]any{
			"access_token": f.ShortToken,
			"token_type":   "bearer",
			"expires_in":   3600,
		})

	case path == "me":
		writeJSON(w, map[string]any{"id": f.UserID, "name": f.UserName})

	case path == "me/adaccounts":
		data := make([]map[string]any, 0, len(f.Accounts))
		for _, a := range f.Accounts {
			data = append(data, map[string]any{
				"id":             a.ID,
				"account_id":     a.AccountID,
				"name":           a.Name,
				"currency":       a.Currency,
				"timezone_name":  a.Timezone,
				"account_status": a.Status,
				"amount_spent":   a.AmountSpent,
			})
		}
		writeJSON(w, map[string]any{"data": data})

	case strings.HasSuffix(path, "/campaigns") && r.Method == http.MethodGet:
		data := make([]map[string]any, 0, len(f.Campaigns))
		for _, c := range f.Campaigns {
			data = append(data, map[string]any{
				"id":           c.ID,
				"name":         c.Name,
				"objective":    c.Objective,
				"status":       c.Status,
				"daily_budget": c.DailyBudget,
			})
		}
		writeJSON(w, map[string]any{"data": data})

	case strings.HasSuffix(path, "/insights") && r.Method == http.MethodGet:
		data := make([]map[string]any, 0, len(f.Insights))
		for _, row := range f.Insights {
			data = append(data, map[string]any{
				"impressions": row.Impressions,
				"clicks":      row.Clicks,
				"spend":       row.Spend,
				"reach":       row.Reach,
				"ctr":         row.CTR,
			})
		}
		writeJSON(w, map[string]any{"data": data})

	case r.Method == http.MethodPost &&
		(strings.HasSuffix(path, "/campaigns") || strings.HasSuffix(path, "/adsets") || strings.HasSuffix(path, "/ads")):
		writeJSON(w, map[string]any{"id": f.nextCreatedID()})

	// Status update posted directly to an object id.
	case r.Method == http.MethodPost && !strings.Contains(path, "/"):
		writeJSON(w, map[string]any{"success": true})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "act_") && !strings.Contains(path, "/"):
		writeJSON(w, map[string]any{"name": f.ProbeName, "account_status": f.ProbeStatus})

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{
			"error": map[string]any{"message": "unknown path " + r.URL.Path, "code": 803},
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

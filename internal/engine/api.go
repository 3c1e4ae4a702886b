package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
)

// HTTPClient is an API over the server's request/response endpoints.  All
// reads (roster, clock) and fallback writes go through here.  Request
// failures are returned wrapped in ErrUnavailable so the caller can tell
// "network unreachable" apart from a server-side rejection.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient builds a client for the given base URL, e.g.
// "http://localhost:8080".
func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{base: base, http: &http.Client{Timeout: timeout}}
}

// FetchRoster retrieves the authoritative roster for one occurrence.
func (c *HTTPClient) FetchRoster(ctx context.Context, occ model.OccurrenceKey) (model.SnapshotEntry, error) {
	url := fmt.Sprintf("%s/v1/events/%d/occurrences/%s/roster", c.base, occ.EventID, occ.Date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.SnapshotEntry{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.SnapshotEntry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.SnapshotEntry{}, fmt.Errorf("roster fetch: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Roster   []model.PresenceRecord `json:"roster"`
		Visitors []model.PresenceRecord `json:"visitors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.SnapshotEntry{}, err
	}
	return model.SnapshotEntry{
		EventID:  occ.EventID,
		Date:     occ.Date,
		Roster:   body.Roster,
		Visitors: body.Visitors,
	}, nil
}

// SubmitChanges posts a change batch for one occurrence.
func (c *HTTPClient) SubmitChanges(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error) {
	url := fmt.Sprintf("%s/v1/events/%d/occurrences/%s/attendance", c.base, occ.EventID, occ.Date)
	payload, err := json.Marshal(map[string]any{"changes": toSubmissions(changes)})
	if err != nil {
		return model.SubmitResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.SubmitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return model.SubmitResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.SubmitResult{}, fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}
	var result model.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.SubmitResult{}, err
	}
	return result, nil
}

// ServerTime performs the clock query and returns server epoch millis.
func (c *HTTPClient) ServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/time", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("time query: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.ServerTime, nil
}

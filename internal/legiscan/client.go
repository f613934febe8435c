// Package legiscan is the HTTP gateway to the LegiScan legislative data API.
//
// Every operation is a GET against a single endpoint selected by the `op`
// query parameter. No retries happen at this layer; failures surface as
// apperr.ErrUpstream and the caller owns recovery.
package legiscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openlegis/billchat/internal/apperr"
)

const defaultTimeout = 30 * time.Second

// Client communicates with the LegiScan API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a LegiScan client with the given API key and base URL.
// An empty baseURL selects the public API endpoint.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.legiscan.com"
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// GetMasterList fetches the full bill catalog for a state, ordered the way
// the provider lists it. The list is all-or-nothing: any failure returns an
// error and no partial result.
func (c *Client) GetMasterList(ctx context.Context, state string) ([]BillSummary, error) {
	var payload struct {
		Status     string                     `json:"status"`
		MasterList map[string]json.RawMessage `json:"masterlist"`
	}
	params := url.Values{"op": {"getMasterList"}, "state": {state}}
	if err := c.get(ctx, params, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "OK" {
		return nil, fmt.Errorf("%w: getMasterList status %q", apperr.ErrUpstream, payload.Status)
	}

	// The masterlist object is keyed by numeric strings plus a "session"
	// record describing the legislative session. Ordering by numeric key
	// reproduces the provider's list order deterministically; non-numeric
	// entries are not bills and are skipped.
	keys := make([]int, 0, len(payload.MasterList))
	for k := range payload.MasterList {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	bills := make([]BillSummary, 0, len(keys))
	for _, k := range keys {
		var b BillSummary
		if err := json.Unmarshal(payload.MasterList[strconv.Itoa(k)], &b); err != nil {
			return nil, fmt.Errorf("%w: decoding masterlist entry %d: %v", apperr.ErrUpstream, k, err)
		}
		bills = append(bills, b)
	}
	return bills, nil
}

// GetBill fetches the status record for one bill, including its document
// references.
func (c *Client) GetBill(ctx context.Context, billID int64) (BillStatus, error) {
	var payload struct {
		Status string     `json:"status"`
		Bill   BillStatus `json:"bill"`
	}
	params := url.Values{"op": {"getBill"}, "id": {strconv.FormatInt(billID, 10)}}
	if err := c.get(ctx, params, &payload); err != nil {
		return BillStatus{}, err
	}
	if payload.Status != "OK" {
		return BillStatus{}, fmt.Errorf("%w: getBill %d status %q", apperr.ErrUpstream, billID, payload.Status)
	}
	return payload.Bill, nil
}

// GetBillText downloads one document by its doc id. The Doc field is base64
// encoded; the caller decodes it.
func (c *Client) GetBillText(ctx context.Context, docID int64) (BillDoc, error) {
	var payload struct {
		Status string  `json:"status"`
		Text   BillDoc `json:"text"`
	}
	params := url.Values{"op": {"getBillText"}, "id": {strconv.FormatInt(docID, 10)}}
	if err := c.get(ctx, params, &payload); err != nil {
		return BillDoc{}, err
	}
	if payload.Status != "OK" {
		return BillDoc{}, fmt.Errorf("%w: getBillText %d status %q", apperr.ErrUpstream, docID, payload.Status)
	}
	return payload.Text, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", apperr.ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", apperr.ErrUpstream, err)
	}
	return nil
}

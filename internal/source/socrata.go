package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dispatchmon/internal/config"
	"dispatchmon/internal/dispatch"
	"dispatchmon/internal/retry"
)

const defaultUserAgent = "dispatchmon/0.1"

// FetchError wraps any upstream failure (network, HTTP status, parse).
// It is recoverable: the poll loop logs it and skips the cycle.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Op == "" && e.StatusCode != 0:
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: upstream returned %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches dispatched-call records from a Socrata dataset endpoint.
// Filtering is pushed upstream via $where to keep payloads small, but the
// result is still re-checked by the filter package: upstream query
// semantics are not trusted to stay in sync with the local policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dataset    string
	limit      int
	userAgent  string
	where      string
}

func NewClient(cfg config.SourceConfig, filter config.FilterConfig) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 200
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dataset:    cfg.Dataset,
		limit:      limit,
		userAgent:  userAgent,
		where:      buildWhere(filter),
	}
}

// buildWhere translates the filter policy into a SoQL $where clause.
func buildWhere(filter config.FilterConfig) string {
	var clauses []string
	if filter.OutreachFlag != "" {
		clauses = append(clauses, fmt.Sprintf("onview_flag = '%s'", escapeSoQL(filter.OutreachFlag)))
	}
	if len(filter.CallTypes) > 0 {
		quoted := make([]string, 0, len(filter.CallTypes))
		for _, ct := range filter.CallTypes {
			quoted = append(quoted, "'"+escapeSoQL(ct)+"'")
		}
		clauses = append(clauses, "call_type_original_desc IN ("+strings.Join(quoted, ", ")+")")
	}
	return strings.Join(clauses, " OR ")
}

func escapeSoQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// callRow is the upstream wire shape. Only the fields the monitor cares
// about are decoded; everything else in the payload is ignored.
type callRow struct {
	ID           string    `json:"id"`
	CADNumber    string    `json:"cad_number"`
	CallType     string    `json:"call_type_original_desc"`
	ReceivedAt   string    `json:"received_datetime"`
	Intersection string    `json:"intersection_name"`
	Neighborhood string    `json:"analysis_neighborhood"`
	Agency       string    `json:"agency"`
	OnViewFlag   string    `json:"onview_flag"`
	Priority     string    `json:"priority_final"`
	Sensitive    looseBool `json:"sensitive_call"`
}

// looseBool accepts JSON booleans as well as the "true"/"false" strings
// some Socrata datasets emit for checkbox columns.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Fetch returns the most recent matching records, newest first (upstream
// order is preserved). Transient failures are retried a few times before
// the cycle gives up.
func (c *Client) Fetch(ctx context.Context) ([]dispatch.Record, error) {
	endpoint := fmt.Sprintf("%s/resource/%s.json", c.baseURL, c.dataset)

	params := url.Values{}
	params.Set("$order", "received_datetime DESC")
	params.Set("$limit", strconv.Itoa(c.limit))
	if c.where != "" {
		params.Set("$where", c.where)
	}

	var rows []callRow
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		return c.getJSON(ctx, endpoint+"?"+params.Encode(), &rows)
	})
	if err != nil {
		return nil, asFetchError("fetch dataset "+c.dataset, err)
	}

	records := make([]dispatch.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// RowsUpdatedAt returns the dataset's last-modified marker from the
// metadata endpoint, or 0 when the dataset does not expose one.
func (c *Client) RowsUpdatedAt(ctx context.Context) (int64, error) {
	endpoint := fmt.Sprintf("%s/api/views/%s.json", c.baseURL, c.dataset)

	var meta struct {
		RowsUpdatedAt int64 `json:"rowsUpdatedAt"`
	}
	err := retry.Do(ctx, retry.Config{Attempts: 2, BaseDelay: 200 * time.Millisecond}, func() error {
		return c.getJSON(ctx, endpoint, &meta)
	})
	if err != nil {
		return 0, asFetchError("fetch metadata for "+c.dataset, err)
	}
	return meta.RowsUpdatedAt, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &FetchError{StatusCode: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors (bad dataset id, malformed query) do not heal
			// on retry.
			return retry.Permanent(statusErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func asFetchError(op string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return &FetchError{Op: op, StatusCode: fe.StatusCode, Err: err}
	}
	return &FetchError{Op: op, Err: err}
}

var receivedLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func (row callRow) toRecord() dispatch.Record {
	record := dispatch.Record{
		ID:           row.ID,
		CallType:     row.CallType,
		ReceivedRaw:  row.ReceivedAt,
		Intersection: row.Intersection,
		Neighborhood: row.Neighborhood,
		Agency:       row.Agency,
		Priority:     row.Priority,
		Sensitive:    bool(row.Sensitive),
	}
	if record.ID == "" {
		record.ID = row.CADNumber
	}
	if row.OnViewFlag != "" {
		record.Flags = []string{row.OnViewFlag}
	}
	for _, layout := range receivedLayouts {
		if parsed, err := time.Parse(layout, row.ReceivedAt); err == nil {
			record.ReceivedAt = parsed
			break
		}
	}
	return record
}

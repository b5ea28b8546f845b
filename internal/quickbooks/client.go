package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

// checkpointLayout is how timestamps are written into query filters
const checkpointLayout = "2006-01-02T15:04:05-07:00"

// Client reads entities from the QuickBooks Online query endpoint.
type Client struct {
	baseURL      string
	minorVersion int
	executor     *Executor
	limiters     *RateLimiterPool
	logger       *slog.Logger
}

func NewClient(baseURL string, minorVersion int, executor *Executor, limiters *RateLimiterPool, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		minorVersion: minorVersion,
		executor:     executor,
		limiters:     limiters,
		logger:       logger.With(slog.String("component", "qbo_client")),
	}
}

// BuildQuery renders the incremental query for one page.
// since nil means a full fetch; startPosition is 1-based.
func BuildQuery(objectType models.ObjectType, since *time.Time, startPosition, maxResults int) string {
	q := "SELECT * FROM " + string(objectType)
	if since != nil {
		q += fmt.Sprintf(" WHERE MetaData.LastUpdatedTime > '%s'", since.UTC().Format(checkpointLayout))
	}
	q += fmt.Sprintf(" ORDER BY MetaData.LastUpdatedTime ASC STARTPOSITION %d MAXRESULTS %d", startPosition, maxResults)
	return q
}

// Query fetches one page of objectType records for realmID.
func (c *Client) Query(ctx context.Context, realmID, accessToken string, objectType models.ObjectType, since *time.Time, startPosition, maxResults int) ([]models.RemoteRecord, error) {
	params := url.Values{}
	params.Set("query", BuildQuery(objectType, since, startPosition, maxResults))
	params.Set("minorversion", strconv.Itoa(c.minorVersion))
	endpoint := fmt.Sprintf("%s/%s/query?%s", c.baseURL, url.PathEscape(realmID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var limiter *RateLimiter
	if c.limiters != nil {
		limiter = c.limiters.Get(realmID)
	}

	resp, err := c.executor.Do(ctx, req, limiter)
	if err != nil {
		return nil, err
	}

	records, err := decodeQueryResponse(resp.Body, objectType, startPosition)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched page",
		slog.String("realm_id", realmID),
		slog.String("object_type", string(objectType)),
		slog.Int("start_position", startPosition),
		slog.Int("count", len(records)),
	)
	return records, nil
}

// decodeQueryResponse parses one page. startPosition only labels errors.
func decodeQueryResponse(body []byte, objectType models.ObjectType, startPosition int) ([]models.RemoteRecord, error) {
	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}

	raw, ok := envelope.QueryResponse[string(objectType)]
	if !ok {
		// QueryResponse is {} when nothing matched
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s list: %w", objectType, err)
	}

	records := make([]models.RemoteRecord, 0, len(items))
	for i, item := range items {
		rec, err := decodeEntity(item)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s at position %d: %w", objectType, startPosition+i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeEntity(item json.RawMessage) (models.RemoteRecord, error) {
	var head struct {
		ID        string `json:"Id"`
		SyncToken string `json:"SyncToken"`
		MetaData  struct {
			LastUpdatedTime string `json:"LastUpdatedTime"`
		} `json:"MetaData"`
	}
	if err := json.Unmarshal(item, &head); err != nil {
		return models.RemoteRecord{}, err
	}
	if strings.TrimSpace(head.ID) == "" {
		return models.RemoteRecord{}, ErrMissingID
	}

	rec := models.RemoteRecord{
		ExternalID: head.ID,
		SyncToken:  head.SyncToken,
		Raw:        item,
	}
	if head.MetaData.LastUpdatedTime != "" {
		ts, err := time.Parse(time.RFC3339, head.MetaData.LastUpdatedTime)
		if err != nil {
			return models.RemoteRecord{}, fmt.Errorf("invalid LastUpdatedTime %q: %w", head.MetaData.LastUpdatedTime, err)
		}
		ts = ts.UTC()
		rec.LastUpdated = &ts
	}
	return rec, nil
}

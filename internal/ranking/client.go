// Package ranking is the client for the external ML ranking service. Calls
// are expensive and rate-limited; failures surface as
// domain.ErrRankingUnavailable and are never retried inline.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
)

// ExperimentsHeader carries the caller's experiment assignments through to
// the ranking service.
const ExperimentsHeader = "X-Feed-Experiments"

// recommendPath is the ranking endpoint, relative to the service base URL.
const recommendPath = "/api/feed-recsys/recommend"

// maxResponseBytes bounds how much of a ranking response is read.
const maxResponseBytes = 8 << 20

// Client produces a ranked list of candidate items for a user.
//
// The returned items are relevance-ascending within the service's own sort
// field: the last item is the most relevant. Consumers that want
// presentation order must invert the list (the generator does).
type Client interface {
	Rank(ctx context.Context, userID int64, hints string, loc domain.Location) ([]domain.CandidateItem, error)
}

// wireItem is one recommendation as returned by the ranking service.
type wireItem struct {
	ItemID  int64    `json:"itemId"`
	OwnerID int64    `json:"ownerId"`
	Tags    []string `json:"tags"`
}

// HTTPClient is the production ranking client.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// NewHTTPClient creates a ranking client for the given base URL. The timeout
// bounds the whole call; on expiry the generation is treated as failed.
func NewHTTPClient(baseURL string, timeout time.Duration, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Rank requests recommendations for the user. Any transport error, non-2xx
// status or malformed body is reported as domain.ErrRankingUnavailable.
func (c *HTTPClient) Rank(
	ctx context.Context,
	userID int64,
	hints string,
	loc domain.Location,
) ([]domain.CandidateItem, error) {
	endpoint, err := c.buildURL(userID, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRankingUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrRankingUnavailable, err)
	}
	if hints != "" {
		req.Header.Set(ExperimentsHeader, hints)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRankingUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", domain.ErrRankingUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrRankingUnavailable, err)
	}

	var wire []wireItem
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrRankingUnavailable, err)
	}

	items := make([]domain.CandidateItem, len(wire))
	for i, w := range wire {
		items[i] = domain.CandidateItem{
			ItemID:  w.ItemID,
			OwnerID: w.OwnerID,
			Rank:    int64(i),
			Tags:    w.Tags,
		}
	}

	c.log.Info("Ranking service responded",
		logger.Int64("user_id", userID),
		logger.Int("items", len(items)),
		logger.Duration("elapsed", time.Since(start)),
	)

	return items, nil
}

func (c *HTTPClient) buildURL(userID int64, loc domain.Location) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	endpoint := base.JoinPath(recommendPath)

	query := url.Values{}
	query.Set("userId", strconv.FormatInt(userID, 10))
	query.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	query.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	endpoint.RawQuery = query.Encode()

	return endpoint.String(), nil
}

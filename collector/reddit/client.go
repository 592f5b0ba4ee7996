// Package reddit implements the content provider adapter against Reddit's
// public JSON listing endpoints.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/audiencehub/audiencehub/collection"
	"github.com/audiencehub/audiencehub/model"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/araddon/dateparse"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://www.reddit.com"
	defaultUserAgent = "audiencehub/0.1 post collection"

	// The listing endpoint caps pages at 100 entries.
	maxPageSize = 100

	requestTimeout = 15 * time.Second

	// Fallback wait when a 429 carries no usable Retry-After header.
	defaultRetryAfter = 10 * time.Second
)

// listingResponse mirrors the subset of the listing payload we consume.
type listingResponse struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data childData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type childData struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Selftext          string  `json:"selftext"`
	Author            string  `json:"author"`
	Score             int     `json:"score"`
	NumComments       int     `json:"num_comments"`
	CreatedUTC        float64 `json:"created_utc"`
	UpvoteRatio       float64 `json:"upvote_ratio"`
	RemovedByCategory string  `json:"removed_by_category"`
}

// Client fetches pages of posts for a subreddit name. All cycles in the
// process share one Client, whose rate limiter enforces the global minimum
// spacing between requests regardless of how many audiences collect
// concurrently.
type Client struct {
	client    *http.Client
	limiter   *rate.Limiter
	baseURL   string
	userAgent string

	// Quality filter: posts below this comment count or removed by
	// moderation are dropped at the adapter boundary.
	minComments int
}

// compile-time interface conformance check
var _ collection.Provider = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		client:      &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL:     defaultBaseURL,
		userAgent:   defaultUserAgent,
		minComments: 5,
	}
}

// FetchPage fetches one page of top posts for the source within the given
// time window. The returned cursor restarts from the provider, not from a
// cached listing; callers must not assume a page can be re-iterated.
func (c *Client) FetchPage(ctx context.Context, source string, window model.Timeframe, limit int, after string) (*collection.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	uri := fmt.Sprintf("%s/r/%s/top.json?t=%s&limit=%d&raw_json=1",
		c.baseURL, url.PathEscape(source), window, limit)
	if after != "" {
		uri += "&after=" + url.QueryEscape(after)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(collection.ErrTransient, "fetching r/%s: %v", source, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, &collection.RateLimitedError{RetryAfter: parseRetryAfter(res.Header.Get("Retry-After"))}
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(collection.ErrSourceNotFound, "r/%s responded %d", source, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(collection.ErrTransient, "r/%s responded %d", source, res.StatusCode)
	}

	var listing listingResponse
	if err := json.NewDecoder(res.Body).Decode(&listing); err != nil {
		return nil, errors.Wrapf(collection.ErrTransient, "decoding r/%s listing: %v", source, err)
	}

	page := &collection.Page{After: listing.Data.After}
	for _, child := range listing.Data.Children {
		if !c.passesQualityFilter(child.Data) {
			continue
		}
		post, err := c.toProviderPost(child.Data)
		if err != nil {
			Logger.Log.Warnf("skipping malformed post %s in r/%s: %v", child.Data.ID, source, err)
			continue
		}
		page.Posts = append(page.Posts, post)
	}
	return page, nil
}

func (c *Client) passesQualityFilter(d childData) bool {
	if d.RemovedByCategory != "" {
		return false
	}
	return d.NumComments >= c.minComments
}

func (c *Client) toProviderPost(d childData) (collection.ProviderPost, error) {
	var post collection.ProviderPost
	// Shared field names (Title, Author, Score, NumComments) copy over;
	// everything else is mapped explicitly below.
	if err := copier.Copy(&post, &d); err != nil {
		return post, err
	}
	post.ExternalID = d.ID
	post.Content = d.Selftext
	post.PostedAt = time.Unix(int64(d.CreatedUTC), 0).UTC()

	raw, err := json.Marshal(d)
	if err != nil {
		return post, err
	}
	post.Raw = raw
	return post, nil
}

// parseRetryAfter handles both forms of the header: delta seconds and an
// HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := dateparse.ParseAny(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/audiencehub/audiencehub/collection"
	"github.com/audiencehub/audiencehub/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(baseURL string) *Client {
	c := NewClient()
	c.baseURL = baseURL
	// No request spacing in tests.
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

const listingBody = `{
	"data": {
		"after": "t3_next",
		"children": [
			{"data": {"id": "aaa", "title": "keeper", "selftext": "body text", "author": "alice", "score": 120, "num_comments": 33, "created_utc": 1700000000, "upvote_ratio": 0.97}},
			{"data": {"id": "bbb", "title": "too quiet", "author": "bob", "score": 5, "num_comments": 1, "created_utc": 1700000100}},
			{"data": {"id": "ccc", "title": "removed", "author": "carol", "score": 88, "num_comments": 40, "created_utc": 1700000200, "removed_by_category": "moderator"}}
		]
	}
}`

func TestFetchPageParsesAndFilters(t *testing.T) {
	var gotPath, gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		fmt.Fprint(w, listingBody)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	page, err := client.FetchPage(context.Background(), "golang", model.TimeframeWeek, 25, "")
	require.NoError(t, err)

	assert.Equal(t, "/r/golang/top.json", gotPath)
	assert.Contains(t, gotQuery, "t=week")
	assert.Contains(t, gotQuery, "limit=25")
	assert.NotContains(t, gotQuery, "after=")
	assert.Equal(t, defaultUserAgent, gotAgent)

	// The low-comment and moderator-removed posts are filtered out.
	require.Len(t, page.Posts, 1)
	post := page.Posts[0]
	assert.Equal(t, "aaa", post.ExternalID)
	assert.Equal(t, "keeper", post.Title)
	assert.Equal(t, "body text", post.Content)
	assert.Equal(t, "alice", post.Author)
	assert.Equal(t, 120, post.Score)
	assert.Equal(t, 33, post.NumComments)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), post.PostedAt)
	assert.Contains(t, string(post.Raw), `"upvote_ratio":0.97`)

	assert.Equal(t, "t3_next", page.After)
}

func TestFetchPagePassesCursorAndCapsLimit(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"data": {"after": "", "children": []}}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	page, err := client.FetchPage(context.Background(), "golang", model.TimeframeYear, 500, "t3_prev")
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "limit=100")
	assert.Contains(t, gotQuery, "after=t3_prev")
	assert.Empty(t, page.Posts)
	assert.Empty(t, page.After)
}

func TestFetchPageRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "golang", model.TimeframeDay, 10, "")

	var rateLimited *collection.RateLimitedError
	require.True(t, errors.As(err, &rateLimited))
	assert.Equal(t, 30*time.Second, rateLimited.RetryAfter)
}

func TestFetchPageUnknownSubreddit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "definitely_not_real", model.TimeframeDay, 10, "")
	assert.True(t, errors.Is(err, collection.ErrSourceNotFound))
}

func TestFetchPagePrivateSubreddit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "private_club", model.TimeframeDay, 10, "")
	assert.True(t, errors.Is(err, collection.ErrSourceNotFound))
}

func TestFetchPageServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "golang", model.TimeframeDay, 10, "")
	assert.True(t, errors.Is(err, collection.ErrTransient))
}

func TestFetchPageMalformedBodyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "golang", model.TimeframeDay, 10, "")
	assert.True(t, errors.Is(err, collection.ErrTransient))
}

func TestFetchPageConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := newTestClient(srv.URL)
	_, err := client.FetchPage(context.Background(), "golang", model.TimeframeDay, 10, "")
	assert.True(t, errors.Is(err, collection.ErrTransient))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, 45*time.Second, parseRetryAfter("45"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("-3"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("garbage"))

	// An HTTP date in the future yields roughly the remaining wait.
	at := time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(at)
	assert.Greater(t, d, time.Minute)
	assert.LessOrEqual(t, d, 2*time.Minute)

	// A date in the past falls back to the default.
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(past))
}

// Package collection drives collection cycles: it schedules them, runs them
// against the content provider, upserts what they fetch and publishes
// per-audience progress.
package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/audiencehub/audiencehub/model"
	"github.com/pkg/errors"
)

// Provider failure taxonomy. Transient and rate-limited failures are
// retryable, a missing source is not.
var (
	ErrTransient      = errors.New("transient provider failure")
	ErrSourceNotFound = errors.New("source does not exist")
)

// RateLimitedError signals the provider asked us to back off. RetryAfter is
// the provider-supplied delay; waiting it out does not count against the
// transient retry budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// ProviderPost is one item as yielded by the provider, before it is turned
// into a stored model.Post.
type ProviderPost struct {
	ExternalID  string
	Title       string
	Content     string
	Author      string
	Score       int
	NumComments int
	PostedAt    time.Time
	Raw         []byte
}

// Page is one finite chunk of a source's listing. After is the cursor for
// the next page, empty when the listing is exhausted. A listing cannot be
// re-iterated; callers must issue a fresh FetchPage to restart.
type Page struct {
	Posts []ProviderPost
	After string
}

// Provider produces pages of posts for a source name and time window. Limit
// is a hint for the page size; implementations may return fewer posts.
// Implementations own the global request budget: concurrent callers share
// one pacing policy.
type Provider interface {
	FetchPage(ctx context.Context, source string, window model.Timeframe, limit int, after string) (*Page, error)
}

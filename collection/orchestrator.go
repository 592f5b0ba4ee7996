package collection

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/audiencehub/audiencehub/model"
	"github.com/audiencehub/audiencehub/storage"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

// ErrCycleInFlight is returned when a cycle is triggered for an audience
// whose previous cycle is still running. Callers treat it as a no-op.
var ErrCycleInFlight = errors.New("collection cycle already in flight")

// ItemSink is where collected posts go. Implemented by storage.ItemStore.
type ItemSink interface {
	UpsertBatch(source string, posts []*model.Post) (storage.BatchResult, error)
}

// AudienceReader provides the audience state a cycle needs and mirrors the
// collection status onto durable storage. Implemented by
// storage.AudienceStore.
type AudienceReader interface {
	CollectionConfig(audienceID string) (storage.CollectionConfig, error)
	SetCollecting(audienceID string, collecting bool, progress int) error
}

// CycleResult summarizes one finished collection cycle.
type CycleResult struct {
	Outcome       CycleOutcome
	Progress      int
	Created       int
	Updated       int
	FailedSources []string
}

// Orchestrator runs collection cycles: one at a time per audience, many
// audiences concurrently. Within a cycle sources are processed sequentially
// so progress advances in order and the provider's budget is respected.
type Orchestrator struct {
	provider  Provider
	sink      ItemSink
	audiences AudienceReader
	tracker   Tracker

	maxRetries  int
	baseBackoff time.Duration

	mu      sync.Mutex
	running map[string]bool
}

func NewOrchestrator(provider Provider, sink ItemSink, audiences AudienceReader, tracker Tracker) *Orchestrator {
	return &Orchestrator{
		provider:    provider,
		sink:        sink,
		audiences:   audiences,
		tracker:     tracker,
		maxRetries:  3,
		baseBackoff: time.Second,
		running:     make(map[string]bool),
	}
}

// RunCycle executes one full collection cycle for the audience. A second
// call while one is running returns ErrCycleInFlight without touching any
// state.
func (o *Orchestrator) RunCycle(ctx context.Context, audienceID string) (*CycleResult, error) {
	if !o.tryAcquire(audienceID) {
		return nil, errors.Wrap(ErrCycleInFlight, audienceID)
	}
	defer o.release(audienceID)

	cfg, err := o.audiences.CollectionConfig(audienceID)
	if err != nil {
		// The audience may have been deleted between trigger and execution.
		return nil, err
	}

	Logger.Log.Infof("starting collection cycle for audience %s (%d sources)", audienceID, len(cfg.Sources))
	o.setStatus(audienceID, Status{IsCollecting: true, Progress: 0})

	result := &CycleResult{}
	total := len(cfg.Sources)
	progress := 0
	for i, source := range cfg.Sources {
		if ctx.Err() != nil {
			result.FailedSources = append(result.FailedSources, cfg.Sources[i:]...)
			break
		}
		created, updated, err := o.collectSource(ctx, cfg, source)
		result.Created += created
		result.Updated += updated
		if err != nil {
			result.FailedSources = append(result.FailedSources, source)
			Logger.Log.Warnf("audience %s: collection failed for source %q: %v", audienceID, source, err)
		}
		progress = int(math.Round(100 * float64(i+1) / float64(total)))
		o.setStatus(audienceID, Status{IsCollecting: true, Progress: progress})
	}

	switch {
	case total > 0 && len(result.FailedSources) == total:
		// Keep the last progress value so clients can see where it stalled.
		result.Outcome = OutcomeFailed
		result.Progress = progress
	case len(result.FailedSources) > 0:
		result.Outcome = OutcomePartialFailure
		result.Progress = 100
	default:
		result.Outcome = OutcomeCompleted
		result.Progress = 100
	}
	o.setStatus(audienceID, Status{IsCollecting: false, Progress: result.Progress, Outcome: result.Outcome})

	Logger.Log.Infof("collection cycle for audience %s finished: %s (%d created, %d updated, %d sources failed)",
		audienceID, result.Outcome, result.Created, result.Updated, len(result.FailedSources))
	return result, nil
}

func (o *Orchestrator) tryAcquire(audienceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[audienceID] {
		return false
	}
	o.running[audienceID] = true
	return true
}

func (o *Orchestrator) release(audienceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, audienceID)
}

// setStatus mirrors onto the audience row first, then publishes to the
// tracker. When the row is gone the audience was deleted mid-cycle: drop any
// tracker entry instead of resurrecting status for a deleted audience.
func (o *Orchestrator) setStatus(audienceID string, status Status) {
	err := o.audiences.SetCollecting(audienceID, status.IsCollecting, status.Progress)
	if errors.Is(err, storage.ErrAudienceNotFound) {
		o.tracker.Delete(audienceID)
		return
	}
	if err != nil {
		Logger.Log.Warnf("failed to mirror collection status for audience %s: %v", audienceID, err)
	}
	o.tracker.Set(audienceID, status)
}

// collectSource pulls up to cfg.Limit posts for one source, page by page,
// and upserts each page as it arrives. Stops quietly when the source lost
// its last reference mid-cycle.
func (o *Orchestrator) collectSource(ctx context.Context, cfg storage.CollectionConfig, source string) (created int, updated int, err error) {
	after := ""
	remaining := cfg.Limit
	for remaining > 0 {
		page, err := o.fetchWithRetry(ctx, source, cfg.Timeframe, remaining, after)
		if err != nil {
			return created, updated, err
		}
		if len(page.Posts) > remaining {
			page.Posts = page.Posts[:remaining]
		}
		if len(page.Posts) > 0 {
			res, err := o.sink.UpsertBatch(source, toModelPosts(source, page.Posts))
			if errors.Is(err, storage.ErrSourceUnreferenced) {
				// The owning reference disappeared while we were fetching; the
				// sweep already ran, so our writes must stay no-ops.
				Logger.Log.Infof("source %q lost its last reference mid-cycle, dropping fetched posts", source)
				return created, updated, nil
			}
			if err != nil {
				return created, updated, err
			}
			created += res.Created
			updated += res.Updated
			if res.Failed > 0 {
				Logger.Log.Warnf("source %q: %d posts failed to upsert", source, res.Failed)
			}
			remaining -= len(page.Posts)
		}

		// A page can come back empty while more pages exist, e.g. when
		// provider-side filtering drops everything on it. Stop only when the
		// cursor is exhausted or stops advancing.
		if page.After == "" || page.After == after {
			break
		}
		after = page.After
	}
	return created, updated, nil
}

// fetchWithRetry retries transient failures with exponential backoff up to
// maxRetries attempts. Rate-limit waits honor the provider-supplied delay
// and do not consume an attempt. Permanent failures return immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, source string, window model.Timeframe, limit int, after string) (*Page, error) {
	attempt := 0
	for {
		page, err := o.provider.FetchPage(ctx, source, window, limit, after)
		if err == nil {
			return page, nil
		}

		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			Logger.Log.Infof("rate limited on source %q, waiting %s", source, rateLimited.RetryAfter)
			if err := sleepCtx(ctx, rateLimited.RetryAfter); err != nil {
				return nil, err
			}
			continue
		}
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}

		attempt++
		if attempt >= o.maxRetries {
			return nil, errors.Wrapf(err, "giving up on source %q after %d attempts", source, attempt)
		}
		backoff := o.baseBackoff * time.Duration(1<<(attempt-1))
		Logger.Log.Infof("transient failure on source %q (attempt %d), retrying in %s", source, attempt, backoff)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toModelPosts(source string, posts []ProviderPost) []*model.Post {
	res := make([]*model.Post, 0, len(posts))
	now := time.Now()
	for _, p := range posts {
		res = append(res, &model.Post{
			Id:          uuid.New().String(),
			SourceName:  source,
			ExternalID:  p.ExternalID,
			Title:       p.Title,
			Content:     p.Content,
			Author:      p.Author,
			Score:       p.Score,
			NumComments: p.NumComments,
			PostedAt:    p.PostedAt,
			CollectedAt: now,
			Raw:         datatypes.JSON(p.Raw),
		})
	}
	return res
}

package storage

import (
	"testing"
	"time"

	"github.com/audiencehub/audiencehub/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesThenRefreshes(t *testing.T) {
	db, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang"})

	post := newTestPost("golang", "abc123", 10)
	created, err := items.Upsert(post)
	require.NoError(t, err)
	assert.True(t, created)

	var stored model.Post
	require.NoError(t, db.First(&stored, "source_name = ? AND external_id = ?", "golang", "abc123").Error)
	originalID := stored.Id
	originalCreatedAt := stored.CreatedAt

	// Collecting the same post again refreshes the volatile columns only.
	refreshed := newTestPost("golang", "abc123", 42)
	refreshed.NumComments = 99
	refreshed.Title = "a different title that must not win"
	created, err = items.Upsert(refreshed)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, db.First(&stored, "source_name = ? AND external_id = ?", "golang", "abc123").Error)
	assert.Equal(t, originalID, stored.Id)
	assert.Equal(t, originalCreatedAt.Unix(), stored.CreatedAt.Unix())
	assert.Equal(t, 42, stored.Score)
	assert.Equal(t, 99, stored.NumComments)
	assert.Equal(t, "title abc123", stored.Title)

	assert.Equal(t, int64(1), countPosts(t, db, "golang"))
}

func TestUpsertSameExternalIDDifferentSources(t *testing.T) {
	db, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang", "rust"})

	created, err := items.Upsert(newTestPost("golang", "abc123", 1))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = items.Upsert(newTestPost("rust", "abc123", 1))
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, int64(1), countPosts(t, db, "golang"))
	assert.Equal(t, int64(1), countPosts(t, db, "rust"))
}

func TestUpsertRejectsUnreferencedSource(t *testing.T) {
	_, _, items := setupStores(t)

	_, err := items.Upsert(newTestPost("nobody_wants_this", "x-1", 1))
	assert.True(t, errors.Is(err, ErrSourceUnreferenced))

	_, err = items.UpsertBatch("nobody_wants_this", []*model.Post{newTestPost("nobody_wants_this", "x-2", 1)})
	assert.True(t, errors.Is(err, ErrSourceUnreferenced))
}

func TestUpsertRejectsSourceAfterLastReferenceRemoved(t *testing.T) {
	db, audiences, items := setupStores(t)
	a := mustCreateAudience(t, audiences, "audience a", []string{"golang"})
	mustSeedPosts(t, items, "golang", 1)

	require.NoError(t, audiences.Delete(a.Id))

	// The sweep removed the last reference, so a slow in-flight cycle must
	// not be able to write posts back.
	_, err := items.Upsert(newTestPost("golang", "late-arrival", 1))
	assert.True(t, errors.Is(err, ErrSourceUnreferenced))
	assert.Equal(t, int64(0), countPosts(t, db, "golang"))
}

func TestUpsertBatchCountsCreatedAndUpdated(t *testing.T) {
	db, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang"})
	mustSeedPosts(t, items, "golang", 2)

	batch := []*model.Post{
		newTestPost("golang", "golang-post-0", 500), // already stored by the seed
		newTestPost("golang", "fresh-1", 1),
		newTestPost("golang", "fresh-2", 2),
	}
	result, err := items.UpsertBatch("golang", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, int64(4), countPosts(t, db, "golang"))
}

func TestUpsertBatchToleratesBadRow(t *testing.T) {
	db, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang"})

	good := newTestPost("golang", "good-1", 1)
	bad := newTestPost("golang", "bad-1", 1)
	bad.Id = "fixed-id"
	clash := newTestPost("golang", "bad-2", 1)
	clash.Id = "fixed-id" // primary key collision with bad, distinct external id

	result, err := items.UpsertBatch("golang", []*model.Post{good, bad, clash})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)

	// The savepoint rollback confined the damage to the clashing row.
	assert.Equal(t, int64(2), countPosts(t, db, "golang"))
}

func TestCountBySource(t *testing.T) {
	_, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang"})
	mustSeedPosts(t, items, "golang", 3)

	count, err := items.CountBySource("golang")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = items.CountBySource("never_collected")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestUpsertFillsDefaults(t *testing.T) {
	db, audiences, items := setupStores(t)
	mustCreateAudience(t, audiences, "audience a", []string{"golang"})

	post := newTestPost("golang", "abc123", 1)
	post.Id = ""
	post.CollectedAt = time.Time{}
	_, err := items.Upsert(post)
	require.NoError(t, err)

	var stored model.Post
	require.NoError(t, db.First(&stored, "source_name = ? AND external_id = ?", "golang", "abc123").Error)
	assert.NotEmpty(t, stored.Id)
	assert.False(t, stored.CollectedAt.IsZero())
}

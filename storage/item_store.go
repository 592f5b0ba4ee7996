package storage

import (
	"time"

	"github.com/audiencehub/audiencehub/model"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSourceUnreferenced is returned when a write is attempted for a source no
// audience references anymore. Collection cycles treat it as a harmless
// no-op: it only happens when the owning audience was deleted mid-cycle and
// the sweep already ran (check-before-write policy).
var ErrSourceUnreferenced = errors.New("source is not referenced by any audience")

// BatchResult reports per-item outcomes of a batched upsert.
type BatchResult struct {
	Created int
	Updated int
	Failed  int
}

// ItemStore persists collected posts keyed by (source_name, external_id).
type ItemStore struct {
	db *gorm.DB
}

func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

// UpsertBatch writes posts for one source inside a single transaction.
//
// The transaction first locks the Source row and verifies the source is still
// referenced; a zero count aborts the whole batch with ErrSourceUnreferenced
// so a slow in-flight cycle can never resurrect posts after a sweep. A
// failure on one post's write rolls back to a savepoint and continues with
// the next post, so one bad row does not abort the batch.
func (s *ItemStore) UpsertBatch(source string, posts []*model.Post) (BatchResult, error) {
	var result BatchResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockAndCheckReferenced(tx, source); err != nil {
			return err
		}
		for _, post := range posts {
			post.SourceName = source
			tx.SavePoint("upsert_item")
			created, err := upsertOne(tx, post)
			if err != nil {
				tx.RollbackTo("upsert_item")
				result.Failed++
				Logger.Log.Warnf("failed to upsert post %s/%s: %v", source, post.ExternalID, err)
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	return result, err
}

// Upsert writes a single post under the same reference guard as UpsertBatch.
// Returns true iff the post was newly created.
func (s *ItemStore) Upsert(post *model.Post) (bool, error) {
	var created bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockAndCheckReferenced(tx, post.SourceName); err != nil {
			return err
		}
		var err error
		created, err = upsertOne(tx, post)
		return err
	})
	return created, err
}

// CountBySource returns the number of stored posts for a source.
func (s *ItemStore) CountBySource(source string) (int64, error) {
	var count int64
	err := s.db.Model(&model.Post{}).Where("source_name = ?", source).Count(&count).Error
	return count, err
}

func lockAndCheckReferenced(tx *gorm.DB, source string) error {
	var src model.Source
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", source).
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(ErrSourceUnreferenced, "no source row for %q", source)
	}
	if err != nil {
		return err
	}
	count, err := ReferenceCount(tx, source)
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrapf(ErrSourceUnreferenced, "reference count for %q is zero", source)
	}
	return nil
}

// upsertOne performs the atomic insert-or-refresh. On conflict with an
// existing (source_name, external_id) row only the refresh columns are
// overwritten; the original id, created_at and posted_at are preserved.
func upsertOne(tx *gorm.DB, post *model.Post) (bool, error) {
	if post.Id == "" {
		post.Id = uuid.New().String()
	}
	if post.CollectedAt.IsZero() {
		post.CollectedAt = time.Now()
	}

	// The Source row is locked for the whole batch, so writers for the same
	// source are serialized and this pre-check cannot race with the upsert
	// below. Cross-source writers never conflict on the unique key.
	var existing int64
	if err := tx.Model(&model.Post{}).
		Where("source_name = ? AND external_id = ?", post.SourceName, post.ExternalID).
		Count(&existing).Error; err != nil {
		return false, err
	}

	res := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_name"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score":        post.Score,
			"num_comments": post.NumComments,
			"collected_at": post.CollectedAt,
			"raw":          post.Raw,
		}),
	}).Create(post)
	if res.Error != nil {
		return false, res.Error
	}
	return existing == 0, nil
}

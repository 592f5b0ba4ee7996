package storage

import (
	"github.com/audiencehub/audiencehub/model"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRetentionViolation indicates the sweep found durable state that breaks
// the retention invariants. The enclosing transaction must be aborted; this
// is a configuration-level failure, not a transient one.
var ErrRetentionViolation = errors.New("retention invariant violated")

// EvaluateAndSweep checks each given source and, when no audience references
// it anymore, deletes all its posts, the theme associations pointing at those
// posts, and the now-orphaned source metadata row. Sources that are still
// referenced are left untouched.
//
// It must run inside the same transaction as the reference removal that may
// have driven a count to zero; the Source row is locked FOR UPDATE so that
// sweep decisions and concurrent post writes for the same source are
// linearized. Returns the number of posts deleted per swept source.
func EvaluateAndSweep(tx *gorm.DB, sources []string) (map[string]int64, error) {
	deleted := make(map[string]int64)
	for _, source := range sources {
		n, err := sweepOne(tx, source)
		if err != nil {
			return nil, err
		}
		if n >= 0 {
			deleted[source] = n
		}
	}
	return deleted, nil
}

// sweepOne returns the number of posts deleted, or -1 if the source is still
// referenced and nothing was touched.
func sweepOne(tx *gorm.DB, source string) (int64, error) {
	var src model.Source
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", source).
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No metadata row means no writer ever went through the reference
		// path for this source. There must be nothing to sweep.
		var orphans int64
		if err := tx.Model(&model.Post{}).Where("source_name = ?", source).Count(&orphans).Error; err != nil {
			return 0, err
		}
		if orphans > 0 {
			return 0, errors.Wrapf(ErrRetentionViolation, "%d posts exist for source %q without a source row", orphans, source)
		}
		return -1, nil
	}
	if err != nil {
		return 0, err
	}

	count, err := ReferenceCount(tx, source)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return -1, nil
	}

	var postIds []string
	if err := tx.Model(&model.Post{}).Where("source_name = ?", source).Pluck("id", &postIds).Error; err != nil {
		return 0, err
	}
	if len(postIds) > 0 {
		if err := tx.Where("post_id IN ?", postIds).Delete(&model.ThemePost{}).Error; err != nil {
			return 0, err
		}
	}
	res := tx.Where("source_name = ?", source).Delete(&model.Post{})
	if res.Error != nil {
		return 0, res.Error
	}
	if err := tx.Where("name = ?", source).Delete(&model.Source{}).Error; err != nil {
		return 0, err
	}

	Logger.Log.Infof("swept source %q: deleted %d posts", source, res.RowsAffected)
	return res.RowsAffected, nil
}

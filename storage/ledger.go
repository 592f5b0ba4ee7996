// Package storage owns all durable state: audiences, the audience->source
// reference ledger, collected posts and the retention sweep that ties their
// lifecycles together. Every mutator that can change a source's reference
// count takes the caller's transaction handle so retention decisions always
// see a consistent snapshot.
package storage

import (
	"github.com/audiencehub/audiencehub/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddReference records that an audience references a source. Adding an
// already existing reference is a no-op.
func AddReference(tx *gorm.DB, audienceID string, source string) error {
	ref := model.AudienceSource{
		AudienceID: audienceID,
		SourceName: source,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref).Error
}

// RemoveReference drops the (audience, source) reference. Removing a
// non-existent reference is a no-op, not an error.
func RemoveReference(tx *gorm.DB, audienceID string, source string) error {
	return tx.
		Where("audience_id = ? AND source_name = ?", audienceID, source).
		Delete(&model.AudienceSource{}).Error
}

// ReferenceCount returns how many audiences currently reference the source.
// The count is always derived by query, never stored, so concurrent writers
// cannot make it drift.
func ReferenceCount(tx *gorm.DB, source string) (int64, error) {
	var count int64
	err := tx.Model(&model.AudienceSource{}).
		Where("source_name = ?", source).
		Count(&count).Error
	return count, err
}

// SourcesForAudience returns the names of all sources the audience
// references.
func SourcesForAudience(tx *gorm.DB, audienceID string) ([]string, error) {
	var sources []string
	err := tx.Model(&model.AudienceSource{}).
		Where("audience_id = ?", audienceID).
		Order("source_name").
		Pluck("source_name", &sources).Error
	return sources, err
}

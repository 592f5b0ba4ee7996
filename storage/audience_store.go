package storage

import (
	"strings"
	"time"

	"github.com/audiencehub/audiencehub/model"
	"github.com/audiencehub/audiencehub/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAudienceNotFound = errors.New("audience not found")
	ErrInvalidAudience  = errors.New("invalid audience configuration")
)

// AudienceInput is the payload for creating an audience.
type AudienceInput struct {
	Name           string
	Description    string
	Timeframe      model.Timeframe
	PostsPerSource int
	SourceNames    []string
}

// AudienceUpdate is a partial update; nil fields are left unchanged. A
// non-nil SourceNames replaces the audience's source set wholesale.
type AudienceUpdate struct {
	Name           *string
	Description    *string
	Timeframe      *model.Timeframe
	PostsPerSource *int
	SourceNames    []string
}

// AudienceDetails is an audience plus the derived fields clients display.
type AudienceDetails struct {
	model.Audience
	SourceNames []string
	PostCount   int64
}

// CollectionConfig is the slice of audience state a collection cycle needs.
type CollectionConfig struct {
	AudienceID string
	Sources    []string
	Timeframe  model.Timeframe
	Limit      int
}

// AudienceStore owns audience rows and the reference ledger mutations that go
// with audience-level operations. Removing references and sweeping newly
// unreferenced sources always happen in one transaction.
type AudienceStore struct {
	db *gorm.DB
}

func NewAudienceStore(db *gorm.DB) *AudienceStore {
	return &AudienceStore{db: db}
}

func (s *AudienceStore) Create(input AudienceInput) (*AudienceDetails, error) {
	if input.Timeframe == "" {
		input.Timeframe = model.TimeframeYear
	}
	if input.PostsPerSource == 0 {
		input.PostsPerSource = model.MaxPostsPerSource
	}
	if err := validateConfig(input.Name, input.Timeframe, input.PostsPerSource); err != nil {
		return nil, err
	}
	sources := normalizeSources(input.SourceNames)

	audience := model.Audience{
		Id:             uuid.New().String(),
		Name:           input.Name,
		Description:    input.Description,
		Timeframe:      input.Timeframe,
		PostsPerSource: input.PostsPerSource,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&audience).Error; err != nil {
			return err
		}
		for _, source := range sources {
			if err := getOrCreateSource(tx, source); err != nil {
				return err
			}
			if err := AddReference(tx, audience.Id, source); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(audience.Id)
}

func (s *AudienceStore) Get(audienceID string) (*AudienceDetails, error) {
	var audience model.Audience
	err := s.db.First(&audience, "id = ?", audienceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrAudienceNotFound, audienceID)
	}
	if err != nil {
		return nil, err
	}
	return s.details(&audience)
}

// List returns all audiences, newest first, with their source names and
// aggregate post counts.
func (s *AudienceStore) List() ([]*AudienceDetails, error) {
	var audiences []model.Audience
	if err := s.db.Order("created_at DESC").Find(&audiences).Error; err != nil {
		return nil, err
	}
	res := make([]*AudienceDetails, 0, len(audiences))
	for i := range audiences {
		details, err := s.details(&audiences[i])
		if err != nil {
			return nil, err
		}
		res = append(res, details)
	}
	return res, nil
}

// ListIDs returns the ids of all audiences, used by the recurring scheduler.
func (s *AudienceStore) ListIDs() ([]string, error) {
	var ids []string
	err := s.db.Model(&model.Audience{}).Pluck("id", &ids).Error
	return ids, err
}

// Update applies a partial update. When the source set changes, removed
// references are dropped and their sources swept, added sources are created
// and referenced, and the audience's derived themes are discarded since they
// no longer describe the new source set. All of it commits or none of it
// does.
func (s *AudienceStore) Update(audienceID string, update AudienceUpdate) (*AudienceDetails, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var audience model.Audience
		err := tx.First(&audience, "id = ?", audienceID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(ErrAudienceNotFound, audienceID)
		}
		if err != nil {
			return err
		}

		if update.Name != nil {
			audience.Name = *update.Name
		}
		if update.Description != nil {
			audience.Description = *update.Description
		}
		if update.Timeframe != nil {
			audience.Timeframe = *update.Timeframe
		}
		if update.PostsPerSource != nil {
			audience.PostsPerSource = *update.PostsPerSource
		}
		if err := validateConfig(audience.Name, audience.Timeframe, audience.PostsPerSource); err != nil {
			return err
		}

		if update.SourceNames != nil {
			desired := normalizeSources(update.SourceNames)
			current, err := SourcesForAudience(tx, audienceID)
			if err != nil {
				return err
			}
			removed := utils.StringSetDiff(current, desired)
			added := utils.StringSetDiff(desired, current)

			if len(removed) > 0 {
				// Themes were derived from the old source set; drop them so the
				// classifier can rebuild from the shrunk one.
				if err := deleteThemesForAudience(tx, audienceID); err != nil {
					return err
				}
			}
			for _, source := range removed {
				if err := RemoveReference(tx, audienceID, source); err != nil {
					return err
				}
			}
			if _, err := EvaluateAndSweep(tx, removed); err != nil {
				return err
			}
			for _, source := range added {
				if err := getOrCreateSource(tx, source); err != nil {
					return err
				}
				if err := AddReference(tx, audienceID, source); err != nil {
					return err
				}
			}
		}

		audience.UpdatedAt = time.Now()
		return tx.Save(&audience).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(audienceID)
}

// Delete removes the audience, its references and audience-scoped themes,
// then sweeps every source it referenced. Posts of sources still referenced
// by other audiences survive untouched.
func (s *AudienceStore) Delete(audienceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var audience model.Audience
		err := tx.First(&audience, "id = ?", audienceID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(ErrAudienceNotFound, audienceID)
		}
		if err != nil {
			return err
		}

		sources, err := SourcesForAudience(tx, audienceID)
		if err != nil {
			return err
		}
		if err := deleteThemesForAudience(tx, audienceID); err != nil {
			return err
		}
		for _, source := range sources {
			if err := RemoveReference(tx, audienceID, source); err != nil {
				return err
			}
		}
		if _, err := EvaluateAndSweep(tx, sources); err != nil {
			return err
		}
		return tx.Delete(&audience).Error
	})
}

// CollectionConfig returns what a cycle needs to run for the audience.
func (s *AudienceStore) CollectionConfig(audienceID string) (CollectionConfig, error) {
	var audience model.Audience
	err := s.db.First(&audience, "id = ?", audienceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CollectionConfig{}, errors.Wrap(ErrAudienceNotFound, audienceID)
	}
	if err != nil {
		return CollectionConfig{}, err
	}
	sources, err := SourcesForAudience(s.db, audienceID)
	if err != nil {
		return CollectionConfig{}, err
	}
	return CollectionConfig{
		AudienceID: audienceID,
		Sources:    sources,
		Timeframe:  audience.Timeframe,
		Limit:      audience.PostsPerSource,
	}, nil
}

// SetCollecting mirrors the in-memory collection status onto the audience
// row so status survives restarts. Returns ErrAudienceNotFound when the row
// is gone so an in-flight cycle knows to stop publishing for it.
func (s *AudienceStore) SetCollecting(audienceID string, collecting bool, progress int) error {
	res := s.db.Model(&model.Audience{}).
		Where("id = ?", audienceID).
		Updates(map[string]interface{}{
			"is_collecting":       collecting,
			"collection_progress": progress,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(ErrAudienceNotFound, audienceID)
	}
	return nil
}

func (s *AudienceStore) details(audience *model.Audience) (*AudienceDetails, error) {
	sources, err := SourcesForAudience(s.db, audience.Id)
	if err != nil {
		return nil, err
	}
	var postCount int64
	if len(sources) > 0 {
		if err := s.db.Model(&model.Post{}).
			Where("source_name IN ?", sources).
			Count(&postCount).Error; err != nil {
			return nil, err
		}
	}
	return &AudienceDetails{
		Audience:    *audience,
		SourceNames: sources,
		PostCount:   postCount,
	}, nil
}

func validateConfig(name string, timeframe model.Timeframe, postsPerSource int) error {
	if strings.TrimSpace(name) == "" {
		return errors.Wrap(ErrInvalidAudience, "name must not be empty")
	}
	if !timeframe.IsValid() {
		return errors.Wrapf(ErrInvalidAudience, "unknown timeframe %q", timeframe)
	}
	if postsPerSource < model.MinPostsPerSource || postsPerSource > model.MaxPostsPerSource {
		return errors.Wrapf(ErrInvalidAudience, "posts per source must be in [%d, %d]", model.MinPostsPerSource, model.MaxPostsPerSource)
	}
	return nil
}

// normalizeSources lowercases and dedupes, preserving first-seen order.
func normalizeSources(names []string) []string {
	res := []string{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || utils.ContainsString(res, name) {
			continue
		}
		res = append(res, name)
	}
	return res
}

// getOrCreateSource reads the Source row FOR UPDATE before creating it. A
// concurrent sweep holds the same lock while deciding whether to delete the
// row, so an addition either waits for the sweep to finish (and re-creates
// the row) or makes the sweep see the new reference. A plain read here could
// commit a reference against a row the sweep is about to delete.
func getOrCreateSource(tx *gorm.DB, name string) error {
	var source model.Source
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		source = model.Source{
			Name:        name,
			DisplayName: name,
			LastUpdated: time.Now(),
		}
		// Two creators can race past the locked read when no row exists yet;
		// losing the insert race is fine, the row is there either way.
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&source).Error
	}
	return err
}

// deleteThemesForAudience cascades theme questions and theme->post
// associations before the themes themselves. Only rows scoped to this
// audience are touched.
func deleteThemesForAudience(tx *gorm.DB, audienceID string) error {
	var themeIds []string
	if err := tx.Model(&model.Theme{}).
		Where("audience_id = ?", audienceID).
		Pluck("id", &themeIds).Error; err != nil {
		return err
	}
	if len(themeIds) == 0 {
		return nil
	}
	if err := tx.Where("theme_id IN ?", themeIds).Delete(&model.ThemeQuestion{}).Error; err != nil {
		return err
	}
	if err := tx.Where("theme_id IN ?", themeIds).Delete(&model.ThemePost{}).Error; err != nil {
		return err
	}
	return tx.Where("audience_id = ?", audienceID).Delete(&model.Theme{}).Error
}

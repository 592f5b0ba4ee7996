package model

import "time"

/*

AudienceSource is the join between an Audience and a Source

One row per (audience, source) pair. Its existence is what keeps a source's
posts alive: the retention sweep deletes a source's posts only when no
AudienceSource row for that source remains.

AudienceID: owning audience
SourceName: referenced source, lowercased
AddedAt: time when the reference was created
*/
type AudienceSource struct {
	AudienceID string    `gorm:"primaryKey"`
	SourceName string    `gorm:"primaryKey"`
	AddedAt    time.Time `gorm:"autoCreateTime"`
}

func (AudienceSource) TableName() string {
	return "audience_sources"
}

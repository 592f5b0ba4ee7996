package model

import "time"

/*

Theme is a topic bucket derived from an audience's collected posts

The classification that fills these tables lives outside this service; the
models exist here because their rows must cascade with their parents: themes
(and their questions) go away with the owning audience, theme_posts go away
with either their theme or their post.

Id: primary key
AudienceID: owning audience
Category: bucket name, e.g. "Hot Discussions"
Summary: short description of the bucket
*/
type Theme struct {
	Id         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	AudienceID string `gorm:"index"`
	Category   string
	Summary    string
}

// ThemePost associates a post with a theme. RelevanceScore is produced by the
// external classifier.
type ThemePost struct {
	ThemeID        string `gorm:"primaryKey"`
	PostID         string `gorm:"primaryKey"`
	RelevanceScore float64
	AddedAt        time.Time `gorm:"autoCreateTime"`
}

// ThemeQuestion is a generated question attached to a theme.
type ThemeQuestion struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	ThemeID   string `gorm:"index"`
	Question  string
}

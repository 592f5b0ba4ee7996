package model

import (
	"time"

	"gorm.io/gorm"
)

// Timeframe is the collection time window configured on an Audience. It maps
// directly to the window accepted by the content provider.
type Timeframe string

const (
	TimeframeHour  Timeframe = "hour"
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// IsValid returns true iff the timeframe is one of the supported windows.
func (t Timeframe) IsValid() bool {
	switch t {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return true
	}
	return false
}

const (
	// MinPostsPerSource and MaxPostsPerSource bound the per-source collection
	// limit configurable on an Audience.
	MinPostsPerSource = 1
	MaxPostsPerSource = 500
)

/*

Audience is a named collection of sources plus collection configuration

Id: primary key, use to identify an audience
CreatedAt: time when entity is created
UpdatedAt: time when entity is last modified
DeletedAt: time when entity is deleted

Name: audience's display name
Description: optional free-form description
Timeframe: time window posts are collected from, one of hour/day/week/month/year
PostsPerSource: how many posts to collect per source in one cycle, 1..500

IsCollecting: true while a collection cycle is in flight for this audience
CollectionProgress: 0-100, advances per completed source within a cycle

Sources: the audience -> source references, "has-many" relation. Each row is
the unit of demand keeping a source's posts retained.
Themes: derived annotations scoped to this audience, removed with it.
*/
type Audience struct {
	Id                 string `gorm:"primaryKey"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          gorm.DeletedAt
	Name               string
	Description        string
	Timeframe          Timeframe `gorm:"default:year"`
	PostsPerSource     int       `gorm:"default:500"`
	IsCollecting       bool
	CollectionProgress int

	Sources []AudienceSource `gorm:"foreignKey:AudienceID;constraint:OnDelete:CASCADE;"`
	Themes  []Theme          `gorm:"foreignKey:AudienceID;constraint:OnDelete:CASCADE;"`
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

/*

Post is a piece of content collected from a source

Id: primary key
SourceName: source the post was collected from, part of the (source, external
id) unique key
ExternalID: the id used by the provider, unique within a source

Title: post's title in plain text
Content: post's body in plain text
Author: provider-side author name
Score: provider score, refreshed on re-collection
NumComments: comment count, refreshed on re-collection
PostedAt: original creation time on the provider, never changed once stored
CollectedAt: last time this post was (re-)collected
Raw: raw provider payload for fields we don't model explicitly

CreatedAt: time when entity is first stored

A post has no single owning audience. It is retained as long as at least one
AudienceSource row references its SourceName and deleted by the retention
sweep when the last reference goes away.
*/
type Post struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	SourceName  string `gorm:"uniqueIndex:idx_posts_source_external"`
	ExternalID  string `gorm:"uniqueIndex:idx_posts_source_external"`
	Title       string
	Content     string
	Author      string
	Score       int
	NumComments int
	PostedAt    time.Time
	CollectedAt time.Time
	Raw         datatypes.JSON
}

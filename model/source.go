package model

import "time"

/*

Source is per-source metadata for an external content origin

Example: a subreddit

Name: primary key, the lowercased community name
DisplayName: name as shown by the provider
Subscribers: provider-reported subscriber count, best effort
CreatedAt: time when entity is created
LastUpdated: last time metadata was refreshed from the provider

A Source row is created lazily when the first audience references it and is
deleted by the retention sweep together with its posts once no audience
references it anymore.
*/
type Source struct {
	Name        string `gorm:"primaryKey"`
	DisplayName string
	Subscribers int
	CreatedAt   time.Time
	LastUpdated time.Time
}

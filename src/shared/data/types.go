package data

import "time"

// Notification type filters for a channel.
const (
	NotifyAll      = "all"
	NotifyMachines = "machines"
	NotifyComments = "comments"
)

// Target types
const (
	TargetLocation    = "location"
	TargetCoordinates = "coordinates"
)

// MinPollRateMinutes is the floor for a channel's polling interval.
const MinPollRateMinutes = 15

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}

// Per-channel monitoring configuration, created lazily on the first
// configuration command for a channel.
type ChannelConfig struct {
	ID                uint64 `gorm:"primaryKey"`
	ChannelID         string `gorm:"size:64;uniqueIndex;not null"`
	GuildID           string `gorm:"size:64;index"`
	IsActive          bool   `gorm:"default:true"`
	PollRateMinutes   int    `gorm:"default:60"`
	NotificationTypes string `gorm:"size:16;default:all"`
	LastPollTime      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// A location or coordinate area a channel monitors. TargetKey is the
// canonical form ("loc:<id>" or "coord:<lat>:<lon>:<radius>") and is unique
// per channel.
type MonitoringTarget struct {
	ID           uint64 `gorm:"primaryKey"`
	ChannelID    string `gorm:"size:64;uniqueIndex:idx_channel_target;not null"`
	TargetKey    string `gorm:"size:96;uniqueIndex:idx_channel_target;not null"`
	TargetType   string `gorm:"size:16;not null"`
	LocationID   int64
	LocationName string `gorm:"size:255"`
	Latitude     float64
	Longitude    float64
	RadiusMiles  float64
	CreatedAt    time.Time
}

// A submission already notified to a channel. Rows are recorded per target
// key but dedup reads are channel-wide, so overlapping targets in one channel
// cannot double-notify the same submission.
type SeenSubmission struct {
	ID           uint64 `gorm:"primaryKey"`
	ChannelID    string `gorm:"size:64;uniqueIndex:idx_channel_seen;not null"`
	TargetKey    string `gorm:"size:96;uniqueIndex:idx_channel_seen;not null"`
	SubmissionID int64  `gorm:"uniqueIndex:idx_channel_seen;not null"`
	CreatedAt    time.Time
}

// AllModels is the AutoMigrate set.
var AllModels = []interface{}{
	&Setting{},
	&ChannelConfig{},
	&MonitoringTarget{},
	&SeenSubmission{},
}

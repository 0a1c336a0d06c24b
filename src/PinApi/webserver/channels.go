package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/shared/data"
)

type channelSummary struct {
	ChannelID         string     `json:"channelId"`
	GuildID           string     `json:"guildId"`
	IsActive          bool       `json:"isActive"`
	PollRateMinutes   int        `json:"pollRateMinutes"`
	NotificationTypes string     `json:"notificationTypes"`
	LastPollTime      *time.Time `json:"lastPollTime"`
	TargetCount       int64      `json:"targetCount"`
}

type targetView struct {
	TargetKey    string  `json:"targetKey"`
	TargetType   string  `json:"targetType"`
	LocationID   int64   `json:"locationId,omitempty"`
	LocationName string  `json:"locationName,omitempty"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	RadiusMiles  float64 `json:"radiusMiles,omitempty"`
}

func attachRoutes(g *gin.Engine, db *gorm.DB) {
	v1 := g.Group("/v1")
	v1.GET("/health", handleHealth(db))
	v1.GET("/channels", handleListChannels(db))
	v1.GET("/channels/:id", handleGetChannel(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleListChannels(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var channels []data.ChannelConfig
		if err := db.Find(&channels).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		out := make([]channelSummary, 0, len(channels))
		for _, ch := range channels {
			var targetCount int64
			db.Model(&data.MonitoringTarget{}).Where("channel_id = ?", ch.ChannelID).Count(&targetCount)
			out = append(out, channelSummary{
				ChannelID:         ch.ChannelID,
				GuildID:           ch.GuildID,
				IsActive:          ch.IsActive,
				PollRateMinutes:   ch.PollRateMinutes,
				NotificationTypes: ch.NotificationTypes,
				LastPollTime:      ch.LastPollTime,
				TargetCount:       targetCount,
			})
		}
		c.JSON(http.StatusOK, gin.H{"channels": out})
	}
}

func handleGetChannel(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("id")

		var cfg data.ChannelConfig
		if err := db.Where("channel_id = ?", channelID).First(&cfg).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}

		var targets []data.MonitoringTarget
		if err := db.Where("channel_id = ?", channelID).Order("created_at ASC").Find(&targets).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		var seenCount int64
		db.Model(&data.SeenSubmission{}).Where("channel_id = ?", channelID).Count(&seenCount)

		views := make([]targetView, 0, len(targets))
		for _, t := range targets {
			views = append(views, targetView{
				TargetKey:    t.TargetKey,
				TargetType:   t.TargetType,
				LocationID:   t.LocationID,
				LocationName: t.LocationName,
				Latitude:     t.Latitude,
				Longitude:    t.Longitude,
				RadiusMiles:  t.RadiusMiles,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"channel": channelSummary{
				ChannelID:         cfg.ChannelID,
				GuildID:           cfg.GuildID,
				IsActive:          cfg.IsActive,
				PollRateMinutes:   cfg.PollRateMinutes,
				NotificationTypes: cfg.NotificationTypes,
				LastPollTime:      cfg.LastPollTime,
				TargetCount:       int64(len(targets)),
			},
			"targets":   views,
			"seenCount": seenCount,
		})
	}
}

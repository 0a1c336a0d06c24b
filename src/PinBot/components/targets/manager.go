package targets

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

var (
	ErrDuplicateTarget = errors.New("target already monitored in this channel")
	ErrTargetNotFound  = errors.New("target not monitored in this channel")
	ErrValidation      = errors.New("validation failed")
)

// DefaultRadiusMiles applies when a coordinate target omits the radius.
const DefaultRadiusMiles = 25

// MaxRadiusMiles bounds coordinate targets to something the API will serve.
const MaxRadiusMiles = 250

// Manager owns monitoring targets and channel configuration rows.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// LocationKey is the canonical target key for a location id.
func LocationKey(locationID int64) string {
	return fmt.Sprintf("loc:%d", locationID)
}

// CoordKey is the canonical target key for a coordinate area.
func CoordKey(lat, lon, radius float64) string {
	return fmt.Sprintf("coord:%.4f:%.4f:%.0f", lat, lon, radius)
}

// EnsureChannel returns the channel's config, creating it with defaults on
// the first configuration command.
func (m *Manager) EnsureChannel(channelID, guildID string) (*data.ChannelConfig, error) {
	var cfg data.ChannelConfig
	err := m.db.Where(data.ChannelConfig{ChannelID: channelID}).
		Attrs(data.ChannelConfig{
			GuildID:           guildID,
			IsActive:          true,
			PollRateMinutes:   60,
			NotificationTypes: data.NotifyAll,
		}).
		FirstOrCreate(&cfg).Error
	if err != nil {
		return nil, fmt.Errorf("ensure channel %s: %w", channelID, err)
	}
	return &cfg, nil
}

// GetChannel returns the channel's config without creating it.
func (m *Manager) GetChannel(channelID string) (*data.ChannelConfig, error) {
	var cfg data.ChannelConfig
	if err := m.db.Where("channel_id = ?", channelID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AddLocationTarget registers a resolved location for monitoring.
func (m *Manager) AddLocationTarget(channelID, guildID string, loc *pinmap.Location) error {
	target := data.MonitoringTarget{
		ChannelID:    channelID,
		TargetKey:    LocationKey(loc.ID),
		TargetType:   data.TargetLocation,
		LocationID:   loc.ID,
		LocationName: loc.Name,
		CreatedAt:    time.Now(),
	}
	return m.addTarget(channelID, guildID, target)
}

// AddCoordinateTarget registers a coordinate area for monitoring. A zero
// radius takes the default.
func (m *Manager) AddCoordinateTarget(channelID, guildID string, lat, lon, radius float64, label string) error {
	if radius == 0 {
		radius = DefaultRadiusMiles
	}
	if err := ValidateCoordinates(lat, lon, radius); err != nil {
		return err
	}
	target := data.MonitoringTarget{
		ChannelID:    channelID,
		TargetKey:    CoordKey(lat, lon, radius),
		TargetType:   data.TargetCoordinates,
		LocationName: label,
		Latitude:     lat,
		Longitude:    lon,
		RadiusMiles:  radius,
		CreatedAt:    time.Now(),
	}
	return m.addTarget(channelID, guildID, target)
}

func (m *Manager) addTarget(channelID, guildID string, target data.MonitoringTarget) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var cfg data.ChannelConfig
		err := tx.Where(data.ChannelConfig{ChannelID: channelID}).
			Attrs(data.ChannelConfig{
				GuildID:           guildID,
				IsActive:          true,
				PollRateMinutes:   60,
				NotificationTypes: data.NotifyAll,
			}).
			FirstOrCreate(&cfg).Error
		if err != nil {
			return err
		}

		var existing data.MonitoringTarget
		err = tx.Where("channel_id = ? AND target_key = ?", channelID, target.TargetKey).
			First(&existing).Error
		if err == nil {
			return ErrDuplicateTarget
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&target).Error
	})
}

// RemoveTarget drops a target by its canonical key.
func (m *Manager) RemoveTarget(channelID, targetKey string) error {
	result := m.db.Where("channel_id = ? AND target_key = ?", channelID, targetKey).
		Delete(&data.MonitoringTarget{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// ListTargets returns the channel's targets in registration order.
func (m *Manager) ListTargets(channelID string) ([]data.MonitoringTarget, error) {
	var targets []data.MonitoringTarget
	err := m.db.Where("channel_id = ?", channelID).
		Order("created_at ASC").
		Find(&targets).Error
	return targets, err
}

// SetInterval updates the channel's poll rate. Values below the minimum are
// rejected before any write.
func (m *Manager) SetInterval(channelID, guildID string, minutes int) error {
	if minutes < data.MinPollRateMinutes {
		return fmt.Errorf("%w: interval must be at least %d minutes", ErrValidation, data.MinPollRateMinutes)
	}
	if _, err := m.EnsureChannel(channelID, guildID); err != nil {
		return err
	}
	return m.db.Model(&data.ChannelConfig{}).
		Where("channel_id = ?", channelID).
		Update("poll_rate_minutes", minutes).Error
}

// SetNotifications updates the channel's notification type filter.
func (m *Manager) SetNotifications(channelID, guildID, types string) error {
	switch types {
	case data.NotifyAll, data.NotifyMachines, data.NotifyComments:
	default:
		return fmt.Errorf("%w: notification type must be all, machines or comments", ErrValidation)
	}
	if _, err := m.EnsureChannel(channelID, guildID); err != nil {
		return err
	}
	return m.db.Model(&data.ChannelConfig{}).
		Where("channel_id = ?", channelID).
		Update("notification_types", types).Error
}

// SetActive starts or stops monitoring for a channel.
func (m *Manager) SetActive(channelID, guildID string, active bool) error {
	if _, err := m.EnsureChannel(channelID, guildID); err != nil {
		return err
	}
	return m.db.Model(&data.ChannelConfig{}).
		Where("channel_id = ?", channelID).
		Update("is_active", active).Error
}

// ValidateCoordinates rejects out-of-range coordinates and radii before any
// persistence or API call.
func ValidateCoordinates(lat, lon, radius float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrValidation)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrValidation)
	}
	if radius < 1 || radius > MaxRadiusMiles {
		return fmt.Errorf("%w: radius must be between 1 and %d miles", ErrValidation, MaxRadiusMiles)
	}
	return nil
}

package monitor

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flipstack/pinbot/src/shared/data"
)

// Store is the persistence surface one poll cycle needs. The gorm
// implementation below is what production runs; tests inject fakes.
type Store interface {
	GetActiveChannels() ([]data.ChannelConfig, error)
	GetChannel(channelID string) (*data.ChannelConfig, error)
	GetTargets(channelID string) ([]data.MonitoringTarget, error)
	// GetSeenSubmissionIDs is channel-wide so overlapping targets cannot
	// double-notify the same submission.
	GetSeenSubmissionIDs(channelID string) (map[int64]struct{}, error)
	// TargetHasHistory reports whether a target has ever recorded a seen
	// snapshot; a target without history seeds silently on its first fetch.
	TargetHasHistory(channelID, targetKey string) (bool, error)
	MarkSubmissionsSeen(channelID, targetKey string, ids []int64) error
	UpdateLastPollTime(channelID string, t time.Time) error
	PruneSeenBefore(cutoff time.Time) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetActiveChannels() ([]data.ChannelConfig, error) {
	var channels []data.ChannelConfig
	err := s.db.Where("is_active = ?", true).Find(&channels).Error
	return channels, err
}

func (s *GormStore) GetChannel(channelID string) (*data.ChannelConfig, error) {
	var cfg data.ChannelConfig
	if err := s.db.Where("channel_id = ?", channelID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *GormStore) GetTargets(channelID string) ([]data.MonitoringTarget, error) {
	var targets []data.MonitoringTarget
	err := s.db.Where("channel_id = ?", channelID).
		Order("created_at ASC").
		Find(&targets).Error
	return targets, err
}

func (s *GormStore) GetSeenSubmissionIDs(channelID string) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.Model(&data.SeenSubmission{}).
		Where("channel_id = ?", channelID).
		Pluck("submission_id", &ids).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen, nil
}

func (s *GormStore) TargetHasHistory(channelID, targetKey string) (bool, error) {
	var count int64
	err := s.db.Model(&data.SeenSubmission{}).
		Where("channel_id = ? AND target_key = ?", channelID, targetKey).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// MarkSubmissionsSeen records the full fetched snapshot. Already-seen rows
// are ignored on conflict, which makes the write a set union.
func (s *GormStore) MarkSubmissionsSeen(channelID, targetKey string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]data.SeenSubmission, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		rows = append(rows, data.SeenSubmission{
			ChannelID:    channelID,
			TargetKey:    targetKey,
			SubmissionID: id,
			CreatedAt:    now,
		})
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *GormStore) UpdateLastPollTime(channelID string, t time.Time) error {
	return s.db.Model(&data.ChannelConfig{}).
		Where("channel_id = ?", channelID).
		Update("last_poll_time", t).Error
}

func (s *GormStore) PruneSeenBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&data.SeenSubmission{})
	return result.RowsAffected, result.Error
}

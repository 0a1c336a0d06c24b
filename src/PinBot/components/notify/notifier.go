package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"

	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

// MessageSender is the one chat operation dispatch needs.
type MessageSender interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
}

// DiscordSender sends through a live discordgo session.
type DiscordSender struct {
	Session *discordgo.Session
}

func (d *DiscordSender) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := d.Session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// Notifier groups detected events, filters them by the channel's
// notification setting and posts one embed per group per target.
type Notifier struct {
	sender MessageSender
	rdb    *redis.Client
	policy *bluemonday.Policy
}

func New(sender MessageSender, rdb *redis.Client) *Notifier {
	return &Notifier{
		sender: sender,
		rdb:    rdb,
		policy: bluemonday.StrictPolicy(),
	}
}

var groupOrder = []string{pinmap.ChangeAdded, pinmap.ChangeRemoved, pinmap.ChangeComment}

// Dispatch is fire and forget: send failures are logged, never propagated,
// so a permanently broken channel cannot re-notify forever.
func (n *Notifier) Dispatch(ctx context.Context, cfg data.ChannelConfig, target data.MonitoringTarget, events []pinmap.Submission) {
	filtered := Filter(cfg.NotificationTypes, events)
	if len(filtered) == 0 {
		return
	}

	groups := make(map[string][]pinmap.Submission)
	for _, ev := range filtered {
		groups[ev.ChangeType] = append(groups[ev.ChangeType], ev)
	}

	label := TargetLabel(target)
	for _, changeType := range groupOrder {
		group := groups[changeType]
		if len(group) == 0 {
			continue
		}

		embed := n.buildEmbed(changeType, label, group)
		if err := n.sender.SendEmbed(cfg.ChannelID, embed); err != nil {
			log.Printf("notify: send to channel %s: %v", cfg.ChannelID, err)
		}
		n.publish(ctx, cfg, target, changeType, group)
	}
}

// Filter applies the channel's notification-type setting.
func Filter(types string, events []pinmap.Submission) []pinmap.Submission {
	if types == data.NotifyAll || types == "" {
		return events
	}

	var keep []pinmap.Submission
	for _, ev := range events {
		switch types {
		case data.NotifyMachines:
			if ev.ChangeType == pinmap.ChangeAdded || ev.ChangeType == pinmap.ChangeRemoved {
				keep = append(keep, ev)
			}
		case data.NotifyComments:
			if ev.ChangeType == pinmap.ChangeComment {
				keep = append(keep, ev)
			}
		}
	}
	return keep
}

// TargetLabel is the human name for a target in messages.
func TargetLabel(target data.MonitoringTarget) string {
	if target.TargetType == data.TargetCoordinates {
		if target.LocationName != "" {
			return fmt.Sprintf("%s (%.0f mi radius)", target.LocationName, target.RadiusMiles)
		}
		return fmt.Sprintf("%.4f, %.4f (%.0f mi radius)", target.Latitude, target.Longitude, target.RadiusMiles)
	}
	if target.LocationName != "" {
		return target.LocationName
	}
	return fmt.Sprintf("location #%d", target.LocationID)
}

func (n *Notifier) buildEmbed(changeType, label string, group []pinmap.Submission) *discordgo.MessageEmbed {
	var title string
	var color int
	switch changeType {
	case pinmap.ChangeAdded:
		title = fmt.Sprintf("Machines added near %s", label)
		color = 0x00ff00
	case pinmap.ChangeRemoved:
		title = fmt.Sprintf("Machines removed near %s", label)
		color = 0xff0000
	default:
		title = fmt.Sprintf("New machine comments near %s", label)
		color = 0x0099ff
	}

	lines := make([]string, 0, len(group))
	for _, ev := range group {
		lines = append(lines, n.formatLine(ev))
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Via Pinball Map | %d change(s)", len(group)),
		},
	}
}

func (n *Notifier) formatLine(ev pinmap.Submission) string {
	switch ev.ChangeType {
	case pinmap.ChangeComment:
		// Comment text is third-party content; strip any markup before it
		// reaches the channel.
		comment := n.policy.Sanitize(ev.Comment)
		if len(comment) > 200 {
			comment = comment[:200] + "…"
		}
		return fmt.Sprintf("**%s** at %s: %s", ev.MachineName, ev.LocationName, comment)
	default:
		return fmt.Sprintf("**%s** at %s", ev.MachineName, ev.LocationName)
	}
}

// publish mirrors the dispatched group onto the redis stream for external
// consumers. Best effort.
func (n *Notifier) publish(ctx context.Context, cfg data.ChannelConfig, target data.MonitoringTarget, changeType string, group []pinmap.Submission) {
	if n.rdb == nil {
		return
	}

	ids := make([]string, 0, len(group))
	for _, ev := range group {
		ids = append(ids, fmt.Sprintf("%d", ev.ID))
	}

	err := data.PublishNotification(ctx, n.rdb, map[string]interface{}{
		"event_id":    uuid.NewString(),
		"channel_id":  cfg.ChannelID,
		"guild_id":    cfg.GuildID,
		"target_key":  target.TargetKey,
		"change_type": changeType,
		"submissions": strings.Join(ids, ","),
		"time":        time.Now().Unix(),
	})
	if err != nil {
		log.Printf("notify: publish to stream: %v", err)
	}
}

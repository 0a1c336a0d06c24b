package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/PinBot/components/matcher"
	"github.com/flipstack/pinbot/src/PinBot/components/monitor"
	"github.com/flipstack/pinbot/src/PinBot/components/targets"
	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/geocode"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

const defaultPrefix = "!pinmap"

// TargetManager is the target/channel-config surface commands mutate.
type TargetManager interface {
	AddLocationTarget(channelID, guildID string, loc *pinmap.Location) error
	AddCoordinateTarget(channelID, guildID string, lat, lon, radius float64, label string) error
	RemoveTarget(channelID, targetKey string) error
	ListTargets(channelID string) ([]data.MonitoringTarget, error)
	SetInterval(channelID, guildID string, minutes int) error
	SetNotifications(channelID, guildID, types string) error
	SetActive(channelID, guildID string, active bool) error
	GetChannel(channelID string) (*data.ChannelConfig, error)
}

// Resolver turns user input into candidate locations.
type Resolver interface {
	Resolve(ctx context.Context, input string) matcher.Result
}

// Geocoder resolves a city name to coordinates.
type Geocoder interface {
	CityName(ctx context.Context, city string) (*geocode.Coordinates, error)
}

// Checker runs a manual poll for a channel.
type Checker interface {
	CheckNow(ctx context.Context, channelID string) (int, error)
}

type Config struct {
	Prefix   string
	Targets  TargetManager
	Resolver Resolver
	Geocoder Geocoder
	Checker  Checker
}

// Handler parses and executes channel commands.
type Handler struct {
	config      Config
	rateLimiter *RateLimiter
}

func NewHandler(config Config) *Handler {
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}
	return &Handler{
		config:      config,
		rateLimiter: NewRateLimiter(10 * time.Second),
	}
}

// HandleMessage is the discordgo MessageCreate handler.
func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if !strings.HasPrefix(m.Content, h.config.Prefix) {
		return
	}

	args := strings.Fields(strings.TrimPrefix(m.Content, h.config.Prefix))
	log.Printf("commands: %q from %s in channel %s", strings.Join(args, " "), m.Author.Username, m.ChannelID)

	reply := h.Execute(context.Background(), args, m.ChannelID, m.GuildID, m.Author.ID)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		log.Printf("commands: reply to channel %s: %v", m.ChannelID, err)
	}
}

// Execute runs one parsed command and returns the reply text. Errors are
// always turned into a channel-facing message, never swallowed.
func (h *Handler) Execute(ctx context.Context, args []string, channelID, guildID, userID string) string {
	if len(args) == 0 {
		return h.helpText()
	}

	switch args[0] {
	case "add":
		return h.handleAdd(ctx, args[1:], channelID, guildID)
	case "remove":
		return h.handleRemove(args[1:], channelID)
	case "list":
		return h.handleList(channelID)
	case "check":
		return h.handleCheck(ctx, channelID, userID)
	case "interval":
		return h.handleInterval(args[1:], channelID, guildID)
	case "notifications":
		return h.handleNotifications(args[1:], channelID, guildID)
	case "status":
		return h.handleStatus(channelID)
	case "start":
		return h.handleSetActive(channelID, guildID, true)
	case "stop":
		return h.handleSetActive(channelID, guildID, false)
	case "help":
		return h.helpText()
	default:
		return fmt.Sprintf("Unknown command %q. %s", args[0], h.helpText())
	}
}

func (h *Handler) handleAdd(ctx context.Context, args []string, channelID, guildID string) string {
	if len(args) < 2 {
		return "Usage: add location <id|name>, add coords <lat> <lon> [radius], add city <name> [radius]"
	}

	switch args[0] {
	case "location":
		return h.addLocation(ctx, strings.Join(args[1:], " "), channelID, guildID)
	case "coords":
		return h.addCoords(args[1:], channelID, guildID)
	case "city":
		return h.addCity(ctx, args[1:], channelID, guildID)
	default:
		return "Usage: add location <id|name>, add coords <lat> <lon> [radius], add city <name> [radius]"
	}
}

func (h *Handler) addLocation(ctx context.Context, input, channelID, guildID string) string {
	result := h.config.Resolver.Resolve(ctx, input)

	switch result.Kind {
	case matcher.MatchExact:
		if err := h.config.Targets.AddLocationTarget(channelID, guildID, result.Location); err != nil {
			if errors.Is(err, targets.ErrDuplicateTarget) {
				return fmt.Sprintf("**%s** is already monitored in this channel.", result.Location.Name)
			}
			log.Printf("commands: add location target: %v", err)
			return "Failed to save the monitoring target. Please try again."
		}
		return fmt.Sprintf("Now monitoring **%s** (#%d) in %s, %s.",
			result.Location.Name, result.Location.ID, result.Location.City, result.Location.State)

	case matcher.MatchNotFound:
		return fmt.Sprintf("No location found matching %q.", input)

	case matcher.MatchAmbiguous, matcher.MatchSuggestions:
		return formatSuggestions(input, result.Suggestions)

	default:
		return "Couldn't reach Pinball Map. Please try again later."
	}
}

func formatSuggestions(input string, candidates []pinmap.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d possible match(es) for %q - add one by id:\n", len(candidates), input)
	for _, loc := range candidates {
		fmt.Fprintf(&b, "• **%s** (#%d) - %s, %s\n", loc.Name, loc.ID, loc.City, loc.State)
	}
	b.WriteString("Use `add location <id>` to pick one.")
	return b.String()
}

func (h *Handler) addCoords(args []string, channelID, guildID string) string {
	if len(args) < 2 {
		return "Usage: add coords <lat> <lon> [radius]"
	}
	lat, err1 := strconv.ParseFloat(args[0], 64)
	lon, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		return "Latitude and longitude must be numbers."
	}
	radius := 0.0
	if len(args) > 2 {
		r, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "Radius must be a number of miles."
		}
		radius = r
	}

	err := h.config.Targets.AddCoordinateTarget(channelID, guildID, lat, lon, radius, "")
	return coordAddReply(lat, lon, radius, err)
}

func (h *Handler) addCity(ctx context.Context, args []string, channelID, guildID string) string {
	radius := 0.0
	if len(args) > 1 {
		if r, err := strconv.ParseFloat(args[len(args)-1], 64); err == nil {
			radius = r
			args = args[:len(args)-1]
		}
	}
	city := strings.Join(args, " ")
	if city == "" {
		return "Usage: add city <name> [radius]"
	}

	coords, err := h.config.Geocoder.CityName(ctx, city)
	if err != nil {
		if errors.Is(err, geocode.ErrNoResult) {
			return fmt.Sprintf("Couldn't find coordinates for %q.", city)
		}
		log.Printf("commands: geocode %q: %v", city, err)
		return "Couldn't reach the geocoding service. Please try again later."
	}

	err = h.config.Targets.AddCoordinateTarget(channelID, guildID, coords.Latitude, coords.Longitude, radius, city)
	return coordAddReply(coords.Latitude, coords.Longitude, radius, err)
}

func coordAddReply(lat, lon, radius float64, err error) string {
	if err != nil {
		if errors.Is(err, targets.ErrDuplicateTarget) {
			return "That area is already monitored in this channel."
		}
		if errors.Is(err, targets.ErrValidation) {
			return capitalize(err.Error())
		}
		log.Printf("commands: add coordinate target: %v", err)
		return "Failed to save the monitoring target. Please try again."
	}
	if radius == 0 {
		radius = targets.DefaultRadiusMiles
	}
	return fmt.Sprintf("Now monitoring a %.0f mile radius around %.4f, %.4f.", radius, lat, lon)
}

func (h *Handler) handleRemove(args []string, channelID string) string {
	if len(args) < 2 {
		return "Usage: remove location <id>, remove coords <lat> <lon> [radius]"
	}

	var key string
	switch args[0] {
	case "location":
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "Location id must be a number."
		}
		key = targets.LocationKey(id)
	case "coords":
		if len(args) < 3 {
			return "Usage: remove coords <lat> <lon> [radius]"
		}
		lat, err1 := strconv.ParseFloat(args[1], 64)
		lon, err2 := strconv.ParseFloat(args[2], 64)
		if err1 != nil || err2 != nil {
			return "Latitude and longitude must be numbers."
		}
		radius := float64(targets.DefaultRadiusMiles)
		if len(args) > 3 {
			r, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return "Radius must be a number of miles."
			}
			radius = r
		}
		key = targets.CoordKey(lat, lon, radius)
	default:
		return "Usage: remove location <id>, remove coords <lat> <lon> [radius]"
	}

	if err := h.config.Targets.RemoveTarget(channelID, key); err != nil {
		if errors.Is(err, targets.ErrTargetNotFound) {
			return "That target is not monitored in this channel."
		}
		log.Printf("commands: remove target: %v", err)
		return "Failed to remove the monitoring target. Please try again."
	}
	return "Target removed."
}

func (h *Handler) handleList(channelID string) string {
	list, err := h.config.Targets.ListTargets(channelID)
	if err != nil {
		log.Printf("commands: list targets: %v", err)
		return "Failed to load the target list. Please try again."
	}
	if len(list) == 0 {
		return "No targets monitored in this channel yet. Try `add location <name>`."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Monitoring %d target(s):\n", len(list))
	for _, t := range list {
		switch t.TargetType {
		case data.TargetLocation:
			fmt.Fprintf(&b, "• **%s** (#%d)\n", t.LocationName, t.LocationID)
		default:
			if t.LocationName != "" {
				fmt.Fprintf(&b, "• **%s** - %.0f mi around %.4f, %.4f\n", t.LocationName, t.RadiusMiles, t.Latitude, t.Longitude)
			} else {
				fmt.Fprintf(&b, "• %.0f mi around %.4f, %.4f\n", t.RadiusMiles, t.Latitude, t.Longitude)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) handleCheck(ctx context.Context, channelID, userID string) string {
	if !h.rateLimiter.CanUse(userID) {
		wait := h.rateLimiter.TimeUntilNext(userID)
		return fmt.Sprintf("Please wait %d seconds before checking again.", int(wait.Seconds())+1)
	}

	events, err := h.config.Checker.CheckNow(ctx, channelID)
	if err != nil {
		if errors.Is(err, monitor.ErrPollInProgress) {
			return "A check is already running for this channel."
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "This channel has no monitoring configured yet. Try `add location <name>`."
		}
		log.Printf("commands: manual check for %s: %v", channelID, err)
		return "The check failed. Please try again later."
	}
	if events == 0 {
		return "Manual check complete: nothing new."
	}
	return fmt.Sprintf("Manual check complete: %d new event(s).", events)
}

func (h *Handler) handleInterval(args []string, channelID, guildID string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: interval <minutes> (minimum %d)", data.MinPollRateMinutes)
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return "Interval must be a whole number of minutes."
	}

	if err := h.config.Targets.SetInterval(channelID, guildID, minutes); err != nil {
		if errors.Is(err, targets.ErrValidation) {
			return capitalize(err.Error())
		}
		log.Printf("commands: set interval: %v", err)
		return "Failed to update the interval. Please try again."
	}
	return fmt.Sprintf("Poll interval set to %d minutes.", minutes)
}

func (h *Handler) handleNotifications(args []string, channelID, guildID string) string {
	if len(args) != 1 {
		return "Usage: notifications <all|machines|comments>"
	}

	if err := h.config.Targets.SetNotifications(channelID, guildID, args[0]); err != nil {
		if errors.Is(err, targets.ErrValidation) {
			return capitalize(err.Error())
		}
		log.Printf("commands: set notifications: %v", err)
		return "Failed to update notification settings. Please try again."
	}
	return fmt.Sprintf("Notification type set to %s.", args[0])
}

func (h *Handler) handleStatus(channelID string) string {
	cfg, err := h.config.Targets.GetChannel(channelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "This channel has no monitoring configured yet. Try `add location <name>`."
		}
		log.Printf("commands: status for %s: %v", channelID, err)
		return "Failed to load channel status. Please try again."
	}

	list, err := h.config.Targets.ListTargets(channelID)
	if err != nil {
		log.Printf("commands: status targets for %s: %v", channelID, err)
		return "Failed to load channel status. Please try again."
	}

	state := "active"
	if !cfg.IsActive {
		state = "paused"
	}
	lastPoll := "never"
	if cfg.LastPollTime != nil {
		lastPoll = cfg.LastPollTime.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf("Monitoring is **%s** - %d target(s), every %d minutes, notifications: %s, last poll: %s.",
		state, len(list), cfg.PollRateMinutes, cfg.NotificationTypes, lastPoll)
}

func (h *Handler) handleSetActive(channelID, guildID string, active bool) string {
	if err := h.config.Targets.SetActive(channelID, guildID, active); err != nil {
		log.Printf("commands: set active=%v: %v", active, err)
		return "Failed to update the channel. Please try again."
	}
	if active {
		return "Monitoring started for this channel."
	}
	return "Monitoring stopped for this channel. Targets are kept; `start` resumes."
}

func (h *Handler) helpText() string {
	return "Commands: `add location <id|name>`, `add coords <lat> <lon> [radius]`, `add city <name> [radius]`, " +
		"`remove location <id>`, `remove coords <lat> <lon> [radius]`, `list`, `check`, " +
		"`interval <minutes>`, `notifications <all|machines|comments>`, `status`, `start`, `stop`"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

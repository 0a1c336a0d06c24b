package config

import (
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/shared/data"
)

type Config struct {
	Token         string
	GuildID       string
	CommandPrefix string
	PinMapAPIURL  string
	GeocodeAPIURL string
	MySQLDSN      string
	RedisURL      string
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	// Get values from database with env fallbacks
	discordToken := data.GetSetting("discord_token")
	if discordToken == "" {
		discordToken = os.Getenv("DISCORD_TOKEN")
	}

	guildID := data.GetSetting("guild_id")
	if guildID == "" {
		guildID = os.Getenv("GUILD_ID")
	}

	prefix := data.GetSetting("command_prefix")
	if prefix == "" {
		prefix = getenv("COMMAND_PREFIX", "!pinmap")
	}

	pinmapURL := data.GetSetting("pinmap_api_url")
	if pinmapURL == "" {
		pinmapURL = os.Getenv("PINMAP_API_URL")
	}

	geocodeURL := data.GetSetting("geocode_api_url")
	if geocodeURL == "" {
		geocodeURL = os.Getenv("GEOCODE_API_URL")
	}

	return Config{
		Token:         discordToken,
		GuildID:       guildID,
		CommandPrefix: prefix,
		PinMapAPIURL:  pinmapURL,
		GeocodeAPIURL: geocodeURL,
		MySQLDSN:      getenv("MYSQL_DSN", "pinbot:pinbot@tcp(127.0.0.1:3306)/pinbot"),
		RedisURL:      getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

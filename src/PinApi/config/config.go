package config

import (
	"os"

	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/shared/data"
)

type Config struct {
	Port           string
	MySQLDSN       string
	AllowedOrigins string
}

func Load(db *gorm.DB) Config {
	origins := data.GetSetting("api_allowed_origins")
	if origins == "" {
		origins = getenv("API_ALLOWED_ORIGINS", "*")
	}

	return Config{
		Port:           getenv("PORT", "8080"),
		MySQLDSN:       getenv("MYSQL_DSN", "pinbot:pinbot@tcp(127.0.0.1:3306)/pinbot"),
		AllowedOrigins: origins,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/flipstack/pinbot/src/PinBot/bot"
	"github.com/flipstack/pinbot/src/PinBot/config"
	"github.com/flipstack/pinbot/src/shared/data"
)

func main() {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "pinbot:pinbot@tcp(127.0.0.1:3306)/pinbot"
	}
	db := data.MustMySQL(mysqlDSN)

	if err := db.AutoMigrate(data.AllModels...); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	if cfg.Token == "" {
		log.Fatal("DISCORD_TOKEN not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)

	b, err := bot.New(bot.Config{
		Token:         cfg.Token,
		GuildID:       cfg.GuildID,
		CommandPrefix: cfg.CommandPrefix,
		PinMapAPIURL:  cfg.PinMapAPIURL,
		GeocodeAPIURL: cfg.GeocodeAPIURL,
		DB:            db,
		Redis:         rdb,
	})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	if err := b.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	log.Println("PinBot is running. Press CTRL-C to exit.")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	b.Stop()
	log.Println("PinBot stopped gracefully")
}

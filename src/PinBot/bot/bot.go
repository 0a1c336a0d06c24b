package bot

import (
	"context"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/flipstack/pinbot/src/PinBot/components/commands"
	"github.com/flipstack/pinbot/src/PinBot/components/matcher"
	"github.com/flipstack/pinbot/src/PinBot/components/monitor"
	"github.com/flipstack/pinbot/src/PinBot/components/notify"
	"github.com/flipstack/pinbot/src/PinBot/components/targets"
	"github.com/flipstack/pinbot/src/shared/geocode"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

type Config struct {
	Token         string
	GuildID       string
	CommandPrefix string
	PinMapAPIURL  string
	GeocodeAPIURL string
	DB            *gorm.DB
	Redis         *redis.Client
}

type Bot struct {
	session   *discordgo.Session
	db        *gorm.DB
	rdb       *redis.Client
	config    Config
	targets   *targets.Manager
	scheduler *monitor.Scheduler
	commands  *commands.Handler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(config Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	bot := &Bot{
		session: dg,
		db:      config.DB,
		rdb:     config.Redis,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	bot.initializeComponents()
	bot.registerHandlers()

	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds

	return bot, nil
}

func (b *Bot) initializeComponents() {
	pinmapClient := pinmap.NewClient(b.config.PinMapAPIURL)
	geocoder := geocode.NewClient(b.config.GeocodeAPIURL)

	b.targets = targets.NewManager(b.db)

	store := monitor.NewGormStore(b.db)
	notifier := notify.New(&notify.DiscordSender{Session: b.session}, b.rdb)
	b.scheduler = monitor.NewScheduler(store, pinmapClient, notifier)

	b.commands = commands.NewHandler(commands.Config{
		Prefix:   b.config.CommandPrefix,
		Targets:  b.targets,
		Resolver: matcher.New(pinmapClient),
		Geocoder: geocoder,
		Checker:  b.scheduler,
	})
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.commands.HandleMessage)
}

func (b *Bot) Start() error {
	return b.session.Open()
}

func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()
	b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)

	// Start the polling scheduler once the session is live.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.scheduler.Run(b.ctx)
	}()
}

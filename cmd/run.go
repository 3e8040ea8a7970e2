package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/ai"
	"github.com/spigell/hr-intake/internal/ai/gemini"
	"github.com/spigell/hr-intake/internal/alert"
	"github.com/spigell/hr-intake/internal/alert/telegram"
	"github.com/spigell/hr-intake/internal/chat/discord"
	"github.com/spigell/hr-intake/internal/deadlines"
	"github.com/spigell/hr-intake/internal/decision"
	"github.com/spigell/hr-intake/internal/intake"
	"github.com/spigell/hr-intake/internal/logger"
	"github.com/spigell/hr-intake/internal/membership"
	"github.com/spigell/hr-intake/internal/progress"
	"github.com/spigell/hr-intake/internal/scoring"
	"github.com/spigell/hr-intake/internal/secrets"
	"github.com/spigell/hr-intake/internal/utils"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the intake bot",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("rules-file", "r", "", "scoring rules file (default is config.json in current directory)")
	runCmd.Flags().Bool("skip-backlog", false, "do not process application posts made while the bot was offline")

	viper.BindPFlag("rules-file", runCmd.Flags().Lookup("rules-file"))
}

// run is the main command for the bot.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the hr-intake", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if err := config.validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	// The rules are re-read on every decision, but the file has to exist to start.
	if _, err := os.Stat(config.RulesFile); err != nil {
		logger.Fatal("scoring rules file not found", zap.String("path", config.RulesFile), zap.Error(err))
	}

	token, err := secrets.Load(secrets.Source{
		Name:  "discord token",
		Value: config.Discord.Token,
		File:  config.Discord.TokenFile,
	})
	if err != nil {
		logger.Fatal(
			"loading discord token",
			zap.Error(err),
			zap.String("hint", "set DISCORD_TOKEN environment variable or the 'discord.token-file' key in the configuration file"),
		)
	}

	lock, err := progress.Acquire(config.progressConfig().LockPath())
	if err != nil {
		logger.Fatal("locking progress storage", zap.Error(err), zap.String("hint", "another hr-intake is running over the same storage"))
	}
	defer lock.Release()

	store, err := openStore(ctx, config, logger)
	if err != nil {
		logger.Fatal("opening progress storage", zap.Error(err))
	}
	defer store.Close()

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Fatal("creating discord session", zap.Error(err))
	}
	session.Identify.Intents = intents

	client := discord.New(session, discord.Config{
		GuildID:             config.Discord.GuildID,
		ApplicationsChannel: config.Discord.ApplicationsChannel,
		BlacklistChannel:    config.Discord.BlacklistChannel,
		BlacklistLimit:      config.Discord.BlacklistLimit,
		LedgerChannel:       config.Deadlines.LedgerChannel,
		AlarmChannel:        config.Deadlines.AlarmChannel,
		ReviewRoles:         config.Discord.ReviewRoles,
	}, logger.With(zap.String("component", "discord")))

	notifier := newNotifier(config.Telegram, logger)
	registry := membership.NewRegistry(config.DeclinedFile, logger.With(zap.String("component", "membership")))

	deadlineTracker := deadlines.NewTracker(deadlines.Config{
		Role:   config.Deadlines.Role,
		Period: config.Deadlines.Period,
	}, deadlines.Deps{
		Ledger:   client,
		Alarm:    client,
		Members:  client,
		Notifier: notifier,
		Logger:   logger.With(zap.String("component", "deadlines")),
	})

	reviewer, err := newReviewer(ctx, config.AI, logger)
	if err != nil {
		logger.Warn("skipping review assistant", zap.Error(err))
	}

	period := config.Deadlines.Period
	if period <= 0 {
		period = deadlines.DefaultPeriod
	}

	pipeline := decision.New(decision.Config{
		Roles:      config.Discord.AcceptRoles,
		Deadline:   period,
		FamilyName: config.Intake.FamilyName,
	}, decision.Deps{
		Transport:  client,
		Scorer:     scoring.NewEngine(config.RulesFile, logger.With(zap.String("component", "scoring"))),
		Membership: registry,
		Scheduler:  deadlineTracker,
		Reviewer:   reviewer,
		Alerts:     notifier,
		Sink:       decision.NewLogSink(logger),
		Logger:     logger.With(zap.String("component", "decision")),
	})

	service := intake.New(intake.Deps{
		Tracker:    progress.NewTracker(store, logger),
		Transport:  client,
		Membership: registry,
		Finisher:   pipeline,
		Alerts:     notifier,
		Logger:     logger.With(zap.String("component", "intake")),
	})

	if config.Discord.BlacklistChannel != "" {
		n, err := registry.RefreshBlacklist(ctx, client)
		if err != nil {
			logger.Warn("loading blacklist failed", zap.Error(err))
		} else {
			logger.Info("blacklist loaded", zap.Int("ids", n))
		}
	}

	service.Recover(ctx)

	discord.NewRouter(ctx, service, config.Discord.ApplicationsChannel, config.Intake.TagMarker, logger).Register(session)

	if err := connect(ctx, session, logger); err != nil {
		logger.Info("shutting down before connecting to discord", zap.Error(err))
		return
	}
	defer session.Close()

	if skip, _ := cmd.Flags().GetBool("skip-backlog"); !skip {
		scanBacklog(ctx, client, service, config.Intake, logger)
	}

	if config.Deadlines.LedgerChannel != "" && config.Deadlines.AlarmChannel != "" {
		go deadlineTracker.Run(ctx, config.Deadlines.CheckInterval)
	} else {
		logger.Info("deadline checks disabled", zap.String("reason", "ledger or alarm channel is not configured"))
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

func openStore(ctx context.Context, config *Config, logger *zap.Logger) (*progress.Store, error) {
	backend, err := progress.Open(ctx, config.progressConfig())
	if err != nil {
		return nil, err
	}

	return progress.NewStore(backend, logger), nil
}

// reconnectDelay is the pause between gateway connection attempts.
var reconnectDelay = 30 * time.Second

type gateway interface {
	Open() error
}

// connect opens the gateway and keeps retrying until it succeeds or ctx is done.
func connect(ctx context.Context, gw gateway, logger *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		err := gw.Open()
		if err == nil {
			return nil
		}

		logger.Error("connecting to discord failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", reconnectDelay),
			zap.Error(err),
		)

		if err := utils.WaitFor(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func scanBacklog(ctx context.Context, client *discord.Client, service *intake.Service, cfg *IntakeConfig, logger *zap.Logger) {
	apps, err := client.RecentApplications(ctx, cfg.Backlog, cfg.TagMarker)
	if err != nil {
		logger.Warn("scanning application backlog failed", zap.Error(err))
		return
	}

	counts := service.HandleBacklog(ctx, apps, cfg.TagMarker)
	fields := make([]zap.Field, 0, len(counts)+1)
	fields = append(fields, zap.Int("applications", len(apps)))
	for outcome, n := range counts {
		fields = append(fields, zap.Int(string(outcome), n))
	}
	logger.Info("application backlog processed", fields...)
}

func newNotifier(cfg *TelegramConfig, logger *zap.Logger) alert.Notifier {
	notifiers := alert.Multi{alert.NewLog(logger.With(zap.String("component", "alerts")))}
	if cfg == nil || !cfg.Enabled {
		return notifiers
	}

	token, err := secrets.Load(secrets.Source{
		Name:  "telegram token",
		Value: cfg.Token,
		File:  cfg.TokenFile,
	})
	if err != nil {
		logger.Warn("telegram alerts disabled", zap.Error(err), zap.String("hint", "set TELEGRAM_TOKEN or telegram.token-file"))
		return notifiers
	}

	notifier, err := telegram.New(token, cfg.ChatID, cfg.Prefix, logger.With(zap.String("component", "telegram")))
	if err != nil {
		logger.Warn("telegram alerts disabled", zap.Error(err))
		return notifiers
	}

	return append(notifiers, notifier)
}

func newReviewer(ctx context.Context, cfg *AIConfig, base *zap.Logger) (ai.Reviewer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, errors.New("ai.gemini section is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	aiLogger := logger.WithCommonFields(base, "gemini", cfg.Gemini.Model)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries,
		aiLogger.With(zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries)))
	if err != nil {
		return nil, err
	}

	reviewer := gemini.NewReviewer(generator, cfg.Gemini.MaxLogLength, aiLogger)
	reviewer.SetInstructions(cfg.Instructions)

	return reviewer, nil
}

// redacted returns a copy of the config that is safe to log.
func redacted(c *Config) *Config {
	out := *c
	if c.Discord != nil {
		d := *c.Discord
		d.Token = mask(d.Token)
		out.Discord = &d
	}
	if c.Telegram != nil {
		t := *c.Telegram
		t.Token = mask(t.Token)
		out.Telegram = &t
	}
	if c.AI != nil && c.AI.Gemini != nil {
		a := *c.AI
		g := *c.AI.Gemini
		g.APIKey = mask(g.APIKey)
		a.Gemini = &g
		out.AI = &a
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hr-intake/internal/progress"
)

const (
	app = "hr-intake"
)

type Config struct {
	Discord      *DiscordConfig   `mapstructure:"discord"`
	Storage      *StorageConfig   `mapstructure:"storage"`
	RulesFile    string           `mapstructure:"rules-file"`
	DeclinedFile string           `mapstructure:"declined-file"`
	Intake       *IntakeConfig    `mapstructure:"intake"`
	Deadlines    *DeadlinesConfig `mapstructure:"deadlines"`
	Telegram     *TelegramConfig  `mapstructure:"telegram"`
	AI           *AIConfig        `mapstructure:"ai"`
}

type DiscordConfig struct {
	Token               string   `mapstructure:"token"`
	TokenFile           string   `mapstructure:"token-file"`
	GuildID             string   `mapstructure:"guild-id"`
	ApplicationsChannel string   `mapstructure:"applications-channel"`
	BlacklistChannel    string   `mapstructure:"blacklist-channel"`
	BlacklistLimit      int      `mapstructure:"blacklist-limit"`
	ReviewRoles         []string `mapstructure:"review-roles"`
	AcceptRoles         []string `mapstructure:"accept-roles"`
}

type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	File     string          `mapstructure:"file"`
	SQLite   string          `mapstructure:"sqlite"`
	Firebase *FirebaseConfig `mapstructure:"firebase"`
	LockFile string          `mapstructure:"lock-file"`
}

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials-file"`
	DatabaseURL     string `mapstructure:"database-url"`
	Path            string `mapstructure:"path"`
}

type IntakeConfig struct {
	TagMarker  string `mapstructure:"tag-marker"`
	Backlog    int    `mapstructure:"backlog"`
	FamilyName string `mapstructure:"family-name"`
}

type DeadlinesConfig struct {
	LedgerChannel string        `mapstructure:"ledger-channel"`
	AlarmChannel  string        `mapstructure:"alarm-channel"`
	Role          string        `mapstructure:"role"`
	Period        time.Duration `mapstructure:"period"`
	CheckInterval time.Duration `mapstructure:"check-interval"`
}

type TelegramConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	ChatID    int64  `mapstructure:"chat-id"`
	Prefix    string `mapstructure:"prefix"`
}

type AIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Provider     string        `mapstructure:"provider"`
	Instructions string        `mapstructure:"instructions"`
	Gemini       *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

const (
	defaultRulesFile     = "config.json"
	defaultDeclinedFile  = "declined.txt"
	defaultBacklog       = 10
	defaultCheckInterval = time.Hour
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hr-intake walks guild applicants through the intake questionnaire over direct messages",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"discord.token":     "DISCORD_TOKEN",
		"telegram.token":    "TELEGRAM_TOKEN",
		"ai.gemini.api-key": "GEMINI_API_KEY",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hr-intake.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only run and sessions need a config.
	if runCmd.CalledAs() == "" && sessionsCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

// decodeConfig unmarshals the settings and fills in defaults. Viper's default
// decode hooks turn "1h" into durations and "a,b" into lists.
func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	config.setDefaults()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Discord == nil {
		c.Discord = &DiscordConfig{}
	}
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.Firebase == nil {
		c.Storage.Firebase = &FirebaseConfig{}
	}
	if c.Intake == nil {
		c.Intake = &IntakeConfig{}
	}
	if c.Intake.Backlog <= 0 {
		c.Intake.Backlog = defaultBacklog
	}
	if c.Deadlines == nil {
		c.Deadlines = &DeadlinesConfig{}
	}
	if c.Deadlines.CheckInterval <= 0 {
		c.Deadlines.CheckInterval = defaultCheckInterval
	}
	if c.Telegram == nil {
		c.Telegram = &TelegramConfig{}
	}
	if c.AI == nil {
		c.AI = &AIConfig{}
	}
	if strings.TrimSpace(c.RulesFile) == "" {
		c.RulesFile = defaultRulesFile
	}
	if strings.TrimSpace(c.DeclinedFile) == "" {
		c.DeclinedFile = defaultDeclinedFile
	}
}

// validate checks what the bot cannot start without.
func (c *Config) validate() error {
	var errs []error
	if c.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild-id is required"))
	}
	if c.Discord.ApplicationsChannel == "" {
		errs = append(errs, errors.New("discord.applications-channel is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) progressConfig() progress.Config {
	return progress.Config{
		Backend: c.Storage.Backend,
		File:    c.Storage.File,
		SQLite:  c.Storage.SQLite,
		Firebase: progress.FirebaseConfig{
			CredentialsFile: c.Storage.Firebase.CredentialsFile,
			DatabaseURL:     c.Storage.Firebase.DatabaseURL,
			Path:            c.Storage.Firebase.Path,
		},
		Lock: c.Storage.LockFile,
	}
}

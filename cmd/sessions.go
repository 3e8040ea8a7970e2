package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/intake"
	"github.com/spigell/hr-intake/internal/logger"
	"github.com/spigell/hr-intake/internal/progress"
	"github.com/spigell/hr-intake/internal/questionnaire"
)

const (
	PromptYes  = "Yes"
	PromptNo   = "No"
	PromptBack = "back"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List in-flight intake sessions",
	Run: func(cmd *cobra.Command, _ []string) {
		sessions(cmd)
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.Flags().Bool("drop", false, "choose an abandoned session and remove it")
}

func sessions(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// The running bot owns the storage and rewrites it from memory, so
	// sessions can only be dropped while it is stopped.
	drop, _ := cmd.Flags().GetBool("drop")
	lock, err := progress.Acquire(config.progressConfig().LockPath())
	switch {
	case errors.Is(err, progress.ErrLocked):
		logger.Warn("the bot is running, showing the last saved state")
		if drop {
			logger.Fatal("refusing to drop a session", zap.Error(err), zap.String("hint", "stop the bot first"))
		}
	case err != nil:
		logger.Fatal("locking progress storage", zap.Error(err))
	default:
		defer lock.Release()
	}

	store, err := openStore(ctx, config, logger)
	if err != nil {
		logger.Fatal("opening progress storage", zap.Error(err))
	}
	defer store.Close()

	tracker := progress.NewTracker(store, logger)
	tracker.Load(ctx)

	service := intake.New(intake.Deps{Tracker: tracker, Logger: logger})
	total := questionnaire.Default().Count()

	snapshot := service.Sessions()
	logger.Info("in-flight sessions", zap.Int("count", len(snapshot)))
	for _, user := range snapshot.Users() {
		logger.Info(sessionLabel(user, snapshot[user], total))
	}

	if !drop || len(snapshot) == 0 {
		return
	}

	if err := dropSession(ctx, service, snapshot, total, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func dropSession(ctx context.Context, service *intake.Service, snapshot progress.Snapshot, total int, logger *zap.Logger) error {
	items := make([]string, 0, len(snapshot)+1)
	for _, user := range snapshot.Users() {
		items = append(items, sessionLabel(user, snapshot[user], total))
	}

	sessionPrompt := promptui.Select{
		Label: "Choose a session to drop and press ENTER",
		Items: append(items, PromptBack),
	}

	_, selected, err := sessionPrompt.Run()
	if err != nil {
		return err
	}
	if selected == PromptBack {
		return nil
	}

	user := chat.UserID(strings.Fields(selected)[0])

	confirm := promptui.Select{
		Label: fmt.Sprintf("Drop the session of %s? The candidate will not be decided on", user),
		Items: []string{PromptNo, PromptYes},
	}
	_, answer, err := confirm.Run()
	if err != nil {
		return err
	}
	if answer != PromptYes {
		return nil
	}

	if service.Drop(ctx, user) {
		logger.Info("session dropped", zap.String("user_id", string(user)))
	}
	return nil
}

// sessionLabel renders one session for listings; the user ID comes first.
func sessionLabel(user chat.UserID, s *progress.Session, total int) string {
	state := fmt.Sprintf("question %d/%d", s.Index+1, total)
	if s.Index >= total {
		state = "finalizing"
	}

	label := fmt.Sprintf("%s %s, %d answers", user, state, len(s.Answers))
	if s.SourceRef != "" {
		label += fmt.Sprintf(", application %s", s.SourceRef)
	}
	return label
}

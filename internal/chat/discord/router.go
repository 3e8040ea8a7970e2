package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/intake"
)

// Intake is the part of the intake service the router feeds.
type Intake interface {
	HandleApplication(ctx context.Context, app intake.Application, marker string) intake.Outcome
	SubmitText(ctx context.Context, user chat.UserID, text string) error
	SubmitChoice(ctx context.Context, user chat.UserID, prompt chat.MessageRef, token string) error
}

// Router turns gateway events into intake calls. The bot's own events are dropped.
type Router struct {
	ctx                 context.Context
	intake              Intake
	applicationsChannel string
	marker              string
	logger              *zap.Logger
}

func NewRouter(ctx context.Context, in Intake, applicationsChannel, marker string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		ctx:                 ctx,
		intake:              in,
		applicationsChannel: applicationsChannel,
		marker:              marker,
		logger:              logger,
	}
}

// Register adds the router handlers to the session.
func (r *Router) Register(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, e *discordgo.Ready) {
		r.logger.Info("connected to discord", zap.String("user", e.User.Username), zap.Int("guilds", len(e.Guilds)))
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.MessageCreate) {
		r.onMessage(selfID(s), e.Message)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.MessageReactionAdd) {
		r.onReaction(selfID(s), e.MessageReaction)
	})
}

func selfID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

func (r *Router) onMessage(self string, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.ID == self {
		return
	}

	if m.ChannelID == r.applicationsChannel {
		lines := ExtractLines(m)
		if !intake.ContainsMarker(lines, r.marker) {
			return
		}
		outcome := r.intake.HandleApplication(r.ctx, intake.Application{Ref: chat.MessageRef(m.ID), Lines: lines}, r.marker)
		r.logger.Info("application handled", zap.String("application", m.ID), zap.String("outcome", string(outcome)))
		return
	}

	if m.GuildID != "" {
		return
	}

	if err := r.intake.SubmitText(r.ctx, chat.UserID(m.Author.ID), m.Content); err != nil {
		r.logger.Warn("handling direct message failed", zap.String("user_id", m.Author.ID), zap.Error(err))
	}
}

func (r *Router) onReaction(self string, e *discordgo.MessageReaction) {
	if e == nil || e.UserID == self || e.GuildID != "" {
		return
	}

	if err := r.intake.SubmitChoice(r.ctx, chat.UserID(e.UserID), chat.MessageRef(e.MessageID), e.Emoji.Name); err != nil {
		r.logger.Warn("handling reaction failed", zap.String("user_id", e.UserID), zap.Error(err))
	}
}

// ExtractLines splits a message and its embeds into trimmed, non-empty lines.
func ExtractLines(m *discordgo.Message) []string {
	var raw []string
	raw = append(raw, strings.Split(m.Content, "\n")...)
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		raw = append(raw, strings.Split(e.Description, "\n")...)
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			raw = append(raw, strings.Split(f.Name, "\n")...)
			raw = append(raw, strings.Split(f.Value, "\n")...)
		}
	}

	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Package discord implements the chat ports on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/deadlines"
	"github.com/spigell/hr-intake/internal/intake"
	"github.com/spigell/hr-intake/internal/membership"
)

const (
	// Max value for a single history request.
	perPage = 100
	// Message content limit.
	maxMessageLength = 2000
	maxThreadName    = 100
	threadArchive    = 1440
	flagEmoji        = "✅"
)

// Config names the guild objects the bot works with.
type Config struct {
	GuildID             string
	ApplicationsChannel string
	BlacklistChannel    string
	BlacklistLimit      int
	LedgerChannel       string
	AlarmChannel        string
	ReviewRoles         []string
}

// api is the part of *discordgo.Session the client uses.
type api interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageThreadStart(channelID, messageID string, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
}

type Client struct {
	api    api
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	dms map[chat.UserID]string
}

var (
	_ chat.Transport            = (*Client)(nil)
	_ membership.BlacklistSource = (*Client)(nil)
	_ deadlines.Ledger          = (*Client)(nil)
	_ deadlines.Alarm           = (*Client)(nil)
)

func New(session *discordgo.Session, cfg Config, logger *zap.Logger) *Client {
	return newClient(session, cfg, logger)
}

func newClient(a api, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlacklistLimit <= 0 {
		cfg.BlacklistLimit = 1000
	}

	return &Client{
		api:    a,
		cfg:    cfg,
		logger: logger,
		dms:    map[chat.UserID]string{},
	}
}

func (c *Client) dmChannel(ctx context.Context, user chat.UserID) (string, error) {
	c.mu.Lock()
	id, ok := c.dms[user]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := c.api.UserChannelCreate(string(user), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.dms[user] = ch.ID
	c.mu.Unlock()

	return ch.ID, nil
}

func (c *Client) SendDirect(ctx context.Context, user chat.UserID, text string) chat.Delivery {
	channel, err := c.dmChannel(ctx, user)
	if err != nil {
		return chat.Delivery{Status: deliveryStatus(err), Err: err}
	}

	msg, err := c.api.ChannelMessageSend(channel, text, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Delivery{Status: deliveryStatus(err), Err: err}
	}

	return chat.Delivery{Status: chat.Delivered, Ref: chat.MessageRef(msg.ID)}
}

// AddChoices adds the reactions one by one; a failing token does not stop the rest.
func (c *Client) AddChoices(ctx context.Context, user chat.UserID, prompt chat.MessageRef, tokens []string) error {
	channel, err := c.dmChannel(ctx, user)
	if err != nil {
		return err
	}

	var errs []error
	for _, token := range tokens {
		if err := c.api.MessageReactionAdd(channel, string(prompt), token, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("reaction %s: %w", token, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Client) Member(ctx context.Context, user chat.UserID) (*chat.Member, error) {
	m, err := c.api.GuildMember(c.cfg.GuildID, string(user), discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, chat.ErrMemberNotFound
		}
		return nil, fmt.Errorf("fetching member %s: %w", user, err)
	}

	return toMember(m), nil
}

// FindMember resolves a "name" or legacy "name#1234" tag the way the guild
// member list shows it.
func (c *Client) FindMember(ctx context.Context, tag string) (*chat.Member, error) {
	name, discriminator, _ := strings.Cut(strings.TrimSpace(tag), "#")
	if name == "" {
		return nil, chat.ErrMemberNotFound
	}

	found, err := c.api.GuildMembersSearch(c.cfg.GuildID, name, 10, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("searching member %q: %w", tag, err)
	}

	for _, m := range found {
		if m.User == nil {
			continue
		}
		if discriminator != "" && discriminator != "0" && m.User.Discriminator != discriminator {
			continue
		}
		if m.User.Username == name {
			return toMember(m), nil
		}
	}
	for _, m := range found {
		if m.User == nil {
			continue
		}
		if m.Nick == name || m.User.GlobalName == name {
			return toMember(m), nil
		}
	}

	return nil, chat.ErrMemberNotFound
}

func (c *Client) GrantRoles(ctx context.Context, user chat.UserID, roles []string) error {
	var errs []error
	for _, role := range roles {
		if err := c.api.GuildMemberRoleAdd(c.cfg.GuildID, string(user), role, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("role %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) SetDisplayName(ctx context.Context, user chat.UserID, name string) error {
	return c.api.GuildMemberNickname(c.cfg.GuildID, string(user), name, discordgo.WithContext(ctx))
}

func (c *Client) MarkSource(ctx context.Context, source chat.MessageRef, emoji string) error {
	return c.api.MessageReactionAdd(c.cfg.ApplicationsChannel, string(source), emoji, discordgo.WithContext(ctx))
}

func (c *Client) ReplySource(ctx context.Context, source chat.MessageRef, text string) error {
	_, err := c.api.ChannelMessageSendReply(c.cfg.ApplicationsChannel, text, &discordgo.MessageReference{
		MessageID: string(source),
		ChannelID: c.cfg.ApplicationsChannel,
		GuildID:   c.cfg.GuildID,
	}, discordgo.WithContext(ctx))
	return err
}

// PostReview opens a thread on the application post and writes the body into
// it. When no thread can be opened, the body is posted as a reply instead.
func (c *Client) PostReview(ctx context.Context, post chat.ReviewPost) error {
	body := post.Body
	if post.PingReviewers {
		if mentions := c.reviewerMentions(); mentions != "" {
			body += "\n\n🔔 " + mentions
		}
	}

	target := c.cfg.ApplicationsChannel
	thread, err := c.api.MessageThreadStart(c.cfg.ApplicationsChannel, string(post.Source),
		threadName(post.Title), threadArchive, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("opening review thread failed, replying instead", zap.String("application", string(post.Source)), zap.Error(err))
	} else {
		target = thread.ID
	}

	for i, part := range SplitMessage(body, maxMessageLength) {
		if target == c.cfg.ApplicationsChannel && i == 0 {
			err = c.ReplySource(ctx, post.Source, part)
		} else {
			_, err = c.api.ChannelMessageSend(target, part, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("posting review for %s: %w", post.Source, err)
		}
	}

	return nil
}

func (c *Client) reviewerMentions() string {
	mentions := make([]string, 0, len(c.cfg.ReviewRoles))
	for _, role := range c.cfg.ReviewRoles {
		mentions = append(mentions, "<@&"+role+">")
	}
	return strings.Join(mentions, " ")
}

// BlacklistMessages returns the contents of the blacklist channel.
func (c *Client) BlacklistMessages(ctx context.Context) ([]string, error) {
	messages, err := c.history(ctx, c.cfg.BlacklistChannel, c.cfg.BlacklistLimit)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out, nil
}

func (c *Client) AppendLedger(ctx context.Context, line string) error {
	_, err := c.api.ChannelMessageSend(c.cfg.LedgerChannel, line, discordgo.WithContext(ctx))
	return err
}

func (c *Client) LedgerMessages(ctx context.Context) ([]deadlines.LedgerMessage, error) {
	messages, err := c.history(ctx, c.cfg.LedgerChannel, 0)
	if err != nil {
		return nil, err
	}

	out := make([]deadlines.LedgerMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, deadlines.LedgerMessage{
			Ref:     chat.MessageRef(m.ID),
			Content: m.Content,
			Flagged: hasReaction(m, flagEmoji),
		})
	}
	return out, nil
}

func (c *Client) FlagLedger(ctx context.Context, ref chat.MessageRef) error {
	return c.api.MessageReactionAdd(c.cfg.LedgerChannel, string(ref), flagEmoji, discordgo.WithContext(ctx))
}

func (c *Client) RaiseAlarm(ctx context.Context, text string) error {
	if mentions := c.reviewerMentions(); mentions != "" {
		text += "\n🔔 " + mentions
	}
	_, err := c.api.ChannelMessageSend(c.cfg.AlarmChannel, text, discordgo.WithContext(ctx))
	return err
}

// RecentApplications returns the last limit application posts nobody has
// reacted to yet, oldest first.
func (c *Client) RecentApplications(ctx context.Context, limit int, marker string) ([]intake.Application, error) {
	messages, err := c.history(ctx, c.cfg.ApplicationsChannel, limit)
	if err != nil {
		return nil, err
	}

	var apps []intake.Application
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if len(m.Reactions) > 0 {
			continue
		}
		lines := ExtractLines(m)
		if !intake.ContainsMarker(lines, marker) {
			continue
		}
		apps = append(apps, intake.Application{Ref: chat.MessageRef(m.ID), Lines: lines})
	}

	return apps, nil
}

// history pages back through a channel, newest first. limit <= 0 reads everything.
func (c *Client) history(ctx context.Context, channel string, limit int) ([]*discordgo.Message, error) {
	var (
		out    []*discordgo.Message
		before string
	)

	for {
		size := perPage
		if limit > 0 && limit-len(out) < size {
			size = limit - len(out)
		}

		page, err := c.api.ChannelMessages(channel, size, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("reading history of %s: %w", channel, err)
		}

		out = append(out, page...)

		if len(page) < size || (limit > 0 && len(out) >= limit) {
			return out, nil
		}

		c.logger.Debug("additional history request needed", zap.String("channel", channel), zap.Int("read", len(out)))
		before = page[len(page)-1].ID
	}
}

func toMember(m *discordgo.Member) *chat.Member {
	out := &chat.Member{Roles: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.ID = chat.UserID(m.User.ID)
		out.Mention = "<@" + m.User.ID + ">"
	}
	out.DisplayName = displayName(m)
	return out
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func hasReaction(m *discordgo.Message, emoji string) bool {
	for _, r := range m.Reactions {
		if r != nil && r.Emoji != nil && r.Emoji.Name == emoji {
			return true
		}
	}
	return false
}

func threadName(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Application"
	}
	r := []rune(title)
	if len(r) > maxThreadName {
		return string(r[:maxThreadName])
	}
	return title
}

// SplitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(parts) == 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

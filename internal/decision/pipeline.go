// Package decision classifies finished intakes and carries out what follows
// from the classification.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/ai"
	"github.com/spigell/hr-intake/internal/alert"
	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/intake"
	"github.com/spigell/hr-intake/internal/logger"
	"github.com/spigell/hr-intake/internal/questionnaire"
	"github.com/spigell/hr-intake/internal/scoring"
)

const (
	ReasonMembership = "membership"
	ReasonAccepted   = "sufficient age and experience"
	ReasonDeclined   = "age or experience below the minimum"
	ReasonPending    = "answers need a manual check"
	ReasonNoRules    = "scoring rules unavailable, manual check required"
)

// Record is the outcome of one decision.
type Record struct {
	ID        string
	User      chat.UserID
	Status    scoring.Status
	Reason    string
	Score     int
	Answers   questionnaire.Answers
	Summary   string
	DecidedAt time.Time
}

// Scorer classifies an answer set.
type Scorer interface {
	Evaluate(answers questionnaire.Answers) scoring.Result
}

// Membership is the membership oracle the pipeline consults and updates.
type Membership interface {
	IsBlacklisted(user chat.UserID) bool
	IsPreviouslyDeclined(user chat.UserID) bool
	RecordDeclined(user chat.UserID) error
}

// Scheduler schedules the post-acceptance deadline reminder.
type Scheduler interface {
	Schedule(ctx context.Context, user chat.UserID) error
}

// Sink receives every decision record.
type Sink interface {
	Store(ctx context.Context, r Record) error
}

type Config struct {
	// Roles are granted to accepted candidates.
	Roles []string
	// Deadline is the probation period quoted in the acceptance message.
	Deadline time.Duration
	// FamilyName is the surname accepted candidates must adopt.
	FamilyName string
}

type Deps struct {
	Transport  chat.Transport
	Scorer     Scorer
	Membership Membership
	Scheduler  Scheduler
	Catalog    *questionnaire.Catalog
	Reviewer   ai.Reviewer
	Alerts     alert.Notifier
	Sink       Sink
	Logger     *zap.Logger
}

// Pipeline implements intake.Finisher.
type Pipeline struct {
	cfg        Config
	transport  chat.Transport
	scorer     Scorer
	membership Membership
	scheduler  Scheduler
	catalog    *questionnaire.Catalog
	reviewer   ai.Reviewer
	alerts     alert.Notifier
	sink       Sink
	logger     *zap.Logger

	now func() time.Time
}

var _ intake.Finisher = (*Pipeline)(nil)

func New(cfg Config, deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	catalog := deps.Catalog
	if catalog == nil {
		catalog = questionnaire.Default()
	}

	alerts := deps.Alerts
	if alerts == nil {
		alerts = alert.Nop{}
	}

	if cfg.Deadline <= 0 {
		cfg.Deadline = 7 * 24 * time.Hour
	}
	if cfg.FamilyName == "" {
		cfg.FamilyName = "Bell"
	}

	return &Pipeline{
		cfg:        cfg,
		transport:  deps.Transport,
		scorer:     deps.Scorer,
		membership: deps.Membership,
		scheduler:  deps.Scheduler,
		catalog:    catalog,
		reviewer:   deps.Reviewer,
		alerts:     alerts,
		sink:       deps.Sink,
		logger:     log,
		now:        time.Now,
	}
}

// Finish decides on a completed intake.
func (p *Pipeline) Finish(ctx context.Context, c intake.Completion) {
	p.Decide(ctx, c)
}

// Decide classifies the completion, runs the side effects of the outcome and
// posts the review summary. Side effects are independent of each other: a
// failing one is logged and the rest still run.
func (p *Pipeline) Decide(ctx context.Context, c intake.Completion) Record {
	log := logger.WithFields(p.logger, zap.String(logger.FieldUser, string(c.User)))

	rec := Record{
		ID:        uuid.NewString(),
		User:      c.User,
		Answers:   c.Answers,
		DecidedAt: p.now(),
	}

	blacklisted, declinedBefore := false, false
	if p.membership != nil {
		blacklisted = p.membership.IsBlacklisted(c.User)
		declinedBefore = p.membership.IsPreviouslyDeclined(c.User)
	}

	switch {
	case blacklisted || declinedBefore:
		rec.Status, rec.Reason = scoring.Declined, ReasonMembership
	case p.scorer == nil:
		rec.Status, rec.Reason = scoring.PendingReview, ReasonNoRules
	default:
		res := p.scorer.Evaluate(c.Answers)
		rec.Status, rec.Score = res.Status, res.Score
		rec.Reason = reasonFor(res)
	}

	log = log.With(zap.String(logger.FieldStatus, string(rec.Status)), zap.Int(logger.FieldScore, rec.Score))
	log.Info("application decided", zap.String("reason", rec.Reason), zap.String("decision_id", rec.ID))

	member := p.member(ctx, c.User)

	var note *ai.Note
	switch rec.Status {
	case scoring.Accepted:
		p.mark(ctx, c.Source, "✅")
		p.accept(ctx, c, log)
	case scoring.Declined:
		p.mark(ctx, c.Source, "❌")
		if !declinedBefore {
			p.direct(ctx, c, "🚫 Unfortunately your application was declined for internal reasons.\n"+
				"🙏 Please take it with understanding.\n"+
				"Have a good game!", log)
		}
		if !blacklisted && !declinedBefore && p.membership != nil {
			if err := p.membership.RecordDeclined(c.User); err != nil {
				log.Warn("recording declined user failed", zap.Error(err))
			}
		}
	case scoring.PendingReview:
		p.mark(ctx, c.Source, "❓")
		p.direct(ctx, c, "❓ Your application needs an additional review.\n"+
			"Please wait for the leadership's decision.", log)
		note = p.review(ctx, rec, log)
		if err := p.alerts.Notify(ctx, fmt.Sprintf("❓ Application of %s is waiting for review (score %d)",
			member.Mention, rec.Score)); err != nil {
			log.Warn("sending review alert failed", zap.Error(err))
		}
	}

	rec.Summary = p.summary(rec, member, note)
	if c.Source != "" {
		post := chat.ReviewPost{
			Source:        c.Source,
			Title:         fmt.Sprintf("%s %s", statusTitle(rec.Status), member.DisplayName),
			Body:          rec.Summary,
			PingReviewers: rec.Status == scoring.PendingReview,
		}
		if err := p.transport.PostReview(ctx, post); err != nil {
			log.Warn("posting review summary failed", zap.Error(err))
		}
	}

	if p.sink != nil {
		if err := p.sink.Store(ctx, rec); err != nil {
			log.Warn("storing decision record failed", zap.Error(err))
		}
	}

	return rec
}

func reasonFor(res scoring.Result) string {
	if res.Err != nil {
		return ReasonNoRules
	}
	switch res.Status {
	case scoring.Accepted:
		return ReasonAccepted
	case scoring.Declined:
		return ReasonDeclined
	default:
		return ReasonPending
	}
}

func statusTitle(s scoring.Status) string {
	switch s {
	case scoring.Accepted:
		return "Accepted"
	case scoring.Declined:
		return "Declined"
	default:
		return "Pending review"
	}
}

func (p *Pipeline) accept(ctx context.Context, c intake.Completion, log *zap.Logger) {
	if len(p.cfg.Roles) > 0 {
		if err := p.transport.GrantRoles(ctx, c.User, p.cfg.Roles); err != nil {
			log.Warn("granting roles failed", zap.Error(err))
		}
	}

	nick := Nickname(c.Answers)
	if nick != "" {
		if err := p.transport.SetDisplayName(ctx, c.User, nick); err != nil {
			log.Warn("setting nickname failed", zap.String("nickname", nick), zap.Error(err))
		}
	}

	var b strings.Builder
	b.WriteString("🎉 Congratulations, you passed the selection!\n\n")
	if nick != "" {
		fmt.Fprintf(&b, "Your nickname must be 👉 **%s**\n", nick)
	}
	fmt.Fprintf(&b, "⚠️ Within %s change your surname to **%s** and send a screenshot to any family chat.\n",
		Period(p.cfg.Deadline), p.cfg.FamilyName)
	b.WriteString("❌ Breaking this means exclusion.")
	p.direct(ctx, c, b.String(), log)

	if p.scheduler != nil {
		if err := p.scheduler.Schedule(ctx, c.User); err != nil {
			log.Warn("scheduling deadline reminder failed", zap.Error(err))
		}
	}
}

// Nickname builds "<in-game name> | <real name>" from the answers.
func Nickname(answers questionnaire.Answers) string {
	game, ok := answers.For(questionnaire.QuestionGameName)
	if !ok {
		return ""
	}
	name, ok := answers.For(questionnaire.QuestionRealName)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s | %s", strings.TrimSpace(game), strings.TrimSpace(name))
}

// direct sends a DM. Unreachable users are reported on the source post and to
// the operators instead.
func (p *Pipeline) direct(ctx context.Context, c intake.Completion, text string, log *zap.Logger) {
	d := p.transport.SendDirect(ctx, c.User, text)
	switch d.Status {
	case chat.Delivered:
		return
	case chat.Failed:
		log.Warn("direct message failed", zap.Error(d.Err))
		return
	case chat.Unreachable:
	}

	log.Info("user unreachable, falling back to the application post", zap.Error(d.Err))
	if c.Source != "" {
		p.mark(ctx, c.Source, "🚷")
		if err := p.transport.ReplySource(ctx, c.Source, "🚷 This user has closed direct messages or left. The DM was not sent."); err != nil {
			log.Warn("replying to application failed", zap.Error(err))
		}
	}
	if err := p.alerts.Notify(ctx, fmt.Sprintf("🚷 Could not DM user %s", c.User)); err != nil {
		log.Warn("sending operator alert failed", zap.Error(err))
	}
}

func (p *Pipeline) mark(ctx context.Context, source chat.MessageRef, emoji string) {
	if source == "" {
		return
	}
	if err := p.transport.MarkSource(ctx, source, emoji); err != nil {
		p.logger.Warn("marking application failed", zap.String("application", string(source)), zap.String("emoji", emoji), zap.Error(err))
	}
}

func (p *Pipeline) member(ctx context.Context, user chat.UserID) *chat.Member {
	m, err := p.transport.Member(ctx, user)
	if err != nil || m == nil {
		return &chat.Member{ID: user, DisplayName: "UID:" + string(user), Mention: "`" + string(user) + "`"}
	}
	return m
}

func (p *Pipeline) review(ctx context.Context, rec Record, log *zap.Logger) *ai.Note {
	if p.reviewer == nil {
		return nil
	}

	note, err := p.reviewer.Review(ctx, ai.Application{
		User:    string(rec.User),
		Status:  string(rec.Status),
		Score:   rec.Score,
		Answers: p.pairs(rec.Answers),
	})
	if err != nil {
		log.Warn("review assistant failed", zap.Error(err))
		return nil
	}
	return note
}

// pairs matches every answer with the text of the question it answered.
func (p *Pipeline) pairs(answers questionnaire.Answers) []ai.QA {
	positional := len(answers.Path) != len(answers.Labels)

	out := make([]ai.QA, 0, len(answers.Labels))
	for i, label := range answers.Labels {
		q := i
		if !positional {
			q = answers.Path[i]
		}
		if q < 0 || q >= p.catalog.Count() {
			continue
		}
		out = append(out, ai.QA{Question: p.catalog.Get(q).Text, Answer: label})
	}
	return out
}

func (p *Pipeline) summary(rec Record, member *chat.Member, note *ai.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Application %s\n", member.Mention)
	fmt.Fprintf(&b, "Status: **%s**\n", rec.Status)
	fmt.Fprintf(&b, "Reason: %s\n", rec.Reason)
	fmt.Fprintf(&b, "Score: %d\n\n", rec.Score)

	b.WriteString("**Answers:**\n")
	for i, qa := range p.pairs(rec.Answers) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%s**\n➡️ %s", qa.Question, qa.Answer)
	}

	if text := note.Render(); text != "" {
		b.WriteString("\n\n")
		b.WriteString(text)
	}

	return b.String()
}

// Period renders a deadline in whole days, or in hours when it is not a
// whole number of days.
func Period(d time.Duration) string {
	const day = 24 * time.Hour

	if d >= day && d%day == 0 {
		return plural(int(d/day), "day")
	}

	hours := int((d + time.Hour - 1) / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return plural(hours, "hour")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
)

// DefaultTagMarkers label the line above the applicant's Discord tag. The
// second one is the field name of the older application form.
var DefaultTagMarkers = []string{"your discord", "ваш discord"}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// Application is an application post split into non-empty lines.
type Application struct {
	Ref   chat.MessageRef
	Lines []string
}

// Outcome tells what HandleApplication did with a post.
type Outcome string

const (
	OutcomeNoTag          Outcome = "no_tag"
	OutcomeMemberNotFound Outcome = "member_not_found"
	OutcomeBlacklisted    Outcome = "blacklisted"
	OutcomeDeclined       Outcome = "previously_declined"
	OutcomeResumed        Outcome = "resumed"
	OutcomeStarted        Outcome = "started"
	OutcomeClosedDM       Outcome = "closed_dm"
	OutcomeFailed         Outcome = "failed"
)

// FindApplicantTag returns the line that follows the marker line. An empty
// marker matches any of DefaultTagMarkers.
func FindApplicantTag(lines []string, marker string) (string, bool) {
	for i, line := range lines {
		if !matchesMarker(line, marker) {
			continue
		}
		if i+1 < len(lines) {
			tag := strings.TrimSpace(lines[i+1])
			return tag, tag != ""
		}
		return "", false
	}

	return "", false
}

// ContainsMarker reports whether any line carries the tag marker.
func ContainsMarker(lines []string, marker string) bool {
	for _, line := range lines {
		if matchesMarker(line, marker) {
			return true
		}
	}
	return false
}

func matchesMarker(line, marker string) bool {
	line = strings.ToLower(line)

	marker = strings.ToLower(strings.TrimSpace(marker))
	if marker != "" {
		return strings.Contains(line, marker)
	}
	for _, m := range DefaultTagMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// ParseUserTag extracts a user ID from a mention (<@id> or <@!id>) or a bare ID.
func ParseUserTag(tag string) (chat.UserID, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	if m := mentionPattern.FindStringSubmatch(tag); m != nil {
		return chat.UserID(m[1]), true
	}
	for _, r := range tag {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return chat.UserID(tag), true
}

// HandleApplication reacts to an application post: it resolves the applicant,
// runs the membership pre-checks and starts or resumes the intake.
func (s *Service) HandleApplication(ctx context.Context, app Application, marker string) Outcome {
	log := s.logger.With(zap.String("application", string(app.Ref)))

	tag, ok := FindApplicantTag(app.Lines, marker)
	if !ok {
		log.Warn("applicant tag not found in application")
		return OutcomeNoTag
	}

	member, err := s.lookup(ctx, tag)
	if err != nil {
		if !errors.Is(err, chat.ErrMemberNotFound) {
			log.Warn("resolving applicant", zap.String("tag", tag), zap.Error(err))
		}
		s.reject(ctx, app.Ref, chat.ReviewPost{
			Source: app.Ref,
			Title:  "❌ " + tag,
			Body: fmt.Sprintf("⚠️ User **%s** was not found on the server.\n"+
				"Application: `%s`\n"+
				"The application stays unchecked.", tag, app.Ref),
			PingReviewers: true,
		})
		return OutcomeMemberNotFound
	}

	log = log.With(zap.String("user_id", string(member.ID)))

	if s.membership != nil && s.membership.IsBlacklisted(member.ID) {
		s.reject(ctx, app.Ref, chat.ReviewPost{
			Source: app.Ref,
			Title:  "❌ " + member.DisplayName,
			Body: fmt.Sprintf("⛔ User %s is blacklisted.\n"+
				"Application: `%s`\n"+
				"The application was declined automatically.", member.Mention, app.Ref),
		})
		s.notify(ctx, member.ID, "🚫 Your application was declined because you are on the family blacklist.\n"+
			"Please do not apply again 🙏")
		log.Info("blacklisted applicant declined")
		return OutcomeBlacklisted
	}

	if s.membership != nil && s.membership.IsPreviouslyDeclined(member.ID) {
		s.reject(ctx, app.Ref, chat.ReviewPost{
			Source: app.Ref,
			Title:  "❌ " + member.DisplayName,
			Body: fmt.Sprintf("⚠️ User %s was already declined before.\n"+
				"Application: `%s`\n"+
				"The application was declined automatically.", member.Mention, app.Ref),
		})
		s.notify(ctx, member.ID, "🚫 Your application was already declined before.\n"+
			"Applying again is not possible 🙏")
		log.Info("previously declined applicant declined")
		return OutcomeDeclined
	}

	if s.Active(member.ID) {
		if err := s.Reprompt(ctx, member.ID); err != nil {
			log.Warn("reminding applicant failed", zap.Error(err))
		}
		return OutcomeResumed
	}

	err = s.Start(ctx, member.ID, app.Ref)
	switch {
	case err == nil:
		return OutcomeStarted
	case errors.Is(err, ErrAlreadyActive):
		return OutcomeResumed
	case errors.Is(err, ErrUnreachable):
		s.reject(ctx, app.Ref, chat.ReviewPost{
			Source: app.Ref,
			Title:  "❌ " + member.DisplayName,
			Body: fmt.Sprintf("⚠️ User %s has closed direct messages. The intake was not started.",
				member.Mention),
			PingReviewers: true,
		})
		log.Info("applicant has closed direct messages")
		return OutcomeClosedDM
	default:
		log.Warn("starting intake failed", zap.Error(err))
		return OutcomeFailed
	}
}

// HandleBacklog processes application posts that were made while the bot was offline.
func (s *Service) HandleBacklog(ctx context.Context, apps []Application, marker string) map[Outcome]int {
	counts := map[Outcome]int{}
	for _, app := range apps {
		counts[s.HandleApplication(ctx, app, marker)]++
	}
	return counts
}

func (s *Service) lookup(ctx context.Context, tag string) (*chat.Member, error) {
	if id, ok := ParseUserTag(tag); ok {
		return s.transport.Member(ctx, id)
	}
	return s.transport.FindMember(ctx, tag)
}

func (s *Service) reject(ctx context.Context, source chat.MessageRef, post chat.ReviewPost) {
	if err := s.transport.MarkSource(ctx, source, "❌"); err != nil {
		s.logger.Warn("marking application failed", zap.String("application", string(source)), zap.Error(err))
	}
	if err := s.transport.PostReview(ctx, post); err != nil {
		s.logger.Warn("posting review thread failed", zap.String("application", string(source)), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, user chat.UserID, text string) {
	if d := s.transport.SendDirect(ctx, user, text); !d.Ok() {
		s.logger.Info("direct message not delivered",
			zap.String("user_id", string(user)),
			zap.Stringer("delivery", d.Status),
			zap.Error(d.Err),
		)
	}
}

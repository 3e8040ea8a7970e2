// Package intake drives a candidate through the questionnaire over direct
// messages and hands finished answer sets to a Finisher.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/alert"
	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/logger"
	"github.com/spigell/hr-intake/internal/progress"
	"github.com/spigell/hr-intake/internal/questionnaire"
)

var (
	// ErrAlreadyActive is returned by Start when the user already has a session.
	ErrAlreadyActive = errors.New("intake: session already active")
	// ErrUnreachable is returned when the user cannot be sent a direct message.
	ErrUnreachable = errors.New("intake: user unreachable")
)

// Completion is a finished intake.
type Completion struct {
	User    chat.UserID
	Answers questionnaire.Answers
	Source  chat.MessageRef
}

// Finisher decides on completed intakes. It is called outside the session
// lock, once per completion.
type Finisher interface {
	Finish(ctx context.Context, c Completion)
}

// Membership answers the pre-checks made before an intake starts.
type Membership interface {
	IsBlacklisted(user chat.UserID) bool
	IsPreviouslyDeclined(user chat.UserID) bool
}

// Deps are the collaborators of a Service.
type Deps struct {
	Tracker    *progress.Tracker
	Catalog    *questionnaire.Catalog
	Resolver   *questionnaire.Resolver
	Transport  chat.Transport
	Membership Membership
	Finisher   Finisher
	Alerts     alert.Notifier
	Logger     *zap.Logger
}

type Service struct {
	tracker    *progress.Tracker
	catalog    *questionnaire.Catalog
	resolver   *questionnaire.Resolver
	transport  chat.Transport
	membership Membership
	finisher   Finisher
	alerts     alert.Notifier
	logger     *zap.Logger
}

func New(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	catalog := deps.Catalog
	if catalog == nil {
		catalog = questionnaire.Default()
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver = questionnaire.NewResolver(questionnaire.DefaultRules...)
	}

	alerts := deps.Alerts
	if alerts == nil {
		alerts = alert.Nop{}
	}

	return &Service{
		tracker:    deps.Tracker,
		catalog:    catalog,
		resolver:   resolver,
		transport:  deps.Transport,
		membership: deps.Membership,
		finisher:   deps.Finisher,
		alerts:     alerts,
		logger:     log,
	}
}

// Active reports whether the user has an unfinished session.
func (s *Service) Active(user chat.UserID) bool {
	_, ok := s.tracker.Get(user)
	return ok
}

// Start opens a session and sends the first question. No session is created
// when the question cannot be delivered.
func (s *Service) Start(ctx context.Context, user chat.UserID, source chat.MessageRef) error {
	log := logger.WithUser(s.logger, string(user), 0)

	var prompt chat.MessageRef
	err := s.tracker.Do(ctx, func(tx *progress.Tx) error {
		if _, ok := tx.Get(user); ok {
			return ErrAlreadyActive
		}

		d := s.transport.SendDirect(ctx, user, s.render(0))
		switch d.Status {
		case chat.Delivered:
		case chat.Unreachable:
			return fmt.Errorf("%w: %v", ErrUnreachable, d.Err)
		default:
			return fmt.Errorf("sending first question: %w", d.Err)
		}

		prompt = d.Ref
		tx.Put(user, &progress.Session{
			Answers:   []string{},
			Index:     0,
			SourceRef: source,
			PromptRef: d.Ref,
		})
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("intake started", zap.String("source", string(source)))
	s.addChoices(ctx, user, 0, prompt)
	return nil
}

// SubmitText records a free-text answer. It is ignored unless the active
// question is a text question. Input to a session whose question was never
// delivered resends that question instead.
func (s *Service) SubmitText(ctx context.Context, user chat.UserID, text string) error {
	text = strings.TrimSpace(text)
	return s.advance(ctx, user, func(_ *progress.Session, q questionnaire.Question) (string, bool) {
		switch q.Kind {
		case questionnaire.KindText:
		case questionnaire.KindChoice:
			return "", false
		}
		if text == "" {
			return "", false
		}
		return text, true
	})
}

// SubmitChoice records a reaction answer. It is ignored unless prompt is the
// active prompt and token is an option of the active choice question.
func (s *Service) SubmitChoice(ctx context.Context, user chat.UserID, prompt chat.MessageRef, token string) error {
	return s.advance(ctx, user, func(sess *progress.Session, q questionnaire.Question) (string, bool) {
		switch q.Kind {
		case questionnaire.KindChoice:
		case questionnaire.KindText:
			return "", false
		}
		if prompt == "" || prompt != sess.PromptRef {
			return "", false
		}
		return q.Label(token)
	})
}

type acceptFunc func(sess *progress.Session, q questionnaire.Question) (string, bool)

// stall is a question that could not be sent after an accepted answer.
type stall struct {
	source   chat.MessageRef
	question int
	delivery chat.Delivery
}

func (s *Service) advance(ctx context.Context, user chat.UserID, accept acceptFunc) error {
	var (
		done      *Completion
		prompt    chat.MessageRef
		nextIndex int
		stalled   *stall
		resume    bool
	)

	err := s.tracker.Do(ctx, func(tx *progress.Tx) error {
		sess, ok := tx.Get(user)
		if !ok {
			return nil
		}

		log := logger.WithUser(s.logger, string(user), sess.Index)

		if s.catalog.IsTerminal(sess.Index) {
			log.Debug("ignoring input for a finalizing session")
			return nil
		}

		// The candidate has not seen the active question.
		if sess.PromptRef == "" {
			log.Debug("input without an active prompt, resending the question")
			resume = true
			return nil
		}

		current := sess.Index
		label, ok := accept(sess, s.catalog.Get(current))
		if !ok {
			log.Debug("ignoring input that does not answer the active question")
			return nil
		}

		sess.Record(current, label)

		next := s.resolver.Next(current, sess.AnswerSet())
		if next <= current {
			log.Warn("resolver did not move forward, advancing by one", zap.Int("next", next))
			next = current + 1
		}
		if next > s.catalog.Count() {
			next = s.catalog.Count()
		}
		sess.Index = next
		sess.PromptRef = ""

		if s.catalog.IsTerminal(next) {
			tx.Put(user, sess)
			done = &Completion{User: user, Answers: sess.AnswerSet(), Source: sess.SourceRef}
			log.Info("intake complete", zap.Int("answers", len(sess.Answers)))
			return nil
		}

		d := s.transport.SendDirect(ctx, user, s.render(next))
		if d.Ok() {
			sess.PromptRef = d.Ref
			prompt = d.Ref
			nextIndex = next
		} else {
			log.Warn("sending next question failed", zap.Int("next", next), zap.Stringer("delivery", d.Status), zap.Error(d.Err))
			stalled = &stall{source: sess.SourceRef, question: next, delivery: d}
		}

		tx.Put(user, sess)
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case done != nil:
		s.finish(ctx, *done)
	case resume:
		if err := s.reprompt(ctx, user, true); err != nil {
			logger.WithUser(s.logger, string(user), -1).Warn("resending the active question failed", zap.Error(err))
		}
	case stalled != nil:
		s.reportStall(ctx, user, *stalled)
	case prompt != "":
		s.addChoices(ctx, user, nextIndex, prompt)
	}
	return nil
}

// reportStall annotates the application post and alerts operators. The
// candidate gets the question again on their next message.
func (s *Service) reportStall(ctx context.Context, user chat.UserID, st stall) {
	log := logger.WithUser(s.logger, string(user), st.question)

	emoji, reason := "⚠️", "the message could not be sent"
	if st.delivery.Status == chat.Unreachable {
		emoji, reason = "🚷", "the user has closed direct messages or left"
	}
	text := fmt.Sprintf("%s Question %d was not delivered to <@%s>: %s. It is sent again on the next message from the user.",
		emoji, st.question+1, user, reason)

	if st.source != "" {
		if err := s.transport.MarkSource(ctx, st.source, emoji); err != nil {
			log.Warn("marking application failed", zap.Error(err))
		}
		if err := s.transport.ReplySource(ctx, st.source, text); err != nil {
			log.Warn("replying on application failed", zap.Error(err))
		}
	}

	if err := s.alerts.Notify(ctx, text); err != nil {
		log.Warn("sending operator alert failed", zap.Error(err))
	}
}

// finish runs the finisher and removes the session whatever happens.
func (s *Service) finish(ctx context.Context, c Completion) {
	defer s.remove(ctx, c.User)

	if s.finisher == nil {
		return
	}
	s.finisher.Finish(ctx, c)
}

func (s *Service) remove(ctx context.Context, user chat.UserID) {
	_ = s.tracker.Do(ctx, func(tx *progress.Tx) error {
		tx.Delete(user)
		return nil
	})
}

// Reprompt resends the active question with a resume notice. The new message
// becomes the active prompt; answers and index stay as they are.
func (s *Service) Reprompt(ctx context.Context, user chat.UserID) error {
	return s.reprompt(ctx, user, false)
}

// reprompt with onlyStalled set does nothing once another call has restored
// the prompt.
func (s *Service) reprompt(ctx context.Context, user chat.UserID, onlyStalled bool) error {
	var (
		prompt chat.MessageRef
		index  int
	)

	err := s.tracker.Do(ctx, func(tx *progress.Tx) error {
		sess, ok := tx.Get(user)
		if !ok || s.catalog.IsTerminal(sess.Index) {
			return nil
		}
		if onlyStalled && sess.PromptRef != "" {
			return nil
		}

		text := fmt.Sprintf("📌 You stopped at question %d. Just answer it below.\n\n%s",
			sess.Index+1, s.render(sess.Index))

		d := s.transport.SendDirect(ctx, user, text)
		switch d.Status {
		case chat.Delivered:
		case chat.Unreachable:
			return fmt.Errorf("%w: %v", ErrUnreachable, d.Err)
		default:
			return fmt.Errorf("sending resume notice: %w", d.Err)
		}

		sess.PromptRef = d.Ref
		prompt = d.Ref
		index = sess.Index
		tx.Put(user, sess)
		return nil
	})
	if err != nil {
		return err
	}

	if prompt != "" {
		logger.WithUser(s.logger, string(user), index).Info("resume notice sent")
		s.addChoices(ctx, user, index, prompt)
	}
	return nil
}

func (s *Service) render(index int) string {
	return s.catalog.Get(index).Render(index, s.catalog.Count())
}

func (s *Service) addChoices(ctx context.Context, user chat.UserID, index int, prompt chat.MessageRef) {
	q := s.catalog.Get(index)
	switch q.Kind {
	case questionnaire.KindChoice:
		if err := s.transport.AddChoices(ctx, user, prompt, q.Tokens()); err != nil {
			logger.WithUser(s.logger, string(user), index).Warn("adding answer reactions failed", zap.Error(err))
		}
	case questionnaire.KindText:
	}
}

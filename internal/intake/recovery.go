package intake

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/logger"
	"github.com/spigell/hr-intake/internal/progress"
)

// RecoveryReport counts what Recover did with the persisted sessions.
type RecoveryReport struct {
	Resumed   int
	Removed   int
	Failed    int
	Finalized int
}

// Recover loads the persisted sessions and resumes each of them: unfinished
// sessions get one resume notice, unreachable users are dropped, and sessions
// left finalizing by a crash are handed to the Finisher.
func (s *Service) Recover(ctx context.Context) RecoveryReport {
	var report RecoveryReport

	loaded := s.tracker.Load(ctx)
	s.logger.Info("progress loaded", zap.Int("sessions", loaded))

	if n := s.canonicalize(ctx); n > 0 {
		s.logger.Info("legacy answer labels migrated", zap.Int("sessions", n))
	}

	snapshot := s.tracker.Snapshot()
	for _, user := range snapshot.Users() {
		sess := snapshot[user]
		log := logger.WithUser(s.logger, string(user), sess.Index)

		if s.catalog.IsTerminal(sess.Index) {
			log.Info("finishing an intake interrupted while finalizing")
			s.finish(ctx, Completion{User: user, Answers: sess.AnswerSet(), Source: sess.SourceRef})
			report.Finalized++
			continue
		}

		err := s.Reprompt(ctx, user)
		switch {
		case err == nil:
			report.Resumed++
		case errors.Is(err, ErrUnreachable):
			log.Info("user unreachable, dropping session", zap.Error(err))
			s.remove(ctx, user)
			report.Removed++
		default:
			log.Warn("resuming session failed, keeping it", zap.Error(err))
			report.Failed++
		}
	}

	s.logger.Info("recovery finished",
		zap.Int("resumed", report.Resumed),
		zap.Int("removed", report.Removed),
		zap.Int("failed", report.Failed),
		zap.Int("finalized", report.Finalized),
	)

	return report
}

// canonicalize rewrites answer labels stored by older deployments so skip
// rules and scoring see the current labels.
func (s *Service) canonicalize(ctx context.Context) int {
	migrated := 0
	err := s.tracker.Do(ctx, func(tx *progress.Tx) error {
		for _, user := range tx.Users() {
			sess, ok := tx.Get(user)
			if !ok {
				continue
			}
			answers, changed := s.catalog.Canonical(sess.AnswerSet())
			if !changed {
				continue
			}
			sess.Answers = answers.Labels
			tx.Put(user, sess)
			migrated++
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("migrating legacy answer labels failed", zap.Error(err))
	}
	return migrated
}

// Sessions returns a copy of the in-flight sessions.
func (s *Service) Sessions() progress.Snapshot {
	return s.tracker.Snapshot()
}

// Drop removes a session without deciding on it.
func (s *Service) Drop(ctx context.Context, user chat.UserID) bool {
	removed := false
	_ = s.tracker.Do(ctx, func(tx *progress.Tx) error {
		if _, ok := tx.Get(user); ok {
			tx.Delete(user)
			removed = true
		}
		return nil
	})
	return removed
}

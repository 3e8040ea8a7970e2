package decision

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/logger"
)

// LogSink writes decision records to the log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{logger: log}
}

func (s *LogSink) Store(_ context.Context, r Record) error {
	s.logger.Info("decision recorded",
		zap.String("decision_id", r.ID),
		zap.String(logger.FieldUser, string(r.User)),
		zap.String(logger.FieldStatus, string(r.Status)),
		zap.Int(logger.FieldScore, r.Score),
		zap.String("reason", r.Reason),
		zap.Strings("answers", r.Answers.Labels),
		zap.Time("decided_at", r.DecidedAt),
	)
	return nil
}

package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldUser is the structured log field key for the candidate's user ID.
	FieldUser = "user_id"
	// FieldQuestion is the structured log field key for a question index.
	FieldQuestion = "question"
	// FieldStatus is the structured log field key for a decision band.
	FieldStatus = "status"
	// FieldScore is the structured log field key for a candidate score.
	FieldScore = "score"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// UserFields describes one step of a candidate's intake. A negative question
// is omitted.
func UserFields(user string, question int) []zap.Field {
	fields := StringFields(StringField{Key: FieldUser, Value: user})
	if question >= 0 {
		fields = append(fields, zap.Int(FieldQuestion, question))
	}
	return fields
}

// WithUser attaches the candidate fields to the logger.
func WithUser(logger *zap.Logger, user string, question int) *zap.Logger {
	return WithFields(logger, UserFields(user, question)...)
}

// CommonFields returns standard zap fields that describe the AI provider and model.
// Empty values are ignored to keep log entries compact when information is missing.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the common AI fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

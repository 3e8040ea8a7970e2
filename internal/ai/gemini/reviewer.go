package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/ai"
	"github.com/spigell/hr-intake/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength     = 200
	maxUserInstructionRunes = 500
	maxConcerns             = 3
)

// Reviewer drafts advisory notes for applications waiting for manual review.
type Reviewer struct {
	generator    contentGenerator
	logger       *zap.Logger
	maxLogLen    int
	instructions string
}

func NewReviewer(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Reviewer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reviewer{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// SetInstructions sets free-form guidance from the operators. It is sanitized
// and can never replace the output schema.
func (r *Reviewer) SetInstructions(text string) {
	r.instructions = text
}

func (r *Reviewer) Review(ctx context.Context, app ai.Application) (*ai.Note, error) {
	if len(app.Answers) == 0 {
		return nil, fmt.Errorf("application has no answers")
	}

	payload, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal application: %w", err)
	}

	system := buildSystemPrompt(r.instructions)
	message := "[Inputs]\n" + string(payload)

	r.logger.Debug("gemini review request",
		zap.String("user_id", app.User),
		zap.Int("prompt_length", utf8.RuneCountInString(system)+utf8.RuneCountInString(message)),
		zap.String("input_preview", utils.TruncateForLog(message, r.maxLogLen)),
	)

	raw, err := r.generator.GenerateContent(ctx, system, message)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("gemini review response",
		zap.String("user_id", app.User),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, r.maxLogLen)),
	)

	note, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	note.Raw = raw
	return note, nil
}

func buildSystemPrompt(instructions string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Summarize the application for a human reviewer.\n{{USER_INSTRUCTIONS}}\n" +
			`Respond with JSON: {"recommendation": "...", "summary": "...", "concerns": []}`
	}
	return strings.ReplaceAll(template, "{{USER_INSTRUCTIONS}}", sanitizeInstructions(instructions))
}

// sanitizeInstructions renders operator guidance as an indented bullet list.
// Square brackets are replaced so the text cannot open a new prompt section.
func sanitizeInstructions(text string) string {
	text = strings.NewReplacer("[", "(", "]", ")", "\r", "").Replace(text)

	runes := []rune(strings.TrimSpace(text))
	if len(runes) > maxUserInstructionRunes {
		runes = runes[:maxUserInstructionRunes]
	}

	var lines []string
	for _, line := range strings.Split(string(runes), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		lines = append(lines, "  - "+line)
	}

	if len(lines) == 0 {
		return "  - none"
	}
	return strings.Join(lines, "\n")
}

func parseResponse(raw string) (*ai.Note, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	note := &ai.Note{
		Recommendation: normalizeRecommendation(coerceString(data["recommendation"])),
		Summary:        coerceString(data["summary"]),
	}

	switch concerns := data["concerns"].(type) {
	case []any:
		for _, c := range concerns {
			if s := coerceString(c); s != "" {
				note.Concerns = append(note.Concerns, s)
			}
		}
	case string:
		if s := strings.TrimSpace(concerns); s != "" {
			note.Concerns = []string{s}
		}
	}
	if len(note.Concerns) > maxConcerns {
		note.Concerns = note.Concerns[:maxConcerns]
	}

	return note, nil
}

func normalizeRecommendation(s string) string {
	switch strings.ToLower(s) {
	case "accept", "accepted", "yes":
		return "accept"
	case "decline", "declined", "reject", "no":
		return "decline"
	default:
		return "unsure"
	}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

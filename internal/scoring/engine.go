package scoring

import (
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/questionnaire"
)

// Status is a decision band.
type Status string

const (
	Accepted      Status = "ACCEPTED"
	Declined      Status = "DECLINED"
	PendingReview Status = "PENDING_REVIEW"
)

// Category ties a rule table category to the question whose answer it weighs.
type Category struct {
	Name     string
	Question int
}

// DefaultCategories are the scored questions of the default catalog.
var DefaultCategories = []Category{
	{Name: "age", Question: questionnaire.QuestionAge},
	{Name: "exp", Question: questionnaire.QuestionExperience},
	{Name: "gov", Question: questionnaire.QuestionGovFaction},
	{Name: "senior", Question: questionnaire.QuestionSenior},
	{Name: "senior_time", Question: questionnaire.QuestionSeniorDuration},
}

// Score sums the weights of the scored answers. Missing table entries and
// unanswered questions contribute 0.
func Score(table *RuleTable, categories []Category, answers questionnaire.Answers) int {
	score := 0
	for _, c := range categories {
		label, ok := answers.For(c.Question)
		if !ok {
			continue
		}
		score += table.Weight(c.Name, label)
	}
	return score
}

// Classify maps a score to a band. Both boundaries are inclusive.
func Classify(score int, t Thresholds) Status {
	switch {
	case score >= t.AcceptAt():
		return Accepted
	case score <= t.DeclineAt():
		return Declined
	default:
		return PendingReview
	}
}

// Result is the outcome of an evaluation.
type Result struct {
	Score  int
	Status Status
	// Err is set when the rule table could not be loaded.
	Err error
}

// Engine evaluates answers against the rule table on disk. The file is read on
// every evaluation so edits apply without a restart.
type Engine struct {
	path       string
	catalog    *questionnaire.Catalog
	categories []Category
	logger     *zap.Logger
}

func NewEngine(path string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		path:       path,
		catalog:    questionnaire.Default(),
		categories: DefaultCategories,
		logger:     logger,
	}
}

// Evaluate scores answers and classifies the score. An unreadable rule table
// sends the candidate to manual review.
func (e *Engine) Evaluate(answers questionnaire.Answers) Result {
	table, err := Load(e.path)
	if err != nil {
		e.logger.Warn("rules unavailable, falling back to manual review", zap.String("path", e.path), zap.Error(err))
		return Result{Status: PendingReview, Err: err}
	}

	table.Canonical(e.catalog, e.categories)
	score := Score(table, e.categories, answers)
	status := Classify(score, table.Thresholds)

	e.logger.Debug("answers scored", zap.Int("score", score), zap.String("status", string(status)))

	return Result{Score: score, Status: status}
}
